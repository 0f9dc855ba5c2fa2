// Package vm interprets compiled descriptors.
//
// The interpreter keeps one operand stack and one frame stack. Every entered
// block (function bodies, Let, Switch branches, Try bodies and handlers) is
// a frame whose base is the stack height it was entered at; Return
// truncates to the base and pushes the returned values. Values are
// addressed relative to the top of the operand stack.
//
// Gas is charged before each operation. A Try frame records the stack
// height and the arena marks when it is entered; a matching Rollback or
// runtime error restores both and runs the handler with the error identity
// on top. Gas exhaustion and arena exhaustion are never caught.
package vm
