//go:build sanskrit_uniterrors

package errs

func tagText(string) string { return "" }

func tagTextf(string, ...any) string { return "" }
