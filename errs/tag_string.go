//go:build !sanskrit_uniterrors

package errs

import "fmt"

func tagText(s string) string { return s }

func tagTextf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
