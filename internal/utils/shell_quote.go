package utils

import "strings"

// ShellQuote quotes s for a POSIX shell. Strings made only of safe characters are
// returned as is; anything else is single-quoted, and an embedded single quote is
// written by closing the quoted string, adding an escaped quote and reopening it.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}

	unsafe := strings.IndexFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		}
		switch r {
		case '-', '_', '.', '/', '@', ':', ',', '+', '=', '~':
			return false
		}
		return true
	})
	if unsafe == -1 {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
