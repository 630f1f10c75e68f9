// Package cli provides shared formatting helpers for the newtslice CLI.
package cli

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// colorEnabled is true when stdout is a terminal and NO_COLOR is unset
// (per no-color.org).
var colorEnabled = os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))

// SetColor forces colour output on or off.
func SetColor(enabled bool) {
	colorEnabled = enabled
}

// ColorEnabled reports whether the colour helpers emit ANSI codes.
func ColorEnabled() bool {
	return colorEnabled
}

func wrap(code, s string) string {
	if !colorEnabled {
		return s
	}
	return code + s + "\033[0m"
}

// Green wraps s in ANSI green.
func Green(s string) string { return wrap("\033[32m", s) }

// Yellow wraps s in ANSI yellow.
func Yellow(s string) string { return wrap("\033[33m", s) }

// Red wraps s in ANSI red.
func Red(s string) string { return wrap("\033[31m", s) }

// Bold wraps s in ANSI bold.
func Bold(s string) string { return wrap("\033[1m", s) }

// Dim wraps s in ANSI dim.
func Dim(s string) string { return wrap("\033[2m", s) }

// Verdict colours a decision verdict: drops red, floods yellow, the rest
// green.
func Verdict(v string) string {
	switch v {
	case "drop":
		return Red(v)
	case "flood":
		return Yellow(v)
	default:
		return Green(v)
	}
}

// DotPad pads name with dots to the given width.
// Example: DotPad("s1", 10) → "s1 ......."
func DotPad(name string, width int) string {
	if width <= 0 || len(name) >= width-1 {
		return name
	}
	dots := width - len(name) - 1
	return name + " " + strings.Repeat(".", dots)
}
