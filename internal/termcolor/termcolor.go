// Package termcolor gives revtunctl and the daemon startup banners a terse
// colored-status idiom (Yellow/Red/Cyan/Green helpers around connection and
// pairing state), built on fatih/color instead of hand-rolled ANSI codes.
package termcolor

import "github.com/fatih/color"

var (
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
)

func Yellow(s string) string { return yellow(s) }
func Red(s string) string    { return red(s) }
func Cyan(s string) string   { return cyan(s) }
func Green(s string) string  { return green(s) }
