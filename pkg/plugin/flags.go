package plugin

import "strings"

// Flag is a capability bitmask attached to plugins and roles.
type Flag uint8

// Plugin and role flags.
const (
	FlagNone   Flag = 0
	FlagClient Flag = 1 << (iota - 1)
	FlagSystem
	FlagHidden
	FlagGUI
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagClient, "client"},
	{FlagSystem, "system"},
	{FlagHidden, "hidden"},
	{FlagGUI, "gui"},
}

// ParseFlags converts a pipe-delimited descriptor string such as
// "client|gui" into a Flag. Unknown names are ignored.
func ParseFlags(s string) Flag {
	var f Flag
	for _, part := range strings.Split(s, "|") {
		part = strings.ToLower(strings.TrimSpace(part))
		for _, fn := range flagNames {
			if fn.name == part {
				f |= fn.flag
			}
		}
	}
	return f
}

// String renders the flag set in descriptor form.
func (f Flag) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}
