package dirbacking

import (
	"fmt"
	"path/filepath"
	"strings"
)

var shortenPunct = strings.NewReplacer(
	"<", " ", ">", " ", ".", " ", ",", " ", ";", " ", ":", " ", "=", " ",
	"?", " ", "*", " ", "[", " ", "]", " ", "%", " ", "|", " ", "(", " ",
	")", " ", "/", " ", "\\", " ", "_", " ",
)

// Shorten maps a native filename to an 8.3 CP/M-legal short name, mutating
// names in place so later calls in the same directory see prior renames
// when checking for collisions. names must contain name at the index being
// processed.
//
// Collision resolution walks the hex tail digits ~1.."~F"; ok is false when
// the 16th collision on one stem is reached (a ~F-suffixed name still
// collides), matching the glossary's "fail at ~F+1" rule. The returned
// name is still the best attempt made; callers report the failure and
// leave the file under its prior name rather than risk silently
// overwriting another file's slot.
func Shorten(name string, names []string) (short string, ok bool) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	file := strings.ReplaceAll(shortenPunct.Replace(strings.ToUpper(base)), " ", "")
	var extOut string
	if len(ext) > 0 {
		extOut = "." + strings.ReplaceAll(shortenPunct.Replace(strings.ToUpper(ext[1:])), " ", "")
	} else {
		extOut = "."
	}
	if len(extOut) > 4 {
		extOut = extOut[:4]
	}

	stem := file
	tail := 0
	if len(stem) > 8 {
		tail = 1
		stem = fmt.Sprintf("%.6s~%X", file, tail)
	}

	short = stem + extOut

	for containsString(names, short) && short != name && tail < 15 {
		if tail == 0 {
			// Collisions can also arise without truncation, when two native
			// names differ only in stripped punctuation; start the same hex
			// tail a truncation would have.
			tail = 1
			stem = fmt.Sprintf("%.6s~%X", file, tail)
			short = stem + extOut
			continue
		}
		tail++
		short = fmt.Sprintf("%.7s%X%s", stem, tail, extOut)
	}
	ok = short == name || !containsString(names, short)

	if short != name {
		if idx := indexOfString(names, name); idx >= 0 {
			names[idx] = short
		}
	}
	return short, ok
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func indexOfString(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
