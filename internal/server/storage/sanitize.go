package storage

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	maxFilenameLength  = 255
	maxExtensionLength = 16
	fallbackFilename   = "upload"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

var windowsDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename reduces a client-supplied filename to a flat, ASCII-only
// name that is safe to use as a key in the storage root.
func SanitizeFilename(name string) string {
	// Decompose accented characters so their base letter survives the
	// ASCII filter below.
	name = norm.NFKD.String(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}
	name = b.String()

	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")

	name = truncateFilename(name, maxFilenameLength)
	if name == "" {
		name = fallbackFilename
	}

	if isDeviceName(name) {
		name = "_" + truncateFilename(name, maxFilenameLength-1)
	}
	return name
}

// truncateFilename cuts name to at most limit bytes, keeping a short
// extension, and strips the separators the cut may leave at the end.
func truncateFilename(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > maxExtensionLength {
		ext = ""
	}
	return strings.TrimRight(name[:limit-len(ext)]+ext, "._")
}

func isDeviceName(name string) bool {
	stem, _, _ := strings.Cut(name, ".")
	return windowsDeviceNames[strings.ToUpper(stem)]
}

// validName reports whether name is already in sanitized form. Lookups with
// anything else are treated as misses, which also rules out traversal.
func validName(name string) bool {
	return name != "" && SanitizeFilename(name) == name
}
