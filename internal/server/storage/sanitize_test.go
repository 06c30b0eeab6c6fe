package storage

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"keeps simple names", "report.pdf", "report.pdf"},
		{"joins whitespace", "My  cool   movie.mov", "My_cool_movie.mov"},
		{"flattens paths", "../../../etc/passwd", "etc_passwd"},
		{"flattens windows paths", `C:\Windows\system32\x.dll`, "C_Windows_system32_x.dll"},
		{"strips accents", "résumé.txt", "resume.txt"},
		{"drops non-ascii", "日本語.txt", "txt"},
		{"strips special characters", "a<b>c:d|e?.txt", "abcde.txt"},
		{"trims leading dots", "...hidden", "hidden"},
		{"trims trailing underscores", "name__", "name"},
		{"prefixes device names", "con.txt", "_con.txt"},
		{"prefixes bare device names", "LPT1", "_LPT1"},
		{"empty falls back", "", "upload"},
		{"only junk falls back", "???", "upload"},
		{"dots only falls back", "..", "upload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename_Length(t *testing.T) {
	long := strings.Repeat("a", 400) + ".tar"
	got := SanitizeFilename(long)

	if len(got) != maxFilenameLength {
		t.Errorf("expected length %d, got %d", maxFilenameLength, len(got))
	}
	if !strings.HasSuffix(got, ".tar") {
		t.Errorf("expected extension to survive truncation, got %q", got[len(got)-8:])
	}
}

func TestSanitizeFilename_TruncationTrimsSeparators(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"long extension is dropped", "a." + strings.Repeat("b", 252) + "_cccc", "a." + strings.Repeat("b", 252)},
		{"cut lands on a dot", strings.Repeat("y", 254) + "._" + strings.Repeat("z", 20), strings.Repeat("y", 254)},
		{"device name keeps prefix within limit", "con." + strings.Repeat("x", 300), "_con." + strings.Repeat("x", 250)},
		{"cut exposes device name", "CON_" + strings.Repeat("_", 300) + "a", "_CON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilename(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
			if len(got) > maxFilenameLength {
				t.Errorf("expected at most %d bytes, got %d", maxFilenameLength, len(got))
			}
		})
	}
}

func TestSanitizeFilename_Idempotent(t *testing.T) {
	inputs := []string{
		"a b c.txt",
		"../x",
		"résumé final.doc",
		"con",
		strings.Repeat("z", 300),
		"a." + strings.Repeat("b", 252) + "_cccc",
		strings.Repeat("y", 250) + "._._" + strings.Repeat("x", 10),
		"con." + strings.Repeat("x", 300),
		"CON_" + strings.Repeat("_", 300) + "a",
	}
	for _, in := range inputs {
		once := SanitizeFilename(in)
		if twice := SanitizeFilename(once); twice != once {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
		if !validName(once) {
			t.Errorf("sanitized name %q should be valid", once)
		}
	}
}
