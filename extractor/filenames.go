package extractor

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// FileNamer hands out artifact filenames that are unique within one run.
// Uniqueness is per stem, so a TIFF and its PNG sibling never clash with another row.
type FileNamer struct {
	mu    sync.Mutex
	stems map[string]struct{}
}

// NewFileNamer creates an empty registry.
func NewFileNamer() *FileNamer {
	return &FileNamer{stems: map[string]struct{}{}}
}

// Stem returns the base name for a row: {documentType}_{instrument}_{rowIndex}.
func Stem(docType, instrument string, rowIndex int) string {
	docType = strings.TrimSpace(strings.ReplaceAll(docType, "/", "-"))
	docType = strings.Map(func(r rune) rune {
		if r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' || unicode.IsControl(r) {
			return -1
		}
		return r
	}, docType)
	if docType == "" {
		docType = "UNKNOWN"
	}
	instrument = SanitizeInstrument(instrument)
	if instrument == "" {
		instrument = "NA"
	}
	return fmt.Sprintf("%s_%s_%d", docType, instrument, rowIndex)
}

// SanitizeInstrument keeps letters, digits and dashes; slashes become dashes.
func SanitizeInstrument(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "/", "-")
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Reserve claims a unique stem, appending _1, _2, ... on collision. Stems are
// compared case-insensitively and returned in the caller's casing.
func (f *FileNamer) Reserve(stem string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	candidate := stem
	for n := 1; ; n++ {
		key := strings.ToLower(candidate)
		if _, taken := f.stems[key]; !taken {
			f.stems[key] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d", stem, n)
	}
}
