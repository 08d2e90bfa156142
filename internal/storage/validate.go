package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrEmptyFile           = errors.New("file is empty")
	ErrFileTooLarge        = errors.New("file too large")
	ErrExtensionNotAllowed = errors.New("file type not allowed")
	ErrContentMismatch     = errors.New("file content does not match its extension")
)

// SniffLen is how many leading bytes ValidateUpload needs.
const SniffLen = 3072

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._ -]+`)

// SanitizeFilename strips directories and unsafe characters from a client
// supplied name.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")
	if len(name) > 255 {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		cut := 255 - len(ext)
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut] + ext
	}
	if name == "" {
		return "file"
	}
	return name
}

var extAliases = map[string]string{
	".jpeg": ".jpg",
	".tif":  ".tiff",
	".htm":  ".html",
}

// Text formats have no signature; anything detected as text qualifies.
var textExts = map[string]bool{
	".txt": true, ".csv": true, ".md": true, ".json": true, ".xml": true, ".log": true,
}

// Formats that are sniffed as their container.
var containerExts = map[string][]string{
	"application/zip":           {".zip", ".docx", ".xlsx", ".pptx"},
	"application/x-ole-storage": {".doc", ".xls", ".ppt"},
}

// ValidateUpload checks size, extension and sniffed content of an upload
// and returns the detected content type. head is the first SniffLen bytes.
func ValidateUpload(name string, size, maxSize int64, head []byte, allowed []string) (string, error) {
	if size <= 0 || len(head) == 0 {
		return "", ErrEmptyFile
	}
	if maxSize > 0 && size > maxSize {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, size, maxSize)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !extAllowed(ext, allowed) {
		return "", fmt.Errorf("%w: %q", ErrExtensionNotAllowed, ext)
	}

	detected := mimetype.Detect(head)
	if !contentMatches(detected, ext) {
		return "", fmt.Errorf("%w: %s detected for %s", ErrContentMismatch, detected.String(), ext)
	}
	return detected.String(), nil
}

func extAllowed(ext string, allowed []string) bool {
	if ext == "" {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(strings.TrimSpace(a), "."), strings.TrimPrefix(ext, ".")) {
			return true
		}
	}
	return false
}

func contentMatches(detected *mimetype.MIME, ext string) bool {
	want := ext
	if alias, ok := extAliases[ext]; ok {
		want = alias
	}
	for m := detected; m != nil; m = m.Parent() {
		if m.Extension() == want {
			return true
		}
		if m.Is("text/plain") && textExts[ext] {
			return true
		}
		for _, e := range containerExts[m.String()] {
			if e == ext {
				return true
			}
		}
	}
	return false
}
