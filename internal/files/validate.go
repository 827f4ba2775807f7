package files

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// MaxFileSize is the per-file upload cap.
	MaxFileSize = 10 * 1024 * 1024
	// MaxFilesPerRequest caps how many files one chat request may attach.
	MaxFilesPerRequest = 50
)

// Only source-code, text and config files are accepted; everything an LLM can
// read as text and nothing else.
var allowedExtensions = map[string]struct{}{
	".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {},
	".py": {}, ".java": {}, ".cpp": {}, ".c": {}, ".h": {},
	".css": {}, ".html": {}, ".json": {}, ".xml": {},
	".md": {}, ".txt": {}, ".yml": {}, ".yaml": {},
	".go": {}, ".rs": {}, ".php": {}, ".rb": {},
	".swift": {}, ".kt": {}, ".sql": {}, ".sh": {}, ".env": {},
}

// ValidateUpload gates a file before anything is written: extension
// allow-list and size cap. A nil error means the file may be uploaded.
func ValidateUpload(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return fmt.Errorf("file %q has no extension", filename)
	}
	if _, ok := allowedExtensions[ext]; !ok {
		return fmt.Errorf("file type %s is not supported", ext)
	}
	if size > MaxFileSize {
		return fmt.Errorf("file %q exceeds the %d MB limit", filename, MaxFileSize/(1024*1024))
	}
	return nil
}
