package filetree

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"appforge/internal/domain"
)

var ErrMalformedCode = errors.New("malformed generated code")

// Encode serializes files in the layout stored in Project.generatedCode.
func Encode(files []domain.CodeFile) (string, error) {
	if files == nil {
		files = []domain.CodeFile{}
	}
	data, err := json.Marshal(files)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a generatedCode payload. Every path must be usable; repeats
// collapse the same way Dedupe does.
func Decode(code string) ([]domain.CodeFile, error) {
	var files []domain.CodeFile
	if err := json.Unmarshal([]byte(code), &files); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCode, err)
	}
	for _, f := range files {
		if _, err := NormalizePath(f.Path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCode, err)
		}
	}
	return Dedupe(files), nil
}

// Bundle concatenates files into one text download, each preceded by a path comment.
func Bundle(files []domain.CodeFile) string {
	parts := make([]string, 0, len(files))
	for _, f := range files {
		parts = append(parts, "// "+f.Path+"\n"+f.Content+"\n\n")
	}
	return strings.Join(parts, "\n")
}
