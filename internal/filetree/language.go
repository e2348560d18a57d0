package filetree

import (
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"appforge/internal/domain"
)

var languageByExt = map[string]string{
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".vue":  "vue",
	".json": "json",
	".html": "html",
	".css":  "css",
	".scss": "scss",
	".sass": "sass",
	".py":   "python",
	".java": "java",
	".cpp":  "cpp",
	".go":   "go",
	".md":   "markdown",
	".yml":  "yaml",
	".yaml": "yaml",
	".sql":  "sql",
	".sh":   "shell",
	".txt":  "plaintext",
	".toml": "toml",
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".webp": true}

// Language guesses the editor language from the file extension.
func Language(p string) string {
	if lang, ok := languageByExt[strings.ToLower(path.Ext(p))]; ok {
		return lang
	}
	return "plaintext"
}

// Badge is a short marker for listing a node, empty when nothing fits.
func Badge(n domain.FileNode) string {
	if n.Type == domain.NodeFolder {
		return ""
	}
	ext := strings.ToLower(path.Ext(n.Name))
	lang := strings.ToLower(n.Language)
	switch {
	case lang == "typescript" || ext == ".ts" || ext == ".tsx":
		return "TS"
	case lang == "javascript" || ext == ".js" || ext == ".jsx":
		return "JS"
	case ext == ".html":
		return "H"
	case ext == ".css" || ext == ".scss" || ext == ".sass":
		return "C"
	case ext == ".json":
		return "{}"
	case ext == ".md":
		return "MD"
	case imageExts[ext]:
		return "IMG"
	case ext == ".config" || strings.Contains(n.Name, "config"):
		return "CFG"
	}
	return ""
}

// FormatSize renders a byte count with binary units.
func FormatSize(n int) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
