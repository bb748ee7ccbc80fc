// Package filetype decides which file extension a fetched asset is stored
// under. The order is fixed: an extension the user wrote in the mapping, then
// the Content-Type the server declared, then the payload's leading bytes, then
// a generic binary fallback. Resolution never fails.
package filetype

import (
	"mime"
	"path"
	"strings"
)

// Fallback is used when nothing else identifies the payload.
const Fallback = "bin"

// Source records which rule produced an extension.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceDeclared Source = "declared"
	SourceSniffed  Source = "sniffed"
	SourceFallback Source = "fallback"
)

var declaredTypes = map[string]string{
	"image/svg+xml":            "svg",
	"image/png":                "png",
	"image/jpeg":               "jpg",
	"image/jpg":                "jpg",
	"image/pjpeg":              "jpg",
	"image/webp":               "webp",
	"image/gif":                "gif",
	"image/x-icon":             "ico",
	"image/vnd.microsoft.icon": "ico",
	"text/plain":               "txt",
	"application/json":         "json",
}

var contentTypes = map[string]string{
	"svg":  "image/svg+xml",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"webp": "image/webp",
	"gif":  "image/gif",
	"ico":  "image/x-icon",
	"txt":  "text/plain; charset=utf-8",
	"json": "application/json",
	"bin":  "application/octet-stream",
}

// Resolution is the outcome of resolving one mapping output.
type Resolution struct {
	// Path is the final repository-relative destination
	Path   string
	Ext    string
	Source Source
}

// Resolve picks the destination for out given the response metadata.
func Resolve(out, declaredType string, body []byte) Resolution {
	if ext, ok := ExplicitExt(out); ok {
		return Resolution{Path: out, Ext: ext, Source: SourceExplicit}
	}
	if ext, ok := FromDeclared(declaredType); ok {
		return Resolution{Path: out + "." + ext, Ext: ext, Source: SourceDeclared}
	}
	if ext, ok := Sniff(body); ok {
		return Resolution{Path: out + "." + ext, Ext: ext, Source: SourceSniffed}
	}
	return Resolution{Path: out + "." + Fallback, Ext: Fallback, Source: SourceFallback}
}

// ExplicitExt reports the extension already present on out's final element:
// a dot followed by 1..5 ASCII letters or digits. Dotfiles like ".nojekyll"
// do not count.
func ExplicitExt(out string) (string, bool) {
	base := path.Base(strings.ReplaceAll(out, `\`, "/"))
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return "", false
	}
	ext := base[i+1:]
	if len(ext) < 1 || len(ext) > 5 {
		return "", false
	}
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", false
		}
	}
	return strings.ToLower(ext), true
}

// FromDeclared maps a Content-Type header value through the fixed table.
func FromDeclared(declaredType string) (string, bool) {
	if strings.TrimSpace(declaredType) == "" {
		return "", false
	}
	mt, _, err := mime.ParseMediaType(declaredType)
	if err != nil {
		// tolerate junk parameters, the media type itself is what matters
		mt, _, _ = strings.Cut(declaredType, ";")
	}
	ext, ok := declaredTypes[strings.ToLower(strings.TrimSpace(mt))]
	return ext, ok
}

// ContentType is the canonical media type stored alongside an extension when
// assets are mirrored elsewhere.
func ContentType(ext string) string {
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return contentTypes[Fallback]
}
