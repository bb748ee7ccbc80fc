package filetype

import (
	"bytes"
)

// svgWindow bounds how far into the payload we look for an <svg tag
const svgWindow = 512

type signature struct {
	ext   string
	match func([]byte) bool
}

var signatures = []signature{
	{"png", prefix("\x89PNG\r\n\x1a\n")},
	{"jpg", prefix("\xff\xd8\xff")},
	{"gif", func(b []byte) bool { return bytes.HasPrefix(b, []byte("GIF87a")) || bytes.HasPrefix(b, []byte("GIF89a")) }},
	{"webp", func(b []byte) bool { return len(b) >= 12 && string(b[:4]) == "RIFF" && string(b[8:12]) == "WEBP" }},
	{"ico", prefix("\x00\x00\x01\x00")},
	{"svg", isSVG},
}

func prefix(sig string) func([]byte) bool {
	return func(b []byte) bool { return bytes.HasPrefix(b, []byte(sig)) }
}

// Sniff identifies body from its leading bytes.
func Sniff(body []byte) (string, bool) {
	for _, s := range signatures {
		if s.match(body) {
			return s.ext, true
		}
	}
	return "", false
}

// isSVG accepts an <svg root preceded only by a BOM, whitespace, an XML
// prolog, a doctype, or comments.
func isSVG(body []byte) bool {
	b := body
	if len(b) > svgWindow {
		b = b[:svgWindow]
	}
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	for {
		b = bytes.TrimLeft(b, " \t\r\n")
		switch {
		case hasPrefixFold(b, "<svg"):
			rest := b[len("<svg"):]
			return len(rest) == 0 || rest[0] == '>' || rest[0] == '/' || isSpace(rest[0])
		case bytes.HasPrefix(b, []byte("<?")):
			b = skipPast(b, "?>")
		case bytes.HasPrefix(b, []byte("<!--")):
			b = skipPast(b, "-->")
		case hasPrefixFold(b, "<!doctype"):
			b = skipPast(b, ">")
		default:
			return false
		}
		if b == nil {
			return false
		}
	}
}

func skipPast(b []byte, end string) []byte {
	i := bytes.Index(b, []byte(end))
	if i < 0 {
		return nil
	}
	return b[i+len(end):]
}

func hasPrefixFold(b []byte, p string) bool {
	return len(b) >= len(p) && bytes.EqualFold(b[:len(p)], []byte(p))
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\r' || c == '\n' }
