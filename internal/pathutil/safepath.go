// Package pathutil validates repository-relative destination paths taken
// from the mapping file before anything is written to disk.
package pathutil

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.FieldsFunc(p, isSep) {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func isSep(r rune) bool { return r == '/' || r == '\\' }

// CheckRelative rejects empty, absolute, and dot-segment paths. Mapping
// outputs must stay inside the repository.
func CheckRelative(p string) error {
	switch {
	case strings.TrimSpace(p) == "":
		return xerrors.New("empty path")
	case path.IsAbs(p) || filepath.IsAbs(p) || strings.HasPrefix(p, `\`):
		return xerrors.Newf("path %q is absolute", p)
	case filepath.VolumeName(p) != "":
		return xerrors.Newf("path %q has a volume name", p)
	case HasDotSegments(p):
		return xerrors.Newf("path %q has dot segments", p)
	case strings.HasSuffix(p, "/"):
		return xerrors.Newf("path %q names a directory", p)
	}
	return nil
}

// Join places rel under root after CheckRelative and returns the OS path.
func Join(root, rel string) (string, error) {
	if err := CheckRelative(rel); err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}
