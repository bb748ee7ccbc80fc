package assetsync

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/keithlinneman/linnemanlabs-profile/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

const (
	fileMode = 0o644
	dirMode  = 0o755
)

// writeIfChanged stores body at rel under root unless the file already holds
// exactly those bytes. The replacement is atomic: readers see either the old
// file or the new one.
func writeIfChanged(root, rel string, body []byte) (bool, error) {
	full, err := pathutil.Join(root, rel)
	if err != nil {
		return false, xerrors.Tag(xerrors.Wrapf(err, "destination %s", rel), xerrors.KindEntry)
	}

	existing, err := os.ReadFile(full)
	switch {
	case err == nil:
		if bytes.Equal(existing, body) {
			return false, nil
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return false, xerrors.Tag(xerrors.Wrapf(err, "read existing %s", rel), xerrors.KindEntry)
	}

	if err := writeAtomic(full, body); err != nil {
		return false, xerrors.Tag(xerrors.Wrapf(err, "write %s", rel), xerrors.KindEntry)
	}
	return true, nil
}

func writeAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}

	// temp file lives next to the target so the rename stays on one filesystem
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, fileMode); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
