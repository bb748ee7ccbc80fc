// Package mapping reads the user-edited list of remote assets and where each
// one is cached in the repository.
//
// The file is a JSON array of {"url": ..., "out": ...} objects. A file that is
// missing, unreadable, not JSON, or not an array is a setup error and stops the
// run. A single malformed element is not: it is returned as an Entry whose
// Validate reports the problem, so the caller can skip it and carry on.
package mapping

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/keithlinneman/linnemanlabs-profile/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

// ErrNotArray is returned when the document parses but is not a JSON array.
var ErrNotArray = errors.New("mapping must be a JSON array")

// Entry is one (source URL, destination path) pair.
type Entry struct {
	URL string `json:"url"`
	Out string `json:"out"`

	// Index is the element's position in the file, for log messages
	Index int `json:"-"`

	decodeErr error
}

func (e Entry) String() string {
	return fmt.Sprintf("#%d %s -> %s", e.Index, e.URL, e.Out)
}

// Validate reports why an entry cannot be processed. The error is tagged
// KindEntry.
func (e Entry) Validate() error {
	if e.decodeErr != nil {
		return xerrors.Tag(e.decodeErr, xerrors.KindEntry)
	}
	if strings.TrimSpace(e.URL) == "" {
		return xerrors.Tag(xerrors.Newf("entry %d: url is empty", e.Index), xerrors.KindEntry)
	}
	if strings.TrimSpace(e.Out) == "" {
		return xerrors.Tag(xerrors.Newf("entry %d: out is empty", e.Index), xerrors.KindEntry)
	}
	u, err := url.Parse(strings.TrimSpace(e.URL))
	if err != nil {
		return xerrors.Tag(xerrors.Wrapf(err, "entry %d: parse url", e.Index), xerrors.KindEntry)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return xerrors.Tag(xerrors.Newf("entry %d: url %q must be absolute http(s)", e.Index, e.URL), xerrors.KindEntry)
	}
	if err := pathutil.CheckRelative(strings.TrimSpace(e.Out)); err != nil {
		return xerrors.Tag(xerrors.Wrapf(err, "entry %d: out", e.Index), xerrors.KindEntry)
	}
	return nil
}

// Normalized returns the entry with surrounding whitespace removed and
// backslashes in Out turned into forward slashes.
func (e Entry) Normalized() Entry {
	e.URL = strings.TrimSpace(e.URL)
	e.Out = strings.ReplaceAll(strings.TrimSpace(e.Out), `\`, "/")
	return e
}

// Load reads and parses the mapping file at path. Errors are tagged
// KindSetup.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, xerrors.Tag(xerrors.Wrapf(err, "mapping file %s not found", path), xerrors.KindSetup)
		}
		return nil, xerrors.Tag(xerrors.Wrapf(err, "open mapping file %s", path), xerrors.KindSetup)
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, xerrors.Tag(xerrors.Wrapf(err, "parse mapping file %s", path), xerrors.KindSetup)
	}
	return entries, nil
}

// Parse decodes a mapping document from r.
func Parse(r io.Reader) ([]Entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Wrap(err, "read mapping")
	}
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return nil, xerrors.New("mapping is empty")
	}

	if bytes.Equal(trimmed, []byte("null")) {
		return nil, xerrors.WithStack(ErrNotArray)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && trimmed[0] != '[' {
			return nil, xerrors.WithStack(ErrNotArray)
		}
		return nil, xerrors.Wrap(err, "decode mapping")
	}

	entries := make([]Entry, 0, len(raw))
	for i, msg := range raw {
		e := Entry{Index: i}
		if err := decodeEntry(msg, &e); err != nil {
			e.decodeErr = xerrors.Wrapf(err, "entry %d", i)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeEntry(msg json.RawMessage, e *Entry) error {
	if t := bytes.TrimSpace(msg); len(t) == 0 || t[0] != '{' {
		return xerrors.Newf("expected an object, got %s", abbreviate(t))
	}
	return json.Unmarshal(msg, e)
}

func abbreviate(b []byte) string {
	const max = 32
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
