package publish

import (
	"bytes"
	"encoding/json"

	"github.com/keithlinneman/linnemanlabs-profile/internal/xerrors"
)

const ManifestVersion = 1

// Manifest lists the published assets. It carries no timestamps or run ids
// so identical asset sets produce identical bytes and digests.
type Manifest struct {
	Version int             `json:"version"`
	Assets  []ManifestAsset `json:"assets"`
}

type ManifestAsset struct {
	Path        string `json:"path"`
	SHA256      string `json:"sha256"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

func (m Manifest) Marshal() ([]byte, error) {
	if m.Assets == nil {
		m.Assets = []ManifestAsset{}
	}
	b, err := marshalStable(m)
	if err != nil {
		return nil, xerrors.Wrap(err, "encode manifest")
	}
	return b, nil
}

func marshalStable(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
