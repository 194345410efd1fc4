package schema

import (
	"bytes"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const fileHeader = "# Schema snapshot written by waypoint. Edit at your own risk.\n"

// Encode renders the snapshot as a YAML document suitable for checking into
// version control. The snapshot is sorted first so encode output is stable.
func Encode(s *Snapshot) ([]byte, error) {
	s.Sort()
	if s.Format == "" {
		s.Format = Format
	}

	var buf bytes.Buffer
	buf.WriteString(fileHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, errors.Wrap(err, "encoding snapshot")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encoding snapshot")
	}
	return buf.Bytes(), nil
}

// Decode parses a snapshot document produced by Encode. Documents written by
// a newer, incompatible waypoint are rejected by their format marker.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "decoding snapshot")
	}
	if s.Format != Format {
		return nil, errors.Errorf("unsupported snapshot format %q: expected %q", s.Format, Format)
	}
	s.Sort()
	return &s, nil
}
