package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Records is an in-memory Source.
type Records []Record

// Devices returns a copy of the records.
func (r Records) Devices(context.Context) ([]Record, error) {
	out := make([]Record, len(r))
	copy(out, r)
	return out, nil
}

func (r Records) String() string {
	return "inline"
}

// FileSource reads devices from a YAML file of the form:
//
//	devices:
//	  - id: 1
//	    name: roof-gps
//	    kind: gps
//	    priority: 100
//	    params:
//	      path: /dev/ttyUSB0
type FileSource struct {
	Path string
}

type fileDocument struct {
	Devices []Record `yaml:"devices"`
}

// Devices decodes the file. Unknown keys are rejected as ErrConfig.
func (s FileSource) Devices(context.Context) ([]Record, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading device file: %w", err)
	}
	return decodeYAML(data)
}

func (s FileSource) String() string {
	return "file:" + s.Path
}

func decodeYAML(data []byte) ([]Record, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc fileDocument
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return doc.Devices, nil
}
