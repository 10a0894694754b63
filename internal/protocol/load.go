package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"pipettor/internal/labware"
)

// Format is a protocol file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// ErrUnsupportedFormat reports a protocol file with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported protocol format")

// FormatFromPath picks the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Load reads, normalizes and validates the protocol at path.
func Load(path string) (*Definition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol: %w", err)
	}
	def, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.Path = path
	return def, nil
}

// Parse decodes a protocol and validates it. Unknown keys are rejected.
func Parse(data []byte, format Format) (*Definition, error) {
	var def Definition
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("parse protocol: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("parse protocol: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	def.normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) normalize() {
	d.Name = strings.TrimSpace(d.Name)
	d.Columns = upperWells(d.Columns)
	for i := range d.Reagents {
		d.Reagents[i].Name = strings.TrimSpace(d.Reagents[i].Name)
		d.Reagents[i].Wells = upperWells(d.Reagents[i].Wells)
	}
	for i := range d.Steps {
		d.Steps[i].Kind = StepKind(strings.ToLower(strings.TrimSpace(string(d.Steps[i].Kind))))
		d.Steps[i].Columns = upperWells(d.Steps[i].Columns)
	}
}

func upperWells(wells []string) []string {
	if len(wells) == 0 {
		return wells
	}
	out := make([]string, len(wells))
	for i, w := range wells {
		out[i] = labware.At("", w).Well
	}
	return out
}
