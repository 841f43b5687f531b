package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

type Format string

const (
	FormatJSON        Format = "json"
	FormatYAML        Format = "yaml"
	FormatTOML        Format = "toml"
	FormatXML         Format = "xml"
	FormatCSV         Format = "csv"
	FormatINI         Format = "ini"
	FormatSafetensors Format = "safetensors"
	FormatPyTorch     Format = "pytorch"
	FormatNumPy       Format = "numpy"
	FormatNPZ         Format = "npz"
	FormatMATLAB      Format = "matlab"
)

// Kind groups formats by what they carry.
type Kind string

const (
	KindStructured Kind = "structured"
	KindTensor     Kind = "tensor"
)

var ErrUnknownFormat = errors.New("unknown file format")

var extensions = map[string]Format{
	".json":        FormatJSON,
	".yaml":        FormatYAML,
	".yml":         FormatYAML,
	".toml":        FormatTOML,
	".xml":         FormatXML,
	".csv":         FormatCSV,
	".ini":         FormatINI,
	".cfg":         FormatINI,
	".safetensors": FormatSafetensors,
	".pt":          FormatPyTorch,
	".pth":         FormatPyTorch,
	".npy":         FormatNumPy,
	".npz":         FormatNPZ,
	".mat":         FormatMATLAB,
}

// AllFormats lists every supported format, structured formats first.
var AllFormats = []Format{
	FormatJSON, FormatYAML, FormatTOML, FormatXML, FormatCSV, FormatINI,
	FormatSafetensors, FormatPyTorch, FormatNumPy, FormatNPZ, FormatMATLAB,
}

// DetectFormat infers the format from the file extension.
func DetectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := extensions[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// ParseFormat validates a user-supplied format name.
func ParseFormat(name string) (Format, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "yml":
		return FormatYAML, nil
	case "pt", "pth", "torch":
		return FormatPyTorch, nil
	case "npy":
		return FormatNumPy, nil
	case "mat":
		return FormatMATLAB, nil
	}
	for _, f := range AllFormats {
		if string(f) == n {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

func (f Format) Kind() Kind {
	switch f {
	case FormatSafetensors, FormatPyTorch, FormatNumPy, FormatNPZ, FormatMATLAB:
		return KindTensor
	}
	return KindStructured
}

// ParseError means a file could not be decoded as the given format. It is
// fatal for the comparison that needed the file.
type ParseError struct {
	Path   string
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not read file %s as format %s: %v", e.Path, e.Format, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
