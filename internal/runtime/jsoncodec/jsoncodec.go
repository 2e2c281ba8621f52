package jsoncodec

import (
	"errors"
	"io"

	"github.com/bytedance/sonic"
)

var (
	defaultConfig = sonic.ConfigStd
	strictConfig  = sonic.Config{
		EscapeHTML:            true,
		SortMapKeys:           true,
		CompactMarshaler:      true,
		CopyString:            true,
		ValidateString:        true,
		DisallowUnknownFields: true,
	}.Froze()
)

// ErrInvalidJSON is returned by UnmarshalStrict for syntactically invalid
// input, including trailing data after the first value.
var ErrInvalidJSON = errors.New("invalid JSON document")

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// UnmarshalStrict decodes exactly one JSON value into v and rejects object
// keys that v does not declare.
func UnmarshalStrict(data []byte, v any) error {
	if !defaultConfig.Valid(data) {
		return ErrInvalidJSON
	}
	return strictConfig.Unmarshal(data, v)
}

// Valid reports whether data is a single well-formed JSON value.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}
