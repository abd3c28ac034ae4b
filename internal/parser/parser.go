// Package parser streams CSV and XML sources as flat key/value records.
package parser

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"shopsync/internal/models"
)

// ErrMalformedSource is wrapped by errors that make the whole source unreadable.
var ErrMalformedSource = errors.New("malformed source")

// Options controls how a source is read.
type Options struct {
	Delimiter  string
	HasHeader  bool
	RecordPath string
	Encoding   string
}

// OptionsFrom converts stored profile parse options.
func OptionsFrom(o models.ParseOptions) Options {
	return Options{
		Delimiter:  o.Delimiter,
		HasHeader:  o.HasHeader,
		RecordPath: o.RecordPath,
		Encoding:   o.Encoding,
	}
}

// Field is one key/value pair of a record. A nil Value means the column was
// absent from the row.
type Field struct {
	Key   string  `json:"k"`
	Value *string `json:"v"`
}

// Record keeps fields in source order.
type Record struct {
	Index  int     `json:"i"`
	Fields []Field `json:"f"`
}

// Get returns the value for key. Keys are compared after normalization.
func (r Record) Get(key string) (*string, bool) {
	norm := NormalizeKey(key)
	for _, f := range r.Fields {
		if f.Key == norm || f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Map flattens the record; absent values become empty strings.
func (r Record) Map() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		if f.Value != nil {
			out[f.Key] = *f.Value
		} else {
			out[f.Key] = ""
		}
	}
	return out
}

// RecordError reports a single unreadable record. Iteration can continue.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *RecordError) Unwrap() error { return e.Err }

// Iterator yields records until io.EOF.
type Iterator interface {
	Headers() []string
	Next() (Record, error)
	Close() error
}

type Parser interface {
	DetectHeaders(path string, opts Options) ([]string, error)
	Open(path string, opts Options) (Iterator, error)
}

func New(format models.SourceFormat) (Parser, error) {
	switch format {
	case models.SourceFormatCSV:
		return csvParser{}, nil
	case models.SourceFormatXML:
		return xmlParser{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", models.ErrInvalidConfig, format)
	}
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown encoding %q", models.ErrInvalidConfig, name)
	}
	if n, _ := htmlindex.Name(enc); n == "utf-8" {
		return nil, nil
	}
	return enc, nil
}

// decodeReader wraps r so it yields UTF-8.
func decodeReader(r io.Reader, name string) (io.Reader, error) {
	enc, err := lookupEncoding(name)
	if err != nil || enc == nil {
		return r, err
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// ValidateOptions checks options that would otherwise fail only at run time.
func ValidateOptions(format models.SourceFormat, opts Options) error {
	if format == models.SourceFormatCSV {
		if _, err := delimiterRune(opts.Delimiter); err != nil {
			return err
		}
	}
	_, err := lookupEncoding(opts.Encoding)
	return err
}
