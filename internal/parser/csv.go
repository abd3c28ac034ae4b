package parser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"shopsync/internal/models"
)

const byteOrderMark = '\uFEFF'

type csvParser struct{}

func (csvParser) DetectHeaders(path string, opts Options) ([]string, error) {
	it, err := csvParser{}.Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	return it.Headers(), nil
}

func (csvParser) Open(path string, opts Options) (Iterator, error) {
	comma, err := delimiterRune(opts.Delimiter)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
	}
	src, err := decodeReader(f, opts.Encoding)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	br := bufio.NewReader(src)
	if r, _, err := br.ReadRune(); err == nil && r != byteOrderMark {
		_ = br.UnreadRune()
	}

	reader := csv.NewReader(br)
	reader.Comma = comma
	reader.FieldsPerRecord = -1

	it := &csvIterator{file: f, reader: reader}
	if err := it.readHeaders(opts.HasHeader); err != nil {
		_ = f.Close()
		return nil, err
	}
	return it, nil
}

// delimiterRune validates a configured delimiter.
func delimiterRune(raw string) (rune, error) {
	switch raw {
	case "":
		return ',', nil
	case `\t`, "\t":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(raw)
	if size != len(raw) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("%w: invalid delimiter %q", models.ErrInvalidConfig, raw)
	}
	return r, nil
}

type csvIterator struct {
	file    *os.File
	reader  *csv.Reader
	headers []string
	// first data row read while sizing positional headers
	pending []string
	// malformed rows seen before pending, reported ahead of it
	skipped []*RecordError
	index   int
}

func (it *csvIterator) readHeaders(hasHeader bool) error {
	for {
		row, err := it.reader.Read()
		if errors.Is(err, io.EOF) {
			it.headers = []string{}
			return nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			if hasHeader {
				return fmt.Errorf("%w: header row: %v", ErrMalformedSource, err)
			}
			it.skipped = append(it.skipped, &RecordError{Line: parseErr.StartLine, Err: parseErr.Err})
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedSource, err)
		}
		if hasHeader {
			it.headers = NormalizeHeaders(row)
		} else {
			it.headers = PositionalHeaders(len(row))
			it.pending = row
		}
		return nil
	}
}

func (it *csvIterator) Headers() []string {
	out := make([]string, len(it.headers))
	copy(out, it.headers)
	return out
}

func (it *csvIterator) Next() (Record, error) {
	if len(it.skipped) > 0 {
		recErr := it.skipped[0]
		it.skipped = it.skipped[1:]
		it.index++
		return Record{}, recErr
	}
	var row []string
	if it.pending != nil {
		row, it.pending = it.pending, nil
	} else {
		var err error
		row, err = it.reader.Read()
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			it.index++
			return Record{}, &RecordError{Line: parseErr.StartLine, Err: parseErr.Err}
		}
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrMalformedSource, err)
		}
	}
	rec := Record{Index: it.index, Fields: make([]Field, len(it.headers))}
	it.index++
	for i, key := range it.headers {
		rec.Fields[i].Key = key
		if i < len(row) {
			v := row[i]
			rec.Fields[i].Value = &v
		}
	}
	return rec, nil
}

func (it *csvIterator) Close() error {
	return it.file.Close()
}
