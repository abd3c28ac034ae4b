package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

type xmlParser struct{}

func (xmlParser) DetectHeaders(path string, opts Options) ([]string, error) {
	it, err := xmlParser{}.Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	return it.Headers(), nil
}

func (xmlParser) Open(path string, opts Options) (Iterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSource, err)
	}
	src, err := decodeReader(f, opts.Encoding)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	dec := xml.NewDecoder(src)
	dec.Strict = true
	explicit := strings.TrimSpace(opts.Encoding) != ""
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		if explicit {
			return input, nil
		}
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, fmt.Errorf("unsupported charset %q", label)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	it := &xmlIterator{file: f, dec: dec, match: compileRecordPath(opts.RecordPath)}
	first, err := it.next()
	switch {
	case errors.Is(err, io.EOF):
		it.headers = []string{}
		it.done = true
	case err != nil:
		_ = f.Close()
		return nil, err
	default:
		it.pending = &first
		it.headers = make([]string, len(first.Fields))
		for i, fld := range first.Fields {
			it.headers[i] = fld.Key
		}
	}
	return it, nil
}

type pathMatcher struct {
	segments []string
	absolute bool
}

// compileRecordPath accepts "/a/b/item" (from the root), "a/b/item",
// "//item" or "item" (matched against the tail of the element stack).
// An empty path selects the direct children of the root element.
func compileRecordPath(raw string) pathMatcher {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pathMatcher{}
	}
	absolute := strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//")
	var segs []string
	for _, s := range strings.Split(strings.TrimLeft(raw, "/"), "/") {
		if s = strings.TrimSpace(s); s != "" {
			segs = append(segs, s)
		}
	}
	return pathMatcher{segments: segs, absolute: absolute}
}

func (m pathMatcher) matches(stack []string) bool {
	if len(m.segments) == 0 {
		return len(stack) == 2
	}
	if m.absolute {
		if len(stack) != len(m.segments) {
			return false
		}
	} else if len(stack) < len(m.segments) {
		return false
	}
	tail := stack[len(stack)-len(m.segments):]
	for i, s := range m.segments {
		if tail[i] != s {
			return false
		}
	}
	return true
}

type xmlNode struct {
	key      string
	text     strings.Builder
	hasChild bool
}

type xmlIterator struct {
	file    *os.File
	dec     *xml.Decoder
	match   pathMatcher
	stack   []string
	headers []string
	pending *Record
	index   int
	done    bool
}

func (it *xmlIterator) Headers() []string {
	out := make([]string, len(it.headers))
	copy(out, it.headers)
	return out
}

func (it *xmlIterator) Next() (Record, error) {
	if it.pending != nil {
		rec := *it.pending
		it.pending = nil
		return rec, nil
	}
	if it.done {
		return Record{}, io.EOF
	}
	rec, err := it.next()
	if err != nil {
		it.done = true
	}
	return rec, err
}

func (it *xmlIterator) next() (Record, error) {
	for {
		tok, err := it.dec.Token()
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		if err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrMalformedSource, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			it.stack = append(it.stack, t.Name.Local)
			if it.match.matches(it.stack) {
				rec, err := it.readRecord()
				it.stack = it.stack[:len(it.stack)-1]
				return rec, err
			}
		case xml.EndElement:
			if len(it.stack) > 0 {
				it.stack = it.stack[:len(it.stack)-1]
			}
		}
	}
}

// readRecord consumes tokens up to the end of the record element that was just
// opened and flattens its descendants into leaf fields.
func (it *xmlIterator) readRecord() (Record, error) {
	rec := Record{Index: it.index}
	it.index++
	counts := map[string]int{}
	nodes := []*xmlNode{{}}

	add := func(key, value string) {
		counts[key]++
		if n := counts[key]; n > 1 {
			key = key + "_" + strconv.Itoa(n)
		}
		v := value
		rec.Fields = append(rec.Fields, Field{Key: key, Value: &v})
	}

	for {
		tok, err := it.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Record{}, fmt.Errorf("%w: %v", ErrMalformedSource, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			parent := nodes[len(nodes)-1]
			parent.hasChild = true
			name := NormalizeKey(t.Name.Local)
			if name == "" {
				name = "field"
			}
			key := name
			if parent.key != "" {
				key = parent.key + "_" + name
			}
			nodes = append(nodes, &xmlNode{key: key})
		case xml.CharData:
			nodes[len(nodes)-1].text.Write(t)
		case xml.EndElement:
			node := nodes[len(nodes)-1]
			nodes = nodes[:len(nodes)-1]
			if len(nodes) == 0 {
				if !node.hasChild {
					add("value", strings.TrimSpace(node.text.String()))
				}
				return rec, nil
			}
			if !node.hasChild {
				add(node.key, strings.TrimSpace(node.text.String()))
			}
		}
	}
}

func (it *xmlIterator) Close() error {
	return it.file.Close()
}
