package parser

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"shopsync/internal/models"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func collect(t *testing.T, it Iterator) ([]Record, []error) {
	t.Helper()
	var recs []Record
	var recErrs []error
	for {
		rec, err := it.Next()
		if errors.Is(err, io.EOF) {
			return recs, recErrs
		}
		var re *RecordError
		if errors.As(err, &re) {
			recErrs = append(recErrs, err)
			continue
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		recs = append(recs, rec)
	}
}

func value(t *testing.T, rec Record, key string) string {
	t.Helper()
	v, ok := rec.Get(key)
	if !ok {
		t.Fatalf("record %d has no field %q: %+v", rec.Index, key, rec.Fields)
	}
	if v == nil {
		return "<nil>"
	}
	return *v
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"  Nazwa ":            "nazwa",
		"\ufeffean":           "ean",
		"Cena Netto (PLN)":    "cena_netto_pln",
		"Ilość w magazynie":   "ilosc_w_magazynie",
		"Łódź--Żółć":          "lodz_zolc",
		"salePrice":           "sale_price",
		"Straße":              "strasse",
		"___":                 "",
		"VAT%":                "vat",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeHeadersPositionalFallback(t *testing.T) {
	got := NormalizeHeaders([]string{"Name", "", "name", "SKU"})
	want := []string{"name", "column_2", "column_3", "sku"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("headers = %v, want %v", got, want)
	}
}

func TestNormalizeHeadersPositionalNameCollision(t *testing.T) {
	got := NormalizeHeaders([]string{"x", "Column 3", "x"})
	want := []string{"x", "column_3", "column_3_2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("headers = %v, want %v", got, want)
	}

	got = NormalizeHeaders([]string{"column_2", "column_2_2", ""})
	want = []string{"column_2", "column_2_2", "column_3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("headers = %v, want %v", got, want)
	}
}

func TestCSVSemicolonScenario(t *testing.T) {
	path := writeFile(t, "feed.csv", []byte("\ufeffnazwa;cena;ean\nWidget;19,99;5901234123457\nGadget;5,00\n"))
	p, err := New(models.SourceFormatCSV)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	opts := Options{Delimiter: ";", HasHeader: true}

	headers, err := p.DetectHeaders(path, opts)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !reflect.DeepEqual(headers, []string{"nazwa", "cena", "ean"}) {
		t.Fatalf("headers = %v", headers)
	}

	it, err := p.Open(path, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer it.Close()
	recs, recErrs := collect(t, it)
	if len(recs) != 2 || len(recErrs) != 0 {
		t.Fatalf("records=%d errors=%v", len(recs), recErrs)
	}
	if value(t, recs[0], "cena") != "19,99" || value(t, recs[0], "ean") != "5901234123457" {
		t.Fatalf("first record = %+v", recs[0].Map())
	}
	if v, _ := recs[1].Get("ean"); v != nil {
		t.Fatalf("short row must pad with nil, got %q", *v)
	}
	if recs[1].Index != 1 {
		t.Fatalf("index = %d", recs[1].Index)
	}
}

func TestCSVLongRowsTruncateAndNoHeader(t *testing.T) {
	path := writeFile(t, "feed.tsv", []byte("a\tb\tc\nd\te\n"))
	p, _ := New(models.SourceFormatCSV)
	it, err := p.Open(path, Options{Delimiter: `\t`, HasHeader: false})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer it.Close()
	if !reflect.DeepEqual(it.Headers(), []string{"column_1", "column_2", "column_3"}) {
		t.Fatalf("headers = %v", it.Headers())
	}
	recs, _ := collect(t, it)
	if len(recs) != 2 {
		t.Fatalf("records = %d", len(recs))
	}
	if value(t, recs[0], "column_3") != "c" || value(t, recs[1], "column_3") != "<nil>" {
		t.Fatalf("unexpected records %+v", recs)
	}

	path = writeFile(t, "wide.csv", []byte("x,y\n1,2,3,4\n"))
	it2, err := p.Open(path, Options{HasHeader: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer it2.Close()
	recs, _ = collect(t, it2)
	if len(recs) != 1 || len(recs[0].Fields) != 2 {
		t.Fatalf("long row not truncated: %+v", recs)
	}
}

func TestCSVMalformedRowIsPerRecord(t *testing.T) {
	path := writeFile(t, "bad.csv", []byte("a,b\n1,2\n3,x\"y\n5,6\n"))
	p, _ := New(models.SourceFormatCSV)
	it2, err := p.Open(path, Options{HasHeader: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer it2.Close()
	recs, recErrs := collect(t, it2)
	if len(recs) != 2 || len(recErrs) != 1 {
		t.Fatalf("records=%d errors=%d", len(recs), len(recErrs))
	}
	var re *RecordError
	if !errors.As(recErrs[0], &re) || re.Line != 3 {
		t.Fatalf("unexpected record error %v", recErrs[0])
	}
	if value(t, recs[1], "a") != "5" {
		t.Fatalf("reader did not resume after the bad row: %+v", recs[1].Map())
	}
}

func TestCSVMalformedLeadingRowsWithoutHeader(t *testing.T) {
	path := writeFile(t, "bad.csv", []byte("x\"y,1\na,b\nc,d\n"))
	p, _ := New(models.SourceFormatCSV)
	it, err := p.Open(path, Options{HasHeader: false})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer it.Close()
	if !reflect.DeepEqual(it.Headers(), []string{"column_1", "column_2"}) {
		t.Fatalf("headers = %v", it.Headers())
	}
	recs, recErrs := collect(t, it)
	if len(recs) != 2 || len(recErrs) != 1 {
		t.Fatalf("records=%d errors=%d", len(recs), len(recErrs))
	}
	var re *RecordError
	if !errors.As(recErrs[0], &re) || re.Line != 1 {
		t.Fatalf("unexpected record error %v", recErrs[0])
	}
	if recs[0].Index != 1 || value(t, recs[0], "column_1") != "a" {
		t.Fatalf("first record = %d %+v", recs[0].Index, recs[0].Map())
	}
}

func TestCSVEncoding(t *testing.T) {
	raw, err := charmap.Windows1250.NewEncoder().String("nazwa\nŻółw\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := writeFile(t, "cp1250.csv", []byte(raw))
	p, _ := New(models.SourceFormatCSV)
	it, err := p.Open(path, Options{HasHeader: true, Encoding: "windows-1250"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer it.Close()
	recs, _ := collect(t, it)
	if len(recs) != 1 || value(t, recs[0], "nazwa") != "Żółw" {
		t.Fatalf("decoded = %+v", recs)
	}
}

func TestCSVUnopenableSourceIsFatal(t *testing.T) {
	p, _ := New(models.SourceFormatCSV)
	if _, err := p.DetectHeaders(filepath.Join(t.TempDir(), "missing.csv"), Options{}); !errors.Is(err, ErrMalformedSource) {
		t.Fatalf("expected ErrMalformedSource, got %v", err)
	}
}

func TestValidateOptions(t *testing.T) {
	if err := ValidateOptions(models.SourceFormatCSV, Options{Delimiter: ";;"}); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected config error for delimiter, got %v", err)
	}
	if err := ValidateOptions(models.SourceFormatXML, Options{Encoding: "klingon"}); !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected config error for encoding, got %v", err)
	}
	if err := ValidateOptions(models.SourceFormatCSV, Options{Delimiter: "|", Encoding: "iso-8859-2"}); err != nil {
		t.Fatalf("valid options rejected: %v", err)
	}
}

const catalogXML = `<?xml version="1.0" encoding="UTF-8"?>
<catalog>
  <meta><generated>2024-01-01</generated></meta>
  <products>
    <product id="1">
      <name> Widget </name>
      <price><net>10.00</net><gross>12.30</gross></price>
      <image>a.jpg</image>
      <image>b.jpg</image>
      <image>c.jpg</image>
    </product>
    <product id="2">
      <name>Gadget</name>
      <ean/>
    </product>
  </products>
</catalog>`

func TestXMLRecordPathAndFlattening(t *testing.T) {
	path := writeFile(t, "feed.xml", []byte(catalogXML))
	p, _ := New(models.SourceFormatXML)

	for _, rp := range []string{"/catalog/products/product", "products/product", "//product", "product"} {
		it, err := p.Open(path, Options{RecordPath: rp})
		if err != nil {
			t.Fatalf("open %q: %v", rp, err)
		}
		want := []string{"name", "price_net", "price_gross", "image", "image_2", "image_3"}
		if !reflect.DeepEqual(it.Headers(), want) {
			t.Fatalf("%q headers = %v", rp, it.Headers())
		}
		recs, _ := collect(t, it)
		_ = it.Close()
		if len(recs) != 2 {
			t.Fatalf("%q records = %d", rp, len(recs))
		}
		if value(t, recs[0], "name") != "Widget" || value(t, recs[0], "image_3") != "c.jpg" {
			t.Fatalf("%q first = %+v", rp, recs[0].Map())
		}
		if value(t, recs[1], "ean") != "" {
			t.Fatalf("%q empty element should be empty string", rp)
		}
	}

	it, err := p.Open(path, Options{RecordPath: "/products/product"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer it.Close()
	if recs, _ := collect(t, it); len(recs) != 0 {
		t.Fatalf("absolute path must match from the root, got %d records", len(recs))
	}
}

func TestXMLDefaultsToRootChildren(t *testing.T) {
	path := writeFile(t, "flat.xml", []byte(`<items><item><sku>A</sku></item><item><sku>B</sku></item><note>hello</note></items>`))
	p, _ := New(models.SourceFormatXML)
	it, err := p.Open(path, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer it.Close()
	recs, _ := collect(t, it)
	if len(recs) != 3 {
		t.Fatalf("records = %d", len(recs))
	}
	if value(t, recs[1], "sku") != "B" || value(t, recs[2], "value") != "hello" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestXMLSyntaxErrorIsFatal(t *testing.T) {
	path := writeFile(t, "broken.xml", []byte(`<items><item><sku>A</sku></item><item><sku>B</item></items>`))
	p, _ := New(models.SourceFormatXML)
	it, err := p.Open(path, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer it.Close()
	if _, err := it.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}
	_, err = it.Next()
	var re *RecordError
	if !errors.Is(err, ErrMalformedSource) || errors.As(err, &re) {
		t.Fatalf("expected fatal ErrMalformedSource, got %v", err)
	}
	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("iterator must stop after a fatal error, got %v", err)
	}
}

func TestXMLDeclaredCharset(t *testing.T) {
	body, err := charmap.ISO8859_2.NewEncoder().String(`<?xml version="1.0" encoding="ISO-8859-2"?><r><p><nazwa>Łosoś</nazwa></p></r>`)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := writeFile(t, "latin2.xml", []byte(body))
	p, _ := New(models.SourceFormatXML)
	it, err := p.Open(path, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer it.Close()
	recs, _ := collect(t, it)
	if len(recs) != 1 || value(t, recs[0], "nazwa") != "Łosoś" {
		t.Fatalf("decoded = %+v", recs)
	}
}
