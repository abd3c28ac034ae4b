package parser

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that do not decompose into a base letter plus a combining mark.
var foldReplacer = strings.NewReplacer(
	"ł", "l", "Ł", "L",
	"đ", "d", "Đ", "D",
	"ø", "o", "Ø", "O",
	"ß", "ss",
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
)

// Transliterate folds s to ASCII where a sensible equivalent exists.
func Transliterate(s string) string {
	s = foldReplacer.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeKey trims, strips a byte order mark, transliterates and snake-cases
// a header or element name. "Cena Netto (PLN)" becomes "cena_netto_pln".
func NormalizeKey(raw string) string {
	raw = strings.TrimPrefix(raw, "\ufeff")
	raw = Transliterate(strings.TrimSpace(raw))

	var b strings.Builder
	b.Grow(len(raw))
	pendingSep := false
	var prev rune
	for i, r := range raw {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			// camelCase boundary: "salePrice" -> "sale_price".
			if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
				pendingSep = true
			}
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
		prev = r
	}
	return b.String()
}

func positionalName(i int) string {
	return "column_" + strconv.Itoa(i+1)
}

// NormalizeHeaders normalizes every header and replaces empty or duplicate
// names with their positional name.
func NormalizeHeaders(raw []string) []string {
	out := make([]string, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, h := range raw {
		key := NormalizeKey(h)
		if key == "" {
			key = positionalName(i)
		}
		if _, dup := seen[key]; dup {
			key = positionalName(i)
		}
		// a positional name can collide with a real header named like one
		base := key
		for n := 2; ; n++ {
			if _, dup := seen[key]; !dup {
				break
			}
			key = base + "_" + strconv.Itoa(n)
		}
		seen[key] = struct{}{}
		out[i] = key
	}
	return out
}

// PositionalHeaders returns column_1..column_n.
func PositionalHeaders(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = positionalName(i)
	}
	return out
}
