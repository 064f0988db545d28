// Package lexicon holds the Unicode-aware text primitives shared by the
// matcher and the validator: normalization, case-insensitive search, word
// boundaries, flanked tokens, context windows and keyword tables.
//
// Offsets are byte offsets into the NFC form of the text. Callers that keep
// offsets around must normalize the text with NFC first.
package lexicon

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Occurrence is a case-insensitive hit of a term inside a text.
type Occurrence struct {
	Start int
	End   int
}

// NFC returns s in Unicode normalization form C.
func NFC(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}

// Fold returns the NFC, fully case-folded form of s. It is meant for
// equality tests; the result may differ in length from s.
func Fold(s string) string {
	return cases.Fold().String(NFC(strings.TrimSpace(s)))
}

// EqualFold reports whether a and b are equal under Unicode case folding.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}

// IsWordRune reports whether r belongs to a word. Letters, digits, combining
// marks and the underscore are word runes.
func IsWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.M, r) || r == '_'
}

// joiner runes continue a flanked token when a word rune follows them, so
// "d'Antonio" and "NIO-branded" stay one token.
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '-', '‐', '.':
		return true
	}
	return false
}

// FindAll returns every case-insensitive occurrence of term in text,
// including occurrences inside longer words. Matching folds rune by rune so
// that offsets map back onto text exactly.
func FindAll(text, term string) []Occurrence {
	needle := lowerRunes(NFC(term))
	if len(needle) == 0 || text == "" {
		return nil
	}

	hay := make([]rune, 0, len(text))
	offs := make([]int, 0, len(text)+1)
	for i, r := range text {
		hay = append(hay, unicode.ToLower(r))
		offs = append(offs, i)
	}
	offs = append(offs, len(text))

	var out []Occurrence
	for i := 0; i+len(needle) <= len(hay); i++ {
		if hay[i] != needle[0] {
			continue
		}
		if runesEqual(hay[i:i+len(needle)], needle) {
			out = append(out, Occurrence{Start: offs[i], End: offs[i+len(needle)]})
		}
	}
	return out
}

func lowerRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AtBoundary reports whether text[start:end] is delimited by non-word runes
// (or the ends of text) on both sides.
func AtBoundary(text string, start, end int) bool {
	if start < 0 || end > len(text) || start > end {
		return false
	}
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if IsWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if IsWordRune(r) {
			return false
		}
	}
	return true
}

// FlankedToken returns the whole token that contains text[start:end],
// extended outwards across word runes and inner joiners. For a match that
// sits on word boundaries the flanked token is the match itself.
func FlankedToken(text string, start, end int) string {
	if start < 0 || end > len(text) || start > end {
		return ""
	}

	lo := start
	for lo > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:lo])
		if IsWordRune(r) {
			lo -= size
			continue
		}
		if isJoiner(r) && lo-size > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:lo-size])
			if IsWordRune(prev) && lo < len(text) {
				next, _ := utf8.DecodeRuneInString(text[lo:])
				if IsWordRune(next) {
					lo -= size
					continue
				}
			}
		}
		break
	}

	hi := end
	for hi < len(text) {
		r, size := utf8.DecodeRuneInString(text[hi:])
		if IsWordRune(r) {
			hi += size
			continue
		}
		if isJoiner(r) && hi+size < len(text) && hi > 0 {
			next, _ := utf8.DecodeRuneInString(text[hi+size:])
			prev, _ := utf8.DecodeLastRuneInString(text[:hi])
			if IsWordRune(next) && IsWordRune(prev) {
				hi += size
				continue
			}
		}
		break
	}

	return text[lo:hi]
}

// Window returns up to chars runes of context on each side of
// text[start:end] together with the byte offset of the match inside the
// returned window.
func Window(text string, start, end, chars int) (string, int) {
	if start < 0 || end > len(text) || start > end {
		return "", 0
	}
	lo := start
	for n := 0; n < chars && lo > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(text[:lo])
		lo -= size
	}
	hi := end
	for n := 0; n < chars && hi < len(text); n++ {
		_, size := utf8.DecodeRuneInString(text[hi:])
		hi += size
	}
	return text[lo:hi], start - lo
}

// Tokens splits s into folded word tokens.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(NFC(s), func(r rune) bool { return !IsWordRune(r) })
	for i, f := range fields {
		fields[i] = Fold(f)
	}
	return fields
}

// IsCapitalized reports whether s starts with an upper- or title-case
// letter. All-caps strings are capitalized too.
func IsCapitalized(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return unicode.IsUpper(r) || unicode.IsTitle(r)
		}
	}
	return false
}

// IsBlank reports whether s contains only whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
