package aligner

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/nasher721/Extract721/internal/extraction/tokenizer"
)

// folder applies NFKC, case folding, punctuation-to-space and whitespace
// collapsing one source rune at a time, so each output byte can be traced
// back to the rune that produced it.
type folder struct {
	caser cases.Caser
}

func newFolder() *folder {
	return &folder{caser: cases.Fold()}
}

// foldRune appends the folded form of r to dst.
func (f *folder) foldRune(dst []byte, r rune) []byte {
	if r < utf8.RuneSelf {
		switch {
		case 'A' <= r && r <= 'Z':
			return append(dst, byte(r+'a'-'A'))
		case 'a' <= r && r <= 'z', '0' <= r && r <= '9':
			return append(dst, byte(r))
		default:
			return append(dst, ' ')
		}
	}
	for _, c := range norm.NFKC.String(string(r)) {
		switch {
		case unicode.IsSpace(c), unicode.IsPunct(c), unicode.IsSymbol(c):
			dst = append(dst, ' ')
		default:
			dst = append(dst, f.caser.String(string(c))...)
		}
	}
	return dst
}

// view is the folded form of a text plus, for every folded byte, the byte
// span of the source rune it came from.
type view struct {
	folded string
	starts []int
	ends   []int

	tokStart []int
	tokEnd   []int
}

func newView(tt *tokenizer.TokenizedText) *view {
	f := newFolder()
	text := tt.Text
	out := make([]byte, 0, len(text))
	starts := make([]int, 0, len(text))
	ends := make([]int, 0, len(text))
	var scratch []byte

	for i, r := range text {
		size := utf8.RuneLen(r)
		if size < 0 {
			size = 1
		}
		scratch = f.foldRune(scratch[:0], r)
		for _, b := range scratch {
			if b == ' ' && (len(out) == 0 || out[len(out)-1] == ' ') {
				continue
			}
			out = append(out, b)
			starts = append(starts, i)
			ends = append(ends, i+size)
		}
	}
	for len(out) > 0 && out[len(out)-1] == ' ' {
		out = out[:len(out)-1]
		starts = starts[:len(starts)-1]
		ends = ends[:len(ends)-1]
	}

	v := &view{folded: string(out), starts: starts, ends: ends}
	v.tokStart = make([]int, len(tt.Tokens))
	v.tokEnd = make([]int, len(tt.Tokens))
	for i, tok := range tt.Tokens {
		v.tokStart[i] = v.indexAt(tok.CharStart)
		v.tokEnd[i] = v.indexAt(tok.CharEnd)
	}
	return v
}

// indexAt returns the first folded index whose source offset is >= pos.
func (v *view) indexAt(pos int) int {
	return sort.SearchInts(v.starts, pos)
}

// span returns the folded text covering tokens [start, end).
func (v *view) span(start, end int) string {
	return strings.TrimSpace(v.folded[v.tokStart[start]:v.tokEnd[end-1]])
}

// fold returns the folded form of s.
func fold(s string) string {
	f := newFolder()
	out := make([]byte, 0, len(s))
	var scratch []byte
	for _, r := range s {
		scratch = f.foldRune(scratch[:0], r)
		for _, b := range scratch {
			if b == ' ' && (len(out) == 0 || out[len(out)-1] == ' ') {
				continue
			}
			out = append(out, b)
		}
	}
	return strings.TrimRight(string(out), " ")
}
