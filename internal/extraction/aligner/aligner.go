// Package aligner locates a model's claimed extraction text inside the chunk
// it was extracted from. Strategies run in order (exact, normalized, fuzzy)
// and the first hit wins; a text that none of them can place is returned
// unaligned rather than as an error.
package aligner

import (
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/extraction/interval"
	"github.com/nasher721/Extract721/internal/extraction/tokenizer"
)

// DefaultFuzzyThreshold is the minimum normalized Levenshtein similarity for
// a fuzzy token-run match.
const DefaultFuzzyThreshold = 0.75

// Options tunes the strategy chain.
type Options struct {
	// FuzzyThreshold in (0, 1]; zero selects DefaultFuzzyThreshold and values
	// above 1 disable fuzzy matching.
	FuzzyThreshold float64
	// Normalize enables the folded-text strategy.
	Normalize bool
}

// DefaultOptions enables every strategy with the default threshold.
func DefaultOptions() Options {
	return Options{FuzzyThreshold: DefaultFuzzyThreshold, Normalize: true}
}

// Result is the outcome of one alignment. All fields are nil on a miss.
type Result struct {
	CharInterval  *interval.Char
	TokenInterval *interval.Token
	Status        *extraction.AlignmentStatus
}

// Matched reports whether the candidate was located.
func (r Result) Matched() bool {
	return r.CharInterval != nil
}

type match struct {
	tokens interval.Token
	chars  interval.Char
	status extraction.AlignmentStatus
}

// query is the input shared by all strategies. from is the byte offset at
// which the search starts.
type query struct {
	candidate string
	tt        *tokenizer.TokenizedText
	view      func() *view
	from      int
	threshold float64
}

type strategy struct {
	name string
	fn   func(q query) (match, bool)
}

// Aligner holds the configured strategy chain. It is stateless and safe for
// concurrent use; per-chunk cursors live in Session.
type Aligner struct {
	opts       Options
	strategies []strategy
}

// New builds an Aligner from opts.
func New(opts Options) *Aligner {
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = DefaultFuzzyThreshold
	}
	strategies := []strategy{{name: "exact", fn: exactMatch}}
	if opts.Normalize {
		strategies = append(strategies, strategy{name: "normalized", fn: normalizedMatch})
	}
	if opts.FuzzyThreshold <= 1 {
		strategies = append(strategies, strategy{name: "fuzzy", fn: fuzzyMatch})
	}
	return &Aligner{opts: opts, strategies: strategies}
}

// Options returns the effective options.
func (a *Aligner) Options() Options {
	return a.opts
}

// Align places candidate in tt, searching from the start of the text.
func (a *Aligner) Align(candidate string, tt *tokenizer.TokenizedText) Result {
	return a.NewSession(tt).Align(candidate)
}

// AlignAll aligns extractions in order within one chunk and returns aligned
// copies. Repeated texts advance past earlier matches.
func (a *Aligner) AlignAll(tt *tokenizer.TokenizedText, extractions []extraction.Extraction) []extraction.Extraction {
	s := a.NewSession(tt)
	out := make([]extraction.Extraction, len(extractions))
	for i := range extractions {
		e := extractions[i].Clone()
		r := s.Align(e.ExtractionText)
		e.CharInterval = r.CharInterval
		e.TokenInterval = r.TokenInterval
		e.AlignmentStatus = r.Status
		out[i] = e
	}
	return out
}

func (a *Aligner) run(q query) Result {
	for _, s := range a.strategies {
		if m, ok := s.fn(q); ok {
			status := m.status
			chars := m.chars
			tokens := m.tokens
			return Result{CharInterval: &chars, TokenInterval: &tokens, Status: &status}
		}
	}
	return Result{}
}

// Session aligns several candidates against one chunk. Each distinct
// candidate text keeps a cursor just past its previous match, so repeated
// claims resolve to successive occurrences left to right.
type Session struct {
	aligner *Aligner
	tt      *tokenizer.TokenizedText
	v       *view
	cursors map[string]int
}

// NewSession starts a session over tt.
func (a *Aligner) NewSession(tt *tokenizer.TokenizedText) *Session {
	return &Session{aligner: a, tt: tt, cursors: make(map[string]int)}
}

func (s *Session) view() *view {
	if s.v == nil {
		s.v = newView(s.tt)
	}
	return s.v
}

// Align places candidate at or after the end of its previous match. A repeat
// with no further occurrence is left unaligned.
func (s *Session) Align(candidate string) Result {
	key := strings.TrimSpace(candidate)
	if key == "" || len(s.tt.Tokens) == 0 {
		return Result{}
	}
	q := query{
		candidate: key,
		tt:        s.tt,
		view:      s.view,
		from:      s.cursors[key],
		threshold: s.aligner.opts.FuzzyThreshold,
	}
	r := s.aligner.run(q)
	if r.Matched() {
		s.cursors[key] = r.CharInterval.EndPos
	}
	return r
}

func exactMatch(q query) (match, bool) {
	if q.from > len(q.tt.Text) {
		return match{}, false
	}
	idx := strings.Index(q.tt.Text[q.from:], q.candidate)
	if idx < 0 {
		return match{}, false
	}
	start := q.from + idx
	return snap(q.tt, start, start+len(q.candidate))
}

func normalizedMatch(q query) (match, bool) {
	needle := fold(q.candidate)
	if needle == "" {
		return match{}, false
	}
	v := q.view()
	from := v.indexAt(q.from)
	idx := strings.Index(v.folded[from:], needle)
	if idx < 0 {
		return match{}, false
	}
	ns := from + idx
	ne := ns + len(needle)
	m, ok := snap(q.tt, v.starts[ns], v.ends[ne-1])
	if !ok {
		return match{}, false
	}
	if m.status != extraction.MatchExact {
		m.status = extraction.MatchFuzzy
		return m, true
	}
	m.status = extraction.MatchFuzzy
	if ct, err := tokenizer.Tokenize(q.candidate); err == nil {
		got := contentTokens(q.tt.Tokens[m.tokens.Start:m.tokens.End])
		want := contentTokens(ct.Tokens)
		switch {
		case got < want:
			m.status = extraction.MatchLesser
		case got > want:
			m.status = extraction.MatchGreater
		}
	}
	return m, true
}

// contentTokens counts word and number tokens; punctuation folds away during
// normalization and does not count.
func contentTokens(tokens []tokenizer.Token) int {
	n := 0
	for _, tok := range tokens {
		if tok.Type != tokenizer.Punctuation {
			n++
		}
	}
	return n
}

func fuzzyMatch(q query) (match, bool) {
	ct, err := tokenizer.Tokenize(q.candidate)
	if err != nil || ct.Len() == 0 {
		return match{}, false
	}
	needle := fold(q.candidate)
	if needle == "" {
		return match{}, false
	}
	needleLen := utf8.RuneCountInString(needle)

	n := ct.Len()
	slack := n / 4
	if slack < 1 {
		slack = 1
	}
	minRun, maxRun := n-slack, n+slack
	if minRun < 1 {
		minRun = 1
	}

	v := q.view()
	tokens := q.tt.Tokens
	best := -1.0
	var bestRun interval.Token
	for s := q.tt.FirstStartingAt(q.from); s < len(tokens); s++ {
		for l := minRun; l <= maxRun && s+l <= len(tokens); l++ {
			window := v.span(s, s+l)
			if window == "" {
				continue
			}
			if !lengthCompatible(needleLen, utf8.RuneCountInString(window), q.threshold) {
				continue
			}
			// No MinScore: its early exit overstates dissimilar pairs.
			score := levenshtein.Similarity(needle, window, nil)
			if score > best {
				best = score
				bestRun = interval.Token{Start: s, End: s + l}
			}
		}
	}
	if best < q.threshold {
		return match{}, false
	}
	chars, err := q.tt.CharInterval(bestRun)
	if err != nil {
		return match{}, false
	}
	return match{tokens: bestRun, chars: chars, status: extraction.MatchFuzzy}, true
}

// lengthCompatible reports whether two strings of rune lengths a and b can
// reach threshold similarity at all.
func lengthCompatible(a, b int, threshold float64) bool {
	longer, diff := a, a-b
	if b > a {
		longer, diff = b, b-a
	}
	if longer == 0 {
		return true
	}
	return 1-float64(diff)/float64(longer) >= threshold
}

// snap maps the byte span [start, end) onto token boundaries. A partially
// covered edge token is kept when at least half of it is covered, which
// yields MatchGreater; otherwise it is dropped, which yields MatchLesser.
func snap(tt *tokenizer.TokenizedText, start, end int) (match, bool) {
	cover, ok := tt.Covering(start, end)
	if !ok {
		return match{}, false
	}
	first := tt.Tokens[cover.Start]
	last := tt.Tokens[cover.End-1]
	run := cover
	greater, lesser := false, false

	if first.CharStart < start {
		covered := min(first.CharEnd, end) - start
		if covered*2 >= first.CharEnd-first.CharStart {
			greater = true
		} else {
			run.Start++
			lesser = true
		}
	}
	if last.CharEnd > end {
		covered := end - max(last.CharStart, start)
		if covered*2 >= last.CharEnd-last.CharStart {
			greater = true
		} else {
			run.End--
			lesser = true
		}
	}
	if run.Start >= run.End {
		run = cover
		greater, lesser = true, false
	}

	status := extraction.MatchExact
	switch {
	case lesser:
		status = extraction.MatchLesser
	case greater:
		status = extraction.MatchGreater
	}
	chars, err := tt.CharInterval(run)
	if err != nil {
		return match{}, false
	}
	return match{tokens: run, chars: chars, status: status}, true
}
