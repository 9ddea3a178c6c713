// Package tracker builds context-aware prompts for the chunks of a document
// and merges per-chunk extraction results back into document coordinates.
//
// Prompt state is kept per document id, so chunks of different documents
// never see each other's text. The state map is split into FNV-hashed shards,
// each behind its own mutex, so concurrent documents rarely contend.
package tracker

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/nasher721/Extract721/internal/extraction/prompt"
)

// ContextPrefix introduces the tail of the previous chunk in a prompt.
const ContextPrefix = "[Previous text]: ..."

const defaultShards = 16

// Options configures a Tracker.
type Options struct {
	// ContextWindowChars is how many characters (runes) of the previous
	// chunk's tail are carried into the next prompt. Zero disables carrying.
	ContextWindowChars int
	// Shards is the number of state shards; zero selects 16.
	Shards int
}

type shard struct {
	mu   sync.Mutex
	prev map[string]string
}

// Tracker renders prompts and remembers, per document, the previous chunk.
type Tracker struct {
	gen    *prompt.Generator
	window int
	shards []*shard
	logger *slog.Logger
}

// New creates a Tracker around gen.
func New(gen *prompt.Generator, opts Options) *Tracker {
	n := opts.Shards
	if n <= 0 {
		n = defaultShards
	}
	t := &Tracker{
		gen:    gen,
		window: max(opts.ContextWindowChars, 0),
		shards: make([]*shard, n),
		logger: slog.Default().With("component", "prompt-tracker"),
	}
	for i := range t.shards {
		t.shards[i] = &shard{prev: make(map[string]string)}
	}
	return t
}

// ContextWindowChars returns the configured window.
func (t *Tracker) ContextWindowChars() int {
	return t.window
}

func (t *Tracker) shardFor(documentID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(documentID))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

// BuildPrompt renders the prompt for one chunk. The tail of the document's
// previous chunk, when there is one, precedes additionalContext. Chunks of a
// document must be submitted in order.
func (t *Tracker) BuildPrompt(chunkText, documentID, additionalContext string) (string, error) {
	s := t.shardFor(documentID)
	s.mu.Lock()
	defer s.mu.Unlock()

	effective := additionalContext
	if t.window > 0 {
		if prev, ok := s.prev[documentID]; ok {
			carried := ContextPrefix + tail(prev, t.window)
			if additionalContext != "" {
				carried += "\n\n" + additionalContext
			}
			effective = carried
		}
	}

	out, err := t.gen.Render(chunkText, effective)
	if err != nil {
		return "", err
	}
	if t.window > 0 {
		s.prev[documentID] = chunkText
	}
	return out, nil
}

// Forget drops the state kept for documentID.
func (t *Tracker) Forget(documentID string) {
	s := t.shardFor(documentID)
	s.mu.Lock()
	delete(s.prev, documentID)
	s.mu.Unlock()
}

// Tracked returns the number of documents with stored state.
func (t *Tracker) Tracked() int {
	total := 0
	for _, s := range t.shards {
		s.mu.Lock()
		total += len(s.prev)
		s.mu.Unlock()
	}
	return total
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	i := len(s)
	for ; n > 0 && i > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}
