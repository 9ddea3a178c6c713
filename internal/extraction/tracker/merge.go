package tracker

import (
	"sort"

	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/extraction/chunker"
	"github.com/nasher721/Extract721/internal/extraction/interval"
)

// ChunkResult holds the aligned extractions of one chunk, in chunk-local
// coordinates. OverlapChars is the length of the prefix shared with the
// previous chunk. Err marks a chunk whose model call or parse failed; it
// contributes no extractions.
type ChunkResult struct {
	Index        int
	CharOffset   int
	TokenOffset  int
	OverlapChars int
	Extractions  []extraction.Extraction
	Err          error
}

// NewChunkResult builds a ChunkResult carrying c's offsets.
func NewChunkResult(c *chunker.Chunk, extractions []extraction.Extraction, err error) ChunkResult {
	return ChunkResult{
		Index:        c.Index,
		CharOffset:   c.CharOffset,
		TokenOffset:  c.TokenOffset,
		OverlapChars: c.OverlapChars,
		Extractions:  extractions,
		Err:          err,
	}
}

type dedupeKey struct {
	class string
	span  interval.Char
}

// Merge combines chunk results into one document. Results are taken in chunk
// order, intervals are shifted into document coordinates and extraction
// indexes are renumbered from zero. An aligned extraction that starts inside
// a chunk's overlap prefix and repeats the class and global span of one kept
// from an earlier chunk is dropped; nothing else is. Inputs are not modified.
func Merge(documentID, text string, results []ChunkResult) *extraction.AnnotatedDocument {
	ordered := make([]ChunkResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	size := 0
	for _, r := range ordered {
		size += len(r.Extractions)
	}
	out := make([]extraction.Extraction, 0, size)
	seen := make(map[dedupeKey]struct{}, size)
	var kept []dedupeKey

	for _, r := range ordered {
		if r.Err != nil {
			continue
		}
		kept = kept[:0]
		for _, src := range r.Extractions {
			e := src.Clone()
			if e.CharInterval != nil {
				inOverlap := e.CharInterval.StartPos < r.OverlapChars
				shifted := e.CharInterval.Shift(r.CharOffset)
				e.CharInterval = &shifted
				key := dedupeKey{class: e.ExtractionClass, span: shifted}
				if _, dup := seen[key]; dup && inOverlap {
					continue
				}
				kept = append(kept, key)
			}
			if e.TokenInterval != nil {
				shifted := e.TokenInterval.Shift(r.TokenOffset)
				e.TokenInterval = &shifted
			}
			e.ExtractionIndex = extraction.Ptr(len(out))
			out = append(out, e)
		}
		for _, k := range kept {
			seen[k] = struct{}{}
		}
	}

	return &extraction.AnnotatedDocument{
		DocumentID:  documentID,
		Text:        text,
		Extractions: out,
	}
}

// Failed returns the results that carry an error.
func Failed(results []ChunkResult) []ChunkResult {
	var failed []ChunkResult
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
