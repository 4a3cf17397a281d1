// Package chunker splits documents into overlapping, size-bounded chunks.
//
// Splitting is recursive: a document is first cut at paragraph breaks, and
// only pieces that are still too long are cut again at line breaks, then at
// sentence ends, then at whitespace. A piece with no boundary at any level is
// split at raw character positions. The pieces are then merged greedily into
// chunks of at most ChunkSize characters, and each chunk after the first
// begins exactly ChunkOverlap characters before the end of its predecessor.
//
// All offsets are character (rune) offsets, so Chunk.CharEnd-Chunk.CharStart
// always equals the rune length of Chunk.Text and the chunks of a document
// can be laid back over its text to reconstruct it.
package chunker

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/handbook-rag/internal/rag"
)

// Defaults used when the configuration does not override them.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators lists the boundary patterns from coarsest to finest. A boundary
// falls at the end of each match, so separators stay with the text before
// them.
var separators = []*regexp.Regexp{
	regexp.MustCompile(`\n[ \t\r]*\n\s*`),  // paragraph break
	regexp.MustCompile(`\n`),               // line break
	regexp.MustCompile(`[.!?]["')\]]*\s+`), // sentence end
	regexp.MustCompile(`\s+`),              // whitespace
}

// Splitter cuts documents into chunks. It holds no mutable state and is safe
// for concurrent use.
type Splitter struct {
	// size is the maximum chunk length in characters.
	size int

	// overlap is the number of characters shared by consecutive chunks.
	overlap int
}

// New returns a Splitter after checking that size is positive and overlap
// lies in [0, size).
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive, got %d: %w", size, rag.ErrConfiguration)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunker: chunk overlap must be in [0, %d), got %d: %w", size, overlap, rag.ErrConfiguration)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the configured maximum chunk length.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap length.
func (s *Splitter) Overlap() int { return s.overlap }

// segment is a contiguous run of the document between two boundaries.
type segment struct {
	start, end int
	// splittable marks a run with no natural boundary, which may be cut at
	// any character.
	splittable bool
}

// runeText indexes a string by rune position.
type runeText struct {
	s string
	// byteAt maps rune index to byte offset, with a final entry for len(s).
	byteAt []int
	// runeAt maps byte offset to rune index for offsets on rune boundaries.
	runeAt map[int]int
}

func newRuneText(s string) *runeText {
	rt := &runeText{
		s:      s,
		byteAt: make([]int, 0, utf8.RuneCountInString(s)+1),
		runeAt: make(map[int]int, len(s)+1),
	}
	for b := range s {
		rt.runeAt[b] = len(rt.byteAt)
		rt.byteAt = append(rt.byteAt, b)
	}
	rt.runeAt[len(s)] = len(rt.byteAt)
	rt.byteAt = append(rt.byteAt, len(s))
	return rt
}

func (rt *runeText) len() int { return len(rt.byteAt) - 1 }

func (rt *runeText) slice(start, end int) string {
	return rt.s[rt.byteAt[start]:rt.byteAt[end]]
}

// Split returns the chunks of doc in document order. Empty or
// whitespace-only documents yield no chunks.
func (s *Splitter) Split(doc rag.Document) []rag.Chunk {
	if strings.TrimSpace(doc.Text) == "" {
		return nil
	}

	rt := newRuneText(doc.Text)
	n := rt.len()
	if n <= s.size {
		return []rag.Chunk{{
			DocumentID: doc.ID,
			Text:       doc.Text,
			CharStart:  0,
			CharEnd:    n,
		}}
	}

	var segs []segment
	s.segment(rt, 0, n, 0, &segs)

	var chunks []rag.Chunk
	start := 0
	for {
		limit := start + s.size
		if limit >= n {
			chunks = append(chunks, s.chunk(rt, doc.ID, len(chunks), start, n))
			return chunks
		}
		end := cutPoint(segs, limit)
		chunks = append(chunks, s.chunk(rt, doc.ID, len(chunks), start, end))
		start = end - s.overlap
	}
}

// SplitAll splits every document and concatenates the chunks in document
// order.
func (s *Splitter) SplitAll(docs []rag.Document) []rag.Chunk {
	var out []rag.Chunk
	for _, d := range docs {
		out = append(out, s.Split(d)...)
	}
	return out
}

func (s *Splitter) chunk(rt *runeText, docID string, seq, start, end int) rag.Chunk {
	return rag.Chunk{
		DocumentID:    docID,
		SequenceIndex: seq,
		Text:          rt.slice(start, end),
		CharStart:     start,
		CharEnd:       end,
	}
}

// segment appends the segments of [start, end) to out. A piece is kept
// whole once it fits in the span a chunk has left after the overlap carried
// from its predecessor, which guarantees every chunk advances.
func (s *Splitter) segment(rt *runeText, start, end, level int, out *[]segment) {
	if end-start <= s.size-s.overlap {
		*out = append(*out, segment{start: start, end: end})
		return
	}
	if level >= len(separators) {
		*out = append(*out, segment{start: start, end: end, splittable: true})
		return
	}

	base := rt.byteAt[start]
	var cuts []int
	for _, m := range separators[level].FindAllStringIndex(rt.slice(start, end), -1) {
		cut := rt.runeAt[base+m[1]]
		if cut > start && cut < end {
			cuts = append(cuts, cut)
		}
	}
	if len(cuts) == 0 {
		s.segment(rt, start, end, level+1, out)
		return
	}

	prev := start
	for _, cut := range cuts {
		s.segment(rt, prev, cut, level+1, out)
		prev = cut
	}
	s.segment(rt, prev, end, level+1, out)
}

// cutPoint returns where a chunk that may extend up to limit should end: the
// furthest segment boundary at or before limit, or limit itself when it falls
// inside a splittable segment.
func cutPoint(segs []segment, limit int) int {
	i := sort.Search(len(segs), func(i int) bool { return segs[i].end >= limit })
	seg := segs[i]
	if seg.end == limit || seg.splittable {
		return limit
	}
	return seg.start
}
