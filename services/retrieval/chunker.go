package retrieval

import (
	"fmt"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/tas-context-cache/config"
	"github.com/tas-context-cache/models"
)

// Chunker splits long content into overlapping chunks aligned to sentence
// and paragraph boundaries. Chunk boundaries are byte offsets into the
// original text, so concatenating each chunk's content past its overlap
// reproduces the input exactly.
type Chunker struct {
	target      int
	min         int
	max         int
	baseOverlap int
	adaptive    bool
}

func NewChunker(cfg config.ChunkerConfig) *Chunker {
	return &Chunker{
		target:      cfg.Target,
		min:         cfg.Min,
		max:         cfg.Max,
		baseOverlap: cfg.BaseOverlap,
		adaptive:    cfg.Adaptive,
	}
}

// Chunk splits text into ordered chunks for parentID. Empty input yields
// nil; Chunk never fails.
func (c *Chunker) Chunk(parentID, text string) []models.Chunk {
	if text == "" {
		return nil
	}
	if len(text) <= c.target {
		return []models.Chunk{c.makeChunk(parentID, 0, text, 0)}
	}

	bounds := sentenceBoundaries(text)

	var chunks []models.Chunk
	start, overlapPrev := 0, 0
	for start < len(text) {
		end := c.pickEnd(text, bounds, start)
		chunks = append(chunks, c.makeChunk(parentID, len(chunks), text[start:end], overlapPrev))
		if end >= len(text) {
			break
		}

		overlap := c.overlapFor(bounds, start, end)
		next := end - overlap
		// prefer a sentence boundary inside the overlap window
		if b := lastBoundaryIn(bounds, next, end); b > 0 {
			next = b
		}
		// the next chunk must start on a rune boundary
		for next > start && next < len(text) && !utf8.RuneStart(text[next]) {
			next--
		}
		overlap = end - next
		if next <= start {
			next = end
			overlap = 0
		}
		overlapPrev = overlap
		start = next
	}

	// fold an undersized tail into its predecessor unless that would break
	// the hard size cap
	if n := len(chunks); n >= 2 {
		last := chunks[n-1]
		if len(last.Content) < c.min {
			prev := &chunks[n-2]
			merged := len(prev.Content) + len(last.Content) - last.OverlapPrevChars
			if merged <= c.max {
				prev.Content += last.Content[last.OverlapPrevChars:]
				chunks = chunks[:n-1]
			}
		}
	}

	return chunks
}

func (c *Chunker) makeChunk(parentID string, ordinal int, content string, overlapPrev int) models.Chunk {
	return models.Chunk{
		ChunkID:          fmt.Sprintf("%s#%d", parentID, ordinal),
		ParentID:         parentID,
		Content:          content,
		Ordinal:          ordinal,
		OverlapPrevChars: overlapPrev,
	}
}

// pickEnd chooses the exclusive end offset of the chunk starting at start:
// the furthest sentence boundary within target, else a whole sentence up to
// max, else a whitespace split, else a hard cut at max.
func (c *Chunker) pickEnd(text string, bounds []int, start int) int {
	n := len(text)
	if n-start <= c.target {
		return n
	}
	limit := start + c.target

	// furthest boundary in (start, limit]
	idx := sort.SearchInts(bounds, limit+1) - 1
	if idx >= 0 && bounds[idx] > start {
		return bounds[idx]
	}

	// the first sentence alone overruns target; keep it whole if it fits max
	first := sort.SearchInts(bounds, start+1)
	if first < len(bounds) && bounds[first] <= start+c.max {
		return bounds[first]
	}

	hard := start + c.max
	if hard > n {
		hard = n
	}
	if ws := lastWhitespaceBefore(text, start, hard); ws > start {
		return ws
	}
	// a hard cut must not split a rune
	for hard < n && hard > start && !utf8.RuneStart(text[hard]) {
		hard--
	}
	return hard
}

// overlapFor scales overlap with the sentence density of the finished chunk
func (c *Chunker) overlapFor(bounds []int, start, end int) int {
	overlap := c.baseOverlap
	if c.adaptive {
		sentences := countBoundaries(bounds, start, end)
		switch {
		case sentences <= 2:
			overlap = c.baseOverlap
		case sentences <= 5:
			overlap = 2 * c.baseOverlap
		default:
			overlap = 3 * c.baseOverlap
		}
	}
	capacity := c.max / 3
	if capacity > 200 {
		capacity = 200
	}
	if overlap > capacity {
		overlap = capacity
	}
	return overlap
}

// sentenceBoundaries returns the sorted exclusive end offsets of every
// sentence in text: a run of terminal punctuation followed by whitespace,
// or a blank-line paragraph break. len(text) is always the final boundary.
func sentenceBoundaries(text string) []int {
	n := len(text)
	seen := map[int]bool{}
	var bounds []int

	add := func(p int) {
		if p > 0 && p < n && !seen[p] {
			seen[p] = true
			bounds = append(bounds, p)
		}
	}

	i := 0
	for i < n {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r != '.' && r != '!' && r != '?' {
			i += size
			continue
		}
		j := i + size
		for j < n {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if r2 != '.' && r2 != '!' && r2 != '?' {
				break
			}
			j += s2
		}
		k := j
		for k < n {
			r2, s2 := utf8.DecodeRuneInString(text[k:])
			if !unicode.IsSpace(r2) {
				break
			}
			k += s2
		}
		if k > j {
			add(k)
		}
		i = k
	}

	// blank lines end a sentence even without punctuation
	i = 0
	for i < n {
		if text[i] != '\n' {
			i++
			continue
		}
		j := i
		newlines := 0
		for j < n {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r2) {
				break
			}
			if r2 == '\n' {
				newlines++
			}
			j += s2
		}
		if newlines >= 2 {
			add(j)
		}
		i = j
	}

	bounds = append(bounds, n)
	sort.Ints(bounds)
	return bounds
}

// lastBoundaryIn returns the largest boundary in [from, to), or -1
func lastBoundaryIn(bounds []int, from, to int) int {
	idx := sort.SearchInts(bounds, to) - 1
	if idx >= 0 && bounds[idx] >= from {
		return bounds[idx]
	}
	return -1
}

// countBoundaries counts boundaries in (start, end]
func countBoundaries(bounds []int, start, end int) int {
	lo := sort.SearchInts(bounds, start+1)
	hi := sort.SearchInts(bounds, end+1)
	return hi - lo
}

// lastWhitespaceBefore returns the offset just past the last whitespace rune
// in text[start:limit], or -1 when there is none
func lastWhitespaceBefore(text string, start, limit int) int {
	best := -1
	for i := start; i < limit; {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) && i+size <= limit {
			best = i + size
		}
		i += size
	}
	return best
}
