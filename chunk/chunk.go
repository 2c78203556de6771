// Package chunk splits extracted text into overlapping windows for embedding.
//
// Lengths are measured in runes. Each window is cut at the last paragraph
// break that fits, then the last line break, sentence end, whitespace, and
// finally a hard cut at the chunk size. The next window starts ChunkOverlap
// runes before the previous end, moved forward to the next word start inside
// the overlap when there is one.
package chunk

import (
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

var _ textsplitter.TextSplitter = Splitter{}

func New(chunkSize, chunkOverlap int) Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	return Splitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	}
}

type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// Chunk is a slice of the source text. Start and End are rune offsets.
type Chunk struct {
	Index int
	Start int
	End   int
	Text  string
}

func (s Splitter) SplitText(text string) ([]string, error) {
	chunks := s.Split(text)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts, nil
}

func (s Splitter) Split(text string) (chunks []Chunk) {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s = New(s.ChunkSize, s.ChunkOverlap)
	r := []rune(text)
	start := 0
	for {
		end := len(r)
		if end-start > s.ChunkSize {
			end = s.breakpoint(r, start)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  string(r[start:end]),
		})
		if end == len(r) {
			return chunks
		}
		start = s.nextStart(r, start, end)
	}
}

// breakpoint returns the end of the window starting at start, which is
// longer than the chunk size.
func (s Splitter) breakpoint(r []rune, start int) int {
	limit := start + s.ChunkSize
	// Cutting at or before min would stop the next window from advancing.
	min := start + s.ChunkOverlap
	for _, find := range []func(r []rune, from, to int) int{paragraphEnd, lineEnd, sentenceEnd, wordEnd} {
		if end := find(r, min, limit); end > min {
			return end
		}
	}
	return limit
}

func (s Splitter) nextStart(r []rune, start, end int) int {
	next := end - s.ChunkOverlap
	if next <= start {
		next = start + 1
	}
	for i := next; i < end; i++ {
		if i > 0 && unicode.IsSpace(r[i-1]) && !unicode.IsSpace(r[i]) {
			return i
		}
	}
	return next
}

// The find functions return the offset just after the last break in
// r[from:to], or -1.

func paragraphEnd(r []rune, from, to int) int {
	for i := to - 1; i > from; i-- {
		if r[i] == '\n' && r[i-1] == '\n' {
			return i + 1
		}
	}
	return -1
}

func lineEnd(r []rune, from, to int) int {
	for i := to - 1; i >= from; i-- {
		if r[i] == '\n' {
			return i + 1
		}
	}
	return -1
}

func sentenceEnd(r []rune, from, to int) int {
	for i := to - 1; i > from; i-- {
		if unicode.IsSpace(r[i]) && isTerminal(r[i-1]) {
			return i + 1
		}
	}
	return -1
}

func isTerminal(c rune) bool {
	return c == '.' || c == '!' || c == '?'
}

func wordEnd(r []rune, from, to int) int {
	for i := to - 1; i >= from; i-- {
		if unicode.IsSpace(r[i]) {
			return i + 1
		}
	}
	return -1
}

// Join reassembles chunks produced by Split into the original text.
func Join(chunks []Chunk) string {
	var sb strings.Builder
	end := 0
	for _, c := range chunks {
		r := []rune(c.Text)
		skip := end - c.Start
		if skip < 0 {
			skip = 0
		}
		if skip < len(r) {
			sb.WriteString(string(r[skip:]))
		}
		end = c.End
	}
	return sb.String()
}
