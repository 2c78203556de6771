package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

const manual = `Aim: To determine the acceleration due to gravity using a simple pendulum.

Theory: A simple pendulum consists of a point mass suspended by an inextensible string. For small oscillations the period T is related to the length L by T = 2π√(L/g). Rearranging gives g = 4π²L/T². The approximation holds while the amplitude stays below about ten degrees.

Apparatus: Pendulum bob, string, clamp stand, stopwatch, metre rule, vernier callipers.

Procedure: Measure the diameter of the bob with the vernier callipers. Attach the string and set the effective length to 50 cm. Displace the bob by a small angle and release it. Time twenty oscillations and record the value. Repeat for lengths of 60, 70, 80, 90 and 100 cm. Plot L against T² and determine the slope.

Precautions: Keep the amplitude small. Start the stopwatch when the bob passes the mean position. Avoid air currents near the apparatus.`

func TestSplitInvariants(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
	}{
		{
			name:    "a structured manual with the default sizes",
			text:    strings.Repeat(manual+"\n\n", 5),
			size:    DefaultChunkSize,
			overlap: DefaultChunkOverlap,
		},
		{
			name:    "small windows force sentence and word breaks",
			text:    manual,
			size:    120,
			overlap: 30,
		},
		{
			name:    "text without breakpoints is hard cut",
			text:    strings.Repeat("x", 2500),
			size:    DefaultChunkSize,
			overlap: DefaultChunkOverlap,
		},
		{
			name:    "multi-byte runes are counted as single characters",
			text:    strings.Repeat("π√² αβγ. ", 300),
			size:    100,
			overlap: 20,
		},
		{
			name:    "zero overlap produces adjacent chunks",
			text:    manual,
			size:    200,
			overlap: 0,
		},
		{
			name:    "text shorter than the chunk size is a single chunk",
			text:    "Aim: measure X.",
			size:    DefaultChunkSize,
			overlap: DefaultChunkOverlap,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := New(tt.size, tt.overlap).Split(tt.text)
			if len(chunks) == 0 {
				t.Fatal("expected chunks")
			}
			for i, c := range chunks {
				if c.Index != i {
					t.Errorf("chunk %d: expected index %d, got %d", i, i, c.Index)
				}
				if n := utf8.RuneCountInString(c.Text); n > tt.size {
					t.Errorf("chunk %d: length %d exceeds chunk size %d", i, n, tt.size)
				}
				if c.Text == "" {
					t.Errorf("chunk %d: empty", i)
				}
				if i == 0 {
					continue
				}
				prev := chunks[i-1]
				if c.Start <= prev.Start {
					t.Errorf("chunk %d: start %d does not advance past %d", i, c.Start, prev.Start)
				}
				if overlap := prev.End - c.Start; overlap > tt.overlap || overlap < 0 {
					t.Errorf("chunk %d: overlap %d outside [0, %d]", i, overlap, tt.overlap)
				}
			}
			if diff := cmp.Diff(tt.text, Join(chunks)); diff != "" {
				t.Errorf("chunks do not reconstruct the text:\n%s", diff)
			}
		})
	}
}

func TestSplitEmpty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n\t"} {
		texts, err := New(DefaultChunkSize, DefaultChunkOverlap).SplitText(text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(texts) != 0 {
			t.Errorf("expected no chunks for %q, got %d", text, len(texts))
		}
	}
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	first := strings.Repeat("a", 500) + ". " + strings.Repeat("b", 100)
	second := strings.Repeat("c", 600)
	text := first + "\n\n" + second

	chunks := New(1000, 150).Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
	if expected := first + "\n\n"; chunks[0].Text != expected {
		t.Errorf("expected first chunk to end at the paragraph break, got %q", chunks[0].Text)
	}
}

func TestSplitPrefersSentencesOverWords(t *testing.T) {
	text := "The first sentence ends here. The second sentence is much longer and keeps going"
	chunks := New(50, 10).Split(text)
	if expected := "The first sentence ends here. "; chunks[0].Text != expected {
		t.Errorf("expected %q, got %q", expected, chunks[0].Text)
	}
}

func TestSplitHardCutOffsets(t *testing.T) {
	chunks := New(1000, 150).Split(strings.Repeat("x", 2500))
	var starts []int
	for _, c := range chunks {
		starts = append(starts, c.Start)
	}
	if diff := cmp.Diff([]int{0, 850, 1700}, starts); diff != "" {
		t.Error(diff)
	}
}

func TestSplitOverlapStartsAtWord(t *testing.T) {
	text := strings.Repeat("word ", 300)
	chunks := New(100, 20).Split(text)
	for i, c := range chunks[1:] {
		if strings.HasPrefix(c.Text, " ") || !strings.HasPrefix(c.Text, "word") {
			t.Errorf("chunk %d: expected to start at a word, got %q", i+1, c.Text[:10])
		}
	}
}

func TestNewNormalisesSettings(t *testing.T) {
	tests := []struct {
		name            string
		size, overlap   int
		expectedSize    int
		expectedOverlap int
	}{
		{name: "zero size uses the default", size: 0, overlap: 10, expectedSize: DefaultChunkSize, expectedOverlap: 10},
		{name: "negative overlap is zero", size: 100, overlap: -1, expectedSize: 100, expectedOverlap: 0},
		{name: "overlap must be smaller than size", size: 100, overlap: 100, expectedSize: 100, expectedOverlap: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.size, tt.overlap)
			if s.ChunkSize != tt.expectedSize || s.ChunkOverlap != tt.expectedOverlap {
				t.Errorf("expected %d/%d, got %d/%d", tt.expectedSize, tt.expectedOverlap, s.ChunkSize, s.ChunkOverlap)
			}
		})
	}
}
