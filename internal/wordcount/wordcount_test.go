package wordcount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapperMap(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  []Pair
	}{
		{
			name:  "simple line",
			lines: []string{"the cat sat"},
			want:  []Pair{{"cat", 1}, {"sat", 1}, {"the", 1}},
		},
		{
			name:  "case and punctuation are normalized",
			lines: []string{"The CAT, the cat!"},
			want:  []Pair{{"cat", 2}, {"the", 2}},
		},
		{
			name:  "punctuation-only tokens are dropped",
			lines: []string{"-- ... !!", "   "},
			want:  []Pair{},
		},
		{
			name:  "inner punctuation is stripped",
			lines: []string{"don't co-op 42nd"},
			want:  []Pair{{"42nd", 1}, {"coop", 1}, {"dont", 1}},
		},
		{
			name:  "counts accumulate across lines",
			lines: []string{"a b", "b\tc", "c c"},
			want:  []Pair{{"a", 1}, {"b", 2}, {"c", 3}},
		},
		{
			name:  "unicode letters survive",
			lines: []string{"Café café"},
			want:  []Pair{{"café", 2}},
		},
		{
			name:  "numeric runes outside decimal digits survive",
			lines: []string{"x² ½ (Ⅻ)"},
			want:  []Pair{{"x²", 1}, {"½", 1}, {"ⅻ", 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMapper()
			for _, line := range tt.lines {
				m.Map(line)
			}
			assert.Equal(t, tt.want, m.Emit())
		})
	}
}

func TestReducerAddAccumulates(t *testing.T) {
	r := NewReducer()
	r.Add("the", 1)
	r.Add("the", 1)
	r.Add("cat", 3)

	assert.Equal(t, map[string]int{"the": 2, "cat": 3}, r.Emit())
}

func TestReducerReduceOverwrites(t *testing.T) {
	r := NewReducer()
	r.Reduce("the", []int{1, 2})
	assert.Equal(t, 3, r.Emit()["the"])

	// A second call replaces the total instead of adding to it
	r.Reduce("the", []int{4})
	assert.Equal(t, 4, r.Emit()["the"])
}

func TestReducerEmitIsCopy(t *testing.T) {
	r := NewReducer()
	r.Add("x", 1)

	out := r.Emit()
	out["x"] = 100

	assert.Equal(t, 1, r.Emit()["x"])
}

// TestPartitionInvariance checks that mapping chunks separately and adding
// the partial tables gives the same totals as one pass over the input.
func TestPartitionInvariance(t *testing.T) {
	lines := []string{
		"the quick brown fox",
		"jumps over the lazy dog",
		"The dog barks; the fox runs!",
		"",
		"over and over and OVER",
	}
	want := Count(lines)

	for size := 1; size <= len(lines)+1; size++ {
		r := NewReducer()
		for start := 0; start < len(lines); start += size {
			end := start + size
			if end > len(lines) {
				end = len(lines)
			}
			m := NewMapper()
			for _, line := range lines[start:end] {
				m.Map(line)
			}
			for _, p := range m.Emit() {
				r.Add(p.Word, p.Count)
			}
		}
		assert.Equal(t, want, r.Emit(), "chunk size %d", size)
	}
}
