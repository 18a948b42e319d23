// Package wordcount holds the map and reduce functions of the word-count job.
package wordcount

import (
	"strings"
	"unicode"

	"golang.org/x/exp/slices"
)

// Pair is a word with its occurrence count.
type Pair struct {
	Word  string
	Count int
}

// Mapper accumulates word counts for the lines it is given.
type Mapper struct {
	counts map[string]int
}

// NewMapper creates an empty mapper.
func NewMapper() *Mapper {
	return &Mapper{counts: make(map[string]int)}
}

// Map counts the words of one line. A word is a whitespace-separated token,
// lower-cased, with every character that is not a letter or number removed;
// tokens that end up empty are ignored.
func (m *Mapper) Map(line string) {
	for _, token := range strings.Fields(strings.ToLower(line)) {
		word := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsNumber(r) {
				return r
			}
			return -1
		}, token)
		if word != "" {
			m.counts[word]++
		}
	}
}

// Emit returns the accumulated counts sorted by word.
func (m *Mapper) Emit() []Pair {
	pairs := make([]Pair, 0, len(m.counts))
	for w, c := range m.counts {
		pairs = append(pairs, Pair{Word: w, Count: c})
	}
	slices.SortFunc(pairs, func(a, b Pair) int { return strings.Compare(a.Word, b.Word) })
	return pairs
}

// Reducer merges partial counts into totals.
type Reducer struct {
	totals map[string]int
}

// NewReducer creates an empty reducer.
func NewReducer() *Reducer {
	return &Reducer{totals: make(map[string]int)}
}

// Add accumulates count into the total for word.
func (r *Reducer) Add(word string, count int) {
	r.totals[word] += count
}

// Reduce sets the total for word to the sum of counts, replacing whatever
// was there. Use Add to merge partial results from several chunks.
func (r *Reducer) Reduce(word string, counts []int) {
	sum := 0
	for _, c := range counts {
		sum += c
	}
	r.totals[word] = sum
}

// Emit returns a copy of the totals.
func (r *Reducer) Emit() map[string]int {
	out := make(map[string]int, len(r.totals))
	for w, c := range r.totals {
		out[w] = c
	}
	return out
}

// Count maps every line in a single pass and returns the totals.
func Count(lines []string) map[string]int {
	m := NewMapper()
	for _, line := range lines {
		m.Map(line)
	}
	out := make(map[string]int)
	for _, p := range m.Emit() {
		out[p.Word] = p.Count
	}
	return out
}
