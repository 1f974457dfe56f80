package narration

import (
	"iter"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Chunk is a bounded piece of text submitted as one synthesis request.
// Index is the 0-based playback position.
type Chunk struct {
	Index int
	Text  string
}

var sentenceEnd = regexp.MustCompile(`[.!?]+["'”’)\]]*\s+`)

// Chunks lazily splits text into chunks of at most maxChars characters,
// breaking at sentence boundaries and falling back to word boundaries for
// sentences that do not fit. A single word longer than maxChars is yielded
// on its own. maxChars <= 0 disables splitting.
func Chunks(text string, maxChars int) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return
		}
		if maxChars <= 0 || utf8.RuneCountInString(trimmed) <= maxChars {
			yield(Chunk{Index: 0, Text: trimmed})
			return
		}

		next := 0
		emit := func(s string) bool {
			c := Chunk{Index: next, Text: s}
			next++
			return yield(c)
		}

		var acc accumulator
		for _, sentence := range splitSentences(trimmed) {
			n := utf8.RuneCountInString(sentence)
			if n > maxChars {
				if !acc.flush(emit) {
					return
				}
				for _, group := range wordGroups(sentence, maxChars) {
					if !emit(group) {
						return
					}
				}
				continue
			}
			if !acc.fits(n, maxChars) && !acc.flush(emit) {
				return
			}
			acc.add(sentence, n)
		}
		acc.flush(emit)
	}
}

// Split collects Chunks into a slice.
func Split(text string, maxChars int) []Chunk {
	return slices.Collect(Chunks(text, maxChars))
}

type accumulator struct {
	b strings.Builder
	n int
}

func (a *accumulator) fits(n, limit int) bool {
	if a.n == 0 {
		return true
	}
	return a.n+1+n <= limit
}

func (a *accumulator) add(s string, n int) {
	if a.n > 0 {
		a.b.WriteByte(' ')
		a.n++
	}
	a.b.WriteString(s)
	a.n += n
}

func (a *accumulator) flush(emit func(string) bool) bool {
	if a.n == 0 {
		return true
	}
	s := a.b.String()
	a.b.Reset()
	a.n = 0
	return emit(s)
}

func splitSentences(text string) []string {
	var out []string
	prev := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[prev:m[1]]); s != "" {
			out = append(out, s)
		}
		prev = m[1]
	}
	if s := strings.TrimSpace(text[prev:]); s != "" {
		out = append(out, s)
	}
	return out
}

func wordGroups(sentence string, maxChars int) []string {
	var (
		groups []string
		acc    accumulator
	)
	collect := func(s string) bool {
		groups = append(groups, s)
		return true
	}
	for _, word := range strings.Fields(sentence) {
		n := utf8.RuneCountInString(word)
		if !acc.fits(n, maxChars) {
			acc.flush(collect)
		}
		acc.add(word, n)
	}
	acc.flush(collect)
	return groups
}
