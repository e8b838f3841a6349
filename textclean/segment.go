package textclean

import (
	"bufio"
	_ "embed"
	"math"
	"strings"
	"sync"
	"unicode"
)

//go:embed words.txt
var wordsFile string

// unknownCost is charged per out-of-vocabulary piece so that any split
// containing one loses to keeping the run whole.
const unknownCost = 1e9

// A run no longer than the longest listed word is only split when the split
// is cheap: at most maxRuneCost per rune, or at most maxPieceCost per piece
// for splits of three or more pieces. Dearer splits are taken to be an
// unlisted word such as "notable" (no + table).
const (
	maxRuneCost  = 1.3
	maxPieceCost = 6.0
)

// Segmenter splits run-together words using a frequency ranked vocabulary.
// A word at rank r costs log((r+1) * log(N)), the Zipf estimate.
type Segmenter struct {
	cost   map[string]float64
	maxLen int
}

// NewSegmenter builds a segmenter from words ordered by descending frequency.
func NewSegmenter(words []string) *Segmenter {
	s := &Segmenter{cost: make(map[string]float64, len(words))}
	logN := math.Log(float64(max(len(words), 2)))
	for rank, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, seen := s.cost[w]; seen {
			continue
		}
		s.cost[w] = math.Log(float64(rank+1) * logN)
		if n := len([]rune(w)); n > s.maxLen {
			s.maxLen = n
		}
	}
	return s
}

var defaultSegmenter = sync.OnceValue(func() *Segmenter {
	var words []string
	sc := bufio.NewScanner(strings.NewReader(wordsFile))
	for sc.Scan() {
		if w := strings.TrimSpace(sc.Text()); w != "" && !strings.HasPrefix(w, "#") {
			words = append(words, w)
		}
	}
	return NewSegmenter(words)
})

// DefaultSegmenter returns the segmenter over the embedded English word list.
func DefaultSegmenter() *Segmenter {
	return defaultSegmenter()
}

// Known reports whether w is in the vocabulary.
func (s *Segmenter) Known(w string) bool {
	_, ok := s.cost[strings.ToLower(w)]
	return ok
}

// Split breaks text into whitespace separated tokens, further splitting
// letter runs that decompose cheaply and entirely into known words. Punctuation and
// digits stay attached to their neighbours.
func (s *Segmenter) Split(text string) []string {
	var out []string
	for _, field := range strings.Fields(text) {
		out = append(out, s.splitField(field)...)
	}
	return out
}

func (s *Segmenter) splitField(field string) []string {
	var (
		tokens []string
		cur    strings.Builder
	)
	rs := []rune(field)
	for i := 0; i < len(rs); {
		j := i
		letters := unicode.IsLetter(rs[i])
		for j < len(rs) && unicode.IsLetter(rs[j]) == letters {
			j++
		}
		run := rs[i:j]
		i = j

		if !letters {
			cur.WriteString(string(run))
			continue
		}
		pieces := s.segment(run)
		for k, p := range pieces {
			if k > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
			cur.WriteString(p)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// segment returns the cheapest split of a letter run, or the run itself when
// it is already a word or cannot be covered by known words.
func (s *Segmenter) segment(run []rune) []string {
	whole := string(run)
	lower := []rune(strings.ToLower(whole))
	if len(lower) != len(run) || s.Known(whole) || len(run) < 2 {
		return []string{whole}
	}

	n := len(lower)
	best := make([]float64, n+1)
	from := make([]int, n+1)
	for i := 1; i <= n; i++ {
		best[i] = math.Inf(1)
		for k := 1; k <= s.maxLen && k <= i; k++ {
			c := best[i-k] + s.pieceCost(lower[i-k:i])
			if c < best[i] {
				best[i] = c
				from[i] = i - k
			}
		}
	}
	if best[n] >= unknownCost {
		return []string{whole}
	}

	var pieces []string
	for i := n; i > 0; i = from[i] {
		pieces = append(pieces, string(run[from[i]:i]))
	}
	for l, r := 0, len(pieces)-1; l < r; l, r = l+1, r-1 {
		pieces[l], pieces[r] = pieces[r], pieces[l]
	}
	if !s.plausibleSplit(n, len(pieces), best[n]) {
		return []string{whole}
	}
	return pieces
}

func (s *Segmenter) plausibleSplit(runLen, pieces int, cost float64) bool {
	if runLen > s.maxLen {
		return true
	}
	if cost/float64(runLen) <= maxRuneCost {
		return true
	}
	return pieces >= 3 && cost/float64(pieces) <= maxPieceCost
}

// pieceCost prices a candidate piece. "a" is the only single letter allowed
// inside a run; a lowercase "i" there is almost always a suffix like "-ion".
func (s *Segmenter) pieceCost(piece []rune) float64 {
	if len(piece) == 1 && piece[0] != 'a' {
		return unknownCost
	}
	if c, ok := s.cost[string(piece)]; ok {
		return c
	}
	return unknownCost
}
