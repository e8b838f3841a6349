// Package textclean repairs the whitespace and repetition defects that small
// fine-tuned generators leave in their output.
package textclean

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	spaceRun   = regexp.MustCompile(` +`)
	newlineRun = regexp.MustCompile(`\n{2,}`)
)

const (
	minRepeatLen = 3
	maxRepeatLen = 20
)

// Clean runs the full post-processing chain over generated text.
func Clean(text string) string {
	text = norm.NFKC.String(text)
	text = CollapseRepeats(text)
	text = SplitBoundaries(text)
	text = CollapseWhitespace(text)
	text = strings.Join(DefaultSegmenter().Split(text), " ")
	return strings.TrimSpace(text)
}

// CollapseRepeats replaces a word of 3 to 20 word characters that is
// immediately repeated after single spaces with one occurrence.
func CollapseRepeats(text string) string {
	rs := []rune(text)
	var b strings.Builder
	b.Grow(len(text))

	for i := 0; i < len(rs); {
		if !isWordRune(rs[i]) || (i > 0 && isWordRune(rs[i-1])) {
			b.WriteRune(rs[i])
			i++
			continue
		}
		end := wordEnd(rs, i)
		n := end - i
		if n >= minRepeatLen && n <= maxRepeatLen {
			for end < len(rs) && rs[end] == ' ' && repeatsAt(rs, end+1, rs[i:i+n]) {
				end += 1 + n
			}
		}
		b.WriteString(string(rs[i : i+n]))
		i = end
	}
	return b.String()
}

// SplitBoundaries inserts a space at lower-to-upper case transitions and
// between a letter and a following digit.
func SplitBoundaries(text string) string {
	rs := []rune(text)
	var b strings.Builder
	b.Grow(len(text) + 8)

	for i, r := range rs {
		if i > 0 {
			prev := rs[i-1]
			switch {
			case isASCIILower(prev) && isASCIIUpper(r):
				b.WriteByte(' ')
			case isASCIILetter(prev) && isASCIIDigit(r):
				b.WriteByte(' ')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CollapseWhitespace squeezes space runs to one space and newline runs to a
// single blank line.
func CollapseWhitespace(text string) string {
	text = spaceRun.ReplaceAllString(text, " ")
	return newlineRun.ReplaceAllString(text, "\n\n")
}

func repeatsAt(rs []rune, at int, word []rune) bool {
	if at+len(word) > len(rs) {
		return false
	}
	for k, r := range word {
		if rs[at+k] != r {
			return false
		}
	}
	return at+len(word) == len(rs) || !isWordRune(rs[at+len(word)])
}

func wordEnd(rs []rune, i int) int {
	for i < len(rs) && isWordRune(rs[i]) {
		i++
	}
	return i
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isASCIILower(r rune) bool  { return r >= 'a' && r <= 'z' }
func isASCIIUpper(r rune) bool  { return r >= 'A' && r <= 'Z' }
func isASCIIDigit(r rune) bool  { return r >= '0' && r <= '9' }
func isASCIILetter(r rune) bool { return isASCIILower(r) || isASCIIUpper(r) }
