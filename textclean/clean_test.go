package textclean

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanCollapsesRepeatedWords(t *testing.T) {
	assert.Contains(t, Clean("the the the quick fox"), "the quick fox")
	assert.Equal(t, "the quick fox", Clean("the the the quick fox"))
}

func TestCleanSplitsCaseAndDigitBoundaries(t *testing.T) {
	assert.Equal(t, "hello World 42", Clean("helloWorld42"))
}

func TestCleanIsIdempotentOnCleanText(t *testing.T) {
	inputs := []string{
		"The average income is 50000 for this group.",
		"Setosa flowers have the smallest petal length.",
		"hello World 42",
		"unrecognisable tokens like xqzv stay put",
	}
	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once), in)
	}
}

func TestCleanNormalizesCompatibilityForms(t *testing.T) {
	assert.Equal(t, "file", Clean("ﬁle"))
	assert.Equal(t, "data 2", Clean("data２"))
}

func TestCleanRepairsRunTogetherWords(t *testing.T) {
	assert.Equal(t, "the quick brown fox", Clean("thequickbrownfox"))
	assert.Equal(t, "average income, by age", Clean("averageincome,  by age"))
}

func TestCleanKeepsUnlistedWordsWhole(t *testing.T) {
	inputs := []string{
		"Anyone can become notable; meanwhile the outcome is therefore uncertain.",
		"Every suggestion needs a notation and a station.",
		"The carpet in the cabinet is honest work.",
	}
	for _, in := range inputs {
		assert.Equal(t, in, Clean(in))
	}
	assert.Equal(t, "the outcome is", Clean("theoutcomeis"))
	assert.Equal(t, "this is a test", Clean("thisisatest"))
}

func TestCleanTrims(t *testing.T) {
	assert.Equal(t, "answer", Clean("   answer \n\n"))
}

func TestCollapseRepeats(t *testing.T) {
	cases := map[string]string{
		"data data data":          "data",
		"go go go":                "go go go",
		"model  model":            "model  model",
		"models model":            "models model",
		"the theory":              "the theory",
		"value value, value":      "value, value",
		"x income income income.": "x income.",
	}
	for in, want := range cases {
		assert.Equal(t, want, CollapseRepeats(in), in)
	}

	long := strings.Repeat("a", 21)
	assert.Equal(t, long+" "+long, CollapseRepeats(long+" "+long))
}

func TestSplitBoundaries(t *testing.T) {
	assert.Equal(t, "hello World 42", SplitBoundaries("helloWorld42"))
	assert.Equal(t, "ABC", SplitBoundaries("ABC"))
	assert.Equal(t, "42abc", SplitBoundaries("42abc"))
	assert.Equal(t, "i Phone 15", SplitBoundaries("iPhone15"))
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b\n\nc", CollapseWhitespace("a    b\n\n\n\nc"))
	assert.Equal(t, "a\nb", CollapseWhitespace("a\nb"))
}

func TestSegmenterSplit(t *testing.T) {
	seg := NewSegmenter([]string{"the", "hello", "world", "quick", "fox"})

	assert.Equal(t, []string{"hello", "world"}, seg.Split("helloworld"))
	assert.Equal(t, []string{"Hello", "World!"}, seg.Split("HelloWorld!"))
	assert.Equal(t, []string{"the", "fox"}, seg.Split("the   fox"))
	// Runs that cannot be fully covered stay whole.
	assert.Equal(t, []string{"helloxyz"}, seg.Split("helloxyz"))
	assert.Equal(t, []string{"42", "hello"}, seg.Split("42 hello"))
}

func TestSegmenterPrefersFrequentWords(t *testing.T) {
	seg := NewSegmenter([]string{"a", "income", "in", "come"})
	// A known word is never split.
	assert.Equal(t, []string{"income"}, seg.Split("income"))
	assert.Equal(t, []string{"a", "income"}, seg.Split("aincome"))
}

func TestDefaultSegmenterVocabulary(t *testing.T) {
	seg := DefaultSegmenter()
	for _, w := range []string{"the", "average", "income", "hello", "world"} {
		assert.True(t, seg.Known(w), w)
	}
	assert.False(t, seg.Known("xqzv"))
}
