// Package predict turns structured or free-text input into a feature row and
// runs it through a trained classifier.
package predict

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var (
	numberPattern   = regexp.MustCompile(`[-+]?(?:\d*\.\d+|\d+)`)
	containsPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
	tokenPattern    = regexp.MustCompile(`\w[\w\-.]*`)
)

var ErrInvalidInput = errors.New("Invalid input format.")

// Input is one of Positional, Named or FreeText.
type Input interface {
	isInput()
}

// Positional values map onto the feature columns in order.
type Positional struct {
	Values []any
}

// Named values are keyed by feature column.
type Named struct {
	Values map[string]any
}

// FreeText is a natural language question.
type FreeText struct {
	Text string
}

func (Positional) isInput() {}
func (Named) isInput()      {}
func (FreeText) isInput()   {}

// Structured reports whether in carries explicit feature values.
func Structured(in Input) bool {
	switch in.(type) {
	case Positional, Named:
		return true
	}
	return false
}

// ResolveInput picks the input variant once, at the request boundary. An
// absent or empty raw payload means the question is the input. A string
// payload is split on commas, or into word tokens when it has none.
func ResolveInput(question string, raw any) (Input, error) {
	switch v := raw.(type) {
	case nil:
		return FreeText{Text: question}, nil
	case []any:
		if len(v) == 0 {
			return FreeText{Text: question}, nil
		}
		return Positional{Values: v}, nil
	case map[string]any:
		if len(v) == 0 {
			return FreeText{Text: question}, nil
		}
		return Named{Values: v}, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return FreeText{Text: question}, nil
		}
		return Positional{Values: splitValues(v)}, nil
	}
	return nil, ErrInvalidInput
}

func splitValues(text string) []any {
	var parts []string
	if strings.Contains(text, ",") {
		for _, p := range strings.Split(text, ",") {
			parts = append(parts, strings.TrimSpace(p))
		}
	} else {
		parts = tokenPattern.FindAllString(text, -1)
	}
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}

// ContainsNumber reports whether text has at least one numeric token.
func ContainsNumber(text string) bool {
	return containsPattern.MatchString(text)
}

// ExtractNumbers returns every integer or decimal in text, in order, with its
// sign.
func ExtractNumbers(text string) []float64 {
	matches := numberPattern.FindAllString(text, -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}
