package predict

import (
	"fmt"
	"strings"
)

// Task is the workflow the caller selected.
type Task string

const (
	TaskClassification Task = "classification"
	TaskClustering     Task = "clustering"
)

// ParseTask normalizes a task name. Unknown names are kept as given.
func ParseTask(s string) Task {
	return Task(strings.ToLower(strings.TrimSpace(s)))
}

// Route is where a request goes after Decide.
type Route int

const (
	RouteRAG Route = iota
	RoutePredict
	// RouteMismatch carried numbers that do not match the feature count. The
	// question still goes to RAG, with the mismatch reported.
	RouteMismatch
)

func (r Route) String() string {
	switch r {
	case RoutePredict:
		return "predict"
	case RouteMismatch:
		return "mismatch"
	}
	return "rag"
}

const NotEnoughValuesMessage = "Not enough values for prediction."

// Decision is the outcome of Decide.
type Decision struct {
	Route   Route
	Input   Input
	Message string
}

// NeedsSchema reports whether Decide will need the feature count for task and
// in, which means the reference dataset must be loaded first.
func NeedsSchema(task Task, in Input) bool {
	if task != TaskClassification {
		return false
	}
	if Structured(in) {
		return true
	}
	ft, ok := in.(FreeText)
	return ok && ContainsNumber(ft.Text)
}

// Decide applies the routing policy: structured input with classification
// predicts, classification text with exactly featureCount numbers predicts,
// any other count is a mismatch, everything else goes to RAG.
func Decide(task Task, in Input, featureCount int) Decision {
	if task != TaskClassification {
		return Decision{Route: RouteRAG, Input: in}
	}
	if Structured(in) {
		return Decision{Route: RoutePredict, Input: in}
	}
	ft, ok := in.(FreeText)
	if !ok || !ContainsNumber(ft.Text) {
		return Decision{Route: RouteRAG, Input: in}
	}

	nums := ExtractNumbers(ft.Text)
	switch {
	case len(nums) == featureCount && featureCount > 0:
		values := make([]any, len(nums))
		for i, n := range nums {
			values[i] = n
		}
		return Decision{Route: RoutePredict, Input: Positional{Values: values}}
	case len(nums) < featureCount || featureCount == 0:
		return Decision{Route: RouteMismatch, Input: in, Message: NotEnoughValuesMessage}
	default:
		return Decision{
			Route: RouteMismatch,
			Input: in,
			Message: fmt.Sprintf("Too many values for prediction: found %d numbers but the model expects %d features.",
				len(nums), featureCount),
		}
	}
}
