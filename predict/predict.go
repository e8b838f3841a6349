package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/loiht2/ml-platform-assistant/backend/dataset"
	"github.com/loiht2/ml-platform-assistant/backend/metrics"
)

const (
	SuccessMessage   = "Success"
	NotLoadedMessage = "Model or features not loaded."
)

// Cell is one coerced feature value. Number is nil for a missing numeric value.
type Cell struct {
	Column string
	Kind   dataset.Kind
	Number *float64
	Text   string
}

// Row is a single feature row in schema order.
type Row []Cell

// Values returns the row as column to value, with missing numbers as nil.
func (r Row) Values() map[string]any {
	out := make(map[string]any, len(r))
	for _, c := range r {
		out[c.Column] = c.value()
	}
	return out
}

// Ordered returns the cell values in feature column order, with missing
// numbers as nil.
func (r Row) Ordered() []any {
	out := make([]any, len(r))
	for i, c := range r {
		out[i] = c.value()
	}
	return out
}

func (c Cell) value() any {
	if c.Kind != dataset.KindNumeric {
		return c.Text
	}
	if c.Number == nil {
		return nil
	}
	return *c.Number
}

// Classifier labels a single feature row.
type Classifier interface {
	Predict(ctx context.Context, row Row) (string, error)
}

// Predict runs in through classifier. A nil prediction means no result and
// the message says why.
func Predict(ctx context.Context, in Input, classifier Classifier, reference *dataset.Table, features []string) (prediction *string, message string) {
	if classifier == nil || reference == nil || len(features) == 0 {
		metrics.IncreasePredictionMetric(metrics.OutcomeUnloaded)
		return nil, NotLoadedMessage
	}

	row, err := BuildRow(in, reference, features)
	if err != nil {
		metrics.IncreasePredictionMetric(metrics.OutcomeRejected)
		return nil, err.Error()
	}

	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorw("classifier panicked", "panic", r)
			metrics.IncreasePredictionMetric(metrics.OutcomeFailed)
			prediction, message = nil, fmt.Sprint(r)
		}
	}()

	label, err := classifier.Predict(ctx, row)
	if err != nil {
		zap.S().Warnw("prediction failed", "error", err)
		metrics.IncreasePredictionMetric(metrics.OutcomeFailed)
		return nil, err.Error()
	}
	metrics.IncreasePredictionMetric(metrics.OutcomeSuccess)
	return &label, SuccessMessage
}

// BuildRow maps in onto features and coerces each value to the kind of the
// matching column in reference.
func BuildRow(in Input, reference *dataset.Table, features []string) (Row, error) {
	values := make(map[string]any, len(features))
	switch v := in.(type) {
	case Positional:
		if len(v.Values) != len(features) {
			return nil, fmt.Errorf("Input has %d values but the model expects %d features (%s).",
				len(v.Values), len(features), strings.Join(features, ", "))
		}
		for i, f := range features {
			values[f] = v.Values[i]
		}
	case Named:
		if err := sameColumns(v.Values, features); err != nil {
			return nil, err
		}
		values = v.Values
	default:
		return nil, ErrInvalidInput
	}

	row := make(Row, 0, len(features))
	for _, f := range features {
		kind, ok := reference.Kind(f)
		if !ok {
			kind = dataset.KindText
		}
		cell := Cell{Column: f, Kind: kind}
		if kind == dataset.KindNumeric {
			cell.Number = toNumber(values[f])
		} else {
			cell.Text = toText(values[f])
		}
		row = append(row, cell)
	}
	return row, nil
}

func sameColumns(values map[string]any, features []string) error {
	want := make(map[string]struct{}, len(features))
	for _, f := range features {
		want[f] = struct{}{}
	}
	var missing, unexpected []string
	for _, f := range features {
		if _, ok := values[f]; !ok {
			missing = append(missing, f)
		}
	}
	for k := range values {
		if _, ok := want[k]; !ok {
			unexpected = append(unexpected, k)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	sort.Strings(unexpected)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing columns: "+strings.Join(missing, ", "))
	}
	if len(unexpected) > 0 {
		parts = append(parts, "unexpected columns: "+strings.Join(unexpected, ", "))
	}
	return fmt.Errorf("Input does not match the model features (%s).", strings.Join(parts, "; "))
}

// toNumber coerces v to a float. Values that do not parse are missing.
func toNumber(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		p, err := n.Float64()
		if err != nil {
			return nil
		}
		f = p
	case bool:
		if n {
			f = 1
		}
	case string:
		s := strings.TrimSpace(n)
		if dataset.IsMissing(s) {
			return nil
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = p
	default:
		return nil
	}
	return &f
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "True"
		}
		return "False"
	}
	return fmt.Sprint(v)
}
