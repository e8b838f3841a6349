package serving

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loiht2/ml-platform-assistant/backend/dataset"
	"github.com/loiht2/ml-platform-assistant/backend/predict"
)

func TestModelName(t *testing.T) {
	assert.Equal(t, "iris-csv-qwen-qwen2-0-5b", ModelName("iris.csv", "Qwen/Qwen2-0.5B"))
	assert.Equal(t, "a", ModelName("__a", "-"))
	assert.LessOrEqual(t, len(ModelName(string(make([]byte, 100)), "x")), 63)
}

func predictor(t *testing.T, ready bool, predictions []any, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/models/people-csv-qwen":
			_ = json.NewEncoder(w).Encode(map[string]any{"name": "people-csv-qwen", "ready": ready})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/models/people-csv-qwen:predict":
			body := map[string]any{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			*seen = body
			_ = json.NewEncoder(w).Encode(map[string]any{"predictions": predictions})
		default:
			http.NotFound(w, r)
		}
	}))
}

func row() predict.Row {
	age, income := 34.0, 50000.0
	return predict.Row{
		{Column: "age", Kind: dataset.KindNumeric, Number: &age},
		{Column: "income", Kind: dataset.KindNumeric, Number: &income},
		{Column: "city", Kind: dataset.KindText, Text: "Hanoi"},
	}
}

func TestClassifierPredict(t *testing.T) {
	var seen map[string]any
	srv := predictor(t, true, []any{"approved", "ignored"}, &seen)
	defer srv.Close()

	clf, err := NewClient(srv.URL+"/", time.Second).Load(context.Background(), "people.csv", "qwen")
	require.NoError(t, err)

	label, err := clf.Predict(context.Background(), row())
	require.NoError(t, err)
	assert.Equal(t, "approved", label)
	assert.Equal(t, map[string]any{
		"instances": []any{[]any{34.0, 50000.0, "Hanoi"}},
	}, seen)
}

func TestClassifierNamedInstances(t *testing.T) {
	var seen map[string]any
	srv := predictor(t, true, []any{"approved"}, &seen)
	defer srv.Close()

	c := NewClient(srv.URL, time.Second).SetInstanceFormat(InstancesNamed)
	clf, err := c.Load(context.Background(), "people.csv", "qwen")
	require.NoError(t, err)

	_, err = clf.Predict(context.Background(), row())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"instances": []any{map[string]any{"age": 34.0, "income": 50000.0, "city": "Hanoi"}},
	}, seen)
}

func TestClassifierPositionalKeepsMissingValues(t *testing.T) {
	var seen map[string]any
	srv := predictor(t, true, []any{"approved"}, &seen)
	defer srv.Close()

	clf, err := NewClient(srv.URL, time.Second).SetInstanceFormat("bogus").Load(context.Background(), "people.csv", "qwen")
	require.NoError(t, err)

	r := row()
	r[0].Number = nil
	_, err = clf.Predict(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{nil, 50000.0, "Hanoi"}}, seen["instances"])
}

func TestClassifierNumericLabel(t *testing.T) {
	var seen map[string]any
	srv := predictor(t, true, []any{1.0}, &seen)
	defer srv.Close()

	clf, err := NewClient(srv.URL, time.Second).Load(context.Background(), "people.csv", "qwen")
	require.NoError(t, err)
	label, err := clf.Predict(context.Background(), row())
	require.NoError(t, err)
	assert.Equal(t, "1", label)
}

func TestClassifierNoPredictions(t *testing.T) {
	var seen map[string]any
	srv := predictor(t, true, []any{}, &seen)
	defer srv.Close()

	clf, err := NewClient(srv.URL, time.Second).Load(context.Background(), "people.csv", "qwen")
	require.NoError(t, err)
	_, err = clf.Predict(context.Background(), row())
	assert.ErrorIs(t, err, ErrNoPrediction)
}

func TestLoadRejectsUnreadyOrMissingModel(t *testing.T) {
	var seen map[string]any
	srv := predictor(t, false, nil, &seen)
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)

	_, err := c.Load(context.Background(), "people.csv", "qwen")
	assert.ErrorIs(t, err, ErrModelNotReady)

	_, err = c.Load(context.Background(), "other.csv", "qwen")
	assert.ErrorIs(t, err, ErrModelNotReady)
}
