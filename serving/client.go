// Package serving talks to trained classifiers deployed behind the KServe v1
// prediction protocol.
package serving

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/loiht2/ml-platform-assistant/backend/predict"
)

var (
	ErrModelNotReady = errors.New("model is not ready")
	ErrNoPrediction  = errors.New("predictor returned no predictions")

	nonDNS = regexp.MustCompile(`[^a-z0-9-]+`)
)

const maxNameLen = 63

// InstanceFormat is how a feature row is encoded in a predict request.
type InstanceFormat string

const (
	// InstancesPositional sends each row as a list in feature column order,
	// the layout sklearn and xgboost predictors expect.
	InstancesPositional InstanceFormat = "positional"
	// InstancesNamed sends each row as an object keyed by column.
	InstancesNamed InstanceFormat = "named"
)

// ModelName is the deployed name of the classifier trained for dataset and model.
func ModelName(dataset, model string) string {
	name := nonDNS.ReplaceAllString(strings.ToLower(dataset+"-"+model), "-")
	name = strings.Trim(name, "-")
	if len(name) > maxNameLen {
		name = strings.TrimRight(name[:maxNameLen], "-")
	}
	return name
}

// Client calls the predictor service.
type Client struct {
	http    *resty.Client
	baseURL string
	format  InstanceFormat
}

// NewClient creates a client for the predictor rooted at baseURL. Rows are
// sent positionally unless SetInstanceFormat says otherwise.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http:    resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		baseURL: strings.TrimRight(baseURL, "/"),
		format:  InstancesPositional,
	}
}

// SetInstanceFormat changes how rows are encoded. Unknown formats are ignored.
func (c *Client) SetInstanceFormat(f InstanceFormat) *Client {
	switch f {
	case InstancesPositional, InstancesNamed:
		c.format = f
	default:
		zap.S().Warnw("ignoring unknown instance format", "format", f)
	}
	return c
}

type modelStatus struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

type predictRequest struct {
	Instances []any `json:"instances"`
}

type predictResponse struct {
	Predictions []any `json:"predictions"`
}

// Load checks that the classifier for dataset and model is deployed and ready.
func (c *Client) Load(ctx context.Context, dataset, model string) (predict.Classifier, error) {
	name := ModelName(dataset, model)
	var st modelStatus
	resp, err := c.http.R().SetContext(ctx).SetResult(&st).Get(c.baseURL + "/v1/models/" + name)
	if err != nil {
		return nil, fmt.Errorf("failed to reach predictor for %s: %w", name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s (%d)", ErrModelNotReady, name, resp.StatusCode())
	}
	if !st.Ready {
		return nil, fmt.Errorf("%w: %s", ErrModelNotReady, name)
	}
	return &Classifier{client: c, name: name}, nil
}

// Classifier is one deployed model.
type Classifier struct {
	client *Client
	name   string
}

// Predict sends row as a single instance and returns the first prediction.
func (m *Classifier) Predict(ctx context.Context, row predict.Row) (string, error) {
	var instance any = row.Ordered()
	if m.client.format == InstancesNamed {
		instance = row.Values()
	}

	var out predictResponse
	resp, err := m.client.http.R().
		SetContext(ctx).
		SetBody(predictRequest{Instances: []any{instance}}).
		SetResult(&out).
		Post(m.client.baseURL + "/v1/models/" + m.name + ":predict")
	if err != nil {
		return "", fmt.Errorf("prediction request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("predictor %s returned %d: %s", m.name, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if len(out.Predictions) == 0 {
		return "", ErrNoPrediction
	}
	zap.S().Debugw("prediction served", "model", m.name)
	return label(out.Predictions[0]), nil
}

func label(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if len(t) > 0 {
			return label(t[0])
		}
	}
	return fmt.Sprint(v)
}
