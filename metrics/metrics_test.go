package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestUpdateJobPhaseMetric(t *testing.T) {
	phases := []string{"pending", "training", "completed"}
	UpdateJobPhaseMetric("training", phases)

	assert.Equal(t, 1.0, testutil.ToFloat64(jobPhaseMetric.WithLabelValues("training")))
	assert.Equal(t, 0.0, testutil.ToFloat64(jobPhaseMetric.WithLabelValues("pending")))
	assert.Equal(t, 0.0, testutil.ToFloat64(jobPhaseMetric.WithLabelValues("completed")))
}

func TestIncreasePipelineCacheMetric(t *testing.T) {
	before := testutil.ToFloat64(pipelineCacheTotalMetric.WithLabelValues(CacheHit))
	IncreasePipelineCacheMetric(CacheHit)
	assert.Equal(t, before+1, testutil.ToFloat64(pipelineCacheTotalMetric.WithLabelValues(CacheHit)))
}

func TestIncreaseClusteringMetric(t *testing.T) {
	before := testutil.ToFloat64(clusteringRunsTotalMetric.WithLabelValues(OutcomeFailed))
	IncreaseClusteringMetric(OutcomeFailed)
	assert.Equal(t, before+1, testutil.ToFloat64(clusteringRunsTotalMetric.WithLabelValues(OutcomeFailed)))
}

func TestMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := NewMiddleware("test", reg)

	r := gin.New()
	r.Use(m.Handler())
	r.GET("/api/v1/progress", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("200", "GET", "/api/v1/progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("404", "GET", "unmatched")))
}
