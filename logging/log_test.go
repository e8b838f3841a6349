package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestJobLoggerCapturesEntries(t *testing.T) {
	logger, jobLog := NewJobLogger(zap.NewNop())

	logger.Info("training started", zap.String("dataset", "iris.csv"))
	logger.Debug("debug detail")

	out := string(jobLog.Bytes())
	assert.Contains(t, out, "training started")
	assert.Contains(t, out, "iris.csv")
	assert.Contains(t, out, "debug detail")
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, zap.InfoLevel, ParseLevel("not-a-level").Level())
	assert.Equal(t, zap.DebugLevel, ParseLevel("debug").Level())
}

func TestContextLogger(t *testing.T) {
	logger, jobLog := NewJobLogger(zap.NewNop())
	ctx := WithLogger(context.Background(), logger)

	FromContext(ctx).Info("from a collaborator")
	assert.Contains(t, string(jobLog.Bytes()), "from a collaborator")

	assert.NotNil(t, FromContext(context.Background()))
}
