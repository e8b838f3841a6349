package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PublishStore is the part of the object store a Publisher writes to.
type PublishStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Publisher uploads job outputs, hands back presigned URLs and remembers
// what it wrote so a failed job can be rolled back.
type Publisher struct {
	store    PublishStore
	expiry   time.Duration
	logger   *zap.Logger
	uploaded []string
}

// NewPublisher creates a publisher whose URLs expire after expiry.
func NewPublisher(store PublishStore, expiry time.Duration, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.L()
	}
	return &Publisher{store: store, expiry: expiry, logger: logger}
}

// Put uploads data under key and returns a presigned GET URL for it.
func (p *Publisher) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := p.store.Upload(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("upload of %s failed: %w", key, err)
	}
	p.uploaded = append(p.uploaded, key)
	url, err := p.store.PresignedURL(ctx, key, p.expiry)
	if err != nil {
		return "", fmt.Errorf("could not presign %s: %w", key, err)
	}
	p.logger.Info("artifact published", zap.String("key", key))
	return url, nil
}

// Rollback deletes everything Put uploaded so a failed job leaves no partial
// artifacts. It runs even when ctx is already cancelled.
func (p *Publisher) Rollback(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	for _, key := range p.uploaded {
		if err := p.store.Delete(ctx, key); err != nil {
			p.logger.Warn("could not remove partial artifact", zap.String("key", key), zap.Error(err))
		}
	}
	p.uploaded = nil
}
