package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	objects map[string][]byte
	failOn  string
	deleted []string
}

func (m *memStore) Upload(_ context.Context, key string, data []byte, _ string) error {
	if key == m.failOn {
		return errors.New("disk full")
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memStore) PresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	return "https://minio.local/" + key + "?ttl=" + expiry.String(), nil
}

func TestPublisherPutAndRollback(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}, failOn: "result/b"}
	pub := NewPublisher(store, time.Hour, nil)

	url, err := pub.Put(context.Background(), "result/a", []byte("a"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "https://minio.local/result/a?ttl=1h0m0s", url)

	_, err = pub.Put(context.Background(), "result/b", []byte("b"), "text/plain")
	assert.ErrorContains(t, err, "upload of result/b failed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub.Rollback(ctx)
	assert.Equal(t, []string{"result/a"}, store.deleted)
	assert.Empty(t, store.objects)

	pub.Rollback(context.Background())
	assert.Len(t, store.deleted, 1)
}
