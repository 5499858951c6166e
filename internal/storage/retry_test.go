package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteWithRetry_RetriesOnce(t *testing.T) {
	calls := 0
	err := WriteWithRetry(context.Background(), nil, "test", func() error {
		calls++
		if calls == 1 {
			return errors.New("database is locked")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWriteWithRetry_GivesUp(t *testing.T) {
	calls := 0
	err := WriteWithRetry(context.Background(), nil, "test", func() error {
		calls++
		return errors.New("disk I/O error")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
