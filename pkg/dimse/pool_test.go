package dimse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool() *ConnectionPool {
	return NewConnectionPool(PoolConfig{
		AssociationConfig: AssociationConfig{
			Host:       "127.0.0.1",
			Port:       104,
			CallingAET: "GATEWAY",
			CalledAET:  "ARCHIVE",
		},
		MaxPoolSize: 2,
	})
}

func TestPoolRejectsCheckoutAfterClose(t *testing.T) {
	pool := testPool()
	require.NoError(t, pool.Close())

	_, err := pool.Get(context.Background())
	assert.True(t, errors.Is(err, ErrPoolClosed))
	assert.Contains(t, err.Error(), "ARCHIVE")
}

func TestPoolCloseIsIdempotent(t *testing.T) {
	pool := testPool()
	assert.NoError(t, pool.Close())
	assert.NoError(t, pool.Close())
}

func TestPoolDropsStaleAssociationOnReturn(t *testing.T) {
	pool := testPool()
	t.Cleanup(func() { pool.Close() })

	// Never connected, so the return must release it rather than pool it.
	pool.Put(NewAssociation(pool.config))
	assert.Equal(t, 0, pool.Stats().IdleAssociations)
}
