package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-tenant-rbac/shared/testutil"
)

func counter(n *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(n, 1)
		return nil
	}
}

func TestCatalogSyncReloadsOnOtherProcessChanges(t *testing.T) {
	_, client := testutil.NewRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var local, remote int32
	a := NewCatalogSync(client, CatalogChannel)
	b := NewCatalogSync(client, CatalogChannel)
	require.NoError(t, a.Watch(ctx, counter(&local), 0))
	require.NoError(t, b.Watch(ctx, counter(&remote), 0))

	require.NoError(t, a.CatalogChanged(ctx))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&remote) == 1 }, 2*time.Second, 10*time.Millisecond)

	// the announcing process already reloaded before publishing
	require.NoError(t, b.CatalogChanged(ctx))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&local) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&remote))
}

func TestCatalogSyncPeriodicReload(t *testing.T) {
	_, client := testutil.NewRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads int32
	s := NewCatalogSync(client, CatalogChannel)
	require.NoError(t, s.Watch(ctx, counter(&reloads), 10*time.Millisecond))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&reloads) >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)
	stopped := atomic.LoadInt32(&reloads)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&reloads))
}

func TestCatalogSyncWatchFailsWithoutRedis(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	mr.Close()

	s := NewCatalogSync(client, CatalogChannel)
	assert.Error(t, s.Watch(context.Background(), counter(new(int32)), 0))
}
