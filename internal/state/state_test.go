package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySequence_Concurrent(t *testing.T) {
	seq := NewMemorySequence(1000)

	var wg sync.WaitGroup
	ids := make(chan int, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := seq.Next()
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		assert.Greater(t, id, 1000)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}

func TestBadgerSequence_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	seq, err := OpenBadgerSequence(dir, 1000)
	require.NoError(t, err)
	first, err := seq.Next()
	require.NoError(t, err)
	second, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, 1001, first)
	assert.Equal(t, 1002, second)
	require.NoError(t, seq.Close())

	seq, err = OpenBadgerSequence(dir, 1000)
	require.NoError(t, err)
	defer seq.Close()
	third, err := seq.Next()
	require.NoError(t, err)
	assert.Equal(t, 1003, third)
}

func TestMemoryBusinessState_Transactions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBusinessState()

	tx := &TransactionInfo{TransactionID: 7, ClientID: "CP-1", ConnectorID: 1, IdTag: "TAG1", StartTime: time.Now(), Status: TransactionActive}
	require.NoError(t, store.CreateTransaction(ctx, tx))
	assert.Error(t, store.CreateTransaction(ctx, tx))

	active, err := store.GetActiveTransactions(ctx, "CP-1")
	require.NoError(t, err)
	require.Len(t, active, 1)

	tx.Status = TransactionStopped
	require.NoError(t, store.UpdateTransaction(ctx, tx))
	active, err = store.GetActiveTransactions(ctx, "CP-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = store.GetTransaction(ctx, 8)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(store.UpdateTransaction(ctx, &TransactionInfo{TransactionID: 9}), ErrNotFound))
}

func TestMemoryBusinessState_ConnectorStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBusinessState()

	require.NoError(t, store.SetConnectorStatus(ctx, "CP-1", &ConnectorStatus{ConnectorID: 2, Status: "Charging"}))
	status, err := store.GetConnectorStatus(ctx, "CP-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "Charging", status.Status)

	_, err = store.GetConnectorStatus(ctx, "CP-1", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SetChargePointInfo(ctx, &ChargePointInfo{ClientID: "CP-1", Vendor: "Acme"}))
	info, err := store.GetChargePointInfo(ctx, "CP-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", info.Vendor)
}
