package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"eventchain/internal/contract"
	apperrors "eventchain/internal/errors"
	"eventchain/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEvents_Empty(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})

	events, err := w.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 1, c.Calls(contract.MethodNextID))
	assert.Equal(t, 0, c.Calls(contract.MethodEvents))

	snap := w.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(0), snap.NextID)
}

func TestListEvents_CoversAllIDsInOrder(t *testing.T) {
	w, c := newTestWorkflow(t, Options{ListWorkers: 4})
	for i := 0; i < 25; i++ {
		seed(c, fmt.Sprintf("Event %d", i), int64(i+1), 10, 10)
	}

	events, err := w.ListEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 25)
	for i, e := range events {
		assert.Equal(t, uint64(i), e.ID)
		assert.Equal(t, fmt.Sprintf("Event %d", i), e.Name)
		assert.Equal(t, big.NewInt(int64(i+1)).String(), e.Price)
		assert.Equal(t, admin.Hex(), e.Admin)
	}
	assert.Equal(t, 25, c.Calls(contract.MethodEvents))
	assert.Equal(t, uint64(25), w.Snapshot().NextID)
}

func TestListEvents_FailureKeepsStaleSnapshot(t *testing.T) {
	sink := &recordingSink{}
	w, c := newTestWorkflow(t, Options{ListWorkers: 3, Sinks: []Sink{sink}})
	for i := 0; i < 10; i++ {
		seed(c, fmt.Sprintf("Event %d", i), 1, 5, 5)
	}

	_, err := w.ListEvents(context.Background())
	require.NoError(t, err)
	stale := w.Snapshot()
	require.Len(t, stale.Events, 10)
	assert.Equal(t, 1, sink.Snapshots())

	c.SetCallHook(func(method string, args []interface{}) error {
		if method == contract.MethodEvents && args[0].(*big.Int).Int64() == 7 {
			return errors.New("execution timeout")
		}
		return nil
	})
	seed(c, "Event 10", 1, 5, 5)

	events, err := w.ListEvents(context.Background())
	assert.Nil(t, events)
	assert.ErrorIs(t, err, apperrors.ErrListFailed)
	assert.Contains(t, err.Error(), "读取活动 7 失败")
	assert.Same(t, stale, w.Snapshot())
	assert.Len(t, w.Events(), 10)
	assert.Equal(t, 1, sink.Snapshots())
}

func TestListEvents_NextIDFailure(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})
	c.SetCallHook(func(method string, _ []interface{}) error {
		if method == contract.MethodNextID {
			return errors.New("connection refused")
		}
		return nil
	})

	_, err := w.ListEvents(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrListFailed)
	assert.Nil(t, w.Snapshot())
	assert.Equal(t, 0, c.Calls(contract.MethodEvents))
}

func TestListEvents_ReturnsFreshCopies(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})
	seed(c, "Concert", 100, 3, 3)

	first, err := w.ListEvents(context.Background())
	require.NoError(t, err)
	first[0].Name = "changed"
	first[0].TicketsRemaining = 0

	assert.Equal(t, "Concert", w.Events()[0].Name)

	second, err := w.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Concert", second[0].Name)
	assert.Equal(t, uint64(3), second[0].TicketsRemaining)
}

func TestNormalizeEvent(t *testing.T) {
	good := []interface{}{admin, "Gala", big.NewInt(1999999999), big.NewInt(5), big.NewInt(10), big.NewInt(4)}
	rec, err := normalizeEvent(2, good)
	require.NoError(t, err)
	assert.Equal(t, &models.EventRecord{
		ID:               2,
		Admin:            admin.Hex(),
		Name:             "Gala",
		Date:             1999999999,
		Price:            "5",
		TicketCount:      10,
		TicketsRemaining: 4,
	}, rec)

	tests := []struct {
		name   string
		values []interface{}
	}{
		{"too few values", good[:5]},
		{"admin type", []interface{}{"x", "Gala", big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(1)}},
		{"negative price", []interface{}{admin, "Gala", big.NewInt(1), big.NewInt(-1), big.NewInt(1), big.NewInt(1)}},
		{"huge count", []interface{}{admin, "Gala", big.NewInt(1), big.NewInt(1),
			new(big.Int).Lsh(big.NewInt(1), 70), big.NewInt(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizeEvent(0, tt.values)
			assert.Error(t, err)
		})
	}
}

func TestSameEvents(t *testing.T) {
	a := []*models.EventRecord{{ID: 0, Name: "A", Price: "1", TicketsRemaining: 2}}
	b := []*models.EventRecord{{ID: 0, Name: "A", Price: "1", TicketsRemaining: 2}}
	assert.True(t, sameEvents(a, b))
	assert.True(t, sameEvents(nil, []*models.EventRecord{}))

	b[0].TicketsRemaining = 1
	assert.False(t, sameEvents(a, b))
	assert.False(t, sameEvents(a, nil))
}
