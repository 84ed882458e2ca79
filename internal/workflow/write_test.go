package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"eventchain/internal/chain"
	"eventchain/internal/chain/chaintest"
	"eventchain/internal/contract"
	apperrors "eventchain/internal/errors"
	"eventchain/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func galaRequest() models.CreateEventRequest {
	return models.CreateEventRequest{
		Name:         "Gala",
		Date:         1999999999,
		UnitPrice:    "0.5",
		TotalTickets: 10,
	}
}

func TestGalaCreateAndBuy(t *testing.T) {
	sink := &recordingSink{}
	w, c := newTestWorkflow(t, Options{Sinks: []Sink{sink}})
	ctx := context.Background()

	created, err := w.CreateEvent(ctx, galaRequest())
	require.NoError(t, err)
	require.True(t, created.Relisted)
	require.NoError(t, created.RelistError)
	require.Len(t, created.Events, 1)

	gala := created.Events[0]
	assert.Equal(t, uint64(0), gala.ID)
	assert.Equal(t, "Gala", gala.Name)
	assert.Equal(t, int64(1999999999), gala.Date)
	assert.Equal(t, "500000000000000000", gala.Price)
	assert.Equal(t, "0.5", gala.PriceEther())
	assert.Equal(t, uint64(10), gala.TicketCount)
	assert.Equal(t, uint64(10), gala.TicketsRemaining)
	assert.Equal(t, admin.Hex(), gala.Admin)

	require.NotNil(t, created.Activity.EventID)
	assert.Equal(t, uint64(0), *created.Activity.EventID)
	assert.Equal(t, models.ActivitySucceeded, created.Activity.Status)
	assert.NotEmpty(t, created.Activity.TxHash)
	assert.Equal(t, chaintest.CreateEventGas, created.Activity.GasUsed)

	bought, err := w.BuyTicket(ctx, models.PurchaseIntent{EventID: 0, Quantity: 3}, created.Events)
	require.NoError(t, err)
	require.Len(t, bought.Events, 1)
	assert.Equal(t, uint64(7), bought.Events[0].TicketsRemaining)
	assert.Equal(t, "1500000000000000000", bought.Activity.Value)
	assert.Equal(t, uint64(3), bought.Activity.Quantity)

	assert.Equal(t, 2, c.Sends())
	acts := sink.Activities()
	require.Len(t, acts, 2)
	assert.Equal(t, models.ActivityCreateEvent, acts[0].Kind)
	assert.Equal(t, models.ActivityBuyTicket, acts[1].Kind)
	// 两次写操作各重新列举一次
	assert.Equal(t, 2, sink.Snapshots())
}

func TestCreateEvent_AppendsToList(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})
	seed(c, "First", 1, 1, 1)
	seed(c, "Second", 1, 1, 1)

	before, err := w.ListEvents(context.Background())
	require.NoError(t, err)

	res, err := w.CreateEvent(context.Background(), galaRequest())
	require.NoError(t, err)
	require.Len(t, res.Events, len(before)+1)

	last := res.Events[len(res.Events)-1]
	assert.Equal(t, uint64(2), last.ID)
	assert.Equal(t, "Gala", last.Name)
	assert.Equal(t, uint64(10), last.TicketsRemaining)
	assert.Equal(t, uint64(2), *res.Activity.EventID)
	assert.Equal(t, before, res.Events[:2])
}

func TestCreateEvent_ValidationRejectsBeforeSend(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *models.CreateEventRequest)
	}{
		{"blank name", func(r *models.CreateEventRequest) { r.Name = "   " }},
		{"zero date", func(r *models.CreateEventRequest) { r.Date = 0 }},
		{"negative price", func(r *models.CreateEventRequest) { r.UnitPrice = "-1" }},
		{"too many decimals", func(r *models.CreateEventRequest) { r.UnitPrice = "0.0000000000000000001" }},
		{"garbage price", func(r *models.CreateEventRequest) { r.UnitPrice = "cheap" }},
		{"zero tickets", func(r *models.CreateEventRequest) { r.TotalTickets = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, c := newTestWorkflow(t, Options{})
			req := galaRequest()
			tt.mutate(&req)

			res, err := w.CreateEvent(context.Background(), req)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, apperrors.ErrCreationFailed)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Equal(t, 0, c.Sends())
		})
	}
}

func TestCreateEvent_RejectedByContract(t *testing.T) {
	sink := &recordingSink{}
	w, c := newTestWorkflow(t, Options{Sinks: []Sink{sink}})
	before := w.Binding()

	req := galaRequest()
	req.Date = chainNow.Add(-time.Hour).Unix()

	res, err := w.CreateEvent(context.Background(), req)
	assert.Nil(t, res)
	require.ErrorIs(t, err, apperrors.ErrCreationFailed)
	assert.ErrorIs(t, err, chain.ErrTransactionReverted)
	assert.Contains(t, err.Error(), "future date")

	var wfErr *apperrors.WorkflowError
	require.True(t, errors.As(err, &wfErr))
	require.NotNil(t, wfErr.TxHash)

	// 不重试，绑定不变
	assert.Equal(t, 1, c.Sends())
	assert.Same(t, before, w.Binding())
	assert.Empty(t, c.Events(contractAddr))

	acts := sink.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActivityFailed, acts[0].Status)
	assert.Equal(t, *wfErr.TxHash, acts[0].TxHash)
	assert.Equal(t, 0, sink.Snapshots())
}

func TestCreateEvent_GasCeiling(t *testing.T) {
	t.Run("default ceiling", func(t *testing.T) {
		w, c := newTestWorkflow(t, Options{})
		var limit uint64
		c.SetSendHook(func(method string, opts *chain.TxOpts) error {
			limit = opts.GasLimit
			return nil
		})
		_, err := w.CreateEvent(context.Background(), galaRequest())
		require.NoError(t, err)
		assert.Equal(t, uint64(3000000), limit)
	})

	t.Run("ceiling below use", func(t *testing.T) {
		w, c := newTestWorkflow(t, Options{CreateGasLimit: 21000})
		_, err := w.CreateEvent(context.Background(), galaRequest())
		assert.ErrorIs(t, err, apperrors.ErrCreationFailed)
		assert.Contains(t, err.Error(), "out of gas")
		assert.Empty(t, c.Events(contractAddr))
	})
}

func TestCreateEvent_SendError(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})
	c.SetSendHook(func(string, *chain.TxOpts) error {
		return errors.New("user denied transaction signature")
	})

	_, err := w.CreateEvent(context.Background(), galaRequest())
	require.ErrorIs(t, err, apperrors.ErrCreationFailed)

	var wfErr *apperrors.WorkflowError
	require.True(t, errors.As(err, &wfErr))
	assert.Nil(t, wfErr.TxHash)
	assert.Equal(t, "Gala", wfErr.Context["name"])
}

func TestCreateEvent_CanceledContext(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.CreateEvent(ctx, galaRequest())
	assert.ErrorIs(t, err, apperrors.ErrCreationFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Sends())
}

func TestBuyTicket_EventNotFound(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})
	seed(c, "Only", 1, 5, 5)
	snapshot, err := w.ListEvents(context.Background())
	require.NoError(t, err)

	res, err := w.BuyTicket(context.Background(), models.PurchaseIntent{EventID: 9, Quantity: 1}, snapshot)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
	assert.NotErrorIs(t, err, apperrors.ErrPurchaseFailed)
	assert.Equal(t, 0, c.Sends())

	// 空快照同样找不到
	_, err = w.BuyTicket(context.Background(), models.PurchaseIntent{EventID: 0, Quantity: 1}, nil)
	assert.ErrorIs(t, err, apperrors.ErrEventNotFound)
	assert.Equal(t, 0, c.Sends())
}

func TestBuyTicket_ZeroQuantity(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})
	seed(c, "Only", 1, 5, 5)
	snapshot, err := w.ListEvents(context.Background())
	require.NoError(t, err)

	_, err = w.BuyTicket(context.Background(), models.PurchaseIntent{EventID: 0, Quantity: 0}, snapshot)
	assert.ErrorIs(t, err, apperrors.ErrPurchaseFailed)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 0, c.Sends())
}

func TestBuyTicket_OnlyTargetEventChanges(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})
	seed(c, "A", 1000, 10, 10)
	seed(c, "B", 2000, 10, 10)
	seed(c, "C", 3000, 10, 10)
	before, err := w.ListEvents(context.Background())
	require.NoError(t, err)

	res, err := w.BuyTicket(context.Background(), models.PurchaseIntent{EventID: 1, Quantity: 4}, before)
	require.NoError(t, err)
	require.Len(t, res.Events, 3)

	assert.Equal(t, before[0], res.Events[0])
	assert.Equal(t, before[2], res.Events[2])
	assert.Equal(t, uint64(6), res.Events[1].TicketsRemaining)
	assert.Equal(t, before[1].TicketCount, res.Events[1].TicketCount)
	assert.Equal(t, "8000", res.Activity.Value)
}

func TestBuyTicket_MoreThanRemaining(t *testing.T) {
	sink := &recordingSink{}
	w, c := newTestWorkflow(t, Options{Sinks: []Sink{sink}})
	seed(c, "Small", 10, 5, 2)
	snapshot, err := w.ListEvents(context.Background())
	require.NoError(t, err)

	res, err := w.BuyTicket(context.Background(), models.PurchaseIntent{EventID: 0, Quantity: 3}, snapshot)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrPurchaseFailed)
	assert.ErrorIs(t, err, chain.ErrTransactionReverted)
	// 没有本地余票检查，交易已提交
	assert.Equal(t, 1, c.Sends())

	after, err := w.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), after[0].TicketsRemaining)

	acts := sink.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActivityFailed, acts[0].Status)
	assert.Contains(t, acts[0].Error, "Not enough tickets")
}

func TestBuyTicket_StaleSnapshotPrice(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})
	seed(c, "Repriced", 10, 5, 5)

	// 快照里的价格与链上不一致时，付款金额不符，由合约拒绝
	stale := []*models.EventRecord{{ID: 0, Name: "Repriced", Price: "9", TicketsRemaining: 5}}
	_, err := w.BuyTicket(context.Background(), models.PurchaseIntent{EventID: 0, Quantity: 1}, stale)
	assert.ErrorIs(t, err, apperrors.ErrPurchaseFailed)
	assert.Contains(t, err.Error(), "Ether is not enough")
	assert.Equal(t, uint64(5), c.Events(contractAddr)[0].TicketRemain.Uint64())
}

func TestBuyTicket_FractionalPrice(t *testing.T) {
	w, _ := newTestWorkflow(t, Options{})
	req := galaRequest()
	req.UnitPrice = "0.333333333333333333"

	created, err := w.CreateEvent(context.Background(), req)
	require.NoError(t, err)

	res, err := w.BuyTicket(context.Background(), models.PurchaseIntent{EventID: 0, Quantity: 3}, created.Events)
	require.NoError(t, err)
	assert.Equal(t, "999999999999999999", res.Activity.Value)
	assert.Equal(t, uint64(7), res.Events[0].TicketsRemaining)
}

func TestBuyTicket_FromActiveAccount(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})
	seed(c, "Show", 1, 5, 5)
	snapshot, err := w.ListEvents(context.Background())
	require.NoError(t, err)

	_, err = w.SetActiveAccount(buyer.Hex())
	require.NoError(t, err)

	var from string
	var gas uint64
	c.SetSendHook(func(method string, opts *chain.TxOpts) error {
		assert.Equal(t, contract.MethodBuyTicket, method)
		from = opts.From.Hex()
		gas = opts.GasLimit
		return nil
	})

	res, err := w.BuyTicket(context.Background(), models.PurchaseIntent{EventID: 0, Quantity: 1}, snapshot)
	require.NoError(t, err)
	assert.Equal(t, buyer.Hex(), from)
	assert.Equal(t, buyer.Hex(), res.Activity.From)
	assert.Equal(t, uint64(0), gas)
}

func TestWrite_RelistFailureStillSucceeds(t *testing.T) {
	w, c := newTestWorkflow(t, Options{})
	seed(c, "Show", 1, 5, 5)
	snapshot, err := w.ListEvents(context.Background())
	require.NoError(t, err)
	stale := w.Snapshot()

	c.SetCallHook(func(method string, _ []interface{}) error {
		if method == contract.MethodNextID {
			return errors.New("node restarting")
		}
		return nil
	})

	res, err := w.BuyTicket(context.Background(), models.PurchaseIntent{EventID: 0, Quantity: 2}, snapshot)
	require.NoError(t, err)
	assert.False(t, res.Relisted)
	assert.ErrorIs(t, res.RelistError, apperrors.ErrListFailed)
	assert.Nil(t, res.Events)
	assert.Same(t, stale, w.Snapshot())
	assert.Equal(t, uint64(3), c.Events(contractAddr)[0].TicketRemain.Uint64())
}
