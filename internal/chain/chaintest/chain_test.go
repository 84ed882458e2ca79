package chaintest

import (
	"context"
	"math/big"
	"testing"
	"time"

	"eventchain/internal/chain"
	"eventchain/internal/contract"
	apperrors "eventchain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addr  = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	admin = common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")
	buyer = common.HexToAddress("0xFFcf8FDEE72ac11b5c542428B35EEF5769C409f0")
)

func setup(t *testing.T) (*Chain, *chain.Contract) {
	t.Helper()
	c := New("5777", admin, buyer)
	c.Deploy(addr)
	c.SetNow(func() time.Time { return time.Unix(1700000000, 0) })

	dep, err := contract.NewDeployment("5777", addr.Hex(), contract.DefaultABI())
	require.NoError(t, err)
	bound, err := c.BindContract(context.Background(), dep)
	require.NoError(t, err)
	return c, bound
}

func TestBindContract_NoCode(t *testing.T) {
	c := New("5777", admin)
	dep, err := contract.NewDeployment("5777", addr.Hex(), contract.DefaultABI())
	require.NoError(t, err)

	_, err = c.BindContract(context.Background(), dep)
	assert.ErrorIs(t, err, apperrors.ErrDeploymentNotFound)
}

func TestCreateAndBuy(t *testing.T) {
	c, bound := setup(t)
	ctx := context.Background()

	receipt, err := c.Send(ctx, bound, &chain.TxOpts{From: admin}, contract.MethodCreateEvent,
		"Gala", big.NewInt(1767225600), big.NewInt(5e17), big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Len(t, receipt.Logs, 1)

	out, err := c.Call(ctx, bound, contract.MethodNextID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out[0].(*big.Int).Int64())

	_, err = c.Send(ctx, bound, &chain.TxOpts{From: buyer, Value: big.NewInt(1e18)},
		contract.MethodBuyTicket, big.NewInt(0), big.NewInt(2))
	require.NoError(t, err)

	out, err = c.Call(ctx, bound, contract.MethodEvents, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, admin, out[0].(common.Address))
	assert.Equal(t, "Gala", out[1].(string))
	assert.Equal(t, int64(98), out[5].(*big.Int).Int64())
	assert.Equal(t, 2, c.Sends())
}

func TestContractRules(t *testing.T) {
	c, bound := setup(t)
	ctx := context.Background()
	c.SeedEvent(addr, Event{
		Admin: admin, Name: "Small", Date: big.NewInt(1767225600), Price: big.NewInt(100),
		TicketCount: big.NewInt(1), TicketRemain: big.NewInt(1),
	})

	tests := []struct {
		name   string
		method string
		opts   *chain.TxOpts
		args   []interface{}
	}{
		{"past date", contract.MethodCreateEvent, &chain.TxOpts{From: admin},
			[]interface{}{"Old", big.NewInt(1600000000), big.NewInt(1), big.NewInt(1)}},
		{"zero tickets", contract.MethodCreateEvent, &chain.TxOpts{From: admin},
			[]interface{}{"Empty", big.NewInt(1767225600), big.NewInt(1), big.NewInt(0)}},
		{"gas ceiling", contract.MethodCreateEvent, &chain.TxOpts{From: admin, GasLimit: 21000},
			[]interface{}{"Tight", big.NewInt(1767225600), big.NewInt(1), big.NewInt(1)}},
		{"wrong payment", contract.MethodBuyTicket, &chain.TxOpts{From: buyer, Value: big.NewInt(99)},
			[]interface{}{big.NewInt(0), big.NewInt(1)}},
		{"not enough tickets", contract.MethodBuyTicket, &chain.TxOpts{From: buyer, Value: big.NewInt(200)},
			[]interface{}{big.NewInt(0), big.NewInt(2)}},
		{"unknown event", contract.MethodBuyTicket, &chain.TxOpts{From: buyer},
			[]interface{}{big.NewInt(7), big.NewInt(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receipt, err := c.Send(ctx, bound, tt.opts, tt.method, tt.args...)
			assert.ErrorIs(t, err, chain.ErrTransactionReverted)
			require.NotNil(t, receipt)
			assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
		})
	}

	events := c.Events(addr)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].TicketRemain.Int64())
}

func TestSend_UnknownAccount(t *testing.T) {
	c, bound := setup(t)
	_, err := c.Send(context.Background(), bound, &chain.TxOpts{From: common.HexToAddress("0x09")},
		contract.MethodCreateEvent, "X", big.NewInt(1767225600), big.NewInt(1), big.NewInt(1))
	assert.ErrorContains(t, err, "not recognized")
	assert.Equal(t, 0, c.Sends())
}

func TestSubscribeLogs(t *testing.T) {
	c, bound := setup(t)
	ctx := context.Background()

	ch := make(chan types.Log, 4)
	sub, err := c.SubscribeLogs(ctx, bound, ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = c.Send(ctx, bound, &chain.TxOpts{From: admin}, contract.MethodCreateEvent,
		"Gala", big.NewInt(1767225600), big.NewInt(5e17), big.NewInt(100))
	require.NoError(t, err)

	select {
	case l := <-ch:
		assert.Equal(t, addr, l.Address)
		assert.Equal(t, bound.ABI.Events["EventCreated"].ID, l.Topics[0])
	case <-time.After(time.Second):
		t.Fatal("没有收到日志")
	}

	c.DisableSubscriptions()
	_, err = c.SubscribeLogs(ctx, bound, ch)
	assert.ErrorIs(t, err, ErrSubscriptionsUnsupported)
}
