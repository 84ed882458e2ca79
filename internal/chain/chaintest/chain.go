// Package chaintest 提供内存中的EventContract，实现chain.Capability，供测试使用。
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"eventchain/internal/chain"
	"eventchain/internal/contract"
	apperrors "eventchain/internal/errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// 模拟的gas消耗
const (
	CreateEventGas uint64 = 120000
	BuyTicketGas   uint64 = 60000
)

// ErrSubscriptionsUnsupported 模拟HTTP节点不支持订阅
var ErrSubscriptionsUnsupported = errors.New("notifications not supported")

// Event 合约中的活动存储
type Event struct {
	Admin        common.Address
	Name         string
	Date         *big.Int
	Price        *big.Int
	TicketCount  *big.Int
	TicketRemain *big.Int
}

type contractState struct {
	events []*Event
	feed   event.Feed
}

// CallHook 在只读调用执行前调用，返回错误时调用失败
type CallHook func(method string, args []interface{}) error

// SendHook 在交易提交前调用，返回错误时提交失败（不产生交易）
type SendHook func(method string, opts *chain.TxOpts) error

// Chain 内存链
type Chain struct {
	mu        sync.Mutex
	networkID string
	accounts  []common.Address
	contracts map[common.Address]*contractState
	now       func() time.Time

	block uint64
	txSeq int64
	calls map[string]int
	sends int

	networkErr   error
	accountsErr  error
	callHook     CallHook
	sendHook     SendHook
	noSubscribe  bool
	subscription int
}

// New 创建内存链
func New(networkID string, accounts ...common.Address) *Chain {
	return &Chain{
		networkID: networkID,
		accounts:  accounts,
		contracts: make(map[common.Address]*contractState),
		now:       time.Now,
		block:     1,
		calls:     make(map[string]int),
	}
}

// Deploy 在地址上部署空合约
func (c *Chain) Deploy(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.contracts[addr]; !ok {
		c.contracts[addr] = &contractState{}
	}
}

// SeedEvent 直接写入一条活动，不经过交易
func (c *Chain) SeedEvent(addr common.Address, ev Event) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.contracts[addr]
	if st == nil {
		st = &contractState{}
		c.contracts[addr] = st
	}
	cp := ev
	st.events = append(st.events, &cp)
	return uint64(len(st.events) - 1)
}

// Events 返回合约中活动的副本
func (c *Chain) Events(addr common.Address) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.contracts[addr]
	if st == nil {
		return nil
	}
	out := make([]Event, 0, len(st.events))
	for _, ev := range st.events {
		out = append(out, *ev)
	}
	return out
}

// SetNow 设置合约内的当前时间
func (c *Chain) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// SetNetworkID 切换网络ID，用于模拟重连到其他网络
func (c *Chain) SetNetworkID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkID = id
}

// SetNetworkError 设置读取网络ID的错误
func (c *Chain) SetNetworkError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkErr = err
}

// SetAccountsError 设置读取账户的错误
func (c *Chain) SetAccountsError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accountsErr = err
}

// SetCallHook 设置只读调用钩子
func (c *Chain) SetCallHook(hook CallHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callHook = hook
}

// SetSendHook 设置交易钩子
func (c *Chain) SetSendHook(hook SendHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendHook = hook
}

// DisableSubscriptions 模拟不支持订阅的节点
func (c *Chain) DisableSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noSubscribe = true
}

// Sends 已提交的交易数
func (c *Chain) Sends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

// Calls 某方法的只读调用次数
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Subscriptions 已建立的订阅数
func (c *Chain) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscription
}

// NetworkID 实现chain.Capability
func (c *Chain) NetworkID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.networkErr != nil {
		return "", c.networkErr
	}
	return c.networkID, nil
}

// Accounts 实现chain.Capability
func (c *Chain) Accounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accountsErr != nil {
		return nil, c.accountsErr
	}
	out := make([]common.Address, len(c.accounts))
	copy(out, c.accounts)
	return out, nil
}

// BindContract 实现chain.Capability
func (c *Chain) BindContract(ctx context.Context, dep *contract.Deployment) (*chain.Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.contracts[dep.Address]; !ok {
		return nil, apperrors.Newf(apperrors.ErrDeploymentNotFound,
			"网络 %s 的地址 %s 上没有合约代码", dep.NetworkID, dep.Address.Hex())
	}
	return &chain.Contract{Address: dep.Address, ABI: dep.ABI}, nil
}

// Call 实现chain.Capability，输入输出都经过ABI编解码
func (c *Chain) Call(ctx context.Context, ct *chain.Contract, method string, args ...interface{}) ([]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input, err := ct.ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.calls[method]++
	hook := c.callHook
	c.mu.Unlock()

	if hook != nil {
		if err := hook(method, args); err != nil {
			return nil, err
		}
	}

	m := ct.ABI.Methods[method]
	decoded, err := m.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	st := c.contracts[ct.Address]
	var outputs []interface{}
	switch {
	case st == nil:
		c.mu.Unlock()
		return nil, fmt.Errorf("地址 %s 上没有合约", ct.Address.Hex())
	case method == contract.MethodNextID:
		outputs = []interface{}{big.NewInt(int64(len(st.events)))}
	case method == contract.MethodEvents:
		id := decoded[0].(*big.Int)
		ev := &Event{Date: new(big.Int), Price: new(big.Int), TicketCount: new(big.Int), TicketRemain: new(big.Int)}
		if id.IsUint64() && id.Uint64() < uint64(len(st.events)) {
			ev = st.events[id.Uint64()]
		}
		outputs = []interface{}{ev.Admin, ev.Name, new(big.Int).Set(ev.Date), new(big.Int).Set(ev.Price),
			new(big.Int).Set(ev.TicketCount), new(big.Int).Set(ev.TicketRemain)}
	default:
		c.mu.Unlock()
		return nil, fmt.Errorf("%s 不是只读方法", method)
	}
	c.mu.Unlock()

	packed, err := m.Outputs.Pack(outputs...)
	if err != nil {
		return nil, err
	}
	return ct.ABI.Unpack(method, packed)
}

// Send 实现chain.Capability。合约规则失败时交易上链但回执status为0。
func (c *Chain) Send(ctx context.Context, ct *chain.Contract, opts *chain.TxOpts, method string, args ...interface{}) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input, err := ct.ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	hook := c.sendHook
	c.mu.Unlock()
	if hook != nil {
		if err := hook(method, opts); err != nil {
			return nil, err
		}
	}

	m := ct.ABI.Methods[method]
	decoded, err := m.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, err
	}

	value := new(big.Int)
	if opts.Value != nil {
		value.Set(opts.Value)
	}

	c.mu.Lock()
	if !c.knownAccount(opts.From) {
		c.mu.Unlock()
		return nil, fmt.Errorf("sender account not recognized: %s", opts.From.Hex())
	}
	st := c.contracts[ct.Address]
	if st == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("地址 %s 上没有合约", ct.Address.Hex())
	}

	c.sends++
	c.txSeq++
	c.block++
	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      common.BigToHash(big.NewInt(0x1000 + c.txSeq)),
		BlockNumber: new(big.Int).SetUint64(c.block),
	}

	var logs []types.Log
	var reason string
	switch method {
	case contract.MethodCreateEvent:
		receipt.GasUsed = CreateEventGas
		logs, reason = c.createEvent(ct, st, opts, decoded)
	case contract.MethodBuyTicket:
		receipt.GasUsed = BuyTicketGas
		logs, reason = c.buyTicket(ct, st, opts, value, decoded)
	default:
		reason = "unknown method " + method
	}
	if reason == "" && opts.GasLimit > 0 && opts.GasLimit < receipt.GasUsed {
		// 回滚已写入的状态
		reason = "out of gas"
		c.rollback(method, st, decoded)
		logs = nil
		receipt.GasUsed = opts.GasLimit
	}
	c.mu.Unlock()

	if reason != "" {
		receipt.Status = types.ReceiptStatusFailed
		return receipt, fmt.Errorf("%w: %s: %s", chain.ErrTransactionReverted, receipt.TxHash.Hex(), reason)
	}

	for i := range logs {
		logs[i].TxHash = receipt.TxHash
		logs[i].BlockNumber = receipt.BlockNumber.Uint64()
		receipt.Logs = append(receipt.Logs, &logs[i])
		st.feed.Send(logs[i])
	}
	return receipt, nil
}

func (c *Chain) knownAccount(addr common.Address) bool {
	for _, a := range c.accounts {
		if a == addr {
			return true
		}
	}
	return false
}

// createEvent 对应合约的createEvent：日期必须在未来，票数大于0
func (c *Chain) createEvent(ct *chain.Contract, st *contractState, opts *chain.TxOpts, in []interface{}) ([]types.Log, string) {
	name := in[0].(string)
	date := in[1].(*big.Int)
	price := in[2].(*big.Int)
	count := in[3].(*big.Int)

	if date.Cmp(big.NewInt(c.now().Unix())) <= 0 {
		return nil, "You can organize event for future date"
	}
	if count.Sign() <= 0 {
		return nil, "You can organize event only if you create more than 0 tickets"
	}

	st.events = append(st.events, &Event{
		Admin:        opts.From,
		Name:         name,
		Date:         new(big.Int).Set(date),
		Price:        new(big.Int).Set(price),
		TicketCount:  new(big.Int).Set(count),
		TicketRemain: new(big.Int).Set(count),
	})
	id := big.NewInt(int64(len(st.events) - 1))

	created := ct.ABI.Events["EventCreated"]
	return []types.Log{{
		Address: ct.Address,
		Topics:  []common.Hash{created.ID, common.BigToHash(id), common.BytesToHash(opts.From.Bytes())},
	}}, ""
}

// buyTicket 对应合约的buyTicket：付款必须等于单价乘数量，剩余票数足够
func (c *Chain) buyTicket(ct *chain.Contract, st *contractState, opts *chain.TxOpts, value *big.Int, in []interface{}) ([]types.Log, string) {
	id := in[0].(*big.Int)
	quantity := in[1].(*big.Int)

	if !id.IsUint64() || id.Uint64() >= uint64(len(st.events)) {
		return nil, "Event does not exist"
	}
	ev := st.events[id.Uint64()]
	if ev.Date.Cmp(big.NewInt(c.now().Unix())) <= 0 {
		return nil, "Event has already occured"
	}
	due := new(big.Int).Mul(ev.Price, quantity)
	if value.Cmp(due) != 0 {
		return nil, "Ether is not enough"
	}
	if ev.TicketRemain.Cmp(quantity) < 0 {
		return nil, "Not enough tickets"
	}
	ev.TicketRemain.Sub(ev.TicketRemain, quantity)

	purchased := ct.ABI.Events["TicketsPurchased"]
	data, _ := purchased.Inputs.NonIndexed().Pack(quantity)
	return []types.Log{{
		Address: ct.Address,
		Topics:  []common.Hash{purchased.ID, common.BigToHash(id), common.BytesToHash(opts.From.Bytes())},
		Data:    data,
	}}, ""
}

func (c *Chain) rollback(method string, st *contractState, in []interface{}) {
	switch method {
	case contract.MethodCreateEvent:
		st.events = st.events[:len(st.events)-1]
	case contract.MethodBuyTicket:
		ev := st.events[in[0].(*big.Int).Uint64()]
		ev.TicketRemain.Add(ev.TicketRemain, in[1].(*big.Int))
	}
}

// SubscribeLogs 实现chain.Capability
func (c *Chain) SubscribeLogs(ctx context.Context, ct *chain.Contract, ch chan<- types.Log) (ethereum.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noSubscribe {
		return nil, ErrSubscriptionsUnsupported
	}
	st := c.contracts[ct.Address]
	if st == nil {
		return nil, fmt.Errorf("地址 %s 上没有合约", ct.Address.Hex())
	}
	c.subscription++
	return st.feed.Subscribe(ch), nil
}

var _ chain.Capability = (*Chain)(nil)
