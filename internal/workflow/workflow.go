package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"eventchain/internal/chain"
	"eventchain/internal/config"
	"eventchain/internal/contract"
	apperrors "eventchain/internal/errors"
	"eventchain/internal/validation"
	"eventchain/pkg/models"

	"github.com/sirupsen/logrus"
)

// Sink 接收写操作记录和活动快照
type Sink interface {
	RecordActivity(ctx context.Context, activity *models.Activity) error
	RecordSnapshot(ctx context.Context, snapshot *models.Snapshot) error
}

// Options 工作流参数
type Options struct {
	Account          string        // 活跃账户，为空时使用第一个账户
	CreateGasLimit   uint64        // 创建活动的gas上限，必须大于0
	PurchaseGasLimit uint64        // 购票的gas上限，0表示由节点估算
	ListWorkers      int           // 并发读取活动的协程数
	WatchPoll        time.Duration // 订阅不可用时的轮询间隔
	Sinks            []Sink
	ErrorHandler     *apperrors.ErrorHandler
}

// OptionsFromConfig 从配置生成参数
func OptionsFromConfig(cfg *config.WorkflowConfig) Options {
	return Options{
		Account:          cfg.Account,
		CreateGasLimit:   cfg.CreateGasLimit,
		PurchaseGasLimit: cfg.PurchaseGasLimit,
		ListWorkers:      cfg.ListWorkers,
		WatchPoll:        cfg.WatchPoll(),
	}
}

func (o *Options) applyDefaults() {
	if o.CreateGasLimit == 0 {
		o.CreateGasLimit = config.DefaultCreateGasLimit
	}
	if o.ListWorkers < 1 {
		o.ListWorkers = 1
	}
	if o.WatchPoll <= 0 {
		o.WatchPoll = 15 * time.Second
	}
}

// EventWorkflow 活动与购票工作流
type EventWorkflow struct {
	descriptor *contract.Descriptor
	opts       Options
	validator  *validation.Validator
	logger     *logrus.Logger

	binding  atomic.Pointer[ChainBinding]
	snapshot atomic.Pointer[models.Snapshot]
}

// Initialize 绑定合约并返回可用的工作流。绑定失败时不返回工作流。
func Initialize(ctx context.Context, capability chain.Capability, descriptor *contract.Descriptor, opts Options, logger *logrus.Logger) (*EventWorkflow, error) {
	opts.applyDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	w := &EventWorkflow{
		descriptor: descriptor,
		opts:       opts,
		validator:  validation.NewValidator(logger),
		logger:     logger,
	}

	b, err := Bind(ctx, capability, descriptor, opts.Account)
	if err != nil {
		return nil, w.fail(err)
	}
	w.binding.Store(b)

	logger.WithFields(logrus.Fields{
		"network_id": b.NetworkID,
		"contract":   b.Contract.Address.Hex(),
		"account":    b.ActiveAccount.Hex(),
		"accounts":   len(b.KnownAccounts),
	}).Info("合约绑定完成")
	return w, nil
}

// Rebind 使用新的链连接重新绑定，成功后整体替换当前绑定；失败时保留原绑定
func (w *EventWorkflow) Rebind(ctx context.Context, capability chain.Capability) (*ChainBinding, error) {
	account := w.opts.Account
	if cur := w.binding.Load(); cur != nil {
		account = cur.ActiveAccount.Hex()
	}

	b, err := Bind(ctx, capability, w.descriptor, account)
	if errors.Is(err, apperrors.ErrAccountNotFound) && account != w.opts.Account {
		// 原账户在新网络上不存在时回退到配置的账户
		b, err = Bind(ctx, capability, w.descriptor, w.opts.Account)
	}
	if err != nil {
		return nil, w.fail(err)
	}

	prev := w.binding.Swap(b)
	if prev != nil && prev.NetworkID != b.NetworkID {
		// 快照属于旧网络
		w.snapshot.Store(nil)
	}
	w.logger.WithFields(logrus.Fields{
		"network_id": b.NetworkID,
		"contract":   b.Contract.Address.Hex(),
		"account":    b.ActiveAccount.Hex(),
	}).Info("合约已重新绑定")
	return b, nil
}

// SetActiveAccount 切换活跃账户，账户必须在当前绑定的账户列表中
func (w *EventWorkflow) SetActiveAccount(account string) (*ChainBinding, error) {
	cur := w.binding.Load()
	next, err := cur.WithActiveAccount(account)
	if err != nil {
		return nil, w.fail(err)
	}
	w.binding.Store(next)
	return next, nil
}

// Binding 当前绑定
func (w *EventWorkflow) Binding() *ChainBinding {
	return w.binding.Load()
}

// Snapshot 最近一次成功列举的快照，列举失败时保留旧快照
func (w *EventWorkflow) Snapshot() *models.Snapshot {
	return w.snapshot.Load()
}

// Events 最近一次快照中的活动副本
func (w *EventWorkflow) Events() []*models.EventRecord {
	s := w.snapshot.Load()
	if s == nil {
		return nil
	}
	return cloneEvents(s.Events)
}

// RestoreSnapshot 载入持久化的快照作为初始的已知列表，只接受属于当前绑定的快照
func (w *EventWorkflow) RestoreSnapshot(s *models.Snapshot) bool {
	b := w.binding.Load()
	if s == nil || b == nil {
		return false
	}
	if s.NetworkID != b.NetworkID || s.Contract != b.Contract.Address.Hex() {
		return false
	}
	return w.snapshot.CompareAndSwap(nil, s)
}

// Validator 请求验证器
func (w *EventWorkflow) Validator() *validation.Validator {
	return w.validator
}

// fail 交给错误处理器统计后原样返回
func (w *EventWorkflow) fail(err error) error {
	if err == nil {
		return nil
	}
	if w.opts.ErrorHandler != nil {
		return w.opts.ErrorHandler.HandleError(err)
	}
	return err
}

func cloneEvents(events []*models.EventRecord) []*models.EventRecord {
	out := make([]*models.EventRecord, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}
