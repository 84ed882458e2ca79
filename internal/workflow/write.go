package workflow

import (
	"context"
	"errors"
	"math/big"
	"time"

	"eventchain/internal/chain"
	"eventchain/internal/contract"
	apperrors "eventchain/internal/errors"
	"eventchain/internal/logging"
	"eventchain/internal/units"
	"eventchain/pkg/models"

	"github.com/ethereum/go-ethereum/core/types"
)

// WriteResult 写操作结果
type WriteResult struct {
	Activity    *models.Activity      `json:"activity"`
	Events      []*models.EventRecord `json:"events,omitempty"` // 交易确认后重新列举的结果
	RelistError error                 `json:"-"`                // 重新列举失败时保留旧快照
	Relisted    bool                  `json:"relisted"`
}

// CreateEvent 校验参数后从活跃账户提交createEvent，交易带gas上限，不自动重试。
// 交易确认后重新列举活动。
func (w *EventWorkflow) CreateEvent(ctx context.Context, req models.CreateEventRequest) (*WriteResult, error) {
	b := w.binding.Load()
	if b == nil {
		return nil, w.fail(apperrors.Newf(apperrors.ErrNotInitialized, "创建活动前需要先完成绑定"))
	}

	priceWei, result := w.validator.ValidateCreateEvent(&req)
	if !result.Valid {
		return nil, w.fail(apperrors.From(apperrors.ErrCreationFailed, result.Err()).WithComponent("workflow"))
	}

	activity := w.newActivity(b, models.ActivityCreateEvent)
	activity.Name = req.Name

	receipt, err := b.Capability.Send(ctx, b.Contract,
		&chain.TxOpts{From: b.ActiveAccount, GasLimit: w.opts.CreateGasLimit},
		contract.MethodCreateEvent,
		req.Name, big.NewInt(req.Date), priceWei, new(big.Int).SetUint64(req.TotalTickets))
	if receipt != nil {
		if id, ok := createdEventID(b.Contract, receipt); ok {
			activity.EventID = &id
		}
	}
	w.finishActivity(ctx, activity, receipt, err)

	if err != nil {
		wfErr := apperrors.From(apperrors.ErrCreationFailed, err).
			WithComponent("workflow").
			WithContext("name", req.Name)
		if activity.TxHash != "" {
			wfErr.WithTxHash(activity.TxHash)
		}
		return nil, w.fail(wfErr)
	}

	log := w.logger.WithFields(logging.TxFields(contract.MethodCreateEvent, activity.From, activity.TxHash))
	if activity.EventID != nil {
		log = log.WithField("event_id", *activity.EventID)
	}
	log.Info("活动创建成功")

	res := &WriteResult{Activity: activity}
	w.relist(ctx, res)
	return res, nil
}

// BuyTicket 在给定快照中查找活动，按单价乘数量计算付款后提交buyTicket。
// 不做本地余票检查，余票是否足够由合约判断。
func (w *EventWorkflow) BuyTicket(ctx context.Context, intent models.PurchaseIntent, snapshot []*models.EventRecord) (*WriteResult, error) {
	b := w.binding.Load()
	if b == nil {
		return nil, w.fail(apperrors.Newf(apperrors.ErrNotInitialized, "购票前需要先完成绑定"))
	}

	rec, ok := models.FindEvent(snapshot, intent.EventID)
	if !ok {
		return nil, w.fail(apperrors.Newf(apperrors.ErrEventNotFound,
			"活动 %d 不在当前快照中，请重新列举", intent.EventID).
			WithEventID(intent.EventID).
			WithComponent("workflow"))
	}

	if result := w.validator.ValidatePurchase(&intent); !result.Valid {
		return nil, w.fail(apperrors.From(apperrors.ErrPurchaseFailed, result.Err()).
			WithEventID(intent.EventID).
			WithComponent("workflow"))
	}

	priceWei, err := rec.PriceWei()
	if err != nil {
		return nil, w.fail(apperrors.From(apperrors.ErrPurchaseFailed, err).WithEventID(intent.EventID))
	}
	totalDue := units.TotalDue(priceWei, intent.Quantity)

	activity := w.newActivity(b, models.ActivityBuyTicket)
	eventID := intent.EventID
	activity.EventID = &eventID
	activity.Name = rec.Name
	activity.Quantity = intent.Quantity
	activity.Value = totalDue.String()

	receipt, err := b.Capability.Send(ctx, b.Contract,
		&chain.TxOpts{From: b.ActiveAccount, Value: totalDue, GasLimit: w.opts.PurchaseGasLimit},
		contract.MethodBuyTicket,
		new(big.Int).SetUint64(intent.EventID), new(big.Int).SetUint64(intent.Quantity))
	w.finishActivity(ctx, activity, receipt, err)

	if err != nil {
		wfErr := apperrors.From(apperrors.ErrPurchaseFailed, err).
			WithEventID(intent.EventID).
			WithComponent("workflow").
			WithContext("quantity", intent.Quantity).
			WithContext("value_wei", totalDue.String())
		if activity.TxHash != "" {
			wfErr.WithTxHash(activity.TxHash)
		}
		return nil, w.fail(wfErr)
	}

	w.logger.WithFields(logging.TxFields(contract.MethodBuyTicket, activity.From, activity.TxHash)).
		WithField("event_id", intent.EventID).
		WithField("quantity", intent.Quantity).
		Infof("购票成功，支付 %s ETH", units.FormatEther(totalDue))

	res := &WriteResult{Activity: activity}
	w.relist(ctx, res)
	return res, nil
}

// relist 写操作确认后重新列举
func (w *EventWorkflow) relist(ctx context.Context, res *WriteResult) {
	events, err := w.ListEvents(ctx)
	if err != nil {
		res.RelistError = err
		return
	}
	res.Events = events
	res.Relisted = true
}

func (w *EventWorkflow) newActivity(b *ChainBinding, kind models.ActivityKind) *models.Activity {
	return &models.Activity{
		Kind:      kind,
		NetworkID: b.NetworkID,
		Contract:  b.Contract.Address.Hex(),
		From:      b.ActiveAccount.Hex(),
		Timestamp: time.Now(),
	}
}

// finishActivity 填充交易结果并写入各输出
func (w *EventWorkflow) finishActivity(ctx context.Context, activity *models.Activity, receipt *types.Receipt, err error) {
	if receipt != nil {
		activity.TxHash = receipt.TxHash.Hex()
		activity.GasUsed = receipt.GasUsed
		if receipt.BlockNumber != nil {
			activity.Block = receipt.BlockNumber.Uint64()
		}
	}

	activity.Status = models.ActivitySucceeded
	if err != nil {
		activity.Status = models.ActivityFailed
		activity.Error = err.Error()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// 交易可能已提交，只是不再等待回执
			activity.Error = "等待回执时中止: " + err.Error()
		}
	}

	for _, sink := range w.opts.Sinks {
		if sinkErr := sink.RecordActivity(context.WithoutCancel(ctx), activity); sinkErr != nil {
			w.logger.Warnf("记录操作失败: %v", sinkErr)
		}
	}
}

// createdEventID 从EventCreated日志中取出新活动的id
func createdEventID(c *chain.Contract, receipt *types.Receipt) (uint64, bool) {
	ev, ok := c.ABI.Events["EventCreated"]
	if !ok {
		return 0, false
	}
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.Address || len(l.Topics) < 2 || l.Topics[0] != ev.ID {
			continue
		}
		id := new(big.Int).SetBytes(l.Topics[1].Bytes())
		if id.IsUint64() {
			return id.Uint64(), true
		}
	}
	return 0, false
}
