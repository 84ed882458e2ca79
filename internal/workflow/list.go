package workflow

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"eventchain/internal/contract"
	apperrors "eventchain/internal/errors"
	"eventchain/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// ListEvents 读取nextId后逐个读取events(i)，按id升序返回新分配的列表。
// 任何一次读取失败都会使整个列举失败，已有快照保持不变。
func (w *EventWorkflow) ListEvents(ctx context.Context) ([]*models.EventRecord, error) {
	b := w.binding.Load()
	if b == nil {
		return nil, w.fail(apperrors.Newf(apperrors.ErrNotInitialized, "列举活动前需要先完成绑定"))
	}

	start := time.Now()
	nextID, records, err := w.readAll(ctx, b)
	if err != nil {
		wfErr := apperrors.From(apperrors.ErrListFailed, err).
			WithComponent("workflow").
			WithContext("network_id", b.NetworkID)
		return nil, w.fail(wfErr)
	}

	snap := &models.Snapshot{
		NetworkID: b.NetworkID,
		Contract:  b.Contract.Address.Hex(),
		NextID:    nextID,
		Events:    records,
		TakenAt:   time.Now(),
	}
	w.snapshot.Store(snap)
	w.publishSnapshot(ctx, snap)

	w.logger.WithFields(map[string]interface{}{
		"network_id": b.NetworkID,
		"events":     len(records),
		"duration":   time.Since(start).String(),
	}).Debug("活动列表已刷新")

	return cloneEvents(records), nil
}

// readAll 并发读取全部活动，结果按id存放，保证顺序
func (w *EventWorkflow) readAll(ctx context.Context, b *ChainBinding) (uint64, []*models.EventRecord, error) {
	out, err := b.Capability.Call(ctx, b.Contract, contract.MethodNextID)
	if err != nil {
		return 0, nil, fmt.Errorf("读取nextId失败: %w", err)
	}
	if len(out) != 1 {
		return 0, nil, fmt.Errorf("nextId返回值数量异常: %d", len(out))
	}
	nextID, err := toUint64(out[0], "nextId")
	if err != nil {
		return 0, nil, err
	}

	records := make([]*models.EventRecord, nextID)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.ListWorkers)

	for i := uint64(0); i < nextID; i++ {
		i := i
		g.Go(func() error {
			values, err := b.Capability.Call(gctx, b.Contract, contract.MethodEvents, new(big.Int).SetUint64(i))
			if err != nil {
				return fmt.Errorf("读取活动 %d 失败: %w", i, err)
			}
			rec, err := normalizeEvent(i, values)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}
	return nextID, records, nil
}

// normalizeEvent 把events(i)的返回值转换为展示记录
func normalizeEvent(id uint64, values []interface{}) (*models.EventRecord, error) {
	if len(values) != 6 {
		return nil, fmt.Errorf("活动 %d 返回值数量异常: %d", id, len(values))
	}

	admin, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("活动 %d 的admin类型异常: %T", id, values[0])
	}
	name, ok := values[1].(string)
	if !ok {
		return nil, fmt.Errorf("活动 %d 的name类型异常: %T", id, values[1])
	}
	date, ok := values[2].(*big.Int)
	if !ok || !date.IsInt64() {
		return nil, fmt.Errorf("活动 %d 的date无效: %v", id, values[2])
	}
	price, ok := values[3].(*big.Int)
	if !ok || price.Sign() < 0 {
		return nil, fmt.Errorf("活动 %d 的price无效: %v", id, values[3])
	}
	count, err := toUint64(values[4], "ticketCount")
	if err != nil {
		return nil, fmt.Errorf("活动 %d: %w", id, err)
	}
	remain, err := toUint64(values[5], "ticketRemain")
	if err != nil {
		return nil, fmt.Errorf("活动 %d: %w", id, err)
	}

	return &models.EventRecord{
		ID:               id,
		Admin:            admin.Hex(),
		Name:             name,
		Date:             date.Int64(),
		Price:            price.String(),
		TicketCount:      count,
		TicketsRemaining: remain,
	}, nil
}

func toUint64(v interface{}, field string) (uint64, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%s类型异常: %T", field, v)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("%s超出范围: %s", field, n.String())
	}
	return n.Uint64(), nil
}

// publishSnapshot 发送快照到各输出，输出失败只记录日志
func (w *EventWorkflow) publishSnapshot(ctx context.Context, snap *models.Snapshot) {
	for _, sink := range w.opts.Sinks {
		if err := sink.RecordSnapshot(ctx, snap); err != nil {
			w.logger.Warnf("输出活动快照失败: %v", err)
		}
	}
}

// sameEvents 比较两个列表内容是否一致
func sameEvents(a, b []*models.EventRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if *a[i] != *b[i] {
			return false
		}
	}
	return true
}
