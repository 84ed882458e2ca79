package workflow

import (
	"context"
	"time"

	"eventchain/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// SnapshotHandler 活动列表变化时的回调
type SnapshotHandler func(events []*models.EventRecord)

// Watch 持续跟踪活动列表直到ctx结束。
// 订阅合约日志，收到日志后重新列举；订阅不可用或中断时按WatchPoll轮询，
// 只在列表内容变化时回调。绑定被替换后自动重新订阅。
func (w *EventWorkflow) Watch(ctx context.Context, handler SnapshotHandler) error {
	var (
		bound  *ChainBinding
		sub    ethereum.Subscription
		subErr <-chan error
		logs   = make(chan types.Log, 64)
		last   []*models.EventRecord
		seen   bool
		polled bool
	)

	unsubscribe := func() {
		if sub != nil {
			sub.Unsubscribe()
			sub, subErr = nil, nil
		}
	}
	defer unsubscribe()

	subscribe := func() {
		unsubscribe()
		bound = w.binding.Load()
		s, err := bound.Capability.SubscribeLogs(ctx, bound.Contract, logs)
		if err != nil {
			if !polled {
				w.logger.Infof("日志订阅不可用，改为每 %v 轮询: %v", w.opts.WatchPoll, err)
				polled = true
			}
			return
		}
		polled = false
		sub, subErr = s, s.Err()
		w.logger.WithField("contract", bound.Contract.Address.Hex()).Info("已订阅合约日志")
	}

	refresh := func() {
		events, err := w.ListEvents(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warnf("刷新活动列表失败，保留旧列表: %v", err)
			}
			return
		}
		if seen && sameEvents(last, events) {
			return
		}
		last, seen = events, true
		handler(cloneEvents(events))
	}

	subscribe()
	refresh()

	ticker := time.NewTicker(w.opts.WatchPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-logs:
			// 同一批交易可能产生多条日志，合并为一次列举
			drain(logs)
			refresh()

		case err := <-subErr:
			if err != nil {
				w.logger.Warnf("日志订阅中断，改为轮询: %v", err)
			}
			unsubscribe()

		case <-ticker.C:
			// 绑定被替换或订阅断开时重新订阅
			if sub == nil || w.binding.Load() != bound {
				subscribe()
			}
			refresh()
		}
	}
}

func drain(ch <-chan types.Log) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
