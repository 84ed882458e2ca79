package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventchain/internal/chain"
	"eventchain/internal/config"
	"eventchain/internal/connection"
	"eventchain/internal/contract"
	apperrors "eventchain/internal/errors"
	"eventchain/internal/journal"
	"eventchain/internal/output"
	"eventchain/internal/retry"
	"eventchain/internal/shutdown"
	"eventchain/internal/workflow"

	"github.com/sirupsen/logrus"
)

// App 组装好的工作流及其依赖
type App struct {
	Config       *config.Config
	Logger       *logrus.Logger
	Pool         *connection.ConnectionPool // 注入Capability时为nil
	Descriptor   *contract.Descriptor
	Workflow     *workflow.EventWorkflow
	Journal      *journal.Store // 未启用时为nil
	Outputs      []output.Output
	ErrorHandler *apperrors.ErrorHandler
}

// New 按配置连接节点并初始化工作流
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	pool := connection.NewConnectionPool(cfg.Blockchain.Nodes, logger)
	conn, err := pool.Connect(ctx)
	if err != nil {
		pool.Close()
		return nil, apperrors.From(apperrors.ErrConnectionFailed, err)
	}

	a, err := NewWithCapability(ctx, cfg, logger, chain.NewRPCCapability(conn, rpcOptions(cfg.Workflow), logger))
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.Pool = pool
	return a, nil
}

// NewWithCapability 使用给定的链能力初始化工作流
func NewWithCapability(ctx context.Context, cfg *config.Config, logger *logrus.Logger, capability chain.Capability) (*App, error) {
	descriptor, err := contract.BuildDescriptor(cfg.Contract)
	if err != nil {
		return nil, apperrors.From(apperrors.ErrConfigInvalid, err)
	}

	a := &App{
		Config:       cfg,
		Logger:       logger,
		Descriptor:   descriptor,
		ErrorHandler: apperrors.NewErrorHandler(logger),
	}

	opts := workflow.OptionsFromConfig(cfg.Workflow)
	opts.ErrorHandler = a.ErrorHandler

	if cfg.Journal != nil && cfg.Journal.Enabled {
		store, err := journal.NewStore(cfg.Journal.Path, logger)
		if err != nil {
			return nil, err
		}
		a.Journal = store
		opts.Sinks = append(opts.Sinks, store)
	}

	out, err := output.NewOutputWithConfig(cfg.Output, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("创建输出器失败: %w", err)
	}
	if out != nil {
		a.Outputs = append(a.Outputs, out)
		opts.Sinks = append(opts.Sinks, out)
	}

	w, err := workflow.Initialize(ctx, capability, descriptor, opts, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Workflow = w
	a.restoreSnapshot()
	return a, nil
}

// restoreSnapshot 载入上次保存的活动列表，列举失败时仍有旧列表可用
func (a *App) restoreSnapshot() {
	if a.Journal == nil {
		return
	}
	b := a.Workflow.Binding()
	snap, err := a.Journal.LastSnapshot(b.NetworkID, b.Contract.Address.Hex())
	if err != nil {
		a.Logger.Warnf("读取缓存的活动列表失败: %v", err)
		return
	}
	if snap != nil && a.Workflow.RestoreSnapshot(snap) {
		a.Logger.WithField("events", len(snap.Events)).Debug("已载入缓存的活动列表")
	}
}

// Reconnect 重新选择节点并整体替换绑定
func (a *App) Reconnect(ctx context.Context) error {
	if a.Pool == nil {
		return fmt.Errorf("未使用节点连接池")
	}
	conn, err := a.Pool.Reconnect(ctx)
	if err != nil {
		return apperrors.From(apperrors.ErrConnectionFailed, err)
	}
	_, err = a.Workflow.Rebind(ctx, chain.NewRPCCapability(conn, rpcOptions(a.Config.Workflow), a.Logger))
	return err
}

// MonitorConnection 定期探活当前节点，失败时重连，直到ctx结束
func (a *App) MonitorConnection(ctx context.Context, interval time.Duration) {
	if a.Pool == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	retrier := retry.NewRetrier(retry.ReadRetryConfig, a.Logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Pool.CheckHealth(ctx); err == nil || ctx.Err() != nil {
				continue
			}
			a.Logger.Warn("当前节点不可用，尝试重新连接")
			err := retrier.Execute(ctx, "reconnect", func() error {
				return a.Reconnect(ctx)
			})
			if err != nil {
				a.Logger.Errorf("重新连接失败: %v", err)
			}
		}
	}
}

// RegisterShutdown 注册关闭输出、操作记录和节点连接的停机处理
func (a *App) RegisterShutdown(gs *shutdown.GracefulShutdown) {
	gs.Register("outputs", shutdown.OrderFlushOutputs, func(context.Context) error {
		return a.closeOutputs()
	})
	gs.Register("journal", shutdown.OrderCloseJournal, func(context.Context) error {
		return a.closeJournal()
	})
	gs.Register("connections", shutdown.OrderCloseConnections, func(context.Context) error {
		return a.closePool()
	})
}

func (a *App) closeOutputs() error {
	var errs []error
	for _, out := range a.Outputs {
		if err := out.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.Outputs = nil
	return errors.Join(errs...)
}

func (a *App) closeJournal() error {
	if a.Journal == nil {
		return nil
	}
	err := a.Journal.Close()
	a.Journal = nil
	return err
}

func (a *App) closePool() error {
	if a.Pool == nil {
		return nil
	}
	err := a.Pool.Close()
	a.Pool = nil
	return err
}

// Close 释放全部资源
func (a *App) Close() error {
	return errors.Join(a.closeOutputs(), a.closeJournal(), a.closePool())
}

func rpcOptions(cfg *config.WorkflowConfig) chain.RPCOptions {
	readRetry := *retry.ReadRetryConfig
	if cfg.ReadRetries > 0 {
		readRetry.MaxAttempts = cfg.ReadRetries
	}
	return chain.RPCOptions{
		ReceiptPoll: cfg.ReceiptPoll(),
		ReadRetry:   &readRetry,
	}
}
