package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderStopWatchers     = 10 // 停止监听活动列表
	OrderStopServer       = 20 // 停止HTTP服务，等待进行中的请求
	OrderFlushOutputs     = 30 // 关闭文件和Kafka输出
	OrderCloseJournal     = 40 // 关闭本地操作记录
	OrderCloseConnections = 50 // 关闭节点连接
)

// Hook 停机处理函数
type Hook struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int
}

// GracefulShutdown 优雅停机管理器。
// 收到信号或手动触发后先取消Context，再按Order依次执行Hook。
type GracefulShutdown struct {
	logger     *logrus.Logger
	timeout    time.Duration
	hooks      []Hook
	mu         sync.Mutex
	signalChan chan os.Signal
	ctx        context.Context
	cancel     context.CancelFunc
	once       sync.Once
	done       chan struct{}
	err        error
}

// NewGracefulShutdown 创建优雅停机管理器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &GracefulShutdown{
		logger:     logger,
		timeout:    timeout,
		signalChan: make(chan os.Signal, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register 注册停机处理函数
func (gs *GracefulShutdown) Register(name string, order int, fn func(ctx context.Context) error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.hooks = append(gs.hooks, Hook{Name: name, Func: fn, Order: order})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Start 开始监听SIGINT和SIGTERM
func (gs *GracefulShutdown) Start() {
	signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-gs.signalChan:
			gs.logger.Infof("收到停机信号: %v", sig)
			gs.Shutdown()
		case <-gs.done:
		}
	}()
}

// Context 停机开始时被取消
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Done 停机流程结束后关闭
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Shutdown 执行停机流程，多次调用只执行一次，返回各处理函数的错误
func (gs *GracefulShutdown) Shutdown() error {
	gs.once.Do(func() {
		signal.Stop(gs.signalChan)
		gs.cancel()
		gs.err = gs.runHooks()
		close(gs.done)
	})
	<-gs.done
	return gs.err
}

// Wait 等待停机流程结束
func (gs *GracefulShutdown) Wait() error {
	<-gs.done
	return gs.err
}

func (gs *GracefulShutdown) runHooks() error {
	gs.logger.Info("开始优雅停机流程...")

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	gs.mu.Lock()
	hooks := make([]Hook, len(gs.hooks))
	copy(hooks, gs.hooks)
	gs.mu.Unlock()
	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Order < hooks[j].Order })

	var errs []error
	for _, hook := range hooks {
		if ctx.Err() != nil {
			gs.logger.Warnf("停机超时，跳过: %s", hook.Name)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, ctx.Err()))
			continue
		}

		start := time.Now()
		if err := hook.Func(ctx); err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", hook.Name, time.Since(start), err)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
			continue
		}
		gs.logger.Debugf("停机处理 '%s' 完成 (耗时: %v)", hook.Name, time.Since(start))
	}

	if len(errs) > 0 {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(errs))
	} else {
		gs.logger.Info("优雅停机流程完成")
	}
	return errors.Join(errs...)
}

// IsShuttingDown 检查是否已开始停机
func (gs *GracefulShutdown) IsShuttingDown() bool {
	return gs.ctx.Err() != nil
}

// GetRegisteredHooks 已注册的处理函数名称，按执行顺序
func (gs *GracefulShutdown) GetRegisteredHooks() []string {
	gs.mu.Lock()
	hooks := make([]Hook, len(gs.hooks))
	copy(hooks, gs.hooks)
	gs.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Order < hooks[j].Order })
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = h.Name
	}
	return names
}
