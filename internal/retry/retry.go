package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts         int           `json:"max_attempts" mapstructure:"max_attempts"`
	InitialInterval     time.Duration `json:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval         time.Duration `json:"max_interval" mapstructure:"max_interval"`
	BackoffFactor       float64       `json:"backoff_factor" mapstructure:"backoff_factor"`
	RandomizationFactor float64       `json:"randomization_factor" mapstructure:"randomization_factor"`
}

// ReadRetryConfig 只读调用（eth_call、回执查询）的重试配置
var ReadRetryConfig = &RetryConfig{
	MaxAttempts:         3,
	InitialInterval:     200 * time.Millisecond,
	MaxInterval:         5 * time.Second,
	BackoffFactor:       2.0,
	RandomizationFactor: 0.2,
}

// NoRetryConfig 只执行一次
var NoRetryConfig = &RetryConfig{MaxAttempts: 1}

// RetryableError 可重试错误接口
type RetryableError interface {
	error
	IsRetryable() bool
}

// 网络层面的瞬时错误
var transientErrors = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"eof",
}

// 合约或交易语义错误，重试不会改变结果
var permanentErrors = []string{
	"execution reverted",
	"revert",
	"insufficient funds",
	"nonce too low",
	"invalid opcode",
	"out of gas",
	"user denied",
}

// IsRetryableError 判断是否为可重试错误
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, p := range permanentErrors {
		if strings.Contains(errStr, p) {
			return false
		}
	}
	for _, t := range transientErrors {
		if strings.Contains(errStr, t) {
			return true
		}
	}
	return false
}

// Retrier 重试器
type Retrier struct {
	config *RetryConfig
	logger *logrus.Logger
	rand   *rand.Rand
	mu     sync.Mutex
}

// NewRetrier 创建重试器
func NewRetrier(config *RetryConfig, logger *logrus.Logger) *Retrier {
	if config == nil {
		config = ReadRetryConfig
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Retrier{
		config: config,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Execute 执行重试逻辑
func (r *Retrier) Execute(ctx context.Context, operation string, fn func() error) error {
	_, err := Do(ctx, r, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do 执行带返回值的重试逻辑
func Do[T any](ctx context.Context, r *Retrier, operation string, fn func() (T, error)) (T, error) {
	var zero T
	attempts := r.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return result, nil
		}

		if !IsRetryableError(err) {
			return zero, err
		}
		if attempt == attempts {
			if attempts > 1 {
				return zero, fmt.Errorf("重试 %d 次后失败: %w", attempt, err)
			}
			return zero, err
		}

		delay := r.calculateDelay(attempt)
		r.logger.Debugf("操作 '%s' 第 %d 次失败: %v，%v 后重试", operation, attempt, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, fmt.Errorf("操作 '%s' 未执行", operation)
}

// calculateDelay 计算延迟时间（指数退避加抖动）
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialInterval) * math.Pow(r.config.BackoffFactor, float64(attempt-1))
	if maxDelay := float64(r.config.MaxInterval); maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	if r.config.RandomizationFactor > 0 {
		r.mu.Lock()
		f := r.rand.Float64()
		r.mu.Unlock()
		jitter := delay * r.config.RandomizationFactor
		delay = delay - jitter + f*2*jitter
	}
	if delay < 0 {
		delay = float64(r.config.InitialInterval)
	}
	return time.Duration(delay)
}
