package errors

import (
	stderrors "errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器：统计、记录日志并通知回调。
// 任何级别的错误都不会结束进程。
type ErrorHandler struct {
	logger    *logrus.Logger
	stats     *ErrorStats
	callbacks []ErrorCallback
	mu        sync.RWMutex
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *WorkflowError)

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
		stats:  NewErrorStats(),
	}
}

// HandleError 处理错误并返回对应的WorkflowError
func (eh *ErrorHandler) HandleError(err error) *WorkflowError {
	if err == nil {
		return nil
	}

	var wfErr *WorkflowError
	if !stderrors.As(err, &wfErr) {
		wfErr = Wrap(err, KindConnection, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}

	eh.mu.Lock()
	eh.stats.RecordError(wfErr)
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.Unlock()

	eh.log(wfErr)

	for _, cb := range callbacks {
		eh.runCallback(cb, wfErr)
	}

	return wfErr
}

func (eh *ErrorHandler) runCallback(cb ErrorCallback, err *WorkflowError) {
	defer func() {
		if r := recover(); r != nil {
			eh.logger.Errorf("错误回调执行时发生panic: %v", r)
		}
	}()
	cb(err)
}

// log 根据严重级别选择日志级别
func (eh *ErrorHandler) log(err *WorkflowError) {
	entry := eh.logger.WithFields(logrus.Fields{
		"error_kind": err.Kind.String(),
		"error_code": err.Code,
		"retryable":  err.Retryable,
	})
	if err.Component != "" {
		entry = entry.WithField("component", err.Component)
	}
	if err.EventID != nil {
		entry = entry.WithField("event_id", *err.EventID)
	}
	if err.TxHash != nil {
		entry = entry.WithField("tx_hash", *err.TxHash)
	}
	for k, v := range err.Context {
		entry = entry.WithField(k, v)
	}

	switch err.Severity {
	case SeverityLow:
		entry.Debug(err.Error())
	case SeverityMedium:
		entry.Warn(err.Error())
	default:
		entry.Error(err.Error())
	}
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// GetStats 获取错误统计信息
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats.Copy()
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}
