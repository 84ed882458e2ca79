package errors

import (
	"fmt"
	"time"
)

// ErrorKind 错误类型
type ErrorKind int

const (
	// 初始化相关错误
	KindDeploymentNotFound ErrorKind = iota
	KindConnection
	KindAccount
	KindConfig

	// 工作流操作错误
	KindCreation
	KindPurchase
	KindList
	KindEventNotFound
	KindValidation
	KindNotInitialized
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// WorkflowError 工作流错误
type WorkflowError struct {
	Kind      ErrorKind              `json:"kind"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component,omitempty"`
	EventID   *uint64                `json:"event_id,omitempty"`
	TxHash    *string                `json:"tx_hash,omitempty"`
}

// Error 实现error接口
func (e *WorkflowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使预定义错误可用于errors.Is
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *WorkflowError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *WorkflowError) WithContext(key string, value interface{}) *WorkflowError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithEventID 添加活动ID
func (e *WorkflowError) WithEventID(id uint64) *WorkflowError {
	e.EventID = &id
	return e
}

// WithTxHash 添加交易哈希
func (e *WorkflowError) WithTxHash(txHash string) *WorkflowError {
	e.TxHash = &txHash
	return e
}

// WithComponent 标记出错组件
func (e *WorkflowError) WithComponent(component string) *WorkflowError {
	e.Component = component
	return e
}

// New 创建新的错误
func New(kind ErrorKind, severity ErrorSeverity, code, message string) *WorkflowError {
	return &WorkflowError{
		Kind:      kind,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(kind),
	}
}

// Wrap 包装现有错误
func Wrap(err error, kind ErrorKind, severity ErrorSeverity, code, message string) *WorkflowError {
	e := New(kind, severity, code, message)
	e.Cause = err
	return e
}

// From 以预定义错误为模板创建新实例，避免修改共享的预定义错误
func From(sentinel *WorkflowError, cause error) *WorkflowError {
	e := New(sentinel.Kind, sentinel.Severity, sentinel.Code, sentinel.Message)
	e.Cause = cause
	return e
}

// Newf 以预定义错误为模板，附带格式化的说明
func Newf(sentinel *WorkflowError, format string, args ...interface{}) *WorkflowError {
	return From(sentinel, fmt.Errorf(format, args...))
}

// determineRetryable 只有连接类和只读类错误可重试，写操作一律不重试
func determineRetryable(kind ErrorKind) bool {
	switch kind {
	case KindConnection, KindList:
		return true
	default:
		return false
	}
}

// 预定义错误，用于errors.Is比较
var (
	ErrDeploymentNotFound = New(KindDeploymentNotFound, SeverityCritical,
		"DEPLOYMENT_NOT_FOUND", "当前网络没有合约部署")

	ErrConnectionFailed = New(KindConnection, SeverityHigh,
		"CONNECTION_FAILED", "连接节点失败")

	ErrAccountNotFound = New(KindAccount, SeverityHigh,
		"ACCOUNT_NOT_FOUND", "账户不可用")

	ErrConfigInvalid = New(KindConfig, SeverityCritical,
		"CONFIG_INVALID", "配置无效")

	ErrCreationFailed = New(KindCreation, SeverityMedium,
		"CREATION_FAILED", "创建活动失败")

	ErrPurchaseFailed = New(KindPurchase, SeverityMedium,
		"PURCHASE_FAILED", "购票失败")

	ErrListFailed = New(KindList, SeverityMedium,
		"LIST_FAILED", "读取活动列表失败")

	ErrEventNotFound = New(KindEventNotFound, SeverityLow,
		"EVENT_NOT_FOUND", "活动不在当前快照中")

	ErrInvalidInput = New(KindValidation, SeverityLow,
		"INVALID_INPUT", "参数校验失败")

	ErrNotInitialized = New(KindNotInitialized, SeverityHigh,
		"NOT_INITIALIZED", "合约绑定尚未初始化")
)

// 错误类型字符串映射
var errorKindNames = map[ErrorKind]string{
	KindDeploymentNotFound: "DeploymentNotFound",
	KindConnection:         "Connection",
	KindAccount:            "Account",
	KindConfig:             "Config",
	KindCreation:           "CreationError",
	KindPurchase:           "PurchaseError",
	KindList:               "ListError",
	KindEventNotFound:      "EventNotFound",
	KindValidation:         "Validation",
	KindNotInitialized:     "NotInitialized",
}

// String 返回错误类型的字符串表示
func (k ErrorKind) String() string {
	if name, exists := errorKindNames[k]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", k)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (s ErrorSeverity) String() string {
	if name, exists := severityNames[s]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", s)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int              `json:"total_errors"`
	ErrorsByKind      map[string]int   `json:"errors_by_kind"`
	ErrorsBySeverity  map[string]int   `json:"errors_by_severity"`
	ErrorsByComponent map[string]int   `json:"errors_by_component"`
	RecentErrors      []*WorkflowError `json:"recent_errors"`
	LastError         *WorkflowError   `json:"last_error,omitempty"`
	LastErrorTime     time.Time        `json:"last_error_time"`

	maxRecent int
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByKind:      make(map[string]int),
		ErrorsBySeverity:  make(map[string]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*WorkflowError, 0),
		maxRecent:         100,
	}
}

// RecordError 记录错误
func (s *ErrorStats) RecordError(err *WorkflowError) {
	s.TotalErrors++
	s.ErrorsByKind[err.Kind.String()]++
	s.ErrorsBySeverity[err.Severity.String()]++
	if err.Component != "" {
		s.ErrorsByComponent[err.Component]++
	}

	s.LastError = err
	s.LastErrorTime = err.Timestamp

	// 保留最近的错误
	s.RecentErrors = append(s.RecentErrors, err)
	if len(s.RecentErrors) > s.maxRecent {
		s.RecentErrors = s.RecentErrors[1:]
	}
}

// Copy 返回统计快照
func (s *ErrorStats) Copy() *ErrorStats {
	c := &ErrorStats{
		TotalErrors:       s.TotalErrors,
		ErrorsByKind:      make(map[string]int, len(s.ErrorsByKind)),
		ErrorsBySeverity:  make(map[string]int, len(s.ErrorsBySeverity)),
		ErrorsByComponent: make(map[string]int, len(s.ErrorsByComponent)),
		RecentErrors:      append([]*WorkflowError(nil), s.RecentErrors...),
		LastError:         s.LastError,
		LastErrorTime:     s.LastErrorTime,
		maxRecent:         s.maxRecent,
	}
	for k, v := range s.ErrorsByKind {
		c.ErrorsByKind[k] = v
	}
	for k, v := range s.ErrorsBySeverity {
		c.ErrorsBySeverity[k] = v
	}
	for k, v := range s.ErrorsByComponent {
		c.ErrorsByComponent[k] = v
	}
	return c
}
