package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(KindConnection, SeverityHigh, "TEST_ERROR", "测试错误")

	assert.NotNil(t, err)
	assert.Equal(t, KindConnection, err.Kind)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, "TEST_ERROR", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.True(t, err.Retryable) // 连接错误默认可重试
	assert.False(t, err.Timestamp.IsZero())
}

func TestWorkflowError_Error(t *testing.T) {
	err := New(KindValidation, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息", err.Error())

	wrapped := Wrap(errors.New("原始错误"), KindValidation, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息: 原始错误", wrapped.Error())
}

func TestWorkflowError_Unwrap(t *testing.T) {
	cause := errors.New("execution reverted")
	err := From(ErrPurchaseFailed, cause)

	assert.Equal(t, cause, err.Unwrap())
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, New(KindList, SeverityLow, "X", "y").Unwrap())
}

func TestWorkflowError_Is(t *testing.T) {
	err := From(ErrDeploymentNotFound, fmt.Errorf("network 5777"))
	wrapped := fmt.Errorf("初始化失败: %w", err)

	assert.ErrorIs(t, wrapped, ErrDeploymentNotFound)
	assert.NotErrorIs(t, wrapped, ErrListFailed)

	var wfErr *WorkflowError
	assert.True(t, errors.As(wrapped, &wfErr))
	assert.Equal(t, KindDeploymentNotFound, wfErr.Kind)
}

func TestFromDoesNotMutateSentinel(t *testing.T) {
	err := From(ErrCreationFailed, errors.New("user rejected"))
	err.WithContext("name", "Gala").WithTxHash("0xabc")

	assert.Nil(t, ErrCreationFailed.Context)
	assert.Nil(t, ErrCreationFailed.TxHash)
	assert.Nil(t, ErrCreationFailed.Cause)
}

func TestRetryable(t *testing.T) {
	// 写操作不幂等，不允许重试
	assert.False(t, From(ErrCreationFailed, nil).IsRetryable())
	assert.False(t, From(ErrPurchaseFailed, nil).IsRetryable())
	assert.True(t, From(ErrListFailed, nil).IsRetryable())
	assert.False(t, From(ErrDeploymentNotFound, nil).IsRetryable())
}

func TestWithHelpers(t *testing.T) {
	err := Newf(ErrEventNotFound, "活动 %d", 7).WithEventID(7).WithComponent("workflow")

	assert.Equal(t, uint64(7), *err.EventID)
	assert.Equal(t, "workflow", err.Component)
	assert.Contains(t, err.Error(), "活动 7")
}

func TestKindAndSeverityString(t *testing.T) {
	assert.Equal(t, "DeploymentNotFound", KindDeploymentNotFound.String())
	assert.Equal(t, "PurchaseError", KindPurchase.String())
	assert.Equal(t, "Unknown(99)", ErrorKind(99).String())
	assert.Equal(t, "Critical", SeverityCritical.String())
	assert.Equal(t, "Unknown(9)", ErrorSeverity(9).String())
}

func TestErrorStats(t *testing.T) {
	stats := NewErrorStats()
	stats.RecordError(From(ErrListFailed, nil).WithComponent("workflow"))
	stats.RecordError(From(ErrPurchaseFailed, nil))

	assert.Equal(t, 2, stats.TotalErrors)
	assert.Equal(t, 1, stats.ErrorsByKind["ListError"])
	assert.Equal(t, 1, stats.ErrorsByKind["PurchaseError"])
	assert.Equal(t, 2, stats.ErrorsBySeverity["Medium"])
	assert.Equal(t, 1, stats.ErrorsByComponent["workflow"])
	assert.Equal(t, "PURCHASE_FAILED", stats.LastError.Code)

	for i := 0; i < 150; i++ {
		stats.RecordError(From(ErrListFailed, nil))
	}
	assert.Len(t, stats.RecentErrors, 100)

	c := stats.Copy()
	c.ErrorsByKind["ListError"] = 0
	assert.NotEqual(t, 0, stats.ErrorsByKind["ListError"])
}
