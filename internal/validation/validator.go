package validation

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	apperrors "eventchain/internal/errors"
	"eventchain/internal/units"
	"eventchain/pkg/models"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// 支持的日期格式
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// Validator 请求参数验证器
type Validator struct {
	validate *validator.Validate
	logger   *logrus.Logger
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []*apperrors.WorkflowError `json:"errors,omitempty"`
	DataType string                     `json:"data_type"`
}

// Err 返回第一个错误，验证通过时为nil
func (r *ValidationResult) Err() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// NewValidator 创建验证器并注册自定义规则
func NewValidator(logger *logrus.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// 错误信息中使用json字段名
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	mustRegister(v, "ether", func(fl validator.FieldLevel) bool {
		_, err := units.ParseEther(fl.Field().String())
		return err == nil
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("注册验证规则 %s 失败: %v", tag, err))
	}
}

// ValidateCreateEvent 验证创建活动参数，返回单价的wei值
func (v *Validator) ValidateCreateEvent(req *models.CreateEventRequest) (*big.Int, *ValidationResult) {
	result := v.validateStruct(req, "create_event")
	if !result.Valid {
		return nil, result
	}

	priceWei, err := units.ParseEther(req.UnitPrice)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, apperrors.From(apperrors.ErrInvalidInput, err).
			WithContext("field", "unit_price"))
		return nil, result
	}
	return priceWei, result
}

// ValidatePurchase 验证购票请求
func (v *Validator) ValidatePurchase(intent *models.PurchaseIntent) *ValidationResult {
	return v.validateStruct(intent, "purchase")
}

// ValidateAccount 验证账户地址
func (v *Validator) ValidateAccount(account string) error {
	if err := v.validate.Var(account, "required,eth_addr"); err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, "账户地址格式无效: %q", account).
			WithContext("field", "account")
	}
	return nil
}

// validateStruct 执行结构体标签验证，把字段错误转换为WorkflowError
func (v *Validator) validateStruct(data interface{}, dataType string) *ValidationResult {
	result := &ValidationResult{Valid: true, DataType: dataType}

	err := v.validate.Struct(data)
	if err == nil {
		return result
	}

	result.Valid = false
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		result.Errors = append(result.Errors, apperrors.From(apperrors.ErrInvalidInput, err))
		return result
	}

	for _, fe := range fieldErrs {
		result.Errors = append(result.Errors,
			apperrors.Newf(apperrors.ErrInvalidInput, "字段 %s 不满足规则 %s", fe.Field(), ruleText(fe)).
				WithContext("field", fe.Field()).
				WithContext("rule", fe.Tag()))
	}
	if v.logger != nil {
		v.logger.Debugf("%s 参数校验失败: %v", dataType, err)
	}
	return result
}

func ruleText(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fe.Tag() + "=" + fe.Param()
	}
	return fe.Tag()
}

// ParseDate 解析活动日期，支持Unix秒、YYYY-MM-DD（UTC零点）和RFC3339
func ParseDate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("日期不能为空")
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("日期必须是正的Unix时间戳: %s", s)
		}
		return secs, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Unix() <= 0 {
				return 0, fmt.Errorf("日期早于1970-01-01: %s", s)
			}
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("无法解析日期: %q", s)
}
