package validators

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/webdav-provider/internal/types"
)

// ========================================
// Dead Property Validator - 死属性校验器
// ========================================

// MaxValueBytes 单个死属性值的大小上限
const MaxValueBytes = 10240

// ValidationRule 单条校验规则
type ValidationRule interface {
	Validate(clarkName, value string) error
	RuleName() string
}

// ClarkNameRule 属性名必须是带命名空间的Clark记法
// {DAV:}名在写入前已被上层拦截，这里只防御裸名
type ClarkNameRule struct{}

func (r *ClarkNameRule) Validate(clarkName, value string) error {
	namespace, local := types.SplitClark(clarkName)
	if strings.TrimSpace(local) == "" {
		return types.NewForbidden("property local name must not be empty")
	}
	if strings.TrimSpace(namespace) == "" {
		return types.NewForbidden("property %s has no namespace", clarkName)
	}
	return nil
}

func (r *ClarkNameRule) RuleName() string { return "clark-name" }

// ValueSizeRule 值大小上限
type ValueSizeRule struct {
	MaxBytes int
}

func (r *ValueSizeRule) Validate(clarkName, value string) error {
	if len(value) > r.MaxBytes {
		return types.NewForbidden("property %s value exceeds %d bytes", clarkName, r.MaxBytes)
	}
	return nil
}

func (r *ValueSizeRule) RuleName() string { return "value-size" }

// WellFormedXMLRule 值必须是良构的XML片段
// 死属性按序列化XML原样存取，畸形片段会污染后续的multistatus输出
type WellFormedXMLRule struct{}

func (r *WellFormedXMLRule) Validate(clarkName, value string) error {
	if value == "" {
		return nil
	}
	decoder := xml.NewDecoder(strings.NewReader("<v>" + value + "</v>"))
	for {
		_, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return types.NewForbidden("property %s value is not well-formed XML: %v", clarkName, err)
		}
	}
}

func (r *WellFormedXMLRule) RuleName() string { return "well-formed-xml" }

// CompositeValidator 按序执行的规则组合，首个失败即返回
type CompositeValidator struct {
	rules []ValidationRule
}

// NewCompositeValidator 组合规则
func NewCompositeValidator(rules ...ValidationRule) *CompositeValidator {
	return &CompositeValidator{rules: rules}
}

// AddRule 追加规则
func (cv *CompositeValidator) AddRule(rule ValidationRule) {
	cv.rules = append(cv.rules, rule)
}

// Validate 执行全部规则
func (cv *CompositeValidator) Validate(clarkName, value string) error {
	for _, rule := range cv.rules {
		if err := rule.Validate(clarkName, value); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultValidator 默认校验器：名字、大小、XML良构
func NewDefaultValidator() *CompositeValidator {
	return NewCompositeValidator(
		&ClarkNameRule{},
		&ValueSizeRule{MaxBytes: MaxValueBytes},
		&WellFormedXMLRule{},
	)
}
