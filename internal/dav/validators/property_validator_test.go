package validators

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClarkNameRule(t *testing.T) {
	rule := &ClarkNameRule{}
	tests := []struct {
		name    string
		prop    string
		wantErr bool
	}{
		{"合法Clark名", "{urn:example}color", false},
		{"裸名无命名空间", "color", true},
		{"空命名空间", "{}color", true},
		{"空本地名", "{urn:example}", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule.Validate(tt.prop, "v")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValueSizeRule(t *testing.T) {
	rule := &ValueSizeRule{MaxBytes: 10}
	assert.NoError(t, rule.Validate("{urn:x}p", "short"))
	assert.Error(t, rule.Validate("{urn:x}p", strings.Repeat("x", 11)))
}

func TestWellFormedXMLRule(t *testing.T) {
	rule := &WellFormedXMLRule{}
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"空值", "", false},
		{"纯文本", "hello", false},
		{"良构片段", "<a><b>x</b></a>", false},
		{"多个顶层元素", "<a/><b/>", false},
		{"未闭合标签", "<a><b></a>", true},
		{"孤立结束标签", "</a>", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule.Validate("{urn:x}p", tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCompositeValidator(t *testing.T) {
	cv := NewDefaultValidator()

	assert.NoError(t, cv.Validate("{urn:example}color", "<v>red</v>"))
	assert.Error(t, cv.Validate("color", "<v>red</v>"))
	assert.Error(t, cv.Validate("{urn:example}color", "<broken"))

	t.Run("追加规则生效", func(t *testing.T) {
		custom := NewCompositeValidator()
		custom.AddRule(&ValueSizeRule{MaxBytes: 1})
		assert.Error(t, custom.Validate("{urn:x}p", "too long"))
	})
}
