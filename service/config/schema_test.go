package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	valid := []string{"app.name", "database_url", "openai.api_key", "A1.b2_c3"}
	for _, key := range valid {
		schema := &ConfigSchema{Key: key, ValueType: ValueTypeString}
		assert.NoError(t, schema.ValidateKey(), "key %s should be valid", key)
	}

	invalid := []string{"", "app name", "app-name", "app/name", "密钥"}
	for _, key := range invalid {
		schema := &ConfigSchema{Key: key, ValueType: ValueTypeString}
		assert.Error(t, schema.ValidateKey(), "key %s should be invalid", key)
	}
}

func TestValidateValueTypes(t *testing.T) {
	tests := []struct {
		name      string
		valueType ValueType
		value     interface{}
		wantOK    bool
	}{
		{"string ok", ValueTypeString, "hello", true},
		{"string rejects int", ValueTypeString, 42, false},
		{"integer ok", ValueTypeInteger, 42, true},
		{"integer accepts whole float", ValueTypeInteger, float64(42), true},
		{"integer rejects fraction", ValueTypeInteger, 42.5, false},
		{"integer rejects bool", ValueTypeInteger, true, false},
		{"float ok", ValueTypeFloat, 3.14, true},
		{"float accepts int", ValueTypeFloat, 3, true},
		{"float rejects bool", ValueTypeFloat, false, false},
		{"boolean ok", ValueTypeBoolean, true, true},
		{"boolean rejects string", ValueTypeBoolean, "true", false},
		{"url ok", ValueTypeURL, "http://localhost:6333", true},
		{"url with path", ValueTypeURL, "https://api.example.com/v1", true},
		{"url rejects garbage", ValueTypeURL, "not a url", false},
		{"email ok", ValueTypeEmail, "admin@example.com", true},
		{"email rejects garbage", ValueTypeEmail, "admin@", false},
		{"json ok", ValueTypeJSON, map[string]interface{}{"a": 1}, true},
		{"nil always ok", ValueTypeInteger, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema := &ConfigSchema{Key: "test.key", ValueType: tt.valueType}
			ok, errMsg := schema.ValidateValue(tt.value)
			assert.Equal(t, tt.wantOK, ok, "errMsg: %s", errMsg)
		})
	}
}

func TestValidationRules(t *testing.T) {
	t.Run("range", func(t *testing.T) {
		schema := &ConfigSchema{
			Key:       "app.port",
			ValueType: ValueTypeInteger,
			ValidationRules: []ValidationRule{
				{RuleType: "range", Parameters: map[string]interface{}{"min": 1024, "max": 65535}},
			},
		}

		ok, _ := schema.ValidateValue(8080)
		assert.True(t, ok)

		ok, errMsg := schema.ValidateValue(80)
		assert.False(t, ok)
		assert.Contains(t, errMsg, ">=")

		ok, _ = schema.ValidateValue(70000)
		assert.False(t, ok)
	})

	t.Run("regex", func(t *testing.T) {
		schema := &ConfigSchema{
			Key:       "app.version",
			ValueType: ValueTypeString,
			ValidationRules: []ValidationRule{
				{RuleType: "regex", Parameters: map[string]interface{}{"pattern": `^\d+\.\d+\.\d+$`}},
			},
		}

		ok, _ := schema.ValidateValue("1.2.3")
		assert.True(t, ok)

		ok, _ = schema.ValidateValue("v1.2")
		assert.False(t, ok)
	})

	t.Run("custom", func(t *testing.T) {
		schema := &ConfigSchema{
			Key:       "security.jwt_secret",
			ValueType: ValueTypeString,
			ValidationRules: []ValidationRule{
				{
					RuleType:     "custom",
					Parameters:   map[string]interface{}{"expression": `len(value.(string)) >= 8`},
					ErrorMessage: "Secret must be at least 8 characters",
				},
			},
		}

		ok, _ := schema.ValidateValue("long-enough-secret")
		assert.True(t, ok)

		ok, errMsg := schema.ValidateValue("short")
		assert.False(t, ok)
		assert.Equal(t, "Secret must be at least 8 characters", errMsg)
	})

	t.Run("custom expression panic fails closed", func(t *testing.T) {
		schema := &ConfigSchema{
			Key:       "app.flag",
			ValueType: ValueTypeJSON,
			ValidationRules: []ValidationRule{
				{RuleType: "custom", Parameters: map[string]interface{}{"expression": `value.(string) != ""`}},
			},
		}

		// 表达式内类型断言失败不 panic，按校验不通过处理
		ok, errMsg := schema.ValidateValue(42)
		assert.False(t, ok)
		assert.Contains(t, errMsg, "custom validation")
	})

	t.Run("custom expression compile error", func(t *testing.T) {
		schema := &ConfigSchema{
			Key:       "app.flag",
			ValueType: ValueTypeString,
			ValidationRules: []ValidationRule{
				{RuleType: "custom", Parameters: map[string]interface{}{"expression": `this is not go`}},
			},
		}

		ok, errMsg := schema.ValidateValue("anything")
		assert.False(t, ok)
		assert.Contains(t, errMsg, "Invalid custom rule")
	})

	t.Run("choices", func(t *testing.T) {
		schema := &ConfigSchema{
			Key:       "logging.level",
			ValueType: ValueTypeString,
			ValidationRules: []ValidationRule{
				{RuleType: "choices", Parameters: map[string]interface{}{
					"choices": []interface{}{"DEBUG", "INFO", "ERROR"},
				}},
			},
		}

		ok, _ := schema.ValidateValue("INFO")
		assert.True(t, ok)

		ok, errMsg := schema.ValidateValue("TRACE")
		assert.False(t, ok)
		assert.Contains(t, errMsg, "must be one of")
	})

	t.Run("rules run in order and stop at first failure", func(t *testing.T) {
		schema := &ConfigSchema{
			Key:       "test.ordered",
			ValueType: ValueTypeInteger,
			ValidationRules: []ValidationRule{
				{RuleType: "range", Parameters: map[string]interface{}{"min": 10}},
				{RuleType: "range", Parameters: map[string]interface{}{"max": 5}},
			},
		}

		ok, errMsg := schema.ValidateValue(3)
		require.False(t, ok)
		assert.Contains(t, errMsg, ">=")
	})
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  interface{}
	}{
		{"string", "hello", "hello"},
		{"integer", 42, int64(42)},
		{"float", 3.5, 3.5},
		{"bool true", true, true},
		{"bool false", false, false},
		{"json map", map[string]interface{}{"a": "b"}, map[string]interface{}{"a": "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			str, valueType := serializeValue(tt.value)
			require.NotNil(t, str)
			got := deserializeValue(str, valueType)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("nil", func(t *testing.T) {
		str, valueType := serializeValue(nil)
		assert.Nil(t, str)
		assert.Equal(t, "null", valueType)
		assert.Nil(t, deserializeValue(str, valueType))
	})
}
