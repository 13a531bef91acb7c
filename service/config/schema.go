/*
 * @module service/config/schema
 * @description 配置模式定义与校验，包含值类型检查与 range/regex/choices/custom 校验规则
 * @architecture 分层架构 - 业务服务层
 * @documentReference dev_docs/configuration_management.md
 * @stateFlow 模式注册 -> 写入校验 -> 读取校验
 * @rules 已注册模式的键必须通过全部校验规则才允许写入；custom 规则表达式编译结果按内容缓存
 * @dependencies github.com/spf13/cast, github.com/traefik/yaegi
 * @refs service/config/config_manager.go
 */

package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/spf13/cast"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// ValueType 配置值类型
type ValueType string

const (
	ValueTypeString   ValueType = "string"
	ValueTypeInteger  ValueType = "integer"
	ValueTypeFloat    ValueType = "float"
	ValueTypeBoolean  ValueType = "boolean"
	ValueTypeJSON     ValueType = "json"
	ValueTypeSecret   ValueType = "secret"
	ValueTypeFilePath ValueType = "file_path"
	ValueTypeURL      ValueType = "url"
	ValueTypeEmail    ValueType = "email"
)

// ConfigScope 配置作用域
type ConfigScope string

const (
	ScopeSystem      ConfigScope = "system"
	ScopeApplication ConfigScope = "application"
	ScopeUser        ConfigScope = "user"
	ScopeSession     ConfigScope = "session"
)

var (
	keyPattern   = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)
	urlPattern   = regexp.MustCompile(`^https?://([A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?\.)*([A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?|localhost|\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})(:\d+)?(/?|[/?]\S+)$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidationRule 单条校验规则，按注册顺序执行
type ValidationRule struct {
	RuleType     string                 `json:"rule_type"` // range, regex, choices, custom
	Parameters   map[string]interface{} `json:"parameters"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// 编译后的 custom 规则表达式，按表达式文本缓存
var (
	customRulesMu sync.RWMutex
	customRules   = make(map[string]func(interface{}) bool)
)

// compileCustomRule 将布尔表达式编译为校验函数，表达式内通过 value 引用被校验值
func compileCustomRule(expression string) (func(interface{}) bool, error) {
	customRulesMu.RLock()
	fn, ok := customRules[expression]
	customRulesMu.RUnlock()
	if ok {
		return fn, nil
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("加载标准库失败: %w", err)
	}

	src := fmt.Sprintf(`package main

func Validate(value interface{}) bool {
	return %s
}`, expression)
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("编译规则表达式失败: %w", err)
	}

	v, err := i.Eval("main.Validate")
	if err != nil {
		return nil, fmt.Errorf("获取规则入口失败: %w", err)
	}
	fn, ok = v.Interface().(func(interface{}) bool)
	if !ok {
		return nil, fmt.Errorf("规则入口类型不正确")
	}

	customRulesMu.Lock()
	customRules[expression] = fn
	customRulesMu.Unlock()
	return fn, nil
}

// runCustomRule 执行编译后的规则，表达式内的类型断言失败视为校验不通过
func runCustomRule(fn func(interface{}) bool, value interface{}) (passed bool) {
	defer func() {
		if r := recover(); r != nil {
			passed = false
		}
	}()
	return fn(value)
}

// Validate 校验值是否满足规则
func (r *ValidationRule) Validate(value interface{}) (bool, string) {
	switch r.RuleType {
	case "range":
		num, err := cast.ToFloat64E(value)
		if err != nil {
			return false, "Value must be a number"
		}
		if minVal, ok := r.Parameters["min"]; ok {
			if num < cast.ToFloat64(minVal) {
				return false, fmt.Sprintf("Value must be >= %v", minVal)
			}
		}
		if maxVal, ok := r.Parameters["max"]; ok {
			if num > cast.ToFloat64(maxVal) {
				return false, fmt.Sprintf("Value must be <= %v", maxVal)
			}
		}
	case "regex":
		pattern := cast.ToString(r.Parameters["pattern"])
		if pattern == "" {
			return true, ""
		}
		matched, err := regexp.MatchString(pattern, cast.ToString(value))
		if err != nil || !matched {
			if r.ErrorMessage != "" {
				return false, r.ErrorMessage
			}
			return false, fmt.Sprintf("Value must match pattern: %s", pattern)
		}
	case "choices":
		choices := cast.ToSlice(r.Parameters["choices"])
		if len(choices) == 0 {
			return true, ""
		}
		for _, choice := range choices {
			if cast.ToString(choice) == cast.ToString(value) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("Value must be one of: %v", choices)
	case "custom":
		expression := cast.ToString(r.Parameters["expression"])
		if expression == "" {
			return true, ""
		}
		fn, err := compileCustomRule(expression)
		if err != nil {
			return false, fmt.Sprintf("Invalid custom rule: %v", err)
		}
		if !runCustomRule(fn, value) {
			if r.ErrorMessage != "" {
				return false, r.ErrorMessage
			}
			return false, "Value failed custom validation"
		}
	}

	return true, ""
}

// ConfigSchema 配置模式，描述单个配置键的契约
type ConfigSchema struct {
	Key                 string           `json:"key"`
	DisplayName         string           `json:"display_name"`
	Description         string           `json:"description"`
	ValueType           ValueType        `json:"value_type"`
	DefaultValue        interface{}      `json:"default_value"`
	IsRequired          bool             `json:"is_required"`
	IsSecret            bool             `json:"is_secret"`
	IsReadonly          bool             `json:"is_readonly"`
	Scope               ConfigScope      `json:"scope"`
	Category            string           `json:"category"`
	ValidationRules     []ValidationRule `json:"validation_rules"`
	EnvironmentSpecific bool             `json:"environment_specific"`
	RestartRequired     bool             `json:"restart_required"`
	Deprecated          bool             `json:"deprecated"`
	DeprecationMessage  string           `json:"deprecation_message"`
}

// ValidateKey 校验键名格式，仅允许字母数字、下划线和点
func (s *ConfigSchema) ValidateKey() error {
	if s.Key == "" {
		return fmt.Errorf("schema key is required")
	}
	if !keyPattern.MatchString(s.Key) {
		return fmt.Errorf("key can only contain alphanumeric characters, underscores, and dots")
	}
	return nil
}

// ValidateValue 按类型与校验规则检查值
func (s *ConfigSchema) ValidateValue(value interface{}) (bool, string) {
	if value == nil {
		return true, ""
	}

	// 类型校验
	switch s.ValueType {
	case ValueTypeString, ValueTypeSecret, ValueTypeFilePath:
		if _, ok := value.(string); !ok {
			return false, "Value must be a string"
		}
	case ValueTypeInteger:
		if isBool(value) {
			return false, "Value must be an integer"
		}
		if _, err := toInt64Strict(value); err != nil {
			return false, "Value must be an integer"
		}
	case ValueTypeFloat:
		if isBool(value) {
			return false, "Value must be a number"
		}
		if _, err := cast.ToFloat64E(value); err != nil {
			return false, "Value must be a number"
		}
	case ValueTypeBoolean:
		if !isBool(value) {
			return false, "Value must be a boolean"
		}
	case ValueTypeJSON:
		if _, err := json.Marshal(value); err != nil {
			return false, "Value must be JSON serializable"
		}
	case ValueTypeURL:
		str, ok := value.(string)
		if !ok || !urlPattern.MatchString(str) {
			return false, "Value must be a valid URL"
		}
	case ValueTypeEmail:
		str, ok := value.(string)
		if !ok || !emailPattern.MatchString(str) {
			return false, "Value must be a valid email address"
		}
	}

	// 自定义校验规则，按顺序执行
	for i := range s.ValidationRules {
		if ok, errMsg := s.ValidationRules[i].Validate(value); !ok {
			return false, errMsg
		}
	}

	return true, ""
}

func isBool(value interface{}) bool {
	_, ok := value.(bool)
	return ok
}

// toInt64Strict 拒绝有小数部分的数值
func toInt64Strict(value interface{}) (int64, error) {
	switch v := value.(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int64(v), nil
	case float32:
		if float64(v) != float64(int64(v)) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int64(v), nil
	case string:
		if strings.Contains(v, ".") {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return cast.ToInt64E(v)
	default:
		return cast.ToInt64E(value)
	}
}

// serializeValue 将任意值序列化为存储形式 (文本, 类型标记)
func serializeValue(value interface{}) (*string, string) {
	if value == nil {
		return nil, "null"
	}

	switch v := value.(type) {
	case bool:
		str := cast.ToString(v)
		return &str, "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		str := cast.ToString(v)
		return &str, "integer"
	case float32, float64:
		str := cast.ToString(v)
		return &str, "float"
	case string:
		return &v, "string"
	default:
		// 复杂类型走 JSON 序列化
		data, err := json.Marshal(value)
		if err != nil {
			str := cast.ToString(value)
			return &str, "string"
		}
		str := string(data)
		return &str, "json"
	}
}

// deserializeValue 从存储形式还原值
func deserializeValue(valueStr *string, valueType string) interface{} {
	if valueStr == nil || valueType == "null" {
		return nil
	}

	switch valueType {
	case "boolean":
		return strings.EqualFold(*valueStr, "true")
	case "integer":
		return cast.ToInt64(*valueStr)
	case "float":
		return cast.ToFloat64(*valueStr)
	case "json":
		var value interface{}
		if err := json.Unmarshal([]byte(*valueStr), &value); err != nil {
			return *valueStr
		}
		return value
	default:
		return *valueStr
	}
}
