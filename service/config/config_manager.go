/*
 * @module service/config/config_manager
 * @description 配置管理器，负责配置缓存读取、校验写入、密钥引用解析、导入导出、回滚和变更回调
 * @architecture 分层架构 - 业务服务层
 * @documentReference dev_docs/configuration_management.md
 * @stateFlow 读取: 缓存 -> 存储 -> 模式默认值 -> 调用方默认值；写入: 校验 -> 持久化 -> 缓存失效 -> 回调
 * @rules 存储层异常不向外抛出，统一降级为 nil/false 返回值
 * @dependencies gorm.io/gorm, github.com/robfig/cron/v3, gopkg.in/yaml.v3
 * @refs service/config/store.go, service/config/schema.go
 */

package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

const (
	// 缓存条目有效期
	defaultCacheTTL = 60 * time.Second
	// 后台清理周期，保证外部进程的修改最终在 TTL 内可见
	sweepSchedule = "@every 30s"

	secretRefPrefix = "${secret:"
	secretRefSuffix = "}"

	redactedMarker = "[REDACTED]"
)

// ChangeCallback 配置变更回调，set/delete 成功后同步触发
type ChangeCallback func(key string, newValue interface{}, environment string)

// SecretResolver 外部密钥提供方
type SecretResolver interface {
	ResolveSecret(name string) (string, error)
}

type cacheEntry struct {
	value     interface{}
	timestamp time.Time
}

// ConfigManager 配置管理器
type ConfigManager struct {
	store       *Store
	environment string

	schemas     map[string]*ConfigSchema
	schemasLock sync.RWMutex

	cache     map[string]cacheEntry
	cacheLock sync.RWMutex
	cacheTTL  time.Duration

	callbacks     map[string][]ChangeCallback
	callbacksLock sync.RWMutex

	secrets SecretResolver

	sweeper *cron.Cron
}

// NewConfigManager 创建配置管理器实例并加载持久化模式
func NewConfigManager(db *gorm.DB, environment string, secrets SecretResolver) *ConfigManager {
	m := &ConfigManager{
		store:       NewStore(db),
		environment: environment,
		schemas:     make(map[string]*ConfigSchema),
		cache:       make(map[string]cacheEntry),
		cacheTTL:    defaultCacheTTL,
		callbacks:   make(map[string][]ChangeCallback),
		secrets:     secrets,
	}

	if schemas, err := m.store.LoadSchemas(); err != nil {
		slog.Warn("加载持久化配置模式失败", "error", err)
	} else {
		m.schemas = schemas
	}

	m.registerDefaultSchemas()

	return m
}

// StartSweeper 启动后台缓存清理
func (m *ConfigManager) StartSweeper() {
	if m.sweeper != nil {
		return
	}
	m.sweeper = cron.New()
	m.sweeper.AddFunc(sweepSchedule, m.sweepExpired)
	m.sweeper.Start()
	slog.Info("配置缓存清理任务已启动", "schedule", sweepSchedule)
}

// Shutdown 停止后台任务
func (m *ConfigManager) Shutdown() {
	if m.sweeper != nil {
		m.sweeper.Stop()
		m.sweeper = nil
	}
}

// sweepExpired 清除过期缓存条目
func (m *ConfigManager) sweepExpired() {
	now := time.Now()
	m.cacheLock.Lock()
	defer m.cacheLock.Unlock()

	for key, entry := range m.cache {
		if now.Sub(entry.timestamp) > m.cacheTTL {
			delete(m.cache, key)
		}
	}
}

// RegisterSchema 注册配置模式并持久化
func (m *ConfigManager) RegisterSchema(schema *ConfigSchema) bool {
	if err := schema.ValidateKey(); err != nil {
		slog.Error("配置模式注册失败", "key", schema.Key, "error", err)
		return false
	}

	m.schemasLock.Lock()
	m.schemas[schema.Key] = schema
	m.schemasLock.Unlock()

	if err := m.store.StoreSchema(schema); err != nil {
		slog.Error("配置模式持久化失败", "key", schema.Key, "error", err)
		return false
	}
	return true
}

// GetSchema 获取已注册的配置模式
func (m *ConfigManager) GetSchema(key string) *ConfigSchema {
	m.schemasLock.RLock()
	defer m.schemasLock.RUnlock()
	return m.schemas[key]
}

// GetConfig 读取配置值，使用缓存与默认环境
func (m *ConfigManager) GetConfig(key string, defaultValue interface{}) interface{} {
	return m.GetConfigEx(key, defaultValue, true, "")
}

// GetConfigEx 读取配置值。
// 解析顺序: 缓存 -> 存储 -> 模式默认值 -> 调用方默认值；
// 命中 ${secret:name} 引用时通过外部密钥提供方解析；
// 已注册模式的值校验失败时回退到模式默认值。
func (m *ConfigManager) GetConfigEx(key string, defaultValue interface{}, useCache bool, environment string) interface{} {
	env := m.resolveEnv(environment)
	cacheKey := key + ":" + env

	if useCache {
		m.cacheLock.RLock()
		entry, ok := m.cache[cacheKey]
		m.cacheLock.RUnlock()
		if ok && time.Since(entry.timestamp) < m.cacheTTL {
			cacheHits.Inc()
			return entry.value
		}
	}
	cacheMisses.Inc()

	value, err := m.store.GetValue(key, env)
	if err != nil {
		slog.Error("读取配置存储失败", "key", key, "error", err)
		value = nil
	}

	schema := m.GetSchema(key)

	if value == nil {
		if schema != nil && schema.DefaultValue != nil {
			value = schema.DefaultValue
		} else {
			value = defaultValue
		}
	}

	if resolved, ok := m.resolveSecretReference(value); ok {
		value = resolved
	}

	if schema != nil && value != nil {
		if ok, errMsg := schema.ValidateValue(value); !ok {
			slog.Warn("配置值未通过模式校验，回退默认值", "key", key, "error", errMsg)
			if schema.DefaultValue != nil {
				value = schema.DefaultValue
			} else {
				value = defaultValue
			}
		}
	}

	if useCache {
		m.cacheLock.Lock()
		m.cache[cacheKey] = cacheEntry{value: value, timestamp: time.Now()}
		m.cacheLock.Unlock()
	}

	return value
}

// SetConfig 写入配置值，使用默认环境并开启校验
func (m *ConfigManager) SetConfig(key string, value interface{}) bool {
	return m.SetConfigEx(key, value, "", "system", "", true)
}

// SetConfigEx 写入配置值。校验失败或键为只读时拒绝写入并返回 false；
// 成功后使缓存失效并同步触发该键注册的全部回调。
func (m *ConfigManager) SetConfigEx(key string, value interface{}, environment, changedBy, reason string, validate bool) bool {
	env := m.resolveEnv(environment)

	if validate {
		if schema := m.GetSchema(key); schema != nil {
			if ok, errMsg := schema.ValidateValue(value); !ok {
				slog.Error("配置值校验失败", "key", key, "error", errMsg)
				return false
			}
			if schema.IsReadonly {
				slog.Error("禁止修改只读配置", "key", key)
				return false
			}
		}
	}

	if err := m.store.SetValue(key, value, env, changedBy, reason); err != nil {
		slog.Error("写入配置失败", "key", key, "error", err)
		return false
	}
	configWrites.Inc()

	m.invalidateCache(key, env)
	m.triggerCallbacks(key, value, env)

	slog.Info("配置已更新", "key", key, "environment", env)
	return true
}

// DeleteConfig 删除配置值，键不存在时返回 false
func (m *ConfigManager) DeleteConfig(key, environment, changedBy, reason string) bool {
	env := m.resolveEnv(environment)

	if schema := m.GetSchema(key); schema != nil && schema.IsReadonly {
		slog.Error("禁止删除只读配置", "key", key)
		return false
	}

	deleted, err := m.store.DeleteValue(key, env, changedBy, reason)
	if err != nil {
		slog.Error("删除配置失败", "key", key, "error", err)
		return false
	}
	if !deleted {
		return false
	}

	m.invalidateCache(key, env)
	m.triggerCallbacks(key, nil, env)
	return true
}

// RollbackConfig 回滚配置到 steps 步之前的状态。
// 目标状态为第 steps 次最近变更之前的值：
//   - 该变更为 create 时，回滚到键不存在的状态（删除）；
//   - 该变更为 delete 时，恢复被删除前的具体值；
//   - 历史不足时返回 false。
//
// 对于 delete 链找不到具体值的情况回退到模式默认值，仍无法确定则失败。
func (m *ConfigManager) RollbackConfig(key string, steps int, environment string) bool {
	if steps <= 0 {
		return false
	}
	env := m.resolveEnv(environment)

	history, err := m.store.GetHistory(key, env, steps+1)
	if err != nil {
		slog.Error("读取配置历史失败", "key", key, "error", err)
		return false
	}
	if len(history) < steps {
		slog.Error("历史记录不足，无法回滚", "key", key, "steps", steps, "history", len(history))
		return false
	}

	target := history[steps-1]
	reason := fmt.Sprintf("Rollback %d steps", steps)

	var restore *string
	valueType := target.ValueType

	switch target.ChangeType {
	case "delete":
		// 删除前必然存在具体值
		restore = target.OldValue
		if restore == nil {
			// 继续向更早的历史扫描最后一次 create/update
			for _, entry := range history[steps:] {
				if entry.ChangeType == "create" || entry.ChangeType == "update" {
					restore = entry.NewValue
					valueType = entry.ValueType
					break
				}
			}
		}
		if restore == nil {
			// 历史中找不到具体值时采用模式默认值
			if schema := m.GetSchema(key); schema != nil && schema.DefaultValue != nil {
				return m.SetConfigEx(key, schema.DefaultValue, env, "system", reason, true)
			}
			slog.Error("回滚失败: 历史中无可恢复的值且模式无默认值", "key", key)
			return false
		}
	default:
		restore = target.OldValue
	}

	if restore == nil {
		// create 之前的状态为键不存在
		return m.DeleteConfig(key, env, "system", reason)
	}
	return m.SetConfigEx(key, deserializeValue(restore, valueType), env, "system", reason, true)
}

// ListConfigs 列出配置键，可按模式分类过滤
func (m *ConfigManager) ListConfigs(environment, category string) []string {
	env := m.resolveEnv(environment)

	keys, err := m.store.ListKeys(env)
	if err != nil {
		slog.Error("列出配置键失败", "error", err)
		return []string{}
	}

	if category == "" {
		return keys
	}

	filtered := make([]string, 0, len(keys))
	for _, key := range keys {
		if schema := m.GetSchema(key); schema != nil && schema.Category == category {
			filtered = append(filtered, key)
		}
	}
	return filtered
}

// GetHistory 读取配置变更历史
func (m *ConfigManager) GetHistory(key, environment string, limit int) []map[string]interface{} {
	entries, err := m.store.GetHistory(key, m.resolveEnv(environment), limit)
	if err != nil {
		slog.Error("读取配置历史失败", "key", key, "error", err)
		return []map[string]interface{}{}
	}

	result := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		result = append(result, map[string]interface{}{
			"key":         entry.Key,
			"old_value":   deserializeValue(entry.OldValue, entry.ValueType),
			"new_value":   deserializeValue(entry.NewValue, entry.ValueType),
			"value_type":  entry.ValueType,
			"environment": entry.Environment,
			"change_type": entry.ChangeType,
			"timestamp":   entry.Timestamp,
			"changed_by":  entry.ChangedBy,
			"reason":      entry.Reason,
		})
	}
	return result
}

// GetConfigInfo 获取配置键的模式信息与当前值，密钥类配置脱敏
func (m *ConfigManager) GetConfigInfo(key string) map[string]interface{} {
	schema := m.GetSchema(key)
	if schema == nil {
		return nil
	}

	currentValue := m.GetConfig(key, nil)
	if schema.IsSecret {
		currentValue = redactedMarker
	}

	return map[string]interface{}{
		"key":                  key,
		"display_name":         schema.DisplayName,
		"description":          schema.Description,
		"value_type":           string(schema.ValueType),
		"current_value":        currentValue,
		"default_value":        schema.DefaultValue,
		"is_required":          schema.IsRequired,
		"is_secret":            schema.IsSecret,
		"is_readonly":          schema.IsReadonly,
		"scope":                string(schema.Scope),
		"category":             schema.Category,
		"environment_specific": schema.EnvironmentSpecific,
		"restart_required":     schema.RestartRequired,
		"deprecated":           schema.Deprecated,
		"deprecation_message":  schema.DeprecationMessage,
	}
}

// ExportConfig 导出指定环境的配置，密钥类配置以脱敏标记导出
func (m *ConfigManager) ExportConfig(environment, format string) (string, error) {
	env := m.resolveEnv(environment)
	keys := m.ListConfigs(env, "")

	configData := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		if schema := m.GetSchema(key); schema != nil && schema.IsSecret {
			configData[key] = redactedMarker
			continue
		}
		configData[key] = m.GetConfigEx(key, nil, false, env)
	}

	if strings.EqualFold(format, "yaml") {
		data, err := yaml.Marshal(configData)
		if err != nil {
			return "", fmt.Errorf("导出YAML失败: %w", err)
		}
		return string(data), nil
	}

	data, err := json.MarshalIndent(configData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("导出JSON失败: %w", err)
	}
	return string(data), nil
}

// ImportConfig 导入配置。先对全部键做一次性预校验（含只读拒绝与脱敏标记拒绝），
// 任一键不合法则整体失败不写入；dryRun 为 true 时仅报告将要发生的变更。
func (m *ConfigManager) ImportConfig(data, format, environment, changedBy string, dryRun bool) (bool, []string) {
	env := m.resolveEnv(environment)
	var messages []string

	configData := make(map[string]interface{})
	var err error
	if strings.EqualFold(format, "yaml") {
		err = yaml.Unmarshal([]byte(data), &configData)
	} else {
		err = json.Unmarshal([]byte(data), &configData)
	}
	if err != nil {
		return false, []string{fmt.Sprintf("Import failed: %v", err)}
	}

	// 全量预校验
	var validationErrors []string
	for key, value := range configData {
		schema := m.GetSchema(key)
		if schema == nil {
			continue
		}
		if schema.IsSecret {
			if str, ok := value.(string); ok && str == redactedMarker {
				validationErrors = append(validationErrors, fmt.Sprintf("%s: Redacted secret must be re-supplied before import", key))
				continue
			}
		}
		if ok, errMsg := schema.ValidateValue(value); !ok {
			validationErrors = append(validationErrors, fmt.Sprintf("%s: %s", key, errMsg))
		} else if schema.IsReadonly {
			validationErrors = append(validationErrors, fmt.Sprintf("%s: Cannot import readonly configuration", key))
		}
	}
	if len(validationErrors) > 0 {
		return false, validationErrors
	}

	if dryRun {
		messages = append(messages, fmt.Sprintf("Would import %d configuration values", len(configData)))
		for key := range configData {
			messages = append(messages, "  - "+key)
		}
		return true, messages
	}

	successCount := 0
	for key, value := range configData {
		if m.SetConfigEx(key, value, env, changedBy, "Bulk import", true) {
			successCount++
			messages = append(messages, "Imported: "+key)
		} else {
			messages = append(messages, "Failed to import: "+key)
		}
	}
	messages = append(messages, fmt.Sprintf("Successfully imported %d/%d configurations", successCount, len(configData)))
	return successCount == len(configData), messages
}

// RegisterChangeCallback 为指定键注册变更回调，按注册顺序触发
func (m *ConfigManager) RegisterChangeCallback(key string, callback ChangeCallback) {
	m.callbacksLock.Lock()
	defer m.callbacksLock.Unlock()
	m.callbacks[key] = append(m.callbacks[key], callback)
}

// HealthCheck 配置系统健康状态
func (m *ConfigManager) HealthCheck() map[string]interface{} {
	m.schemasLock.RLock()
	schemaCount := len(m.schemas)
	m.schemasLock.RUnlock()

	m.cacheLock.RLock()
	cacheCount := len(m.cache)
	m.cacheLock.RUnlock()

	status := map[string]interface{}{
		"database_accessible": false,
		"schemas_loaded":      schemaCount,
		"cache_entries":       cacheCount,
		"sweeper_active":      m.sweeper != nil,
		"environment":         m.environment,
	}

	keys, err := m.store.ListKeys(m.environment)
	if err == nil {
		status["database_accessible"] = true
		status["total_configs"] = len(keys)
	} else {
		status["error"] = err.Error()
	}
	return status
}

func (m *ConfigManager) resolveEnv(environment string) string {
	if environment != "" {
		return environment
	}
	return m.environment
}

func (m *ConfigManager) invalidateCache(key, environment string) {
	m.cacheLock.Lock()
	delete(m.cache, key+":"+environment)
	m.cacheLock.Unlock()
}

// triggerCallbacks 同步触发回调，单个回调 panic 不影响其余回调
func (m *ConfigManager) triggerCallbacks(key string, newValue interface{}, environment string) {
	m.callbacksLock.RLock()
	callbacks := make([]ChangeCallback, len(m.callbacks[key]))
	copy(callbacks, m.callbacks[key])
	m.callbacksLock.RUnlock()

	for _, callback := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("配置变更回调异常", "key", key, "panic", r)
				}
			}()
			callback(key, newValue, environment)
		}()
	}
}

// resolveSecretReference 解析 ${secret:name} 形式的密钥引用
func (m *ConfigManager) resolveSecretReference(value interface{}) (interface{}, bool) {
	str, ok := value.(string)
	if !ok || !strings.HasPrefix(str, secretRefPrefix) || !strings.HasSuffix(str, secretRefSuffix) {
		return nil, false
	}

	name := str[len(secretRefPrefix) : len(str)-len(secretRefSuffix)]
	if m.secrets == nil {
		slog.Error("密钥引用无法解析: 未配置密钥提供方", "reference", str)
		return nil, true
	}

	secret, err := m.secrets.ResolveSecret(name)
	if err != nil {
		slog.Error("密钥引用解析失败", "reference", str, "error", err)
		return nil, true
	}
	return secret, true
}

// registerDefaultSchemas 注册内置配置模式
func (m *ConfigManager) registerDefaultSchemas() {
	defaults := []*ConfigSchema{
		{
			Key:          "app.name",
			DisplayName:  "Application Name",
			Description:  "Name of the application",
			ValueType:    ValueTypeString,
			DefaultValue: "Zenith AI",
			Scope:        ScopeApplication,
			Category:     "application",
		},
		{
			Key:          "app.port",
			DisplayName:  "Application Port",
			Description:  "Port for the web server",
			ValueType:    ValueTypeInteger,
			DefaultValue: 8501,
			Scope:        ScopeApplication,
			Category:     "server",
			ValidationRules: []ValidationRule{
				{RuleType: "range", Parameters: map[string]interface{}{"min": 1024, "max": 65535}},
			},
		},
		{
			Key:          "database.url",
			DisplayName:  "Database URL",
			Description:  "Database connection URL",
			ValueType:    ValueTypeURL,
			DefaultValue: "http://localhost:5432",
			Scope:        ScopeApplication,
			Category:     "database",
		},
		{
			Key:          "qdrant.url",
			DisplayName:  "Qdrant URL",
			Description:  "Qdrant vector database URL",
			ValueType:    ValueTypeURL,
			DefaultValue: "http://localhost:6333",
			Scope:        ScopeApplication,
			Category:     "vector_database",
		},
		{
			Key:         "openai.api_key",
			DisplayName: "OpenAI API Key",
			Description: "OpenAI API key for chat and embeddings",
			ValueType:   ValueTypeSecret,
			IsSecret:    true,
			Scope:       ScopeApplication,
			Category:    "ai_providers",
		},
		{
			Key:         "security.jwt_secret",
			DisplayName: "JWT Secret Key",
			Description: "Secret key for JWT token signing",
			ValueType:   ValueTypeSecret,
			IsSecret:    true,
			IsRequired:  true,
			Scope:       ScopeSystem,
			Category:    "security",
		},
		{
			Key:          "logging.level",
			DisplayName:  "Logging Level",
			Description:  "Application logging level",
			ValueType:    ValueTypeString,
			DefaultValue: "INFO",
			Scope:        ScopeApplication,
			Category:     "logging",
			ValidationRules: []ValidationRule{
				{RuleType: "choices", Parameters: map[string]interface{}{
					"choices": []interface{}{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"},
				}},
			},
		},
	}

	for _, schema := range defaults {
		m.RegisterSchema(schema)
	}
}
