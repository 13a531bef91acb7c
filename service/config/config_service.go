/*
 * @module service/config/config_service
 * @description 配置服务门面，为 API 层提供带结构化结果的配置操作入口
 * @architecture 分层架构 - 业务服务层
 * @documentReference dev_docs/configuration_management.md
 * @stateFlow API 请求 -> 服务门面 -> 配置管理器 -> 存储层
 * @rules 门面不持有状态，全部委托给配置管理器
 * @dependencies gorm.io/gorm
 * @refs api/controllers/config_controller.go
 */

package config

import (
	"fmt"

	"gorm.io/gorm"
)

// ConfigService 配置服务
type ConfigService struct {
	manager *ConfigManager
}

// NewConfigService 创建配置服务实例
func NewConfigService(db *gorm.DB, environment string, secrets SecretResolver) *ConfigService {
	return &ConfigService{
		manager: NewConfigManager(db, environment, secrets),
	}
}

// Manager 返回底层配置管理器，供需要回调注册的组件使用
func (s *ConfigService) Manager() *ConfigManager {
	return s.manager
}

// Start 启动后台任务
func (s *ConfigService) Start() {
	s.manager.StartSweeper()
}

// Stop 停止后台任务
func (s *ConfigService) Stop() {
	s.manager.Shutdown()
}

// GetConfig 读取单个配置，返回包含模式信息的结构
func (s *ConfigService) GetConfig(key, environment string) (map[string]interface{}, error) {
	value := s.manager.GetConfigEx(key, nil, true, environment)
	info := s.manager.GetConfigInfo(key)
	if value == nil && info == nil {
		return nil, fmt.Errorf("配置 %s 不存在", key)
	}

	result := map[string]interface{}{
		"key":   key,
		"value": value,
	}
	if info != nil {
		if isSecret, ok := info["is_secret"].(bool); ok && isSecret {
			result["value"] = redactedMarker
		}
		result["schema"] = info
	}
	return result, nil
}

// SetConfig 写入单个配置
func (s *ConfigService) SetConfig(key string, value interface{}, environment, changedBy, reason string) error {
	if !s.manager.SetConfigEx(key, value, environment, changedBy, reason, true) {
		return fmt.Errorf("配置 %s 写入失败", key)
	}
	return nil
}

// DeleteConfig 删除单个配置
func (s *ConfigService) DeleteConfig(key, environment, changedBy, reason string) error {
	if !s.manager.DeleteConfig(key, environment, changedBy, reason) {
		return fmt.Errorf("配置 %s 删除失败或不存在", key)
	}
	return nil
}

// RollbackConfig 回滚配置
func (s *ConfigService) RollbackConfig(key string, steps int, environment string) error {
	if !s.manager.RollbackConfig(key, steps, environment) {
		return fmt.Errorf("配置 %s 回滚失败", key)
	}
	return nil
}

// ListConfigs 列出配置键
func (s *ConfigService) ListConfigs(environment, category string) []string {
	return s.manager.ListConfigs(environment, category)
}

// GetHistory 读取配置历史
func (s *ConfigService) GetHistory(key, environment string, limit int) []map[string]interface{} {
	return s.manager.GetHistory(key, environment, limit)
}

// ExportConfig 导出配置
func (s *ConfigService) ExportConfig(environment, format string) (string, error) {
	return s.manager.ExportConfig(environment, format)
}

// ImportConfig 导入配置
func (s *ConfigService) ImportConfig(data, format, environment, changedBy string, dryRun bool) (bool, []string) {
	return s.manager.ImportConfig(data, format, environment, changedBy, dryRun)
}

// RegisterSchema 注册配置模式
func (s *ConfigService) RegisterSchema(schema *ConfigSchema) error {
	if !s.manager.RegisterSchema(schema) {
		return fmt.Errorf("配置模式 %s 注册失败", schema.Key)
	}
	return nil
}

// HealthCheck 配置系统健康状态
func (s *ConfigService) HealthCheck() map[string]interface{} {
	return s.manager.HealthCheck()
}
