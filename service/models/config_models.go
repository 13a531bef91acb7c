/*
 * @module service/models/config_models
 * @description 动态配置相关数据模型，包含配置值、配置变更历史和配置模式持久化记录
 * @architecture 数据访问层 - 数据模型
 * @documentReference dev_docs/configuration_management.md
 * @stateFlow 配置写入 -> 历史追加 -> 审计/回滚
 * @rules (key, environment) 唯一；历史表只追加不修改
 * @dependencies gorm.io/gorm
 * @refs service/config
 */

package models

import (
	"time"
)

// 配置变更类型
const (
	ConfigChangeCreate = "create"
	ConfigChangeUpdate = "update"
	ConfigChangeDelete = "delete"
)

// ConfigValue 配置值，按 (key, environment) 唯一
type ConfigValue struct {
	ID          string    `gorm:"type:varchar(50);primaryKey" json:"id"`
	Key         string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_config_value_key_env" json:"key"`
	Value       *string   `gorm:"type:text" json:"value"`
	ValueType   string    `gorm:"type:varchar(20);not null" json:"value_type"`
	Environment string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_config_value_key_env" json:"environment"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `gorm:"type:varchar(100)" json:"created_by"`
	UpdatedBy   string    `gorm:"type:varchar(100)" json:"updated_by"`
}

// TableName 指定表名
func (ConfigValue) TableName() string {
	return "configuration_values"
}

// ConfigHistory 配置变更历史，只追加，用于审计与回滚
type ConfigHistory struct {
	ID          string    `gorm:"type:varchar(50);primaryKey" json:"id"`
	Key         string    `gorm:"type:varchar(100);not null;index:idx_config_history_key_env" json:"key"`
	OldValue    *string   `gorm:"type:text" json:"old_value"`
	NewValue    *string   `gorm:"type:text" json:"new_value"`
	ValueType   string    `gorm:"type:varchar(20);not null" json:"value_type"`
	Environment string    `gorm:"type:varchar(20);not null;index:idx_config_history_key_env" json:"environment"`
	ChangeType  string    `gorm:"type:varchar(20);not null" json:"change_type"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
	ChangedBy   string    `gorm:"type:varchar(100)" json:"changed_by"`
	Reason      string    `gorm:"type:text" json:"reason"`
}

// TableName 指定表名
func (ConfigHistory) TableName() string {
	return "configuration_history"
}

// ConfigSchemaRecord 配置模式持久化记录，模式本体以 JSON 形式存储
type ConfigSchemaRecord struct {
	Key        string    `gorm:"type:varchar(100);primaryKey" json:"key"`
	SchemaJSON string    `gorm:"type:text;not null" json:"schema_json"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName 指定表名
func (ConfigSchemaRecord) TableName() string {
	return "configuration_schemas"
}
