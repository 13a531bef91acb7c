/*
 * @module service/config/store
 * @description 配置存储层，基于关系型数据库维护配置值、变更历史和模式记录
 * @architecture 数据访问层
 * @documentReference dev_docs/configuration_management.md
 * @stateFlow 写入配置 -> 同事务追加历史 -> 提交
 * @rules 删除仅移除生效行，历史行永久保留
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/config/config_manager.go, service/models/config_models.go
 */

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"zenith-service/service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store 数据库配置存储
type Store struct {
	db *gorm.DB
}

// NewStore 创建配置存储实例
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetValue 读取配置值，不存在时返回 (nil, nil)
func (s *Store) GetValue(key, environment string) (interface{}, error) {
	var record models.ConfigValue
	err := s.db.Where("key = ? AND environment = ?", key, environment).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取配置 %s 失败: %w", key, err)
	}
	return deserializeValue(record.Value, record.ValueType), nil
}

// SetValue 写入配置值并在同一事务内追加历史记录
func (s *Store) SetValue(key string, value interface{}, environment, changedBy, reason string) error {
	valueStr, valueType := serializeValue(value)
	now := time.Now()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.ConfigValue
		err := tx.Where("key = ? AND environment = ?", key, environment).First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("查询既有配置失败: %w", err)
		}

		changeType := models.ConfigChangeCreate
		var oldValue *string

		if err == nil {
			changeType = models.ConfigChangeUpdate
			oldValue = existing.Value

			existing.Value = valueStr
			existing.ValueType = valueType
			existing.UpdatedAt = now
			existing.UpdatedBy = changedBy
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("更新配置失败: %w", err)
			}
		} else {
			record := models.ConfigValue{
				ID:          uuid.New().String(),
				Key:         key,
				Value:       valueStr,
				ValueType:   valueType,
				Environment: environment,
				CreatedAt:   now,
				UpdatedAt:   now,
				CreatedBy:   changedBy,
				UpdatedBy:   changedBy,
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("创建配置失败: %w", err)
			}
		}

		history := models.ConfigHistory{
			ID:          uuid.New().String(),
			Key:         key,
			OldValue:    oldValue,
			NewValue:    valueStr,
			ValueType:   valueType,
			Environment: environment,
			ChangeType:  changeType,
			Timestamp:   now,
			ChangedBy:   changedBy,
			Reason:      reason,
		}
		if err := tx.Create(&history).Error; err != nil {
			return fmt.Errorf("记录配置历史失败: %w", err)
		}

		return nil
	})
}

// DeleteValue 删除配置值，保留历史；键不存在时返回 false
func (s *Store) DeleteValue(key, environment, changedBy, reason string) (bool, error) {
	deleted := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.ConfigValue
		err := tx.Where("key = ? AND environment = ?", key, environment).First(&existing).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("查询既有配置失败: %w", err)
		}

		if err := tx.Delete(&existing).Error; err != nil {
			return fmt.Errorf("删除配置失败: %w", err)
		}

		history := models.ConfigHistory{
			ID:          uuid.New().String(),
			Key:         key,
			OldValue:    existing.Value,
			NewValue:    nil,
			ValueType:   existing.ValueType,
			Environment: environment,
			ChangeType:  models.ConfigChangeDelete,
			Timestamp:   time.Now(),
			ChangedBy:   changedBy,
			Reason:      reason,
		}
		if err := tx.Create(&history).Error; err != nil {
			return fmt.Errorf("记录配置历史失败: %w", err)
		}

		deleted = true
		return nil
	})

	return deleted, err
}

// ListKeys 按键名排序列出指定环境下的全部配置键
func (s *Store) ListKeys(environment string) ([]string, error) {
	var keys []string
	err := s.db.Model(&models.ConfigValue{}).
		Where("environment = ?", environment).
		Order("key").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("列出配置键失败: %w", err)
	}
	return keys, nil
}

// GetHistory 获取变更历史，按时间倒序
func (s *Store) GetHistory(key, environment string, limit int) ([]models.ConfigHistory, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.db.Model(&models.ConfigHistory{})
	if key != "" {
		query = query.Where("key = ?", key)
	}
	if environment != "" {
		query = query.Where("environment = ?", environment)
	}

	var entries []models.ConfigHistory
	err := query.Order("timestamp DESC, id DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("读取配置历史失败: %w", err)
	}
	return entries, nil
}

// StoreSchema 持久化配置模式
func (s *Store) StoreSchema(schema *ConfigSchema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("序列化配置模式失败: %w", err)
	}

	now := time.Now()
	record := models.ConfigSchemaRecord{
		Key:        schema.Key,
		SchemaJSON: string(data),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.Save(&record).Error; err != nil {
		return fmt.Errorf("保存配置模式失败: %w", err)
	}
	return nil
}

// LoadSchemas 加载全部持久化的配置模式
func (s *Store) LoadSchemas() (map[string]*ConfigSchema, error) {
	var records []models.ConfigSchemaRecord
	if err := s.db.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("加载配置模式失败: %w", err)
	}

	schemas := make(map[string]*ConfigSchema, len(records))
	for _, record := range records {
		schema := &ConfigSchema{}
		if err := json.Unmarshal([]byte(record.SchemaJSON), schema); err != nil {
			// 单条损坏的模式记录不阻断整体加载
			continue
		}
		schemas[schema.Key] = schema
	}
	return schemas, nil
}
