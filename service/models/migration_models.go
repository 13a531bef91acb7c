/*
 * @module service/models/migration_models
 * @description 数据库迁移追踪记录模型
 * @architecture 数据访问层 - 数据模型
 * @documentReference dev_docs/database_migrations.md
 * @stateFlow pending -> running -> completed/failed，回滚成功后置为 rolled_back
 * @rules version 全局唯一且全序；重试更新同一行而非追加
 * @dependencies gorm.io/gorm
 * @refs service/migration
 */

package models

import (
	"time"
)

// 迁移执行状态
const (
	MigrationStatusPending    = "pending"
	MigrationStatusRunning    = "running"
	MigrationStatusCompleted  = "completed"
	MigrationStatusFailed     = "failed"
	MigrationStatusRolledBack = "rolled_back"
)

// MigrationRecord 迁移追踪记录，每个迁移版本一行
type MigrationRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Version         int       `gorm:"uniqueIndex:idx_migrations_version;not null" json:"version"`
	Name            string    `gorm:"type:varchar(100);not null" json:"name"`
	Description     string    `gorm:"type:text" json:"description"`
	Checksum        string    `gorm:"type:varchar(64);not null" json:"checksum"`
	AppliedAt       time.Time `json:"applied_at"`
	AppliedBy       string    `gorm:"type:varchar(100)" json:"applied_by"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Status          string    `gorm:"type:varchar(20);default:pending" json:"status"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message"`
}

// TableName 指定表名
func (MigrationRecord) TableName() string {
	return "database_migrations"
}
