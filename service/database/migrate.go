/*
 * @module service/database/migrate
 * @description 数据库连接初始化与基础表结构迁移
 * @architecture 数据访问层
 * @documentReference dev_docs/configuration_management.md
 * @stateFlow 建立连接 -> AutoMigrate 基础表 -> 返回连接
 * @rules 基础表缺失视为启动失败
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres, gorm.io/driver/sqlite
 * @refs service/init.go, service/models
 */

package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"zenith-service/service/models"
)

// OpenPostgres 建立 PostgreSQL 连接
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("连接PostgreSQL失败: %w", err)
	}
	return db, nil
}

// OpenSQLite 建立 sqlite 连接，path 为 :memory: 时使用内存数据库
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("连接sqlite失败: %w", err)
	}
	return db, nil
}

// AutoMigrate 迁移配置与迁移追踪相关的基础表
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.ConfigValue{},
		&models.ConfigHistory{},
		&models.ConfigSchemaRecord{},
		&models.MigrationRecord{},
	)
	if err != nil {
		return fmt.Errorf("基础表迁移失败: %w", err)
	}
	return nil
}
