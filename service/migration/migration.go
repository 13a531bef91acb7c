/*
 * @module service/migration/migration
 * @description 数据库迁移定义与注册表，迁移按版本号全序排列并声明依赖
 * @architecture 分层架构 - 基础设施层
 * @documentReference dev_docs/database_migrations.md
 * @stateFlow 注册迁移 -> 按版本排序 -> 管理器按序执行
 * @rules 版本号全局唯一，重复注册视为编程错误
 * @dependencies gorm.io/gorm
 * @refs service/migration/manager.go
 */

package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"gorm.io/gorm"
)

// Migration 单个数据库迁移
type Migration interface {
	// Version 全局唯一的迁移版本号
	Version() int
	// Name 迁移名称
	Name() string
	// Description 迁移说明
	Description() string
	// Dependencies 依赖的前置迁移版本号
	Dependencies() []int
	// Up 在事务内执行迁移
	Up(tx *gorm.DB) error
	// Down 在事务内回滚迁移
	Down(tx *gorm.DB) error
	// ValidatePreconditions 执行前置条件检查
	ValidatePreconditions(db *gorm.DB) error
	// ValidatePostconditions 执行后置条件检查
	ValidatePostconditions(db *gorm.DB) error
}

// BaseMigration 迁移公共字段，具体迁移内嵌该结构
type BaseMigration struct {
	version      int
	name         string
	description  string
	dependencies []int
}

// NewBaseMigration 创建迁移公共字段
func NewBaseMigration(version int, name, description string, dependencies ...int) BaseMigration {
	return BaseMigration{
		version:      version,
		name:         name,
		description:  description,
		dependencies: dependencies,
	}
}

func (m BaseMigration) Version() int        { return m.version }
func (m BaseMigration) Name() string        { return m.name }
func (m BaseMigration) Description() string { return m.description }
func (m BaseMigration) Dependencies() []int { return m.dependencies }

// ValidatePreconditions 默认无前置条件
func (m BaseMigration) ValidatePreconditions(db *gorm.DB) error { return nil }

// ValidatePostconditions 默认无后置条件
func (m BaseMigration) ValidatePostconditions(db *gorm.DB) error { return nil }

// Checksum 迁移内容指纹，用于检测已应用迁移被篡改
func Checksum(m Migration) string {
	digest := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%s", m.Version(), m.Name(), m.Description())))
	return hex.EncodeToString(digest[:])
}

// Registry 迁移注册表
type Registry struct {
	migrations map[int]Migration
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{migrations: make(map[int]Migration)}
}

// Register 注册迁移，版本号冲突时返回错误
func (r *Registry) Register(m Migration) error {
	if _, exists := r.migrations[m.Version()]; exists {
		return fmt.Errorf("迁移版本 %d 已注册", m.Version())
	}
	r.migrations[m.Version()] = m
	return nil
}

// Get 按版本号获取迁移
func (r *Registry) Get(version int) (Migration, bool) {
	m, ok := r.migrations[version]
	return m, ok
}

// All 按版本升序返回全部迁移
func (r *Registry) All() []Migration {
	result := make([]Migration, 0, len(r.migrations))
	for _, m := range r.migrations {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version() < result[j].Version()
	})
	return result
}
