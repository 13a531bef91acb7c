/*
 * @module service/migration/migrations
 * @description 内置迁移定义，v1 创建企业功能所需的全部基础表
 * @architecture 分层架构 - 基础设施层
 * @documentReference dev_docs/database_migrations.md
 * @stateFlow 注册表构造时注册全部内置迁移
 * @rules DDL 面向 sqlite 编写，后置条件逐表验证存在性
 * @dependencies gorm.io/gorm
 * @refs service/migration/manager.go
 */

package migration

import (
	"fmt"

	"gorm.io/gorm"
)

// enterpriseTables v1 创建的全部表名，回滚时逆序删除
var enterpriseTables = []string{
	"users",
	"roles",
	"permissions",
	"role_permissions",
	"chat_sessions",
	"chat_history",
	"documents",
	"document_chunks",
	"audit_log",
	"security_events",
	"system_settings",
}

// InitialSchemaMigration v1: 创建企业功能基础表
type InitialSchemaMigration struct {
	BaseMigration
}

// NewInitialSchemaMigration 创建 v1 迁移
func NewInitialSchemaMigration() *InitialSchemaMigration {
	return &InitialSchemaMigration{
		BaseMigration: NewBaseMigration(1, "initial_enterprise_schema",
			"Create enterprise tables for users, roles, chat, documents and auditing"),
	}
}

// Up 创建全部企业表
func (m *InitialSchemaMigration) Up(tx *gorm.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username VARCHAR(50) UNIQUE NOT NULL,
			email VARCHAR(100) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			full_name VARCHAR(100),
			is_active BOOLEAN DEFAULT 1,
			is_admin BOOLEAN DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_login TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name VARCHAR(50) UNIQUE NOT NULL,
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS permissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name VARCHAR(100) UNIQUE NOT NULL,
			resource VARCHAR(50) NOT NULL,
			action VARCHAR(50) NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS role_permissions (
			role_id INTEGER NOT NULL REFERENCES roles(id),
			permission_id INTEGER NOT NULL REFERENCES permissions(id),
			PRIMARY KEY (role_id, permission_id)
		)`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			title VARCHAR(200),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS chat_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL REFERENCES chat_sessions(id),
			role VARCHAR(20) NOT NULL,
			content TEXT NOT NULL,
			sources TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename VARCHAR(255) NOT NULL,
			file_hash VARCHAR(64) NOT NULL,
			file_size INTEGER,
			uploaded_by INTEGER REFERENCES users(id),
			uploaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			status VARCHAR(20) DEFAULT 'pending'
		)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document_id INTEGER NOT NULL REFERENCES documents(id),
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			vector_id VARCHAR(64)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER REFERENCES users(id),
			action VARCHAR(100) NOT NULL,
			resource VARCHAR(100),
			details TEXT,
			ip_address VARCHAR(45),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS security_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type VARCHAR(50) NOT NULL,
			severity VARCHAR(20) NOT NULL,
			user_id INTEGER REFERENCES users(id),
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS system_settings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key VARCHAR(100) UNIQUE NOT NULL,
			value TEXT,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_user ON audit_log(user_id)`,
	}

	for _, stmt := range statements {
		if err := tx.Exec(stmt).Error; err != nil {
			return fmt.Errorf("执行DDL失败: %w", err)
		}
	}
	return nil
}

// Down 逆序删除全部企业表
func (m *InitialSchemaMigration) Down(tx *gorm.DB) error {
	for i := len(enterpriseTables) - 1; i >= 0; i-- {
		if err := tx.Exec("DROP TABLE IF EXISTS " + enterpriseTables[i]).Error; err != nil {
			return fmt.Errorf("删除表 %s 失败: %w", enterpriseTables[i], err)
		}
	}
	return nil
}

// ValidatePostconditions 逐表验证存在性
func (m *InitialSchemaMigration) ValidatePostconditions(db *gorm.DB) error {
	for _, table := range enterpriseTables {
		if !db.Migrator().HasTable(table) {
			return fmt.Errorf("表 %s 不存在", table)
		}
	}
	return nil
}

// DefaultRegistry 返回包含全部内置迁移的注册表。
// 内置迁移版本冲突属于编码错误，直接 panic。
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	if err := registry.Register(NewInitialSchemaMigration()); err != nil {
		panic(err)
	}
	return registry
}
