/*
 * @module service/migration/manager
 * @description 迁移管理器，执行带备份保护的批量迁移与回滚并维护迁移追踪记录
 * @architecture 分层架构 - 基础设施层
 * @documentReference dev_docs/database_migrations.md
 * @stateFlow 备份并校验 -> 单事务执行待应用迁移 -> 记录状态；失败时整体回滚并在事务外落盘失败记录
 * @rules 备份校验失败立即删除备份文件并中止；同一批次全部成功或全部不生效
 * @dependencies gorm.io/gorm, gorm.io/driver/sqlite
 * @refs service/migration/migration.go, service/models/migration_models.go
 */

package migration

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"zenith-service/service/models"
)

// Manager 迁移管理器
type Manager struct {
	db        *gorm.DB
	dbPath    string
	backupDir string
	registry  *Registry
}

// NewManager 创建迁移管理器并确保追踪表存在。
// dbPath 为空时跳过备份（内存数据库或非 sqlite 场景）。
func NewManager(db *gorm.DB, dbPath, backupDir string, registry *Registry) (*Manager, error) {
	if err := db.AutoMigrate(&models.MigrationRecord{}); err != nil {
		return nil, fmt.Errorf("初始化迁移追踪表失败: %w", err)
	}
	return &Manager{
		db:        db,
		dbPath:    dbPath,
		backupDir: backupDir,
		registry:  registry,
	}, nil
}

// GetCurrentVersion 当前已完成的最高迁移版本，无记录时为 0
func (m *Manager) GetCurrentVersion() int {
	if !m.db.Migrator().HasTable(&models.MigrationRecord{}) {
		return 0
	}

	var version *int
	err := m.db.Model(&models.MigrationRecord{}).
		Where("status = ?", models.MigrationStatusCompleted).
		Select("MAX(version)").
		Scan(&version).Error
	if err != nil || version == nil {
		return 0
	}
	return *version
}

// GetMigrationHistory 全部迁移追踪记录，按版本升序
func (m *Manager) GetMigrationHistory() ([]models.MigrationRecord, error) {
	var records []models.MigrationRecord
	if err := m.db.Order("version").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("读取迁移历史失败: %w", err)
	}
	return records, nil
}

// GetMigrationStatus 迁移子系统状态摘要
func (m *Manager) GetMigrationStatus() map[string]interface{} {
	current := m.GetCurrentVersion()
	all := m.registry.All()

	var pending []int
	for _, migration := range all {
		if migration.Version() > current {
			pending = append(pending, migration.Version())
		}
	}

	latest := 0
	if len(all) > 0 {
		latest = all[len(all)-1].Version()
	}

	return map[string]interface{}{
		"current_version":    current,
		"latest_version":     latest,
		"pending_migrations": pending,
		"up_to_date":         len(pending) == 0,
	}
}

// CreateBackup 通过 VACUUM INTO 创建数据库备份并校验完整性。
// 校验失败时删除备份文件并返回错误。
func (m *Manager) CreateBackup() (string, error) {
	if m.dbPath == "" {
		return "", nil
	}

	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("创建备份目录失败: %w", err)
	}

	backupPath := filepath.Join(m.backupDir,
		fmt.Sprintf("backup_%s.db", time.Now().Format("20060102_150405")))

	if err := m.db.Exec("VACUUM INTO ?", backupPath).Error; err != nil {
		return "", fmt.Errorf("创建备份失败: %w", err)
	}

	if err := verifyBackup(backupPath); err != nil {
		os.Remove(backupPath)
		return "", fmt.Errorf("备份校验失败: %w", err)
	}

	slog.Info("数据库备份完成", "path", backupPath)
	return backupPath, nil
}

// verifyBackup 打开备份文件并执行完整性检查
func verifyBackup(path string) error {
	backupDB, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("打开备份文件失败: %w", err)
	}
	defer func() {
		if sqlDB, err := backupDB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	var result string
	if err := backupDB.Raw("PRAGMA integrity_check").Scan(&result).Error; err != nil {
		return fmt.Errorf("完整性检查执行失败: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("完整性检查未通过: %s", result)
	}
	return nil
}

// MigrateUp 应用待执行迁移到目标版本，targetVersion <= 0 表示最新版本。
// 整个批次在单一事务内执行，任一迁移失败则批次整体回滚；
// dryRun 为 true 时仅报告将要应用的迁移。
func (m *Manager) MigrateUp(targetVersion int, dryRun bool) (bool, []string) {
	current := m.GetCurrentVersion()

	var pending []Migration
	for _, migration := range m.registry.All() {
		if migration.Version() <= current {
			continue
		}
		if targetVersion > 0 && migration.Version() > targetVersion {
			continue
		}
		pending = append(pending, migration)
	}

	if len(pending) == 0 {
		return true, []string{"No pending migrations to apply"}
	}

	if messages, ok := m.checkDependencies(pending, current); !ok {
		return false, messages
	}

	if dryRun {
		messages := []string{fmt.Sprintf("Would apply %d migrations:", len(pending))}
		for _, migration := range pending {
			messages = append(messages, fmt.Sprintf("  - v%d %s", migration.Version(), migration.Name()))
		}
		return true, messages
	}

	if _, err := m.CreateBackup(); err != nil {
		return false, []string{fmt.Sprintf("Backup failed: %v", err)}
	}

	// 批次成员先在事务外落盘 running 状态，执行结果再覆盖为终态
	if messages, ok := m.markRunning(pending); !ok {
		return false, messages
	}

	var messages []string
	var failed Migration
	var failedErr error

	err := m.db.Transaction(func(tx *gorm.DB) error {
		for _, migration := range pending {
			start := time.Now()

			if err := migration.ValidatePreconditions(tx); err != nil {
				failed, failedErr = migration, err
				return fmt.Errorf("前置条件检查失败: %w", err)
			}
			if err := migration.Up(tx); err != nil {
				failed, failedErr = migration, err
				return fmt.Errorf("迁移执行失败: %w", err)
			}
			if err := migration.ValidatePostconditions(tx); err != nil {
				failed, failedErr = migration, err
				return fmt.Errorf("后置条件检查失败: %w", err)
			}

			record := models.MigrationRecord{
				Version:         migration.Version(),
				Name:            migration.Name(),
				Description:     migration.Description(),
				Checksum:        Checksum(migration),
				AppliedAt:       time.Now(),
				AppliedBy:       "system",
				ExecutionTimeMs: time.Since(start).Milliseconds(),
				Status:          models.MigrationStatusCompleted,
			}
			if err := upsertRecord(tx, &record); err != nil {
				failed, failedErr = migration, err
				return err
			}

			messages = append(messages, fmt.Sprintf("Applied migration v%d: %s", migration.Version(), migration.Name()))
			slog.Info("迁移已应用", "version", migration.Version(), "name", migration.Name())
		}
		return nil
	})

	if err != nil {
		// 事务已回滚，失败记录在事务外落盘，未执行到的成员复位为 pending
		if failed != nil {
			m.recordFailure(failed, failedErr)
		}
		m.resetRunning(pending)
		if failed != nil {
			return false, []string{fmt.Sprintf("Migration v%d failed: %v", failed.Version(), failedErr)}
		}
		return false, []string{fmt.Sprintf("Migration failed: %v", err)}
	}

	messages = append(messages, fmt.Sprintf("Successfully applied %d migrations", len(pending)))
	return true, messages
}

// markRunning 在事务外将批次成员记录写为 running 状态，
// 让迁移执行期间的追踪记录对外可见
func (m *Manager) markRunning(batch []Migration) ([]string, bool) {
	for _, migration := range batch {
		record := models.MigrationRecord{
			Version:     migration.Version(),
			Name:        migration.Name(),
			Description: migration.Description(),
			Checksum:    Checksum(migration),
			AppliedAt:   time.Now(),
			AppliedBy:   "system",
			Status:      models.MigrationStatusRunning,
		}
		if err := upsertRecord(m.db, &record); err != nil {
			return []string{fmt.Sprintf("Failed to track migration v%d: %v", migration.Version(), err)}, false
		}
	}
	return nil, true
}

// resetRunning 将批次中仍处于 running 的记录复位为 pending
func (m *Manager) resetRunning(batch []Migration) {
	versions := make([]int, 0, len(batch))
	for _, migration := range batch {
		versions = append(versions, migration.Version())
	}
	err := m.db.Model(&models.MigrationRecord{}).
		Where("version IN ? AND status = ?", versions, models.MigrationStatusRunning).
		Update("status", models.MigrationStatusPending).Error
	if err != nil {
		slog.Error("复位迁移记录状态失败", "error", err)
	}
}

// checkDependencies 校验待应用迁移的依赖在批次内或已完成
func (m *Manager) checkDependencies(pending []Migration, current int) ([]string, bool) {
	inBatch := make(map[int]bool, len(pending))
	for _, migration := range pending {
		inBatch[migration.Version()] = true
	}

	for _, migration := range pending {
		for _, dep := range migration.Dependencies() {
			if dep <= current || inBatch[dep] {
				continue
			}
			return []string{fmt.Sprintf("Migration v%d depends on unapplied migration v%d",
				migration.Version(), dep)}, false
		}
	}
	return nil, true
}

// recordFailure 在事务外写入失败记录，保证失败信息在回滚后仍可见
func (m *Manager) recordFailure(migration Migration, cause error) {
	record := models.MigrationRecord{
		Version:      migration.Version(),
		Name:         migration.Name(),
		Description:  migration.Description(),
		Checksum:     Checksum(migration),
		AppliedAt:    time.Now(),
		AppliedBy:    "system",
		Status:       models.MigrationStatusFailed,
		ErrorMessage: cause.Error(),
	}
	if err := upsertRecord(m.db, &record); err != nil {
		slog.Error("写入迁移失败记录失败", "version", migration.Version(), "error", err)
	}
}

// upsertRecord 按版本号更新或插入迁移记录
func upsertRecord(db *gorm.DB, record *models.MigrationRecord) error {
	var existing models.MigrationRecord
	err := db.Where("version = ?", record.Version).First(&existing).Error
	if err == nil {
		record.ID = existing.ID
		return db.Save(record).Error
	}
	if err == gorm.ErrRecordNotFound {
		return db.Create(record).Error
	}
	return err
}

// RollbackMigration 回滚到目标版本，高于目标版本的已完成迁移按版本降序回滚。
// 整个回滚批次在单一事务内执行，任一迁移回滚失败则批次整体放弃，
// 失败记录在事务外落盘。
func (m *Manager) RollbackMigration(targetVersion int) (bool, []string) {
	current := m.GetCurrentVersion()
	if targetVersion >= current {
		return true, []string{"Nothing to roll back"}
	}

	all := m.registry.All()
	var toRollback []Migration
	for i := len(all) - 1; i >= 0; i-- {
		migration := all[i]
		if migration.Version() > targetVersion && migration.Version() <= current {
			toRollback = append(toRollback, migration)
		}
	}
	if len(toRollback) == 0 {
		return true, []string{"Nothing to roll back"}
	}

	if _, err := m.CreateBackup(); err != nil {
		return false, []string{fmt.Sprintf("Backup failed: %v", err)}
	}

	var messages []string
	var failed Migration
	var failedErr error

	err := m.db.Transaction(func(tx *gorm.DB) error {
		for _, migration := range toRollback {
			if err := migration.Down(tx); err != nil {
				failed, failedErr = migration, err
				return fmt.Errorf("回滚执行失败: %w", err)
			}
			if err := tx.Model(&models.MigrationRecord{}).
				Where("version = ?", migration.Version()).
				Update("status", models.MigrationStatusRolledBack).Error; err != nil {
				failed, failedErr = migration, err
				return err
			}

			messages = append(messages, fmt.Sprintf("Rolled back migration v%d: %s", migration.Version(), migration.Name()))
			slog.Info("迁移已回滚", "version", migration.Version(), "name", migration.Name())
		}
		return nil
	})

	if err != nil {
		// 事务已回滚，全部迁移保持已应用状态
		if failed != nil {
			m.recordFailure(failed, failedErr)
			return false, []string{fmt.Sprintf("Rollback of v%d failed: %v", failed.Version(), failedErr)}
		}
		return false, []string{fmt.Sprintf("Rollback failed: %v", err)}
	}

	messages = append(messages, fmt.Sprintf("Successfully rolled back to version %d", targetVersion))
	return true, messages
}
