/*
 * @module api/controllers/migration_controller
 * @description 数据库迁移控制器，提供迁移状态查询、执行与回滚的HTTP接口
 * @architecture RESTful API架构
 * @documentReference dev_docs/database_migrations.md
 * @stateFlow HTTP请求 -> 控制器 -> 迁移管理器 -> 目标数据库
 * @rules 迁移执行前自动创建并校验备份
 * @dependencies github.com/go-chi/render
 * @refs service/migration
 */

package controllers

import (
	"net/http"

	"github.com/go-chi/render"

	"zenith-service/service/migration"
)

// MigrationController 迁移控制器
type MigrationController struct {
	migrationManager *migration.Manager
}

// NewMigrationController 创建迁移控制器实例
func NewMigrationController(migrationManager *migration.Manager) *MigrationController {
	return &MigrationController{migrationManager: migrationManager}
}

// GetMigrationStatus 获取迁移状态
// @Summary 获取迁移状态
// @Description 当前版本、最新版本与待应用迁移
// @Tags 数据库迁移
// @Produce json
// @Success 200 {object} APIResponse
// @Router /migrations/status [get]
func (c *MigrationController) GetMigrationStatus(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, "获取迁移状态成功", c.migrationManager.GetMigrationStatus())
}

// GetMigrationHistory 获取迁移历史
// @Summary 获取迁移历史
// @Description 全部迁移追踪记录，按版本升序
// @Tags 数据库迁移
// @Produce json
// @Success 200 {object} APIResponse
// @Router /migrations/history [get]
func (c *MigrationController) GetMigrationHistory(w http.ResponseWriter, r *http.Request) {
	history, err := c.migrationManager.GetMigrationHistory()
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "获取迁移历史失败: "+err.Error())
		return
	}
	respondOK(w, r, "获取迁移历史成功", history)
}

// MigrateUpRequest 执行迁移请求
type MigrateUpRequest struct {
	TargetVersion int  `json:"target_version"`
	DryRun        bool `json:"dry_run"`
}

// MigrateUp 执行迁移
// @Summary 执行迁移
// @Description 应用待执行迁移到目标版本，target_version <= 0 表示最新
// @Tags 数据库迁移
// @Accept json
// @Produce json
// @Param request body MigrateUpRequest false "迁移选项"
// @Success 200 {object} APIResponse
// @Router /migrations/up [post]
func (c *MigrationController) MigrateUp(w http.ResponseWriter, r *http.Request) {
	var req MigrateUpRequest
	render.DecodeJSON(r.Body, &req)

	ok, messages := c.migrationManager.MigrateUp(req.TargetVersion, req.DryRun)
	if !ok {
		render.JSON(w, r, map[string]interface{}{
			"status": http.StatusInternalServerError,
			"msg":    "迁移执行失败",
			"data":   map[string]interface{}{"messages": messages},
		})
		return
	}
	respondOK(w, r, "迁移执行成功", map[string]interface{}{"messages": messages, "dry_run": req.DryRun})
}

// RollbackMigrationRequest 回滚迁移请求
type RollbackMigrationRequest struct {
	TargetVersion int `json:"target_version"`
}

// RollbackMigration 回滚迁移
// @Summary 回滚迁移
// @Description 回滚到目标版本，高于目标版本的迁移按降序回滚
// @Tags 数据库迁移
// @Accept json
// @Produce json
// @Param request body RollbackMigrationRequest true "回滚目标"
// @Success 200 {object} APIResponse
// @Router /migrations/rollback [post]
func (c *MigrationController) RollbackMigration(w http.ResponseWriter, r *http.Request) {
	var req RollbackMigrationRequest
	render.DecodeJSON(r.Body, &req)

	ok, messages := c.migrationManager.RollbackMigration(req.TargetVersion)
	if !ok {
		render.JSON(w, r, map[string]interface{}{
			"status": http.StatusInternalServerError,
			"msg":    "迁移回滚失败",
			"data":   map[string]interface{}{"messages": messages},
		})
		return
	}
	respondOK(w, r, "迁移回滚成功", map[string]interface{}{"messages": messages})
}
