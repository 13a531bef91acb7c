/*
 * @module api/controllers/health_controller
 * @description 健康检查控制器，汇总各子系统健康状态
 * @architecture RESTful API架构
 * @documentReference dev_docs/architecture.md
 * @stateFlow HTTP请求 -> 控制器 -> 各管理器健康检查
 * @rules 任一子系统不可用时整体状态为 degraded
 * @dependencies github.com/go-chi/render
 * @refs service/init.go
 */

package controllers

import (
	"net/http"

	"zenith-service/service"
)

// HealthController 健康检查控制器
type HealthController struct {
	app *service.App
}

// NewHealthController 创建健康检查控制器实例
func NewHealthController(app *service.App) *HealthController {
	return &HealthController{app: app}
}

// HealthCheck 健康检查
// @Summary 健康检查
// @Description 汇总配置、设置与迁移子系统健康状态
// @Tags 健康检查
// @Produce json
// @Success 200 {object} APIResponse
// @Router /health [get]
func (c *HealthController) HealthCheck(w http.ResponseWriter, r *http.Request) {
	configHealth := c.app.ConfigService.HealthCheck()
	settingsHealth := c.app.SettingsManager.HealthCheck(r.Context())
	migrationStatus := c.app.MigrationManager.GetMigrationStatus()

	overall := "healthy"
	if accessible, ok := configHealth["database_accessible"].(bool); !ok || !accessible {
		overall = "degraded"
	}
	if accessible, ok := settingsHealth["store_accessible"].(bool); !ok || !accessible {
		overall = "degraded"
	}

	respondOK(w, r, "健康检查完成", map[string]interface{}{
		"status":      overall,
		"environment": c.app.Environment,
		"config":      configHealth,
		"settings":    settingsHealth,
		"migrations":  migrationStatus,
	})
}
