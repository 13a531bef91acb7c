/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference dev_docs/architecture.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/controllers
 */

package api

import (
	"zenith-service/api/controllers"
	"zenith-service/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux, app *service.App) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController(app)
	r.Get("/health", healthController.HealthCheck)

	// 配置管理
	r.Route("/config", func(r chi.Router) {
		configController := controllers.NewConfigController(app.ConfigService)
		r.Get("/", configController.ListConfigs)
		r.Get("/export", configController.ExportConfig)
		r.Post("/import", configController.ImportConfig)
		r.Get("/{key}", configController.GetConfig)
		r.Put("/{key}", configController.SetConfig)
		r.Delete("/{key}", configController.DeleteConfig)
		r.Get("/{key}/history", configController.GetHistory)
		r.Post("/{key}/rollback", configController.RollbackConfig)
	})

	// 系统设置
	r.Route("/settings", func(r chi.Router) {
		settingsController := controllers.NewSettingsController(app.SettingsManager)
		r.Get("/", settingsController.GetSettings)
		r.Put("/", settingsController.UpdateSettings)
		r.Post("/force-reinitialize", settingsController.ForceReinitialize)
		r.Post("/test-ollama", settingsController.TestOllamaConnection)
		r.Post("/test-openai", settingsController.TestOpenAIConnection)
	})

	// 提供方状态
	r.Route("/providers", func(r chi.Router) {
		providerController := controllers.NewProviderController(app.ProviderManager)
		r.Get("/status", providerController.GetProviderStatus)
		r.Post("/test", providerController.TestProvider)
		r.Get("/ollama/models", providerController.CheckOllamaModels)
	})

	// 数据库迁移
	r.Route("/migrations", func(r chi.Router) {
		migrationController := controllers.NewMigrationController(app.MigrationManager)
		r.Get("/status", migrationController.GetMigrationStatus)
		r.Get("/history", migrationController.GetMigrationHistory)
		r.Post("/up", migrationController.MigrateUp)
		r.Post("/rollback", migrationController.RollbackMigration)
	})
}
