/*
 * @module service/init
 * @description 服务容器装配，集中构造数据库连接与各业务管理器并完成相互注册
 * @architecture 分层架构 - 服务装配层
 * @documentReference dev_docs/architecture.md
 * @stateFlow 读取环境变量 -> 建立连接 -> 构造管理器 -> 注册事件接收方 -> 启动后台任务
 * @rules 管理器之间只通过容器注入依赖，不使用包级单例
 * @dependencies gorm.io/gorm
 * @refs main.go, service/config, service/settings, service/provider, service/migration
 */

package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gorm.io/gorm"

	"zenith-service/service/config"
	"zenith-service/service/database"
	"zenith-service/service/migration"
	"zenith-service/service/provider"
	"zenith-service/service/settings"
	"zenith-service/service/vectorstore"
)

// EnvSecretResolver 基于环境变量的密钥提供方，
// ${secret:name} 解析为环境变量 ZENITH_SECRET_<NAME>
type EnvSecretResolver struct{}

// ResolveSecret 解析密钥名称
func (EnvSecretResolver) ResolveSecret(name string) (string, error) {
	envKey := "ZENITH_SECRET_" + sanitizeSecretName(name)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("secret %s not found in environment", name)
	}
	return value, nil
}

func sanitizeSecretName(name string) string {
	result := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			result = append(result, c-'a'+'A')
		case c >= 'A' && c <= 'Z' || c >= '0' && c <= '9':
			result = append(result, c)
		default:
			result = append(result, '_')
		}
	}
	return string(result)
}

// App 服务容器，持有全部管理器实例
type App struct {
	DB          *gorm.DB
	MigrationDB *gorm.DB

	ConfigService    *config.ConfigService
	SettingsManager  *settings.Manager
	ProviderManager  *provider.Manager
	MigrationManager *migration.Manager
	Qdrant           *vectorstore.QdrantClient

	Environment string
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// NewApp 装配服务容器
func NewApp(ctx context.Context) (*App, error) {
	environment := getEnv("ZENITH_ENV", "development")

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "postgres"),
		getEnv("DB_NAME", "zenith"),
	)
	db, err := database.OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}

	dbPath := getEnv("ZENITH_DB_PATH", "data/zenith.db")
	migrationDB, err := database.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	configService := config.NewConfigService(db, environment, EnvSecretResolver{})

	qdrant := vectorstore.NewQdrantClient(
		getEnv("QDRANT_URL", "http://localhost:6333"),
		os.Getenv("QDRANT_API_KEY"),
	)

	settingsManager := settings.NewManager(settings.NewStore(qdrant))
	if err := settingsManager.Init(ctx); err != nil {
		return nil, fmt.Errorf("初始化设置管理器失败: %w", err)
	}

	providerManager := provider.NewManager(settingsManager)
	settingsManager.SetEventSink(providerManager)
	settingsManager.SetConfigMirror(configService.Manager())

	migrationManager, err := migration.NewManager(
		migrationDB,
		dbPath,
		getEnv("ZENITH_BACKUP_DIR", "data/backups"),
		migration.DefaultRegistry(),
	)
	if err != nil {
		return nil, err
	}

	app := &App{
		DB:               db,
		MigrationDB:      migrationDB,
		ConfigService:    configService,
		SettingsManager:  settingsManager,
		ProviderManager:  providerManager,
		MigrationManager: migrationManager,
		Qdrant:           qdrant,
		Environment:      environment,
	}

	slog.Info("服务容器装配完成", "environment", environment)
	return app, nil
}

// Start 启动后台任务
func (a *App) Start() {
	a.ConfigService.Start()
}

// Shutdown 停止后台任务并关闭连接
func (a *App) Shutdown() {
	a.ConfigService.Stop()

	for _, db := range []*gorm.DB{a.DB, a.MigrationDB} {
		if db == nil {
			continue
		}
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
