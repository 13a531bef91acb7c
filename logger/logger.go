/*
 * @module logger
 * @description 全局结构化日志初始化，JSON 格式输出到标准输出
 * @architecture 基础设施层
 * @documentReference dev_docs/architecture.md
 * @stateFlow 进程启动时初始化一次，业务代码统一使用 slog 默认记录器
 * @rules 日志级别通过 ZENITH_LOG_LEVEL 控制，不在业务代码中各自创建记录器
 * @dependencies log/slog
 * @refs main.go
 */

package logger

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger 初始化全局日志记录器。
// 级别由 ZENITH_LOG_LEVEL 控制（debug/info/warn/error），默认 debug
func InitLogger() {
	level := slog.LevelDebug
	switch strings.ToLower(os.Getenv("ZENITH_LOG_LEVEL")) {
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
