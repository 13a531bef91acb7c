package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"

	"zenith-service/api"
	"zenith-service/logger"
	"zenith-service/service"

	daprd "github.com/dapr/go-sdk/service/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PORT         = 80
	BASE_CONTEXT = ""
)

func init() {
	if val := os.Getenv("LISTEN_PORT"); val != "" {
		PORT, _ = strconv.Atoi(val)
	}

	if val := os.Getenv("BASE_CONTEXT"); val != "" {
		BASE_CONTEXT = val
	}
}

// @title Zenith 配置与提供方服务 API
// @version 1.0
// @description PDF知识库应用的动态配置、系统设置与AI提供方切换后台服务
// @BasePath /
func main() {
	logger.InitLogger()

	app, err := service.NewApp(context.Background())
	if err != nil {
		log.Fatalf("服务初始化失败: %v", err)
	}
	app.Start()
	defer app.Shutdown()

	mux := chi.NewRouter()

	// 如果有BASE_CONTEXT，则在该路径下挂载所有路由
	if BASE_CONTEXT != "" {
		mux.Route(BASE_CONTEXT, func(r chi.Router) {
			subMux := r.(*chi.Mux)
			api.InitRoute(subMux, app)
			r.Handle("/metrics", promhttp.Handler())
		})
	} else {
		api.InitRoute(mux, app)
		mux.Handle("/metrics", promhttp.Handler())
	}

	s := daprd.NewServiceWithMux(":"+strconv.Itoa(PORT), mux)
	if err := s.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("error: %v", err)
	}
}
