package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zenith_config_cache_hits_total",
		Help: "配置缓存命中次数",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zenith_config_cache_misses_total",
		Help: "配置缓存未命中次数",
	})
	configWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zenith_config_writes_total",
		Help: "配置写入次数",
	})
)
