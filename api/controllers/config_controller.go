/*
 * @module api/controllers/config_controller
 * @description 配置管理控制器，提供配置读写、历史、回滚与导入导出的HTTP接口
 * @architecture RESTful API架构
 * @documentReference dev_docs/configuration_management.md
 * @stateFlow HTTP请求 -> 控制器 -> 配置服务 -> 存储层
 * @rules 遵循RESTful API设计规范，响应统一为 {status, msg, data}
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/config
 */

package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"zenith-service/service/config"
)

// ConfigController 配置控制器
type ConfigController struct {
	configService *config.ConfigService
}

// NewConfigController 创建配置控制器实例
func NewConfigController(configService *config.ConfigService) *ConfigController {
	return &ConfigController{configService: configService}
}

// ListConfigs 列出配置键
// @Summary 列出配置键
// @Description 列出指定环境的全部配置键，可按分类过滤
// @Tags 系统配置
// @Produce json
// @Param environment query string false "环境名"
// @Param category query string false "配置分类"
// @Success 200 {object} APIResponse
// @Router /config [get]
func (c *ConfigController) ListConfigs(w http.ResponseWriter, r *http.Request) {
	keys := c.configService.ListConfigs(
		r.URL.Query().Get("environment"),
		r.URL.Query().Get("category"),
	)
	respondOK(w, r, "获取配置列表成功", keys)
}

// GetConfig 获取单个配置
// @Summary 获取单个配置
// @Description 根据键名获取配置值与模式信息，密钥类配置脱敏
// @Tags 系统配置
// @Produce json
// @Param key path string true "配置键"
// @Success 200 {object} APIResponse
// @Router /config/{key} [get]
func (c *ConfigController) GetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		respondError(w, r, http.StatusBadRequest, "配置键不能为空")
		return
	}

	result, err := c.configService.GetConfig(key, r.URL.Query().Get("environment"))
	if err != nil {
		respondError(w, r, http.StatusNotFound, "配置项不存在: "+err.Error())
		return
	}
	respondOK(w, r, "获取配置成功", result)
}

// SetConfigRequest 写入配置请求
type SetConfigRequest struct {
	Value       interface{} `json:"value"`
	Environment string      `json:"environment"`
	ChangedBy   string      `json:"changed_by"`
	Reason      string      `json:"reason"`
}

// SetConfig 写入配置
// @Summary 写入配置
// @Description 写入指定键的配置值，经过模式校验
// @Tags 系统配置
// @Accept json
// @Produce json
// @Param key path string true "配置键"
// @Param request body SetConfigRequest true "写入配置请求"
// @Success 200 {object} APIResponse
// @Router /config/{key} [put]
func (c *ConfigController) SetConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		respondError(w, r, http.StatusBadRequest, "配置键不能为空")
		return
	}

	var req SetConfigRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}

	changedBy := req.ChangedBy
	if changedBy == "" {
		changedBy = "api"
	}

	if err := c.configService.SetConfig(key, req.Value, req.Environment, changedBy, req.Reason); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, r, "配置更新成功", map[string]interface{}{"key": key})
}

// DeleteConfig 删除配置
// @Summary 删除配置
// @Description 删除指定键的配置值，历史保留
// @Tags 系统配置
// @Produce json
// @Param key path string true "配置键"
// @Success 200 {object} APIResponse
// @Router /config/{key} [delete]
func (c *ConfigController) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		respondError(w, r, http.StatusBadRequest, "配置键不能为空")
		return
	}

	err := c.configService.DeleteConfig(key, r.URL.Query().Get("environment"), "api", r.URL.Query().Get("reason"))
	if err != nil {
		respondError(w, r, http.StatusNotFound, err.Error())
		return
	}
	respondOK(w, r, "配置删除成功", map[string]interface{}{"key": key})
}

// GetHistory 获取配置历史
// @Summary 获取配置变更历史
// @Description 获取指定键的变更历史，按时间倒序
// @Tags 系统配置
// @Produce json
// @Param key path string true "配置键"
// @Param limit query int false "返回条数"
// @Success 200 {object} APIResponse
// @Router /config/{key}/history [get]
func (c *ConfigController) GetHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history := c.configService.GetHistory(key, r.URL.Query().Get("environment"), limit)
	respondOK(w, r, "获取配置历史成功", history)
}

// RollbackRequest 回滚请求
type RollbackRequest struct {
	Steps       int    `json:"steps"`
	Environment string `json:"environment"`
}

// RollbackConfig 回滚配置
// @Summary 回滚配置
// @Description 将配置回滚到指定步数之前的状态
// @Tags 系统配置
// @Accept json
// @Produce json
// @Param key path string true "配置键"
// @Param request body RollbackRequest true "回滚请求"
// @Success 200 {object} APIResponse
// @Router /config/{key}/rollback [post]
func (c *ConfigController) RollbackConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req RollbackRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}
	if req.Steps <= 0 {
		req.Steps = 1
	}

	if err := c.configService.RollbackConfig(key, req.Steps, req.Environment); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, r, "配置回滚成功", map[string]interface{}{"key": key, "steps": req.Steps})
}

// ExportConfig 导出配置
// @Summary 导出配置
// @Description 导出指定环境的全部配置，支持 json/yaml 格式
// @Tags 系统配置
// @Produce json
// @Param format query string false "导出格式 json|yaml"
// @Success 200 {object} APIResponse
// @Router /config/export [get]
func (c *ConfigController) ExportConfig(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	data, err := c.configService.ExportConfig(r.URL.Query().Get("environment"), format)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "导出配置失败: "+err.Error())
		return
	}
	respondOK(w, r, "导出配置成功", map[string]interface{}{"format": format, "content": data})
}

// ImportConfigRequest 导入配置请求
type ImportConfigRequest struct {
	Content     string `json:"content"`
	Format      string `json:"format"`
	Environment string `json:"environment"`
	DryRun      bool   `json:"dry_run"`
}

// ImportConfig 导入配置
// @Summary 导入配置
// @Description 批量导入配置，预校验失败时整体拒绝
// @Tags 系统配置
// @Accept json
// @Produce json
// @Param request body ImportConfigRequest true "导入配置请求"
// @Success 200 {object} APIResponse
// @Router /config/import [post]
func (c *ConfigController) ImportConfig(w http.ResponseWriter, r *http.Request) {
	var req ImportConfigRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}
	if req.Format == "" {
		req.Format = "json"
	}

	ok, messages := c.configService.ImportConfig(req.Content, req.Format, req.Environment, "api", req.DryRun)
	if !ok {
		render.JSON(w, r, map[string]interface{}{
			"status": http.StatusBadRequest,
			"msg":    "导入配置失败",
			"data":   map[string]interface{}{"messages": messages},
		})
		return
	}
	respondOK(w, r, "导入配置成功", map[string]interface{}{"messages": messages, "dry_run": req.DryRun})
}
