/*
 * @module api/controllers/provider_controller
 * @description 提供方控制器，提供当前提供方状态与模型可用性检查的HTTP接口
 * @architecture RESTful API架构
 * @documentReference dev_docs/provider_management.md
 * @stateFlow HTTP请求 -> 控制器 -> 提供方管理器
 * @rules 状态查询为只读操作，不触发提供方构造
 * @dependencies github.com/go-chi/render
 * @refs service/provider
 */

package controllers

import (
	"net/http"

	"github.com/go-chi/render"

	"zenith-service/service/provider"
)

// ProviderController 提供方控制器
type ProviderController struct {
	providerManager *provider.Manager
}

// NewProviderController 创建提供方控制器实例
func NewProviderController(providerManager *provider.Manager) *ProviderController {
	return &ProviderController{providerManager: providerManager}
}

// GetProviderStatus 获取提供方状态
// @Summary 获取提供方状态
// @Description 汇总当前生效的对话与向量化提供方及其健康状态
// @Tags 提供方
// @Produce json
// @Success 200 {object} APIResponse
// @Router /providers/status [get]
func (c *ProviderController) GetProviderStatus(w http.ResponseWriter, r *http.Request) {
	status := c.providerManager.GetProviderStatus(r.Context())
	respondOK(w, r, "获取提供方状态成功", status)
}

// TestProviderRequest 提供方实测请求
type TestProviderRequest struct {
	Kind string `json:"kind"`
}

// TestProvider 实测当前生效提供方
// @Summary 实测当前生效提供方
// @Description 对指定类型（chat 或 embedding）的当前生效提供方执行连通性实测
// @Tags 提供方
// @Accept json
// @Produce json
// @Param request body TestProviderRequest true "实测请求"
// @Success 200 {object} APIResponse
// @Router /providers/test [post]
func (c *ProviderController) TestProvider(w http.ResponseWriter, r *http.Request) {
	var req TestProviderRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = "chat"
	}

	result := c.providerManager.TestProvider(r.Context(), req.Kind)
	respondOK(w, r, "提供方实测完成", result)
}

// CheckOllamaModels 检查 Ollama 模型可用性
// @Summary 检查 Ollama 模型可用性
// @Description 检查设置中的 Ollama 模型是否已安装
// @Tags 提供方
// @Produce json
// @Success 200 {object} APIResponse
// @Router /providers/ollama/models [get]
func (c *ProviderController) CheckOllamaModels(w http.ResponseWriter, r *http.Request) {
	result := c.providerManager.CheckOllamaModelsAvailability(r.Context())
	respondOK(w, r, "检查Ollama模型完成", result)
}
