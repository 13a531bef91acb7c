/*
 * @module api/controllers/settings_controller
 * @description 系统设置控制器，提供设置读写、连通性测试与强制重建的HTTP接口
 * @architecture RESTful API架构
 * @documentReference dev_docs/settings_management.md
 * @stateFlow HTTP请求 -> 控制器 -> 设置管理器 -> 向量存储
 * @rules 设置更新全部经过管理器的校验与实测管线
 * @dependencies github.com/go-chi/render
 * @refs service/settings
 */

package controllers

import (
	"net/http"

	"github.com/go-chi/render"

	"zenith-service/service/settings"
)

// SettingsController 设置控制器
type SettingsController struct {
	settingsManager *settings.Manager
}

// NewSettingsController 创建设置控制器实例
func NewSettingsController(settingsManager *settings.Manager) *SettingsController {
	return &SettingsController{settingsManager: settingsManager}
}

// GetSettings 获取系统设置
// @Summary 获取系统设置
// @Description 获取脱敏后的全部系统设置
// @Tags 系统设置
// @Produce json
// @Success 200 {object} APIResponse
// @Router /settings [get]
func (c *SettingsController) GetSettings(w http.ResponseWriter, r *http.Request) {
	payload, err := c.settingsManager.GetSettings()
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "获取系统设置失败: "+err.Error())
		return
	}
	respondOK(w, r, "获取系统设置成功", payload)
}

// UpdateSettings 更新系统设置
// @Summary 更新系统设置
// @Description 部分更新系统设置，经过校验、差异计算与连通性实测
// @Tags 系统设置
// @Accept json
// @Produce json
// @Param request body map[string]interface{} true "更新字段"
// @Success 200 {object} APIResponse
// @Router /settings [put]
func (c *SettingsController) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]interface{}
	if err := render.DecodeJSON(r.Body, &updates); err != nil {
		respondError(w, r, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}

	ok, messages := c.settingsManager.UpdateSettings(r.Context(), updates)
	if !ok {
		render.JSON(w, r, map[string]interface{}{
			"status": http.StatusBadRequest,
			"msg":    "系统设置更新失败",
			"data":   map[string]interface{}{"messages": messages},
		})
		return
	}
	respondOK(w, r, "系统设置更新成功", map[string]interface{}{"messages": messages})
}

// ForceReinitializeRequest 强制重建请求
type ForceReinitializeRequest struct {
	SkipModelPull bool `json:"skip_model_pull"`
}

// ForceReinitialize 强制重建提供方
// @Summary 强制重建提供方
// @Description 重新实测当前设置并重建全部提供方实例
// @Tags 系统设置
// @Accept json
// @Produce json
// @Param request body ForceReinitializeRequest false "重建选项"
// @Success 200 {object} APIResponse
// @Router /settings/force-reinitialize [post]
func (c *SettingsController) ForceReinitialize(w http.ResponseWriter, r *http.Request) {
	var req ForceReinitializeRequest
	render.DecodeJSON(r.Body, &req)

	ok, messages := c.settingsManager.ForceReinitialize(r.Context(), req.SkipModelPull)
	if !ok {
		render.JSON(w, r, map[string]interface{}{
			"status": http.StatusBadRequest,
			"msg":    "强制重建失败",
			"data":   map[string]interface{}{"messages": messages},
		})
		return
	}
	respondOK(w, r, "强制重建成功", map[string]interface{}{"messages": messages})
}

// TestOllamaRequest Ollama 连通性测试请求
type TestOllamaRequest struct {
	Endpoint string `json:"endpoint"`
}

// TestOllamaConnection 测试 Ollama 连通性
// @Summary 测试 Ollama 连通性
// @Description 实测 Ollama 服务可达性并返回已安装模型
// @Tags 系统设置
// @Accept json
// @Produce json
// @Param request body TestOllamaRequest false "测试目标"
// @Success 200 {object} APIResponse
// @Router /settings/test-ollama [post]
func (c *SettingsController) TestOllamaConnection(w http.ResponseWriter, r *http.Request) {
	var req TestOllamaRequest
	render.DecodeJSON(r.Body, &req)

	ok, installedModels, err := c.settingsManager.TestOllamaConnection(r.Context(), req.Endpoint)
	if !ok {
		respondError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	respondOK(w, r, "Ollama连接测试成功", map[string]interface{}{"installed_models": installedModels})
}

// TestOpenAIRequest OpenAI 凭据测试请求
type TestOpenAIRequest struct {
	APIKey string `json:"api_key"`
}

// TestOpenAIConnection 测试 OpenAI 凭据
// @Summary 测试 OpenAI 凭据
// @Description 实测 OpenAI API Key 有效性
// @Tags 系统设置
// @Accept json
// @Produce json
// @Param request body TestOpenAIRequest false "测试凭据"
// @Success 200 {object} APIResponse
// @Router /settings/test-openai [post]
func (c *SettingsController) TestOpenAIConnection(w http.ResponseWriter, r *http.Request) {
	var req TestOpenAIRequest
	render.DecodeJSON(r.Body, &req)

	if err := c.settingsManager.TestOpenAIConnection(r.Context(), req.APIKey); err != nil {
		respondError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	respondOK(w, r, "OpenAI连接测试成功", nil)
}
