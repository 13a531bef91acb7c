package controllers

import (
	"net/http"

	"github.com/go-chi/render"
)

// APIResponse 统一API响应结构
type APIResponse struct {
	Status int         `json:"status" example:"200"`
	Msg    string      `json:"msg" example:"操作成功"`
	Data   interface{} `json:"data,omitempty"`
}

func respondOK(w http.ResponseWriter, r *http.Request, msg string, data interface{}) {
	render.JSON(w, r, map[string]interface{}{
		"status": http.StatusOK,
		"msg":    msg,
		"data":   data,
	})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.JSON(w, r, map[string]interface{}{
		"status": status,
		"msg":    msg,
	})
}
