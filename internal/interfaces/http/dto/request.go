// Package dto 提供 HTTP 层数据传输对象
package dto

import "latexbot-api/internal/application/pipeline"

// SubmitRequest 转换请求体，字段名与既有前端保持一致
type SubmitRequest struct {
	Email     string `json:"email"`
	LatexCode string `json:"latexCode"`
}

// ToPipeline 转换为流水线请求
func (r *SubmitRequest) ToPipeline() pipeline.Request {
	return pipeline.Request{
		Email:     r.Email,
		LatexCode: r.LatexCode,
	}
}
