// Package pipeline 编排校验、配额、编译、投递与记账
package pipeline

import (
	"fmt"
	"net/mail"
	"strings"

	apperrors "latexbot-api/pkg/errors"
)

// Request 一次转换请求
type Request struct {
	Email     string
	LatexCode string
}

// Validate 检查必填字段与收件地址，返回规范化后的请求。
// maxFragmentBytes <= 0 时不限制片段长度。
func (r Request) Validate(maxFragmentBytes int) (Request, error) {
	email := strings.TrimSpace(r.Email)
	code := strings.TrimSpace(r.LatexCode)
	if email == "" || code == "" {
		return Request{}, apperrors.New(apperrors.CodeInvalidParam, "Missing email or LaTeX code")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return Request{}, apperrors.Wrap(err, apperrors.CodeInvalidParam, "Invalid email address")
	}
	if maxFragmentBytes > 0 && len(code) > maxFragmentBytes {
		return Request{}, apperrors.New(apperrors.CodeInvalidParam,
			fmt.Sprintf("LaTeX code exceeds %d bytes", maxFragmentBytes))
	}

	return Request{Email: addr.Address, LatexCode: code}, nil
}
