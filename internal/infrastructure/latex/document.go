// Package latex 封装外部 LaTeX 编译服务
package latex

import (
	"bytes"
	"text/template"
)

var documentTemplate = template.Must(template.New("document").Parse(`\documentclass{article}
\usepackage{amsmath, amssymb}
\usepackage[utf8]{inputenc}
\pagestyle{empty}
\begin{document}
{{if .DisplayMath}}\[ {{.Fragment}} \]{{else}}{{.Fragment}}{{end}}
\end{document}
`))

// WrapDocument 将用户片段嵌入固定的文档模板
func WrapDocument(fragment string, displayMath bool) (string, error) {
	var buf bytes.Buffer
	err := documentTemplate.Execute(&buf, struct {
		Fragment    string
		DisplayMath bool
	}{Fragment: fragment, DisplayMath: displayMath})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
