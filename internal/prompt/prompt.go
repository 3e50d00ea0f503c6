// Package prompt 把检索到的分块打包进 token 预算，并渲染最终发给 LLM 的提示词。
package prompt

import (
	"strings"

	"pai-context-go/internal/model"
)

// DefaultTemplate 是未提供自定义模板时使用的提示词。
const DefaultTemplate = `You are a very enthusiastic assistant who loves to help people. Given the following sections from the documentation, answer the question using only that information. If you are unsure and the answer is not explicitly written in the documentation, say "{{I_DONT_KNOW}}".

Context sections:
{{CONTEXT}}

Question: """
{{PROMPT}}
"""

Answer as markdown (including related code snippets if available):`

// Context 是 Assemble 的输出。
type Context struct {
	Text       string
	References []string
	TokenCount int
}

// Vars 是模板占位符的取值。
type Vars struct {
	IDontKnowMessage string
	Context          string
	Prompt           string
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Assemble 按输入顺序贪心地装入分块，累计 TokenCount 超过 budget 前停止。
// 越界的分块整体排除，不做截断；其后的分块也不再考虑。
func Assemble(sections []model.RetrievedSection, budget int) Context {
	var (
		b    strings.Builder
		refs []string
		seen = make(map[string]struct{})
		used int
	)
	for _, s := range sections {
		if used+s.TokenCount > budget {
			break
		}
		used += s.TokenCount

		b.WriteString("Section id: ")
		b.WriteString(s.Path)
		b.WriteString("\n\n")
		b.WriteString(lineBreaks.Replace(strings.TrimSpace(s.Content)))
		b.WriteString("\n---\n")

		if _, ok := seen[s.Path]; !ok {
			seen[s.Path] = struct{}{}
			refs = append(refs, s.Path)
		}
	}
	if refs == nil {
		refs = []string{}
	}
	return Context{Text: b.String(), References: refs, TokenCount: used}
}

// Render 替换 {{I_DONT_KNOW}}、{{CONTEXT}}、{{PROMPT}} 三个占位符。template 为空时使用 DefaultTemplate。
func Render(template string, vars Vars) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}
	r := strings.NewReplacer(
		"{{I_DONT_KNOW}}", vars.IDontKnowMessage,
		"{{CONTEXT}}", vars.Context,
		"{{PROMPT}}", vars.Prompt,
	)
	return r.Replace(template)
}

// SanitizeQuery 去掉首尾空白并把换行折叠为空格。
func SanitizeQuery(q string) string {
	return lineBreaks.Replace(strings.TrimSpace(q))
}
