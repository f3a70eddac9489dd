package generator

import (
	"context"
	"html"
	"strings"
)

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
type MockLLM struct{}

func (m MockLLM) Complete(_ context.Context, prompt Prompt, _ Options) (Completion, error) {
	var sb strings.Builder
	sb.WriteString("Here is your design:\n\n")
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	sb.WriteString("<script src=\"https://cdn.tailwindcss.com\"></script>\n<title>Mock design</title>\n</head>\n")
	sb.WriteString("<body class=\"p-8 font-sans\">\n<h1 class=\"text-2xl font-bold mb-4\">Mock design</h1>\n")
	for _, p := range prompt.Parts {
		if p.Kind != PartText {
			continue
		}
		sb.WriteString("<pre class=\"whitespace-pre-wrap text-sm mb-4\">")
		sb.WriteString(html.EscapeString(p.Text))
		sb.WriteString("</pre>\n")
	}
	sb.WriteString("</body>\n</html>\n")
	return Completion{Model: "mock", Choices: []string{sb.String()}}, nil
}
