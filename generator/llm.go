package generator

import "context"

// LLMClient 抽象大模型客户端，便于替换/Mock。
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt, opts Options) (Completion, error)
}

// Factory builds a client for one invocation. The API key is passed
// explicitly rather than read from ambient state.
type Factory func(apiKey string) (LLMClient, error)

// LLMSettings 提供给具体实现的基础配置。
type LLMSettings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}
