// internal/llm/providers/openaicompat/openaicompat.go
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Corphon/SceneForge/internal/llm"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{name: "OpenAI", baseURL: "https://api.openai.com/v1", defaultModel: "gpt-4o-mini"}
	})
	llm.Register("openrouter", func() llm.Provider {
		return &Provider{name: "OpenRouter", baseURL: "https://openrouter.ai/api/v1", defaultModel: "google/gemma-3-27b-it:free"}
	})
}

// Provider 兼容 OpenAI chat completions 协议的提供者
type Provider struct {
	name         string
	apiKey       string
	baseURL      string
	client       *http.Client
	defaultModel string
	appName      string // 应用名称，OpenRouter 使用
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return fmt.Errorf("%s API密钥未提供", p.name)
	}
	p.apiKey = apiKey

	timeout := 60 * time.Second
	if raw, ok := config["timeout"]; ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("无效的超时配置 %q: %w", raw, err)
		}
		timeout = d
	}
	p.client = &http.Client{Timeout: timeout}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	}
	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	if appName, exists := config["app_name"]; exists && appName != "" {
		p.appName = appName
	} else {
		p.appName = "SceneForge"
	}
	return nil
}

func (p *Provider) GetName() string {
	return p.name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := []chatMessage{{Role: "user", Content: req.Prompt}}
	if req.SystemPrompt != "" {
		messages = append([]chatMessage{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}

	requestBody := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		requestBody["max_tokens"] = req.MaxTokens
	}
	if req.JSONMode {
		requestBody["response_format"] = map[string]string{"type": "json_object"}
	}
	for k, v := range req.ExtraParams {
		requestBody[k] = v
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("X-Title", p.appName)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("%s API错误(%d): %s", p.name, httpResp.StatusCode, string(body))
	}

	var response chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("解析%s响应失败: %w", p.name, err)
	}
	if len(response.Choices) == 0 {
		return nil, errors.New(p.name + "未返回任何结果")
	}

	return &llm.CompletionResponse{
		Text:         response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		TokensUsed:   response.Usage.TotalTokens,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    response.Model,
		ProviderName: p.GetName(),
	}, nil
}
