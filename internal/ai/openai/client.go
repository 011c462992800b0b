package openai

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

	"GigFlow/internal/ai"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的评估能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ ai.Client = (*Client)(nil)

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Evaluate 调用 OpenAI 生成结构化评估结果。
func (c *Client) Evaluate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("OpenAI 响应内容为空")
	}

	var structured struct {
		Score   float64  `json:"score"`
		Verdict string   `json:"verdict"`
		Notes   string   `json:"notes"`
		Issues  []string `json:"issues"`
	}
	if err := json.Unmarshal([]byte(content), &structured); err != nil {
		// 非 JSON 回复降级为纯文本说明。
		structured.Notes = content
	}
	if structured.Score < 0 {
		structured.Score = 0
	}
	if structured.Score > 1 {
		structured.Score = 1
	}

	return &ai.Response{
		Score:   structured.Score,
		Verdict: structured.Verdict,
		Notes:   structured.Notes,
		Issues:  structured.Issues,
	}, nil
}

func (c *Client) buildPayload(req ai.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := []message{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: buildUserPrompt(req),
		},
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.2,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are GigFlow's evaluation engine for freelance job workflows. " +
	"Always respond with a compact JSON object: " +
	"{\"score\": number between 0 and 1, \"verdict\": string, \"notes\": string, \"issues\": [string]}. " +
	"Keep notes concise and actionable."

func buildUserPrompt(req ai.Request) string {
	var builder strings.Builder
	builder.WriteString("## 评估任务\n")
	builder.WriteString(strings.TrimSpace(req.Task))
	builder.WriteString("\n\n## 职位背景\n")
	builder.WriteString(strings.TrimSpace(req.Brief))
	if artifact := strings.TrimSpace(req.Artifact); artifact != "" {
		builder.WriteString("\n\n## 待评估产物\n")
		builder.WriteString(truncate(artifact))
	}
	builder.WriteString("\n\n请按系统提示的 JSON 格式给出评估结果。")
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 4000 {
		return string([]rune(text)[:4000]) + "..."
	}
	return text
}
