package ai

import (
	"context"
	"fmt"
	"strings"
)

// StaticClient 是离线演示用的评估实现：不访问任何外部服务，按固定
// 得分给出结论。开发环境与集成测试使用。
type StaticClient struct {
	// Score 是所有评估返回的固定得分，零值按 0.9 处理。
	Score float64
}

var _ Client = (*StaticClient)(nil)

// Evaluate 返回固定得分与按任务拼装的说明文字。
func (c *StaticClient) Evaluate(_ context.Context, req Request) (*Response, error) {
	score := c.Score
	if score == 0 {
		score = 0.9
	}
	task := strings.TrimSpace(req.Task)
	notes := fmt.Sprintf("[offline] %s", task)
	if artifact := strings.TrimSpace(req.Artifact); artifact != "" {
		notes = fmt.Sprintf("[offline] %s (基于 %d 字符的产物)", task, len([]rune(artifact)))
	}
	return &Response{
		Score:   score,
		Verdict: "ok",
		Notes:   notes,
	}, nil
}
