package ai

import "context"

// Request 描述发送给大模型的一次评估任务。
type Request struct {
	// Task 说明本次评估要做什么，例如资质评估、撰写提案、质量审查。
	Task string
	// Brief 是职位要素与上下文的文字描述。
	Brief string
	// Artifact 是待评估的产物内容，撰写类任务可以为空。
	Artifact string
}

// Response 是大模型评估得到的结构化输出。
type Response struct {
	// Score 是归一化到 [0,1] 的评估得分。
	Score float64
	// Verdict 是简短结论，例如 qualified / rejected / pass / revise。
	Verdict string
	// Notes 是面向人类的说明文字，撰写类任务的正文也放在这里。
	Notes string
	// Issues 列出需要修正的具体问题，质量审查任务使用。
	Issues []string
}

// Client 定义了调用大模型评估能力的统一接口。
type Client interface {
	Evaluate(ctx context.Context, req Request) (*Response, error)
}
