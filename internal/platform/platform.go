package platform

import (
	"context"
	"time"
)

// Listing 是从平台抓取到的职位信息。
type Listing struct {
	JobID       string    `json:"job_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Budget      float64   `json:"budget"`
	Currency    string    `json:"currency,omitempty"`
	ClientID    string    `json:"client_id,omitempty"`
	PostedAt    time.Time `json:"posted_at,omitempty"`
}

// Bid 是平台接受投标后返回的回执。
type Bid struct {
	BidID  string  `json:"bid_id"`
	Amount float64 `json:"amount"`
}

// Contract 是双方签署合同后的回执。
type Contract struct {
	ContractID string    `json:"contract_id"`
	Terms      string    `json:"terms,omitempty"`
	SignedAt   time.Time `json:"signed_at"`
}

// Delivery 是成果上传后的回执。
type Delivery struct {
	DeliveryID  string    `json:"delivery_id"`
	URL         string    `json:"url,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Adapter 定义自由职业平台的统一接入接口。所有方法都可能因为网络
// 抖动而临时失败，调用方按瞬时故障重试即可。
type Adapter interface {
	// FetchListing 拉取职位详情。
	FetchListing(ctx context.Context, jobID string) (*Listing, error)
	// SubmitBid 提交投标。
	SubmitBid(ctx context.Context, jobID string, amount float64, proposal string) (*Bid, error)
	// WithdrawBid 撤回投标，幂等。
	WithdrawBid(ctx context.Context, bidID string) error
	// SignContract 确认签署合同。
	SignContract(ctx context.Context, bidID string) (*Contract, error)
	// VoidContract 作废合同，幂等。
	VoidContract(ctx context.Context, contractID string) error
	// UploadDelivery 上传交付物。
	UploadDelivery(ctx context.Context, contractID, artifact string) (*Delivery, error)
	// PostFeedback 留下互评。
	PostFeedback(ctx context.Context, contractID string, rating int, comment string) error
	// Close 释放底层连接。
	Close() error
}
