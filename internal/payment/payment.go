package payment

import (
	"context"
	"time"
)

// EscrowRequest 描述一次资金托管请求。
type EscrowRequest struct {
	TaskID     string
	ContractID string
	Amount     float64
	Currency   string
}

// Hold 是资金托管成功后的凭证。
type Hold struct {
	EscrowID string
	TxRef    string
	Amount   float64
	HeldAt   time.Time
}

// ReleaseRequest 描述一次放款请求。
type ReleaseRequest struct {
	EscrowID string
	Payee    string
	Amount   float64
}

// Release 是放款成功后的凭证。
type Release struct {
	PaymentID  string
	TxRef      string
	Amount     float64
	ReleasedAt time.Time
}

// Provider 定义资金托管与放款的统一接口。托管是高影响动作：
// 一旦完成，任务取消或回滚都必须调用 RefundEscrow 退回资金。
type Provider interface {
	// HoldEscrow 将合同金额划入托管，返回托管凭证。
	HoldEscrow(ctx context.Context, req EscrowRequest) (*Hold, error)
	// ReleasePayment 将托管资金放款给收款方。
	ReleasePayment(ctx context.Context, req ReleaseRequest) (*Release, error)
	// RefundEscrow 退回托管资金，重复调用必须是幂等的。
	RefundEscrow(ctx context.Context, escrowID string) (string, error)
	// Close 释放底层连接。
	Close() error
}
