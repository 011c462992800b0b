package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "GigFlow/internal/errors"
)

// MemoryProvider 是进程内的托管实现，开发与测试环境使用。
type MemoryProvider struct {
	mu       sync.Mutex
	holds    map[string]*Hold
	refunded map[string]bool
	released map[string]bool
}

var _ Provider = (*MemoryProvider)(nil)

// NewMemoryProvider 创建内存托管实现。
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		holds:    make(map[string]*Hold),
		refunded: make(map[string]bool),
		released: make(map[string]bool),
	}
}

// HoldEscrow 记录一笔托管并返回凭证。
func (p *MemoryProvider) HoldEscrow(_ context.Context, req EscrowRequest) (*Hold, error) {
	if req.Amount <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "托管金额必须大于零")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	hold := &Hold{
		EscrowID: uuid.NewString(),
		TxRef:    "mem-" + uuid.NewString(),
		Amount:   req.Amount,
		HeldAt:   time.Now().UTC(),
	}
	p.holds[hold.EscrowID] = hold
	return hold, nil
}

// ReleasePayment 将托管标记为已放款。
func (p *MemoryProvider) ReleasePayment(_ context.Context, req ReleaseRequest) (*Release, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	hold, ok := p.holds[req.EscrowID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "托管记录不存在: "+req.EscrowID)
	}
	if p.refunded[req.EscrowID] {
		return nil, xerrors.New(xerrors.CodeConflict, "托管已退款，无法放款: "+req.EscrowID)
	}
	if p.released[req.EscrowID] {
		return nil, xerrors.New(xerrors.CodeConflict, "托管已放款: "+req.EscrowID)
	}
	p.released[req.EscrowID] = true
	amount := req.Amount
	if amount <= 0 {
		amount = hold.Amount
	}
	return &Release{
		PaymentID:  uuid.NewString(),
		TxRef:      "mem-" + uuid.NewString(),
		Amount:     amount,
		ReleasedAt: time.Now().UTC(),
	}, nil
}

// RefundEscrow 退回托管资金，重复退款返回同样的结果。
func (p *MemoryProvider) RefundEscrow(_ context.Context, escrowID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.holds[escrowID]; !ok {
		return "", xerrors.New(xerrors.CodeNotFound, "托管记录不存在: "+escrowID)
	}
	if p.released[escrowID] {
		return "", xerrors.New(xerrors.CodeConflict, "托管已放款，无法退款: "+escrowID)
	}
	if p.refunded[escrowID] {
		return "escrow already refunded", nil
	}
	p.refunded[escrowID] = true
	return "escrow refunded", nil
}

// Refunded 返回某笔托管是否已退款，测试用。
func (p *MemoryProvider) Refunded(escrowID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refunded[escrowID]
}

// Close 实现 Provider 接口。
func (p *MemoryProvider) Close() error { return nil }
