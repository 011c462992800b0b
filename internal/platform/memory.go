package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "GigFlow/internal/errors"
)

// MemoryAdapter 是进程内的平台模拟实现，开发与测试环境使用。
// 未注册的职位会按提交的 jobID 自动补一条默认 listing。
type MemoryAdapter struct {
	mu        sync.Mutex
	listings  map[string]Listing
	bids      map[string]Bid
	contracts map[string]Contract
	withdrawn map[string]bool
	voided    map[string]bool
	feedback  map[string]int
}

var _ Adapter = (*MemoryAdapter)(nil)

// NewMemoryAdapter 创建平台模拟实现。
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		listings:  make(map[string]Listing),
		bids:      make(map[string]Bid),
		contracts: make(map[string]Contract),
		withdrawn: make(map[string]bool),
		voided:    make(map[string]bool),
		feedback:  make(map[string]int),
	}
}

// Seed 预置一条职位信息。
func (a *MemoryAdapter) Seed(listing Listing) {
	a.mu.Lock()
	a.listings[listing.JobID] = listing
	a.mu.Unlock()
}

// FetchListing 返回职位详情。
func (a *MemoryAdapter) FetchListing(_ context.Context, jobID string) (*Listing, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	listing, ok := a.listings[jobID]
	if !ok {
		listing = Listing{
			JobID:    jobID,
			Title:    "job " + jobID,
			Budget:   100,
			Currency: "USD",
			PostedAt: time.Now().UTC(),
		}
		a.listings[jobID] = listing
	}
	out := listing
	return &out, nil
}

// SubmitBid 记录一次投标。
func (a *MemoryAdapter) SubmitBid(_ context.Context, jobID string, amount float64, _ string) (*Bid, error) {
	if amount <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "投标金额必须大于零")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.listings[jobID]; !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "职位不存在: "+jobID)
	}
	bid := Bid{BidID: uuid.NewString(), Amount: amount}
	a.bids[bid.BidID] = bid
	out := bid
	return &out, nil
}

// WithdrawBid 撤回投标，幂等。
func (a *MemoryAdapter) WithdrawBid(_ context.Context, bidID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bids[bidID]; !ok {
		return nil
	}
	a.withdrawn[bidID] = true
	return nil
}

// SignContract 基于投标生成合同。
func (a *MemoryAdapter) SignContract(_ context.Context, bidID string) (*Contract, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bids[bidID]; !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "投标不存在: "+bidID)
	}
	if a.withdrawn[bidID] {
		return nil, xerrors.New(xerrors.CodeConflict, "投标已撤回: "+bidID)
	}
	contract := Contract{
		ContractID: uuid.NewString(),
		Terms:      fmt.Sprintf("contract for bid %s", bidID),
		SignedAt:   time.Now().UTC(),
	}
	a.contracts[contract.ContractID] = contract
	out := contract
	return &out, nil
}

// VoidContract 作废合同，幂等。
func (a *MemoryAdapter) VoidContract(_ context.Context, contractID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.contracts[contractID]; !ok {
		return nil
	}
	a.voided[contractID] = true
	return nil
}

// UploadDelivery 记录一次交付。
func (a *MemoryAdapter) UploadDelivery(_ context.Context, contractID, artifact string) (*Delivery, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.contracts[contractID]; !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "合同不存在: "+contractID)
	}
	if a.voided[contractID] {
		return nil, xerrors.New(xerrors.CodeConflict, "合同已作废: "+contractID)
	}
	delivery := Delivery{
		DeliveryID:  uuid.NewString(),
		URL:         fmt.Sprintf("mem://deliveries/%s/%d", contractID, len(artifact)),
		DeliveredAt: time.Now().UTC(),
	}
	return &delivery, nil
}

// PostFeedback 记录互评。
func (a *MemoryAdapter) PostFeedback(_ context.Context, contractID string, rating int, _ string) error {
	if rating < 1 || rating > 5 {
		return xerrors.New(xerrors.CodeInvalidArgument, "评分必须在 1 到 5 之间")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.contracts[contractID]; !ok {
		return xerrors.New(xerrors.CodeNotFound, "合同不存在: "+contractID)
	}
	a.feedback[contractID] = rating
	return nil
}

// BidWithdrawn 返回某投标是否已撤回，测试用。
func (a *MemoryAdapter) BidWithdrawn(bidID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.withdrawn[bidID]
}

// ContractVoided 返回某合同是否已作废，测试用。
func (a *MemoryAdapter) ContractVoided(contractID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.voided[contractID]
}

// Close 实现 Adapter 接口。
func (a *MemoryAdapter) Close() error { return nil }
