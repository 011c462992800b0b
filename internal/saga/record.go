package saga

import "time"

// Record 是单个阶段落盘的输入输出载荷。它是一个按阶段打标的联合体：
// 每个阶段只会填写属于自己的那个字段，处理器也只能读到它显式声明
// 依赖的阶段的 Record，避免跨阶段偷读内部字段。
type Record struct {
	Listing       *JobListing          `json:"listing,omitempty"`
	Qualification *QualificationReport `json:"qualification,omitempty"`
	Bid           *BidResult           `json:"bid,omitempty"`
	Contract      *ContractInfo        `json:"contract,omitempty"`
	Escrow        *EscrowReceipt       `json:"escrow,omitempty"`
	Execution     *ExecutionOutput     `json:"execution,omitempty"`
	Quality       *QualityReport       `json:"quality,omitempty"`
	Revision      *RevisionNote        `json:"revision,omitempty"`
	Delivery      *DeliveryReceipt     `json:"delivery,omitempty"`
	Payment       *PaymentReceipt      `json:"payment,omitempty"`
	Feedback      *FeedbackEntry       `json:"feedback,omitempty"`
}

// JobListing 描述 DISCOVERY 阶段从平台抓取到的职位信息。
type JobListing struct {
	JobID       string    `json:"job_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Budget      float64   `json:"budget"`
	Currency    string    `json:"currency,omitempty"`
	ClientID    string    `json:"client_id,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	PostedAt    time.Time `json:"posted_at,omitempty"`
}

// QualificationReport 记录 QUALIFICATION 阶段的判定结论。
type QualificationReport struct {
	Qualified bool    `json:"qualified"`
	Score     float64 `json:"score,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// BidResult 记录 BIDDING 阶段投标的结果。
type BidResult struct {
	BidID    string  `json:"bid_id"`
	Amount   float64 `json:"amount"`
	Proposal string  `json:"proposal,omitempty"`
}

// ContractInfo 记录 CONTRACT_SIGNING 阶段签署的合同。
type ContractInfo struct {
	ContractID string    `json:"contract_id"`
	Terms      string    `json:"terms,omitempty"`
	SignedAt   time.Time `json:"signed_at"`
}

// EscrowReceipt 记录 PAYMENT_ESCROW 阶段的资金托管凭证。
type EscrowReceipt struct {
	EscrowID string    `json:"escrow_id"`
	Amount   float64   `json:"amount"`
	TxRef    string    `json:"tx_ref,omitempty"`
	HeldAt   time.Time `json:"held_at"`
}

// ExecutionOutput 记录 EXECUTION 阶段产出的工作成果。
type ExecutionOutput struct {
	Artifact string `json:"artifact"`
	Summary  string `json:"summary,omitempty"`
	Rounds   int    `json:"rounds,omitempty"`
}

// QualityReport 记录 QUALITY_CHECK 阶段的质检结论。
type QualityReport struct {
	Passed bool     `json:"passed"`
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// RevisionNote 记录 REVISION 阶段的返工说明与修订后的成果。
type RevisionNote struct {
	Round        int    `json:"round"`
	Instructions string `json:"instructions,omitempty"`
	Artifact     string `json:"artifact,omitempty"`
}

// DeliveryReceipt 记录 DELIVERY 阶段的交付凭证。
type DeliveryReceipt struct {
	DeliveryID  string    `json:"delivery_id"`
	URL         string    `json:"url,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// PaymentReceipt 记录 PAYMENT_RELEASE 阶段的放款凭证。
type PaymentReceipt struct {
	PaymentID  string    `json:"payment_id"`
	Amount     float64   `json:"amount"`
	ReleasedAt time.Time `json:"released_at"`
}

// FeedbackEntry 记录 FEEDBACK 阶段留下的互评。
type FeedbackEntry struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}
