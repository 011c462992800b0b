// Package lifecycle 把自由职业任务的十一个业务阶段装配成 saga.Step 表：
// 每个阶段绑定前向处理器、可选的补偿动作以及超时重试策略。阶段处理器
// 是协作方（AI 评估、支付托管、平台接入）的唯一调用点，编排内核对
// 这些协作方一无所知。
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"GigFlow/internal/ai"
	xerrors "GigFlow/internal/errors"
	"GigFlow/internal/payment"
	"GigFlow/internal/platform"
	"GigFlow/internal/saga"
)

const (
	// DefaultQualityThreshold 是质检通过的最低得分。
	DefaultQualityThreshold = 0.7
	// DefaultQualificationThreshold 是资质评估接单的最低得分。
	DefaultQualificationThreshold = 0.6
	// defaultBidDiscount 是默认报价相对预算的折扣系数。
	defaultBidDiscount = 0.95
	// defaultRating 是互评的默认评分。
	defaultRating = 5
)

// Deps 汇总阶段处理器需要的全部协作方与业务阈值。
type Deps struct {
	AI       ai.Client
	Payments payment.Provider
	Platform platform.Adapter

	// MinBudget 低于该预算的职位直接判定不接单。
	MinBudget float64
	// QualificationThreshold 资质评估的接单分数线，零值取默认。
	QualificationThreshold float64
	// QualityThreshold 质检的通过分数线，零值取默认。
	QualityThreshold float64
	// Payee 放款收款方标识（链上实现时为收款地址）。
	Payee string
}

func (d Deps) validate() error {
	if d.AI == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "未提供 AI 评估客户端")
	}
	if d.Payments == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "未提供支付托管实现")
	}
	if d.Platform == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "未提供平台接入实现")
	}
	return nil
}

// Steps 构建全量阶段描述符。返回的是切片而非 StepSet，调用方可以先
// 套用运维策略再落表。
func Steps(deps Deps) ([]saga.Step, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.QualificationThreshold <= 0 {
		deps.QualificationThreshold = DefaultQualificationThreshold
	}
	if deps.QualityThreshold <= 0 {
		deps.QualityThreshold = DefaultQualityThreshold
	}

	return []saga.Step{
		{
			Phase:   saga.PhaseDiscovery,
			Handler: discoveryHandler(deps),
		},
		{
			Phase:   saga.PhaseQualification,
			Handler: qualificationHandler(deps),
			Needs:   []saga.Phase{saga.PhaseDiscovery},
		},
		{
			Phase:       saga.PhaseBidding,
			Handler:     biddingHandler(deps),
			Compensator: biddingCompensator(deps),
			Needs:       []saga.Phase{saga.PhaseDiscovery, saga.PhaseQualification},
		},
		{
			Phase:       saga.PhaseContractSigning,
			Handler:     contractHandler(deps),
			Compensator: contractCompensator(deps),
			Needs:       []saga.Phase{saga.PhaseBidding},
		},
		{
			Phase:       saga.PhasePaymentEscrow,
			Handler:     escrowHandler(deps),
			Compensator: escrowCompensator(deps),
			Needs:       []saga.Phase{saga.PhaseBidding, saga.PhaseContractSigning},
			HighImpact:  true,
		},
		{
			Phase:   saga.PhaseExecution,
			Handler: executionHandler(deps),
			Needs:   []saga.Phase{saga.PhaseDiscovery},
			Timeout: 5 * time.Minute,
		},
		{
			Phase:   saga.PhaseQualityCheck,
			Handler: qualityHandler(deps),
			Needs:   []saga.Phase{saga.PhaseDiscovery, saga.PhaseExecution, saga.PhaseRevision},
		},
		{
			Phase:   saga.PhaseRevision,
			Handler: revisionHandler(deps),
			Needs:   []saga.Phase{saga.PhaseDiscovery, saga.PhaseExecution, saga.PhaseQualityCheck, saga.PhaseRevision},
			Timeout: 5 * time.Minute,
		},
		{
			Phase:   saga.PhaseDelivery,
			Handler: deliveryHandler(deps),
			Needs:   []saga.Phase{saga.PhaseContractSigning, saga.PhaseExecution, saga.PhaseRevision},
		},
		{
			Phase:   saga.PhasePaymentRelease,
			Handler: releaseHandler(deps),
			Needs:   []saga.Phase{saga.PhaseBidding, saga.PhasePaymentEscrow},
		},
		{
			Phase:   saga.PhaseFeedback,
			Handler: feedbackHandler(deps),
			Needs:   []saga.Phase{saga.PhaseContractSigning, saga.PhaseQualityCheck},
		},
	}, nil
}

// NewStepSet 是 Steps 加 saga.NewStepSet 的便捷组合。
func NewStepSet(deps Deps) (*saga.StepSet, error) {
	steps, err := Steps(deps)
	if err != nil {
		return nil, err
	}
	return saga.NewStepSet(steps...)
}

func discoveryHandler(deps Deps) saga.HandlerFunc {
	return func(ctx context.Context, in saga.Input) (*saga.Result, error) {
		listing, err := deps.Platform.FetchListing(ctx, in.Job.JobID)
		if err != nil {
			return nil, err
		}
		if listing.Budget <= 0 && in.Job.Budget > 0 {
			listing.Budget = in.Job.Budget
		}
		if listing.Budget <= 0 {
			// 没有预算的职位无从报价，不是故障，干净收束。
			return nil, saga.Abort(fmt.Errorf("职位 %s 缺少预算信息", in.Job.JobID))
		}
		return &saga.Result{
			Record: saga.Record{
				Listing: &saga.JobListing{
					JobID:       listing.JobID,
					Title:       listing.Title,
					Description: listing.Description,
					Budget:      listing.Budget,
					Currency:    listing.Currency,
					ClientID:    listing.ClientID,
					Platform:    in.Job.Platform,
					PostedAt:    listing.PostedAt,
				},
			},
		}, nil
	}
}

func qualificationHandler(deps Deps) saga.HandlerFunc {
	return func(ctx context.Context, in saga.Input) (*saga.Result, error) {
		listing := mustListing(in)
		if listing == nil {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseDiscovery))
		}
		if deps.MinBudget > 0 && listing.Budget < deps.MinBudget {
			report := &saga.QualificationReport{
				Qualified: false,
				Reason:    fmt.Sprintf("预算 %.2f 低于最低接单线 %.2f", listing.Budget, deps.MinBudget),
			}
			return &saga.Result{Record: saga.Record{Qualification: report}}, nil
		}

		resp, err := deps.AI.Evaluate(ctx, ai.Request{
			Task:  "评估是否具备承接该职位的资质与能力",
			Brief: jobBrief(listing),
		})
		if err != nil {
			return nil, err
		}
		report := &saga.QualificationReport{
			Qualified: resp.Score >= deps.QualificationThreshold,
			Score:     resp.Score,
			Reason:    resp.Notes,
		}
		return &saga.Result{
			Record: saga.Record{Qualification: report},
			Branch: saga.PhaseResult{Qualified: report.Qualified},
		}, nil
	}
}

func biddingHandler(deps Deps) saga.HandlerFunc {
	return func(ctx context.Context, in saga.Input) (*saga.Result, error) {
		listing := mustListing(in)
		if listing == nil {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseDiscovery))
		}
		proposalResp, err := deps.AI.Evaluate(ctx, ai.Request{
			Task:  "为该职位撰写一份简短的投标提案",
			Brief: jobBrief(listing),
		})
		if err != nil {
			return nil, err
		}
		amount := listing.Budget * defaultBidDiscount
		bid, err := deps.Platform.SubmitBid(ctx, listing.JobID, amount, proposalResp.Notes)
		if err != nil {
			return nil, err
		}
		return &saga.Result{
			Record: saga.Record{
				Bid: &saga.BidResult{
					BidID:    bid.BidID,
					Amount:   bid.Amount,
					Proposal: proposalResp.Notes,
				},
			},
		}, nil
	}
}

func biddingCompensator(deps Deps) saga.CompensatorFunc {
	return func(ctx context.Context, _ saga.Input, rec saga.Record) (string, error) {
		if rec.Bid == nil || rec.Bid.BidID == "" {
			return "no bid to withdraw", nil
		}
		if err := deps.Platform.WithdrawBid(ctx, rec.Bid.BidID); err != nil {
			return "", err
		}
		return "bid " + rec.Bid.BidID + " withdrawn", nil
	}
}

func contractHandler(deps Deps) saga.HandlerFunc {
	return func(ctx context.Context, in saga.Input) (*saga.Result, error) {
		bidRec, ok := in.Record(saga.PhaseBidding)
		if !ok || bidRec.Bid == nil {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseBidding))
		}
		contract, err := deps.Platform.SignContract(ctx, bidRec.Bid.BidID)
		if err != nil {
			return nil, err
		}
		return &saga.Result{
			Record: saga.Record{
				Contract: &saga.ContractInfo{
					ContractID: contract.ContractID,
					Terms:      contract.Terms,
					SignedAt:   contract.SignedAt,
				},
			},
		}, nil
	}
}

func contractCompensator(deps Deps) saga.CompensatorFunc {
	return func(ctx context.Context, _ saga.Input, rec saga.Record) (string, error) {
		if rec.Contract == nil || rec.Contract.ContractID == "" {
			return "no contract to void", nil
		}
		if err := deps.Platform.VoidContract(ctx, rec.Contract.ContractID); err != nil {
			return "", err
		}
		return "contract " + rec.Contract.ContractID + " voided", nil
	}
}

func escrowHandler(deps Deps) saga.HandlerFunc {
	return func(ctx context.Context, in saga.Input) (*saga.Result, error) {
		bidRec, okBid := in.Record(saga.PhaseBidding)
		contractRec, okContract := in.Record(saga.PhaseContractSigning)
		if !okBid || bidRec.Bid == nil {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseBidding))
		}
		if !okContract || contractRec.Contract == nil {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseContractSigning))
		}
		hold, err := deps.Payments.HoldEscrow(ctx, payment.EscrowRequest{
			TaskID:     in.TaskID,
			ContractID: contractRec.Contract.ContractID,
			Amount:     bidRec.Bid.Amount,
			Currency:   in.Job.Currency,
		})
		if err != nil {
			if xerrors.RetryableError(err) {
				return nil, err
			}
			// 托管失败而合同已签：必须回滚，不能留下无资金保障的合同。
			return nil, saga.Rollback(err)
		}
		return &saga.Result{
			Record: saga.Record{
				Escrow: &saga.EscrowReceipt{
					EscrowID: hold.EscrowID,
					Amount:   hold.Amount,
					TxRef:    hold.TxRef,
					HeldAt:   hold.HeldAt,
				},
			},
		}, nil
	}
}

func escrowCompensator(deps Deps) saga.CompensatorFunc {
	return func(ctx context.Context, _ saga.Input, rec saga.Record) (string, error) {
		if rec.Escrow == nil || rec.Escrow.EscrowID == "" {
			return "no escrow to refund", nil
		}
		return deps.Payments.RefundEscrow(ctx, rec.Escrow.EscrowID)
	}
}

func executionHandler(deps Deps) saga.HandlerFunc {
	return func(ctx context.Context, in saga.Input) (*saga.Result, error) {
		listing := mustListing(in)
		if listing == nil {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseDiscovery))
		}
		resp, err := deps.AI.Evaluate(ctx, ai.Request{
			Task:  "按职位要求完成工作并产出可交付的成果",
			Brief: jobBrief(listing),
		})
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(resp.Notes) == "" {
			return nil, saga.Transient(fmt.Errorf("职位 %s 的执行产出为空", listing.JobID))
		}
		return &saga.Result{
			Record: saga.Record{
				Execution: &saga.ExecutionOutput{
					Artifact: resp.Notes,
					Summary:  resp.Verdict,
				},
			},
		}, nil
	}
}

func qualityHandler(deps Deps) saga.HandlerFunc {
	return func(ctx context.Context, in saga.Input) (*saga.Result, error) {
		listing := mustListing(in)
		if listing == nil {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseDiscovery))
		}
		artifact := latestArtifact(in)
		if artifact == "" {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseExecution))
		}
		resp, err := deps.AI.Evaluate(ctx, ai.Request{
			Task:     "审查成果是否满足职位要求，列出需要修正的问题",
			Brief:    jobBrief(listing),
			Artifact: artifact,
		})
		if err != nil {
			return nil, err
		}
		report := &saga.QualityReport{
			Passed: resp.Score >= deps.QualityThreshold,
			Score:  resp.Score,
			Issues: resp.Issues,
		}
		return &saga.Result{
			Record: saga.Record{Quality: report},
			Branch: saga.PhaseResult{QualityPassed: report.Passed},
		}, nil
	}
}

func revisionHandler(deps Deps) saga.HandlerFunc {
	return func(ctx context.Context, in saga.Input) (*saga.Result, error) {
		listing := mustListing(in)
		if listing == nil {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseDiscovery))
		}
		artifact := latestArtifact(in)
		if artifact == "" {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseExecution))
		}
		instructions := ""
		round := 1
		if qualityRec, ok := in.Record(saga.PhaseQualityCheck); ok && qualityRec.Quality != nil {
			instructions = strings.Join(qualityRec.Quality.Issues, "; ")
		}
		if prev, ok := in.Record(saga.PhaseRevision); ok && prev.Revision != nil {
			round = prev.Revision.Round + 1
		}
		resp, err := deps.AI.Evaluate(ctx, ai.Request{
			Task:     "根据质检意见修订成果: " + instructions,
			Brief:    jobBrief(listing),
			Artifact: artifact,
		})
		if err != nil {
			return nil, err
		}
		revised := strings.TrimSpace(resp.Notes)
		if revised == "" {
			revised = artifact
		}
		return &saga.Result{
			Record: saga.Record{
				Revision: &saga.RevisionNote{
					Round:        round,
					Instructions: instructions,
					Artifact:     revised,
				},
			},
		}, nil
	}
}

func deliveryHandler(deps Deps) saga.HandlerFunc {
	return func(ctx context.Context, in saga.Input) (*saga.Result, error) {
		contractRec, ok := in.Record(saga.PhaseContractSigning)
		if !ok || contractRec.Contract == nil {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseContractSigning))
		}
		artifact := latestArtifact(in)
		if artifact == "" {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseExecution))
		}
		delivery, err := deps.Platform.UploadDelivery(ctx, contractRec.Contract.ContractID, artifact)
		if err != nil {
			return nil, err
		}
		return &saga.Result{
			Record: saga.Record{
				Delivery: &saga.DeliveryReceipt{
					DeliveryID:  delivery.DeliveryID,
					URL:         delivery.URL,
					DeliveredAt: delivery.DeliveredAt,
				},
			},
		}, nil
	}
}

func releaseHandler(deps Deps) saga.HandlerFunc {
	return func(ctx context.Context, in saga.Input) (*saga.Result, error) {
		escrowRec, ok := in.Record(saga.PhasePaymentEscrow)
		if !ok || escrowRec.Escrow == nil {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhasePaymentEscrow))
		}
		release, err := deps.Payments.ReleasePayment(ctx, payment.ReleaseRequest{
			EscrowID: escrowRec.Escrow.EscrowID,
			Payee:    deps.Payee,
			Amount:   escrowRec.Escrow.Amount,
		})
		if err != nil {
			if xerrors.RetryableError(err) {
				return nil, err
			}
			// 交付已完成却放不了款，必须整体回滚退款。
			return nil, saga.Rollback(err)
		}
		return &saga.Result{
			Record: saga.Record{
				Payment: &saga.PaymentReceipt{
					PaymentID:  release.PaymentID,
					Amount:     release.Amount,
					ReleasedAt: release.ReleasedAt,
				},
			},
		}, nil
	}
}

func feedbackHandler(deps Deps) saga.HandlerFunc {
	return func(ctx context.Context, in saga.Input) (*saga.Result, error) {
		contractRec, ok := in.Record(saga.PhaseContractSigning)
		if !ok || contractRec.Contract == nil {
			return nil, saga.Rollback(missingRecord(in.Phase, saga.PhaseContractSigning))
		}
		rating := defaultRating
		comment := "pleasure working together"
		if qualityRec, ok := in.Record(saga.PhaseQualityCheck); ok && qualityRec.Quality != nil {
			if qualityRec.Quality.Score < 0.9 {
				rating = 4
			}
			comment = fmt.Sprintf("delivered with quality score %.2f", qualityRec.Quality.Score)
		}
		if err := deps.Platform.PostFeedback(ctx, contractRec.Contract.ContractID, rating, comment); err != nil {
			return nil, err
		}
		return &saga.Result{
			Record: saga.Record{
				Feedback: &saga.FeedbackEntry{
					Rating:  rating,
					Comment: comment,
				},
			},
		}, nil
	}
}

func mustListing(in saga.Input) *saga.JobListing {
	rec, ok := in.Record(saga.PhaseDiscovery)
	if !ok || rec.Listing == nil {
		return nil
	}
	return rec.Listing
}

// latestArtifact 优先取修订后的成果，没有返工时取首次执行的产出。
func latestArtifact(in saga.Input) string {
	if rec, ok := in.Record(saga.PhaseRevision); ok && rec.Revision != nil && rec.Revision.Artifact != "" {
		return rec.Revision.Artifact
	}
	if rec, ok := in.Record(saga.PhaseExecution); ok && rec.Execution != nil {
		return rec.Execution.Artifact
	}
	return ""
}

func missingRecord(current, missing saga.Phase) error {
	return fmt.Errorf("阶段 %s 缺少前序阶段 %s 的载荷", current, missing)
}

func jobBrief(listing *saga.JobListing) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("职位: %s\n", listing.Title))
	builder.WriteString(fmt.Sprintf("预算: %.2f %s\n", listing.Budget, listing.Currency))
	if listing.Description != "" {
		builder.WriteString("描述: " + listing.Description + "\n")
	}
	return builder.String()
}
