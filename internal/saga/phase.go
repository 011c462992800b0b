package saga

// Phase 表示任务生命周期中的一个阶段。
type Phase string

const (
	PhaseDiscovery       Phase = "DISCOVERY"
	PhaseQualification   Phase = "QUALIFICATION"
	PhaseBidding         Phase = "BIDDING"
	PhaseContractSigning Phase = "CONTRACT_SIGNING"
	PhasePaymentEscrow   Phase = "PAYMENT_ESCROW"
	PhaseExecution       Phase = "EXECUTION"
	PhaseQualityCheck    Phase = "QUALITY_CHECK"
	PhaseRevision        Phase = "REVISION"
	PhaseDelivery        Phase = "DELIVERY"
	PhasePaymentRelease  Phase = "PAYMENT_RELEASE"
	PhaseFeedback        Phase = "FEEDBACK"
	PhaseCompleted       Phase = "COMPLETED"
	PhaseFailed          Phase = "FAILED"
	PhaseCancelled       Phase = "CANCELLED"
)

// InitialPhase 是新任务的起始阶段。
const InitialPhase = PhaseDiscovery

// PhaseResult 携带状态机分支判定所需的结构化字段，由阶段处理器填写。
type PhaseResult struct {
	Qualified     bool `json:"qualified,omitempty"`
	QualityPassed bool `json:"quality_passed,omitempty"`
}

// successors 记录各顺序推进阶段的默认后继。分支阶段（QUALIFICATION、
// QUALITY_CHECK）与收尾阶段（FEEDBACK）不在表内，由 NextPhase 单独处理。
var successors = map[Phase]Phase{
	PhaseDiscovery:       PhaseQualification,
	PhaseBidding:         PhaseContractSigning,
	PhaseContractSigning: PhasePaymentEscrow,
	PhasePaymentEscrow:   PhaseExecution,
	PhaseExecution:       PhaseQualityCheck,
	PhaseRevision:        PhaseQualityCheck,
	PhaseDelivery:        PhasePaymentRelease,
	PhasePaymentRelease:  PhaseFeedback,
}

// allPhases 按推进顺序列出全部枚举值，用于校验与遍历。
var allPhases = []Phase{
	PhaseDiscovery,
	PhaseQualification,
	PhaseBidding,
	PhaseContractSigning,
	PhasePaymentEscrow,
	PhaseExecution,
	PhaseQualityCheck,
	PhaseRevision,
	PhaseDelivery,
	PhasePaymentRelease,
	PhaseFeedback,
	PhaseCompleted,
	PhaseFailed,
	PhaseCancelled,
}

// NextPhase 根据当前阶段与处理器产出的结构化结果计算下一个阶段。
// 第二个返回值为 false 时表示任务应从当前阶段干净地收束到 COMPLETED，
// 这是一种正常退出（例如资格审查判定不接单），与失败无关。
// 该函数是纯函数，不做任何 I/O。
func NextPhase(current Phase, result PhaseResult) (Phase, bool) {
	switch current {
	case PhaseQualification:
		if result.Qualified {
			return PhaseBidding, true
		}
		return "", false
	case PhaseQualityCheck:
		if result.QualityPassed {
			return PhaseDelivery, true
		}
		return PhaseRevision, true
	case PhaseFeedback:
		return "", false
	}
	next, ok := successors[current]
	if !ok {
		return "", false
	}
	return next, true
}

// IsTerminal 判断阶段是否为终态。
func IsTerminal(phase Phase) bool {
	switch phase {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// IsValidPhase 检查给定值是否为受支持的阶段枚举。
func IsValidPhase(phase Phase) bool {
	for _, p := range allPhases {
		if p == phase {
			return true
		}
	}
	return false
}

// Phases 返回全部阶段枚举的副本。
func Phases() []Phase {
	out := make([]Phase, len(allPhases))
	copy(out, allPhases)
	return out
}
