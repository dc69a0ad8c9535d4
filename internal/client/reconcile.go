package client

import (
	"github.com/rs/zerolog/log"

	"jackalopes/pkg/core"
	"jackalopes/pkg/protocol"
)

// Reconciler 纠偏混合器
// 消费权威回传并据误差幅度决定混合强度，立即吸附在视觉上太突兀，
// 延迟到下一预测步进的有界插值既藏住时延又保证收敛
type Reconciler struct {
	minorThreshold float64
}

// NewReconciler 创建纠偏混合器（使用默认轻微阈值）
func NewReconciler() *Reconciler {
	return &Reconciler{minorThreshold: core.MinorCorrectionThreshold}
}

// BlendStrength 按误差与大幅纠偏标记计算混合强度
// 大幅纠偏：clamp(误差 × 0.2, 0.1, 0.8)；
// 误差超过轻微阈值：固定小强度，防止长期漂移；
// 其余情况不安排纠偏（误差为零时预测轨迹不得被扰动）
func (r *Reconciler) BlendStrength(positionError float64, major bool) (float64, bool) {
	if major {
		strength := positionError * core.BlendStrengthScale
		if strength < core.BlendStrengthMin {
			strength = core.BlendStrengthMin
		}
		if strength > core.BlendStrengthMax {
			strength = core.BlendStrengthMax
		}
		return strength, true
	}
	if positionError > r.minorThreshold {
		return core.MinorBlendStrength, true
	}
	return 0, false
}

// OnEcho 处理一条权威回传
// 回传序号找不到保留的预测状态（丢包造成的空洞）不致命：
// 当作对当前预测状态的独立纠偏，照常安排混合而不是丢弃
func (r *Reconciler) OnEcho(p *Predictor, echo *protocol.ServerUpdate) {
	if _, ok := p.Lookup(echo.Sequence); !ok {
		log.Debug().Uint64("seq", echo.Sequence).Msg("回传序号无匹配预测状态，按独立纠偏处理")
	}

	strength, ok := r.BlendStrength(echo.PositionError, echo.ServerCorrection)
	if !ok {
		return
	}

	p.ScheduleCorrection(echo.Position, strength)
}
