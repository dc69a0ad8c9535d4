package client

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jackalopes/pkg/core"
	"jackalopes/pkg/protocol"
)

// 移动消息上报上限（每秒），独立于物理步进频率
const updateSendRate = 20

// PredictedState 一次预测步进的产物
// 序号单调递增，短暂保留用于与权威回传比对
type PredictedState struct {
	Position   core.Vec3
	Rotation   core.Quat
	Velocity   core.Vec3
	Sequence   uint64
	CapturedAt time.Time
}

// pendingCorrection 待消费的纠偏
// 不立即吸附：留到下一次预测步进时向权威位置插值，避免画面跳变
type pendingCorrection struct {
	target   core.Vec3
	strength float64
	valid    bool
}

// Predictor 移动预测器
// 每个物理步进把本地输入积分成新状态并立即可用，完全不等网络；
// 上报经限流器约束带宽。积分器无隐藏随机量，相同输入得到相同轨迹
type Predictor struct {
	mu      sync.Mutex
	state   core.State
	yaw     float64
	seq     uint64
	pending pendingCorrection

	history []PredictedState // 未确认状态的环形保留

	limiter *rate.Limiter
	send    func(*protocol.ClientUpdate) // 可为 nil（纯本地模式）
}

// NewPredictor 创建预测器，send 为移动消息出口
func NewPredictor(send func(*protocol.ClientUpdate)) *Predictor {
	return &Predictor{
		state:   core.NewState(),
		history: make([]PredictedState, 0, core.PredictionHistoryEntries),
		limiter: rate.NewLimiter(rate.Limit(updateSendRate), 1),
		send:    send,
	}
}

// SetYaw 设置朝向（弧度），来自外部视角输入
func (p *Predictor) SetYaw(yaw float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.yaw = yaw
}

// State 当前预测状态
func (p *Predictor) State() core.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Step 执行一个预测步进
// 顺序：积分 → 消费待定纠偏 → 记序号 → 限流上报
func (p *Predictor) Step(in core.Intent, dt float64) PredictedState {
	p.mu.Lock()

	s := core.Step(p.state, in, p.yaw, dt)

	if p.pending.valid {
		s.Position = core.Lerp(s.Position, p.pending.target, p.pending.strength)
		p.pending = pendingCorrection{}
	}

	p.state = s
	p.seq++

	predicted := PredictedState{
		Position:   s.Position,
		Rotation:   s.Rotation,
		Velocity:   s.Velocity,
		Sequence:   p.seq,
		CapturedAt: time.Now(),
	}
	p.retain(predicted)

	shouldSend := p.send != nil && p.limiter.Allow()
	p.mu.Unlock()

	if shouldSend {
		p.send(protocol.NewClientUpdate(s.Position, s.Rotation, s.Velocity, predicted.Sequence))
	}

	return predicted
}

// ScheduleCorrection 安排一次纠偏，下个步进消费
// 未消费前再来新纠偏时取较强者，纠偏从不叠加
func (p *Predictor) ScheduleCorrection(target core.Vec3, strength float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.valid && p.pending.strength >= strength {
		return
	}
	p.pending = pendingCorrection{target: target, strength: strength, valid: true}
}

// PendingStrength 当前待定纠偏强度，无纠偏时为 0
func (p *Predictor) PendingStrength() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pending.valid {
		return 0
	}
	return p.pending.strength
}

// Lookup 按序号查找保留的预测状态
func (p *Predictor) Lookup(seq uint64) (PredictedState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.history) - 1; i >= 0; i-- {
		if p.history[i].Sequence == seq {
			return p.history[i], true
		}
	}
	return PredictedState{}, false
}

// retain 保留预测状态，超限丢最旧
func (p *Predictor) retain(ps PredictedState) {
	p.history = append(p.history, ps)
	if len(p.history) > core.PredictionHistoryEntries {
		p.history = p.history[len(p.history)-core.PredictionHistoryEntries:]
	}
}
