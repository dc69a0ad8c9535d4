package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jackalopes/pkg/core"
	"jackalopes/pkg/protocol"
)

func TestPredictorDeterministic(t *testing.T) {
	run := func() core.State {
		p := NewPredictor(nil)
		for i := 0; i < 200; i++ {
			p.SetYaw(float64(i) * 0.01)
			in := core.Intent{Forward: true, Sprint: i%3 == 0, Jump: i%60 == 0}
			p.Step(in, core.FixedDeltaTime)
		}
		return p.State()
	}

	assert.Equal(t, run(), run())
}

func TestPredictorSequenceAndHistory(t *testing.T) {
	p := NewPredictor(nil)

	var last uint64
	for i := 0; i < 10; i++ {
		ps := p.Step(core.Intent{Forward: true}, core.FixedDeltaTime)
		assert.Greater(t, ps.Sequence, last)
		last = ps.Sequence
	}

	got, ok := p.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, uint64(5), got.Sequence)

	_, ok = p.Lookup(999)
	assert.False(t, ok)

	// 保留超限后最旧的序号被淘汰
	for i := 0; i < core.PredictionHistoryEntries+10; i++ {
		p.Step(core.Intent{}, core.FixedDeltaTime)
	}
	_, ok = p.Lookup(1)
	assert.False(t, ok)
	_, ok = p.Lookup(last + uint64(core.PredictionHistoryEntries))
	assert.True(t, ok)
}

// 上报限流独立于步进频率：一轮密集步进只放行极少量消息
func TestPredictorSendRateLimited(t *testing.T) {
	var sent []*protocol.ClientUpdate
	p := NewPredictor(func(u *protocol.ClientUpdate) {
		sent = append(sent, u)
	})

	for i := 0; i < 200; i++ {
		p.Step(core.Intent{Forward: true}, core.FixedDeltaTime)
	}

	require.NotEmpty(t, sent)
	assert.LessOrEqual(t, len(sent), 5)

	// 上报携带当时的预测序号
	assert.NotZero(t, sent[0].Sequence)
	assert.Equal(t, protocol.MsgPlayerUpdate, sent[0].Type)
}

func TestPredictorCorrectionConsumedOnce(t *testing.T) {
	p := NewPredictor(nil)
	p.Step(core.Intent{}, core.FixedDeltaTime)

	target := core.Vec3{X: 10, Y: 1, Z: 0}
	p.ScheduleCorrection(target, 0.5)
	assert.InDelta(t, 0.5, p.PendingStrength(), 1e-9)

	before := p.State().Position
	ps := p.Step(core.Intent{}, core.FixedDeltaTime)

	// 向目标拉近一半
	assert.InDelta(t, before.X+(target.X-before.X)*0.5, ps.Position.X, 1e-9)

	// 纠偏只消费一次
	assert.Zero(t, p.PendingStrength())
	next := p.Step(core.Intent{}, core.FixedDeltaTime)
	assert.InDelta(t, ps.Position.X, next.Position.X, 1e-9)
}

// 未消费前的新纠偏取较强者，从不叠加
func TestPredictorCorrectionStrongerWins(t *testing.T) {
	p := NewPredictor(nil)

	p.ScheduleCorrection(core.Vec3{X: 1}, 0.3)
	p.ScheduleCorrection(core.Vec3{X: 2}, 0.1)
	assert.InDelta(t, 0.3, p.PendingStrength(), 1e-9)

	p.ScheduleCorrection(core.Vec3{X: 3}, 0.6)
	assert.InDelta(t, 0.6, p.PendingStrength(), 1e-9)
}
