package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jackalopes/pkg/core"
)

func TestSnapshotBufferAppend(t *testing.T) {
	b := NewSnapshotBuffer(8)

	players := map[int32]Pose{1: {Position: core.Vec3{X: 1, Y: 1}}}
	s1 := b.Append(100, players, nil)
	assert.Equal(t, uint64(1), s1.Sequence)
	assert.Equal(t, int64(100), s1.Timestamp)

	// players 是拷贝，外部修改不串
	players[1] = Pose{Position: core.Vec3{X: 99}}
	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, core.Vec3{X: 1, Y: 1}, latest.Players[1].Position)

	// 时间戳不回退：早于上一条时收敛
	s2 := b.Append(50, nil, nil)
	assert.Equal(t, uint64(2), s2.Sequence)
	assert.Equal(t, int64(100), s2.Timestamp)

	s3 := b.Append(200, nil, nil)
	assert.Equal(t, uint64(3), s3.Sequence)
	assert.Equal(t, int64(200), s3.Timestamp)
}

func TestSnapshotBufferEvictsOldest(t *testing.T) {
	b := NewSnapshotBuffer(4)
	for i := 0; i < 10; i++ {
		b.Append(int64(i*100), nil, nil)
	}

	assert.Equal(t, 4, b.Len())
	snaps := b.Snapshots()
	// 序号跨淘汰仍然严格递增
	assert.Equal(t, uint64(7), snaps[0].Sequence)
	assert.Equal(t, uint64(10), snaps[3].Sequence)
}

func TestSnapshotAt(t *testing.T) {
	b := NewSnapshotBuffer(8)

	_, _, _, ok := b.SnapshotAt(100)
	assert.False(t, ok)

	b.Append(100, nil, nil)
	b.Append(200, nil, nil)
	b.Append(300, nil, nil)

	// 区间内：包夹快照 + 按比例的插值因子
	before, after, alpha, ok := b.SnapshotAt(150)
	require.True(t, ok)
	assert.Equal(t, int64(100), before.Timestamp)
	assert.Equal(t, int64(200), after.Timestamp)
	assert.InDelta(t, 0.5, alpha, 1e-9)

	before, after, alpha, ok = b.SnapshotAt(275)
	require.True(t, ok)
	assert.Equal(t, int64(200), before.Timestamp)
	assert.Equal(t, int64(300), after.Timestamp)
	assert.InDelta(t, 0.75, alpha, 1e-9)

	// 历史边界之外：两条同为边界快照，因子为 0
	before, after, alpha, ok = b.SnapshotAt(50)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(100), before.Timestamp)
	assert.Zero(t, alpha)

	before, after, alpha, ok = b.SnapshotAt(999)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(300), before.Timestamp)
	assert.Zero(t, alpha)
}

func TestInterpolatorPoseAt(t *testing.T) {
	b := NewSnapshotBuffer(8)
	ip := NewInterpolator(b)

	b.Append(1000, map[int32]Pose{2: {Position: core.Vec3{X: 0, Y: 1}, Rotation: core.QuatFromYaw(0)}}, nil)
	b.Append(1100, map[int32]Pose{2: {Position: core.Vec3{X: 2, Y: 1}, Rotation: core.QuatFromYaw(0.2)}}, nil)

	// 渲染时间 = now - 延迟，落在两条快照正中
	pose, ok := ip.PoseAt(1050+core.InterpolationDelayMs, 2)
	require.True(t, ok)
	assert.InDelta(t, 1.0, pose.Position.X, 1e-9)

	// 缺席玩家
	_, ok = ip.PoseAt(1050+core.InterpolationDelayMs, 7)
	assert.False(t, ok)
}

// 位移超过瞬移阈值时直接吸附到新位置，不插值穿行
func TestInterpolatorTeleportSnaps(t *testing.T) {
	b := NewSnapshotBuffer(8)
	ip := NewInterpolator(b)

	b.Append(1000, map[int32]Pose{2: {Position: core.Vec3{X: 0, Y: 1}}}, nil)
	b.Append(1100, map[int32]Pose{2: {Position: core.Vec3{X: 50, Y: 1}}}, nil)

	pose, ok := ip.PoseAt(1050+core.InterpolationDelayMs, 2)
	require.True(t, ok)
	assert.Equal(t, core.Vec3{X: 50, Y: 1}, pose.Position)

	// 阈值以内恢复插值
	ip.SetTeleportThreshold(100)
	pose, ok = ip.PoseAt(1050+core.InterpolationDelayMs, 2)
	require.True(t, ok)
	assert.InDelta(t, 25, pose.Position.X, 1e-9)
}

// 玩家只出现在一侧快照时直接取该侧位姿
func TestInterpolatorPartialPresence(t *testing.T) {
	b := NewSnapshotBuffer(8)
	ip := NewInterpolator(b)

	b.Append(1000, map[int32]Pose{}, nil)
	b.Append(1100, map[int32]Pose{2: {Position: core.Vec3{X: 3, Y: 1}}}, nil)

	pose, ok := ip.PoseAt(1050+core.InterpolationDelayMs, 2)
	require.True(t, ok)
	assert.Equal(t, core.Vec3{X: 3, Y: 1}, pose.Position)
}
