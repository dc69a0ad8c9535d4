package client

import (
	"sync"

	"jackalopes/pkg/core"
)

// Pose 单个玩家的位置与朝向
type Pose struct {
	Position core.Vec3
	Rotation core.Quat
}

// SnapshotEvent 快照里随带的在途事件
type SnapshotEvent struct {
	Type      string
	Timestamp int64
	Payload   any
}

// Snapshot 一次世界状态采样
// 缓冲内序号严格递增，时间戳不回退
type Snapshot struct {
	Sequence  uint64
	Timestamp int64
	Players   map[int32]Pose
	Events    []SnapshotEvent
}

// SnapshotBuffer 只追加、容量有界的快照环形历史
// 供远端插值与调试回看使用，溢出时淘汰最旧
type SnapshotBuffer struct {
	mu       sync.Mutex
	entries  []Snapshot
	capacity int
	nextSeq  uint64
	lastTs   int64
}

// NewSnapshotBuffer 创建快照缓冲
func NewSnapshotBuffer(capacity int) *SnapshotBuffer {
	if capacity <= 0 {
		capacity = core.SnapshotBufferCapacity
	}
	return &SnapshotBuffer{
		entries:  make([]Snapshot, 0, capacity),
		capacity: capacity,
		nextSeq:  1,
	}
}

// Append 追加一次采样，返回落盘后的快照
// players 会被拷贝；时间戳早于上一条时收敛到上一条，保证不回退
func (b *SnapshotBuffer) Append(timestamp int64, players map[int32]Pose, events []SnapshotEvent) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	if timestamp < b.lastTs {
		timestamp = b.lastTs
	}
	b.lastTs = timestamp

	copied := make(map[int32]Pose, len(players))
	for id, pose := range players {
		copied[id] = pose
	}

	snap := Snapshot{
		Sequence:  b.nextSeq,
		Timestamp: timestamp,
		Players:   copied,
		Events:    append([]SnapshotEvent(nil), events...),
	}
	b.nextSeq++

	b.entries = append(b.entries, snap)
	if len(b.entries) > b.capacity {
		b.entries = b.entries[1:]
	}

	return snap
}

// Len 当前保留的快照数
func (b *SnapshotBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Latest 最新快照
func (b *SnapshotBuffer) Latest() (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return Snapshot{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// Snapshots 历史的一份拷贝（调试回看用）
func (b *SnapshotBuffer) Snapshots() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Snapshot(nil), b.entries...)
}

// SnapshotAt 时间索引查找
// 返回包夹 t 的两条快照与插值因子；t 落在历史边界之外时
// 两条同为最近的边界快照、因子为 0；缓冲为空时 ok 为 false
func (b *SnapshotBuffer) SnapshotAt(timestamp int64) (before, after Snapshot, alpha float64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return Snapshot{}, Snapshot{}, 0, false
	}

	first := b.entries[0]
	last := b.entries[len(b.entries)-1]
	if timestamp <= first.Timestamp {
		return first, first, 0, true
	}
	if timestamp >= last.Timestamp {
		return last, last, 0, true
	}

	for i := 0; i < len(b.entries)-1; i++ {
		a, c := b.entries[i], b.entries[i+1]
		if a.Timestamp <= timestamp && timestamp <= c.Timestamp {
			span := float64(c.Timestamp - a.Timestamp)
			if span <= 0 {
				return a, c, 0, true
			}
			return a, c, float64(timestamp-a.Timestamp) / span, true
		}
	}

	// 时间戳不回退的前提下走不到这里
	return last, last, 0, true
}

// Interpolator 远端玩家插值
// 用固定的小渲染延迟换平滑：显示时间滞后于接收时间，
// 在两条快照间线性插值；位移超过瞬移阈值时直接吸附
type Interpolator struct {
	buf               *SnapshotBuffer
	delayMs           int64
	teleportThreshold float64
}

// NewInterpolator 创建插值器
func NewInterpolator(buf *SnapshotBuffer) *Interpolator {
	return &Interpolator{
		buf:               buf,
		delayMs:           core.InterpolationDelayMs,
		teleportThreshold: core.TeleportThreshold,
	}
}

// SetTeleportThreshold 设置瞬移判定阈值（单位）
func (ip *Interpolator) SetTeleportThreshold(threshold float64) {
	ip.teleportThreshold = threshold
}

// PoseAt 求某玩家在 nowMs 时刻应显示的位姿
func (ip *Interpolator) PoseAt(nowMs int64, playerID int32) (Pose, bool) {
	renderTime := nowMs - ip.delayMs

	before, after, alpha, ok := ip.buf.SnapshotAt(renderTime)
	if !ok {
		return Pose{}, false
	}

	pa, okA := before.Players[playerID]
	pb, okB := after.Players[playerID]
	switch {
	case !okA && !okB:
		return Pose{}, false
	case !okA:
		return pb, true
	case !okB:
		return pa, true
	}

	// 大位移按瞬移处理，插值只会造成穿行拖影
	if core.Distance(pa.Position, pb.Position) > ip.teleportThreshold {
		return pb, true
	}

	return Pose{
		Position: core.Lerp(pa.Position, pb.Position, alpha),
		Rotation: core.Slerp(pa.Rotation, pb.Rotation, alpha),
	}, true
}
