package client

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"jackalopes/pkg/core"
	"jackalopes/pkg/protocol"
)

// EventSender 事件出口：传输通道就绪时走中继，否则退化到离线总线
type EventSender interface {
	Ready() bool
	SendEvent(msg any) error
}

// Projectile 被追踪的投射物（纯运动学，位置由出生点外推）
type Projectile struct {
	ShotID    string
	OwnerID   int32
	Origin    core.Vec3
	Direction core.Vec3
	SpawnedAt int64 // 毫秒时间戳
	Done      bool  // 首次命中后置位，不再参与判定
}

// PositionAt 投射物在 nowMs 时刻的位置
func (p *Projectile) PositionAt(nowMs int64) core.Vec3 {
	elapsed := float64(nowMs-p.SpawnedAt) / 1000
	return p.Origin.Add(p.Direction.Scale(core.ProjectileSpeed * elapsed))
}

// Expired 投射物是否超出存活时间
func (p *Projectile) Expired(nowMs int64) bool {
	return float64(nowMs-p.SpawnedAt)/1000 > core.ProjectileLifetime
}

// ShotSync 射击/命中同步器
// 本地开火广播给包括自己在内的所有参与者，自己的渲染路径与远端
// 观察者完全一致；接收侧按组合键去重后才生成投射物。
// 命中探测在每个客户端独立轮询，同一投射物至多产生一次命中
type ShotSync struct {
	mu sync.Mutex

	originID int32

	transport EventSender
	offline   *OfflineBus // 可为 nil

	seen      map[string]struct{}
	seenOrder []string

	projectiles []*Projectile

	// 被追踪目标的位置来源（含本地玩家）
	targets func() map[int32]core.Vec3

	onSpawn func(*Projectile)
	onHit   func(*protocol.Hit)
}

// NewShotSync 创建同步器
func NewShotSync(transport EventSender, offline *OfflineBus, targets func() map[int32]core.Vec3) *ShotSync {
	return &ShotSync{
		originID:  -1,
		transport: transport,
		offline:   offline,
		seen:      make(map[string]struct{}),
		targets:   targets,
	}
}

// SetOriginID 绑定本地玩家身份（连接建立后调用）
func (s *ShotSync) SetOriginID(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.originID = id
}

// OnSpawn 设置投射物生成回调（渲染层接）
func (s *ShotSync) OnSpawn(fn func(*Projectile)) {
	s.onSpawn = fn
}

// OnHit 设置命中回调
func (s *ShotSync) OnHit(fn func(*protocol.Hit)) {
	s.onHit = fn
}

// Fire 本地开火
// shotID 缺省时由客户端生成；传输未就绪时退化到离线总线，
// 并就地走一遍接收路径保证本窗口也能看到自己的射击
func (s *ShotSync) Fire(origin, direction core.Vec3, shotID string) *protocol.Shoot {
	s.mu.Lock()
	originID := s.originID
	s.mu.Unlock()

	if shotID == "" {
		shotID = fmt.Sprintf("shot_%d_%04d", time.Now().UnixMilli(), rand.Intn(10000))
	}

	ev := protocol.NewShoot(shotID, originID, origin, direction.Normalize(), time.Now().UnixMilli())

	if s.transport != nil && s.transport.Ready() {
		if err := s.transport.SendEvent(ev); err != nil {
			log.Warn().Err(err).Msg("发送射击事件失败")
		}
		// 中继会把事件扇回给自己，本地生成等回包，路径与远端一致
		return ev
	}

	// 离线兜底：共享事件总线广播给本机其他窗口
	if s.offline != nil {
		if err := s.offline.Publish(ev); err != nil {
			log.Warn().Err(err).Msg("离线总线发布失败")
		}
	}
	s.HandleShoot(ev)
	return ev
}

// HandleShoot 处理一条射击事件（本地或远端）
// 去重命中时返回 false；撞键只是显示毛刺，不做任何补偿
func (s *ShotSync) HandleShoot(ev *protocol.Shoot) bool {
	key := dedupKey(ev)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	s.seenOrder = append(s.seenOrder, key)
	if len(s.seenOrder) > core.ShotDedupCapacity {
		oldest := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seen, oldest)
	}

	proj := &Projectile{
		ShotID:    ev.ShotID,
		OwnerID:   ev.ID,
		Origin:    ev.Origin,
		Direction: ev.Direction.Normalize(),
		SpawnedAt: ev.Timestamp,
	}
	s.projectiles = append(s.projectiles, proj)

	if s.onSpawn != nil {
		s.onSpawn(proj)
	}
	return true
}

// HandleHit 处理远端传来的命中事件
func (s *ShotSync) HandleHit(ev *protocol.Hit) {
	if s.onHit != nil {
		s.onHit(ev)
	}
}

// Poll 命中轮询（固定间隔调用，不必每帧）
// 距离低于命中半径即命中；投射物首次命中后停止检测。
// 只有本地玩家拥有的投射物才把命中上报权威侧，远端投射物的
// 命中由其主人上报，这里只做本地显示停判
func (s *ShotSync) Poll(nowMs int64) []*protocol.Hit {
	s.mu.Lock()
	defer s.mu.Unlock()

	var targets map[int32]core.Vec3
	if s.targets != nil {
		targets = s.targets()
	}

	var hits []*protocol.Hit
	kept := s.projectiles[:0]
	for _, proj := range s.projectiles {
		if proj.Expired(nowMs) {
			continue
		}
		if !proj.Done {
			pos := proj.PositionAt(nowMs)
			for id, target := range targets {
				if id == proj.OwnerID {
					continue
				}
				if core.Distance(pos, target) < core.HitRadius {
					proj.Done = true
					if proj.OwnerID == s.originID {
						hit := protocol.NewHit(id, proj.OwnerID, nowMs)
						hits = append(hits, hit)
					}
					break
				}
			}
		}
		kept = append(kept, proj)
	}
	s.projectiles = kept

	for _, hit := range hits {
		s.forwardHit(hit)
		if s.onHit != nil {
			s.onHit(hit)
		}
	}
	return hits
}

// Projectiles 在途投射物数量
func (s *ShotSync) Projectiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.projectiles)
}

// forwardHit 把命中事件送往权威侧，传输未就绪时走离线总线
func (s *ShotSync) forwardHit(hit *protocol.Hit) {
	if s.transport != nil && s.transport.Ready() {
		if err := s.transport.SendEvent(hit); err != nil {
			log.Warn().Err(err).Msg("发送命中事件失败")
		}
		return
	}
	if s.offline != nil {
		if err := s.offline.Publish(hit); err != nil {
			log.Warn().Err(err).Msg("离线总线发布失败")
		}
	}
}

// dedupKey 去重组合键
// 有 shotId 时取 originId|shotId；缺省时退化为
// originId|取整后的出生点|100ms 时间桶
func dedupKey(ev *protocol.Shoot) string {
	if ev.ShotID != "" {
		return fmt.Sprintf("%d|%s", ev.ID, ev.ShotID)
	}
	return fmt.Sprintf("%d|%.0f,%.0f,%.0f|%d",
		ev.ID,
		math.Round(ev.Origin.X), math.Round(ev.Origin.Y), math.Round(ev.Origin.Z),
		ev.Timestamp/100)
}
