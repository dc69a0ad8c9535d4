package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"jackalopes/pkg/core"
	"jackalopes/pkg/protocol"
)

// IntentProvider 每个物理步进采样一次本地输入与朝向
type IntentProvider func() (core.Intent, float64)

// GameClient 客户端核心的装配体
// 固定步进的预测循环与网络收包解耦：权威回传、快照只会登记
// 待处理项，在下一步进被消费，步进循环从不等网络
type GameClient struct {
	network    *NetworkClient
	predictor  *Predictor
	reconciler *Reconciler
	snapshots  *SnapshotBuffer
	interp     *Interpolator
	shots      *ShotSync
	offline    *OfflineBus

	intent IntentProvider

	mu          sync.Mutex
	remotePoses map[int32]Pose
	pendingEvs  []SnapshotEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGameClient 装配客户端核心
// network 可为 nil（纯离线模式）；offline 可为 nil（不要兜底路径）
func NewGameClient(network *NetworkClient, offline *OfflineBus, intent IntentProvider) *GameClient {
	ctx, cancel := context.WithCancel(context.Background())

	gc := &GameClient{
		network:     network,
		reconciler:  NewReconciler(),
		snapshots:   NewSnapshotBuffer(core.SnapshotBufferCapacity),
		offline:     offline,
		intent:      intent,
		remotePoses: make(map[int32]Pose),
		ctx:         ctx,
		cancel:      cancel,
	}
	gc.interp = NewInterpolator(gc.snapshots)

	var transport EventSender
	if network != nil {
		transport = network
	}
	gc.shots = NewShotSync(transport, offline, gc.targetPositions)

	var send func(*protocol.ClientUpdate)
	if network != nil {
		send = func(u *protocol.ClientUpdate) {
			if err := network.SendEvent(u); err != nil {
				// 预测从不因传输不可用而停摆，发不出去就丢
				log.Debug().Err(err).Msg("移动上报未送出")
			}
		}
	}
	gc.predictor = NewPredictor(send)

	return gc
}

// Run 启动步进循环与命中轮询，阻塞到 Stop
func (gc *GameClient) Run() {
	gc.wg.Add(1)
	go gc.stepLoop()

	gc.wg.Add(1)
	go gc.hitPollLoop()

	gc.wg.Wait()
}

// Stop 停止客户端核心
func (gc *GameClient) Stop() {
	gc.cancel()
}

// Predictor 本地预测器
func (gc *GameClient) Predictor() *Predictor {
	return gc.predictor
}

// Snapshots 快照缓冲（调试回看）
func (gc *GameClient) Snapshots() *SnapshotBuffer {
	return gc.snapshots
}

// Interpolator 远端插值器
func (gc *GameClient) Interpolator() *Interpolator {
	return gc.interp
}

// Shots 射击同步器
func (gc *GameClient) Shots() *ShotSync {
	return gc.shots
}

// Fire 本地开火（朝当前朝向）
func (gc *GameClient) Fire(direction core.Vec3) *protocol.Shoot {
	return gc.shots.Fire(gc.predictor.State().Position, direction, "")
}

// stepLoop 固定步进预测循环
func (gc *GameClient) stepLoop() {
	defer gc.wg.Done()

	ticker := time.NewTicker(time.Second / core.TPS)
	defer ticker.Stop()

	for {
		select {
		case <-gc.ctx.Done():
			return
		case <-ticker.C:
			gc.drainNetwork()
			in, yaw := gc.sampleIntent()
			gc.predictor.SetYaw(yaw)
			gc.predictor.Step(in, core.FixedDeltaTime)
		}
	}
}

// hitPollLoop 命中轮询循环（低频，不跟步进走）
func (gc *GameClient) hitPollLoop() {
	defer gc.wg.Done()

	ticker := time.NewTicker(core.HitPollIntervalMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-gc.ctx.Done():
			return
		case <-ticker.C:
			gc.shots.Poll(time.Now().UnixMilli())
		}
	}
}

func (gc *GameClient) sampleIntent() (core.Intent, float64) {
	if gc.intent == nil {
		return core.Intent{}, 0
	}
	return gc.intent()
}

// drainNetwork 消化一轮网络与离线总线消息
func (gc *GameClient) drainNetwork() {
	if gc.network != nil {
		gc.drainTransport()
	}
	if gc.offline != nil {
		gc.drainOffline()
	}
	gc.flushEvents()
}

// flushEvents 把积压的在途事件落进快照
// 没有远端广播时（比如单人在线，事件只有中继扇回的自己的射击）
// 也要成快照，事件不得在队列里无限堆积
func (gc *GameClient) flushEvents() {
	gc.mu.Lock()
	if len(gc.pendingEvs) == 0 {
		gc.mu.Unlock()
		return
	}
	events := gc.pendingEvs
	gc.pendingEvs = nil
	players := gc.remotePoses
	gc.mu.Unlock()

	gc.snapshots.Append(time.Now().UnixMilli(), players, events)
}

func (gc *GameClient) drainTransport() {
	// 新会话：全量世界落地，旧远端状态作废
	for {
		conn := gc.network.ReceiveConnection()
		if conn == nil {
			break
		}
		gc.shots.SetOriginID(conn.ID)
		gc.mu.Lock()
		gc.remotePoses = make(map[int32]Pose, len(conn.Players))
		for _, ps := range conn.Players {
			gc.remotePoses[ps.ID] = Pose{Position: ps.Position, Rotation: ps.Rotation}
		}
		gc.mu.Unlock()
	}

	// 权威回传：登记纠偏，下一步进消费
	for {
		echo := gc.network.ReceiveEcho()
		if echo == nil {
			break
		}
		gc.reconciler.OnEcho(gc.predictor, echo)
	}

	// 远端广播：更新位姿并追加快照
	for {
		update := gc.network.ReceiveRemote()
		if update == nil {
			break
		}
		gc.mu.Lock()
		gc.remotePoses[update.ID] = Pose{Position: update.Position, Rotation: update.Rotation}
		players := gc.remotePoses
		events := gc.pendingEvs
		gc.pendingEvs = nil
		gc.mu.Unlock()
		gc.snapshots.Append(time.Now().UnixMilli(), players, events)
	}

	for {
		joined := gc.network.ReceivePlayerJoined()
		if joined == nil {
			break
		}
		gc.mu.Lock()
		gc.remotePoses[joined.ID] = Pose{Position: joined.Position, Rotation: joined.Rotation}
		gc.mu.Unlock()
		log.Info().Int32("player", joined.ID).Msg("玩家加入")
	}

	for {
		left := gc.network.ReceivePlayerLeft()
		if left < 0 {
			break
		}
		gc.mu.Lock()
		delete(gc.remotePoses, left)
		gc.mu.Unlock()
		log.Info().Int32("player", left).Msg("玩家离开")
	}

	for {
		shoot := gc.network.ReceiveShoot()
		if shoot == nil {
			break
		}
		if gc.shots.HandleShoot(shoot) {
			gc.queueEvent("shoot", shoot.Timestamp, shoot)
		}
	}

	for {
		hit := gc.network.ReceiveHit()
		if hit == nil {
			break
		}
		gc.shots.HandleHit(hit)
		gc.queueEvent("hit", hit.Timestamp, hit)
	}
}

// drainOffline 消化离线总线上其他本机实例的事件
func (gc *GameClient) drainOffline() {
	for {
		select {
		case data := <-gc.offline.Events():
			gc.handleOfflineEvent(data)
		default:
			return
		}
	}
}

func (gc *GameClient) handleOfflineEvent(data []byte) {
	msgType, err := protocol.PeekType(data)
	if err != nil {
		log.Warn().Err(err).Msg("丢弃异常离线事件")
		return
	}

	switch msgType {
	case protocol.MsgShoot:
		var shoot protocol.Shoot
		if err := protocol.Decode(data, &shoot); err != nil {
			return
		}
		if gc.shots.HandleShoot(&shoot) {
			gc.queueEvent("shoot", shoot.Timestamp, &shoot)
		}
	case protocol.MsgHit:
		var hit protocol.Hit
		if err := protocol.Decode(data, &hit); err != nil {
			return
		}
		gc.shots.HandleHit(&hit)
		gc.queueEvent("hit", hit.Timestamp, &hit)
	}
}

// queueEvent 把在途事件排进下一条快照
func (gc *GameClient) queueEvent(evType string, ts int64, payload any) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.pendingEvs = append(gc.pendingEvs, SnapshotEvent{Type: evType, Timestamp: ts, Payload: payload})
}

// targetPositions 命中判定的目标集：远端玩家位姿 + 本地预测位置
func (gc *GameClient) targetPositions() map[int32]core.Vec3 {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	targets := make(map[int32]core.Vec3, len(gc.remotePoses)+1)
	for id, pose := range gc.remotePoses {
		targets[id] = pose.Position
	}
	if gc.network != nil {
		if id := gc.network.PlayerID(); id > 0 {
			targets[id] = gc.predictor.State().Position
		}
	}
	return targets
}
