package server

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"jackalopes/pkg/core"
	"jackalopes/pkg/protocol"
)

// PlayerRecord 服务端持有的每玩家可变记录
// 只被该玩家自己的更新消息修改，断开时销毁
type PlayerRecord struct {
	Position core.Vec3
	Rotation core.Quat
	Health   float64
}

func newPlayerRecord() *PlayerRecord {
	return &PlayerRecord{
		Position: core.SpawnPosition,
		Rotation: core.QuatIdentity(),
		Health:   core.DefaultHealth,
	}
}

// Relay 权威中继
// 权威是簿记式的：信任客户端位置，只计算与上次存储位置的位移幅度，
// 不做独立物理模拟。逻辑状态单线程：所有入站消息在一个循环里处理完
// 才处理下一条，同一玩家的两次更新不会竞争
type Relay struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg  *Config
	mode core.AuthorityMode
	sim  *Simulator

	records  map[int32]*PlayerRecord
	sessions map[int32]Session
	lastSeq  map[int32]uint64

	nextPlayerID int32

	joinCh  chan joinRequest
	eventCh chan relayEvent
	leaveCh chan int32
}

type joinRequest struct {
	sess   Session
	respCh chan error
}

type relayEvent struct {
	playerID int32
	event    *ServerEvent
}

// NewRelay 创建中继
func NewRelay(parent context.Context, cfg *Config, sim *Simulator) *Relay {
	ctx, cancel := context.WithCancel(parent)

	return &Relay{
		ctx:          ctx,
		cancel:       cancel,
		cfg:          cfg,
		mode:         core.AuthorityTrustClient,
		sim:          sim,
		records:      make(map[int32]*PlayerRecord),
		sessions:     make(map[int32]Session),
		lastSeq:      make(map[int32]uint64),
		nextPlayerID: 1,
		joinCh:       make(chan joinRequest),
		eventCh:      make(chan relayEvent, 256),
		leaveCh:      make(chan int32, 256),
	}
}

// Run 中继循环
func (r *Relay) Run(wg *sync.WaitGroup) {
	defer wg.Done()

	log.Info().Stringer("mode", r.mode).Msg("中继循环启动")

	for {
		select {
		case <-r.ctx.Done():
			r.closeAllSessions()
			log.Info().Msg("中继循环停止")
			return

		case req := <-r.joinCh:
			r.handleJoin(req)

		case ev := <-r.eventCh:
			r.dispatch(ev.playerID, ev.event)

		case playerID := <-r.leaveCh:
			r.handleLeave(playerID)
		}
	}
}

// Shutdown 停止中继
func (r *Relay) Shutdown() {
	r.cancel()
}

// Join 注册新会话，分配身份并下发全量世界，阻塞到处理完成
func (r *Relay) Join(sess Session) error {
	respCh := make(chan error, 1)

	select {
	case <-r.ctx.Done():
		return fmt.Errorf("中继已关闭")
	case r.joinCh <- joinRequest{sess: sess, respCh: respCh}:
	}

	select {
	case <-r.ctx.Done():
		return fmt.Errorf("中继已关闭")
	case err := <-respCh:
		return err
	}
}

// Enqueue 投递一条已解码的入站消息
func (r *Relay) Enqueue(playerID int32, event *ServerEvent) {
	select {
	case <-r.ctx.Done():
		return
	case r.eventCh <- relayEvent{playerID: playerID, event: event}:
	}
}

// Leave 注销玩家
func (r *Relay) Leave(playerID int32) {
	select {
	case <-r.ctx.Done():
		return
	case r.leaveCh <- playerID:
	}
}

func (r *Relay) dispatch(playerID int32, event *ServerEvent) {
	if _, exists := r.sessions[playerID]; !exists {
		return
	}

	switch event.Kind {
	case EventUpdate:
		r.handleUpdate(playerID, event.Update)
	case EventShoot:
		r.handleShoot(playerID, event.Shoot)
	case EventHit:
		r.handleHit(playerID, event.Hit)
	case EventAdmin:
		r.handleAdmin(playerID, event.Admin)
	}
}

// handleJoin 注册会话：建记录、发全量世界、向旧玩家广播加入事件
func (r *Relay) handleJoin(req joinRequest) {
	if len(r.sessions) >= r.cfg.MaxPlayers {
		req.respCh <- fmt.Errorf("服务器已满 (%d/%d)", len(r.sessions), r.cfg.MaxPlayers)
		return
	}

	playerID := r.nextPlayerID
	r.nextPlayerID++

	record := newPlayerRecord()

	// 先发全量世界（此时还不含新玩家自己）
	msg := protocol.NewConnection(playerID, r.worldState(playerID), core.TPS)
	data, err := protocol.Marshal(msg)
	if err != nil {
		req.respCh <- fmt.Errorf("序列化连接消息失败: %w", err)
		return
	}
	// 握手不走模拟器：会话建立必须可靠，之后的流量才统一模拟
	if err := req.sess.Send(data); err != nil {
		req.respCh <- fmt.Errorf("发送连接消息失败: %w", err)
		return
	}

	req.sess.SetPlayerID(playerID)
	r.records[playerID] = record
	r.sessions[playerID] = req.sess

	r.broadcastExcept(playerID, protocol.NewPlayerJoined(playerID, record.Position, record.Rotation))

	log.Info().Int32("player", playerID).Int("players", len(r.sessions)).Msg("玩家加入")
	req.respCh <- nil
}

// handleLeave 注销玩家：销毁记录，离开事件恰好广播一次
func (r *Relay) handleLeave(playerID int32) {
	if _, exists := r.sessions[playerID]; !exists {
		return
	}

	delete(r.sessions, playerID)
	delete(r.records, playerID)
	delete(r.lastSeq, playerID)

	r.broadcastExcept(playerID, protocol.NewPlayerLeft(playerID))

	log.Info().Int32("player", playerID).Int("players", len(r.sessions)).Msg("玩家离开")
}

// handleUpdate 处理移动上报
// 位置误差 = 上报位置与上次存储位置的欧氏距离；记录立即更新（簿记
// 不受出站模拟影响），之后回传权威消息给上报方、广播裸位置给其他人
func (r *Relay) handleUpdate(playerID int32, update *protocol.ClientUpdate) {
	record, exists := r.records[playerID]
	if !exists {
		return
	}

	if last, ok := r.lastSeq[playerID]; ok && update.Sequence <= last {
		// 客户端序号应严格递增，倒退说明有重放或乱序
		log.Debug().Int32("player", playerID).
			Uint64("seq", update.Sequence).Uint64("last", last).Msg("序号未递增")
	}
	if update.Sequence > r.lastSeq[playerID] {
		r.lastSeq[playerID] = update.Sequence
	}

	positionError := core.Distance(update.Position, record.Position)
	record.Position = update.Position
	record.Rotation = update.Rotation

	major := positionError > r.cfg.MajorCorrectionThreshold
	echo := protocol.NewUpdateEcho(record.Position, record.Rotation, update.Sequence, positionError, major)
	r.sendTo(playerID, echo)

	r.broadcastExcept(playerID, protocol.NewUpdateBroadcast(playerID, record.Position, record.Rotation))
}

// handleShoot 处理射击事件：补齐缺省 shotId 后扇出给包括发起者在内的所有人
func (r *Relay) handleShoot(playerID int32, shoot *protocol.Shoot) {
	shoot.Type = protocol.MsgShoot
	shoot.ID = playerID
	if shoot.ShotID == "" {
		// 服务器兜底：毫秒时间戳 + 随机后缀
		shoot.ShotID = fmt.Sprintf("shot_%d_%04d", time.Now().UnixMilli(), rand.Intn(10000))
	}
	if shoot.Timestamp == 0 {
		shoot.Timestamp = time.Now().UnixMilli()
	}

	r.broadcastAll(shoot)
}

// handleHit 处理命中事件：扣血簿记并扇出；血量归零重置为出生状态
func (r *Relay) handleHit(playerID int32, hit *protocol.Hit) {
	hit.Type = protocol.MsgHit
	hit.SourcePlayerID = playerID

	if record, exists := r.records[hit.HitPlayerID]; exists {
		record.Health -= core.HitDamage
		if record.Health <= 0 {
			*record = *newPlayerRecord()
			log.Info().Int32("player", hit.HitPlayerID).Msg("玩家重生")
		}
	}

	r.broadcastAll(hit)
}

// handleAdmin 处理管理命令：校验令牌后收敛取值并调整网络条件
func (r *Relay) handleAdmin(playerID int32, admin *protocol.AdminCommand) {
	if err := VerifyAdminToken(admin.Token, r.cfg.AdminSecret); err != nil {
		log.Warn().Err(err).Int32("player", playerID).Msg("管理令牌校验失败")
		return
	}

	switch admin.Command {
	case protocol.CmdSetLatency:
		cond := r.sim.SetLatency(admin.Value)
		log.Info().Int32("player", playerID).Int64("latencyMs", cond.LatencyMs).Msg("调整附加延迟")
	case protocol.CmdSetPacketLoss:
		cond := r.sim.SetPacketLoss(admin.Value)
		log.Info().Int32("player", playerID).Float64("lossPercent", cond.PacketLossPercent).Msg("调整丢包率")
	default:
		log.Warn().Int32("player", playerID).Str("command", admin.Command).Msg("未知管理命令")
	}
}

// worldState 当前全量世界状态，excludeID 自己不在其中
func (r *Relay) worldState(excludeID int32) []protocol.PlayerState {
	players := make([]protocol.PlayerState, 0, len(r.records))
	for id, record := range r.records {
		if id == excludeID {
			continue
		}
		players = append(players, protocol.PlayerState{
			ID:       id,
			Position: record.Position,
			Rotation: record.Rotation,
			Health:   record.Health,
		})
	}
	return players
}

// sendTo 发给指定玩家（经网络条件模拟器）
func (r *Relay) sendTo(playerID int32, msg any) {
	sess, exists := r.sessions[playerID]
	if !exists {
		return
	}
	data, err := protocol.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Msg("序列化消息失败")
		return
	}
	r.sim.Send(sess, data)
}

// broadcastExcept 广播给除 excludeID 外的所有玩家
func (r *Relay) broadcastExcept(excludeID int32, msg any) {
	data, err := protocol.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Msg("序列化广播失败")
		return
	}
	for id, sess := range r.sessions {
		if id == excludeID {
			continue
		}
		r.sim.Send(sess, data)
	}
}

// broadcastAll 广播给包括发起者在内的所有玩家
func (r *Relay) broadcastAll(msg any) {
	data, err := protocol.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Msg("序列化广播失败")
		return
	}
	for _, sess := range r.sessions {
		r.sim.Send(sess, data)
	}
}

func (r *Relay) closeAllSessions() {
	for _, sess := range r.sessions {
		sess.CloseWithoutNotify()
	}
}
