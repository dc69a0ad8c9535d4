package server

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jackalopes/pkg/core"
	"jackalopes/pkg/protocol"
)

// fakeSession 进程内会话，缓存所有下发的帧
type fakeSession struct {
	mu     sync.Mutex
	id     int32
	frames [][]byte
	done   chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{done: make(chan struct{})}
}

func (s *fakeSession) ID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *fakeSession) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := make([]byte, len(data))
	copy(frame, data)
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *fakeSession) CloseWithoutNotify() { s.Close() }

func (s *fakeSession) SetPlayerID(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

// updates 解码所有 player_update 帧
func (s *fakeSession) updates(t *testing.T) []protocol.ServerUpdate {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []protocol.ServerUpdate
	for _, frame := range s.frames {
		typ, err := protocol.PeekType(frame)
		require.NoError(t, err)
		if typ != protocol.MsgPlayerUpdate {
			continue
		}
		var u protocol.ServerUpdate
		require.NoError(t, protocol.Decode(frame, &u))
		out = append(out, u)
	}
	return out
}

// framesOfType 按类型过滤原始帧
func (s *fakeSession) framesOfType(t *testing.T, want protocol.MessageType) [][]byte {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out [][]byte
	for _, frame := range s.frames {
		typ, err := protocol.PeekType(frame)
		require.NoError(t, err)
		if typ == want {
			out = append(out, frame)
		}
	}
	return out
}

func testConfig() *Config {
	return &Config{
		Addr:                     ":0",
		Proto:                    "tcp",
		MaxPlayers:               16,
		MajorCorrectionThreshold: core.MajorCorrectionThreshold,
		MinorCorrectionThreshold: core.MinorCorrectionThreshold,
	}
}

// startRelay 启动中继循环，返回的 stop 会等循环真正退出；测试结束时自动停掉
func startRelay(t *testing.T, cfg *Config) (*Relay, func()) {
	t.Helper()
	r := NewRelay(context.Background(), cfg, NewSimulator(Conditions{}))

	var wg sync.WaitGroup
	wg.Add(1)
	go r.Run(&wg)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			r.Shutdown()
			wg.Wait()
		})
	}
	t.Cleanup(stop)
	return r, stop
}

func TestRelayJoinAssignsIDAndWorldState(t *testing.T) {
	r, _ := startRelay(t, testConfig())

	s1 := newFakeSession()
	require.NoError(t, r.Join(s1))
	assert.Equal(t, int32(1), s1.ID())

	conns := s1.framesOfType(t, protocol.MsgConnection)
	require.Len(t, conns, 1)

	var conn protocol.Connection
	require.NoError(t, protocol.Decode(conns[0], &conn))
	assert.Equal(t, int32(1), conn.ID)
	assert.Empty(t, conn.Players)
	assert.Equal(t, core.TPS, conn.TickRate)

	// 第二个玩家的全量世界里含第一个玩家，且旧玩家收到加入广播
	s2 := newFakeSession()
	require.NoError(t, r.Join(s2))
	assert.Equal(t, int32(2), s2.ID())

	conns = s2.framesOfType(t, protocol.MsgConnection)
	require.Len(t, conns, 1)
	require.NoError(t, protocol.Decode(conns[0], &conn))
	require.Len(t, conn.Players, 1)
	assert.Equal(t, int32(1), conn.Players[0].ID)
	assert.Equal(t, core.DefaultHealth, conn.Players[0].Health)

	require.Eventually(t, func() bool {
		return len(s1.framesOfType(t, protocol.MsgPlayerJoined)) == 1
	}, time.Second, 10*time.Millisecond)

	// 新玩家自己不收加入广播
	assert.Empty(t, s2.framesOfType(t, protocol.MsgPlayerJoined))
}

func TestRelayRejectsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPlayers = 1
	r, _ := startRelay(t, cfg)

	require.NoError(t, r.Join(newFakeSession()))
	err := r.Join(newFakeSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "已满")
}

func TestRelayUpdateEchoAndBroadcast(t *testing.T) {
	r, _ := startRelay(t, testConfig())

	s1 := newFakeSession()
	s2 := newFakeSession()
	require.NoError(t, r.Join(s1))
	require.NoError(t, r.Join(s2))

	// 出生点 [0,1,0]，上报 [1,1,0]：误差恰好 1.0，超过大幅阈值
	r.Enqueue(1, &ServerEvent{Kind: EventUpdate, Update: protocol.NewClientUpdate(
		core.Vec3{X: 1, Y: 1, Z: 0}, core.QuatIdentity(), core.Vec3{}, 5)})

	require.Eventually(t, func() bool {
		return len(s1.updates(t)) == 1
	}, time.Second, 10*time.Millisecond)

	echo := s1.updates(t)[0]
	assert.True(t, echo.IsEcho())
	assert.Equal(t, uint64(5), echo.Sequence)
	assert.InDelta(t, 1.0, echo.PositionError, 1e-9)
	assert.True(t, echo.ServerCorrection)
	assert.Equal(t, core.Vec3{X: 1, Y: 1, Z: 0}, echo.Position)
	assert.NotZero(t, echo.Timestamp)

	// 其他玩家收到裸位置广播，不带误差字段
	require.Eventually(t, func() bool {
		return len(s2.updates(t)) == 1
	}, time.Second, 10*time.Millisecond)

	bcast := s2.updates(t)[0]
	assert.False(t, bcast.IsEcho())
	assert.Equal(t, int32(1), bcast.ID)
	assert.Equal(t, core.Vec3{X: 1, Y: 1, Z: 0}, bcast.Position)
	raw := s2.framesOfType(t, protocol.MsgPlayerUpdate)[0]
	assert.False(t, strings.Contains(string(raw), "positionError"))

	// 小位移不触发大幅纠偏
	r.Enqueue(1, &ServerEvent{Kind: EventUpdate, Update: protocol.NewClientUpdate(
		core.Vec3{X: 1.02, Y: 1, Z: 0}, core.QuatIdentity(), core.Vec3{}, 6)})

	require.Eventually(t, func() bool {
		return len(s1.updates(t)) == 2
	}, time.Second, 10*time.Millisecond)

	echo = s1.updates(t)[1]
	assert.InDelta(t, 0.02, echo.PositionError, 1e-9)
	assert.False(t, echo.ServerCorrection)
}

// 回传序号永远等于该条上报的序号，倒退上报只记日志不拒绝
func TestRelayEchoCarriesSubmittedSequence(t *testing.T) {
	r, _ := startRelay(t, testConfig())

	s1 := newFakeSession()
	require.NoError(t, r.Join(s1))

	for _, seq := range []uint64{5, 3, 7} {
		r.Enqueue(1, &ServerEvent{Kind: EventUpdate, Update: protocol.NewClientUpdate(
			core.SpawnPosition, core.QuatIdentity(), core.Vec3{}, seq)})
	}

	require.Eventually(t, func() bool {
		return len(s1.updates(t)) == 3
	}, time.Second, 10*time.Millisecond)

	echoes := s1.updates(t)
	assert.Equal(t, uint64(5), echoes[0].Sequence)
	assert.Equal(t, uint64(3), echoes[1].Sequence)
	assert.Equal(t, uint64(7), echoes[2].Sequence)
}

func TestRelayShootFanOutIncludesSender(t *testing.T) {
	r, _ := startRelay(t, testConfig())

	s1 := newFakeSession()
	s2 := newFakeSession()
	require.NoError(t, r.Join(s1))
	require.NoError(t, r.Join(s2))

	r.Enqueue(1, &ServerEvent{Kind: EventShoot, Shoot: protocol.NewShoot(
		"shot_abc", 0, core.Vec3{Y: 1}, core.Vec3{Z: -1}, 1234)})

	for _, s := range []*fakeSession{s1, s2} {
		require.Eventually(t, func() bool {
			return len(s.framesOfType(t, protocol.MsgShoot)) == 1
		}, time.Second, 10*time.Millisecond)

		var shoot protocol.Shoot
		require.NoError(t, protocol.Decode(s.framesOfType(t, protocol.MsgShoot)[0], &shoot))
		assert.Equal(t, "shot_abc", shoot.ShotID)
		// 发起者由服务器盖章，不信任消息内的 id
		assert.Equal(t, int32(1), shoot.ID)
	}
}

func TestRelayShootFillsMissingShotID(t *testing.T) {
	r, _ := startRelay(t, testConfig())

	s1 := newFakeSession()
	require.NoError(t, r.Join(s1))

	r.Enqueue(1, &ServerEvent{Kind: EventShoot, Shoot: protocol.NewShoot(
		"", 0, core.Vec3{Y: 1}, core.Vec3{Z: -1}, 0)})

	require.Eventually(t, func() bool {
		return len(s1.framesOfType(t, protocol.MsgShoot)) == 1
	}, time.Second, 10*time.Millisecond)

	var shoot protocol.Shoot
	require.NoError(t, protocol.Decode(s1.framesOfType(t, protocol.MsgShoot)[0], &shoot))
	assert.True(t, strings.HasPrefix(shoot.ShotID, "shot_"))
	assert.NotZero(t, shoot.Timestamp)
}

func TestRelayHitDamageAndRespawn(t *testing.T) {
	r, stop := startRelay(t, testConfig())

	s1 := newFakeSession()
	s2 := newFakeSession()
	require.NoError(t, r.Join(s1))
	require.NoError(t, r.Join(s2))

	// 先把受击者挪开，验证重生会拉回出生点
	r.Enqueue(2, &ServerEvent{Kind: EventUpdate, Update: protocol.NewClientUpdate(
		core.Vec3{X: 20, Y: 1, Z: 5}, core.QuatIdentity(), core.Vec3{}, 1)})

	hits := int(core.DefaultHealth / core.HitDamage)
	for i := 0; i < hits; i++ {
		r.Enqueue(1, &ServerEvent{Kind: EventHit, Hit: protocol.NewHit(2, 0, int64(i))})
	}

	require.Eventually(t, func() bool {
		return len(s2.framesOfType(t, protocol.MsgHit)) == hits
	}, time.Second, 10*time.Millisecond)

	var hit protocol.Hit
	require.NoError(t, protocol.Decode(s2.framesOfType(t, protocol.MsgHit)[0], &hit))
	assert.Equal(t, int32(2), hit.HitPlayerID)
	assert.Equal(t, int32(1), hit.SourcePlayerID)

	// 停掉循环后直接检查簿记：血量归零应重置为出生状态
	stop()
	record := r.records[2]
	require.NotNil(t, record)
	assert.Equal(t, core.DefaultHealth, record.Health)
	assert.Equal(t, core.SpawnPosition, record.Position)
}

func TestRelayLeaveBroadcastsOnce(t *testing.T) {
	r, _ := startRelay(t, testConfig())

	s1 := newFakeSession()
	s2 := newFakeSession()
	require.NoError(t, r.Join(s1))
	require.NoError(t, r.Join(s2))

	r.Leave(2)
	r.Leave(2) // 重复注销应被忽略

	require.Eventually(t, func() bool {
		return len(s1.framesOfType(t, protocol.MsgPlayerLeft)) == 1
	}, time.Second, 10*time.Millisecond)

	// 再等一拍确认没有第二条
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s1.framesOfType(t, protocol.MsgPlayerLeft), 1)

	var left protocol.PlayerLeft
	require.NoError(t, protocol.Decode(s1.framesOfType(t, protocol.MsgPlayerLeft)[0], &left))
	assert.Equal(t, int32(2), left.ID)
}

func TestRelayAdminCommandAdjustsConditions(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSecret = "test-secret"
	r, _ := startRelay(t, cfg)

	s1 := newFakeSession()
	require.NoError(t, r.Join(s1))

	token, err := GenerateAdminToken(cfg.AdminSecret)
	require.NoError(t, err)

	r.Enqueue(1, &ServerEvent{Kind: EventAdmin, Admin: protocol.NewAdminCommand(
		protocol.CmdSetLatency, 150, token)})
	r.Enqueue(1, &ServerEvent{Kind: EventAdmin, Admin: protocol.NewAdminCommand(
		protocol.CmdSetPacketLoss, 250, token)}) // 越界，应收敛到 100

	require.Eventually(t, func() bool {
		cond := r.sim.Conditions()
		return cond.LatencyMs == 150 && cond.PacketLossPercent == 100
	}, time.Second, 10*time.Millisecond)

	// 伪造令牌不生效
	r.Enqueue(1, &ServerEvent{Kind: EventAdmin, Admin: protocol.NewAdminCommand(
		protocol.CmdSetLatency, 999, "not-a-token")})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(150), r.sim.Conditions().LatencyMs)
}

func TestDecodePacket(t *testing.T) {
	data, err := protocol.Marshal(protocol.NewPing(77))
	require.NoError(t, err)

	ev, err := DecodePacket(data)
	require.NoError(t, err)
	assert.Equal(t, EventPing, ev.Kind)
	assert.Equal(t, int64(77), ev.Ping.Timestamp)

	// 未知类型不报错，归为 Unknown 由上层丢弃
	ev, err = DecodePacket([]byte(`{"type":"mystery"}`))
	require.NoError(t, err)
	assert.Equal(t, EventUnknown, ev.Kind)

	_, err = DecodePacket([]byte(`garbage`))
	assert.Error(t, err)
}
