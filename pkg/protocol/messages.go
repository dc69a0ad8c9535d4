package protocol

import "jackalopes/pkg/core"

// MessageType 消息类型判别字段
type MessageType string

const (
	MsgConnection   MessageType = "connection"
	MsgPlayerJoined MessageType = "player_joined"
	MsgPlayerLeft   MessageType = "player_left"
	MsgPlayerUpdate MessageType = "player_update"
	MsgShoot        MessageType = "shoot"
	MsgHit          MessageType = "hit"
	MsgPing         MessageType = "ping"
	MsgPong         MessageType = "pong"
	MsgAdminCommand MessageType = "admin_command"
)

// 管理命令名
const (
	CmdSetLatency    = "set_latency"
	CmdSetPacketLoss = "set_packet_loss"
)

// PlayerState 单个玩家的权威状态（用于全量世界下发）
type PlayerState struct {
	ID       int32     `json:"id"`
	Position core.Vec3 `json:"position"`
	Rotation core.Quat `json:"rotation"`
	Health   float64   `json:"health"`
}

// Connection 连接建立后服务器下发一次：分配的 ID 与全量世界状态
type Connection struct {
	Type     MessageType   `json:"type"`
	ID       int32         `json:"id"`
	Players  []PlayerState `json:"players"`
	TickRate int           `json:"tickRate"`
}

// PlayerJoined 有新玩家加入（只发给其他已在线玩家）
type PlayerJoined struct {
	Type     MessageType `json:"type"`
	ID       int32       `json:"id"`
	Position core.Vec3   `json:"position"`
	Rotation core.Quat   `json:"rotation"`
}

// PlayerLeft 玩家离开（只发给其他玩家，每次断开恰好广播一次）
type PlayerLeft struct {
	Type MessageType `json:"type"`
	ID   int32       `json:"id"`
}

// ClientUpdate 客户端上报的移动消息
type ClientUpdate struct {
	Type     MessageType `json:"type"`
	Position core.Vec3   `json:"position"`
	Rotation core.Quat   `json:"rotation"`
	Velocity core.Vec3   `json:"velocity"`
	Sequence uint64      `json:"sequence"`
}

// UpdateEcho 权威回传，仅发给上报方：携带原序号、位置误差与大幅纠偏标记
type UpdateEcho struct {
	Type             MessageType `json:"type"`
	Position         core.Vec3   `json:"position"`
	Rotation         core.Quat   `json:"rotation"`
	Sequence         uint64      `json:"sequence"`
	Timestamp        int64       `json:"timestamp"`
	PositionError    float64     `json:"positionError"`
	ServerCorrection bool        `json:"serverCorrection"`
}

// UpdateBroadcast 普通位置广播，发给其他玩家，不带误差字段
type UpdateBroadcast struct {
	Type     MessageType `json:"type"`
	ID       int32       `json:"id"`
	Position core.Vec3   `json:"position"`
	Rotation core.Quat   `json:"rotation"`
}

// ServerUpdate 客户端接收 player_update 时的超集结构
// ID 为 0 表示发给自己的权威回传（服务器分配的玩家 ID 从 1 开始）
type ServerUpdate struct {
	Type             MessageType `json:"type"`
	ID               int32       `json:"id"`
	Position         core.Vec3   `json:"position"`
	Rotation         core.Quat   `json:"rotation"`
	Sequence         uint64      `json:"sequence"`
	Timestamp        int64       `json:"timestamp"`
	PositionError    float64     `json:"positionError"`
	ServerCorrection bool        `json:"serverCorrection"`
}

// IsEcho 是否为发给自己的权威回传
func (u *ServerUpdate) IsEcho() bool {
	return u.ID == 0
}

// Shoot 射击事件，广播给包括发起者在内的所有玩家
// ShotId 缺省时由服务器按 shot_<毫秒时间戳>_<随机后缀> 补齐
type Shoot struct {
	Type      MessageType `json:"type"`
	ShotID    string      `json:"shotId"`
	ID        int32       `json:"id"`
	Origin    core.Vec3   `json:"origin"`
	Direction core.Vec3   `json:"direction"`
	Timestamp int64       `json:"timestamp"`
}

// Hit 命中事件，走事件扇出路径，服务器据此做重生簿记
type Hit struct {
	Type           MessageType `json:"type"`
	HitPlayerID    int32       `json:"hitPlayerId"`
	SourcePlayerID int32       `json:"sourcePlayerId"`
	Timestamp      int64       `json:"timestamp"`
}

// Ping 心跳请求，Timestamp 原样回传用于测 RTT
type Ping struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// Pong 心跳应答
type Pong struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
}

// AdminCommand 运行时调整网络条件的管理命令；Token 为管理员签发的 JWT
type AdminCommand struct {
	Type    MessageType `json:"type"`
	Command string      `json:"command"`
	Value   float64     `json:"value"`
	Token   string      `json:"token"`
}
