package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"jackalopes/pkg/core"
)

// MaxPacketSize 单条消息上限（长度前缀帧）
const MaxPacketSize = 64 * 1024

// envelope 只取消息类型判别字段
type envelope struct {
	Type MessageType `json:"type"`
}

// Marshal 序列化消息
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化消息失败: %w", err)
	}
	return data, nil
}

// PeekType 读取消息类型判别字段
func PeekType(data []byte) (MessageType, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("解析消息类型失败: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("消息缺少 type 字段")
	}
	return env.Type, nil
}

// Decode 按判别字段反序列化到目标结构
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("反序列化失败: %w", err)
	}
	return nil
}

// WriteFrame 写一帧：4 字节大端长度前缀 + 消息体
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxPacketSize {
		return fmt.Errorf("消息过大 (%d bytes)", len(data))
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame 读一帧，超限返回错误
func ReadFrame(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > MaxPacketSize {
		return nil, fmt.Errorf("消息过大 (%d bytes)", length)
	}
	if length == 0 {
		return nil, nil
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ========== 辅助构造方法 ==========

// NewConnection 构造连接建立消息
func NewConnection(id int32, players []PlayerState, tickRate int) *Connection {
	return &Connection{Type: MsgConnection, ID: id, Players: players, TickRate: tickRate}
}

// NewPlayerJoined 构造玩家加入广播
func NewPlayerJoined(id int32, pos core.Vec3, rot core.Quat) *PlayerJoined {
	return &PlayerJoined{Type: MsgPlayerJoined, ID: id, Position: pos, Rotation: rot}
}

// NewPlayerLeft 构造玩家离开广播
func NewPlayerLeft(id int32) *PlayerLeft {
	return &PlayerLeft{Type: MsgPlayerLeft, ID: id}
}

// NewClientUpdate 构造客户端移动上报
func NewClientUpdate(pos core.Vec3, rot core.Quat, vel core.Vec3, seq uint64) *ClientUpdate {
	return &ClientUpdate{Type: MsgPlayerUpdate, Position: pos, Rotation: rot, Velocity: vel, Sequence: seq}
}

// NewUpdateEcho 构造权威回传
func NewUpdateEcho(pos core.Vec3, rot core.Quat, seq uint64, posErr float64, major bool) *UpdateEcho {
	return &UpdateEcho{
		Type:             MsgPlayerUpdate,
		Position:         pos,
		Rotation:         rot,
		Sequence:         seq,
		Timestamp:        time.Now().UnixMilli(),
		PositionError:    posErr,
		ServerCorrection: major,
	}
}

// NewUpdateBroadcast 构造普通位置广播
func NewUpdateBroadcast(id int32, pos core.Vec3, rot core.Quat) *UpdateBroadcast {
	return &UpdateBroadcast{Type: MsgPlayerUpdate, ID: id, Position: pos, Rotation: rot}
}

// NewShoot 构造射击事件
func NewShoot(shotID string, id int32, origin, dir core.Vec3, ts int64) *Shoot {
	return &Shoot{Type: MsgShoot, ShotID: shotID, ID: id, Origin: origin, Direction: dir, Timestamp: ts}
}

// NewHit 构造命中事件
func NewHit(hitID, sourceID int32, ts int64) *Hit {
	return &Hit{Type: MsgHit, HitPlayerID: hitID, SourcePlayerID: sourceID, Timestamp: ts}
}

// NewPing 构造心跳请求
func NewPing(ts int64) *Ping {
	return &Ping{Type: MsgPing, Timestamp: ts}
}

// NewPong 构造心跳应答
func NewPong(ts int64) *Pong {
	return &Pong{Type: MsgPong, Timestamp: ts}
}

// NewAdminCommand 构造管理命令
func NewAdminCommand(command string, value float64, token string) *AdminCommand {
	return &AdminCommand{Type: MsgAdminCommand, Command: command, Value: value, Token: token}
}
