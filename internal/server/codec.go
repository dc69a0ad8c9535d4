package server

import (
	"fmt"

	"jackalopes/pkg/protocol"
)

// DecodePacket 解析服务器收到的数据包
func DecodePacket(data []byte) (*ServerEvent, error) {
	msgType, err := protocol.PeekType(data)
	if err != nil {
		return nil, fmt.Errorf("解析包失败: %w", err)
	}

	switch msgType {
	case protocol.MsgPlayerUpdate:
		var update protocol.ClientUpdate
		if err := protocol.Decode(data, &update); err != nil {
			return nil, err
		}
		return &ServerEvent{Kind: EventUpdate, Update: &update}, nil

	case protocol.MsgShoot:
		var shoot protocol.Shoot
		if err := protocol.Decode(data, &shoot); err != nil {
			return nil, err
		}
		return &ServerEvent{Kind: EventShoot, Shoot: &shoot}, nil

	case protocol.MsgHit:
		var hit protocol.Hit
		if err := protocol.Decode(data, &hit); err != nil {
			return nil, err
		}
		return &ServerEvent{Kind: EventHit, Hit: &hit}, nil

	case protocol.MsgPing:
		var ping protocol.Ping
		if err := protocol.Decode(data, &ping); err != nil {
			return nil, err
		}
		return &ServerEvent{Kind: EventPing, Ping: &ping}, nil

	case protocol.MsgPong:
		var pong protocol.Pong
		if err := protocol.Decode(data, &pong); err != nil {
			return nil, err
		}
		return &ServerEvent{Kind: EventPong, Pong: &pong}, nil

	case protocol.MsgAdminCommand:
		var admin protocol.AdminCommand
		if err := protocol.Decode(data, &admin); err != nil {
			return nil, err
		}
		return &ServerEvent{Kind: EventAdmin, Admin: &admin}, nil

	default:
		return &ServerEvent{Kind: EventUnknown}, nil
	}
}
