package server

import "jackalopes/pkg/protocol"

// EventKind 入站消息分类
type EventKind int

const (
	EventUnknown EventKind = iota
	EventUpdate
	EventShoot
	EventHit
	EventPing
	EventPong
	EventAdmin
)

// ServerEvent 解码后的入站消息，按 Kind 取对应字段
type ServerEvent struct {
	Kind   EventKind
	Update *protocol.ClientUpdate
	Shoot  *protocol.Shoot
	Hit    *protocol.Hit
	Ping   *protocol.Ping
	Pong   *protocol.Pong
	Admin  *protocol.AdminCommand
}
