package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"jackalopes/pkg/protocol"
)

const (
	readTimeout  = 30 * time.Second // 读取超时
	writeTimeout = 1 * time.Second  // 写入超时
)

// ErrSendQueueFull 发送队列满
var ErrSendQueueFull = errors.New("发送队列满")

// Connection 表示一个客户端连接
type Connection struct {
	conn   net.Conn
	server *RelayServer

	playerID atomic.Int32

	// 发送队列
	sendChan chan []byte
	closeCh  chan struct{}
	closed   bool
	closeMu  sync.Mutex

	lastRecvTime atomic.Value
	rtt          atomic.Int64

	// 心跳节奏，测试可缩短
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewConnection 创建新连接
func NewConnection(conn net.Conn, server *RelayServer) *Connection {
	c := &Connection{
		conn:              conn,
		server:            server,
		sendChan:          make(chan []byte, 256), // 发送队列缓冲区
		closeCh:           make(chan struct{}),
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
	}
	c.playerID.Store(-1) // -1 表示未分配
	c.lastRecvTime.Store(time.Now())
	return c
}

// Handle 处理连接：注册玩家、启动收发与心跳循环
func (c *Connection) Handle(wg *sync.WaitGroup) {
	defer wg.Done()

	// 连接建立即视为加入，中继分配身份并下发全量世界
	if err := c.server.relay.Join(c); err != nil {
		log.Warn().Err(err).Stringer("remote", c.conn.RemoteAddr()).Msg("玩家加入被拒")
		c.CloseWithoutNotify()
		return
	}

	log.Info().Int32("player", c.ID()).Msg("连接处理开始")

	wg.Add(1)
	go c.startHeartbeat(wg)

	wg.Add(1)
	go c.sendLoop(wg)

	wg.Add(1)
	go c.receiveLoop(wg)

	<-c.closeCh
}

// Close 关闭连接并通知中继移除玩家
func (c *Connection) Close() {
	c.closeWithNotify(true)
}

// CloseWithoutNotify 关闭连接但不触发移除玩家逻辑
func (c *Connection) CloseWithoutNotify() {
	c.closeWithNotify(false)
}

func (c *Connection) closeWithNotify(notify bool) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.closeCh)

	if c.conn != nil {
		c.conn.Close()
	}

	// 离开广播由中继负责，保证每次断开恰好一次
	if notify {
		if playerID := c.ID(); playerID >= 0 {
			c.server.relay.Leave(playerID)
		}
	}

	log.Info().Int32("player", c.ID()).Msg("连接已关闭")
}

// Send 发送数据（异步，经发送队列）
func (c *Connection) Send(data []byte) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return fmt.Errorf("连接已关闭")
	}
	c.closeMu.Unlock()

	select {
	case c.sendChan <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Done 连接关闭信号
func (c *Connection) Done() <-chan struct{} {
	return c.closeCh
}

// sendLoop 发送循环：逐条写长度前缀帧
func (c *Connection) sendLoop(wg *sync.WaitGroup) {
	defer wg.Done()

	var buf bytes.Buffer
	for {
		select {
		case <-c.closeCh:
			return

		case data := <-c.sendChan:
			buf.Reset()
			if err := protocol.WriteFrame(&buf, data); err != nil {
				log.Warn().Err(err).Int32("player", c.ID()).Msg("组帧失败")
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(buf.Bytes()); err != nil {
				log.Warn().Err(err).Int32("player", c.ID()).Msg("发送数据失败")
				c.Close()
				return
			}
		}
	}
}

// receiveLoop 接收循环：读帧、解码、分发给中继
func (c *Connection) receiveLoop(wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		data, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				log.Warn().Int32("player", c.ID()).Msg("读取超时")
			} else if !errors.Is(err, io.EOF) && !c.isClosed() {
				log.Warn().Err(err).Int32("player", c.ID()).Msg("读取数据失败")
			}
			c.Close()
			return
		}
		if data == nil {
			continue
		}

		c.lastRecvTime.Store(time.Now())

		// 格式错误的消息记日志后丢弃，连接继续存活
		if err := c.handleMessage(data); err != nil {
			log.Warn().Err(err).Int32("player", c.ID()).Msg("丢弃异常消息")
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Connection) handleMessage(data []byte) error {
	event, err := DecodePacket(data)
	if err != nil {
		return fmt.Errorf("反序列化失败: %w", err)
	}

	switch event.Kind {
	case EventUpdate, EventShoot, EventHit, EventAdmin:
		c.server.relay.Enqueue(c.ID(), event)

	case EventPing:
		// 时间戳原样回传，客户端据此测 RTT
		c.sendPong(event.Ping.Timestamp)

	case EventPong:
		c.handlePong(event.Pong)

	default:
		return fmt.Errorf("未知消息类型")
	}

	return nil
}

// RTT 最近一次心跳测得的往返时延（毫秒）
func (c *Connection) RTT() int64 {
	return c.rtt.Load()
}

// String 返回连接的字符串表示
func (c *Connection) String() string {
	if c.ID() >= 0 {
		return fmt.Sprintf("Connection{%d, %s}", c.ID(), c.conn.RemoteAddr())
	}
	return fmt.Sprintf("Connection{%s}", c.conn.RemoteAddr())
}

// ID 玩家 ID，未分配时为 -1
func (c *Connection) ID() int32 {
	return c.playerID.Load()
}

// SetPlayerID 绑定玩家 ID
func (c *Connection) SetPlayerID(playerID int32) {
	c.playerID.Store(playerID)
}

func (c *Connection) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

const (
	heartbeatInterval = 5 * time.Second
	heartbeatTimeout  = 15 * time.Second
)

func (c *Connection) startHeartbeat(wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			lastRecv, _ := c.lastRecvTime.Load().(time.Time)
			if !lastRecv.IsZero() && time.Since(lastRecv) > c.heartbeatTimeout {
				log.Warn().Int32("player", c.ID()).Msg("心跳超时")
				c.Close()
				return
			}
			c.sendPing()
		}
	}
}

func (c *Connection) sendPing() {
	data, err := protocol.Marshal(protocol.NewPing(time.Now().UnixMilli()))
	if err != nil {
		return
	}
	_ = c.Send(data)
}

func (c *Connection) sendPong(ts int64) {
	data, err := protocol.Marshal(protocol.NewPong(ts))
	if err != nil {
		return
	}
	_ = c.Send(data)
}

func (c *Connection) handlePong(pong *protocol.Pong) {
	if pong == nil || pong.Timestamp <= 0 {
		return
	}
	c.rtt.Store(time.Now().UnixMilli() - pong.Timestamp)
}
