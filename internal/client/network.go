package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	kcp "github.com/xtaci/kcp-go/v5"

	"jackalopes/pkg/protocol"
)

// 重连退避配置
const (
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 8 * time.Second
	dialTimeout        = 5 * time.Second
	pingInterval       = 5 * time.Second
)

// ErrNotConnected 传输通道未就绪
var ErrNotConnected = errors.New("传输通道未就绪")

// NetworkClient 传输通道
// 负责建连、重连退避与收发；Ready 是唯一的"可发送"判据。
// 断线重连后由服务器签发全新身份，旧序号全部作废
type NetworkClient struct {
	serverAddr string
	proto      string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conn   net.Conn
	ready  atomic.Bool
	closed bool

	playerID atomic.Int32
	rtt      atomic.Int64

	// 消息队列（非阻塞读取，队列满丢弃最旧的之后的新消息）
	connectionCh chan *protocol.Connection
	echoCh       chan *protocol.ServerUpdate
	remoteCh     chan *protocol.ServerUpdate
	joinedCh     chan *protocol.PlayerJoined
	leftCh       chan int32
	shootCh      chan *protocol.Shoot
	hitCh        chan *protocol.Hit

	sendChan chan []byte
}

// NewNetworkClient 创建传输通道
func NewNetworkClient(serverAddr, proto string) *NetworkClient {
	ctx, cancel := context.WithCancel(context.Background())

	nc := &NetworkClient{
		serverAddr:   serverAddr,
		proto:        proto,
		ctx:          ctx,
		cancel:       cancel,
		connectionCh: make(chan *protocol.Connection, 1),
		echoCh:       make(chan *protocol.ServerUpdate, 256),
		remoteCh:     make(chan *protocol.ServerUpdate, 256),
		joinedCh:     make(chan *protocol.PlayerJoined, 16),
		leftCh:       make(chan int32, 16),
		shootCh:      make(chan *protocol.Shoot, 64),
		hitCh:        make(chan *protocol.Hit, 64),
		sendChan:     make(chan []byte, 256),
	}
	nc.playerID.Store(-1)
	return nc
}

// Start 启动通道：后台保持连接，断开后指数退避重连
func (nc *NetworkClient) Start() {
	nc.wg.Add(1)
	go nc.manageLoop()
}

// Ready 通道是否可发送
func (nc *NetworkClient) Ready() bool {
	return nc.ready.Load()
}

// PlayerID 当前会话由服务器分配的身份，未连接时为 -1
func (nc *NetworkClient) PlayerID() int32 {
	return nc.playerID.Load()
}

// RTT 最近一次心跳测得的往返时延（毫秒）
func (nc *NetworkClient) RTT() int64 {
	return nc.rtt.Load()
}

// Close 关闭通道
func (nc *NetworkClient) Close() {
	nc.mu.Lock()
	if nc.closed {
		nc.mu.Unlock()
		return
	}
	nc.closed = true
	nc.mu.Unlock()

	nc.cancel()
	nc.dropConn()
	nc.wg.Wait()

	log.Info().Msg("网络客户端已关闭")
}

// manageLoop 连接管理循环：建连、收包直到断开、退避后重试
func (nc *NetworkClient) manageLoop() {
	defer nc.wg.Done()

	delay := reconnectBaseDelay
	for {
		select {
		case <-nc.ctx.Done():
			return
		default:
		}

		conn, err := nc.dial()
		if err != nil {
			log.Warn().Err(err).Dur("retryIn", delay).Msg("连接服务器失败")
			select {
			case <-nc.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		log.Info().Stringer("remote", conn.RemoteAddr()).Msg("已连接到服务器")
		delay = reconnectBaseDelay

		nc.mu.Lock()
		nc.conn = conn
		nc.mu.Unlock()
		nc.ready.Store(true)

		sessionDone := make(chan struct{})
		nc.wg.Add(2)
		go nc.sendLoop(conn, sessionDone)
		go nc.pingLoop(conn, sessionDone)

		nc.receiveLoop(conn) // 阻塞到断开

		nc.ready.Store(false)
		nc.playerID.Store(-1)
		close(sessionDone)
		nc.dropConn()
	}
}

func (nc *NetworkClient) dial() (net.Conn, error) {
	switch nc.proto {
	case "", "tcp":
		return net.DialTimeout("tcp", nc.serverAddr, dialTimeout)
	case "kcp":
		conn, err := kcp.DialWithOptions(nc.serverAddr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		// 会话参数与服务端的快速模式保持一致，避免单侧激进重传
		conn.SetStreamMode(true)
		conn.SetACKNoDelay(true)
		conn.SetNoDelay(1, 10, 2, 1)
		conn.SetWindowSize(256, 256)
		return conn, nil
	default:
		return nil, fmt.Errorf("不支持的协议: %s", nc.proto)
	}
}

func (nc *NetworkClient) dropConn() {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.conn != nil {
		nc.conn.Close()
		nc.conn = nil
	}
}

// ========== 消息接收 ==========

// receiveLoop 接收循环，返回即表示本次会话结束
func (nc *NetworkClient) receiveLoop(conn net.Conn) {
	for {
		select {
		case <-nc.ctx.Done():
			return
		default:
		}

		data, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && nc.ctx.Err() == nil {
				log.Warn().Err(err).Msg("读取数据失败")
			}
			return
		}
		if data == nil {
			continue
		}

		// 格式错误的消息记日志后丢弃
		if err := nc.handleMessage(data); err != nil {
			log.Warn().Err(err).Msg("丢弃异常消息")
		}
	}
}

// handleMessage 按类型分发接收到的消息
func (nc *NetworkClient) handleMessage(data []byte) error {
	msgType, err := protocol.PeekType(data)
	if err != nil {
		return err
	}

	switch msgType {
	case protocol.MsgConnection:
		var msg protocol.Connection
		if err := protocol.Decode(data, &msg); err != nil {
			return err
		}
		nc.playerID.Store(msg.ID)
		log.Info().Int32("player", msg.ID).Int("peers", len(msg.Players)).Msg("获得玩家身份")
		push(nc.connectionCh, &msg)

	case protocol.MsgPlayerUpdate:
		var msg protocol.ServerUpdate
		if err := protocol.Decode(data, &msg); err != nil {
			return err
		}
		if msg.IsEcho() {
			push(nc.echoCh, &msg)
		} else {
			push(nc.remoteCh, &msg)
		}

	case protocol.MsgPlayerJoined:
		var msg protocol.PlayerJoined
		if err := protocol.Decode(data, &msg); err != nil {
			return err
		}
		push(nc.joinedCh, &msg)

	case protocol.MsgPlayerLeft:
		var msg protocol.PlayerLeft
		if err := protocol.Decode(data, &msg); err != nil {
			return err
		}
		push(nc.leftCh, msg.ID)

	case protocol.MsgShoot:
		var msg protocol.Shoot
		if err := protocol.Decode(data, &msg); err != nil {
			return err
		}
		push(nc.shootCh, &msg)

	case protocol.MsgHit:
		var msg protocol.Hit
		if err := protocol.Decode(data, &msg); err != nil {
			return err
		}
		push(nc.hitCh, &msg)

	case protocol.MsgPing:
		// 服务器心跳，原样回 pong
		var msg protocol.Ping
		if err := protocol.Decode(data, &msg); err != nil {
			return err
		}
		if data, err := protocol.Marshal(protocol.NewPong(msg.Timestamp)); err == nil {
			_ = nc.SendMessage(data)
		}

	case protocol.MsgPong:
		var msg protocol.Pong
		if err := protocol.Decode(data, &msg); err != nil {
			return err
		}
		if msg.Timestamp > 0 {
			nc.rtt.Store(time.Now().UnixMilli() - msg.Timestamp)
		}

	default:
		return fmt.Errorf("未知消息类型: %s", msgType)
	}

	return nil
}

// push 非阻塞投递，队列满时丢弃
func push[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// ========== 消息发送 ==========

// sendLoop 发送循环，会话结束即退出
func (nc *NetworkClient) sendLoop(conn net.Conn, sessionDone <-chan struct{}) {
	defer nc.wg.Done()

	for {
		select {
		case <-nc.ctx.Done():
			return
		case <-sessionDone:
			return
		case data := <-nc.sendChan:
			if err := protocol.WriteFrame(conn, data); err != nil {
				log.Warn().Err(err).Msg("发送数据失败")
				// 写失败说明链路已坏，关掉连接让接收循环立刻退出进入重连
				conn.Close()
				return
			}
		}
	}
}

// pingLoop 心跳循环：定期发 ping 测 RTT
func (nc *NetworkClient) pingLoop(conn net.Conn, sessionDone <-chan struct{}) {
	defer nc.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-nc.ctx.Done():
			return
		case <-sessionDone:
			return
		case <-ticker.C:
			if data, err := protocol.Marshal(protocol.NewPing(time.Now().UnixMilli())); err == nil {
				_ = nc.SendMessage(data)
			}
		}
	}
}

// SendMessage 发送一条已序列化消息，通道未就绪时报错
func (nc *NetworkClient) SendMessage(data []byte) error {
	if !nc.Ready() {
		return ErrNotConnected
	}
	select {
	case nc.sendChan <- data:
		return nil
	default:
		return errors.New("发送队列满")
	}
}

// SendEvent 序列化并发送一条消息
func (nc *NetworkClient) SendEvent(msg any) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	return nc.SendMessage(data)
}

// ========== 非阻塞读取 ==========

// ReceiveConnection 接收连接建立消息（非阻塞）
func (nc *NetworkClient) ReceiveConnection() *protocol.Connection {
	select {
	case msg := <-nc.connectionCh:
		return msg
	default:
		return nil
	}
}

// ReceiveEcho 接收发给自己的权威回传（非阻塞）
func (nc *NetworkClient) ReceiveEcho() *protocol.ServerUpdate {
	select {
	case msg := <-nc.echoCh:
		return msg
	default:
		return nil
	}
}

// ReceiveRemote 接收其他玩家的位置广播（非阻塞）
func (nc *NetworkClient) ReceiveRemote() *protocol.ServerUpdate {
	select {
	case msg := <-nc.remoteCh:
		return msg
	default:
		return nil
	}
}

// ReceivePlayerJoined 接收玩家加入事件（非阻塞）
func (nc *NetworkClient) ReceivePlayerJoined() *protocol.PlayerJoined {
	select {
	case msg := <-nc.joinedCh:
		return msg
	default:
		return nil
	}
}

// ReceivePlayerLeft 接收玩家离开事件（非阻塞），无事件时返回 -1
func (nc *NetworkClient) ReceivePlayerLeft() int32 {
	select {
	case id := <-nc.leftCh:
		return id
	default:
		return -1
	}
}

// ReceiveShoot 接收射击事件（非阻塞）
func (nc *NetworkClient) ReceiveShoot() *protocol.Shoot {
	select {
	case msg := <-nc.shootCh:
		return msg
	default:
		return nil
	}
}

// ReceiveHit 接收命中事件（非阻塞）
func (nc *NetworkClient) ReceiveHit() *protocol.Hit {
	select {
	case msg := <-nc.hitCh:
		return msg
	default:
		return nil
	}
}
