package server

import (
	"fmt"
	"net"

	kcp "github.com/xtaci/kcp-go/v5"
)

// ServerListener 抽象 TCP / KCP 两种监听方式
type ServerListener interface {
	Accept() (net.Conn, error)
	Close() error
	Addr() net.Addr
}

func newListener(cfg *Config) (ServerListener, error) {
	switch cfg.Proto {
	case "tcp":
		listener, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			return nil, err
		}
		return &tcpListener{listener: listener}, nil
	case "kcp":
		listener, err := kcp.ListenWithOptions(cfg.Addr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		return &kcpListener{listener: listener, fastMode: cfg.KCPFastMode}, nil
	default:
		return nil, fmt.Errorf("不支持的协议: %s", cfg.Proto)
	}
}

// TuneKCPSession 按部署配置调整 KCP 会话参数
// 状态同步流量是大量小消息：快速模式关掉 nodelay 节流、缩短内部
// 刷新间隔并加大窗口；非快速模式保留 KCP 默认的保守重传
func TuneKCPSession(sess *kcp.UDPSession, fast bool) {
	// 消息边界由长度前缀协议保证，开流模式即可
	sess.SetStreamMode(true)
	sess.SetACKNoDelay(fast)
	if fast {
		sess.SetNoDelay(1, 10, 2, 1)
		sess.SetWindowSize(256, 256)
	} else {
		sess.SetNoDelay(0, 40, 0, 0)
	}
}

type tcpListener struct {
	listener net.Listener
}

func (l *tcpListener) Accept() (net.Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	// 禁用 Nagle，降低小消息延迟
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return conn, nil
}

func (l *tcpListener) Close() error {
	return l.listener.Close()
}

func (l *tcpListener) Addr() net.Addr {
	return l.listener.Addr()
}

type kcpListener struct {
	listener *kcp.Listener
	fastMode bool
}

func (l *kcpListener) Accept() (net.Conn, error) {
	session, err := l.listener.AcceptKCP()
	if err != nil {
		return nil, err
	}
	TuneKCPSession(session, l.fastMode)
	return session, nil
}

func (l *kcpListener) Close() error {
	return l.listener.Close()
}

func (l *kcpListener) Addr() net.Addr {
	return l.listener.Addr()
}
