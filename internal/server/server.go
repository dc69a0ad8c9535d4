package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// RelayServer 中继服务器：监听、接受连接并驱动中继循环
type RelayServer struct {
	relay *Relay
	sim   *Simulator
	cfg   *Config

	listener ServerListener

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// NewRelayServer 创建中继服务器
func NewRelayServer(cfg *Config) *RelayServer {
	ctx, cancel := context.WithCancel(context.Background())

	sim := NewSimulator(Conditions{
		LatencyMs:         cfg.LatencyMs,
		PacketLossPercent: cfg.PacketLossPercent,
	})

	return &RelayServer{
		relay:    NewRelay(ctx, cfg, sim),
		sim:      sim,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
	}
}

// Conditions 当前网络条件（供诊断输出）
func (s *RelayServer) Conditions() Conditions {
	return s.sim.Conditions()
}

// Start 启动服务器，阻塞到 Shutdown 被调用
func (s *RelayServer) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Str("proto", s.cfg.Proto).Msg("启动中继服务器")

	listener, err := newListener(s.cfg)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	s.listener = listener

	log.Info().Stringer("listen", listener.Addr()).Msg("服务器监听中")

	s.wg.Add(1)
	go s.relay.Run(&s.wg)

	s.wg.Add(1)
	go s.acceptLoop()

	<-s.shutdown
	return nil
}

// Shutdown 优雅关闭服务器
func (s *RelayServer) Shutdown() {
	log.Info().Msg("正在关闭服务器...")

	s.cancel()
	s.relay.Shutdown()

	if s.listener != nil {
		s.listener.Close()
	}

	close(s.shutdown)
	s.wg.Wait()

	log.Info().Msg("服务器已关闭")
}

// acceptLoop 接受客户端连接
func (s *RelayServer) acceptLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			log.Info().Msg("停止接受新连接")
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Warn().Err(err).Msg("接受连接失败")
				continue
			}
		}

		log.Info().Stringer("remote", conn.RemoteAddr()).Msg("新连接")

		connection := NewConnection(conn, s)

		s.wg.Add(1)
		go connection.Handle(&s.wg)
	}
}
