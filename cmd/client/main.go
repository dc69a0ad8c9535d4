package main

import (
	"flag"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"jackalopes/internal/client"
	"jackalopes/internal/server"
	"jackalopes/pkg/core"
	"jackalopes/pkg/protocol"
)

// 无界面演示客户端：绕圈走动、定时开火，用来观察预测/纠偏/插值链路
func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "服务器地址")
	proto := flag.String("proto", "tcp", "传输协议 tcp|kcp")
	offlinePath := flag.String("offline-bus", "", "离线总线文件（默认系统临时目录）")
	fireEvery := flag.Duration("fire-every", 2*time.Second, "开火间隔，0 不开火")
	adminLatency := flag.Float64("set-latency", -1, "启动后下发的附加延迟（毫秒），-1 不下发")
	adminLoss := flag.Float64("set-loss", -1, "启动后下发的丢包率（百分比），-1 不下发")
	adminSecret := flag.String("admin-secret", "", "管理令牌签名密钥")
	debug := flag.Bool("debug", false, "输出调试日志")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	network := client.NewNetworkClient(*addr, *proto)
	network.Start()
	defer network.Close()

	offline, err := client.NewOfflineBus(*offlinePath)
	if err != nil {
		log.Warn().Err(err).Msg("离线总线不可用，跳过兜底路径")
		offline = nil
	} else {
		defer offline.Close()
	}

	// 脚本化输入：持续前进，朝向缓慢旋转，偶尔跳一下
	var step atomic.Int64
	intent := func() (core.Intent, float64) {
		n := step.Add(1)
		in := core.Intent{Forward: true, Sprint: n%600 < 120}
		if n%240 == 0 {
			in.Jump = true
		}
		yaw := float64(n) / core.TPS * (math.Pi / 8) // 每 16 秒转一圈
		return in, yaw
	}

	gameClient := client.NewGameClient(network, offline, intent)

	// 管理命令（需要与服务器一致的密钥）
	if *adminLatency >= 0 || *adminLoss >= 0 {
		go sendAdminCommands(network, *adminSecret, *adminLatency, *adminLoss)
	}

	// 定时开火
	if *fireEvery > 0 {
		go func() {
			ticker := time.NewTicker(*fireEvery)
			defer ticker.Stop()
			for range ticker.C {
				n := step.Load()
				yaw := float64(n) / core.TPS * (math.Pi / 8)
				dir := core.Vec3{X: -math.Sin(yaw), Z: -math.Cos(yaw)}
				ev := gameClient.Fire(dir)
				log.Info().Str("shotId", ev.ShotID).Msg("开火")
			}
		}()
	}

	go gameClient.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	gameClient.Stop()

	st := gameClient.Predictor().State()
	log.Info().
		Float64("x", st.Position.X).Float64("y", st.Position.Y).Float64("z", st.Position.Z).
		Int("snapshots", gameClient.Snapshots().Len()).
		Int64("rttMs", network.RTT()).
		Msg("客户端退出")
}

// sendAdminCommands 等通道就绪后下发网络条件调整
func sendAdminCommands(network *client.NetworkClient, secret string, latency, loss float64) {
	token, err := server.GenerateAdminToken(secret)
	if err != nil {
		log.Warn().Err(err).Msg("签发管理令牌失败")
		return
	}

	for i := 0; i < 50 && !network.Ready(); i++ {
		time.Sleep(100 * time.Millisecond)
	}
	if !network.Ready() {
		log.Warn().Msg("通道未就绪，放弃下发管理命令")
		return
	}

	if latency >= 0 {
		cmd := protocol.NewAdminCommand(protocol.CmdSetLatency, latency, token)
		if err := network.SendEvent(cmd); err != nil {
			log.Warn().Err(err).Msg("下发延迟调整失败")
		}
	}
	if loss >= 0 {
		cmd := protocol.NewAdminCommand(protocol.CmdSetPacketLoss, loss, token)
		if err := network.SendEvent(cmd); err != nil {
			log.Warn().Err(err).Msg("下发丢包调整失败")
		}
	}
}
