package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"jackalopes/internal/server"
)

func main() {
	// 命令行参数
	addr := flag.String("addr", "", "监听地址（覆盖配置文件）")
	proto := flag.String("proto", "", "监听协议 tcp|kcp（覆盖配置文件）")
	configPath := flag.String("config", "", "配置文件路径（JSON/YAML，可省略）")
	debug := flag.Bool("debug", false, "输出调试日志")
	printToken := flag.Bool("print-admin-token", false, "签发一枚管理令牌后退出")
	flag.Parse()

	// 日志
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// 配置
	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *proto != "" {
		cfg.Proto = *proto
	}

	if *printToken {
		token, err := server.GenerateAdminToken(cfg.AdminSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("签发管理令牌失败")
		}
		fmt.Println(token)
		return
	}

	// 创建并启动服务器
	relayServer := server.NewRelayServer(cfg)

	go func() {
		if err := relayServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("服务器启动失败")
		}
	}()

	log.Info().Msg("========================================")
	log.Info().Msg("  Jackalopes 权威中继服务器")
	log.Info().Msg("========================================")
	log.Info().Str("addr", cfg.Addr).Str("proto", cfg.Proto).Msg("监听地址")
	log.Info().Int("maxPlayers", cfg.MaxPlayers).Msg("最大玩家数")
	log.Info().
		Float64("major", cfg.MajorCorrectionThreshold).
		Float64("minor", cfg.MinorCorrectionThreshold).
		Msg("纠偏阈值")
	log.Info().
		Int64("latencyMs", relayServer.Conditions().LatencyMs).
		Float64("lossPercent", relayServer.Conditions().PacketLossPercent).
		Msg("初始网络条件")
	log.Info().Msg("按 Ctrl+C 停止服务器")

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	relayServer.Shutdown()
	log.Info().Msg("再见！")
}
