package server

import (
	"fmt"

	"github.com/spf13/viper"

	"jackalopes/pkg/core"
)

// Config 中继服务器配置
// 纠偏阈值保留为配置项（默认值沿用 0.5 / 0.05，不另行发明）
type Config struct {
	Addr       string `mapstructure:"addr"`
	Proto      string `mapstructure:"proto"`
	MaxPlayers int    `mapstructure:"maxPlayers"`

	MajorCorrectionThreshold float64 `mapstructure:"majorCorrectionThreshold"`
	MinorCorrectionThreshold float64 `mapstructure:"minorCorrectionThreshold"`

	// KCP 会话调优（仅 proto=kcp 生效）：快速模式用激进的
	// nodelay/重传参数换低延迟，带宽开销更高
	KCPFastMode bool `mapstructure:"kcpFastMode"`

	// 初始网络条件，启动后可由管理命令调整
	LatencyMs         int64   `mapstructure:"latencyMs"`
	PacketLossPercent float64 `mapstructure:"packetLossPercent"`

	AdminSecret string `mapstructure:"adminSecret"`
}

// LoadConfig 读取配置
// path 为空时只用默认值；支持 JSON / YAML 配置文件与环境变量覆盖
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("proto", "tcp")
	v.SetDefault("maxPlayers", 16)
	v.SetDefault("kcpFastMode", true)
	v.SetDefault("majorCorrectionThreshold", core.MajorCorrectionThreshold)
	v.SetDefault("minorCorrectionThreshold", core.MinorCorrectionThreshold)
	v.SetDefault("latencyMs", 0)
	v.SetDefault("packetLossPercent", 0)
	v.SetDefault("adminSecret", "")

	v.SetEnvPrefix("jackalopes")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if cfg.MinorCorrectionThreshold > cfg.MajorCorrectionThreshold {
		return nil, fmt.Errorf("minorCorrectionThreshold (%v) 不能大于 majorCorrectionThreshold (%v)",
			cfg.MinorCorrectionThreshold, cfg.MajorCorrectionThreshold)
	}

	return &cfg, nil
}
