package server

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Conditions 网络条件模拟参数，进程启动时归零，仅由管理命令修改
type Conditions struct {
	LatencyMs         int64   // 人为附加延迟（毫秒），≥ 0
	PacketLossPercent float64 // 丢包率，[0, 100]
}

// Clamped 返回收敛到合法区间后的参数
func (c Conditions) Clamped() Conditions {
	if c.LatencyMs < 0 {
		c.LatencyMs = 0
	}
	if c.PacketLossPercent < 0 {
		c.PacketLossPercent = 0
	}
	if c.PacketLossPercent > 100 {
		c.PacketLossPercent = 100
	}
	return c
}

// Simulator 出站路径上的网络条件模拟器
// 只影响扇出：中继自身的簿记在收包时立即完成，不受延迟与丢包影响。
// 丢包静默无重试；延迟用定时器实现延后投递，中继循环不会被阻塞，
// 同一连接上的多个延迟投递可能乱序完成，这正是用来考验客户端的
type Simulator struct {
	mu   sync.RWMutex
	cond Conditions
	roll func() float64 // [0,1) 均匀随机，测试可注入
}

// NewSimulator 创建模拟器
func NewSimulator(cond Conditions) *Simulator {
	return &Simulator{
		cond: cond.Clamped(),
		roll: rand.Float64,
	}
}

// Conditions 读取当前参数
func (s *Simulator) Conditions() Conditions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cond
}

// SetLatency 设置附加延迟（毫秒），越界自动收敛
func (s *Simulator) SetLatency(ms float64) Conditions {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cond.LatencyMs = int64(ms)
	s.cond = s.cond.Clamped()
	return s.cond
}

// SetPacketLoss 设置丢包率（百分比），越界自动收敛
func (s *Simulator) SetPacketLoss(percent float64) Conditions {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cond.PacketLossPercent = percent
	s.cond = s.cond.Clamped()
	return s.cond
}

// Send 经模拟器投递一条出站消息
// 先掷丢包，再视延迟决定直接发送还是定时器延后发送；
// 延后发送前检查会话是否已关闭，关闭的套接字不会收到迟到投递
func (s *Simulator) Send(sess Session, data []byte) {
	s.mu.RLock()
	cond := s.cond
	s.mu.RUnlock()

	if cond.PacketLossPercent > 0 && s.roll()*100 < cond.PacketLossPercent {
		return
	}

	if cond.LatencyMs <= 0 {
		if err := sess.Send(data); err != nil {
			log.Debug().Err(err).Int32("player", sess.ID()).Msg("投递失败")
		}
		return
	}

	time.AfterFunc(time.Duration(cond.LatencyMs)*time.Millisecond, func() {
		select {
		case <-sess.Done():
			// 连接已关闭，丢弃迟到投递
		default:
			if err := sess.Send(data); err != nil {
				log.Debug().Err(err).Int32("player", sess.ID()).Msg("延迟投递失败")
			}
		}
	})
}
