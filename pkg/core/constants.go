package core

// 物理步进配置
const (
	TPS            = 60 // 客户端预测步进频率（每秒）
	FixedDeltaTime = 1.0 / TPS
)

// 移动积分器配置
// 跳跃速度与重力由期望抛物线顶点推导：v = 2h/t，g = 2h/t²
const (
	WalkSpeed   = 4.0 // 行走速度（单位/秒）
	SprintSpeed = 7.0 // 冲刺速度（单位/秒）

	GroundAccel = 60.0 // 地面加速度（单位/秒²）
	AirAccel    = 15.0 // 空中加速度（单位/秒²）

	JumpApexHeight = 1.2  // 跳跃顶点高度（单位）
	JumpTimeToApex = 0.35 // 到达顶点耗时（秒）

	JumpVelocity = 2 * JumpApexHeight / JumpTimeToApex
	Gravity      = 2 * JumpApexHeight / (JumpTimeToApex * JumpTimeToApex)

	GroundY = 1.0 // 站在地面上时玩家中心的高度
)

// 预测纠偏配置
// 0.5 / 0.05 两个阈值沿用原有部署的默认值，服务端可经配置覆盖
const (
	MajorCorrectionThreshold = 0.5  // 超过视为大幅纠偏（单位）
	MinorCorrectionThreshold = 0.05 // 低于此值不纠偏

	BlendStrengthScale = 0.2  // 大幅纠偏强度 = 误差 × 比例
	BlendStrengthMin   = 0.1  // 大幅纠偏强度下限
	BlendStrengthMax   = 0.8  // 大幅纠偏强度上限
	MinorBlendStrength = 0.05 // 轻微纠偏的固定强度
)

// 远端插值配置
const (
	TeleportThreshold        = 10.0 // 位移超过视为瞬移，直接吸附不插值（单位）
	InterpolationDelayMs     = 100  // 远端渲染延迟（毫秒）
	SnapshotBufferCapacity   = 64   // 快照环形缓冲容量
	PredictionHistoryEntries = 128  // 保留未确认预测状态的条数
)

// 射击与命中配置
const (
	ProjectileSpeed    = 40.0 // 投射物速度（单位/秒）
	ProjectileLifetime = 3.0  // 投射物存活时间（秒）
	HitRadius          = 1.0  // 命中判定半径（单位）
	HitDamage          = 25.0 // 单次命中伤害
	HitPollIntervalMs  = 200  // 命中轮询间隔（毫秒）
	ShotDedupCapacity  = 100  // 射击去重键保留上限
)

// SpawnPosition 出生点
var SpawnPosition = Vec3{X: 0, Y: GroundY, Z: 0}

// DefaultHealth 出生血量
const DefaultHealth = 100.0

// AuthorityMode 服务端权威模式
// 目前只实现簿记式权威（信任客户端位置，仅做位移幅度校验），
// 模拟式权威留作将来扩展，不做隐式混合
type AuthorityMode int

const (
	AuthorityTrustClient AuthorityMode = iota
	AuthoritySimulateServer
)

// String 返回权威模式名称
func (m AuthorityMode) String() string {
	switch m {
	case AuthorityTrustClient:
		return "trust-client"
	case AuthoritySimulateServer:
		return "simulate-server"
	default:
		return "unknown"
	}
}
