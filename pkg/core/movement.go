package core

import "math"

// Intent 单个物理步进内采样一次的移动输入
// 只在预测器内部存活，不上网络
type Intent struct {
	Forward  bool
	Backward bool
	Left     bool
	Right    bool
	Jump     bool
	Sprint   bool
}

// State 移动积分器的完整状态
// 所有客户端使用同一套积分常量，保证相同输入序列得到相同轨迹
type State struct {
	Position Vec3
	Rotation Quat
	Velocity Vec3
	Grounded bool
}

// NewState 出生点初始状态
func NewState() State {
	return State{
		Position: SpawnPosition,
		Rotation: QuatIdentity(),
		Grounded: true,
	}
}

// Step 执行一个固定物理步进，返回新状态
// yaw 为朝向（弧度，绕 Y 轴），由外部视角输入提供
// 积分器内不含任何随机量和真实时钟，轨迹完全由输入与 dt 决定
func Step(s State, in Intent, yaw float64, dt float64) State {
	// 由朝向推导移动方向（-Z 为正前方）
	sin, cos := math.Sin(yaw), math.Cos(yaw)
	forward := Vec3{X: -sin, Y: 0, Z: -cos}
	right := Vec3{X: cos, Y: 0, Z: -sin}

	var wish Vec3
	if in.Forward {
		wish = wish.Add(forward)
	}
	if in.Backward {
		wish = wish.Sub(forward)
	}
	if in.Right {
		wish = wish.Add(right)
	}
	if in.Left {
		wish = wish.Sub(right)
	}
	wish = wish.Normalize()

	speed := WalkSpeed
	if in.Sprint {
		speed = SprintSpeed
	}

	// 水平速度向目标速度靠拢，地面与空中使用不同加速度
	accel := GroundAccel
	if !s.Grounded {
		accel = AirAccel
	}
	target := wish.Scale(speed)
	horizontal := Vec3{X: s.Velocity.X, Z: s.Velocity.Z}
	horizontal = MoveToward(horizontal, target, accel*dt)
	s.Velocity.X = horizontal.X
	s.Velocity.Z = horizontal.Z

	// 跳跃与重力
	if in.Jump && s.Grounded {
		s.Velocity.Y = JumpVelocity
		s.Grounded = false
	}
	if !s.Grounded {
		s.Velocity.Y -= Gravity * dt
	}

	// 位置积分
	s.Position = s.Position.Add(s.Velocity.Scale(dt))

	// 落地判定（地面为无限平面）
	if s.Position.Y <= GroundY {
		s.Position.Y = GroundY
		s.Velocity.Y = 0
		s.Grounded = true
	}

	s.Rotation = QuatFromYaw(yaw)
	return s
}
