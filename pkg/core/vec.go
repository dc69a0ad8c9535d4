package core

import (
	"encoding/json"
	"fmt"
	"math"
)

// Vec3 三维向量（位置、速度、方向共用）
// 线上序列化为 [x, y, z] 数组
type Vec3 struct {
	X, Y, Z float64
}

// Add 向量加法
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub 向量减法
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale 向量数乘
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Length 向量长度
func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Distance 两点间欧氏距离
func Distance(a, b Vec3) float64 {
	return a.Sub(b).Length()
}

// Normalize 归一化（零向量原样返回）
func (v Vec3) Normalize() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// Lerp 线性插值，t 取 [0,1]
func Lerp(a, b Vec3, t float64) Vec3 {
	return Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// MoveToward 向目标向量靠近，单步最多移动 maxDelta
func MoveToward(v, target Vec3, maxDelta float64) Vec3 {
	delta := target.Sub(v)
	dist := delta.Length()
	if dist <= maxDelta || dist == 0 {
		return target
	}
	return v.Add(delta.Scale(maxDelta / dist))
}

// MarshalJSON 序列化为 [x, y, z]
func (v Vec3) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{v.X, v.Y, v.Z})
}

// UnmarshalJSON 从 [x, y, z] 反序列化
func (v *Vec3) UnmarshalJSON(data []byte) error {
	var arr [3]float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("vec3 解析失败: %w", err)
	}
	v.X, v.Y, v.Z = arr[0], arr[1], arr[2]
	return nil
}

// Quat 旋转四元数，线上序列化为 [x, y, z, w] 数组
type Quat struct {
	X, Y, Z, W float64
}

// QuatIdentity 单位旋转
func QuatIdentity() Quat {
	return Quat{W: 1}
}

// QuatFromYaw 绕 Y 轴旋转 yaw 弧度的四元数
func QuatFromYaw(yaw float64) Quat {
	half := yaw / 2
	return Quat{Y: math.Sin(half), W: math.Cos(half)}
}

// Dot 四元数点积
func (q Quat) Dot(o Quat) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// normalize 归一化，防止插值累积漂移
func (q Quat) normalize() Quat {
	l := math.Sqrt(q.Dot(q))
	if l == 0 {
		return QuatIdentity()
	}
	return Quat{q.X / l, q.Y / l, q.Z / l, q.W / l}
}

// Slerp 球面插值，t 取 [0,1]，自动走最短路径
func Slerp(a, b Quat, t float64) Quat {
	dot := a.Dot(b)
	if dot < 0 {
		b = Quat{-b.X, -b.Y, -b.Z, -b.W}
		dot = -dot
	}

	// 夹角过小时退化为线性插值，避免除零
	if dot > 0.9995 {
		return Quat{
			X: a.X + (b.X-a.X)*t,
			Y: a.Y + (b.Y-a.Y)*t,
			Z: a.Z + (b.Z-a.Z)*t,
			W: a.W + (b.W-a.W)*t,
		}.normalize()
	}

	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta
	return Quat{
		X: wa*a.X + wb*b.X,
		Y: wa*a.Y + wb*b.Y,
		Z: wa*a.Z + wb*b.Z,
		W: wa*a.W + wb*b.W,
	}
}

// MarshalJSON 序列化为 [x, y, z, w]
func (q Quat) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{q.X, q.Y, q.Z, q.W})
}

// UnmarshalJSON 从 [x, y, z, w] 反序列化
func (q *Quat) UnmarshalJSON(data []byte) error {
	var arr [4]float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("quat 解析失败: %w", err)
	}
	q.X, q.Y, q.Z, q.W = arr[0], arr[1], arr[2], arr[3]
	return nil
}
