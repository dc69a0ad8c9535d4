package core

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVec3Basics(t *testing.T) {
	a := Vec3{X: 1, Y: 2, Z: 2}
	assert.InDelta(t, 3, a.Length(), 1e-9)
	assert.InDelta(t, 1, a.Normalize().Length(), 1e-9)
	assert.InDelta(t, 0, Vec3{}.Normalize().Length(), 1e-9)

	b := Vec3{X: 4, Y: 2, Z: 2}
	assert.InDelta(t, 3, Distance(a, b), 1e-9)
}

func TestLerpEndpoints(t *testing.T) {
	a := Vec3{X: 0, Y: 0, Z: 0}
	b := Vec3{X: 10, Y: -4, Z: 2}
	assert.Equal(t, a, Lerp(a, b, 0))
	assert.Equal(t, b, Lerp(a, b, 1))
	mid := Lerp(a, b, 0.5)
	assert.InDelta(t, 5, mid.X, 1e-9)
	assert.InDelta(t, -2, mid.Y, 1e-9)
}

func TestMoveTowardDoesNotOvershoot(t *testing.T) {
	cur := Vec3{X: 0}
	target := Vec3{X: 1}
	got := MoveToward(cur, target, 10)
	assert.Equal(t, target, got)

	got = MoveToward(cur, target, 0.25)
	assert.InDelta(t, 0.25, got.X, 1e-9)
}

func TestSlerpShortestPath(t *testing.T) {
	a := QuatFromYaw(0)
	b := QuatFromYaw(math.Pi / 2)
	half := Slerp(a, b, 0.5)

	want := QuatFromYaw(math.Pi / 4)
	assert.InDelta(t, 1, math.Abs(half.Dot(want)), 1e-6)

	// 端点
	assert.InDelta(t, 1, math.Abs(Slerp(a, b, 0).Dot(a)), 1e-9)
	assert.InDelta(t, 1, math.Abs(Slerp(a, b, 1).Dot(b)), 1e-9)
}

func TestVecQuatJSONShape(t *testing.T) {
	v := Vec3{X: 1, Y: 2, Z: 3}
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(data))

	var back Vec3
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, v, back)

	q := QuatIdentity()
	data, err = json.Marshal(q)
	require.NoError(t, err)
	assert.JSONEq(t, `[0,0,0,1]`, string(data))

	var qb Quat
	require.NoError(t, json.Unmarshal(data, &qb))
	assert.Equal(t, q, qb)
}
