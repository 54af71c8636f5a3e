package logic

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec3 is a world-space point or direction. Y is up.
type Vec3 = mgl64.Vec3

// Vec2 is a ground-plane vector holding (X, Z).
type Vec2 = mgl64.Vec2

var up = Vec3{0, 1, 0}

// Flat projects v onto the ground plane.
func Flat(v Vec3) Vec2 {
	return Vec2{v[0], v[2]}
}

// Lift turns a ground-plane vector back into world space at height y.
func Lift(v Vec2, y float64) Vec3 {
	return Vec3{v[0], y, v[1]}
}

// Unit returns v scaled to length 1, or the zero vector when v is (close to) zero.
func Unit(v Vec2) Vec2 {
	l := v.Len()
	if l < 1e-9 || math.IsNaN(l) || math.IsInf(l, 0) {
		return Vec2{}
	}
	return v.Mul(1 / l)
}

// WrapAngle reduces a to (-π, π].
func WrapAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// TurnToward moves facing toward target along the shortest arc. The step is
// wrap(target-facing) scaled by gain*dt, capped so it never overshoots.
func TurnToward(facing, target, gain, dt float64) float64 {
	k := gain * dt
	if k <= 0 {
		return WrapAngle(facing)
	}
	if k > 1 {
		k = 1
	}
	return WrapAngle(facing + WrapAngle(target-facing)*k)
}

// Heading is the facing angle of a ground-plane move vector.
func Heading(v Vec2) float64 {
	return math.Atan2(v[0], v[1])
}

// rotateFlat rotates v about the up axis by angle radians.
func rotateFlat(v Vec2, angle float64) Vec2 {
	s, c := math.Sincos(angle)
	return Vec2{v[0]*c + v[1]*s, -v[0]*s + v[1]*c}
}

func clampFloat(v, minV, maxV float64) float64 {
	if math.IsNaN(v) {
		return minV
	}
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
