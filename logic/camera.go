package logic

import "math"

// CameraTuning configures the orbit camera. Smoothing factors are the
// fraction of the remaining distance covered per 60 Hz frame.
type CameraTuning struct {
	Radius        float64 `json:"radius"`
	Lift          float64 `json:"lift"`
	Sensitivity   float64 `json:"sensitivity"`
	Smoothing     float64 `json:"smoothing"`
	SeatSmoothing float64 `json:"seat_smoothing"`
	MinPolar      float64 `json:"min_polar"`
	MaxPolar      float64 `json:"max_polar"`
	InitialYaw    float64 `json:"initial_yaw"`
	InitialPolar  float64 `json:"initial_polar"`
}

const polarMargin = 1e-3

func DefaultCameraTuning() CameraTuning {
	return CameraTuning{
		Radius:        6,
		Lift:          1.5,
		Sensitivity:   0.005,
		Smoothing:     0.1,
		SeatSmoothing: 0.25,
		MinPolar:      0.1,
		MaxPolar:      math.Pi/2 - 0.05,
		InitialYaw:    0,
		InitialPolar:  math.Pi / 3,
	}
}

// Clamp keeps the polar range strictly inside (0, π/2).
func (t *CameraTuning) Clamp() {
	t.Radius = clampFloat(t.Radius, 0.5, 100)
	t.Lift = clampFloat(t.Lift, 0, 10)
	t.Sensitivity = clampFloat(t.Sensitivity, 0.0001, 0.1)
	t.Smoothing = clampFloat(t.Smoothing, 0.01, 1)
	t.SeatSmoothing = clampFloat(t.SeatSmoothing, t.Smoothing, 1)
	t.MinPolar = clampFloat(t.MinPolar, polarMargin, math.Pi/2-2*polarMargin)
	t.MaxPolar = clampFloat(t.MaxPolar, t.MinPolar+polarMargin, math.Pi/2-polarMargin)
	t.InitialPolar = clampFloat(t.InitialPolar, t.MinPolar, t.MaxPolar)
	t.InitialYaw = WrapAngle(t.InitialYaw)
}

// Camera is a spherical follow camera around the controlled avatar.
type Camera struct {
	tuning CameraTuning

	Yaw   float64
	Polar float64

	Position Vec3
	LookAt   Vec3
	placed   bool
}

func NewCamera(t CameraTuning) *Camera {
	return &Camera{tuning: t, Yaw: t.InitialYaw, Polar: t.InitialPolar}
}

// Orbit applies a mouse-drag delta in pixels.
func (c *Camera) Orbit(dx, dy float64) {
	c.Yaw = WrapAngle(c.Yaw - dx*c.tuning.Sensitivity)
	c.Polar = clampFloat(c.Polar-dy*c.tuning.Sensitivity, c.tuning.MinPolar, c.tuning.MaxPolar)
}

// Offset is the camera position relative to the anchor, before lift.
func (c *Camera) Offset() Vec3 {
	r := c.tuning.Radius
	sp, cp := math.Sincos(c.Polar)
	sy, cy := math.Sincos(c.Yaw)
	return Vec3{r * sp * sy, r * cp, r * sp * cy}
}

// Update moves the camera toward its orbit position around anchor. Seated
// avatars use the snappier seat smoothing.
func (c *Camera) Update(anchor Vec3, seated bool, dt float64) {
	lift := Vec3{0, c.tuning.Lift, 0}
	target := anchor.Add(c.Offset()).Add(lift)
	c.LookAt = anchor.Add(lift)
	if !c.placed {
		c.Position = target
		c.placed = true
		return
	}
	factor := c.tuning.Smoothing
	if seated {
		factor = c.tuning.SeatSmoothing
	}
	c.Position = c.Position.Add(target.Sub(c.Position).Mul(smoothingAlpha(factor, dt)))
}

// smoothingAlpha converts a per-60Hz-frame factor into one for dt seconds.
func smoothingAlpha(factor, dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	if factor >= 1 {
		return 1
	}
	return 1 - math.Pow(1-factor, dt*60)
}
