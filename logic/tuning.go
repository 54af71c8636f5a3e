package logic

import "math"

// Tuning holds the locomotion constants. Durations are in seconds.
type Tuning struct {
	WalkSpeed   float64 `json:"walk_speed"`
	RunSpeed    float64 `json:"run_speed"`
	JumpImpulse float64 `json:"jump_impulse"`

	JumpCooldown    float64 `json:"jump_cooldown_sec"`
	LandingDuration float64 `json:"landing_sec"`
	HardFall        float64 `json:"hard_fall_velocity"`

	// Ground probe: the ray starts GroundProbeLift above the feet and the
	// avatar is grounded when the hit is closer than GroundThreshold.
	GroundProbeLift   float64 `json:"ground_probe_lift"`
	GroundProbeLength float64 `json:"ground_probe_length"`
	GroundThreshold   float64 `json:"ground_threshold"`
	// RisingOverride treats vertical velocity above RisingBound as airborne
	// even when the probe still reports ground. Off by default.
	RisingOverride bool    `json:"rising_override"`
	RisingBound    float64 `json:"rising_bound"`

	RotationGain    float64 `json:"rotation_gain"`
	SitRotationGain float64 `json:"sit_rotation_gain"`

	ArrivalThreshold float64 `json:"arrival_threshold"`
	StuckTimeout     float64 `json:"stuck_timeout_sec"`
	// StuckFraction of RunSpeed*dt is the per-tick displacement below which
	// a navigating avatar counts as stuck.
	StuckFraction float64 `json:"stuck_fraction"`

	AvoidMinDistance float64   `json:"avoid_min_distance"`
	AvoidGain        float64   `json:"avoid_gain"`
	SelfRadius       float64   `json:"self_radius"`
	WhiskerHeight    float64   `json:"whisker_height"`
	Whiskers         []Whisker `json:"whiskers"`
}

// Whisker is one obstacle-avoidance ray, fanned Angle radians off the
// straight line to the target.
type Whisker struct {
	Angle  float64 `json:"angle"`
	Length float64 `json:"length"`
	Weight float64 `json:"weight"`
}

func DefaultTuning() Tuning {
	side := 25 * math.Pi / 180
	wide := 50 * math.Pi / 180
	return Tuning{
		WalkSpeed:         3,
		RunSpeed:          6,
		JumpImpulse:       5,
		JumpCooldown:      0.5,
		LandingDuration:   0.2,
		HardFall:          -2,
		GroundProbeLift:   0.1,
		GroundProbeLength: 1,
		GroundThreshold:   0.15,
		RisingBound:       0.5,
		RotationGain:      10,
		SitRotationGain:   15,
		ArrivalThreshold:  0.2,
		StuckTimeout:      2,
		StuckFraction:     0.1,
		AvoidMinDistance:  1,
		AvoidGain:         1.5,
		SelfRadius:        0.3,
		WhiskerHeight:     0.5,
		Whiskers: []Whisker{
			{Angle: 0, Length: 2, Weight: 1},
			{Angle: side, Length: 1.5, Weight: 0.8},
			{Angle: -side, Length: 1.5, Weight: 0.8},
			{Angle: wide, Length: 1, Weight: 0.5},
			{Angle: -wide, Length: 1, Weight: 0.5},
		},
	}
}

// Clamp enforces safety bounds in place.
func (t *Tuning) Clamp() {
	t.WalkSpeed = clampFloat(t.WalkSpeed, 0.1, 20)
	t.RunSpeed = clampFloat(t.RunSpeed, t.WalkSpeed, 40)
	t.JumpImpulse = clampFloat(t.JumpImpulse, 0.5, 30)
	t.JumpCooldown = clampFloat(t.JumpCooldown, 0, 5)
	t.LandingDuration = clampFloat(t.LandingDuration, 0, 2)
	t.HardFall = clampFloat(t.HardFall, -50, -0.1)
	t.GroundProbeLift = clampFloat(t.GroundProbeLift, 0, 1)
	t.GroundThreshold = clampFloat(t.GroundThreshold, t.GroundProbeLift, t.GroundProbeLift+1)
	t.GroundProbeLength = clampFloat(t.GroundProbeLength, t.GroundThreshold, 10)
	t.RisingBound = clampFloat(t.RisingBound, 0, 10)
	t.RotationGain = clampFloat(t.RotationGain, 0.1, 100)
	t.SitRotationGain = clampFloat(t.SitRotationGain, 0.1, 100)
	t.ArrivalThreshold = clampFloat(t.ArrivalThreshold, 0.01, 5)
	t.StuckTimeout = clampFloat(t.StuckTimeout, 0.1, 60)
	t.StuckFraction = clampFloat(t.StuckFraction, 0, 1)
	t.AvoidMinDistance = clampFloat(t.AvoidMinDistance, 0, 50)
	t.AvoidGain = clampFloat(t.AvoidGain, 0, 10)
	t.SelfRadius = clampFloat(t.SelfRadius, 0, 2)
	t.WhiskerHeight = clampFloat(t.WhiskerHeight, 0, 3)
	for i := range t.Whiskers {
		w := &t.Whiskers[i]
		w.Angle = clampFloat(w.Angle, -math.Pi/2, math.Pi/2)
		w.Length = clampFloat(w.Length, t.SelfRadius+0.01, 20)
		w.Weight = clampFloat(w.Weight, 0, 5)
	}
}
