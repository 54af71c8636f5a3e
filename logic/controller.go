package logic

import "math"

// Probe answers ray casts against the physics world. dir must be unit length.
type Probe interface {
	CastRay(origin, dir Vec3, maxDist float64) (dist float64, hit bool)
}

// Body is the physics body of the locally controlled avatar.
type Body interface {
	Position() Vec3
	SetPosition(Vec3)
	LinearVelocity() Vec3
	SetLinearVelocity(Vec3)
}

// Mode is the locomotion state.
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeWalking
	ModeRunning
	ModeJumping
	ModeRunJumping
	ModeLanding
	ModeSitting
	ModeNavigating
)

var modeNames = [...]string{"Idle", "Walking", "Running", "Jumping", "RunJumping", "Landing", "Sitting", "Navigating"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "Unknown"
}

// Seat is a fixed sitting spot. Entry is where the avatar must stand before
// it may sit; Position and Facing are the seated pose.
type Seat struct {
	Name     string  `json:"name"`
	Entry    Vec3    `json:"entry"`
	Position Vec3    `json:"position"`
	Facing   float64 `json:"facing"`
}

// AvatarState is the locally authoritative avatar. It is a plain value: Step
// takes one and returns the next.
type AvatarState struct {
	Position    Vec3
	Facing      float64
	VerticalVel float64
	Grounded    bool
	Anim        Anim
	Mode        Mode
	Target      *Vec3
	StuckTime   float64

	// Clock is simulation time in seconds, advanced by Step.
	Clock float64

	jumped       bool
	lastJump     float64
	landingLeft  float64
	airAnim      Anim
	prevPos      Vec3
	floorContact bool
	seat         *Seat

	// leftGround holds grounded false after a jump until the probe has lost
	// the floor once or the body stops rising.
	leftGround bool
}

// NavigateTo sets an auto-path target.
func (s *AvatarState) NavigateTo(p Vec3) {
	t := p
	s.Target = &t
	s.StuckTime = 0
	s.prevPos = s.Position
}

// ClearTarget drops the navigation target without reporting arrival.
func (s *AvatarState) ClearTarget() {
	s.Target = nil
	s.StuckTime = 0
}

// Seat returns the seat the avatar occupies, if any.
func (s AvatarState) Seat() (Seat, bool) {
	if s.seat == nil {
		return Seat{}, false
	}
	return *s.seat, true
}

// TickInput is everything Step reads besides the state itself.
type TickInput struct {
	Intent Intent
	// CameraYaw is the camera's horizontal orbit angle; manual movement is
	// relative to it.
	CameraYaw float64
	Dt        float64
	Position  Vec3
	Velocity  Vec3
}

// Output is what Step asks of the physics body and the renderer.
type Output struct {
	Velocity     Vec3
	FacingTarget float64
	Anim         Anim
	// Reached is set on the tick a navigation target is arrived at or abandoned.
	Reached bool
	// StoodUp is set on the tick input ends a seated pose.
	StoodUp bool
	// LockPosition asks the caller to write the state position to the body.
	LockPosition bool
}

// Controller is the locomotion state machine.
type Controller struct {
	tuning Tuning
	probe  Probe
}

func NewController(t Tuning, p Probe) *Controller {
	return &Controller{tuning: t, probe: p}
}

func (c *Controller) Tuning() Tuning {
	return c.tuning
}

// Sit seats the avatar when it stands at the seat entry.
func (c *Controller) Sit(s *AvatarState, seat Seat) bool {
	d := Flat(seat.Entry.Sub(s.Position)).Len()
	if d > c.tuning.ArrivalThreshold+c.tuning.SelfRadius {
		return false
	}
	st := seat
	s.seat = &st
	s.ClearTarget()
	s.Mode = ModeSitting
	s.Anim = AnimSitting
	s.landingLeft = 0
	return true
}

// Step advances the state machine by one tick.
func (c *Controller) Step(s AvatarState, in TickInput) (AvatarState, Output) {
	t := c.tuning
	dt := in.Dt
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		dt = 0
	}
	s.Clock += dt

	if s.seat != nil {
		return c.stepSeated(s, in, dt)
	}

	prevGrounded := s.Grounded
	prevVy := s.VerticalVel
	vy := in.Velocity[1]
	moved := Flat(in.Position.Sub(s.prevPos)).Len()
	s.Position = in.Position
	s.prevPos = in.Position

	grounded := c.groundCheck(in.Position, vy, s.floorContact)
	s.floorContact = false
	if s.leftGround {
		if !grounded || vy <= 0 {
			s.leftGround = false
		} else {
			grounded = false
		}
	}

	if grounded && !prevGrounded && math.Min(prevVy, vy) < t.HardFall {
		s.landingLeft = t.LandingDuration
	}
	landing := s.landingLeft > 0

	out := Output{FacingTarget: s.Facing}
	var move Vec2
	moveAnim := AnimIdle
	mode := ModeIdle

	switch {
	case landing:
		mode = ModeLanding
	case in.Intent.Moving():
		s.ClearTarget()
		speed, label, m := t.WalkSpeed, AnimWalking, ModeWalking
		if in.Intent.Run {
			speed, label, m = t.RunSpeed, AnimRunning, ModeRunning
		}
		move = cameraRelative(in.Intent, in.CameraYaw).Mul(speed)
		moveAnim, mode = label, m
	case s.Target != nil:
		if dt > 0 {
			if moved < t.StuckFraction*t.RunSpeed*dt {
				s.StuckTime += dt
			} else {
				s.StuckTime = 0
			}
		}
		to := Flat(s.Target.Sub(in.Position))
		dist := to.Len()
		if dist > t.ArrivalThreshold && s.StuckTime <= t.StuckTimeout {
			dir := to.Mul(1 / dist)
			if dist > t.AvoidMinDistance {
				dir = c.steer(in.Position, dir)
			}
			speed := t.RunSpeed
			if dt > 0 && speed*dt > dist {
				// Final approach: land on the target instead of overshooting it.
				speed = dist / dt
			}
			move = dir.Mul(speed)
			moveAnim, mode = AnimRunning, ModeNavigating
		} else {
			s.ClearTarget()
			out.Reached = true
		}
	}

	jumped := false
	if in.Intent.Jump && grounded && !landing && (!s.jumped || s.Clock-s.lastJump >= t.JumpCooldown) {
		vy = t.JumpImpulse
		grounded = false
		jumped = true
		s.leftGround = true
		s.jumped = true
		s.lastJump = s.Clock
		s.airAnim = AnimJumping
		if in.Intent.Run && move.Len() > 0.1 {
			s.airAnim = AnimRunJumping
		}
	}

	if !grounded {
		if !s.airAnim.Airborne() {
			s.airAnim = AnimJumping
		}
		if mode != ModeNavigating {
			mode = ModeJumping
			if s.airAnim == AnimRunJumping {
				mode = ModeRunJumping
			}
		}
	} else if !jumped {
		s.airAnim = AnimIdle
	}

	label := moveAnim
	switch {
	case landing:
		label = AnimLanding
	case !grounded:
		label = s.airAnim
	}

	if move.Len() > 1e-6 {
		out.FacingTarget = Heading(move)
		s.Facing = TurnToward(s.Facing, out.FacingTarget, t.RotationGain, dt)
	} else {
		s.Facing = WrapAngle(s.Facing)
	}

	if s.landingLeft > 0 {
		s.landingLeft = math.Max(0, s.landingLeft-dt)
	}

	s.Grounded = grounded
	s.VerticalVel = vy
	s.Anim = label
	s.Mode = mode
	out.Anim = label
	out.Velocity = Vec3{move[0], vy, move[1]}
	return s, out
}

func (c *Controller) stepSeated(s AvatarState, in TickInput, dt float64) (AvatarState, Output) {
	if in.Intent.Moving() || in.Intent.Jump {
		s.seat = nil
		s.Mode = ModeIdle
		s.Anim = AnimIdle
		s.VerticalVel = 0
		s.prevPos = s.Position
		return s, Output{FacingTarget: s.Facing, Anim: AnimIdle, StoodUp: true}
	}
	seat := s.seat
	s.Position = seat.Position
	s.prevPos = seat.Position
	s.Facing = TurnToward(s.Facing, seat.Facing, c.tuning.SitRotationGain, dt)
	s.VerticalVel = 0
	s.Grounded = true
	s.Anim = AnimSitting
	s.Mode = ModeSitting
	return s, Output{FacingTarget: seat.Facing, Anim: AnimSitting, LockPosition: true}
}

func (c *Controller) groundCheck(pos Vec3, vy float64, contact bool) bool {
	t := c.tuning
	if t.RisingOverride && vy > t.RisingBound {
		return false
	}
	if contact {
		return true
	}
	if c.probe == nil {
		return false
	}
	origin := pos.Add(up.Mul(t.GroundProbeLift))
	d, hit := c.probe.CastRay(origin, up.Mul(-1), t.GroundProbeLength)
	return hit && d < t.GroundThreshold
}

// steer bends dir away from obstacles found by the whisker rays. It is a
// local heuristic and can fail in concave spots; the stuck timeout covers that.
func (c *Controller) steer(pos Vec3, dir Vec2) Vec2 {
	t := c.tuning
	if c.probe == nil {
		return dir
	}
	origin := pos.Add(up.Mul(t.WhiskerHeight))
	var push Vec2
	for _, w := range t.Whiskers {
		wd := rotateFlat(dir, w.Angle)
		d, hit := c.probe.CastRay(origin, Lift(wd, 0), w.Length)
		if !hit || d <= t.SelfRadius || d >= w.Length {
			continue
		}
		strength := (w.Length - d) / w.Length * w.Weight * t.AvoidGain
		push = push.Sub(wd.Mul(strength))
	}
	steered := Unit(dir.Add(push))
	if steered == (Vec2{}) {
		return dir
	}
	return steered
}

// cameraRelative turns directional keys into a unit ground-plane direction
// relative to a camera orbiting at yaw.
func cameraRelative(in Intent, yaw float64) Vec2 {
	var fwd, side float64
	if in.Forward {
		fwd++
	}
	if in.Back {
		fwd--
	}
	if in.Right {
		side++
	}
	if in.Left {
		side--
	}
	s, c := math.Sincos(yaw)
	forward := Vec2{-s, -c}
	right := Vec2{c, -s}
	return Unit(forward.Mul(fwd).Add(right.Mul(side)))
}
