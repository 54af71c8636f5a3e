package logic

// Avatar binds a Controller to the physics body it drives. It is the only
// writer of the body's position and velocity.
type Avatar struct {
	ctrl  *Controller
	body  Body
	state AvatarState

	// OnTargetReached runs once per finished or abandoned navigation.
	OnTargetReached func()
	// OnStandUp runs when input ends a seated pose.
	OnStandUp func()
}

func NewAvatar(ctrl *Controller, body Body) *Avatar {
	a := &Avatar{ctrl: ctrl, body: body}
	a.state.Position = body.Position()
	a.state.prevPos = a.state.Position
	return a
}

func (a *Avatar) State() AvatarState {
	return a.state
}

func (a *Avatar) NavigateTo(p Vec3) {
	a.state.NavigateTo(p)
}

func (a *Avatar) CancelNavigation() {
	a.state.ClearTarget()
}

// Sit seats the avatar if it is standing at the seat entry.
func (a *Avatar) Sit(seat Seat) bool {
	return a.ctrl.Sit(&a.state, seat)
}

// FloorContact records a collision-enter event. Contacts while moving up are
// ceiling bumps and are ignored.
func (a *Avatar) FloorContact(vy float64) {
	if vy <= 0 {
		a.state.floorContact = true
	}
}

// Tick runs one controller step and applies it to the body.
func (a *Avatar) Tick(in Intent, cameraYaw, dt float64) Output {
	next, out := a.ctrl.Step(a.state, TickInput{
		Intent:    in,
		CameraYaw: cameraYaw,
		Dt:        dt,
		Position:  a.body.Position(),
		Velocity:  a.body.LinearVelocity(),
	})
	a.state = next
	if out.LockPosition {
		a.body.SetPosition(next.Position)
	}
	a.body.SetLinearVelocity(out.Velocity)
	if out.Reached && a.OnTargetReached != nil {
		a.OnTargetReached()
	}
	if out.StoodUp && a.OnStandUp != nil {
		a.OnStandUp()
	}
	return out
}
