package logic

// Intent is one tick's worth of movement intent.
type Intent struct {
	Forward bool
	Back    bool
	Left    bool
	Right   bool
	Jump    bool
	Run     bool
}

// Moving reports whether any directional key is held.
func (i Intent) Moving() bool {
	return i.Forward || i.Back || i.Left || i.Right
}

// Sampler supplies input to the frame loop.
type Sampler interface {
	// Sample returns the current intent. One-shot presses are consumed.
	Sample() Intent
	// OrbitDelta returns and clears the accumulated orbit drag in pixels.
	OrbitDelta() (dx, dy float64)
}

// Key names understood by Keys.
const (
	KeyForward = "w"
	KeyBack    = "s"
	KeyLeft    = "a"
	KeyRight   = "d"
	KeyJump    = "space"
	KeyRun     = "shift"
)

// Keys is a Sampler fed by key and mouse events. It is not safe for
// concurrent use; feed it from the goroutine that runs the frame loop.
type Keys struct {
	held     map[string]bool
	pressed  map[string]bool
	dragging bool
	dx, dy   float64
}

func NewKeys() *Keys {
	return &Keys{held: make(map[string]bool), pressed: make(map[string]bool)}
}

func (k *Keys) SetKey(key string, down bool) {
	if down {
		k.held[key] = true
		return
	}
	delete(k.held, key)
}

// Toggle flips a held key and reports the new state.
func (k *Keys) Toggle(key string) bool {
	down := !k.held[key]
	k.SetKey(key, down)
	return down
}

// Press registers a key that is seen by exactly one Sample call.
func (k *Keys) Press(key string) {
	k.pressed[key] = true
}

// ReleaseAll drops every held key and pending press.
func (k *Keys) ReleaseAll() {
	clear(k.held)
	clear(k.pressed)
}

// SetOrbitButton sets whether the orbit (right) mouse button is held.
func (k *Keys) SetOrbitButton(down bool) {
	k.dragging = down
}

// MouseMove accumulates a pointer delta; it only orbits while the button is held.
func (k *Keys) MouseMove(dx, dy float64) {
	if !k.dragging {
		return
	}
	k.dx += dx
	k.dy += dy
}

func (k *Keys) down(key string) bool {
	return k.held[key] || k.pressed[key]
}

func (k *Keys) Sample() Intent {
	in := Intent{
		Forward: k.down(KeyForward),
		Back:    k.down(KeyBack),
		Left:    k.down(KeyLeft),
		Right:   k.down(KeyRight),
		Jump:    k.down(KeyJump),
		Run:     k.down(KeyRun),
	}
	clear(k.pressed)
	return in
}

func (k *Keys) OrbitDelta() (float64, float64) {
	dx, dy := k.dx, k.dy
	k.dx, k.dy = 0, 0
	return dx, dy
}
