package logic

// Anim identifies an animation label sent to the renderer and over the wire.
type Anim uint8

const (
	AnimIdle Anim = iota
	AnimWalking
	AnimRunning
	AnimJumping
	AnimRunJumping
	AnimLanding
	AnimSitting

	animCount
)

// RunJumpFallbackSpeed is the playback rate used when a run-jump is played
// with the plain jump clip.
const RunJumpFallbackSpeed = 0.6

var animNames = [animCount]string{
	AnimIdle:       "Idle",
	AnimWalking:    "Walk",
	AnimRunning:    "Run",
	AnimJumping:    "Jump",
	AnimRunJumping: "RunJump",
	AnimLanding:    "Landing",
	AnimSitting:    "Sitting",
}

// animFallback maps every label to the clip tried when its own is missing.
var animFallback = [animCount]Anim{
	AnimIdle:       AnimIdle,
	AnimWalking:    AnimIdle,
	AnimRunning:    AnimIdle,
	AnimJumping:    AnimIdle,
	AnimRunJumping: AnimJumping,
	AnimLanding:    AnimIdle,
	AnimSitting:    AnimIdle,
}

func (a Anim) String() string {
	if a >= animCount {
		return animNames[AnimIdle]
	}
	return animNames[a]
}

// Airborne reports whether a is one of the jump labels.
func (a Anim) Airborne() bool {
	return a == AnimJumping || a == AnimRunJumping
}

func (a Anim) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText reads a wire name. Unknown names decode as AnimIdle so a bad
// label never drops the rest of a message.
func (a *Anim) UnmarshalText(b []byte) error {
	*a, _ = ParseAnim(string(b))
	return nil
}

// ParseAnim looks a label up by its wire name.
func ParseAnim(name string) (Anim, bool) {
	for i, n := range animNames {
		if n == name {
			return Anim(i), true
		}
	}
	return AnimIdle, false
}

// Playback is the clip the renderer should play and at what rate.
type Playback struct {
	Clip  Anim
	Speed float64
}

// ClipSet is the set of clips a loaded avatar model provides. A nil set
// provides every clip.
type ClipSet map[Anim]bool

// NewClipSet builds a set from wire names, skipping unknown ones.
func NewClipSet(names ...string) ClipSet {
	set := make(ClipSet, len(names))
	for _, n := range names {
		if a, ok := ParseAnim(n); ok {
			set[a] = true
		}
	}
	return set
}

func (c ClipSet) Has(a Anim) bool {
	if c == nil {
		return true
	}
	return c[a]
}

// Resolve picks the clip to play for label a.
func (c ClipSet) Resolve(a Anim) Playback {
	if a >= animCount {
		a = AnimIdle
	}
	if c.Has(a) {
		return Playback{Clip: a, Speed: 1}
	}
	next := animFallback[a]
	if c.Has(next) {
		speed := 1.0
		if a == AnimRunJumping {
			speed = RunJumpFallbackSpeed
		}
		return Playback{Clip: next, Speed: speed}
	}
	return Playback{Clip: AnimIdle, Speed: 1}
}
