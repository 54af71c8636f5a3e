package network

import (
	"log"
	"math"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"avatar_space/logic"
)

// Sender is the outbound half of a transport.
type Sender interface {
	Send(msgType string, payload any) error
}

// Remote is the last known state of another participant.
type Remote struct {
	Participant
	UpdatedAt time.Time
}

// Visual is the smoothed transform the renderer draws for a remote.
type Visual struct {
	Position logic.Vec3
	Facing   float64
	Anim     logic.Anim
}

type snapshot struct {
	pos    logic.Vec3
	facing float64
	anim   logic.Anim
}

// Reconciler throttles local state to the relay and owns the registry of
// remote participants. It is not safe for concurrent use; the engine calls it
// from its event goroutine only.
type Reconciler struct {
	out     Sender
	limiter *rate.Limiter
	now     func() time.Time

	latest  snapshot
	sent    snapshot
	dirty   bool
	hasSent bool

	self    string
	remotes map[string]*Remote
	visuals map[string]*Visual
	// SmoothingRate is the exponential approach rate (1/s) of visuals.
	SmoothingRate float64

	Logger *log.Logger
}

func NewReconciler(out Sender, interval time.Duration, smoothingRate float64) *Reconciler {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Reconciler{
		out:           out,
		limiter:       rate.NewLimiter(rate.Every(interval), 1),
		now:           time.Now,
		remotes:       make(map[string]*Remote),
		visuals:       make(map[string]*Visual),
		SmoothingRate: smoothingRate,
	}
}

// SetClock replaces the wall clock used for throttling and timestamps.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

func (r *Reconciler) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Publish records the latest local state and emits it if it changed since the
// last emission and the interval allows. Skipped values are overwritten, not
// queued. It reports whether a move message was sent.
func (r *Reconciler) Publish(pos logic.Vec3, facing float64, anim logic.Anim) bool {
	r.latest = snapshot{pos: pos, facing: facing, anim: anim}
	if !r.hasSent || r.latest != r.sent {
		r.dirty = true
	}
	return r.Flush()
}

// Flush emits the pending value if the throttle allows.
func (r *Reconciler) Flush() bool {
	if !r.dirty || r.out == nil {
		return false
	}
	if !r.limiter.AllowN(r.now(), 1) {
		return false
	}
	s := r.latest
	facing := s.facing
	anim := s.anim
	pos := s.pos
	if err := r.out.Send(MsgMove, MoveState{Position: &pos, Facing: &facing, Anim: &anim}); err != nil {
		// The token is spent; the value stays dirty for the next slot.
		r.logf("reconciler: send move: %v", err)
		return false
	}
	r.sent = s
	r.hasSent = true
	r.dirty = false
	return true
}

// Init replaces the registry with the participants of an init message.
func (r *Reconciler) Init(p InitPayload) {
	r.self = p.Self
	clear(r.remotes)
	clear(r.visuals)
	for _, part := range p.Participants {
		r.Joined(part)
	}
}

// Self is the id the relay assigned to this client.
func (r *Reconciler) Self() string { return r.self }

// Joined inserts or resets a participant.
func (r *Reconciler) Joined(p Participant) {
	if p.ID == "" || p.ID == r.self {
		return
	}
	p.Facing = logic.WrapAngle(p.Facing)
	r.remotes[p.ID] = &Remote{Participant: p, UpdatedAt: r.now()}
	r.visuals[p.ID] = &Visual{Position: p.Position, Facing: p.Facing, Anim: p.Anim}
}

// Moved merges a partial update. Unknown ids are ignored.
func (r *Reconciler) Moved(m MovedPayload) bool {
	rem, ok := r.remotes[m.ID]
	if !ok {
		return false
	}
	rem.Apply(m.MoveState)
	rem.UpdatedAt = r.now()
	return true
}

// Left removes a participant; absent ids are fine.
func (r *Reconciler) Left(id string) {
	delete(r.remotes, id)
	delete(r.visuals, id)
}

func (r *Reconciler) Remote(id string) (Remote, bool) {
	rem, ok := r.remotes[id]
	if !ok {
		return Remote{}, false
	}
	return *rem, true
}

// Remotes returns the registry sorted by id.
func (r *Reconciler) Remotes() []Remote {
	out := make([]Remote, 0, len(r.remotes))
	for _, rem := range r.remotes {
		out = append(out, *rem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Reconciler) Name(id string) string {
	if rem, ok := r.remotes[id]; ok {
		return rem.Name
	}
	return id
}

// Smooth moves every visual toward its snapshot. Snapshots are never written.
func (r *Reconciler) Smooth(dt float64) {
	if dt <= 0 {
		return
	}
	alpha := 1 - math.Exp(-r.SmoothingRate*dt)
	for id, v := range r.visuals {
		rem, ok := r.remotes[id]
		if !ok {
			continue
		}
		v.Position = v.Position.Add(rem.Position.Sub(v.Position).Mul(alpha))
		v.Facing = logic.WrapAngle(v.Facing + logic.WrapAngle(rem.Facing-v.Facing)*alpha)
		v.Anim = rem.Anim
	}
}

func (r *Reconciler) Visual(id string) (Visual, bool) {
	v, ok := r.visuals[id]
	if !ok {
		return Visual{}, false
	}
	return *v, true
}
