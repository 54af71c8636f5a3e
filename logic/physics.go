package logic

import (
	"math"
)

// Box is an axis-aligned obstacle.
type Box struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// World is a small kinematic stand-in for the physics engine: a floor at
// y=0, box obstacles, and one capsule-ish body. It implements Body and Probe.
type World struct {
	Gravity float64
	Radius  float64
	Height  float64
	Boxes   []Box

	// OnFloorContact fires when the body touches the floor, with the vertical
	// velocity it arrived with.
	OnFloorContact func(vy float64)

	pos     Vec3
	vel     Vec3
	onFloor bool
}

func NewWorld(spawn Vec3, boxes []Box) *World {
	return &World{
		Gravity: 9.81,
		Radius:  0.3,
		Height:  1.8,
		Boxes:   boxes,
		pos:     spawn,
		onFloor: spawn[1] <= 0,
	}
}

func (w *World) Position() Vec3 { return w.pos }

func (w *World) SetPosition(p Vec3) { w.pos = p }

func (w *World) LinearVelocity() Vec3 { return w.vel }

func (w *World) SetLinearVelocity(v Vec3) { w.vel = v }

// Step integrates gravity and resolves floor and box contacts.
func (w *World) Step(dt float64) {
	if dt <= 0 {
		return
	}
	w.vel[1] -= w.Gravity * dt
	delta := w.vel.Mul(dt)

	next := w.resolveMovement(w.pos, Vec2{delta[0], delta[2]})
	y := w.pos[1] + delta[1]
	if y <= 0 {
		arriving := w.vel[1]
		y = 0
		if w.vel[1] < 0 {
			w.vel[1] = 0
		}
		if !w.onFloor && arriving <= 0 && w.OnFloorContact != nil {
			w.OnFloorContact(arriving)
		}
		w.onFloor = true
	} else {
		w.onFloor = false
	}
	w.pos = Vec3{next[0], y, next[1]}
}

// resolveMovement slides the body along boxes: try the full move, then X
// only, then Z only.
func (w *World) resolveMovement(pos Vec3, delta Vec2) Vec2 {
	from := Flat(pos)
	target := from.Add(delta)
	if !w.blocked(target, pos[1]) {
		return target
	}
	targetX := Vec2{from[0] + delta[0], from[1]}
	if !w.blocked(targetX, pos[1]) {
		return targetX
	}
	targetZ := Vec2{from[0], from[1] + delta[1]}
	if !w.blocked(targetZ, pos[1]) {
		return targetZ
	}
	return from
}

func (w *World) blocked(p Vec2, feet float64) bool {
	for _, b := range w.Boxes {
		if feet >= b.Max[1] || feet+w.Height <= b.Min[1] {
			continue
		}
		if CircleAABB(p, w.Radius, b) {
			return true
		}
	}
	return false
}

// CircleAABB checks overlap between a ground-plane circle and a box footprint.
func CircleAABB(c Vec2, r float64, b Box) bool {
	closestX := math.Max(b.Min[0], math.Min(c[0], b.Max[0]))
	closestZ := math.Max(b.Min[2], math.Min(c[1], b.Max[2]))
	dx := c[0] - closestX
	dz := c[1] - closestZ
	return dx*dx+dz*dz < r*r
}

// CastRay returns the distance to the nearest floor or box surface along dir.
func (w *World) CastRay(origin, dir Vec3, maxDist float64) (float64, bool) {
	best := math.Inf(1)
	if dir[1] < 0 && origin[1] >= 0 {
		if t := -origin[1] / dir[1]; t < best {
			best = t
		}
	}
	for _, b := range w.Boxes {
		if t, ok := rayBox(origin, dir, b); ok && t < best {
			best = t
		}
	}
	if best > maxDist {
		return 0, false
	}
	return best, true
}

// rayBox is the slab test. Rays starting inside a box do not hit it.
func rayBox(o, d Vec3, b Box) (float64, bool) {
	tmin, tmax := math.Inf(-1), math.Inf(1)
	for i := 0; i < 3; i++ {
		if math.Abs(d[i]) < 1e-12 {
			if o[i] < b.Min[i] || o[i] > b.Max[i] {
				return 0, false
			}
			continue
		}
		t1 := (b.Min[i] - o[i]) / d[i]
		t2 := (b.Max[i] - o[i]) / d[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return 0, false
		}
	}
	if tmin < 0 {
		return 0, false
	}
	return tmin, true
}
