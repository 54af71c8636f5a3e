package logic

import "testing"

func TestKeysPressIsOneShot(t *testing.T) {
	k := NewKeys()
	k.SetKey(KeyForward, true)
	k.Press(KeyJump)
	in := k.Sample()
	if !in.Forward || !in.Jump || !in.Moving() {
		t.Fatalf("first sample = %+v", in)
	}
	in = k.Sample()
	if !in.Forward || in.Jump {
		t.Fatalf("second sample = %+v, want forward held and jump consumed", in)
	}
	if k.Toggle(KeyForward) {
		t.Fatalf("toggle of held key should release it")
	}
	if k.Sample().Moving() {
		t.Fatalf("released key still moving")
	}
}

func TestOrbitDragNeedsButton(t *testing.T) {
	k := NewKeys()
	k.MouseMove(10, 10)
	if dx, dy := k.OrbitDelta(); dx != 0 || dy != 0 {
		t.Fatalf("drag without button = (%f, %f)", dx, dy)
	}
	k.SetOrbitButton(true)
	k.MouseMove(3, 4)
	k.MouseMove(1, -1)
	if dx, dy := k.OrbitDelta(); dx != 4 || dy != 3 {
		t.Fatalf("drag = (%f, %f), want (4, 3)", dx, dy)
	}
	if dx, dy := k.OrbitDelta(); dx != 0 || dy != 0 {
		t.Fatalf("delta not drained: (%f, %f)", dx, dy)
	}
}
