package rtc

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"avatar_space/network"
)

type fakePeer struct {
	closed       bool
	transceivers int
	tracks       int
	local        *webrtc.SessionDescription
	remote       *webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit

	onICE   func(*webrtc.ICECandidate)
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onState func(webrtc.PeerConnectionState)
}

func (p *fakePeer) AddTransceiverFromKind(webrtc.RTPCodecType, ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	p.transceivers++
	return nil, nil
}

func (p *fakePeer) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.tracks++
	return nil, nil
}

func (p *fakePeer) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (p *fakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePeer) SetLocalDescription(d webrtc.SessionDescription) error {
	p.local = &d
	return nil
}

func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.remote = &d
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	if p.closed {
		return errors.New("closed")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(f func(*webrtc.ICECandidate)) { p.onICE = f }

func (p *fakePeer) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) { p.onTrack = f }

func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) { p.onState = f }

func (p *fakePeer) Close() error {
	p.closed = true
	return nil
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeTimers struct{ armed []*fakeTimer }

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	ft.armed = append(ft.armed, t)
	return t
}

func (ft *fakeTimers) last() *fakeTimer { return ft.armed[len(ft.armed)-1] }

type sent struct {
	msgType string
	payload any
}

type fakeSignal struct{ msgs []sent }

func (f *fakeSignal) Send(msgType string, payload any) error {
	f.msgs = append(f.msgs, sent{msgType, payload})
	return nil
}

// signals returns the relayed signals of kind, in order.
func (f *fakeSignal) signals(kind network.SignalKind) []network.Signal {
	var out []network.Signal
	for _, m := range f.msgs {
		if s, ok := m.payload.(network.Signal); ok && s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSignal) count(msgType string) int {
	n := 0
	for _, m := range f.msgs {
		if m.msgType == msgType {
			n++
		}
	}
	return n
}

type fakeCapture struct {
	started, stopped int
	err              error
}

func (c *fakeCapture) Start() ([]webrtc.TrackLocal, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.started++
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	if err != nil {
		return nil, err
	}
	return []webrtc.TrackLocal{track}, nil
}

func (c *fakeCapture) Stop() { c.stopped++ }

type harness struct {
	m      *Manager
	peers  []*fakePeer
	timers *fakeTimers
	sig    *fakeSignal
	queued []func()
	// peerErr makes NewPeer fail while set.
	peerErr error
}

// newHarness builds a manager whose signaling work runs inline unless
// deferWork is set, in which case it waits for runQueued.
func newHarness(t *testing.T, capture Capturer, deferWork bool) *harness {
	t.Helper()
	h := &harness{timers: &fakeTimers{}, sig: &fakeSignal{}}
	run := func(f func()) { f() }
	if deferWork {
		run = func(f func()) { h.queued = append(h.queued, f) }
	}
	opts := Options{
		NewPeer: func() (PeerConn, error) {
			if h.peerErr != nil {
				return nil, h.peerErr
			}
			p := &fakePeer{}
			h.peers = append(h.peers, p)
			return p, nil
		},
		Signal:        h.sig,
		Go:            run,
		Timers:        h.timers,
		Watchdog:      5 * time.Second,
		Logger:        log.New(io.Discard, "", 0),
		OnRemoteTrack: func(string, *webrtc.TrackRemote) {},
	}
	if capture != nil {
		opts.Capture = capture
	}
	h.m = NewManager(opts)
	h.m.SetSelf("me")
	return h
}

func (h *harness) runQueued() {
	for len(h.queued) > 0 {
		f := h.queued[0]
		h.queued = h.queued[1:]
		f()
	}
}

func (h *harness) peer() *fakePeer { return h.peers[len(h.peers)-1] }

func candidateSignal(t *testing.T, from, cand string) network.Signal {
	t.Helper()
	b, err := json.Marshal(webrtc.ICECandidateInit{Candidate: cand})
	if err != nil {
		t.Fatalf("marshal candidate: %v", err)
	}
	return network.Signal{From: from, Kind: network.SignalCandidate, Payload: b}
}

func descSignal(t *testing.T, from string, kind network.SignalKind, sdpType webrtc.SDPType) network.Signal {
	t.Helper()
	b, err := json.Marshal(webrtc.SessionDescription{Type: sdpType, SDP: string(kind)})
	if err != nil {
		t.Fatalf("marshal description: %v", err)
	}
	return network.Signal{From: from, Kind: kind, Payload: b}
}

func TestViewerSendsOffer(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.BroadcasterAvailable("b")

	p := h.peer()
	if p.transceivers != 1 {
		t.Fatalf("transceivers = %d, want 1 recv-only video", p.transceivers)
	}
	offers := h.sig.signals(network.SignalOffer)
	if len(offers) != 1 || offers[0].To != "b" {
		t.Fatalf("offers = %+v", offers)
	}
	if p.local == nil || p.local.Type != webrtc.SDPTypeOffer {
		t.Fatalf("local description not set to the offer")
	}
	info, ok := h.m.Session("b")
	if !ok || info.Role != RoleInitiator || info.State != StateConnecting {
		t.Fatalf("session = %+v, %v", info, ok)
	}
}

func TestBroadcasterAvailableIgnoresSelf(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.BroadcasterAvailable("me")
	if len(h.peers) != 0 {
		t.Fatalf("opened a session to ourselves")
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.BroadcasterAvailable("b")
	p := h.peer()

	for _, c := range []string{"c1", "c2", "c3"} {
		h.m.HandleSignal(candidateSignal(t, "b", c))
	}
	if len(p.candidates) != 0 {
		t.Fatalf("applied %d candidates before the answer", len(p.candidates))
	}
	if n := h.m.Pending("b"); n != 3 {
		t.Fatalf("pending = %d, want 3", n)
	}

	h.m.HandleSignal(descSignal(t, "b", network.SignalAnswer, webrtc.SDPTypeAnswer))
	h.m.HandleSignal(candidateSignal(t, "b", "c4"))

	want := []string{"c1", "c2", "c3", "c4"}
	if len(p.candidates) != len(want) {
		t.Fatalf("applied %d candidates, want %d", len(p.candidates), len(want))
	}
	for i, c := range p.candidates {
		if c.Candidate != want[i] {
			t.Fatalf("candidate %d = %s, want %s", i, c.Candidate, want[i])
		}
	}
	if h.m.Pending("b") != 0 {
		t.Fatalf("queue not cleared after flush")
	}
}

func TestCandidatesWhileRemoteDescriptionInFlight(t *testing.T) {
	h := newHarness(t, nil, true)
	h.m.BroadcasterAvailable("b")
	h.runQueued()
	p := h.peer()

	h.m.HandleSignal(descSignal(t, "b", network.SignalAnswer, webrtc.SDPTypeAnswer))
	h.m.HandleSignal(candidateSignal(t, "b", "c1"))
	h.m.HandleSignal(candidateSignal(t, "b", "c2"))
	if len(p.candidates) != 0 {
		t.Fatalf("candidates applied before the description landed")
	}
	h.runQueued()
	if len(p.candidates) != 2 || p.candidates[0].Candidate != "c1" || p.candidates[1].Candidate != "c2" {
		t.Fatalf("candidates = %+v", p.candidates)
	}
}

func TestLocalCandidatesFollowOffer(t *testing.T) {
	h := newHarness(t, nil, true)
	h.m.BroadcasterAvailable("b")
	p := h.peer()

	p.onICE(&webrtc.ICECandidate{Foundation: "1", Protocol: webrtc.ICEProtocolUDP, Address: "10.0.0.1", Port: 5000, Typ: webrtc.ICECandidateTypeHost, Component: 1})
	p.onICE(nil)
	if len(h.sig.msgs) != 0 {
		t.Fatalf("sent %d signals before the offer", len(h.sig.msgs))
	}
	h.runQueued()

	if len(h.sig.msgs) != 2 {
		t.Fatalf("sent %d signals, want offer then candidate", len(h.sig.msgs))
	}
	first := h.sig.msgs[0].payload.(network.Signal)
	second := h.sig.msgs[1].payload.(network.Signal)
	if first.Kind != network.SignalOffer || second.Kind != network.SignalCandidate {
		t.Fatalf("order = %s, %s", first.Kind, second.Kind)
	}
}

func TestReplaceClosesOldSession(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.BroadcasterAvailable("b")
	h.m.BroadcasterAvailable("b")

	if len(h.peers) != 2 {
		t.Fatalf("peers = %d, want 2", len(h.peers))
	}
	if !h.peers[0].closed || h.peers[1].closed {
		t.Fatalf("closed = %v/%v, want old closed and new open", h.peers[0].closed, h.peers[1].closed)
	}
	if n := len(h.m.Sessions()); n != 1 {
		t.Fatalf("sessions = %d, want 1", n)
	}

	// The stale connection must not drive the live session.
	h.peers[0].onState(webrtc.PeerConnectionStateConnected)
	if info, _ := h.m.Session("b"); info.State != StateConnecting {
		t.Fatalf("stale callback changed state to %s", info.State)
	}
}

func TestWatchdogRecreatesSession(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.BroadcasterAvailable("b")

	timer := h.timers.last()
	if timer.d != 5*time.Second {
		t.Fatalf("watchdog = %v, want 5s", timer.d)
	}
	timer.f()

	if len(h.peers) != 2 || !h.peers[0].closed {
		t.Fatalf("watchdog did not rebuild the session")
	}
	if n := len(h.sig.signals(network.SignalOffer)); n != 2 {
		t.Fatalf("offers = %d, want 2", n)
	}
	if h.timers.last() == timer {
		t.Fatalf("watchdog not re-armed for the new session")
	}
	if !timer.stopped {
		t.Fatalf("old watchdog left armed")
	}
}

func TestTrackCancelsWatchdog(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.BroadcasterAvailable("b")
	timer := h.timers.last()

	h.peer().onTrack(nil, nil)
	if !timer.stopped {
		t.Fatalf("track arrival did not cancel the watchdog")
	}
	// A fire that raced the cancel is still ignored.
	timer.f()
	if len(h.peers) != 1 {
		t.Fatalf("watchdog reconnected after a track arrived")
	}
}

func TestWatchdogSilentAfterConnected(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.BroadcasterAvailable("b")
	timer := h.timers.last()

	h.peer().onState(webrtc.PeerConnectionStateConnected)
	if !timer.stopped {
		t.Fatalf("connected did not cancel the watchdog")
	}
	timer.f()
	if len(h.peers) != 1 {
		t.Fatalf("watchdog reconnected a connected session")
	}
	if info, _ := h.m.Session("b"); info.State != StateConnected {
		t.Fatalf("state = %s", info.State)
	}
}

func TestDisconnectRearmsWatchdog(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.BroadcasterAvailable("b")
	p := h.peer()
	p.onState(webrtc.PeerConnectionStateConnected)
	armed := len(h.timers.armed)

	p.onState(webrtc.PeerConnectionStateFailed)
	if len(h.timers.armed) != armed+1 {
		t.Fatalf("failure did not re-arm the watchdog")
	}
	h.timers.last().f()
	if len(h.peers) != 2 {
		t.Fatalf("watchdog did not reconnect after failure")
	}
}

func TestBroadcasterLeftTearsDownEverything(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.BroadcasterAvailable("b")
	h.m.HandleSignal(candidateSignal(t, "b", "c1"))
	h.m.HandleSignal(candidateSignal(t, "x", "stray"))
	timer := h.timers.last()

	h.m.ParticipantLeft("b")

	if !h.peers[0].closed {
		t.Fatalf("session left open")
	}
	if len(h.m.Sessions()) != 0 || h.m.Pending("b") != 0 || h.m.Pending("x") != 0 {
		t.Fatalf("state left behind: sessions %d, pending %d/%d", len(h.m.Sessions()), h.m.Pending("b"), h.m.Pending("x"))
	}
	if !timer.stopped {
		t.Fatalf("watchdog still armed")
	}
	if h.m.Broadcaster() != "" {
		t.Fatalf("broadcaster = %q", h.m.Broadcaster())
	}
}

func TestShareEndedTearsDown(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.BroadcasterAvailable("b")
	h.m.ShareEnded()
	if len(h.m.Sessions()) != 0 || !h.peers[0].closed {
		t.Fatalf("share-ended left a session open")
	}
}

func TestStartShareWithoutCapture(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.BroadcasterAvailable("b")
	before := len(h.sig.msgs)

	err := h.m.StartShare()
	if !errors.Is(err, ErrNoCapture) {
		t.Fatalf("err = %v, want ErrNoCapture", err)
	}
	if len(h.sig.msgs) != before || h.m.Sharing() {
		t.Fatalf("failed share had side effects")
	}
	if h.peers[0].closed || len(h.m.Sessions()) != 1 {
		t.Fatalf("failed share tore down the viewer session")
	}
}

func TestStartShareCaptureError(t *testing.T) {
	capture := &fakeCapture{err: ErrNoCapture}
	h := newHarness(t, capture, false)
	if err := h.m.StartShare(); !errors.Is(err, ErrNoCapture) {
		t.Fatalf("err = %v", err)
	}
	if h.sig.count(network.MsgStartShare) != 0 {
		t.Fatalf("start-share sent without capture")
	}
}

func TestBroadcasterAnswersOffer(t *testing.T) {
	capture := &fakeCapture{}
	h := newHarness(t, capture, false)
	if err := h.m.StartShare(); err != nil {
		t.Fatalf("StartShare: %v", err)
	}
	if h.sig.count(network.MsgStartShare) != 1 || !h.m.Sharing() {
		t.Fatalf("start-share not sent")
	}

	h.m.HandleSignal(descSignal(t, "v", network.SignalOffer, webrtc.SDPTypeOffer))
	p := h.peer()
	if p.tracks != 1 {
		t.Fatalf("tracks attached = %d, want 1", p.tracks)
	}
	if p.remote == nil || p.remote.Type != webrtc.SDPTypeOffer {
		t.Fatalf("remote offer not applied")
	}
	answers := h.sig.signals(network.SignalAnswer)
	if len(answers) != 1 || answers[0].To != "v" {
		t.Fatalf("answers = %+v", answers)
	}
	if info, _ := h.m.Session("v"); info.Role != RoleReceiver || !info.RemoteSet {
		t.Fatalf("session = %+v", info)
	}
	if len(h.timers.armed) != 0 {
		t.Fatalf("receiver sessions should not arm a watchdog")
	}

	h.m.StopShare()
	if !p.closed || len(h.m.Sessions()) != 0 {
		t.Fatalf("stop-share left sessions open")
	}
	if capture.stopped != 1 || h.sig.count(network.MsgStopShare) != 1 {
		t.Fatalf("capture stopped %d, stop-share sent %d", capture.stopped, h.sig.count(network.MsgStopShare))
	}
}

func TestOfferIgnoredWhenNotSharing(t *testing.T) {
	h := newHarness(t, nil, false)
	h.m.HandleSignal(descSignal(t, "v", network.SignalOffer, webrtc.SDPTypeOffer))
	if len(h.peers) != 0 {
		t.Fatalf("opened a receiver session without sharing")
	}
}

func TestFailedConnectIsRetried(t *testing.T) {
	h := newHarness(t, nil, false)
	h.peerErr = errors.New("no network")
	h.m.BroadcasterAvailable("b")

	if _, ok := h.m.Session("b"); ok {
		t.Fatalf("session exists after a failed connect")
	}
	if len(h.timers.armed) != 1 {
		t.Fatalf("armed timers = %d, want a retry", len(h.timers.armed))
	}
	retry := h.timers.last()

	h.peerErr = nil
	retry.f()
	if info, ok := h.m.Session("b"); !ok || info.Role != RoleInitiator {
		t.Fatalf("retry did not open a viewer session: %+v", info)
	}
	if n := len(h.sig.signals(network.SignalOffer)); n != 1 {
		t.Fatalf("offers = %d, want 1", n)
	}
}

func TestRetryCancelledWhenShareEnds(t *testing.T) {
	h := newHarness(t, nil, false)
	h.peerErr = errors.New("no network")
	h.m.BroadcasterAvailable("b")
	retry := h.timers.last()

	h.m.ShareEnded()
	if !retry.stopped {
		t.Fatalf("retry left armed after share ended")
	}
	h.peerErr = nil
	retry.f()
	if len(h.peers) != 0 {
		t.Fatalf("stale retry opened a peer connection")
	}
}
