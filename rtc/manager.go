package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pion/webrtc/v4"

	"avatar_space/network"
)

type Role int

const (
	RoleInitiator Role = iota // viewer: sends the offer
	RoleReceiver              // broadcaster: answers
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "receiver"
}

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "idle"
	}
}

type session struct {
	id        string
	role      Role
	state     State
	pc        PeerConn
	remoteSet bool
	gotTrack  bool
	watchdog  Timer

	// Local candidates wait in outbox until our offer or answer is sent.
	described bool
	outbox    []webrtc.ICECandidateInit
}

// SessionInfo is a read-only view of one peer session.
type SessionInfo struct {
	ID        string
	Role      Role
	State     State
	RemoteSet bool
}

type Options struct {
	NewPeer PeerFactory
	Signal  network.Sender
	// Dispatch runs f on the goroutine that owns the manager. Pion callbacks
	// and finished signaling steps re-enter through it.
	Dispatch func(f func())
	// Go runs blocking signaling work. Defaults to a new goroutine.
	Go       func(f func())
	Timers   Timers
	Capture  Capturer
	Watchdog time.Duration
	Logger   *log.Logger
	// OnRemoteTrack receives inbound video. When nil the track is drained.
	OnRemoteTrack func(from string, track *webrtc.TrackRemote)
}

// Manager owns every peer session. Apart from Options.Go work, all methods
// must be called from the Dispatch goroutine.
type Manager struct {
	opts Options

	self        string
	broadcaster string
	sharing     bool
	tracks      []webrtc.TrackLocal

	sessions map[string]*session
	pending  map[string][]webrtc.ICECandidateInit
	// retry reconnects to the broadcaster when no session could be opened.
	retry Timer
}

func NewManager(opts Options) *Manager {
	if opts.Dispatch == nil {
		opts.Dispatch = func(f func()) { f() }
	}
	if opts.Go == nil {
		opts.Go = func(f func()) { go f() }
	}
	if opts.Timers == nil {
		opts.Timers = wallTimers{}
	}
	if opts.Watchdog <= 0 {
		opts.Watchdog = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*session),
		pending:  make(map[string][]webrtc.ICECandidateInit),
	}
}

func (m *Manager) logf(format string, args ...any) { m.opts.Logger.Printf("rtc: "+format, args...) }

func (m *Manager) SetSelf(id string) { m.self = id }

func (m *Manager) Sharing() bool { return m.sharing }

func (m *Manager) Broadcaster() string { return m.broadcaster }

func (m *Manager) Session(id string) (SessionInfo, bool) {
	s, ok := m.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return SessionInfo{ID: s.id, Role: s.role, State: s.state, RemoteSet: s.remoteSet}, true
}

func (m *Manager) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, len(m.sessions))
	for id := range m.sessions {
		info, _ := m.Session(id)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pending returns the number of queued candidates for id.
func (m *Manager) Pending(id string) int { return len(m.pending[id]) }

// BroadcasterAvailable is called when init or share-started names a
// broadcaster. Viewers connect straight away.
func (m *Manager) BroadcasterAvailable(id string) {
	if id == "" || id == m.self || m.sharing {
		return
	}
	m.broadcaster = id
	m.connect(id)
}

// RequestView asks the relay to let the broadcaster know and starts over.
func (m *Manager) RequestView() error {
	if m.broadcaster == "" {
		return errors.New("rtc: nobody is sharing")
	}
	if err := m.send(network.MsgRequestView, network.ViewRequest{Target: m.broadcaster}); err != nil {
		return err
	}
	m.connect(m.broadcaster)
	return nil
}

// StartShare makes this client the broadcaster. Without a capture source it
// fails with ErrNoCapture and changes nothing.
func (m *Manager) StartShare() error {
	if m.sharing {
		return nil
	}
	if m.opts.Capture == nil {
		return ErrNoCapture
	}
	tracks, err := m.opts.Capture.Start()
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	if err := m.send(network.MsgStartShare, nil); err != nil {
		m.opts.Capture.Stop()
		return err
	}
	m.teardownAll()
	m.broadcaster = ""
	m.sharing = true
	m.tracks = tracks
	m.logf("sharing %d track(s)", len(tracks))
	return nil
}

func (m *Manager) StopShare() {
	if !m.sharing {
		return
	}
	m.stopCapture()
	m.teardownAll()
	if err := m.send(network.MsgStopShare, nil); err != nil {
		m.logf("stop-share: %v", err)
	}
}

// ShareEnded handles share-ended from the relay.
func (m *Manager) ShareEnded() {
	if m.sharing {
		// Someone else took over.
		m.stopCapture()
	}
	m.broadcaster = ""
	m.teardownAll()
}

// ParticipantLeft drops the session with id; the broadcaster leaving ends
// the share for everyone.
func (m *Manager) ParticipantLeft(id string) {
	if id != "" && id == m.broadcaster {
		m.ShareEnded()
		return
	}
	if s, ok := m.sessions[id]; ok {
		m.closeSession(s)
		delete(m.sessions, id)
	}
	delete(m.pending, id)
}

func (m *Manager) ViewRequested(from string) {
	if m.sharing {
		m.logf("%s asked to view", from)
	}
}

// HandleSignal applies an offer, answer or candidate relayed from another peer.
func (m *Manager) HandleSignal(sig network.Signal) {
	if sig.From == "" {
		return
	}
	switch sig.Kind {
	case network.SignalOffer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(sig.Payload, &desc); err != nil {
			m.logf("bad offer from %s: %v", sig.From, err)
			return
		}
		m.answer(sig.From, desc)

	case network.SignalAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(sig.Payload, &desc); err != nil {
			m.logf("bad answer from %s: %v", sig.From, err)
			return
		}
		s, ok := m.sessions[sig.From]
		if !ok || s.role != RoleInitiator || s.remoteSet {
			return
		}
		m.setRemote(s, desc, nil)

	case network.SignalCandidate:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(sig.Payload, &c); err != nil {
			m.logf("bad candidate from %s: %v", sig.From, err)
			return
		}
		if s, ok := m.sessions[sig.From]; ok && s.remoteSet {
			if err := s.pc.AddICECandidate(c); err != nil {
				m.logf("add candidate from %s: %v", sig.From, err)
			}
			return
		}
		m.pending[sig.From] = append(m.pending[sig.From], c)
	}
}

// Close tears everything down.
func (m *Manager) Close() {
	m.stopCapture()
	m.teardownAll()
	m.broadcaster = ""
}

// connect starts the viewer flow toward id from scratch.
func (m *Manager) connect(id string) {
	m.stopRetry()
	s, err := m.replace(id, RoleInitiator)
	if err != nil {
		m.logf("connect %s: %v", id, err)
		m.scheduleRetry(id)
		return
	}
	m.armWatchdog(s)
	if _, err := s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		m.logf("add transceiver for %s: %v", id, err)
		return
	}
	m.opts.Go(func() {
		offer, err := s.pc.CreateOffer(nil)
		if err == nil {
			err = s.pc.SetLocalDescription(offer)
		}
		m.opts.Dispatch(func() {
			if m.sessions[id] != s {
				return
			}
			if err != nil {
				m.logf("offer to %s: %v", id, err)
				return
			}
			m.sendDescription(s, network.SignalOffer, offer)
		})
	})
}

// answer runs the broadcaster side for an incoming offer.
func (m *Manager) answer(from string, offer webrtc.SessionDescription) {
	if !m.sharing {
		m.logf("ignoring offer from %s: not sharing", from)
		return
	}
	s, err := m.replace(from, RoleReceiver)
	if err != nil {
		m.logf("accept %s: %v", from, err)
		return
	}
	for _, t := range m.tracks {
		if _, err := s.pc.AddTrack(t); err != nil {
			m.logf("attach track for %s: %v", from, err)
			return
		}
	}
	m.setRemote(s, offer, func() {
		m.opts.Go(func() {
			ans, err := s.pc.CreateAnswer(nil)
			if err == nil {
				err = s.pc.SetLocalDescription(ans)
			}
			m.opts.Dispatch(func() {
				if m.sessions[from] != s {
					return
				}
				if err != nil {
					m.logf("answer %s: %v", from, err)
					return
				}
				m.sendDescription(s, network.SignalAnswer, ans)
			})
		})
	})
}

// setRemote applies desc off the event goroutine, then flushes queued
// candidates in arrival order and calls next.
func (m *Manager) setRemote(s *session, desc webrtc.SessionDescription, next func()) {
	m.opts.Go(func() {
		err := s.pc.SetRemoteDescription(desc)
		m.opts.Dispatch(func() {
			if m.sessions[s.id] != s {
				return
			}
			if err != nil {
				m.logf("remote description from %s: %v", s.id, err)
				return
			}
			s.remoteSet = true
			m.flush(s)
			if next != nil {
				next()
			}
		})
	})
}

func (m *Manager) flush(s *session) {
	queued := m.pending[s.id]
	delete(m.pending, s.id)
	for _, c := range queued {
		if err := s.pc.AddICECandidate(c); err != nil {
			m.logf("add queued candidate from %s: %v", s.id, err)
		}
	}
}

// replace closes any session for id, then opens a fresh one.
func (m *Manager) replace(id string, role Role) (*session, error) {
	if old, ok := m.sessions[id]; ok {
		m.closeSession(old)
		delete(m.sessions, id)
	}
	delete(m.pending, id)

	pc, err := m.opts.NewPeer()
	if err != nil {
		return nil, err
	}
	s := &session{id: id, role: role, state: StateConnecting, pc: pc}
	m.sessions[id] = s

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := c.ToJSON()
		m.opts.Dispatch(func() {
			if m.sessions[id] != s {
				return
			}
			if !s.described {
				s.outbox = append(s.outbox, cand)
				return
			}
			m.sendJSON(id, network.SignalCandidate, cand)
		})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.opts.Dispatch(func() {
			if m.sessions[id] != s {
				return
			}
			s.gotTrack = true
			m.stopWatchdog(s)
			m.logf("receiving video from %s", id)
			if m.opts.OnRemoteTrack != nil {
				m.opts.OnRemoteTrack(id, track)
			} else if track != nil {
				go m.drain(id, track)
			}
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.opts.Dispatch(func() {
			if m.sessions[id] != s {
				return
			}
			m.connectionState(s, state)
		})
	})
	return s, nil
}

func (m *Manager) connectionState(s *session, state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.state = StateConnected
		m.stopWatchdog(s)
		m.logf("%s connected (%s)", s.id, s.role)
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		m.logf("%s %s", s.id, state)
		if s.role == RoleInitiator && s.state == StateConnected {
			s.state = StateConnecting
			s.gotTrack = false
			m.armWatchdog(s)
		}
	}
}

func (m *Manager) armWatchdog(s *session) {
	m.stopWatchdog(s)
	if s.role != RoleInitiator {
		return
	}
	s.watchdog = m.opts.Timers.AfterFunc(m.opts.Watchdog, func() {
		m.opts.Dispatch(func() {
			if m.sessions[s.id] != s || s.state == StateConnected || s.gotTrack {
				return
			}
			if m.broadcaster != s.id {
				return
			}
			m.logf("no video from %s after %s, reconnecting", s.id, m.opts.Watchdog)
			m.connect(s.id)
		})
	})
}

// scheduleRetry covers a connect that failed before any session existed, so
// there is no watchdog to recover it.
func (m *Manager) scheduleRetry(id string) {
	var t Timer
	t = m.opts.Timers.AfterFunc(m.opts.Watchdog, func() {
		m.opts.Dispatch(func() {
			if m.retry != t || m.broadcaster != id || m.sharing {
				return
			}
			m.retry = nil
			m.logf("retrying connection to %s", id)
			m.connect(id)
		})
	})
	m.retry = t
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) stopWatchdog(s *session) {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

func (m *Manager) closeSession(s *session) {
	m.stopWatchdog(s)
	s.state = StateIdle
	if err := s.pc.Close(); err != nil {
		m.logf("close %s: %v", s.id, err)
	}
}

func (m *Manager) teardownAll() {
	m.stopRetry()
	for id, s := range m.sessions {
		m.closeSession(s)
		delete(m.sessions, id)
	}
	clear(m.pending)
}

func (m *Manager) stopCapture() {
	if !m.sharing {
		return
	}
	m.sharing = false
	m.tracks = nil
	if m.opts.Capture != nil {
		m.opts.Capture.Stop()
	}
}

func (m *Manager) sendDescription(s *session, kind network.SignalKind, desc webrtc.SessionDescription) {
	m.sendJSON(s.id, kind, desc)
	s.described = true
	for _, c := range s.outbox {
		m.sendJSON(s.id, network.SignalCandidate, c)
	}
	s.outbox = nil
}

func (m *Manager) sendJSON(to string, kind network.SignalKind, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		m.logf("encode %s for %s: %v", kind, to, err)
		return
	}
	if err := m.send(network.MsgSignal, network.Signal{To: to, Kind: kind, Payload: b}); err != nil {
		m.logf("signal %s to %s: %v", kind, to, err)
	}
}

func (m *Manager) send(msgType string, payload any) error {
	if m.opts.Signal == nil {
		return errors.New("rtc: no signaling channel")
	}
	return m.opts.Signal.Send(msgType, payload)
}

func (m *Manager) drain(from string, track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	var total uint64
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			m.logf("video from %s ended after %s", from, humanize.Bytes(total))
			return
		}
		total += uint64(n)
	}
}
