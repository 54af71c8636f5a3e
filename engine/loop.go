package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"avatar_space/config"
	"avatar_space/logic"
	"avatar_space/network"
	"avatar_space/rtc"
)

type Options struct {
	// NewPeer defaults to pion with the configured ICE servers.
	NewPeer rtc.PeerFactory
	// Capture is the screen source; nil disables sharing.
	Capture rtc.Capturer
	Console io.Writer
	Logger  *log.Logger
}

// Engine is the client: it drives the avatar, camera, reconciler and peer
// sessions from one goroutine. Everything else reaches it through Post.
type Engine struct {
	cfg *config.Config
	out network.Sender
	log *log.Logger

	Events chan func()
	done   chan struct{}

	keys   *logic.Keys
	world  *logic.World
	avatar *logic.Avatar
	camera *logic.Camera
	clips  logic.ClipSet
	recon  *network.Reconciler
	chat   *network.ChatLog
	peers  *rtc.Manager

	console io.Writer
	seats   map[string]logic.Seat
	seatFor *logic.Seat
	last    logic.Output
	frames  uint64
}

func New(cfg *config.Config, out network.Sender, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	console := opts.Console
	if console == nil {
		console = io.Discard
	}

	e := &Engine{
		cfg:     cfg,
		out:     out,
		log:     logger,
		Events:  make(chan func(), 256),
		done:    make(chan struct{}),
		keys:    logic.NewKeys(),
		world:   logic.NewWorld(cfg.Client.Spawn, cfg.Client.Obstacles),
		camera:  logic.NewCamera(cfg.Camera),
		clips:   logic.NewClipSet(cfg.Client.Clips...),
		chat:    network.NewChatLog(cfg.Network.ChatCap),
		console: console,
		seats:   make(map[string]logic.Seat),
	}
	for _, s := range cfg.Client.Seats {
		e.seats[s.Name] = s
	}

	e.avatar = logic.NewAvatar(logic.NewController(cfg.Controller, e.world), e.world)
	e.avatar.OnTargetReached = e.targetReached
	e.avatar.OnStandUp = func() { e.say("stood up") }
	e.world.OnFloorContact = e.avatar.FloorContact

	e.recon = network.NewReconciler(out, time.Duration(cfg.Network.EmitIntervalMs)*time.Millisecond, cfg.Network.SmoothingRate)
	e.recon.Logger = logger

	newPeer := opts.NewPeer
	if newPeer == nil {
		newPeer = rtc.NewPionFactory(cfg.RTC.ICEServers)
	}
	e.peers = rtc.NewManager(rtc.Options{
		NewPeer:  newPeer,
		Signal:   out,
		Dispatch: e.Post,
		Capture:  opts.Capture,
		Watchdog: time.Duration(cfg.RTC.WatchdogMs) * time.Millisecond,
		Logger:   logger,
	})
	return e
}

// Post queues f to run on the engine goroutine.
func (e *Engine) Post(f func()) {
	select {
	case e.Events <- f:
	case <-e.done:
	}
}

// Join announces this client to the relay.
func (e *Engine) Join() error {
	return e.out.Send(network.MsgJoin, network.JoinPayload{Name: e.cfg.Client.Name})
}

// Run owns the engine until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	period := time.Second / time.Duration(e.cfg.Client.FrameHz)
	dt := period.Seconds()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	defer close(e.done)

	e.log.Printf("engine: running at %d Hz", e.cfg.Client.FrameHz)
	for {
		select {
		case f := <-e.Events:
			e.safeStep("event", f)

		case <-ticker.C:
			e.Frame(dt)

		case <-ctx.Done():
			e.peers.Close()
			e.log.Printf("engine: stopped after %d frames", e.frames)
			return nil
		}
	}
}

// Frame advances the simulation by dt seconds. A panic inside one frame is
// logged and the next frame runs normally.
func (e *Engine) Frame(dt float64) bool {
	return e.safeStep("frame", func() { e.step(dt) })
}

func (e *Engine) safeStep(what string, f func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Printf("engine: %s %d panicked: %v", what, e.frames, r)
			ok = false
		}
	}()
	f()
	return true
}

func (e *Engine) step(dt float64) {
	e.frames++

	e.camera.Orbit(e.keys.OrbitDelta())
	out := e.avatar.Tick(e.keys.Sample(), e.camera.Yaw, dt)
	e.world.Step(dt)
	e.last = out

	st := e.avatar.State()
	if e.seatFor != nil && st.Target == nil && !out.Reached {
		// Manual input cancelled the walk to a seat.
		e.seatFor = nil
	}
	e.camera.Update(st.Position, st.Mode == logic.ModeSitting, dt)

	e.recon.Publish(st.Position, st.Facing, out.Anim)
	e.recon.Smooth(dt)
}

func (e *Engine) targetReached() {
	if e.seatFor == nil {
		e.say("arrived")
		return
	}
	seat := *e.seatFor
	e.seatFor = nil
	if e.avatar.Sit(seat) {
		e.say("sitting on %s", seat.Name)
		return
	}
	e.say("could not reach %s", seat.Name)
}

// HandleMessage applies one message from the relay.
func (e *Engine) HandleMessage(env network.Envelope) {
	var err error
	switch env.Type {
	case network.MsgInit:
		var p network.InitPayload
		if p, err = network.DecodePayload[network.InitPayload](env); err == nil {
			e.recon.Init(p)
			e.peers.SetSelf(p.Self)
			e.chat.Replace(p.Chat)
			e.say("joined as %s with %d others", p.Self, len(e.recon.Remotes()))
			if p.Broadcaster != "" {
				e.say("%s is sharing their screen", e.recon.Name(p.Broadcaster))
				e.peers.BroadcasterAvailable(p.Broadcaster)
			}
		}

	case network.MsgParticipantJoined:
		var p network.Participant
		if p, err = network.DecodePayload[network.Participant](env); err == nil {
			e.recon.Joined(p)
			e.say("%s joined", p.Name)
		}

	case network.MsgParticipantLeft:
		var p network.LeftPayload
		if p, err = network.DecodePayload[network.LeftPayload](env); err == nil {
			name := e.recon.Name(p.ID)
			e.recon.Left(p.ID)
			e.peers.ParticipantLeft(p.ID)
			e.say("%s left", name)
		}

	case network.MsgMoved:
		var p network.MovedPayload
		if p, err = network.DecodePayload[network.MovedPayload](env); err == nil {
			e.recon.Moved(p)
		}

	case network.MsgChat:
		var m network.ChatMessage
		if m, err = network.DecodePayload[network.ChatMessage](env); err == nil {
			e.chat.Add(m)
			e.say("[%s] %s", m.SenderName, m.Text)
		}

	case network.MsgShareStarted:
		var p network.SharePayload
		if p, err = network.DecodePayload[network.SharePayload](env); err == nil {
			e.say("%s started sharing", e.recon.Name(p.Broadcaster))
			e.peers.BroadcasterAvailable(p.Broadcaster)
		}

	case network.MsgShareEnded:
		e.say("screen share ended")
		e.peers.ShareEnded()

	case network.MsgSignal:
		var s network.Signal
		if s, err = network.DecodePayload[network.Signal](env); err == nil {
			e.peers.HandleSignal(s)
		}

	case network.MsgViewRequested:
		var v network.ViewRequest
		if v, err = network.DecodePayload[network.ViewRequest](env); err == nil {
			e.peers.ViewRequested(v.From)
		}

	default:
		e.log.Printf("engine: unknown message %q", env.Type)
	}
	if err != nil {
		e.log.Printf("engine: %v", err)
	}
}

// RemoteView is a remote avatar as the renderer should draw it.
type RemoteView struct {
	ID     string
	Name   string
	Visual network.Visual
}

// View is everything a renderer reads for one frame.
type View struct {
	Position logic.Vec3
	Facing   float64
	Mode     logic.Mode
	Anim     logic.Anim
	Playback logic.Playback
	Camera   struct {
		Position logic.Vec3
		LookAt   logic.Vec3
	}
	Remotes []RemoteView
}

func (e *Engine) View() View {
	st := e.avatar.State()
	v := View{
		Position: st.Position,
		Facing:   st.Facing,
		Mode:     st.Mode,
		Anim:     e.last.Anim,
		Playback: e.clips.Resolve(e.last.Anim),
	}
	v.Camera.Position = e.camera.Position
	v.Camera.LookAt = e.camera.LookAt
	for _, r := range e.recon.Remotes() {
		vis, _ := e.recon.Visual(r.ID)
		v.Remotes = append(v.Remotes, RemoteView{ID: r.ID, Name: r.Name, Visual: vis})
	}
	return v
}

func (e *Engine) say(format string, args ...any) {
	fmt.Fprintf(e.console, format+"\n", args...)
}
