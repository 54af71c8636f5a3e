package engine

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"

	"avatar_space/logic"
	"avatar_space/network"
	"avatar_space/rtc"
)

const helpText = `commands:
  w a s d        toggle a direction key
  run            toggle running
  jump           jump once
  stop           release keys and cancel navigation
  goto X Z       walk to a point
  sit NAME       walk to a seat and sit
  orbit DX DY    drag the camera
  say TEXT       chat
  chat           show recent chat
  share/unshare  start or stop screen sharing
  view [ID]      reconnect to the broadcaster
  who            list participants
  where          show own state
  quit`

var directionKeys = map[string]string{
	"w": logic.KeyForward,
	"s": logic.KeyBack,
	"a": logic.KeyLeft,
	"d": logic.KeyRight,
}

// Command runs one console line and reports whether the user asked to quit.
func (e *Engine) Command(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	if key, ok := directionKeys[cmd]; ok {
		e.say("%s %s", cmd, onOff(e.keys.Toggle(key)))
		return false
	}

	switch cmd {
	case "run":
		e.say("run %s", onOff(e.keys.Toggle(logic.KeyRun)))

	case "jump":
		e.keys.Press(logic.KeyJump)

	case "stop":
		e.keys.ReleaseAll()
		e.avatar.CancelNavigation()
		e.seatFor = nil

	case "goto":
		if len(args) != 2 {
			e.say("usage: goto X Z")
			return false
		}
		x, errX := strconv.ParseFloat(args[0], 64)
		z, errZ := strconv.ParseFloat(args[1], 64)
		if errX != nil || errZ != nil {
			e.say("goto: bad coordinates")
			return false
		}
		e.seatFor = nil
		pos := e.avatar.State().Position
		e.avatar.NavigateTo(logic.Vec3{x, pos[1], z})

	case "sit":
		if len(args) != 1 {
			e.say("usage: sit NAME")
			return false
		}
		seat, ok := e.seats[args[0]]
		if !ok {
			e.say("no seat named %q", args[0])
			return false
		}
		if e.avatar.Sit(seat) {
			e.say("sitting on %s", seat.Name)
			return false
		}
		e.seatFor = &seat
		e.avatar.NavigateTo(seat.Entry)

	case "orbit":
		if len(args) != 2 {
			e.say("usage: orbit DX DY")
			return false
		}
		dx, errX := strconv.ParseFloat(args[0], 64)
		dy, errY := strconv.ParseFloat(args[1], 64)
		if errX != nil || errY != nil {
			e.say("orbit: bad delta")
			return false
		}
		e.keys.SetOrbitButton(true)
		e.keys.MouseMove(dx, dy)
		e.keys.SetOrbitButton(false)

	case "say":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		if text == "" {
			return false
		}
		if err := e.out.Send(network.MsgChat, network.ChatPayload{Text: text}); err != nil {
			e.say("say: %v", err)
		}

	case "chat":
		for _, m := range e.chat.Entries() {
			e.say("%s [%s] %s", m.Timestamp.Local().Format("15:04"), m.SenderName, m.Text)
		}

	case "share":
		if err := e.peers.StartShare(); err != nil {
			if errors.Is(err, rtc.ErrNoCapture) {
				e.say("screen capture is not available")
				return false
			}
			e.say("share: %v", err)
			return false
		}
		e.say("sharing")

	case "unshare":
		e.peers.StopShare()

	case "view":
		if len(args) == 1 && args[0] != e.peers.Broadcaster() {
			e.say("%s is not sharing", args[0])
			return false
		}
		if err := e.peers.RequestView(); err != nil {
			e.say("view: %v", err)
		}

	case "who":
		e.who()

	case "where":
		st := e.avatar.State()
		e.say("at %.2f %.2f %.2f facing %.2f, %s (%s)", st.Position[0], st.Position[1], st.Position[2],
			st.Facing, st.Mode, e.clips.Resolve(e.last.Anim).Clip)

	case "help":
		e.say(helpText)

	case "quit", "exit":
		return true

	default:
		e.say("unknown command %q, try help", cmd)
	}
	return false
}

func (e *Engine) who() {
	remotes := e.recon.Remotes()
	if len(remotes) == 0 {
		e.say("nobody else is here")
	}
	sessions := make(map[string]rtc.SessionInfo)
	for _, s := range e.peers.Sessions() {
		sessions[s.ID] = s
	}
	sort.Slice(remotes, func(i, j int) bool { return remotes[i].Name < remotes[j].Name })
	for _, r := range remotes {
		line := r.Name + " (" + r.ID + ") " + r.Anim.String()
		if r.ID == e.peers.Broadcaster() {
			line += ", sharing"
		}
		if s, ok := sessions[r.ID]; ok {
			line += ", video " + s.State.String()
		}
		e.say("%s", line)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// RunConsole feeds lines from r into the engine until quit, EOF or ctx ends.
// It calls stop when the user quits.
func RunConsole(ctx context.Context, r io.Reader, e *Engine, stop func()) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			quit := make(chan bool, 1)
			e.Post(func() { quit <- e.Command(line) })
			select {
			case q := <-quit:
				if q {
					stop()
					return nil
				}
			case <-ctx.Done():
				return nil
			}
		}
	}
}
