package rtc

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// PeerConn is the part of *webrtc.PeerConnection the manager drives.
type PeerConn interface {
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// PeerFactory opens a new peer connection.
type PeerFactory func() (PeerConn, error)

// NewPionFactory builds peer connections with the default codecs and the
// given STUN/TURN urls.
func NewPionFactory(iceURLs []string) PeerFactory {
	cfg := webrtc.Configuration{}
	if len(iceURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceURLs}}
	}
	return func() (PeerConn, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		return pc, nil
	}
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

type Timers interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallTimers struct{}

func (wallTimers) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
