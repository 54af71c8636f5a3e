package rtc

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

// ErrNoCapture means no screen capture source is available.
var ErrNoCapture = errors.New("rtc: screen capture unavailable")

// Capturer produces the local tracks a broadcaster attaches to each viewer.
type Capturer interface {
	Start() ([]webrtc.TrackLocal, error)
	Stop()
}

// IVFCapture loops a VP8 IVF file into a sample track.
type IVFCapture struct {
	Path string

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewIVFCapture(path string) *IVFCapture {
	return &IVFCapture{Path: path}
}

func (c *IVFCapture) Start() ([]webrtc.TrackLocal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil, fmt.Errorf("capture %s already running", c.Path)
	}

	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCapture, err)
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ivf header: %w", err)
	}
	if header.FourCC != "VP80" {
		f.Close()
		return nil, fmt.Errorf("ivf %s: unsupported codec %q", c.Path, header.FourCC)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "screen")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("new sample track: %w", err)
	}

	frame := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frame = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.pump(f, reader, track, frame, c.stop)
	return []webrtc.TrackLocal{track}, nil
}

func (c *IVFCapture) pump(f *os.File, reader *ivfreader.IVFReader, track *webrtc.TrackLocalStaticSample, frame time.Duration, stop <-chan struct{}) {
	defer c.wg.Done()
	defer f.Close()

	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		data, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				log.Printf("capture: rewind %s: %v", c.Path, err)
				return
			}
			if reader, _, err = ivfreader.NewWith(f); err != nil {
				log.Printf("capture: reopen %s: %v", c.Path, err)
				return
			}
			continue
		}
		if err != nil {
			log.Printf("capture: %s: %v", c.Path, err)
			return
		}
		if err := track.WriteSample(media.Sample{Data: data, Duration: frame}); err != nil {
			log.Printf("capture: write sample: %v", err)
			return
		}
	}
}

func (c *IVFCapture) Stop() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	c.wg.Wait()
}
