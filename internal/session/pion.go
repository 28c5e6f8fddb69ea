package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/tutorlane/tutorlane/internal/signal"
)

// SampleTrack is a Track backed by a pion sample track. Producers push
// encoded frames through WriteSample; a disabled track drops them, which
// reads as muted on the remote side.
type SampleTrack struct {
	kind    string
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	onEnded []func()
}

func NewSampleTrack(kind string) (*SampleTrack, error) {
	var capability webrtc.RTPCodecCapability
	switch kind {
	case "audio":
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	case "video":
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	default:
		return nil, fmt.Errorf("unsupported track kind %q", kind)
	}

	local, err := webrtc.NewTrackLocalStaticSample(capability, kind+"-"+uuid.NewString(), "tutorlane")
	if err != nil {
		return nil, err
	}

	t := &SampleTrack{kind: kind, local: local}
	t.enabled.Store(true)
	return t, nil
}

func (t *SampleTrack) Kind() string { return t.kind }

func (t *SampleTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *SampleTrack) Enabled() bool { return t.enabled.Load() }

// WriteSample forwards one encoded frame to the peer. Disabled and stopped
// tracks swallow frames.
func (t *SampleTrack) WriteSample(sample media.Sample) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(sample)
}

func (t *SampleTrack) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	t.mu.Lock()
	callbacks := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (t *SampleTrack) OnEnded(fn func()) {
	t.mu.Lock()
	if t.stopped.Load() {
		t.mu.Unlock()
		fn()
		return
	}
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

// EndCapture marks the capture as finished by the producer, firing OnEnded
// callbacks. Used when the source dries up rather than the session stopping
// the track.
func (t *SampleTrack) EndCapture() {
	t.Stop()
}

// SilentDevice is a MediaDevice for headless clients: it hands out tracks
// that negotiate normal audio and video sections but never produce frames.
type SilentDevice struct{}

func (SilentDevice) AcquireUserMedia(_ context.Context) (Track, Track, error) {
	audio, err := NewSampleTrack("audio")
	if err != nil {
		return nil, nil, err
	}
	video, err := NewSampleTrack("video")
	if err != nil {
		return nil, nil, err
	}
	return audio, video, nil
}

func (SilentDevice) AcquireScreen(_ context.Context) (Track, error) {
	return NewSampleTrack("video")
}

// PionLink is the PeerLink implementation over pion/webrtc.
type PionLink struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
}

// ICEServersFromConfig converts the relay's turn-config entries into pion's
// representation.
func ICEServersFromConfig(servers []signal.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		entry := webrtc.ICEServer{URLs: []string{s.URLs}}
		if s.Username != "" {
			entry.Username = s.Username
			entry.Credential = s.Credential
		}
		out = append(out, entry)
	}
	return out
}

func NewPionLink(iceServers []webrtc.ICEServer) (*PionLink, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}
	return &PionLink{pc: pc}, nil
}

func (l *PionLink) AddTrack(t Track) error {
	st, ok := t.(*SampleTrack)
	if !ok {
		return errors.New("pion link requires sample tracks")
	}

	sender, err := l.pc.AddTrack(st.local)
	if err != nil {
		return err
	}

	l.mu.Lock()
	switch st.Kind() {
	case "audio":
		l.audioSender = sender
	case "video":
		l.videoSender = sender
	}
	l.mu.Unlock()

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (l *PionLink) ReplaceVideoTrack(t Track) error {
	st, ok := t.(*SampleTrack)
	if !ok {
		return errors.New("pion link requires sample tracks")
	}

	l.mu.Lock()
	sender := l.videoSender
	l.mu.Unlock()
	if sender == nil {
		return errors.New("no video sender to replace")
	}
	return sender.ReplaceTrack(st.local)
}

func (l *PionLink) CreateOffer(_ context.Context) (json.RawMessage, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (l *PionLink) AcceptAnswer(_ context.Context, raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return l.pc.SetRemoteDescription(answer)
}

func (l *PionLink) AcceptOfferCreateAnswer(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (l *PionLink) AddRemoteCandidate(raw json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return l.pc.AddICECandidate(candidate)
}

func (l *PionLink) OnLocalCandidate(fn func(candidate json.RawMessage)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		fn(raw)
	})
}

func (l *PionLink) OnRemoteTrack(fn func()) {
	l.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn()
		// Keep the receive pipeline moving even when nobody renders.
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	})
}

func (l *PionLink) Close() error {
	return l.pc.Close()
}
