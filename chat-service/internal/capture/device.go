// Package capture receives the client's microphone over WebRTC and turns it
// into Ogg/Opus chunks for the recorder.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/isaacberry91/propswipes-sub000/chat-service/internal/recorder"
	"github.com/isaacberry91/propswipes-sub000/pkg/log"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// ErrNoTrack is returned by Open when the client has not published an audio
// track within the configured wait.
var ErrNoTrack = errors.New("no audio track from client")

const (
	opusClockRate = 48000
	opusChannels  = 2
)

// Config configures the capture device.
type Config struct {
	TrackWait  time.Duration `mapstructure:"track_wait"`
	ICEServers []string      `mapstructure:"ice_servers"`
	ChunkSize  int           `mapstructure:"chunk_size"`
}

// WebRTCDevice is the microphone of one connected client. At most one
// capture stream is attached at a time.
type WebRTCDevice struct {
	cfg Config
	api *webrtc.API

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	track      *webrtc.TrackRemote
	trackReady chan struct{}
	active     *oggStream
	closed     bool
}

var _ recorder.Device = (*WebRTCDevice)(nil)

// NewWebRTCDevice builds an audio-only WebRTC API with Opus and the default
// interceptors registered.
func NewWebRTCDevice(cfg Config) (*WebRTCDevice, error) {
	if cfg.TrackWait <= 0 {
		cfg.TrackWait = 5 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 16 * 1024
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   opusClockRate,
			Channels:    opusChannels,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return &WebRTCDevice{
		cfg:        cfg,
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)),
		trackReady: make(chan struct{}),
	}, nil
}

// HandleOffer answers the client's SDP offer. A new offer replaces the
// previous peer connection.
func (d *WebRTCDevice) HandleOffer(ctx context.Context, offerSDP string) (string, error) {
	l := log.Ctx(ctx)

	pc, err := d.api.NewPeerConnection(webrtc.Configuration{ICEServers: d.iceServers()})
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return "", fmt.Errorf("add audio transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		l.Info().Str("codec", track.Codec().MimeType).Msg("microphone track received")
		d.attachTrack(pc, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		l.Debug().Str("state", state.String()).Msg("capture connection state")
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			d.detachPeer(pc)
		}
	})

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		pc.Close()
		return "", errors.New("capture device closed")
	}
	old := d.pc
	d.pc = pc
	d.track = nil
	d.trackReady = make(chan struct{})
	d.mu.Unlock()

	if old != nil {
		old.Close()
	}

	fail := func(err error) (string, error) {
		d.detachPeer(pc)
		pc.Close()
		return "", err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return fail(fmt.Errorf("failed to set remote description: %w", err))
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create answer: %w", err))
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("failed to set local description: %w", err))
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	return pc.LocalDescription().SDP, nil
}

// AddICECandidate adds a trickled client candidate.
func (d *WebRTCDevice) AddICECandidate(candidate string) error {
	d.mu.Lock()
	pc := d.pc
	d.mu.Unlock()
	if pc == nil {
		return errors.New("no peer connection")
	}
	return pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

// Open waits for the client's audio track and attaches a new capture
// stream to it. A stream that is still attached is released first.
func (d *WebRTCDevice) Open(ctx context.Context, sink func([]byte)) (recorder.Stream, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.TrackWait)
	defer cancel()

	d.mu.Lock()
	ready := d.trackReady
	d.mu.Unlock()

	select {
	case <-ready:
	case <-waitCtx.Done():
		return nil, ErrNoTrack
	}

	s, err := newOggStream(sink, d.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	s.detach = func() { d.detachStream(s) }

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.New("capture device closed")
	}
	prev := d.active
	d.active = s
	d.mu.Unlock()

	if prev != nil {
		prev.Release()
	}
	return s, nil
}

// Close tears down the peer connection and any attached stream.
func (d *WebRTCDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pc := d.pc
	active := d.active
	d.pc = nil
	d.active = nil
	d.mu.Unlock()

	if active != nil {
		active.Release()
	}
	if pc != nil {
		return pc.Close()
	}
	return nil
}

func (d *WebRTCDevice) attachTrack(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) {
	d.mu.Lock()
	if d.pc != pc {
		d.mu.Unlock()
		return
	}
	d.track = track
	select {
	case <-d.trackReady:
	default:
		close(d.trackReady)
	}
	d.mu.Unlock()

	go d.pump(track)
}

func (d *WebRTCDevice) detachPeer(pc *webrtc.PeerConnection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pc != pc {
		return
	}
	d.pc = nil
	d.track = nil
	d.trackReady = make(chan struct{})
}

func (d *WebRTCDevice) detachStream(s *oggStream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == s {
		d.active = nil
	}
}

// pump forwards RTP from track to whichever stream is attached.
func (d *WebRTCDevice) pump(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		d.dispatch(pkt)
	}
}

func (d *WebRTCDevice) dispatch(pkt *rtp.Packet) {
	d.mu.Lock()
	s := d.active
	d.mu.Unlock()
	if s != nil {
		s.writeRTP(pkt)
	}
}

func (d *WebRTCDevice) iceServers() []webrtc.ICEServer {
	if len(d.cfg.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: d.cfg.ICEServers}}
}
