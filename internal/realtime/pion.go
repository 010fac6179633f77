package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"gopkg.in/hraban/opus.v2"

	"github.com/lexiqai/interview-assistant/internal/audio"
	"github.com/lexiqai/interview-assistant/internal/observability"
)

const opusFrameDuration = 20 * time.Millisecond

// PionFactory creates pion/webrtc peer connections
type PionFactory struct {
	ICEServers []webrtc.ICEServer
	Logger     zerolog.Logger
}

// NewPeerConnection creates a peer connection with an Opus-capable media engine
func (f *PionFactory) NewPeerConnection() (PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: f.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionPeer{
		pc:     pc,
		done:   make(chan struct{}),
		logger: f.Logger.With().Str("component", "webrtc").Logger(),
	}, nil
}

type pionPeer struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

func (p *pionPeer) AddAudioTrack(capture audio.Stream) error {
	c := capture.Constraints()
	channels := c.ChannelCount
	if channels <= 0 {
		channels = 1
	}

	encoder, err := opus.NewEncoder(c.SampleRate, channels, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("failed to create opus encoder: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"interview-assistant",
	)
	if err != nil {
		return fmt.Errorf("failed to create audio track: %w", err)
	}

	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add audio track: %w", err)
	}

	// Drain RTCP so interceptors keep working
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	go func() {
		defer p.wg.Done()
		p.pump(capture, encoder, track, c.SampleRate*channels/50)
	}()
	return nil
}

// pump encodes 20ms PCM frames from capture and writes them to track
func (p *pionPeer) pump(capture audio.Stream, encoder *opus.Encoder, track *webrtc.TrackLocalStaticSample, frameSamples int) {
	pcm := make([]byte, frameSamples*2)
	packet := make([]byte, 4000)
	for {
		select {
		case <-p.done:
			return
		default:
		}

		if _, err := io.ReadFull(capture, pcm); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				p.logger.Debug().Err(err).Msg("Audio capture ended")
			}
			return
		}

		n, err := encoder.Encode(audio.BytesToSamples(pcm), packet)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Opus encode failed")
			continue
		}
		if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: opusFrameDuration}); err != nil {
			if !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Debug().Err(err).Msg("Audio track write ended")
			}
			return
		}
		observability.RecordAudioBytes("realtime", int64(len(pcm)))
	}
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	return &pionDataChannel{dc: dc}, nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	// Non-trickle ICE: wait for gathering so the offer carries every candidate
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return "", errors.New("local description unavailable")
	}
	return local.SDP, nil
}

func (p *pionPeer) SetAnswer(sdp string) error {
	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (p *pionPeer) OnConnectionStateChange(fn func(state string)) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		fn(state.String())
	})
}

// Close closes the connection and waits for the media goroutines to exit
func (p *pionPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.pc.Close()
		p.wg.Wait()
	})
	return err
}

type pionDataChannel struct {
	dc *webrtc.DataChannel
}

func (d *pionDataChannel) OnOpen(fn func()) {
	d.dc.OnOpen(fn)
}

func (d *pionDataChannel) OnClose(fn func()) {
	d.dc.OnClose(fn)
}

func (d *pionDataChannel) OnError(fn func(error)) {
	d.dc.OnError(fn)
}

func (d *pionDataChannel) OnMessage(fn func(data []byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d *pionDataChannel) Close() error {
	return d.dc.Close()
}
