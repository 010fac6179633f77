package realtime

import (
	"context"

	"github.com/lexiqai/interview-assistant/internal/audio"
)

// DataChannelLabel is the event channel name the provider expects
const DataChannelLabel = "oai-events"

// DataChannel is a bidirectional event channel on a peer connection
type DataChannel interface {
	OnOpen(func())
	OnClose(func())
	OnError(func(error))
	OnMessage(func(data []byte))
	Close() error
}

// PeerConnection is the subset of a WebRTC peer connection the session needs
type PeerConnection interface {
	// AddAudioTrack attaches capture as the outbound audio track. The track
	// stops when capture ends or the connection closes.
	AddAudioTrack(capture audio.Stream) error
	CreateDataChannel(label string) (DataChannel, error)
	// CreateOffer sets the local description and returns the offer SDP once
	// candidate gathering completes.
	CreateOffer(ctx context.Context) (string, error)
	SetAnswer(sdp string) error
	OnConnectionStateChange(func(state string))
	Close() error
}

// PeerFactory creates peer connections
type PeerFactory interface {
	NewPeerConnection() (PeerConnection, error)
}
