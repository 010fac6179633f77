package realtime

import (
	"encoding/json"
	"fmt"
)

// Data channel event types carrying transcription text
const (
	EventTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventResponseDelta          = "response.audio_transcript.delta"
	EventResponseDone           = "response.audio_transcript.done"
	EventError                  = "error"
)

// EventKind classifies an inbound data channel event
type EventKind int

const (
	KindOther EventKind = iota
	KindDelta
	KindFinal
	KindError
)

// Event is a decoded data channel frame
type Event struct {
	Type   string
	ItemID string
	Text   string
	Kind   EventKind
}

type rawEvent struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
	Item       *struct {
		ID         string `json:"id"`
		Delta      string `json:"delta"`
		Transcript string `json:"transcript"`
	} `json:"item"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseEvent decodes one data channel frame. Text falls back through delta,
// transcript, text, item.delta and item.transcript.
func ParseEvent(data []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("malformed realtime event: %w", err)
	}

	ev := Event{Type: raw.Type, ItemID: raw.ItemID}
	ev.Text = firstNonEmpty(raw.Delta, raw.Transcript, raw.Text)
	if raw.Item != nil {
		if ev.Text == "" {
			ev.Text = firstNonEmpty(raw.Item.Delta, raw.Item.Transcript)
		}
		if ev.ItemID == "" {
			ev.ItemID = raw.Item.ID
		}
	}

	switch raw.Type {
	case EventTranscriptionDelta, EventResponseDelta:
		ev.Kind = KindDelta
	case EventTranscriptionCompleted, EventResponseDone:
		ev.Kind = KindFinal
	case EventError:
		ev.Kind = KindError
		if raw.Error != nil {
			ev.Text = firstNonEmpty(raw.Error.Message, raw.Error.Code, raw.Error.Type)
		}
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
