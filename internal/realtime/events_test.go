package realtime

import "testing"

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind EventKind
		text string
	}{
		{"transcription delta", `{"type":"conversation.item.input_audio_transcription.delta","item_id":"i1","delta":"hel"}`, KindDelta, "hel"},
		{"transcription completed", `{"type":"conversation.item.input_audio_transcription.completed","item_id":"i1","transcript":"hello"}`, KindFinal, "hello"},
		{"response delta", `{"type":"response.audio_transcript.delta","delta":"wor"}`, KindDelta, "wor"},
		{"response done", `{"type":"response.audio_transcript.done","transcript":"world"}`, KindFinal, "world"},
		{"item fallback", `{"type":"conversation.item.input_audio_transcription.completed","item":{"id":"i2","transcript":"nested"}}`, KindFinal, "nested"},
		{"text fallback", `{"type":"response.audio_transcript.delta","text":"plain"}`, KindDelta, "plain"},
		{"provider error", `{"type":"error","error":{"message":"bad audio"}}`, KindError, "bad audio"},
		{"other", `{"type":"session.created"}`, KindOther, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.data))
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if ev.Kind != tt.kind {
				t.Errorf("Expected kind %d, got %d", tt.kind, ev.Kind)
			}
			if ev.Text != tt.text {
				t.Errorf("Expected text %q, got %q", tt.text, ev.Text)
			}
		})
	}
}

func TestParseEvent_ItemIDFromItem(t *testing.T) {
	ev, _ := ParseEvent([]byte(`{"type":"conversation.item.input_audio_transcription.delta","item":{"id":"i9","delta":"x"}}`))
	if ev.ItemID != "i9" {
		t.Errorf("Expected item id i9, got %q", ev.ItemID)
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	if _, err := ParseEvent([]byte(`{not json`)); err == nil {
		t.Error("Expected error for malformed frame")
	}
}
