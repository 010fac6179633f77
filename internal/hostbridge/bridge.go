// Package hostbridge connects a host UI to a speech controller over a
// websocket: JSON commands in, controller state changes out.
package hostbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-assistant/internal/interview"
	"github.com/lexiqai/interview-assistant/internal/observability"
	"github.com/lexiqai/interview-assistant/internal/speech"
	"github.com/lexiqai/interview-assistant/internal/stt"
)

const (
	writeTimeout  = 10 * time.Second
	commitTimeout = 90 * time.Second
	sendQueueSize = 256
)

// Command types accepted from the host
const (
	CmdToggle      = "toggle"
	CmdStop        = "stop"
	CmdFlush       = "flush"
	CmdHandoff     = "handoff"
	CmdSetEngine   = "set_engine"
	CmdSetLanguage = "set_language"
	CmdToggleAudio = "toggle_audio"
	CmdSetField    = "set_field"
	CmdCommit      = "commit"
	CmdFinish      = "finish"
	CmdReset       = "reset"
	CmdSnapshot    = "snapshot"
)

// Event types sent to the host
const (
	EvtSnapshot      = "snapshot"
	EvtField         = "field"
	EvtInterim       = "interim"
	EvtListening     = "listening"
	EvtWarning       = "warning"
	EvtEngineStatus  = "engine_status"
	EvtTurnCommitted = "turn_committed"
	EvtRecordSaved   = "record_saved"
	EvtError         = "error"
)

// Command is one host request
type Command struct {
	Type   string           `json:"type"`
	Target string           `json:"target,omitempty"`
	Engine string           `json:"engine,omitempty"`
	Mode   string           `json:"mode,omitempty"`
	Key    string           `json:"key,omitempty"`
	Text   string           `json:"text,omitempty"`
	Setup  *interview.Setup `json:"setup,omitempty"`
}

// Event is one message to the host
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// FieldData is the payload of field events
type FieldData struct {
	Target speech.Target `json:"target"`
	Text   string        `json:"text"`
}

// StatusData is the payload of engine_status events
type StatusData struct {
	Engine speech.EngineKind `json:"engine"`
	State  stt.State         `json:"state"`
}

// SnapshotData is the payload of snapshot events
type SnapshotData struct {
	Speech    speech.Snapshot `json:"speech"`
	Interview interview.State `json:"interview"`
}

// RecordData is the payload of record_saved events
type RecordData struct {
	Record   interview.Record `json:"record"`
	FileName string           `json:"fileName"`
	Markdown string           `json:"markdown"`
}

// ErrorData is the payload of error events
type ErrorData struct {
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}

// ControllerFactory builds the speech controller for one connection
type ControllerFactory func(sink speech.Sink, logger zerolog.Logger) *speech.Controller

// Options configures the bridge handler
type Options struct {
	NewController ControllerFactory
	Analyzer      interview.Analyzer
	Store         interview.RecordStore
	Setup         interview.Setup
	CheckOrigin   func(r *http.Request) bool // nil accepts any origin
	Logger        zerolog.Logger
}

// Handler upgrades host connections and runs one session per connection
func Handler(opts Options) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin:     opts.CheckOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			opts.Logger.Warn().Err(err).Msg("Failed to upgrade host connection")
			return
		}
		defer conn.Close()

		session := newSession(conn, opts)
		session.logger.Info().Msg("Host connected")
		session.run()
		session.logger.Info().Msg("Host disconnected")
	}
}

// Session binds one host connection to a controller and an interview flow
type Session struct {
	conn       *websocket.Conn
	controller *speech.Controller
	flow       *interview.Flow
	logger     zerolog.Logger

	send      chan Event
	done      chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

func newSession(conn *websocket.Conn, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:   conn,
		send:   make(chan Event, sendQueueSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	s.controller = opts.NewController(s, opts.Logger)
	s.logger = observability.WithSessionID(s.controller.SessionID()).
		With().
		Str("component", "hostbridge").
		Logger()
	s.flow = interview.NewFlow(opts.Setup, s.controller, opts.Analyzer, opts.Store, s.logger)
	return s
}

// run serves the connection until the host disconnects
func (s *Session) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	s.enqueue(Event{Type: EvtSnapshot, Data: s.snapshot()})
	s.readLoop()

	s.close()
	<-writerDone
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.controller.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Controller close failed")
		}
		s.tasks.Wait()
		close(s.done)
	})
}

func (s *Session) readLoop() {
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("Host connection read error")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			s.sendError("", fmt.Errorf("invalid command: %w", err))
			continue
		}
		if err := s.handle(cmd); err != nil {
			// Toggling with no engine available is a silent no-op for the host
			if errors.Is(err, speech.ErrNoEngine) {
				s.logger.Debug().Str("command", cmd.Type).Msg("No speech engine available, command ignored")
				continue
			}
			s.sendError(cmd.Type, err)
		}
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case evt := <-s.send:
			s.write(evt)
		case <-s.done:
			// Drain what was queued before close
			for {
				select {
				case evt := <-s.send:
					s.write(evt)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) write(evt Event) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(evt); err != nil {
		s.logger.Debug().Err(err).Str("event", evt.Type).Msg("Failed to send event to host")
		observability.RecordError("host_send_error", "hostbridge")
	}
}

// enqueue never blocks; the controller calls it from its own goroutine
func (s *Session) enqueue(evt Event) {
	select {
	case s.send <- evt:
	default:
		s.logger.Warn().Str("event", evt.Type).Msg("Host send queue full, dropping event")
	}
}

func (s *Session) sendError(command string, err error) {
	s.enqueue(Event{Type: EvtError, Data: ErrorData{Command: command, Message: err.Error()}})
}

func (s *Session) snapshot() SnapshotData {
	return SnapshotData{Speech: s.controller.Snapshot(), Interview: s.flow.State()}
}

// handle runs one command. Commit and finish run in the background so
// speech commands keep flowing while analysis is pending.
func (s *Session) handle(cmd Command) error {
	switch cmd.Type {
	case CmdToggle:
		target, err := speech.ParseTarget(cmd.Target)
		if err != nil {
			return err
		}
		return s.controller.ToggleListening(target)

	case CmdStop:
		return s.controller.StopActiveListening()

	case CmdFlush:
		return s.controller.FlushPendingInterim()

	case CmdHandoff:
		return s.controller.HandoffToCandidateAnswer()

	case CmdSetEngine:
		kind, err := speech.ParseEngineKind(cmd.Engine)
		if err != nil {
			return err
		}
		return s.controller.SetEngine(kind)

	case CmdSetLanguage:
		mode, err := speech.ParseLanguageMode(cmd.Mode)
		if err != nil {
			return err
		}
		return s.controller.SetLanguageMode(mode)

	case CmdToggleAudio:
		return s.controller.ToggleAudioConfig(cmd.Key)

	case CmdSetField:
		target, err := speech.ParseTarget(cmd.Target)
		if err != nil {
			return err
		}
		return s.controller.SetFieldText(target, cmd.Text)

	case CmdCommit:
		s.background(cmd.Type, func(ctx context.Context) error {
			result, err := s.flow.Commit(ctx)
			if err != nil {
				return err
			}
			s.enqueue(Event{Type: EvtTurnCommitted, Data: result})
			return nil
		})
		return nil

	case CmdFinish:
		s.background(cmd.Type, func(ctx context.Context) error {
			record, err := s.flow.Finish(ctx)
			if err != nil {
				return err
			}
			s.enqueue(Event{Type: EvtRecordSaved, Data: RecordData{
				Record:   record,
				FileName: interview.ExportFileName(record),
				Markdown: interview.BuildMarkdown(record),
			}})
			return nil
		})
		return nil

	case CmdReset:
		setup := s.flow.State().Setup
		if cmd.Setup != nil {
			setup = *cmd.Setup
		}
		if err := s.flow.Reset(setup); err != nil {
			return err
		}
		s.enqueue(Event{Type: EvtSnapshot, Data: s.snapshot()})
		return nil

	case CmdSnapshot:
		s.enqueue(Event{Type: EvtSnapshot, Data: s.snapshot()})
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd.Type)
}

func (s *Session) background(command string, fn func(ctx context.Context) error) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		ctx, cancel := context.WithTimeout(s.ctx, commitTimeout)
		defer cancel()
		if err := fn(ctx); err != nil && !errors.Is(err, speech.ErrClosed) {
			s.sendError(command, err)
		}
	}()
}

// FieldChanged implements speech.Sink
func (s *Session) FieldChanged(target speech.Target, text string) {
	s.enqueue(Event{Type: EvtField, Data: FieldData{Target: target, Text: text}})
}

// InterimChanged implements speech.Sink
func (s *Session) InterimChanged(text string) {
	s.enqueue(Event{Type: EvtInterim, Data: map[string]string{"text": text}})
}

// ListeningChanged implements speech.Sink
func (s *Session) ListeningChanged(target speech.Target) {
	s.enqueue(Event{Type: EvtListening, Data: map[string]speech.Target{"target": target}})
}

// WarningChanged implements speech.Sink
func (s *Session) WarningChanged(warning string) {
	s.enqueue(Event{Type: EvtWarning, Data: map[string]string{"warning": warning}})
}

// EngineStatusChanged implements speech.Sink
func (s *Session) EngineStatusChanged(engine speech.EngineKind, state stt.State) {
	s.enqueue(Event{Type: EvtEngineStatus, Data: StatusData{Engine: engine, State: state}})
}
