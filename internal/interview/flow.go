// Package interview drives one interview on top of a speech controller:
// committing turns, requesting answer analysis and saving the final record.
package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-assistant/internal/speech"
)

var (
	// ErrEmptyAnswer is returned by Commit when there is no answer text
	ErrEmptyAnswer = errors.New("no answer to commit")

	// ErrNothingToExport is returned by Finish when no turn was recorded
	ErrNothingToExport = errors.New("no conversation to export")
)

// Controller is the part of the speech controller the flow drives
type Controller interface {
	StopActiveListening() error
	ClearTurn() error
	Reset() error
	Snapshot() speech.Snapshot
}

// Analyzer produces feedback for the latest answer
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error)
}

// RecordStore persists finished interviews
type RecordStore interface {
	Prepend(ctx context.Context, record Record) error
}

// Setup describes the interview being run
type Setup struct {
	JobTitle string   `json:"jobTitle"`
	Topics   []string `json:"topics"`
}

// CommitResult reports what a Commit did
type CommitResult struct {
	Turn          Turn      `json:"turn"`
	Appended      bool      `json:"appended"`
	Skipped       bool      `json:"skipped"`
	Analysis      *Analysis `json:"analysis,omitempty"`
	AnalysisError string    `json:"analysisError,omitempty"`
	CoveredTopics []string  `json:"coveredTopics"`
}

// State is a copy of the flow's interview state
type State struct {
	Setup
	CoveredTopics []string  `json:"coveredTopics"`
	Conversation  []Turn    `json:"conversation"`
	LastAnalysis  *Analysis `json:"lastAnalysis,omitempty"`
	Analyzing     bool      `json:"analyzing"`
}

// Flow commits turns from a speech controller and keeps the running conversation
type Flow struct {
	controller Controller
	analyzer   Analyzer
	store      RecordStore
	logger     zerolog.Logger
	now        func() time.Time

	mu           sync.Mutex
	setup        Setup
	covered      []string
	conversation []Turn
	last         *Analysis
	inFlight     bool
}

// NewFlow creates a flow. analyzer and store may be nil to disable analysis or saving.
func NewFlow(setup Setup, controller Controller, analyzer Analyzer, store RecordStore, logger zerolog.Logger) *Flow {
	if setup.Topics == nil {
		setup.Topics = append([]string{}, DefaultTopics...)
	}
	return &Flow{
		controller: controller,
		analyzer:   analyzer,
		store:      store,
		logger:     logger.With().Str("component", "interview_flow").Logger(),
		now:        time.Now,
		setup:      setup,
	}
}

// Commit stops listening, appends the current question and answer as a turn,
// clears the turn in the controller and analyzes the answer. While another
// analysis is running the commit is skipped and the fields are left as they are.
func (f *Flow) Commit(ctx context.Context) (CommitResult, error) {
	if err := f.controller.StopActiveListening(); err != nil {
		return CommitResult{}, err
	}
	snap := f.controller.Snapshot()
	turn := Turn{
		Question: strings.TrimSpace(snap.Question),
		Answer:   strings.TrimSpace(snap.Answer),
	}

	f.mu.Lock()
	if f.inFlight {
		covered := append([]string{}, f.covered...)
		f.mu.Unlock()
		f.logger.Debug().Msg("Commit skipped while analysis is running")
		return CommitResult{Turn: turn, Skipped: true, CoveredTopics: covered}, nil
	}
	if turn.Answer == "" {
		f.mu.Unlock()
		return CommitResult{}, ErrEmptyAnswer
	}

	var appended bool
	f.conversation, appended = appendTurn(f.conversation, turn.Question, turn.Answer)
	req := AnalysisRequest{
		JobTitle:      f.setup.JobTitle,
		CustomTopics:  append([]string{}, f.setup.Topics...),
		CoveredTopics: append([]string{}, f.covered...),
		Conversation:  append([]Turn{}, f.conversation...),
		LatestAnswer:  turn.Answer,
	}
	analyze := f.analyzer != nil
	f.inFlight = analyze
	if analyze {
		f.last = nil
	}
	f.mu.Unlock()

	result := CommitResult{Turn: turn, Appended: appended}
	if err := f.controller.ClearTurn(); err != nil {
		f.logger.Debug().Err(err).Msg("Failed to clear committed turn")
	}

	if !analyze {
		result.CoveredTopics = f.CoveredTopics()
		return result, nil
	}

	analysis, err := f.analyzer.Analyze(ctx, req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight = false
	if err != nil {
		f.logger.Warn().Err(err).Msg("Answer analysis failed")
		result.AnalysisError = fmt.Sprintf("analysis failed: %s", err)
	} else {
		f.last = analysis
		if analysis.UncoveredTopics != nil {
			f.covered = coveredFrom(f.setup.Topics, analysis.UncoveredTopics)
		}
		result.Analysis = analysis
	}
	result.CoveredTopics = append([]string{}, f.covered...)
	return result, nil
}

// coveredFrom returns the topics that are not listed as uncovered
func coveredFrom(topics, uncovered []string) []string {
	skip := make(map[string]struct{}, len(uncovered))
	for _, t := range uncovered {
		skip[t] = struct{}{}
	}
	covered := []string{}
	for _, t := range topics {
		if _, ok := skip[t]; !ok {
			covered = append(covered, t)
		}
	}
	return covered
}

// Finish stops listening and saves the interview, including an uncommitted
// current turn. The last successful analysis becomes the record summary.
func (f *Flow) Finish(ctx context.Context) (Record, error) {
	if err := f.controller.StopActiveListening(); err != nil {
		return Record{}, err
	}
	snap := f.controller.Snapshot()

	f.mu.Lock()
	items, _ := appendTurn(append([]Turn{}, f.conversation...), snap.Question, snap.Answer)
	record := NewRecord(f.setup.JobTitle, f.setup.Topics, f.covered, items, f.last, f.now())
	f.mu.Unlock()

	if len(record.Conversation) == 0 {
		return Record{}, ErrNothingToExport
	}
	if f.store != nil {
		if err := f.store.Prepend(ctx, record); err != nil {
			return Record{}, fmt.Errorf("failed to save interview record: %w", err)
		}
	}

	f.logger.Info().
		Str("record_id", record.ID).
		Int("turns", len(record.Conversation)).
		Msg("Interview record saved")
	return record, nil
}

// Reset starts a new interview with setup and clears the controller
func (f *Flow) Reset(setup Setup) error {
	if setup.Topics == nil {
		setup.Topics = append([]string{}, DefaultTopics...)
	}
	if err := f.controller.Reset(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.setup = setup
	f.covered = nil
	f.conversation = nil
	f.last = nil
	return nil
}

// CoveredTopics returns the topics the last analysis considered covered
func (f *Flow) CoveredTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.covered...)
}

// State returns a copy of the interview state
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return State{
		Setup: Setup{
			JobTitle: f.setup.JobTitle,
			Topics:   append([]string{}, f.setup.Topics...),
		},
		CoveredTopics: append([]string{}, f.covered...),
		Conversation:  append([]Turn{}, f.conversation...),
		LastAnalysis:  f.last,
		Analyzing:     f.inFlight,
	}
}
