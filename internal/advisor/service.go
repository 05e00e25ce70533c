// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/your-org/infra-advisor/internal/audit"
	"github.com/your-org/infra-advisor/internal/metrics"
	"github.com/your-org/infra-advisor/internal/prompt"
	"github.com/your-org/infra-advisor/internal/session"
	"github.com/your-org/infra-advisor/internal/transport"
	"github.com/your-org/infra-advisor/internal/wizard"
)

const (
	// DefaultPendingTimeout bounds how long a pending flag blocks the visitor
	// when the exchange that set it never reports back
	DefaultPendingTimeout = 10 * time.Minute

	finishAttempts = 3
)

var errCorruptState = errors.New("visitor state cannot be decoded")

// AuditLogger receives one record per model exchange
type AuditLogger interface {
	Log(record audit.Record) error
}

// Option configures a Service
type Option func(*Service)

// WithMetrics records exchange and wizard metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit records every exchange in the audit log
func WithAudit(a AuditLogger) Option {
	return func(s *Service) { s.audit = a }
}

// WithPendingTimeout sets how old a pending flag must be before it is
// treated as released. Zero keeps pending visitors busy until the session expires.
func WithPendingTimeout(d time.Duration) Option {
	return func(s *Service) { s.pendingTimeout = d }
}

// Service runs wizard actions and model exchanges against stored visitor state.
// Work on one visitor is serialized; the lock is not held while the model answers.
type Service struct {
	sessions  *session.Manager
	transport transport.Transport
	metrics   *metrics.Metrics
	audit     AuditLogger
	logger    *zap.Logger
	locks     *keyedMutex

	pendingTimeout time.Duration
	finishBackoff  time.Duration
	now            func() time.Time
}

// NewService creates the controller
func NewService(sessions *session.Manager, tr transport.Transport, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		sessions:  sessions,
		transport: tr,
		logger:    logger,
		locks:     newKeyedMutex(),

		pendingTimeout: DefaultPendingTimeout,
		finishBackoff:  200 * time.Millisecond,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Visit returns the state of visitorID, starting a new visitor when the ID is
// malformed, unknown or expired. The returned ID is the one to use from now on.
func (s *Service) Visit(ctx context.Context, visitorID string) (string, *State, error) {
	if session.ValidateSessionID(visitorID) {
		st, err := s.State(ctx, visitorID)
		if err == nil {
			return visitorID, st, nil
		}
		switch {
		case errors.Is(err, errCorruptState):
			s.logger.Warn("Discarding undecodable visitor state", zap.String("visitor_id", visitorID), zap.Error(err))
			if err := s.sessions.DeleteSession(ctx, visitorID); err != nil {
				return "", nil, err
			}
		case !errors.Is(err, session.ErrNotFound):
			return "", nil, err
		}
	}

	sess, err := s.sessions.CreateSession(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to start visitor session: %w", err)
	}
	st := NewState()
	if err := s.store(ctx, sess, st); err != nil {
		return "", nil, err
	}

	s.logger.Debug("New visitor", zap.String("visitor_id", sess.ID))
	return sess.ID, st, nil
}

// State loads the visitor state
func (s *Service) State(ctx context.Context, visitorID string) (*State, error) {
	_, st, err := s.load(ctx, visitorID)
	return st, err
}

// Next validates the current step and advances on success
func (s *Service) Next(ctx context.Context, visitorID string) (*State, error) {
	return s.update(ctx, visitorID, func(st *State) error {
		s.metrics.WizardAction("next")
		step := st.Wizard.Step
		if !st.Wizard.Next() {
			s.metrics.ValidationFailed(int(step))
		}
		return nil
	})
}

// Prev moves back one step
func (s *Service) Prev(ctx context.Context, visitorID string) (*State, error) {
	return s.update(ctx, visitorID, func(st *State) error {
		s.metrics.WizardAction("prev")
		st.Wizard.Prev()
		return nil
	})
}

// JumpTo moves to a completed step. Other targets leave the state unchanged.
func (s *Service) JumpTo(ctx context.Context, visitorID string, step wizard.Step) (*State, error) {
	return s.update(ctx, visitorID, func(st *State) error {
		s.metrics.WizardAction("jump")
		st.Wizard.JumpTo(step)
		return nil
	})
}

// Select sets the main environment or toggles an option of a category
func (s *Service) Select(ctx context.Context, visitorID, category, value string) (*State, error) {
	return s.update(ctx, visitorID, func(st *State) error {
		s.metrics.WizardAction("select")
		return st.Wizard.SelectOption(category, value)
	})
}

// EditScenario stores the scenario text
func (s *Service) EditScenario(ctx context.Context, visitorID, text string) (*State, error) {
	return s.update(ctx, visitorID, func(st *State) error {
		s.metrics.WizardAction("scenario")
		st.Wizard.EditScenario(text)
		return nil
	})
}

// Reset clears the form and the conversation. A pending flag older than the
// pending timeout no longer blocks it.
func (s *Service) Reset(ctx context.Context, visitorID string) (*State, error) {
	return s.update(ctx, visitorID, func(st *State) error {
		if st.Pending {
			return ErrBusy
		}
		s.metrics.WizardAction("reset")
		*st = *NewState()
		return nil
	})
}

// Submit re-validates the form and opens a new conversation with the built
// prompt. A form that fails validation is saved with its errors and no call
// is made. The reply, or an error turn, is appended once the model answers.
func (s *Service) Submit(ctx context.Context, visitorID string) (*State, error) {
	var (
		instruction string
		form        wizard.FormState
		pendingID   string
		started     bool
	)

	st, err := s.update(ctx, visitorID, func(st *State) error {
		if st.Pending {
			return ErrBusy
		}
		s.metrics.WizardAction("submit")
		if !st.Wizard.ValidateForSubmit() {
			s.metrics.ValidationFailed(int(failedStep(st.Wizard)))
			return nil
		}

		st.appendTurn(transport.RoleUser, st.Wizard.Form.Scenario)
		st.Session = nil
		pendingID = st.beginPending(s.now())
		form = st.Wizard.Form
		instruction = prompt.Build(form)
		started = true
		return nil
	})
	if err != nil || !started {
		return st, err
	}

	s.logger.Info("Starting consultation",
		zap.String("visitor_id", visitorID),
		zap.String("main_environment", form.MainEnvironment),
		zap.Int("prompt_length", len(instruction)))

	return s.exchange(ctx, visitorID, pendingID, transport.OpStart, form, utf8.RuneCountInString(form.Scenario),
		func(ctx context.Context) (string, *transport.Session, error) {
			opened, reply, err := s.transport.Start(ctx, instruction)
			if err != nil {
				return "", nil, err
			}
			return reply, &opened, nil
		})
}

// FollowUp sends message through the open conversation. It returns ErrBusy
// while an exchange is in flight and ErrNoConversation before the first
// submission; in both cases nothing changes.
func (s *Service) FollowUp(ctx context.Context, visitorID, message string) (*State, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	var (
		conversation transport.Session
		form         wizard.FormState
		pendingID    string
	)

	st, err := s.update(ctx, visitorID, func(st *State) error {
		if st.Pending {
			return ErrBusy
		}
		if !st.HasConversation() {
			return ErrNoConversation
		}

		st.appendTurn(transport.RoleUser, message)
		pendingID = st.beginPending(s.now())
		conversation = *st.Session
		form = st.Wizard.Form
		return nil
	})
	if err != nil {
		return st, err
	}

	return s.exchange(ctx, visitorID, pendingID, transport.OpFollowUp, form, utf8.RuneCountInString(message),
		func(ctx context.Context) (string, *transport.Session, error) {
			reply, err := s.transport.Continue(ctx, &conversation, message)
			if err != nil {
				return "", nil, err
			}
			return reply, &conversation, nil
		})
}

// exchange performs one model call and then records its result. The pending
// flag is cleared whatever the call returns. The call is detached from the
// request context so a disconnecting browser does not abort it.
func (s *Service) exchange(
	ctx context.Context,
	visitorID, pendingID, op string,
	form wizard.FormState,
	chars int,
	call func(context.Context) (string, *transport.Session, error),
) (*State, error) {
	ctx = context.WithoutCancel(ctx)
	done := s.metrics.StartExchange(op)
	start := time.Now()

	reply, opened, callErr := call(ctx)

	latency := time.Since(start)
	done(callErr)
	s.recordAudit(visitorID, op, form, chars, latency, callErr)

	if callErr != nil {
		s.logger.Error("Model exchange failed",
			zap.String("visitor_id", visitorID),
			zap.String("operation", op),
			zap.Duration("latency", latency),
			zap.Error(callErr))
	} else {
		s.logger.Info("Model exchange completed",
			zap.String("visitor_id", visitorID),
			zap.String("operation", op),
			zap.Duration("latency", latency),
			zap.Int("reply_length", len(reply)))
	}

	return s.finish(ctx, visitorID, op, func(st *State) {
		if st.PendingID != pendingID {
			s.logger.Warn("Discarding result of a superseded exchange",
				zap.String("visitor_id", visitorID),
				zap.String("operation", op))
			return
		}
		st.endPending()
		if callErr != nil {
			st.appendTurn(transport.RoleModel, errorTurnText(callErr))
			return
		}
		st.appendTurn(transport.RoleModel, reply)
		st.Session = opened
	})
}

// finish stores the outcome of an exchange. Each attempt reloads the state,
// so a failed write is retried against what is actually stored.
func (s *Service) finish(ctx context.Context, visitorID, op string, apply func(*State)) (*State, error) {
	var err error
	for attempt := 1; attempt <= finishAttempts; attempt++ {
		var st *State
		st, err = s.update(ctx, visitorID, func(st *State) error {
			apply(st)
			return nil
		})
		if err == nil {
			return st, nil
		}
		if errors.Is(err, session.ErrNotFound) || attempt == finishAttempts {
			break
		}

		s.logger.Warn("Failed to store exchange result, retrying",
			zap.String("visitor_id", visitorID),
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		time.Sleep(time.Duration(attempt) * s.finishBackoff)
	}

	s.logger.Error("Exchange result lost",
		zap.String("visitor_id", visitorID),
		zap.String("operation", op),
		zap.Error(err))
	return nil, err
}

func (s *Service) recordAudit(visitorID, op string, form wizard.FormState, chars int, latency time.Duration, callErr error) {
	if s.audit == nil {
		return
	}

	record := audit.Record{
		VisitorID:       visitorID,
		Operation:       op,
		MainEnvironment: form.MainEnvironment,
		ScenarioChars:   chars,
		Outcome:         audit.OutcomeOK,
		LatencyMS:       latency.Milliseconds(),
	}
	if len(form.Selections) > 0 {
		record.SelectionCounts = make(map[string]int, len(form.Selections))
		for c, values := range form.Selections {
			record.SelectionCounts[string(c)] = len(values)
		}
	}
	if callErr != nil {
		record.Outcome = audit.OutcomeError
		record.Error = callErr.Error()
	}

	if err := s.audit.Log(record); err != nil {
		s.logger.Warn("Failed to write audit record", zap.String("visitor_id", visitorID), zap.Error(err))
	}
}

// update loads the visitor state, applies fn and saves the result. When fn
// fails nothing is saved and the loaded state is returned with the error.
func (s *Service) update(ctx context.Context, visitorID string, fn func(*State) error) (*State, error) {
	unlock := s.locks.Lock(visitorID)
	defer unlock()

	sess, st, err := s.load(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	if err := fn(st); err != nil {
		return st, err
	}
	if err := s.store(ctx, sess, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) load(ctx context.Context, visitorID string) (*session.Session, *State, error) {
	sess, err := s.sessions.GetSession(ctx, visitorID)
	if err != nil {
		return nil, nil, err
	}

	st := NewState()
	if len(sess.Data) > 0 {
		if err := json.Unmarshal(sess.Data, st); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", errCorruptState, err)
		}
	}
	if st.Wizard == nil {
		st.Wizard = wizard.New()
	}
	if st.Wizard.Errors == nil {
		st.Wizard.Errors = wizard.Errors{}
	}
	if since := st.PendingSince; st.releaseStale(s.now(), s.pendingTimeout) {
		s.logger.Warn("Released stale pending flag",
			zap.String("visitor_id", visitorID),
			zap.Time("pending_since", since))
	}
	return sess, st, nil
}

func (s *Service) store(ctx context.Context, sess *session.Session, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode visitor state: %w", err)
	}
	sess.Data = data
	sess.Pinned = st.Pending
	return s.sessions.SaveSession(ctx, sess)
}

func failedStep(w *wizard.Wizard) wizard.Step {
	if w.Errors.Has(wizard.FieldMainEnvironment) {
		return wizard.StepEnvironment
	}
	return wizard.StepScenario
}
