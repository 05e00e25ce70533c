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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/infra-advisor/internal/audit"
	"github.com/your-org/infra-advisor/internal/catalog"
	"github.com/your-org/infra-advisor/internal/metrics"
	"github.com/your-org/infra-advisor/internal/session"
	"github.com/your-org/infra-advisor/internal/transport"
	"github.com/your-org/infra-advisor/internal/wizard"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Start(ctx context.Context, prompt string) (transport.Session, string, error) {
	args := m.Called(ctx, prompt)
	return args.Get(0).(transport.Session), args.String(1), args.Error(2)
}

func (m *mockTransport) Continue(ctx context.Context, s *transport.Session, message string) (string, error) {
	args := m.Called(ctx, s, message)
	return args.String(0), args.Error(1)
}

type recordingAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *recordingAudit) Log(record audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

// flakyStorage fails the next failSets writes, like a store dropping its connection
type flakyStorage struct {
	*session.MemoryStorage
	mu       sync.Mutex
	failSets int
}

func (f *flakyStorage) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSets = n
}

func (f *flakyStorage) Set(ctx context.Context, s *session.Session, ttl time.Duration) error {
	f.mu.Lock()
	fail := f.failSets > 0
	if fail {
		f.failSets--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("redis: connection reset")
	}
	return f.MemoryStorage.Set(ctx, s, ttl)
}

func newFlakyService(t *testing.T, tr transport.Transport) (*Service, *flakyStorage) {
	t.Helper()
	config := session.DefaultConfig()
	config.CleanupInterval = 0
	storage := &flakyStorage{MemoryStorage: session.NewMemoryStorage(config.MaxSessions)}
	manager := session.NewManagerWithStorage(config, storage, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = manager.Close() })
	svc := NewService(manager, tr, zaptest.NewLogger(t))
	svc.finishBackoff = time.Millisecond
	return svc, storage
}

func newTestService(t *testing.T, tr transport.Transport, opts ...Option) *Service {
	t.Helper()
	config := session.DefaultConfig()
	config.CleanupInterval = 0
	manager, err := session.NewManager(config, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return NewService(manager, tr, zaptest.NewLogger(t), opts...)
}

func newVisitor(t *testing.T, svc *Service) string {
	t.Helper()
	id, st, err := svc.Visit(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, wizard.StepEnvironment, st.Wizard.Step)
	return id
}

// fillForm brings a visitor to the review step with a valid form
func fillForm(t *testing.T, svc *Service, id, environment, scenario string) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Select(ctx, id, catalog.MainEnvironment, environment)
	require.NoError(t, err)
	_, err = svc.EditScenario(ctx, id, scenario)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = svc.Next(ctx, id)
		require.NoError(t, err)
	}
	st, err := svc.State(ctx, id)
	require.NoError(t, err)
	require.Equal(t, wizard.StepReview, st.Wizard.Step)
}

func TestVisit(t *testing.T) {
	svc := newTestService(t, &mockTransport{})
	ctx := context.Background()

	id, st, err := svc.Visit(ctx, "not-a-session")
	require.NoError(t, err)
	assert.True(t, session.ValidateSessionID(id))
	assert.Empty(t, st.Turns)
	assert.False(t, st.Pending)

	_, err = svc.Select(ctx, id, catalog.MainEnvironment, catalog.EnvHybrid)
	require.NoError(t, err)

	again, st, err := svc.Visit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, catalog.EnvHybrid, st.Wizard.Form.MainEnvironment)

	other, _, err := svc.Visit(ctx, "session_0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	assert.NotEqual(t, "session_0123456789abcdef0123456789abcdef", other)
}

func TestWizardActions(t *testing.T) {
	svc := newTestService(t, &mockTransport{})
	ctx := context.Background()
	id := newVisitor(t, svc)

	st, err := svc.Next(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepEnvironment, st.Wizard.Step)
	assert.Equal(t, wizard.MsgMainEnvironmentRequired, st.Wizard.Errors[wizard.FieldMainEnvironment])

	st, err = svc.Select(ctx, id, catalog.MainEnvironment, catalog.EnvCloud)
	require.NoError(t, err)
	assert.False(t, st.Wizard.Errors.Has(wizard.FieldMainEnvironment))

	st, err = svc.Next(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepTechnologies, st.Wizard.Step)

	st, err = svc.Select(ctx, id, string(catalog.CloudProviders), "AWS")
	require.NoError(t, err)
	assert.Equal(t, []string{"AWS"}, st.Wizard.Form.Selected(catalog.CloudProviders))

	_, err = svc.Select(ctx, id, string(catalog.CloudProviders), "Not a provider")
	assert.ErrorIs(t, err, wizard.ErrUnknownOption)

	st, err = svc.Prev(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepEnvironment, st.Wizard.Step)

	st, err = svc.Next(ctx, id)
	require.NoError(t, err)
	st, err = svc.Next(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepScenario, st.Wizard.Step)

	st, err = svc.JumpTo(ctx, id, wizard.StepEnvironment)
	require.NoError(t, err)
	assert.Equal(t, wizard.StepEnvironment, st.Wizard.Step)

	st, err = svc.Reset(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, st.Wizard.Form.MainEnvironment)
	assert.Empty(t, st.Wizard.Form.Selections)
}

func TestSubmit_BlockedWithoutScenario(t *testing.T) {
	tr := &mockTransport{}
	svc := newTestService(t, tr)
	ctx := context.Background()
	id := newVisitor(t, svc)

	_, err := svc.Select(ctx, id, catalog.MainEnvironment, catalog.EnvOnPremise)
	require.NoError(t, err)

	st, err := svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, wizard.MsgScenarioRequired, st.Wizard.Errors[wizard.FieldScenario])
	assert.Empty(t, st.Turns)
	assert.False(t, st.Pending)
	assert.Nil(t, st.Session)
	tr.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)

	stored, err := svc.State(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.Wizard.Errors.Has(wizard.FieldScenario))
}

func TestSubmit_Success(t *testing.T) {
	tr := &mockTransport{}
	records := &recordingAudit{}
	svc := newTestService(t, tr, WithAudit(records), WithMetrics(metrics.New()))
	ctx := context.Background()
	id := newVisitor(t, svc)

	_, err := svc.Select(ctx, id, catalog.MainEnvironment, catalog.EnvCloud)
	require.NoError(t, err)
	_, err = svc.Select(ctx, id, string(catalog.CloudProviders), "AWS")
	require.NoError(t, err)
	fillForm(t, svc, id, catalog.EnvCloud, "Migrate a monolith")

	tr.On("Start", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Cloud Providers: AWS") && strings.Contains(p, "Migrate a monolith")
	})).Run(func(mock.Arguments) {
		during, err := svc.State(ctx, id)
		require.NoError(t, err)
		assert.True(t, during.Pending)
		require.Len(t, during.Turns, 1)
		assert.Equal(t, transport.RoleUser, during.Turns[0].Role)
	}).Return(transport.Session{ID: "chat-1"}, "**Diagnosis:** ok", nil).Once()

	st, err := svc.Submit(ctx, id)
	require.NoError(t, err)
	tr.AssertExpectations(t)

	assert.False(t, st.Pending)
	require.Len(t, st.Turns, 2)
	assert.Equal(t, "Migrate a monolith", st.Turns[0].Text)
	assert.Equal(t, transport.RoleModel, st.Turns[1].Role)
	assert.Equal(t, "**Diagnosis:** ok", st.Turns[1].Text)
	require.NotNil(t, st.Session)
	assert.Equal(t, "chat-1", st.Session.ID)

	require.Len(t, records.records, 1)
	assert.Equal(t, transport.OpStart, records.records[0].Operation)
	assert.Equal(t, audit.OutcomeOK, records.records[0].Outcome)
	assert.Equal(t, 1, records.records[0].SelectionCounts[string(catalog.CloudProviders)])
	assert.Equal(t, len("Migrate a monolith"), records.records[0].ScenarioChars)
}

func TestSubmit_TransportError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantText string
	}{
		{
			name:     "message is surfaced",
			err:      transport.NewError(transport.OpStart, "rate limited", nil),
			wantText: "Sorry, an error occurred: rate limited",
		},
		{
			name:     "empty message",
			err:      errors.New(""),
			wantText: "Sorry, an unknown error occurred.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &mockTransport{}
			records := &recordingAudit{}
			svc := newTestService(t, tr, WithAudit(records))
			ctx := context.Background()
			id := newVisitor(t, svc)
			fillForm(t, svc, id, catalog.EnvOnPremise, "Harden the VMware cluster")

			tr.On("Start", mock.Anything, mock.Anything).Return(transport.Session{}, "", tt.err).Once()

			st, err := svc.Submit(ctx, id)
			require.NoError(t, err)

			require.Len(t, st.Turns, 2)
			assert.Equal(t, transport.RoleModel, st.Turns[1].Role)
			assert.Equal(t, tt.wantText, st.Turns[1].Text)
			assert.False(t, st.Pending)
			assert.Nil(t, st.Session)

			require.Len(t, records.records, 1)
			assert.Equal(t, audit.OutcomeError, records.records[0].Outcome)

			_, err = svc.FollowUp(ctx, id, "and now?")
			assert.ErrorIs(t, err, ErrNoConversation)

			tr.On("Start", mock.Anything, mock.Anything).Return(transport.Session{ID: "retry"}, "ok", nil).Once()
			st, err = svc.Submit(ctx, id)
			require.NoError(t, err)
			assert.Len(t, st.Turns, 4)
			require.NotNil(t, st.Session)
			assert.Equal(t, "retry", st.Session.ID)
		})
	}
}

func TestFollowUp(t *testing.T) {
	tr := &mockTransport{}
	svc := newTestService(t, tr)
	ctx := context.Background()
	id := newVisitor(t, svc)
	fillForm(t, svc, id, catalog.EnvHybrid, "Connect on-prem to the cloud")

	tr.On("Start", mock.Anything, mock.Anything).
		Return(transport.Session{ID: "chat-1", History: []transport.Message{{Role: transport.RoleUser, Content: "prompt"}}}, "first", nil).Once()
	_, err := svc.Submit(ctx, id)
	require.NoError(t, err)

	tr.On("Continue", mock.Anything, mock.MatchedBy(func(s *transport.Session) bool {
		return s.ID == "chat-1"
	}), "What about VPN?").Return("Use IPsec.", nil).Once()

	st, err := svc.FollowUp(ctx, id, "What about VPN?")
	require.NoError(t, err)
	tr.AssertExpectations(t)

	require.Len(t, st.Turns, 4)
	assert.Equal(t, "What about VPN?", st.Turns[2].Text)
	assert.Equal(t, transport.RoleUser, st.Turns[2].Role)
	assert.Equal(t, "Use IPsec.", st.Turns[3].Text)
	assert.False(t, st.Pending)

	_, err = svc.FollowUp(ctx, id, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestFollowUp_FailureKeepsConversation(t *testing.T) {
	tr := &mockTransport{}
	svc := newTestService(t, tr)
	ctx := context.Background()
	id := newVisitor(t, svc)
	fillForm(t, svc, id, catalog.EnvCloud, "Cut the AWS bill")

	tr.On("Start", mock.Anything, mock.Anything).Return(transport.Session{ID: "chat-1"}, "first", nil).Once()
	_, err := svc.Submit(ctx, id)
	require.NoError(t, err)

	tr.On("Continue", mock.Anything, mock.Anything, "more").
		Return("", transport.NewError(transport.OpFollowUp, "model provider unavailable", nil)).Once()

	st, err := svc.FollowUp(ctx, id, "more")
	require.NoError(t, err)
	require.Len(t, st.Turns, 4)
	assert.Equal(t, "Sorry, an error occurred: model provider unavailable", st.Turns[3].Text)
	require.NotNil(t, st.Session)
	assert.Equal(t, "chat-1", st.Session.ID)
	assert.False(t, st.Pending)
}

func TestFollowUp_WhilePendingIsRejected(t *testing.T) {
	tr := &mockTransport{}
	svc := newTestService(t, tr)
	ctx := context.Background()
	id := newVisitor(t, svc)
	fillForm(t, svc, id, catalog.EnvCloud, "Scale Kubernetes")

	tr.On("Start", mock.Anything, mock.Anything).Return(transport.Session{ID: "chat-1"}, "first", nil).Once()
	_, err := svc.Submit(ctx, id)
	require.NoError(t, err)

	tr.On("Continue", mock.Anything, mock.Anything, "first question").Run(func(mock.Arguments) {
		during, err := svc.FollowUp(ctx, id, "second question")
		assert.ErrorIs(t, err, ErrBusy)
		require.NotNil(t, during)
		assert.True(t, during.Pending)
		assert.Len(t, during.Turns, 3)

		_, err = svc.Submit(ctx, id)
		assert.ErrorIs(t, err, ErrBusy)

		_, err = svc.Reset(ctx, id)
		assert.ErrorIs(t, err, ErrBusy)
	}).Return("answer", nil).Once()

	st, err := svc.FollowUp(ctx, id, "first question")
	require.NoError(t, err)
	tr.AssertExpectations(t)
	tr.AssertNumberOfCalls(t, "Continue", 1)
	tr.AssertNumberOfCalls(t, "Start", 1)

	assert.Len(t, st.Turns, 4)
	assert.False(t, st.Pending)
}

func TestSubmit_AppendsToTranscript(t *testing.T) {
	tr := &mockTransport{}
	svc := newTestService(t, tr)
	ctx := context.Background()
	id := newVisitor(t, svc)
	fillForm(t, svc, id, catalog.EnvMultiCloud, "Unify monitoring")

	tr.On("Start", mock.Anything, mock.Anything).Return(transport.Session{ID: "one"}, "a", nil).Once()
	tr.On("Start", mock.Anything, mock.Anything).Return(transport.Session{ID: "two"}, "b", nil).Once()

	_, err := svc.Submit(ctx, id)
	require.NoError(t, err)
	st, err := svc.Submit(ctx, id)
	require.NoError(t, err)

	require.Len(t, st.Turns, 4)
	assert.Equal(t, "two", st.Session.ID)
	ids := map[string]bool{}
	for _, turn := range st.Turns {
		ids[turn.ID] = true
	}
	assert.Len(t, ids, 4)
}

func TestErrorTurnText(t *testing.T) {
	assert.Equal(t, "Sorry, an unknown error occurred.", errorTurnText(nil))
	assert.Equal(t, "Sorry, an unknown error occurred.", errorTurnText(errors.New("  ")))
	assert.Equal(t, "Sorry, an error occurred: boom", errorTurnText(errors.New("boom")))
}

func TestSubmit_ResultStoredAfterFailedWrite(t *testing.T) {
	tr := &mockTransport{}
	svc, storage := newFlakyService(t, tr)
	ctx := context.Background()
	id := newVisitor(t, svc)
	fillForm(t, svc, id, catalog.EnvCloud, "Migrate a monolith")

	tr.On("Start", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		storage.failNext(1)
	}).Return(transport.Session{}, "", transport.NewError(transport.OpStart, "rate limited", nil)).Once()

	st, err := svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.False(t, st.Pending)
	require.Len(t, st.Turns, 2)
	assert.Equal(t, "Sorry, an error occurred: rate limited", st.Turns[1].Text)

	tr.On("Start", mock.Anything, mock.Anything).Return(transport.Session{ID: "chat-1"}, "ok", nil).Once()
	st, err = svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.Len(t, st.Turns, 4)
	tr.AssertExpectations(t)
}

func TestSubmit_LostResultReleasedAfterPendingTimeout(t *testing.T) {
	tr := &mockTransport{}
	svc, storage := newFlakyService(t, tr)
	ctx := context.Background()
	id := newVisitor(t, svc)
	fillForm(t, svc, id, catalog.EnvCloud, "Migrate a monolith")

	tr.On("Start", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		storage.failNext(finishAttempts)
	}).Return(transport.Session{ID: "chat-1"}, "lost", nil).Once()

	_, err := svc.Submit(ctx, id)
	require.Error(t, err)

	st, err := svc.State(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.Pending)
	_, err = svc.Reset(ctx, id)
	assert.ErrorIs(t, err, ErrBusy)

	later := time.Now().Add(DefaultPendingTimeout + time.Minute)
	svc.now = func() time.Time { return later }

	st, err = svc.State(ctx, id)
	require.NoError(t, err)
	assert.False(t, st.Pending)

	st, err = svc.Reset(ctx, id)
	require.NoError(t, err)
	assert.False(t, st.Pending)
	assert.Empty(t, st.Turns)
}

func TestSubmit_SupersededResultIsDiscarded(t *testing.T) {
	tr := &mockTransport{}
	svc := newTestService(t, tr)
	ctx := context.Background()
	id := newVisitor(t, svc)
	fillForm(t, svc, id, catalog.EnvCloud, "Migrate a monolith")

	tr.On("Start", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		later := time.Now().Add(DefaultPendingTimeout + time.Minute)
		svc.now = func() time.Time { return later }

		st, err := svc.Submit(ctx, id)
		require.NoError(t, err)
		require.Len(t, st.Turns, 3)
		assert.Equal(t, "fresh", st.Turns[2].Text)
	}).Return(transport.Session{ID: "old"}, "stale", nil).Once()
	tr.On("Start", mock.Anything, mock.Anything).Return(transport.Session{ID: "new"}, "fresh", nil).Once()

	st, err := svc.Submit(ctx, id)
	require.NoError(t, err)
	tr.AssertExpectations(t)

	require.Len(t, st.Turns, 3)
	assert.Equal(t, "fresh", st.Turns[2].Text)
	require.NotNil(t, st.Session)
	assert.Equal(t, "new", st.Session.ID)
	assert.False(t, st.Pending)
}

func TestSubmit_PendingVisitorSurvivesEviction(t *testing.T) {
	tr := &mockTransport{}
	config := session.DefaultConfig()
	config.CleanupInterval = 0
	config.MaxSessions = 3
	manager, err := session.NewManager(config, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	svc := NewService(manager, tr, zaptest.NewLogger(t))

	ctx := context.Background()
	id := newVisitor(t, svc)
	fillForm(t, svc, id, catalog.EnvCloud, "Migrate a monolith")

	tr.On("Start", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		for i := 0; i < 3; i++ {
			_, _, err := svc.Visit(ctx, "")
			require.NoError(t, err)
		}
	}).Return(transport.Session{ID: "chat-1"}, "answer", nil).Once()

	st, err := svc.Submit(ctx, id)
	require.NoError(t, err)
	require.Len(t, st.Turns, 2)
	assert.Equal(t, "answer", st.Turns[1].Text)
}

func TestVisit_DiscardsUndecodableState(t *testing.T) {
	svc := newTestService(t, &mockTransport{})
	ctx := context.Background()
	id := newVisitor(t, svc)

	sess, err := svc.sessions.GetSession(ctx, id)
	require.NoError(t, err)
	sess.Data = []byte(`{"wizard":`)
	require.NoError(t, svc.sessions.SaveSession(ctx, sess))

	other, st, err := svc.Visit(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	assert.Empty(t, st.Turns)

	_, err = svc.sessions.GetSession(ctx, id)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStateReleaseStale(t *testing.T) {
	now := time.Now()
	st := NewState()
	assert.False(t, st.releaseStale(now, time.Minute))

	st.beginPending(now)
	assert.False(t, st.releaseStale(now.Add(30*time.Second), time.Minute))
	assert.False(t, st.releaseStale(now.Add(time.Hour), 0))
	assert.True(t, st.Pending)

	assert.True(t, st.releaseStale(now.Add(time.Minute), time.Minute))
	assert.False(t, st.Pending)
	assert.Empty(t, st.PendingID)
}
