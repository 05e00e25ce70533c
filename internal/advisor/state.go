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

// Package advisor coordinates one visitor's consultation: the wizard, the
// conversation transcript, the open model session and the pending flag.
// State is kept in session storage so every request sees the same visitor
// state regardless of which process serves it.
package advisor

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/infra-advisor/internal/transport"
	"github.com/your-org/infra-advisor/internal/wizard"
)

var (
	// ErrBusy is returned when an exchange with the model is already in flight
	ErrBusy = errors.New("a request is already pending")
	// ErrNoConversation is returned for a follow-up before any conversation started
	ErrNoConversation = errors.New("no conversation has been started")
	// ErrEmptyMessage is returned for a blank follow-up
	ErrEmptyMessage = errors.New("message is empty")
)

const (
	errorTurnPrefix  = "Sorry, an error occurred: "
	unknownErrorTurn = "Sorry, an unknown error occurred."
)

// Turn is one entry of the transcript
type Turn struct {
	ID   string         `json:"id"`
	Role transport.Role `json:"role"`
	Text string         `json:"text"`
}

// State is everything remembered about a visitor
type State struct {
	Wizard  *wizard.Wizard     `json:"wizard"`
	Turns   []Turn             `json:"turns,omitempty"`
	Session *transport.Session `json:"session,omitempty"`
	Pending bool               `json:"pending"`

	// PendingID names the exchange in flight; a result carrying another ID is stale
	PendingID    string    `json:"pending_id,omitempty"`
	PendingSince time.Time `json:"pending_since"`
}

// NewState returns the state of a first visit
func NewState() *State {
	return &State{Wizard: wizard.New()}
}

// HasConversation reports whether a model session is open
func (s *State) HasConversation() bool {
	return s.Session != nil && s.Session.ID != ""
}

func (s *State) beginPending(now time.Time) string {
	s.Pending = true
	s.PendingID = uuid.NewString()
	s.PendingSince = now
	return s.PendingID
}

func (s *State) endPending() {
	s.Pending = false
	s.PendingID = ""
	s.PendingSince = time.Time{}
}

// releaseStale clears a pending flag set longer than limit ago, as left
// behind when the process running the exchange died or its final write failed.
func (s *State) releaseStale(now time.Time, limit time.Duration) bool {
	if !s.Pending || limit <= 0 || now.Sub(s.PendingSince) < limit {
		return false
	}
	s.endPending()
	return true
}

func (s *State) appendTurn(role transport.Role, text string) {
	s.Turns = append(s.Turns, Turn{ID: uuid.NewString(), Role: role, Text: text})
}

// errorTurnText renders a failed exchange as transcript text
func errorTurnText(err error) string {
	msg := ""
	if err != nil {
		msg = strings.TrimSpace(err.Error())
	}
	if msg == "" {
		return unknownErrorTurn
	}
	return errorTurnPrefix + msg
}
