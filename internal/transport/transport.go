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

// Package transport defines the boundary to the hosted chat model: a
// conversation handle, the capability interface the advisor depends on and
// the single error kind every implementation reports.
package transport

import "context"

// Operation names used in errors, logs and metrics
const (
	OpStart    = "start"
	OpFollowUp = "follow_up"
)

// Role of a message kept in a session history
type Role string

const (
	// RoleUser marks messages sent by this system
	RoleUser Role = "user"
	// RoleModel marks replies produced by the model
	RoleModel Role = "model"
)

// Message is one exchanged message
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is the handle of an open conversation with the model. It carries the
// exchanged history so follow-ups keep the earlier turns as context.
type Session struct {
	ID      string    `json:"id"`
	Model   string    `json:"model,omitempty"`
	History []Message `json:"history"`
}

// Transport opens and continues conversations with the hosted model.
// Implementations make a single attempt per call and return *Error on failure.
type Transport interface {
	// Start opens a conversation with prompt as the first message
	Start(ctx context.Context, prompt string) (Session, string, error)
	// Continue sends message through an open session. The session history is
	// extended only when the exchange succeeds.
	Continue(ctx context.Context, session *Session, message string) (string, error)
}

// Error is the normalized failure of a transport call
type Error struct {
	Op      string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a transport error for an operation
func NewError(op, message string, err error) *Error {
	return &Error{Op: op, Message: message, Err: err}
}

