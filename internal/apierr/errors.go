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

// Package apierr defines the error envelope of the JSON API.
package apierr

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestIDKey is the gin context key holding the request ID
const RequestIDKey = "request_id"

// Response is the body of every failed JSON API call
type Response struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Code is a machine readable error category
type Code string

const (
	CodeBadRequest Code = "BAD_REQUEST"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"

	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
)

// Error is an error carrying the HTTP status and code to answer with
type Error struct {
	Message    string
	Code       Code
	StatusCode int
	Internal   error
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Internal
}

// New creates an API error
func New(message string, code Code, statusCode int, internal error) *Error {
	return &Error{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// BadRequest creates a 400 error
func BadRequest(message string, internal error) *Error {
	return New(message, CodeBadRequest, http.StatusBadRequest, internal)
}

// NotFound creates a 404 error
func NotFound(message string, internal error) *Error {
	return New(message, CodeNotFound, http.StatusNotFound, internal)
}

// Conflict creates a 409 error
func Conflict(message string, internal error) *Error {
	return New(message, CodeConflict, http.StatusConflict, internal)
}

// Internal creates a 500 error
func Internal(message string, internal error) *Error {
	return New(message, CodeInternalError, http.StatusInternalServerError, internal)
}

// Unavailable creates a 503 error
func Unavailable(message string, internal error) *Error {
	return New(message, CodeServiceUnavailable, http.StatusServiceUnavailable, internal)
}

// Respond aborts the request with the envelope for err. Errors that are not
// *Error are answered as internal errors without exposing their text.
func Respond(c *gin.Context, logger *zap.Logger, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal("An internal error occurred. Please try again.", err)
	}

	requestID := c.GetString(RequestIDKey)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("API request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", requestID),
			zap.String("code", string(apiErr.Code)),
			zap.Error(err))
	}

	c.AbortWithStatusJSON(apiErr.StatusCode, Response{
		Error:     apiErr.Message,
		Code:      string(apiErr.Code),
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}
