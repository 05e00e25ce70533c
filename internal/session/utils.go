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

package session

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var sessionIDPattern = regexp.MustCompile(`^session_[a-f0-9]{32}$`)

// GenerateSessionID generates a unique session identifier
func GenerateSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidateSessionID validates a session ID format
func ValidateSessionID(sessionID string) bool {
	return sessionIDPattern.MatchString(sessionID)
}
