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

package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/infra-advisor/internal/advisor"
	"github.com/your-org/infra-advisor/internal/apierr"
	"github.com/your-org/infra-advisor/internal/catalog"
	"github.com/your-org/infra-advisor/internal/chatview"
	"github.com/your-org/infra-advisor/internal/transport"
	"github.com/your-org/infra-advisor/internal/wizard"
)

// StateResponse is the JSON view of a visitor
type StateResponse struct {
	VisitorID          string             `json:"visitor_id"`
	Step               wizard.Step        `json:"step"`
	Steps              []wizard.StepInfo  `json:"steps"`
	Form               wizard.FormState   `json:"form"`
	Errors             wizard.Errors      `json:"errors"`
	ShowCloudProviders bool               `json:"show_cloud_providers"`
	Review             []wizard.ReviewRow `json:"review"`
	Turns              []TurnResponse     `json:"turns"`
	Pending            bool               `json:"pending"`
	Indicator          chatview.Indicator `json:"indicator,omitempty"`
	ShowPlaceholder    bool               `json:"show_placeholder"`
	ShowFollowUp       bool               `json:"show_follow_up"`
	Conversation       bool               `json:"conversation_open"`
}

// TurnResponse is one transcript entry with its rendered segments
type TurnResponse struct {
	ID       string            `json:"id"`
	Role     string            `json:"role"`
	Text     string            `json:"text"`
	Segments []SegmentResponse `json:"segments,omitempty"`
}

// SegmentResponse is a rendered text or code segment of a model turn
type SegmentResponse struct {
	Kind     chatview.SegmentKind `json:"kind"`
	Content  string               `json:"content"`
	Language string               `json:"language,omitempty"`
	HTML     string               `json:"html,omitempty"`
}

// CatalogResponse lists the selectable options
type CatalogResponse struct {
	Environments []catalog.EnvironmentOption `json:"environments"`
	Groups       []catalog.Group             `json:"groups"`
}

// JumpRequest targets a completed step
type JumpRequest struct {
	Step int `json:"step" binding:"required"`
}

// SelectRequest toggles an option or sets the main environment
type SelectRequest struct {
	Category string `json:"category" binding:"required"`
	Value    string `json:"value" binding:"required"`
}

// ScenarioRequest replaces the scenario text
type ScenarioRequest struct {
	Text string `json:"text"`
}

// ChatRequest is a follow-up message
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *WebUIServer) registerAPI(api *gin.RouterGroup) {
	api.GET("/catalog", s.handleAPICatalog)
	api.GET("/state", s.apiAction(nil))
	api.POST("/wizard/next", s.apiAction(func(c *gin.Context, id string) error {
		_, err := s.advisor.Next(c.Request.Context(), id)
		return err
	}))
	api.POST("/wizard/prev", s.apiAction(func(c *gin.Context, id string) error {
		_, err := s.advisor.Prev(c.Request.Context(), id)
		return err
	}))
	api.POST("/wizard/jump", s.apiAction(func(c *gin.Context, id string) error {
		var req JumpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return apierr.BadRequest("Invalid request format", err)
		}
		_, err := s.advisor.JumpTo(c.Request.Context(), id, wizard.Step(req.Step))
		return err
	}))
	api.POST("/wizard/select", s.apiAction(func(c *gin.Context, id string) error {
		var req SelectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return apierr.BadRequest("Invalid request format", err)
		}
		_, err := s.advisor.Select(c.Request.Context(), id, req.Category, req.Value)
		return err
	}))
	api.POST("/wizard/scenario", s.apiAction(func(c *gin.Context, id string) error {
		var req ScenarioRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return apierr.BadRequest("Invalid request format", err)
		}
		_, err := s.advisor.EditScenario(c.Request.Context(), id, req.Text)
		return err
	}))
	api.POST("/wizard/reset", s.apiAction(func(c *gin.Context, id string) error {
		_, err := s.advisor.Reset(c.Request.Context(), id)
		return err
	}))
	api.POST("/submit", s.apiAction(func(c *gin.Context, id string) error {
		_, err := s.advisor.Submit(c.Request.Context(), id)
		return err
	}))
	api.POST("/chat", s.apiAction(func(c *gin.Context, id string) error {
		var req ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return apierr.BadRequest("Invalid request format", err)
		}
		_, err := s.advisor.FollowUp(c.Request.Context(), id, req.Message)
		return err
	}))
}

func (s *WebUIServer) handleAPICatalog(c *gin.Context) {
	c.JSON(http.StatusOK, CatalogResponse{
		Environments: catalog.Environments(),
		Groups:       catalog.Groups(),
	})
}

// apiAction runs action for the visitor and answers with the resulting state
func (s *WebUIServer) apiAction(action func(c *gin.Context, id string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _, err := s.visit(c)
		if err != nil {
			apierr.Respond(c, s.logger, err)
			return
		}

		if action != nil {
			if err := action(c, id); err != nil {
				apierr.Respond(c, s.logger, toAPIError(err))
				return
			}
		}

		st, err := s.advisor.State(c.Request.Context(), id)
		if err != nil {
			apierr.Respond(c, s.logger, err)
			return
		}
		c.JSON(http.StatusOK, s.stateResponse(id, st))
	}
}

func toAPIError(err error) error {
	switch {
	case errors.Is(err, wizard.ErrUnknownOption), errors.Is(err, wizard.ErrUnknownCategory):
		return apierr.BadRequest(err.Error(), err)
	case errors.Is(err, advisor.ErrEmptyMessage):
		return apierr.BadRequest("Message must not be empty", err)
	case errors.Is(err, advisor.ErrBusy):
		return apierr.Conflict("A request is already pending", err)
	case errors.Is(err, advisor.ErrNoConversation):
		return apierr.Conflict("Submit the form before sending follow-up messages", err)
	default:
		return err
	}
}

func (s *WebUIServer) stateResponse(id string, st *advisor.State) StateResponse {
	w := st.Wizard
	resp := StateResponse{
		VisitorID:          id,
		Step:               w.Step,
		Steps:              w.Steps(),
		Form:               w.Form,
		Errors:             w.Errors,
		ShowCloudProviders: w.ShowCloudProviders(),
		Review:             w.Review(),
		Turns:              make([]TurnResponse, 0, len(st.Turns)),
		Pending:            st.Pending,
		Indicator:          chatview.PendingIndicator(st.Pending, len(st.Turns)),
		ShowPlaceholder:    chatview.ShowPlaceholder(st.Pending, len(st.Turns)),
		ShowFollowUp:       chatview.ShowFollowUpInput(len(st.Turns)),
		Conversation:       st.HasConversation(),
	}

	for _, turn := range st.Turns {
		tr := TurnResponse{ID: turn.ID, Role: string(turn.Role), Text: turn.Text}
		if turn.Role != transport.RoleUser {
			for _, seg := range s.renderer.Render(turn.Text) {
				tr.Segments = append(tr.Segments, SegmentResponse{
					Kind:     seg.Kind,
					Content:  seg.Content,
					Language: seg.Language,
					HTML:     string(seg.HTML),
				})
			}
		}
		resp.Turns = append(resp.Turns, tr)
	}
	return resp
}
