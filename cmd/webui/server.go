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
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/infra-advisor/internal/advisor"
	"github.com/your-org/infra-advisor/internal/apierr"
	"github.com/your-org/infra-advisor/internal/catalog"
	"github.com/your-org/infra-advisor/internal/chatview"
	"github.com/your-org/infra-advisor/internal/health"
	"github.com/your-org/infra-advisor/internal/metrics"
	"github.com/your-org/infra-advisor/internal/transport"
	"github.com/your-org/infra-advisor/internal/wizard"
)

const (
	// VisitorCookie keys the visitor state
	VisitorCookie = "infra_advisor_session"
	// RequestIDHeader carries the request ID in and out
	RequestIDHeader = "X-Request-ID"
)

//go:embed templates/*.html
var templatesFS embed.FS

// WebUIServer serves the wizard, the chat panel and the JSON API
type WebUIServer struct {
	advisor        *advisor.Service
	health         *health.Manager
	metrics        *metrics.Metrics
	renderer       *chatview.Renderer
	logger         *zap.Logger
	allowedOrigins []string
	cookieMaxAge   int
}

// ServerOptions holds the collaborators of the web server
type ServerOptions struct {
	Advisor        *advisor.Service
	Health         *health.Manager
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	AllowedOrigins []string
	SessionTTL     time.Duration
}

// NewWebUIServer creates the server
func NewWebUIServer(opts ServerOptions) *WebUIServer {
	return &WebUIServer{
		advisor:        opts.Advisor,
		health:         opts.Health,
		metrics:        opts.Metrics,
		renderer:       chatview.NewRenderer(chatview.DefaultStyle),
		logger:         opts.Logger,
		allowedOrigins: opts.AllowedOrigins,
		cookieMaxAge:   int(opts.SessionTTL.Seconds()),
	}
}

// Router builds the gin engine with every route
func (s *WebUIServer) Router() (*gin.Engine, error) {
	tmpl, err := template.New("").ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(requestID(), requestLogger(s.logger, s.metrics), gin.Recovery())
	router.SetHTMLTemplate(tmpl)

	router.GET("/", s.handleHomePage)
	router.POST("/wizard/next", s.handleNext)
	router.POST("/wizard/prev", s.handlePrev)
	router.POST("/wizard/jump", s.handleJump)
	router.POST("/wizard/select", s.handleSelect)
	router.POST("/wizard/scenario", s.handleScenario)
	router.POST("/wizard/reset", s.handleReset)
	router.POST("/submit", s.handleSubmit)
	router.POST("/chat", s.handleChat)

	router.GET("/health", s.health.Handler())
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := router.Group("/api/v1")
	api.Use(s.corsMiddleware())
	s.registerAPI(api)

	return router, nil
}

func (s *WebUIServer) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
		ExposeHeaders:    []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(s.allowedOrigins) > 0 {
		cfg.AllowOrigins = s.allowedOrigins
	} else {
		// Same-origin only: never echo a foreign origin with credentials
		cfg.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(cfg)
}

// visit resolves the visitor from the cookie, creating one when needed
func (s *WebUIServer) visit(c *gin.Context) (string, *advisor.State, error) {
	cookie, _ := c.Cookie(VisitorCookie)
	id, st, err := s.advisor.Visit(c.Request.Context(), cookie)
	if err != nil {
		return "", nil, err
	}
	if id != cookie {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(VisitorCookie, id, s.cookieMaxAge, "/", "", c.Request.TLS != nil, true)
	}
	return id, st, nil
}

// handleHomePage renders the wizard and the chat panel
func (s *WebUIServer) handleHomePage(c *gin.Context) {
	_, st, err := s.visit(c)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.HTML(http.StatusOK, "index.html", s.page(st))
}

// handleNext stores a posted scenario, if any, and advances
func (s *WebUIServer) handleNext(c *gin.Context) {
	s.formAction(c, func(id string) error {
		if err := s.saveScenario(c, id); err != nil {
			return err
		}
		_, err := s.advisor.Next(c.Request.Context(), id)
		return err
	})
}

func (s *WebUIServer) handlePrev(c *gin.Context) {
	s.formAction(c, func(id string) error {
		if err := s.saveScenario(c, id); err != nil {
			return err
		}
		_, err := s.advisor.Prev(c.Request.Context(), id)
		return err
	})
}

func (s *WebUIServer) handleJump(c *gin.Context) {
	s.formAction(c, func(id string) error {
		step, err := strconv.Atoi(c.PostForm("step"))
		if err != nil {
			return nil
		}
		_, err = s.advisor.JumpTo(c.Request.Context(), id, wizard.Step(step))
		return err
	})
}

func (s *WebUIServer) handleSelect(c *gin.Context) {
	s.formAction(c, func(id string) error {
		_, err := s.advisor.Select(c.Request.Context(), id, c.PostForm("category"), c.PostForm("value"))
		return err
	})
}

func (s *WebUIServer) handleScenario(c *gin.Context) {
	s.formAction(c, func(id string) error {
		return s.saveScenario(c, id)
	})
}

func (s *WebUIServer) handleReset(c *gin.Context) {
	s.formAction(c, func(id string) error {
		_, err := s.advisor.Reset(c.Request.Context(), id)
		return err
	})
}

// handleSubmit blocks until the model answers, then shows the page again
func (s *WebUIServer) handleSubmit(c *gin.Context) {
	s.formAction(c, func(id string) error {
		_, err := s.advisor.Submit(c.Request.Context(), id)
		return err
	})
}

func (s *WebUIServer) handleChat(c *gin.Context) {
	s.formAction(c, func(id string) error {
		_, err := s.advisor.FollowUp(c.Request.Context(), id, c.PostForm("message"))
		return err
	})
}

func (s *WebUIServer) saveScenario(c *gin.Context, id string) error {
	text, ok := c.GetPostForm("scenario")
	if !ok {
		return nil
	}
	_, err := s.advisor.EditScenario(c.Request.Context(), id, text)
	return err
}

// formAction runs a form post and redirects back to the page. Rejected
// actions (unknown options, a pending request) leave the page as it was.
func (s *WebUIServer) formAction(c *gin.Context, action func(id string) error) {
	id, _, err := s.visit(c)
	if err == nil {
		err = action(id)
	}

	switch {
	case err == nil:
	case errors.Is(err, wizard.ErrUnknownOption),
		errors.Is(err, wizard.ErrUnknownCategory),
		errors.Is(err, advisor.ErrBusy),
		errors.Is(err, advisor.ErrNoConversation),
		errors.Is(err, advisor.ErrEmptyMessage):
		s.logger.Debug("Form action ignored", zap.String("path", c.Request.URL.Path), zap.Error(err))
	default:
		s.renderError(c, err)
		return
	}

	c.Redirect(http.StatusSeeOther, "/")
}

func (s *WebUIServer) renderError(c *gin.Context, err error) {
	s.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.HTML(http.StatusInternalServerError, "error.html", gin.H{
		"RequestID": c.GetString(apierr.RequestIDKey),
	})
}

// pageData is the view model of index.html
type pageData struct {
	Steps           []wizard.StepInfo
	Step            wizard.Step
	EnvironmentErr  string
	ScenarioErr     string
	Environments    []optionView
	Groups          []groupView
	Scenario        string
	Review          []wizard.ReviewRow
	Turns           []turnView
	Pending         bool
	ShowSpinner     bool
	ShowDots        bool
	ShowPlaceholder bool
	ShowFollowUp    bool
	CanSubmit       bool
	CopiedMillis    int64
}

type optionView struct {
	Value       string
	Description string
	Selected    bool
}

type groupView struct {
	Category catalog.Category
	Title    string
	Options  []optionView
}

type turnView struct {
	User     bool
	Text     string
	Segments []chatview.RenderedSegment
}

func (s *WebUIServer) page(st *advisor.State) pageData {
	w := st.Wizard
	data := pageData{
		Steps:           w.Steps(),
		Step:            w.Step,
		EnvironmentErr:  w.Errors[wizard.FieldMainEnvironment],
		ScenarioErr:     w.Errors[wizard.FieldScenario],
		Scenario:        w.Form.Scenario,
		Review:          w.Review(),
		Pending:         st.Pending,
		ShowPlaceholder: chatview.ShowPlaceholder(st.Pending, len(st.Turns)),
		ShowFollowUp:    chatview.ShowFollowUpInput(len(st.Turns)),
		CanSubmit:       !st.Pending,
		CopiedMillis:    chatview.CopiedDuration.Milliseconds(),
	}

	switch chatview.PendingIndicator(st.Pending, len(st.Turns)) {
	case chatview.IndicatorSpinner:
		data.ShowSpinner = true
	case chatview.IndicatorDots:
		data.ShowDots = true
	}

	for _, env := range catalog.Environments() {
		data.Environments = append(data.Environments, optionView{
			Value:       env.Value,
			Description: env.Description,
			Selected:    env.Value == w.Form.MainEnvironment,
		})
	}

	for _, g := range catalog.Groups() {
		if g.Category == catalog.CloudProviders && !w.ShowCloudProviders() {
			continue
		}
		gv := groupView{Category: g.Category, Title: g.Title}
		for _, o := range g.Options {
			gv.Options = append(gv.Options, optionView{Value: o, Selected: w.Form.IsSelected(g.Category, o)})
		}
		data.Groups = append(data.Groups, gv)
	}

	for _, turn := range st.Turns {
		tv := turnView{User: turn.Role == transport.RoleUser, Text: turn.Text}
		if !tv.User {
			tv.Segments = s.renderer.Render(turn.Text)
		}
		data.Turns = append(data.Turns, tv)
	}

	return data
}

// requestID tags every request with an ID, reusing the caller's when given
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(apierr.RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// requestLogger logs and counts every request once it is served
func requestLogger(logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.HTTPRequest(route, c.Request.Method, status)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(apierr.RequestIDKey)),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("HTTP request", fields...)
			return
		}
		logger.Debug("HTTP request", fields...)
	}
}
