package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/david/volunteer-match/internal/auth"
	"github.com/david/volunteer-match/internal/db"
	"github.com/david/volunteer-match/internal/matching"
	"github.com/david/volunteer-match/internal/models"
)

// Matcher is the matching engine as seen by the HTTP layer.
type Matcher interface {
	FindMatchingOpportunities(ctx context.Context, volunteerID uuid.UUID, limit int) ([]matching.MatchResult, error)
	GetMatchExplanation(ctx context.Context, volunteerID, opportunityID uuid.UUID) (*matching.Explanation, error)
	FindMatchingVolunteers(ctx context.Context, opportunityID uuid.UUID, limit int) ([]matching.VolunteerMatch, error)
	GetUserPreferences(ctx context.Context, volunteerID uuid.UUID) (*models.Preferences, error)
	UpdateUserPreferences(ctx context.Context, volunteerID uuid.UUID, prefs models.Preferences) (models.Preferences, error)
	SendMatchingNotifications(ctx context.Context, opportunityID uuid.UUID) (int, error)
}

type Accounts interface {
	Signup(ctx context.Context, req auth.SignupRequest) (*auth.AuthResponse, error)
	Login(ctx context.Context, req auth.LoginRequest) (*auth.AuthResponse, error)
	Middleware(next echo.HandlerFunc) echo.HandlerFunc
}

// Catalog covers the opportunity and inbox reads/writes that are not matching.
type Catalog interface {
	UpdateOpportunityStatus(ctx context.Context, id uuid.UUID, status string) error
	ListNotifications(ctx context.Context, volunteerID uuid.UUID, limit int) ([]models.Notification, error)
}

type JobStats interface {
	Stats(ctx context.Context) (map[string]int, error)
	Recent(ctx context.Context, limit int) ([]db.Job, error)
}

type Options struct {
	CORSOrigins []string
	AdminSecret string
	Logger      *zap.Logger
}

type Server struct {
	Echo     *echo.Echo
	matcher  Matcher
	accounts Accounts
	catalog  Catalog
	jobs     JobStats
	log      *zap.Logger

	adminSecret string
}

const (
	defaultInboxLimit = 50
	defaultJobsLimit  = 20
)

func NewServer(matcher Matcher, accounts Accounts, catalog Catalog, jobs JobStats, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	secret := strings.TrimSpace(opts.AdminSecret)
	if secret == "" {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
		}
		secret = base64.RawURLEncoding.EncodeToString(buf)
		logger.Warn("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		Echo:        e,
		matcher:     matcher,
		accounts:    accounts,
		catalog:     catalog,
		jobs:        jobs,
		log:         logger,
		adminSecret: secret,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")

	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	me := api.Group("/me")
	me.Use(s.accounts.Middleware)
	me.GET("/matches", s.handleMyMatches)
	me.GET("/matches/:id/explanation", s.handleExplanation)
	me.GET("/preferences", s.handleGetPreferences)
	me.PUT("/preferences", s.handleUpdatePreferences)
	me.GET("/notifications", s.handleNotifications)

	// Admin checks are per route so unknown paths still fall through to 404.
	api.GET("/opportunities/:id/candidates", s.handleCandidates, s.adminMiddleware)
	api.POST("/opportunities/:id/publish", s.handlePublish, s.adminMiddleware)
	api.POST("/opportunities/:id/notify", s.handleNotify, s.adminMiddleware)
	api.GET("/admin/jobs", s.handleJobs, s.adminMiddleware)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.accounts.Signup(c.Request().Context(), req)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidSignup):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case err != nil:
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.accounts.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return s.internalError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMyMatches(c echo.Context) error {
	volunteerID, err := auth.GetVolunteerIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	results, err := s.matcher.FindMatchingOpportunities(c.Request().Context(), volunteerID, limit)
	if err != nil {
		return s.engineError(c, err)
	}
	if results == nil {
		results = []matching.MatchResult{}
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleExplanation(c echo.Context) error {
	volunteerID, err := auth.GetVolunteerIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	oppID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid opportunity ID"})
	}

	ex, err := s.matcher.GetMatchExplanation(c.Request().Context(), volunteerID, oppID)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, ex)
}

func (s *Server) handleGetPreferences(c echo.Context) error {
	volunteerID, err := auth.GetVolunteerIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	prefs, err := s.matcher.GetUserPreferences(c.Request().Context(), volunteerID)
	if err != nil {
		return s.engineError(c, err)
	}
	if prefs == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "preferences not set"})
	}
	return c.JSON(http.StatusOK, prefs)
}

func (s *Server) handleUpdatePreferences(c echo.Context) error {
	volunteerID, err := auth.GetVolunteerIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	var prefs models.Preferences
	if err := c.Bind(&prefs); err != nil {
		if field, msg, ok := bindFieldError(err); ok {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"error":  "validation failed",
				"fields": map[string]string{field: msg},
			})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	saved, err := s.matcher.UpdateUserPreferences(c.Request().Context(), volunteerID, prefs)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (s *Server) handleNotifications(c echo.Context) error {
	volunteerID, err := auth.GetVolunteerIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}
	limit, err := queryInt(c, "limit", defaultInboxLimit)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if limit == 0 {
		limit = defaultInboxLimit
	}

	items, err := s.catalog.ListNotifications(c.Request().Context(), volunteerID, limit)
	if err != nil {
		return s.internalError(c, err)
	}
	if items == nil {
		items = []models.Notification{}
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) handleCandidates(c echo.Context) error {
	oppID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid opportunity ID"})
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	matches, err := s.matcher.FindMatchingVolunteers(c.Request().Context(), oppID, limit)
	if err != nil {
		return s.engineError(c, err)
	}
	if matches == nil {
		matches = []matching.VolunteerMatch{}
	}
	return c.JSON(http.StatusOK, matches)
}

// handlePublish opens an opportunity and immediately notifies matching volunteers.
func (s *Server) handlePublish(c echo.Context) error {
	oppID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid opportunity ID"})
	}
	ctx := c.Request().Context()

	if err := s.catalog.UpdateOpportunityStatus(ctx, oppID, models.StatusPublished); err != nil {
		return s.engineError(c, err)
	}

	queued, err := s.matcher.SendMatchingNotifications(ctx, oppID)
	if err != nil && !errors.Is(err, matching.ErrNotEligible) {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": models.StatusPublished,
		"queued": queued,
	})
}

func (s *Server) handleNotify(c echo.Context) error {
	oppID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid opportunity ID"})
	}

	queued, err := s.matcher.SendMatchingNotifications(c.Request().Context(), oppID)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]int{"queued": queued})
}

func (s *Server) handleJobs(c echo.Context) error {
	ctx := c.Request().Context()
	limit, err := queryInt(c, "limit", defaultJobsLimit)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if limit == 0 {
		limit = defaultJobsLimit
	}

	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		return s.internalError(c, err)
	}
	recent, err := s.jobs.Recent(ctx, limit)
	if err != nil {
		return s.internalError(c, err)
	}
	if recent == nil {
		recent = []db.Job{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"counts":       stats,
		"recent":       recent,
		"generated_at": time.Now().UTC(),
	})
}

// engineError maps matching errors onto HTTP statuses.
func (s *Server) engineError(c echo.Context, err error) error {
	var verr *matching.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, matching.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, matching.ErrNotEligible):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return s.internalError(c, err)
}

func (s *Server) internalError(c echo.Context, err error) error {
	s.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// bindFieldError reports which JSON field had the wrong type in a bind error.
func bindFieldError(err error) (string, string, bool) {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) || typeErr.Field == "" {
		return "", "", false
	}

	var want string
	switch typeErr.Type.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		want = "a number"
	case reflect.String:
		want = "a string"
	case reflect.Slice, reflect.Array:
		want = "a list"
	case reflect.Bool:
		want = "a boolean"
	default:
		want = "a " + typeErr.Type.String()
	}
	return typeErr.Field, "must be " + want, true
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get("X-Admin-Secret") == s.adminSecret {
			return next(c)
		}
		authHeader := c.Request().Header.Get("Authorization")
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") && authHeader[7:] == s.adminSecret {
			return next(c)
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}
