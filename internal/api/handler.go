package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/zenflow/internal/calendar"
	"github.com/kalambet/zenflow/internal/pipeline"
	"github.com/kalambet/zenflow/internal/session"
	"github.com/kalambet/zenflow/internal/storage"
	"github.com/kalambet/zenflow/internal/theme"
	"github.com/kalambet/zenflow/internal/usage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Analyzer runs the recommendation pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, schedule string) (pipeline.Result, error)
	Running() bool
}

// SessionStore is the subset of session.Store the API uses.
type SessionStore interface {
	LoadSnapshot() (session.Snapshot, error)
	HasSnapshot() (bool, error)
	ClearSnapshot() error
	LoadTheme() (theme.Preference, error)
	SaveTheme(p theme.Preference) error
}

type ImageReader interface {
	GetImage(handle string) (storage.Image, error)
}

// UsageGate exposes usage state and the unlock actions.
type UsageGate interface {
	State() usage.State
	ResetUsage() (usage.State, error)
	GrantSubscription() (usage.State, error)
}

type FeedbackStore interface {
	SaveFeedback(f storage.Feedback) error
	ListFeedback(limit int) ([]storage.Feedback, error)
}

type AppDeps struct {
	Pipeline Analyzer
	Sessions SessionStore
	Images   ImageReader
	Gate     UsageGate
	Feedback FeedbackStore
	Calendar calendar.Source // optional; if nil, calendar routes report the notice
	// CalendarNotice is the standing configuration notice, empty when the
	// calendar is configured.
	CalendarNotice string
	Token          string
}

// NewAppHandler returns the ZenFlow REST API. Everything except /health
// requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/busyness", handleBusyness)
		r.Post("/analyze", handleAnalyze(deps))
		r.Get("/session", handleGetSession(deps))
		r.Delete("/session", handleClearSession(deps))
		r.Get("/session/image", handleSessionImage(deps))
		r.Get("/usage", handleGetUsage(deps))
		r.Post("/usage/share", handleShare(deps))
		r.Post("/usage/subscribe", handleSubscribe(deps))
		r.Get("/theme", handleGetTheme(deps))
		r.Put("/theme", handlePutTheme(deps))
		r.Get("/feedback", handleListFeedback(deps))
		r.Post("/feedback", handlePostFeedback(deps))
		r.Get("/calendar", handleCalendarStatus(deps))
		r.Post("/calendar/signin", handleCalendarSignIn(deps))
		r.Post("/calendar/signout", handleCalendarSignOut(deps))
		r.Post("/calendar/sync", handleCalendarSync(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type scheduleRequest struct {
	Schedule string `json:"schedule"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func handleBusyness(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, busynessView(req.Schedule))
}

func handleAnalyze(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := deps.Pipeline.Analyze(r.Context(), req.Schedule)
		if err != nil {
			writeAnalyzeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, analyzeView(res))
	}
}

func writeAnalyzeError(w http.ResponseWriter, err error) {
	var limitErr *pipeline.LimitError
	switch {
	case errors.Is(err, pipeline.ErrEmptySchedule):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", pipeline.UserMessage(err))
	case errors.As(err, &limitErr):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error": map[string]any{
				"message": pipeline.UserMessage(err),
				"type":    "limit_reached",
			},
			"usage": usageView(limitErr.State),
		})
	case errors.Is(err, pipeline.ErrInFlight):
		httpError(w, http.StatusConflict, "conflict_error", "%s", pipeline.UserMessage(err))
	case errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "timeout_error", "%s", pipeline.UserMessage(err))
	default:
		slog.Warn("api: analyze failed", "error", err)
		httpError(w, http.StatusBadGateway, "api_error", "%s", pipeline.UserMessage(err))
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Sessions.LoadSnapshot()
		if errors.Is(err, session.ErrNoSnapshot) {
			httpError(w, http.StatusNotFound, "not_found_error", "no saved session")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sessionView(snap))
	}
}

func handleClearSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.ClearSnapshot(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func handleSessionImage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Sessions.LoadSnapshot()
		if errors.Is(err, session.ErrNoSnapshot) || (err == nil && snap.ImageHandle == "") {
			httpError(w, http.StatusNotFound, "not_found_error", "no session image")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load session: %v", err)
			return
		}

		img, err := deps.Images.GetImage(snap.ImageHandle)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "no session image")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load image: %v", err)
			return
		}

		w.Header().Set("Content-Type", img.MIMEType)
		w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
		w.Write(img.Data)
	}
}

func handleGetUsage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, currentUsage(deps.Gate, deps.Sessions))
	}
}

// currentUsage is the usage view plus whether a session is saved. A failed
// lookup reports no saved session.
func currentUsage(g UsageGate, s SessionStore) UsageView {
	v := usageView(g.State())
	has, err := s.HasSnapshot()
	if err != nil {
		slog.Warn("api: checking for saved session", "error", err)
	}
	v.HasSavedSession = has
	return v
}

func handleShare(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := deps.Gate.ResetUsage()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset usage: %v", err)
			return
		}
		v := usageView(state)
		v.ShareText = usage.ShareText
		v.ShareURL = usage.ShareURL()
		writeJSON(w, http.StatusOK, v)
	}
}

func handleSubscribe(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := deps.Gate.GrantSubscription()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to subscribe: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, usageView(state))
	}
}

type themeView struct {
	theme.Preference
	Primary   string   `json:"primary"`
	Accent    string   `json:"accent"`
	Available []string `json:"available"`
}

func newThemeView(p theme.Preference) themeView {
	primary, accent := p.Colors()
	return themeView{Preference: p, Primary: primary, Accent: accent, Available: theme.Names()}
}

func handleGetTheme(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Sessions.LoadTheme()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load theme: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newThemeView(p))
	}
}

func handlePutTheme(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p theme.Preference
		if !decodeBody(w, r, &p) {
			return
		}
		p, err := theme.Resolve(p.Name, p.PrimaryColor, p.AccentColor)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err := deps.Sessions.SaveTheme(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save theme: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newThemeView(p))
	}
}

type feedbackRequest struct {
	Sentiment string `json:"sentiment"`
	Notes     string `json:"notes"`
}

type feedbackView struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	Sentiment string `json:"sentiment"`
	Notes     string `json:"notes,omitempty"`
	Flow      string `json:"flow,omitempty"`
}

func handlePostFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feedbackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		f, err := session.RecordFeedback(deps.Sessions, deps.Feedback, req.Sentiment, req.Notes)
		if err != nil {
			if errors.Is(err, session.ErrInvalidSentiment) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save feedback: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toFeedbackView(f))
	}
}

func handleListFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		items, err := deps.Feedback.ListFeedback(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list feedback: %v", err)
			return
		}
		out := make([]feedbackView, len(items))
		for i, f := range items {
			out[i] = toFeedbackView(f)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func toFeedbackView(f storage.Feedback) feedbackView {
	return feedbackView{
		ID:        f.ID,
		CreatedAt: f.CreatedAt.Format(time.RFC3339),
		Sentiment: f.Sentiment,
		Notes:     f.Notes,
		Flow:      f.Flow,
	}
}

type calendarStatusView struct {
	Configured bool   `json:"configured"`
	Notice     string `json:"notice,omitempty"`
}

func handleCalendarStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, calendarStatusView{
			Configured: deps.Calendar != nil && deps.CalendarNotice == "",
			Notice:     deps.CalendarNotice,
		})
	}
}

func handleCalendarSignIn(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !calendarAvailable(w, deps) {
			return
		}
		res, err := deps.Calendar.SignIn(r.Context())
		if err != nil {
			writeCalendarError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"signedIn": res.SignedIn,
			"account":  res.Account,
			"scope":    res.Scope,
		})
	}
}

func handleCalendarSignOut(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !calendarAvailable(w, deps) {
			return
		}
		if err := deps.Calendar.SignOut(r.Context()); err != nil {
			writeCalendarError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"signedIn": false})
	}
}

func handleCalendarSync(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !calendarAvailable(w, deps) {
			return
		}
		text, err := deps.Calendar.ListTodaysEvents(r.Context())
		if err != nil {
			writeCalendarError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"schedule": text,
			"busyness": busynessView(text),
		})
	}
}

func calendarAvailable(w http.ResponseWriter, deps AppDeps) bool {
	if deps.Calendar == nil {
		msg := deps.CalendarNotice
		if msg == "" {
			msg = calendar.MessageNotConfigured
		}
		httpError(w, http.StatusServiceUnavailable, "configuration_error", "%s", msg)
		return false
	}
	return true
}

func writeCalendarError(w http.ResponseWriter, err error) {
	msg := calendar.UserMessage(err)
	switch {
	case errors.Is(err, calendar.ErrNotConfigured):
		httpError(w, http.StatusServiceUnavailable, "configuration_error", "%s", msg)
	case errors.Is(err, calendar.ErrNotSignedIn):
		httpError(w, http.StatusPreconditionFailed, "calendar_auth_error", "%s", msg)
	case errors.Is(err, calendar.ErrPermissionDenied):
		httpError(w, http.StatusForbidden, "permission_error", "%s", msg)
	default:
		slog.Warn("api: calendar request failed", "error", err)
		httpError(w, http.StatusBadGateway, "api_error", "%s", msg)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
