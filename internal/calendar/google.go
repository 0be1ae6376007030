package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/zenflow/internal/storage"
)

const (
	DefaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	DefaultOAuthURL = "https://oauth2.googleapis.com"

	// ReadOnlyScope is the scope the access token must carry.
	ReadOnlyScope = "https://www.googleapis.com/auth/calendar.readonly"

	// KeyToken is where the signed-in access token is kept.
	KeyToken = "zenflow_calendarToken"
)

// TokenStore persists the signed-in access token.
type TokenStore interface {
	GetValue(key string) (string, error)
	SetValue(key, value string) error
	DeleteValue(key string) error
}

// GoogleOptions configures a Google Calendar source.
type GoogleOptions struct {
	APIKey      string
	ClientID    string
	AccessToken string // issued out of band; validated by SignIn
	CalendarID  string
	BaseURL     string
	OAuthURL    string
	Timeout     time.Duration
	Now         func() time.Time
}

// Google reads today's events from Google Calendar's REST API. The OAuth
// consent flow happens elsewhere; SignIn only validates and stores a token.
type Google struct {
	opts       GoogleOptions
	tokens     TokenStore
	httpClient *http.Client
}

// NewGoogle returns a Google source. Missing credentials are not an error
// here; every operation reports ErrNotConfigured instead.
func NewGoogle(opts GoogleOptions, tokens TokenStore) *Google {
	if opts.CalendarID == "" {
		opts.CalendarID = "primary"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.OAuthURL = strings.TrimRight(opts.OAuthURL, "/")
	if opts.OAuthURL == "" {
		opts.OAuthURL = DefaultOAuthURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Google{opts: opts, tokens: tokens, httpClient: &http.Client{Timeout: opts.Timeout}}
}

// ConfigError returns ErrNotConfigured when credentials are placeholders.
func (g *Google) ConfigError() error {
	return CheckCredentials(g.opts.APIKey, g.opts.ClientID)
}

// SignedIn reports whether a token is stored.
func (g *Google) SignedIn() bool {
	_, err := g.tokens.GetValue(KeyToken)
	return err == nil
}

type tokenInfo struct {
	Scope     string `json:"scope"`
	Email     string `json:"email"`
	Audience  string `json:"aud"`
	ExpiresIn string `json:"expires_in"`
}

// SignIn validates the configured access token and stores it.
func (g *Google) SignIn(ctx context.Context) (SignInResult, error) {
	if err := g.ConfigError(); err != nil {
		return SignInResult{}, err
	}
	token := strings.TrimSpace(g.opts.AccessToken)
	if token == "" {
		return SignInResult{}, fmt.Errorf("%w: no access token configured (calendar.access_token)", ErrNotSignedIn)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.opts.OAuthURL+"/tokeninfo?access_token="+url.QueryEscape(token), nil)
	if err != nil {
		return SignInResult{}, fmt.Errorf("creating tokeninfo request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return SignInResult{}, fmt.Errorf("validating access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SignInResult{}, fmt.Errorf("%w: access token rejected (status %d)", ErrNotSignedIn, resp.StatusCode)
	}
	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return SignInResult{}, fmt.Errorf("decoding tokeninfo: %w", err)
	}
	if !hasCalendarScope(info.Scope) {
		return SignInResult{}, fmt.Errorf("%w: token lacks %s", ErrPermissionDenied, ReadOnlyScope)
	}
	if info.Audience != "" && info.Audience != g.opts.ClientID {
		slog.Warn("calendar: access token issued for a different client", "aud", info.Audience)
	}

	if err := g.tokens.SetValue(KeyToken, token); err != nil {
		return SignInResult{}, fmt.Errorf("saving access token: %w", err)
	}
	return SignInResult{SignedIn: true, Token: token, Account: info.Email, Scope: info.Scope}, nil
}

func hasCalendarScope(scope string) bool {
	for _, s := range strings.Fields(scope) {
		if s == ReadOnlyScope || s == "https://www.googleapis.com/auth/calendar" {
			return true
		}
	}
	return false
}

// SignOut revokes the stored token and forgets it. A failed revoke is
// logged; the token is removed locally either way.
func (g *Google) SignOut(ctx context.Context) error {
	token, err := g.tokens.GetValue(KeyToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading access token: %w", err)
	}

	if err := g.revoke(ctx, token); err != nil {
		slog.Warn("calendar: token revoke failed", "error", err)
	}
	if err := g.tokens.DeleteValue(KeyToken); err != nil {
		return fmt.Errorf("clearing access token: %w", err)
	}
	return nil
}

func (g *Google) revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.opts.OAuthURL+"/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

type eventItem struct {
	Summary string    `json:"summary"`
	Status  string    `json:"status"`
	Start   eventTime `json:"start"`
	End     eventTime `json:"end"`
}

type eventsResponse struct {
	Items         []eventItem `json:"items"`
	NextPageToken string      `json:"nextPageToken"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// ListTodaysEvents returns today's events on the configured calendar as
// schedule text.
func (g *Google) ListTodaysEvents(ctx context.Context) (string, error) {
	if err := g.ConfigError(); err != nil {
		return "", err
	}
	token, err := g.tokens.GetValue(KeyToken)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNotSignedIn
	}
	if err != nil {
		return "", fmt.Errorf("loading access token: %w", err)
	}

	now := g.opts.Now()
	loc := now.Location()
	start, end := DayWindow(now)

	var events []Event
	pageToken := ""
	for {
		page, err := g.listPage(ctx, token, start, end, pageToken)
		if err != nil {
			return "", err
		}
		for _, it := range page.Items {
			ev, ok := toEvent(it, loc)
			if !ok {
				slog.Debug("calendar: skipping event with unreadable times", "summary", it.Summary)
				continue
			}
			events = append(events, ev)
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return FormatEvents(events), nil
}

func (g *Google) listPage(ctx context.Context, token string, start, end time.Time, pageToken string) (*eventsResponse, error) {
	q := url.Values{}
	q.Set("key", g.opts.APIKey)
	q.Set("timeMin", start.Format(time.RFC3339))
	q.Set("timeMax", end.Format(time.RFC3339))
	q.Set("showDeleted", "false")
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", g.opts.BaseURL, url.PathEscape(g.opts.CalendarID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating events request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		slog.Warn("calendar: events request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		slog.Warn("calendar: events request rejected", "status", resp.StatusCode, "api_status", apiErr.Error.Status, "message", apiErr.Error.Message)
		if apiErr.Error.Status == "PERMISSION_DENIED" {
			return nil, ErrPermissionDenied
		}
		if apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrFetchFailed, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	var page eventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decoding events: %v", ErrFetchFailed, err)
	}
	return &page, nil
}

func toEvent(it eventItem, loc *time.Location) (Event, bool) {
	if it.Start.Date != "" {
		return Event{Title: it.Summary, AllDay: true}, true
	}
	start, err := time.Parse(time.RFC3339, it.Start.DateTime)
	if err != nil {
		return Event{}, false
	}
	end, err := time.Parse(time.RFC3339, it.End.DateTime)
	if err != nil {
		return Event{}, false
	}
	return Event{Title: it.Summary, Start: start.In(loc), End: end.In(loc)}, true
}
