package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/david/volunteer-match/internal/auth"
	"github.com/david/volunteer-match/internal/db"
	"github.com/david/volunteer-match/internal/matching"
	"github.com/david/volunteer-match/internal/models"
)

const testAdminSecret = "admin-test-secret"

type fakeMatcher struct {
	matches     []matching.MatchResult
	candidates  []matching.VolunteerMatch
	prefs       *models.Preferences
	explainErr  error
	updateErr   error
	notifyErr   error
	queued      int
	gotLimit    int
	notifyCalls int
}

func (f *fakeMatcher) FindMatchingOpportunities(_ context.Context, _ uuid.UUID, limit int) ([]matching.MatchResult, error) {
	f.gotLimit = limit
	return f.matches, nil
}

func (f *fakeMatcher) GetMatchExplanation(_ context.Context, _, _ uuid.UUID) (*matching.Explanation, error) {
	if f.explainErr != nil {
		return nil, f.explainErr
	}
	return &matching.Explanation{Score: 80}, nil
}

func (f *fakeMatcher) FindMatchingVolunteers(_ context.Context, _ uuid.UUID, limit int) ([]matching.VolunteerMatch, error) {
	f.gotLimit = limit
	return f.candidates, nil
}

func (f *fakeMatcher) GetUserPreferences(_ context.Context, _ uuid.UUID) (*models.Preferences, error) {
	return f.prefs, nil
}

func (f *fakeMatcher) UpdateUserPreferences(_ context.Context, _ uuid.UUID, p models.Preferences) (models.Preferences, error) {
	if f.updateErr != nil {
		return models.Preferences{}, f.updateErr
	}
	return p, nil
}

func (f *fakeMatcher) SendMatchingNotifications(_ context.Context, _ uuid.UUID) (int, error) {
	f.notifyCalls++
	return f.queued, f.notifyErr
}

type fakeAccounts struct {
	*auth.Service
}

func (fakeAccounts) Signup(_ context.Context, req auth.SignupRequest) (*auth.AuthResponse, error) {
	if req.Email == "taken@example.org" {
		return nil, auth.ErrUserExists
	}
	return &auth.AuthResponse{Token: "t", Volunteer: models.Volunteer{Email: req.Email}}, nil
}

func (fakeAccounts) Login(_ context.Context, _ auth.LoginRequest) (*auth.AuthResponse, error) {
	return nil, auth.ErrInvalidCreds
}

type fakeCatalog struct {
	statuses map[uuid.UUID]string
}

func (f *fakeCatalog) UpdateOpportunityStatus(_ context.Context, id uuid.UUID, status string) error {
	if _, ok := f.statuses[id]; !ok {
		return models.ErrNotFound
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeCatalog) ListNotifications(_ context.Context, _ uuid.UUID, _ int) ([]models.Notification, error) {
	return nil, nil
}

type fakeJobs struct{}

func (fakeJobs) Stats(_ context.Context) (map[string]int, error) {
	return map[string]int{db.JobQueued: 3}, nil
}

func (fakeJobs) Recent(_ context.Context, _ int) ([]db.Job, error) { return nil, nil }

type harness struct {
	srv     *Server
	matcher *fakeMatcher
	catalog *fakeCatalog
	token   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	svc, err := auth.NewService(nil, "jwt-test-secret", nil)
	if err != nil {
		t.Fatal(err)
	}
	token, err := svc.GenerateToken(uuid.New())
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		matcher: &fakeMatcher{},
		catalog: &fakeCatalog{statuses: map[uuid.UUID]string{}},
		token:   token,
	}
	h.srv, err = NewServer(h.matcher, fakeAccounts{svc}, h.catalog, fakeJobs{}, Options{AdminSecret: testAdminSecret})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(rec, req)
	return rec
}

func (h *harness) user() map[string]string {
	return map[string]string{"Authorization": "Bearer " + h.token}
}

func admin() map[string]string {
	return map[string]string{"X-Admin-Secret": testAdminSecret}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	if rec := h.do(http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthRoutes(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/v1/auth/signup", `{"email":"new@example.org","password":"longenough"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d", rec.Code)
	}
	rec = h.do(http.MethodPost, "/api/v1/auth/signup", `{"email":"taken@example.org","password":"longenough"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate signup: expected 409, got %d", rec.Code)
	}
	rec = h.do(http.MethodPost, "/api/v1/auth/login", `{"email":"a@b.org","password":"x"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("login: expected 401, got %d", rec.Code)
	}
}

func TestMyMatches(t *testing.T) {
	h := newHarness(t)

	if rec := h.do(http.MethodGet, "/api/v1/me/matches", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec := h.do(http.MethodGet, "/api/v1/me/matches?limit=5", "", h.user())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
	if h.matcher.gotLimit != 5 {
		t.Fatalf("expected limit 5 forwarded, got %d", h.matcher.gotLimit)
	}

	if rec := h.do(http.MethodGet, "/api/v1/me/matches?limit=-1", "", h.user()); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestExplanation_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		path   string
		status int
	}{
		{"ok", nil, "/api/v1/me/matches/" + uuid.NewString() + "/explanation", http.StatusOK},
		{"bad id", nil, "/api/v1/me/matches/nope/explanation", http.StatusBadRequest},
		{"missing", matching.ErrNotFound, "/api/v1/me/matches/" + uuid.NewString() + "/explanation", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.matcher.explainErr = tt.err
			if rec := h.do(http.MethodGet, tt.path, "", h.user()); rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestPreferences(t *testing.T) {
	h := newHarness(t)

	if rec := h.do(http.MethodGet, "/api/v1/me/preferences", "", h.user()); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before preferences exist, got %d", rec.Code)
	}

	body := `{"notification_frequency":"daily","categories":["environment"]}`
	if rec := h.do(http.MethodPut, "/api/v1/me/preferences", body, h.user()); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	h.matcher.updateErr = &matching.ValidationError{Fields: map[string]string{"notification_frequency": "is required"}}
	rec := h.do(http.MethodPut, "/api/v1/me/preferences", `{}`, h.user())
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Fields["notification_frequency"] == "" {
		t.Fatalf("expected field errors in body, got %s", rec.Body.String())
	}
}

func TestPreferences_WrongTypeIsFieldError(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
		msg   string
	}{
		{"distance as string", `{"max_distance_km":"far","notification_frequency":"daily"}`, "max_distance_km", "must be a number"},
		{"categories as string", `{"categories":"environment","notification_frequency":"daily"}`, "categories", "must be a list"},
		{"frequency as number", `{"notification_frequency":3}`, "notification_frequency", "must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.do(http.MethodPut, "/api/v1/me/preferences", tt.body, h.user())
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
			}
			var resp struct {
				Fields map[string]string `json:"fields"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Fields[tt.field] != tt.msg {
				t.Fatalf("expected %s: %q, got %v", tt.field, tt.msg, resp.Fields)
			}
		})
	}

	h := newHarness(t)
	if rec := h.do(http.MethodPut, "/api/v1/me/preferences", `{not json`, h.user()); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", rec.Code)
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	h := newHarness(t)
	for _, headers := range []map[string]string{nil, h.user(), admin()} {
		if rec := h.do(http.MethodGet, "/api/v1/nope", "", headers); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
		}
	}
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	h := newHarness(t)
	path := "/api/v1/opportunities/" + uuid.NewString() + "/candidates"

	if rec := h.do(http.MethodGet, path, "", h.user()); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected volunteer token to be rejected, got %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, path, "", admin()); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with admin secret, got %d", rec.Code)
	}
	bearer := map[string]string{"Authorization": "Bearer " + testAdminSecret}
	if rec := h.do(http.MethodGet, "/api/v1/admin/jobs", "", bearer); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer admin secret, got %d", rec.Code)
	}
}

func TestNotify(t *testing.T) {
	h := newHarness(t)
	h.matcher.queued = 4
	path := "/api/v1/opportunities/" + uuid.NewString() + "/notify"

	rec := h.do(http.MethodPost, path, "", admin())
	if rec.Code != http.StatusAccepted || !strings.Contains(rec.Body.String(), `"queued":4`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	h.matcher.notifyErr = matching.ErrNotEligible
	if rec := h.do(http.MethodPost, path, "", admin()); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for ineligible opportunity, got %d", rec.Code)
	}
}

func TestPublish(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()
	h.catalog.statuses[id] = models.StatusDraft
	h.matcher.queued = 2

	rec := h.do(http.MethodPost, "/api/v1/opportunities/"+id.String()+"/publish", "", admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if h.catalog.statuses[id] != models.StatusPublished || h.matcher.notifyCalls != 1 {
		t.Fatalf("expected publish then notify, got status=%s calls=%d", h.catalog.statuses[id], h.matcher.notifyCalls)
	}

	rec = h.do(http.MethodPost, "/api/v1/opportunities/"+uuid.NewString()+"/publish", "", admin())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown opportunity, got %d", rec.Code)
	}
}
