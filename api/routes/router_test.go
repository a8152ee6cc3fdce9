package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/venuecast/backend/internal/dispatch"
	"github.com/venuecast/backend/internal/requests"
	pkgauth "github.com/venuecast/backend/pkg/auth"
	"github.com/venuecast/backend/pkg/config"
	"github.com/venuecast/backend/pkg/db/models"
	"github.com/venuecast/backend/pkg/enums"
	"github.com/venuecast/backend/pkg/logger"
	"github.com/venuecast/backend/pkg/redis"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubDispatchService struct {
	matchFn   func(ctx context.Context, requestID uuid.UUID) (*dispatch.MatchResult, error)
	sendAllFn func(ctx context.Context, requestID uuid.UUID, venueTypes []enums.VenueType) (*dispatch.Result, error)
	statusFn  func(ctx context.Context, requestID uuid.UUID) (*dispatch.StatusReport, error)
	deleteFn  func(ctx context.Context, requestID uuid.UUID) error
}

func (s stubDispatchService) Match(ctx context.Context, requestID uuid.UUID) (*dispatch.MatchResult, error) {
	if s.matchFn != nil {
		return s.matchFn(ctx, requestID)
	}
	return &dispatch.MatchResult{}, nil
}

func (s stubDispatchService) Send(ctx context.Context, requestID, venueID uuid.UUID) (*dispatch.Result, error) {
	return &dispatch.Result{}, nil
}

func (s stubDispatchService) SendAll(ctx context.Context, requestID uuid.UUID, venueTypes []enums.VenueType) (*dispatch.Result, error) {
	if s.sendAllFn != nil {
		return s.sendAllFn(ctx, requestID, venueTypes)
	}
	return &dispatch.Result{}, nil
}

func (s stubDispatchService) ResendFailed(ctx context.Context, requestID uuid.UUID) (*dispatch.Result, error) {
	return &dispatch.Result{}, nil
}

func (s stubDispatchService) Status(ctx context.Context, requestID uuid.UUID) (*dispatch.StatusReport, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, requestID)
	}
	return &dispatch.StatusReport{Status: enums.RequestStatusPending}, nil
}

func (s stubDispatchService) TypeCounts(ctx context.Context, requestID uuid.UUID) ([]dispatch.TypeCount, error) {
	return nil, nil
}

func (s stubDispatchService) DeleteRequest(ctx context.Context, requestID uuid.UUID) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, requestID)
	}
	return nil
}

type stubRequestsRepo struct {
	getFn    func(ctx context.Context, id uuid.UUID) (*models.EventRequest, error)
	createFn func(ctx context.Context, request *models.EventRequest) error
}

func (s *stubRequestsRepo) WithTx(tx *gorm.DB) requests.Repository {
	return s
}

func (s *stubRequestsRepo) Get(ctx context.Context, id uuid.UUID) (*models.EventRequest, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return &models.EventRequest{ID: id, Status: enums.RequestStatusPending}, nil
}

func (s *stubRequestsRepo) Create(ctx context.Context, request *models.EventRequest) error {
	if s.createFn != nil {
		return s.createFn(ctx, request)
	}
	request.ID = uuid.New()
	return nil
}

func (s *stubRequestsRepo) UpdateAggregate(ctx context.Context, id uuid.UUID, agg requests.Aggregate) error {
	return nil
}

func (s *stubRequestsRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	return true, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
	}
}

func newTestRouter(cfg *config.Config, svc dispatch.Service, repo requests.Repository) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	if svc == nil {
		svc = stubDispatchService{}
	}
	if repo == nil {
		repo = &stubRequestsRepo{}
	}
	return NewRouter(RouterParams{
		Config:   cfg,
		Logger:   logg,
		DB:       stubPinger{},
		Redis:    (*redis.Client)(nil),
		Dispatch: svc,
		Requests: repo,
	})
}

func buildToken(t *testing.T, cfg *config.Config, role enums.StaffRole) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(cfg.JWT, time.Now(), pkgauth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
		JTI:    uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthLiveIsPublic(t *testing.T) {
	router := newTestRouter(testConfig(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for health live got %d", resp.Code)
	}
}

func TestConsoleGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig(), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/requests/"+uuid.NewString()+"/dispatch/status", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestConsoleGroupAcceptsOperatorJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/requests/"+uuid.NewString()+"/dispatch/status", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.StaffRoleOperator))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for operator status got %d", resp.Code)
	}
}

func TestDeleteRequiresAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil, nil)
	target := "/api/v1/requests/" + uuid.NewString()

	operator := httptest.NewRequest(http.MethodDelete, target, nil)
	operator.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.StaffRoleOperator))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, operator)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator delete got %d", resp.Code)
	}

	admin := httptest.NewRequest(http.MethodDelete, target, nil)
	admin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.StaffRoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin delete got %d", resp.Code)
	}
}

func TestSendAllForwardsTypeFilter(t *testing.T) {
	cfg := testConfig()
	var gotTypes []enums.VenueType
	svc := stubDispatchService{
		sendAllFn: func(ctx context.Context, requestID uuid.UUID, venueTypes []enums.VenueType) (*dispatch.Result, error) {
			gotTypes = venueTypes
			return &dispatch.Result{}, nil
		},
	}
	router := newTestRouter(cfg, svc, nil)

	body := `{"venueTypes":["rooftop","loft"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+uuid.NewString()+"/dispatch/send-all", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.StaffRoleOperator))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for send-all got %d body %s", resp.Code, resp.Body.String())
	}
	if len(gotTypes) != 2 || gotTypes[0] != enums.VenueTypeRooftop || gotTypes[1] != enums.VenueTypeLoft {
		t.Fatalf("expected type filter to flow through, got %v", gotTypes)
	}
}

func TestSendAllRejectsUnknownVenueType(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil, nil)

	body := `{"venueTypes":["arena"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+uuid.NewString()+"/dispatch/send-all", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.StaffRoleOperator))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown venue type got %d", resp.Code)
	}
}

func TestPublicIntakeCreatesRequest(t *testing.T) {
	router := newTestRouter(testConfig(), nil, nil)

	body := `{
		"title": "Summer Gala",
		"eventType": "corporate",
		"eventDate": "2026-09-12",
		"guestCount": 120,
		"contactName": "Dana Reyes",
		"contactEmail": "dana@example.com"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 for intake got %d body %s", resp.Code, resp.Body.String())
	}

	var payload struct {
		Data struct {
			Title string `json:"title"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Data.Title != "Summer Gala" {
		t.Fatalf("expected created title in response, got %q", payload.Data.Title)
	}
}

func TestPublicIntakeRejectsBadJSON(t *testing.T) {
	router := newTestRouter(testConfig(), nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid payload got %d", resp.Code)
	}
}

func TestMatchRunsForOperators(t *testing.T) {
	cfg := testConfig()
	requestID := uuid.New()
	svc := stubDispatchService{
		matchFn: func(ctx context.Context, id uuid.UUID) (*dispatch.MatchResult, error) {
			if id != requestID {
				t.Fatalf("expected request %s got %s", requestID, id)
			}
			return &dispatch.MatchResult{Matched: 4, Created: 3, Skipped: 1}, nil
		},
	}
	router := newTestRouter(cfg, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests/"+requestID.String()+"/match", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.StaffRoleOperator))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for match got %d body %s", resp.Code, resp.Body.String())
	}
}

func TestMalformedRequestIDIsRejected(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/requests/not-a-uuid/dispatch/status", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.StaffRoleOperator))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed request id got %d", resp.Code)
	}
}
