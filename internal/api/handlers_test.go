package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presence-engine/internal/errors"
	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/service"
	"github.com/presence-engine/internal/types"
)

type mockLifecycleService struct {
	changes  []*types.PresenceChange
	messages []types.UserID
	stats    map[types.UserID]*types.UserStats
	err      error
}

func (m *mockLifecycleService) HandlePresenceChange(ctx context.Context, change *types.PresenceChange) error {
	if m.err != nil {
		return m.err
	}
	m.changes = append(m.changes, change)
	return nil
}

func (m *mockLifecycleService) RecordMessage(ctx context.Context, userID types.UserID) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, userID)
	return nil
}

func (m *mockLifecycleService) Stats(ctx context.Context, userID types.UserID) (*types.UserStats, error) {
	if stats, ok := m.stats[userID]; ok {
		return stats, nil
	}
	return nil, errors.NewNotFoundError("user", string(userID))
}

type mockLeaderboardService struct {
	boards  map[types.House]*types.Leaderboard
	targets []types.TargetRef
}

func (m *mockLeaderboardService) GetCached(ctx context.Context, house types.House) (*types.Leaderboard, error) {
	if board, ok := m.boards[house]; ok {
		return board, nil
	}
	return &types.Leaderboard{House: house}, nil
}

func (m *mockLeaderboardService) RegisterTarget(ctx context.Context, house types.House, target types.TargetRef) error {
	if target == "" {
		return errors.NewValidationError("target", "must not be empty")
	}
	m.targets = append(m.targets, target)
	return nil
}

type mockAdjustmentService struct {
	applied []awardAdjustmentRequest
}

func (m *mockAdjustmentService) AwardAdjustment(ctx context.Context, userID types.UserID, delta int64, reason string) (*models.PointAdjustment, error) {
	if userID == "" {
		return nil, errors.NewValidationError("userId", "must not be empty")
	}
	m.applied = append(m.applied, awardAdjustmentRequest{userID, delta, reason})
	return &models.PointAdjustment{ID: "a-1", UserID: userID, Delta: delta, Reason: reason}, nil
}

type mockAuditService struct {
	report *service.AuditReport
}

func (m *mockAuditService) Audit(ctx context.Context) (*service.AuditReport, error) {
	return m.report, nil
}

type mockReconcileService struct {
	summary *service.ReconcileSummary
}

func (m *mockReconcileService) Reconcile(ctx context.Context) (*service.ReconcileSummary, error) {
	return m.summary, nil
}

type testServer struct {
	server      *Server
	lifecycle   *mockLifecycleService
	leaderboard *mockLeaderboardService
	adjustments *mockAdjustmentService
}

func newTestServer() *testServer {
	lifecycle := &mockLifecycleService{stats: map[types.UserID]*types.UserStats{}}
	leaderboard := &mockLeaderboardService{boards: map[types.House]*types.Leaderboard{}}
	adjustments := &mockAdjustmentService{}
	audit := &mockAuditService{report: &service.AuditReport{UsersAudited: 2}}
	reconcile := &mockReconcileService{summary: &service.ReconcileSummary{Resumed: 1}}

	server := NewServer(
		&ServerConfig{Host: "localhost", Port: "0", ReadTimeout: time.Second, WriteTimeout: time.Second},
		lifecycle, leaderboard, adjustments, audit, reconcile,
	)
	return &testServer{server: server, lifecycle: lifecycle, leaderboard: leaderboard, adjustments: adjustments}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestHandlePresenceChange(t *testing.T) {
	ts := newTestServer()

	to := types.ChannelID("lounge")
	rec := ts.do(t, http.MethodPost, "/api/presence", &types.PresenceChange{
		UserID: "u1",
		To:     &to,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ts.lifecycle.changes, 1)
	assert.Equal(t, types.UserID("u1"), ts.lifecycle.changes[0].UserID)
}

func TestHandlePresenceChange_BadBody(t *testing.T) {
	ts := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/presence", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePresenceChange_InvariantConflict(t *testing.T) {
	ts := newTestServer()
	ts.lifecycle.err = errors.NewInvariantViolationError("u1", 2)

	to := types.ChannelID("lounge")
	rec := ts.do(t, http.MethodPost, "/api/presence", &types.PresenceChange{UserID: "u1", To: &to})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OPEN_SESSION_INVARIANT", resp.Error.Code)
}

func TestHandleRecordMessage(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/api/messages", map[string]string{"userId": "u1"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []types.UserID{"u1"}, ts.lifecycle.messages)

	rec = ts.do(t, http.MethodPost, "/api/messages", map[string]string{"userId": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetStats(t *testing.T) {
	ts := newTestServer()
	ts.lifecycle.stats["u1"] = &types.UserStats{UserID: "u1", TotalPoints: 120}

	rec := ts.do(t, http.MethodGet, "/api/users/u1/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats types.UserStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(120), stats.TotalPoints)

	rec = ts.do(t, http.MethodGet, "/api/users/ghost/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetLeaderboard(t *testing.T) {
	ts := newTestServer()
	ts.leaderboard.boards["ravens"] = &types.Leaderboard{
		House: "ravens",
		Rows:  []types.LeaderboardRow{{Rank: 1, UserID: "u1", TotalPoints: 120}},
	}

	rec := ts.do(t, http.MethodGet, "/api/leaderboard/ravens", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var board types.Leaderboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.Len(t, board.Rows, 1)
	assert.Equal(t, types.UserID("u1"), board.Rows[0].UserID)
}

func TestHandleRegisterTarget(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/api/leaderboard/ravens/targets", map[string]string{"target": "msg-1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []types.TargetRef{"msg-1"}, ts.leaderboard.targets)

	rec = ts.do(t, http.MethodPost, "/api/leaderboard/ravens/targets", map[string]string{"target": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAwardAdjustment(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/api/admin/adjustments", map[string]interface{}{
		"userId": "u1", "delta": 25, "reason": "event prize",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, ts.adjustments.applied, 1)
	assert.Equal(t, int64(25), ts.adjustments.applied[0].Delta)

	rec = ts.do(t, http.MethodPost, "/api/admin/adjustments", map[string]interface{}{
		"delta": 25, "reason": "missing user",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRunAudit(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/api/admin/audit", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var report service.AuditReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.UsersAudited)
}

func TestHandleRunReconcile(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, http.MethodPost, "/api/admin/reconcile", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var summary service.ReconcileSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Resumed)
}
