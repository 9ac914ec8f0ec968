package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/presence-engine/internal/errors"
	"github.com/presence-engine/internal/gateway"
	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/storage"
	"github.com/presence-engine/internal/types"
)

// Hand-rolled in-memory mocks for the store interfaces. The tx parameter is
// ignored; the runner passes nil and the mocks mutate state directly.

type mockTxRunner struct {
	mu     sync.Mutex
	calls  int
	txErr  error
	failAt int // fail the nth InTx call (1-based), 0 means never
}

func (m *mockTxRunner) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	if m.txErr != nil && (m.failAt == 0 || m.failAt == call) {
		return m.txErr
	}
	return fn(nil)
}

type settlementCall struct {
	userID  types.UserID
	points  int64
	seconds int64
}

type resetCall struct {
	userID        types.UserID
	newStreak     int
	consumeShield bool
	resetAt       time.Time
}

type mockUserStore struct {
	mu          sync.Mutex
	users       map[types.UserID]*models.User
	settlements []settlementCall
	resets      []resetCall
	getErr      error
	settleErr   error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: map[types.UserID]*models.User{}}
}

func (m *mockUserStore) add(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *mockUserStore) EnsureUser(ctx context.Context, id types.UserID, displayName string, house types.House) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user, ok := m.users[id]; ok {
		if displayName != "" {
			user.DisplayName = displayName
		}
		if house != "" {
			user.House = house
		}
		return nil
	}
	m.users[id] = &models.User{ID: id, DisplayName: displayName, House: house}
	return nil
}

func (m *mockUserStore) GetByID(ctx context.Context, id types.UserID) (*models.User, error) {
	return m.GetByIDTx(ctx, nil, id)
}

func (m *mockUserStore) GetByIDTx(ctx context.Context, tx pgx.Tx, id types.UserID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	user, ok := m.users[id]
	if !ok {
		return nil, errors.NewNotFoundError("user", string(id))
	}
	copied := *user
	return &copied, nil
}

func (m *mockUserStore) List(ctx context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.User
	for _, user := range m.users {
		copied := *user
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockUserStore) HouseRanking(ctx context.Context, house types.House) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.User
	for _, user := range m.users {
		if user.House == house {
			copied := *user
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPoints != out[j].TotalPoints {
			return out[i].TotalPoints > out[j].TotalPoints
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockUserStore) ApplySettlementTx(ctx context.Context, tx pgx.Tx, id types.UserID, pointsDelta, secondsDelta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settleErr != nil {
		return m.settleErr
	}
	user, ok := m.users[id]
	if !ok {
		return errors.NewNotFoundError("user", string(id))
	}
	user.DailyPoints += pointsDelta
	user.MonthlyPoints += pointsDelta
	user.TotalPoints += pointsDelta
	user.DailyPresenceSeconds += secondsDelta
	user.MonthlyPresenceSeconds += secondsDelta
	user.TotalPresenceSeconds += secondsDelta
	m.settlements = append(m.settlements, settlementCall{id, pointsDelta, secondsDelta})
	return nil
}

func (m *mockUserStore) ApplyAdjustmentTx(ctx context.Context, tx pgx.Tx, id types.UserID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return errors.NewNotFoundError("user", string(id))
	}
	user.DailyPoints += delta
	user.MonthlyPoints += delta
	user.TotalPoints += delta
	return nil
}

func (m *mockUserStore) ResetDailyTx(ctx context.Context, tx pgx.Tx, id types.UserID, newStreak int, consumeShield bool, resetAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return errors.NewNotFoundError("user", string(id))
	}
	user.DailyPoints = 0
	user.DailyPresenceSeconds = 0
	user.DailyMessageCount = 0
	user.MessageStreak = newStreak
	user.StreakCreditedToday = false
	if consumeShield {
		user.StreakShielded = false
	}
	user.LastDailyReset = resetAt
	m.resets = append(m.resets, resetCall{id, newStreak, consumeShield, resetAt})
	return nil
}

func (m *mockUserStore) ResetMonthlyAllTx(ctx context.Context, tx pgx.Tx) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, user := range m.users {
		user.MonthlyPoints = 0
		user.MonthlyPresenceSeconds = 0
		n++
	}
	return n, nil
}

func (m *mockUserStore) IncrementMessageCount(ctx context.Context, id types.UserID, streakThreshold int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return errors.NewNotFoundError("user", string(id))
	}
	user.DailyMessageCount++
	if user.DailyMessageCount >= streakThreshold && !user.StreakCreditedToday {
		user.MessageStreak++
		user.StreakCreditedToday = true
	}
	return nil
}

type mockSessionStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	nextID    int
	insertErr error
	closeErr  error
	totals    map[types.UserID]*storage.TrackedTotals
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: map[string]*models.Session{}}
}

func (m *mockSessionStore) add(session *models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == "" {
		m.nextID++
		session.ID = fmt.Sprintf("s-%d", m.nextID)
	}
	m.sessions[session.ID] = session
}

func (m *mockSessionStore) InsertOpenTx(ctx context.Context, tx pgx.Tx, session *models.Session) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.add(session)
	return nil
}

func (m *mockSessionStore) CloseTx(ctx context.Context, tx pgx.Tx, sessionID string, endedAt time.Time, mode types.SessionCloseMode, durationSeconds, pointsAwarded int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closeErr != nil {
		return m.closeErr
	}
	session, ok := m.sessions[sessionID]
	if !ok || session.EndedAt != nil {
		return fmt.Errorf("open session not found: %s", sessionID)
	}
	session.EndedAt = &endedAt
	session.Tracked = mode == types.CloseTracked
	session.DurationSeconds = durationSeconds
	session.PointsAwarded = pointsAwarded
	return nil
}

func (m *mockSessionStore) FindOpenByUserTx(ctx context.Context, tx pgx.Tx, userID types.UserID) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Session
	for _, session := range m.sessions {
		if session.UserID == userID && session.EndedAt == nil {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *mockSessionStore) FindOpenForCloseTx(ctx context.Context, tx pgx.Tx, userID types.UserID, channel types.ChannelID) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Session
	for _, session := range m.sessions {
		if session.UserID == userID && session.EndedAt == nil &&
			(session.ChannelID == channel || session.ChannelID == types.ChannelUnknown) {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *mockSessionStore) ListAllOpen(ctx context.Context) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Session
	for _, session := range m.sessions {
		if session.EndedAt == nil {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockSessionStore) SumTrackedClosed(ctx context.Context, userID types.UserID, since time.Time) (*storage.TrackedTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.totals != nil {
		if totals, ok := m.totals[userID]; ok {
			return totals, nil
		}
		return &storage.TrackedTotals{}, nil
	}

	totals := &storage.TrackedTotals{}
	for _, session := range m.sessions {
		if session.UserID == userID && session.Tracked && session.EndedAt != nil && session.EndedAt.After(since) {
			totals.DurationSeconds += session.DurationSeconds
			totals.Points += session.PointsAwarded
		}
	}
	return totals, nil
}

func (m *mockSessionStore) openCount(userID types.UserID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, session := range m.sessions {
		if session.UserID == userID && session.EndedAt == nil {
			n++
		}
	}
	return n
}

func (m *mockSessionStore) byID(id string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

type mockSettingsStore struct {
	mu    sync.Mutex
	times map[string]time.Time
}

func newMockSettingsStore() *mockSettingsStore {
	return &mockSettingsStore{times: map[string]time.Time{}}
}

func (m *mockSettingsStore) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.times[key]
	return t, ok, nil
}

func (m *mockSettingsStore) SetTimeTx(ctx context.Context, tx pgx.Tx, key string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times[key] = t
	return nil
}

func (m *mockSettingsStore) Set(ctx context.Context, key, value string) error {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return err
	}
	return m.SetTimeTx(ctx, nil, key, t)
}

type mockPublicationStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.LeaderboardPublication
}

func (m *mockPublicationStore) Register(ctx context.Context, house types.House, target types.TargetRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if row.House == house && row.TargetRef == target {
			return nil
		}
	}
	m.nextID++
	m.rows = append(m.rows, &models.LeaderboardPublication{ID: m.nextID, House: house, TargetRef: target})
	return nil
}

func (m *mockPublicationStore) ListByHouse(ctx context.Context, house types.House) ([]*models.LeaderboardPublication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.LeaderboardPublication
	for _, row := range m.rows {
		if row.House == house {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *mockPublicationStore) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := map[int64]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var kept []*models.LeaderboardPublication
	var removed int64
	for _, row := range m.rows {
		if drop[row.ID] {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	m.rows = kept
	return removed, nil
}

type mockAdjustmentStore struct {
	mu   sync.Mutex
	rows []*models.PointAdjustment
}

func (m *mockAdjustmentStore) InsertTx(ctx context.Context, tx pgx.Tx, adjustment *models.PointAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if adjustment.ID == "" {
		adjustment.ID = fmt.Sprintf("a-%d", len(m.rows)+1)
	}
	m.rows = append(m.rows, adjustment)
	return nil
}

func (m *mockAdjustmentStore) SumByUser(ctx context.Context, userID types.UserID, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum int64
	for _, row := range m.rows {
		if row.UserID == userID && row.CreatedAt.After(since) {
			sum += row.Delta
		}
	}
	return sum, nil
}

type mockSubmissionStore struct {
	mu   sync.Mutex
	rows []*models.BonusSubmission
}

func (m *mockSubmissionStore) SumApprovedByUser(ctx context.Context, userID types.UserID, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum int64
	for _, row := range m.rows {
		if row.UserID == userID && row.Status == types.SubmissionApproved &&
			row.DecidedAt != nil && row.DecidedAt.After(since) {
			sum += row.Points
		}
	}
	return sum, nil
}

type mockRefreshEnqueuer struct {
	mu     sync.Mutex
	houses []types.House
}

func (m *mockRefreshEnqueuer) EnqueueRefresh(house types.House) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.houses = append(m.houses, house)
}

func (m *mockRefreshEnqueuer) enqueued() []types.House {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.House(nil), m.houses...)
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockNotifier) NotifyOperator(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
}

func (m *mockNotifier) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

type mockPresenceGateway struct {
	mu           sync.Mutex
	members      map[types.UserID]bool
	memberErrs   map[types.UserID]error
	channels     []types.ChannelID
	present      map[types.ChannelID][]types.UserID
	channelErrs  map[types.ChannelID]error
	channelNames map[types.ChannelID]string
}

func newMockPresenceGateway() *mockPresenceGateway {
	return &mockPresenceGateway{
		members:      map[types.UserID]bool{},
		memberErrs:   map[types.UserID]error{},
		present:      map[types.ChannelID][]types.UserID{},
		channelErrs:  map[types.ChannelID]error{},
		channelNames: map[types.ChannelID]string{},
	}
}

func (m *mockPresenceGateway) IsMember(ctx context.Context, userID types.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.memberErrs[userID]; err != nil {
		return false, err
	}
	return m.members[userID], nil
}

func (m *mockPresenceGateway) ListTrackedChannels(ctx context.Context) ([]types.ChannelID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels, nil
}

func (m *mockPresenceGateway) ListPresentUsers(ctx context.Context, channel types.ChannelID) ([]types.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.channelErrs[channel]; err != nil {
		return nil, err
	}
	return m.present[channel], nil
}

func (m *mockPresenceGateway) ChannelName(ctx context.Context, channel types.ChannelID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.channelNames[channel]; ok {
		return name
	}
	return string(channel)
}

type publishCall struct {
	house  types.House
	target types.TargetRef
}

type mockPublisher struct {
	mu      sync.Mutex
	broken  map[types.TargetRef]bool
	failing map[types.TargetRef]error
	calls   []publishCall
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{
		broken:  map[types.TargetRef]bool{},
		failing: map[types.TargetRef]error{},
	}
}

func (m *mockPublisher) Publish(ctx context.Context, board *types.Leaderboard, target types.TargetRef) (gateway.PublishResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, publishCall{board.House, target})
	if m.broken[target] {
		return gateway.PublishBroken, errors.NewBrokenTargetError(board.House, target)
	}
	if err := m.failing[target]; err != nil {
		return gateway.PublishOK, err
	}
	return gateway.PublishOK, nil
}

func (m *mockPublisher) published() []publishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishCall(nil), m.calls...)
}

func channelRef(c types.ChannelID) *types.ChannelID {
	return &c
}
