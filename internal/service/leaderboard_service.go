package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/presence-engine/internal/gateway"
	"github.com/presence-engine/internal/logging"
	"github.com/presence-engine/internal/storage"
	"github.com/presence-engine/internal/types"
)

// LeaderboardService computes house rankings and pushes them to registered
// publication targets. Pushes are rate limited so a burst of settlements
// cannot flood the platform; targets that stop resolving are pruned as a
// batch and the operator is told how many went.
type LeaderboardService struct {
	users        UserStore
	publications PublicationStore
	cache        *storage.LeaderboardCache
	publisher    gateway.LeaderboardPublisher
	notifier     gateway.OperatorNotifier
	limiter      *rate.Limiter
	now          func() time.Time
}

// NewLeaderboardService creates a new leaderboard service. publishRate is
// pushes per second; publishBurst bounds how many go out back to back.
func NewLeaderboardService(
	users UserStore,
	publications PublicationStore,
	cache *storage.LeaderboardCache,
	publisher gateway.LeaderboardPublisher,
	notifier gateway.OperatorNotifier,
	publishRate float64,
	publishBurst int,
) *LeaderboardService {
	return &LeaderboardService{
		users:        users,
		publications: publications,
		cache:        cache,
		publisher:    publisher,
		notifier:     notifier,
		limiter:      rate.NewLimiter(rate.Limit(publishRate), publishBurst),
		now:          time.Now,
	}
}

// SetNow overrides the clock, for tests
func (s *LeaderboardService) SetNow(now func() time.Time) {
	s.now = now
}

// Compute builds the current ranking for a house from the stored counters.
// Ordering ties on points break by user id, so two computes over the same
// data always produce the same board.
func (s *LeaderboardService) Compute(ctx context.Context, house types.House) (*types.Leaderboard, error) {
	users, err := s.users.HouseRanking(ctx, house)
	if err != nil {
		return nil, fmt.Errorf("failed to rank house %s: %w", house, err)
	}

	board := &types.Leaderboard{
		House:      house,
		Rows:       make([]types.LeaderboardRow, 0, len(users)),
		ComputedAt: s.now(),
	}
	for i, user := range users {
		board.Rows = append(board.Rows, types.LeaderboardRow{
			Rank:        i + 1,
			UserID:      user.ID,
			DisplayName: user.DisplayName,
			TotalPoints: user.TotalPoints,
		})
	}

	return board, nil
}

// Refresh recomputes a house's board, caches it and pushes it to every
// registered target. A push that reports a broken target marks the target
// for removal; all broken targets are deleted in one batch at the end.
func (s *LeaderboardService) Refresh(ctx context.Context, house types.House) error {
	logger := logging.FromContext(ctx)

	board, err := s.Compute(ctx, house)
	if err != nil {
		return err
	}

	if err := s.cache.Set(ctx, board); err != nil {
		logger.WithFields(map[string]interface{}{
			"house": string(house),
			"error": err.Error(),
		}).Error("Failed to cache leaderboard, pushing anyway")
	}

	targets, err := s.publications.ListByHouse(ctx, house)
	if err != nil {
		return fmt.Errorf("failed to list publication targets for house %s: %w", house, err)
	}

	var broken []int64
	for _, target := range targets {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("publish rate wait interrupted: %w", err)
		}

		result, err := s.publisher.Publish(ctx, board, target.TargetRef)
		if err != nil {
			if result == gateway.PublishBroken {
				broken = append(broken, target.ID)
				continue
			}
			// Transient failure: keep the target, the next refresh retries it.
			logger.WithFields(map[string]interface{}{
				"house":  string(house),
				"target": string(target.TargetRef),
				"error":  err.Error(),
			}).Error("Failed to push leaderboard to target")
			continue
		}
		if result == gateway.PublishBroken {
			broken = append(broken, target.ID)
		}
	}

	if len(broken) > 0 {
		removed, err := s.publications.DeleteBatch(ctx, broken)
		if err != nil {
			return fmt.Errorf("failed to prune broken publication targets: %w", err)
		}
		logger.WithFields(map[string]interface{}{
			"house":   string(house),
			"removed": removed,
		}).Warn("Pruned broken leaderboard targets")
		s.notifier.NotifyOperator(fmt.Sprintf(
			"removed %d broken leaderboard targets for house %s", removed, house))
	}

	return nil
}

// RegisterTarget records a rendered leaderboard message as a standing
// publication target for a house.
func (s *LeaderboardService) RegisterTarget(ctx context.Context, house types.House, target types.TargetRef) error {
	if house == "" {
		return fmt.Errorf("house must not be empty")
	}
	if target == "" {
		return fmt.Errorf("target must not be empty")
	}
	return s.publications.Register(ctx, house, target)
}

// GetCached returns the cached board for a house, computing and caching it
// on a miss.
func (s *LeaderboardService) GetCached(ctx context.Context, house types.House) (*types.Leaderboard, error) {
	board, found, err := s.cache.Get(ctx, house)
	if err != nil {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"house": string(house),
			"error": err.Error(),
		}).Error("Leaderboard cache read failed, recomputing")
	}
	if found {
		return board, nil
	}

	board, err = s.Compute(ctx, house)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, board); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to cache recomputed leaderboard")
	}

	return board, nil
}
