// Package gateway defines the engine's view of its external collaborators:
// the community platform that knows who is present, the renderer that owns
// published leaderboard messages, and the operator alert channel. The command
// layer implements these; the engine only consumes them.
package gateway

import (
	"context"

	"github.com/presence-engine/internal/types"
)

// PresenceGateway exposes ground truth about the community
type PresenceGateway interface {
	// IsMember reports whether the user is currently a community member
	IsMember(ctx context.Context, userID types.UserID) (bool, error)
	// ListTrackedChannels lists the presence channels the engine tracks
	ListTrackedChannels(ctx context.Context) ([]types.ChannelID, error)
	// ListPresentUsers lists the users currently observed in a channel
	ListPresentUsers(ctx context.Context, channel types.ChannelID) ([]types.UserID, error)
	// ChannelName resolves a channel's display name
	ChannelName(ctx context.Context, channel types.ChannelID) string
}

// PublishResult reports the outcome of one leaderboard push
type PublishResult int

const (
	// PublishOK means the target accepted the refreshed view
	PublishOK PublishResult = iota
	// PublishBroken means the target no longer resolves and should be discarded
	PublishBroken
)

// LeaderboardPublisher renders and delivers leaderboard views to external
// targets. Rendering is owned by the collaborator.
type LeaderboardPublisher interface {
	Publish(ctx context.Context, board *types.Leaderboard, target types.TargetRef) (PublishResult, error)
}

// OperatorNotifier is the fire-and-forget alert channel used on every
// defensive-fallback and batch-cleanup path. Implementations must not block.
type OperatorNotifier interface {
	NotifyOperator(message string)
}
