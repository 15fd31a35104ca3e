package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// reservationTTL outlives any plausible campaign run. Keys exist to make
// Resume skip recipients an interrupted run already enqueued; once the
// campaign settles they are dead weight and expire on their own.
const reservationTTL = 7 * 24 * time.Hour

// FanoutGuard reserves per-(campaign, recipient) keys so a resumed fanout
// never enqueues the same recipient twice. Backed by SET NX.
type FanoutGuard struct {
	client *Client
	logger *zap.Logger
}

func NewFanoutGuard(client *Client, logger *zap.Logger) *FanoutGuard {
	return &FanoutGuard{
		client: client,
		logger: logger,
	}
}

func (g *FanoutGuard) buildKey(campaignID uuid.UUID, email string) string {
	return fmt.Sprintf("campaign:%s:%s", campaignID, email)
}

// Reserve marks a recipient as enqueued for the campaign. Returns true if
// this call won the reservation, false if the recipient was already
// reserved by an earlier run.
func (g *FanoutGuard) Reserve(ctx context.Context, campaignID uuid.UUID, email string) (bool, error) {
	key := g.buildKey(campaignID, email)

	set, err := g.client.rdb.SetNX(ctx, key, "1", reservationTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	if !set {
		g.logger.Debug("recipient already reserved",
			zap.String("campaign_id", campaignID.String()),
			zap.String("email", email),
		)
	}
	return set, nil
}

// Release drops a reservation so the recipient can be enqueued again.
// Used when the enqueue that followed a successful Reserve failed.
func (g *FanoutGuard) Release(ctx context.Context, campaignID uuid.UUID, email string) error {
	key := g.buildKey(campaignID, email)
	if err := g.client.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// IsReserved reports whether a recipient already holds a reservation.
func (g *FanoutGuard) IsReserved(ctx context.Context, campaignID uuid.UUID, email string) (bool, error) {
	key := g.buildKey(campaignID, email)
	n, err := g.client.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}
