package campaign

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryGuard is the in-process fallback when Redis is not configured.
// Reservations do not survive a restart, so an interrupted run resumed
// after a crash may enqueue duplicates.
type MemoryGuard struct {
	mu       sync.Mutex
	reserved map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{reserved: make(map[string]struct{})}
}

func (g *MemoryGuard) key(campaignID uuid.UUID, email string) string {
	return fmt.Sprintf("%s:%s", campaignID, email)
}

func (g *MemoryGuard) Reserve(ctx context.Context, campaignID uuid.UUID, email string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := g.key(campaignID, email)
	if _, ok := g.reserved[k]; ok {
		return false, nil
	}
	g.reserved[k] = struct{}{}
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, campaignID uuid.UUID, email string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.reserved, g.key(campaignID, email))
	return nil
}
