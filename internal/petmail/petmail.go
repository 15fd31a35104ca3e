// Package petmail provides the per-type delivery handlers for pet tag
// notifications. Pet and owner data is re-resolved at send time so a
// retry hours later reflects the current record, not the enqueue-time
// snapshot.
package petmail

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/engine"
	"github.com/ltfpqrr/mailroom/internal/queue"
)

const (
	TypeSearchNotification = "pet_search_notification"
	TypeFoundContact       = "pet_found_contact"
)

// Pet is the live tag record at send time.
type Pet struct {
	ID        string
	Name      string
	Species   string
	Breed     string
	TagID     string
	OwnerID   string
}

// Owner is the live owner record at send time.
type Owner struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}

// Resolver loads live pet and owner state.
type Resolver interface {
	Pet(ctx context.Context, id string) (*Pet, error)
	Owner(ctx context.Context, id string) (*Owner, error)
}

// Service builds the engine handlers for pet email types.
type Service struct {
	resolver Resolver
	logger   *zap.Logger
}

func NewService(resolver Resolver, logger *zap.Logger) *Service {
	return &Service{resolver: resolver, logger: logger}
}

// Handlers returns the handler map to register with the delivery engine.
func (s *Service) Handlers() map[string]engine.Handler {
	return map[string]engine.Handler{
		TypeSearchNotification: s.handleSearchNotification,
		TypeFoundContact:       s.handleFoundContact,
	}
}

// handleSearchNotification fires when someone scans a tag and searches for
// the pet. The owner gets notified with the scan context.
func (s *Service) handleSearchNotification(ctx context.Context, it *queue.Item) error {
	pet, owner, err := s.resolve(ctx, it)
	if err != nil {
		return err
	}

	it.Metadata["pet"] = petTree(pet)
	it.Metadata["owner"] = ownerTree(owner)
	it.Metadata["pet_name"] = pet.Name
	it.Metadata["owner_name"] = owner.FirstName
	if it.TemplateName == "" {
		it.TemplateName = TypeSearchNotification
	}

	s.logger.Debug("search notification enriched",
		zap.String("queue_id", it.ID.String()),
		zap.String("pet_id", pet.ID),
	)
	return nil
}

// handleFoundContact fires when a finder submits the contact form. The
// finder's address becomes the reply-to so the owner can answer directly.
func (s *Service) handleFoundContact(ctx context.Context, it *queue.Item) error {
	pet, owner, err := s.resolve(ctx, it)
	if err != nil {
		return err
	}

	it.Metadata["pet"] = petTree(pet)
	it.Metadata["owner"] = ownerTree(owner)
	it.Metadata["pet_name"] = pet.Name
	it.Metadata["owner_name"] = owner.FirstName
	if it.TemplateName == "" {
		it.TemplateName = TypeFoundContact
	}

	if finderEmail := metaString(it.Metadata, "finder_email"); finderEmail != "" {
		it.ReplyTo = finderEmail
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, it *queue.Item) (*Pet, *Owner, error) {
	if it.Metadata == nil {
		it.Metadata = make(map[string]any)
	}

	petID := metaString(it.Metadata, "pet_id")
	if petID == "" {
		return nil, nil, fmt.Errorf("queue item %s has no pet_id", it.ID)
	}

	pet, err := s.resolver.Pet(ctx, petID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve pet %s: %w", petID, err)
	}

	ownerID := metaString(it.Metadata, "owner_id")
	if ownerID == "" {
		ownerID = pet.OwnerID
	}
	owner, err := s.resolver.Owner(ctx, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve owner %s: %w", ownerID, err)
	}

	return pet, owner, nil
}

func petTree(p *Pet) map[string]any {
	return map[string]any{
		"id":      p.ID,
		"name":    p.Name,
		"species": p.Species,
		"breed":   p.Breed,
		"tag_id":  p.TagID,
	}
}

func ownerTree(o *Owner) map[string]any {
	return map[string]any{
		"id":         o.ID,
		"first_name": o.FirstName,
		"last_name":  o.LastName,
		"email":      o.Email,
	}
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
