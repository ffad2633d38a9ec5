package notes

import (
	"context"

	"github.com/google/uuid"
)

// ListPublicNotes lists the public notes of the user with ownerUUID. The
// result is the same for every requester. An unknown or malformed uuid is
// ErrUserNotFound; a user without public notes gets an empty page.
func (s *Service) ListPublicNotes(ctx context.Context, ownerUUID string, filter ListFilter) (*Page[CatalogItem], error) {
	parsed, err := uuid.Parse(ownerUUID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	owner, err := s.store.AccountByUUID(ctx, parsed.String())
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, ErrUserNotFound
	}

	notes, err := s.list(ctx, noteQuery{
		OwnerID:      owner.ID,
		Visibilities: []Visibility{VisibilityPublic},
	}, filter)
	if err != nil {
		return nil, err
	}

	items := make([]CatalogItem, 0, len(notes.Items))
	for _, n := range notes.Items {
		items = append(items, CatalogItem{
			URLToken:  n.URLToken,
			Title:     n.Title,
			Excerpt:   Excerpt(n.Description),
			Labels:    n.Labels,
			CreatedAt: n.CreatedAt,
			UpdatedAt: n.UpdatedAt,
		})
	}
	return &Page[CatalogItem]{
		Items:      items,
		Page:       notes.Page,
		PerPage:    notes.PerPage,
		TotalItems: notes.TotalItems,
		TotalPages: notes.TotalPages,
	}, nil
}
