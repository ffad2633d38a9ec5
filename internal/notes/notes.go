package notes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/notecase/internal/email"
	"github.com/kuitang/notecase/internal/errs"
	"github.com/kuitang/notecase/internal/obs"
)

// MaxTokenAttempts bounds url_token generation per operation.
const MaxTokenAttempts = 3

// ErrTokenGenerationExhausted is returned when every url_token attempt
// collided with an existing note.
var ErrTokenGenerationExhausted = errs.New(errs.Conflict, "could not allocate a unique link, please retry")

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// TokenGenerator returns a candidate url_token.
type TokenGenerator func() string

// Service implements note lifecycle, collaborator and catalog operations.
// It holds no per-request state.
type Service struct {
	store     *Store
	clock     Clock
	newToken  TokenGenerator
	publisher *Publisher
	emails    email.EmailService
	baseURL   string
}

// NewService creates a notes service over store.
func NewService(store *Store) *Service {
	return &Service{
		store:    store,
		clock:    realClock{},
		newToken: uuid.NewString,
	}
}

// SetClock sets the clock used for timestamps.
func (s *Service) SetClock(c Clock) {
	s.clock = c
}

// SetTokenGenerator replaces the url_token generator.
func (s *Service) SetTokenGenerator(gen TokenGenerator) {
	s.newToken = gen
}

// SetPublisher enables public snapshot publishing.
func (s *Service) SetPublisher(p *Publisher) {
	s.publisher = p
}

// SetInviteMailer enables collaborator invitation emails. baseURL builds
// the links in them.
func (s *Service) SetInviteMailer(emails email.EmailService, baseURL string) {
	s.emails = emails
	s.baseURL = baseURL
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

// access loads a note and classifies the requester against it.
func access(ctx context.Context, tx *Store, noteID int64, requester *Requester) (*Note, Role, error) {
	note, err := tx.GetNote(ctx, noteID)
	if err != nil {
		return nil, RoleAnonymous, err
	}
	isCollaborator := false
	if requester != nil && requester.UserID != note.OwnerID {
		if isCollaborator, err = tx.IsCollaborator(ctx, note.ID, requester.UserID); err != nil {
			return nil, RoleAnonymous, err
		}
	}
	return note, Classify(note.OwnerID, requester, isCollaborator), nil
}

// Create stores a new note owned by requester with a fresh url_token.
// Each attempt runs in its own transaction; a token collision retries with
// a new token up to MaxTokenAttempts times.
func (s *Service) Create(ctx context.Context, requester *Requester, params CreateNoteParams) (*Note, error) {
	if requester == nil {
		return nil, ErrAccessDenied
	}

	fields := map[string]string{}
	validateTitle(params.Title, fields)
	validateDescription(params.Description, fields)
	if params.Visibility == "" {
		params.Visibility = DefaultVisibility
	}
	validateVisibility(params.Visibility, fields)
	labels := normalizeLabels(params.Labels, fields)
	if err := validationError(fields); err != nil {
		return nil, err
	}

	logger := obs.From(ctx)
	now := s.now()
	for attempt := 1; attempt <= MaxTokenAttempts; attempt++ {
		var created *Note
		err := s.store.WithTx(ctx, func(tx *Store) error {
			n := &Note{
				OwnerID:     requester.UserID,
				URLToken:    s.newToken(),
				Title:       params.Title,
				Description: params.Description,
				Labels:      labels,
				Visibility:  params.Visibility,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.InsertNote(ctx, n); err != nil {
				return err
			}
			var err error
			created, err = tx.GetNote(ctx, n.ID)
			return err
		})
		if errors.Is(err, errUniqueToken) {
			logger.Warn("url_token_collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		logger.Info("note_created", "note_id", created.ID, "visibility", created.Visibility)
		s.publisher.Sync(ctx, nil, created)
		return created, nil
	}
	logger.Error("url_token_exhausted", "attempts", MaxTokenAttempts)
	return nil, ErrTokenGenerationExhausted
}

// Get returns a note for its owner or a collaborator. Everyone else gets
// ErrAccessDenied, even for public notes; those go through share links.
func (s *Service) Get(ctx context.Context, id int64, requester *Requester) (*Note, error) {
	note, role, err := access(ctx, s.store, id, requester)
	if err != nil {
		return nil, err
	}
	if role != RoleOwner && role != RoleCollaborator {
		return nil, ErrAccessDenied
	}
	return note, nil
}

// GetPublic resolves a share token without identity. Only public notes
// resolve; every other outcome, lookup failures included, is ErrUnavailable.
func (s *Service) GetPublic(ctx context.Context, token string) (*PublicNote, error) {
	canonical, ok := canonicalToken(token)
	if !ok {
		return nil, ErrUnavailable
	}
	note, err := s.store.GetNoteByToken(ctx, canonical)
	if err != nil {
		if !errors.Is(err, ErrNoteNotFound) {
			obs.From(ctx).Error("public_note_lookup_failed", "error", err)
		}
		return nil, ErrUnavailable
	}
	if note.Visibility != VisibilityPublic {
		return nil, ErrUnavailable
	}
	return &PublicNote{Note: *note, HTML: RenderMarkdown(note.Description)}, nil
}

// Preview resolves a share token for an optional requester. A private note
// is shown to its owner and collaborators; an authenticated stranger gets
// ErrUnavailableTo and everyone else ErrUnavailable, with the same message.
func (s *Service) Preview(ctx context.Context, token string, requester *Requester) (*PublicNote, error) {
	canonical, ok := canonicalToken(token)
	if !ok {
		return nil, ResolvePublicAccess(nil, RoleAnonymous)
	}

	note, err := s.store.GetNoteByToken(ctx, canonical)
	if err != nil {
		if !errors.Is(err, ErrNoteNotFound) {
			obs.From(ctx).Error("preview_lookup_failed", "error", err)
		}
		return nil, ResolvePublicAccess(nil, RoleAnonymous)
	}

	isCollaborator := false
	if requester != nil && requester.UserID != note.OwnerID {
		isCollaborator, err = s.store.IsCollaborator(ctx, note.ID, requester.UserID)
		if err != nil {
			obs.From(ctx).Error("preview_collaborator_lookup_failed", "error", err)
			return nil, ResolvePublicAccess(nil, RoleAnonymous)
		}
	}
	role := Classify(note.OwnerID, requester, isCollaborator)
	if err := ResolvePublicAccess(note, role); err != nil {
		obs.From(ctx).Debug("preview_unavailable", "note_id", note.ID, "role", role.String(), "code", errs.CodeOf(err))
		return nil, err
	}
	return &PublicNote{Note: *note, HTML: RenderMarkdown(note.Description)}, nil
}

// Update applies the non-nil fields of params. Owners and collaborators may
// update; updated_at is stamped even when no field is present.
func (s *Service) Update(ctx context.Context, id int64, requester *Requester, params UpdateNoteParams) (*Note, error) {
	var before, after *Note
	err := s.store.WithTx(ctx, func(tx *Store) error {
		note, role, err := access(ctx, tx, id, requester)
		if err != nil {
			return err
		}
		if !Can(role, CapEdit, note.Visibility) {
			return ErrAccessDenied
		}
		snapshot := *note
		before = &snapshot

		fields := map[string]string{}
		if params.Title != nil {
			validateTitle(*params.Title, fields)
			note.Title = *params.Title
		}
		if params.Description != nil {
			validateDescription(*params.Description, fields)
			note.Description = *params.Description
		}
		if params.Labels != nil {
			note.Labels = normalizeLabels(*params.Labels, fields)
		}
		if params.Visibility != nil {
			validateVisibility(*params.Visibility, fields)
			note.Visibility = *params.Visibility
		}
		if err := validationError(fields); err != nil {
			return err
		}

		note.UpdatedAt = s.now()
		if err := tx.UpdateNote(ctx, note); err != nil {
			return err
		}
		after, err = tx.GetNote(ctx, note.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	obs.From(ctx).Info("note_updated", "note_id", after.ID, "visibility", after.Visibility)
	s.publisher.Sync(ctx, before, after)
	return after, nil
}

// Delete removes a note and its collaborator rows. Only the owner may
// delete.
func (s *Service) Delete(ctx context.Context, id int64, requester *Requester) error {
	var deleted *Note
	err := s.store.WithTx(ctx, func(tx *Store) error {
		note, role, err := access(ctx, tx, id, requester)
		if err != nil {
			return err
		}
		if !Can(role, CapDelete, note.Visibility) {
			if role == RoleCollaborator {
				return ErrOwnerOnly
			}
			return ErrAccessDenied
		}
		deleted = note
		return tx.DeleteNote(ctx, note.ID)
	})
	if err != nil {
		return err
	}
	obs.From(ctx).Info("note_deleted", "note_id", id)
	s.publisher.Sync(ctx, deleted, nil)
	return nil
}

// RegenerateLink replaces a note's url_token. The old link stops
// resolving. Collisions retry like Create.
func (s *Service) RegenerateLink(ctx context.Context, id int64, requester *Requester) (*Note, error) {
	logger := obs.From(ctx)
	for attempt := 1; attempt <= MaxTokenAttempts; attempt++ {
		var before, after *Note
		err := s.store.WithTx(ctx, func(tx *Store) error {
			note, role, err := access(ctx, tx, id, requester)
			if err != nil {
				return err
			}
			if !Can(role, CapEdit, note.Visibility) {
				return ErrAccessDenied
			}
			before = note
			if err := tx.UpdateURLToken(ctx, note.ID, s.newToken(), s.now()); err != nil {
				return err
			}
			after, err = tx.GetNote(ctx, note.ID)
			return err
		})
		if errors.Is(err, errUniqueToken) {
			logger.Warn("url_token_collision", "attempt", attempt, "note_id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		logger.Info("note_link_regenerated", "note_id", id)
		s.publisher.Sync(ctx, before, after)
		return after, nil
	}
	return nil, ErrTokenGenerationExhausted
}

// ListOwned lists the requester's own notes.
func (s *Service) ListOwned(ctx context.Context, requester *Requester, filter ListFilter) (*Page[*Note], error) {
	if requester == nil {
		return nil, ErrAccessDenied
	}
	q := noteQuery{OwnerID: requester.UserID}
	if filter.Visibility != nil {
		if !filter.Visibility.Valid() {
			return nil, errs.Validation(map[string]string{"visibility": "visibility must be one of public, private, draft"})
		}
		q.Visibilities = []Visibility{*filter.Visibility}
	}
	return s.list(ctx, q, filter)
}

// ListShared lists notes where the requester is a linked collaborator.
func (s *Service) ListShared(ctx context.Context, requester *Requester, filter ListFilter) (*Page[*Note], error) {
	if requester == nil {
		return nil, ErrAccessDenied
	}
	return s.list(ctx, noteQuery{SharedWith: requester.UserID}, filter)
}

func (s *Service) list(ctx context.Context, q noteQuery, filter ListFilter) (*Page[*Note], error) {
	page, perPage := normalizePage(filter.Page, filter.PerPage)
	q.LabelKeys = labelKeys(filter.Labels)
	if filter.Text != nil {
		q.Text = strings.TrimSpace(*filter.Text)
	}
	q.Limit = perPage
	q.Offset = (page - 1) * perPage

	items, total, err := s.store.ListNotes(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Page[*Note]{
		Items:      items,
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages(total, perPage),
	}, nil
}

// labelKeys folds and dedups filter labels.
func labelKeys(labels []string) []string {
	var keys []string
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		k := labelKey(l)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// canonicalToken parses a share token as a UUID and returns its canonical
// lowercase form.
func canonicalToken(token string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(token))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}
