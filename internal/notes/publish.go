package notes

import (
	"context"
	"fmt"

	"github.com/kuitang/notecase/internal/obs"
	"github.com/kuitang/notecase/internal/urlutil"
)

// ObjectStore is the subset of the S3 client used for snapshots.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

type publicURLer interface {
	PublicURL(key string) string
}

// Publisher keeps standalone HTML snapshots of public notes in object
// storage at public/{url_token}.html.
type Publisher struct {
	store   ObjectStore
	baseURL string
}

// NewPublisher creates a publisher writing to store. baseURL builds the
// canonical link embedded in each page.
func NewPublisher(store ObjectStore, baseURL string) *Publisher {
	return &Publisher{store: store, baseURL: baseURL}
}

// SnapshotKey returns the object key of a note's snapshot.
func SnapshotKey(urlToken string) string {
	return fmt.Sprintf("public/%s.html", urlToken)
}

// Sync reconciles storage after a change from before to after. Either may
// be nil (create, delete). Failures are logged and never returned.
func (p *Publisher) Sync(ctx context.Context, before, after *Note) {
	if p == nil {
		return
	}
	logger := obs.From(ctx)

	wasPublic := before != nil && before.Visibility == VisibilityPublic
	isPublic := after != nil && after.Visibility == VisibilityPublic

	if wasPublic && (!isPublic || before.URLToken != after.URLToken) {
		if err := p.store.DeleteObject(ctx, SnapshotKey(before.URLToken)); err != nil {
			logger.Warn("snapshot_delete_failed", "note_id", before.ID, "error", err)
		}
	}
	if !isPublic {
		return
	}

	page, err := RenderDocument(after, urlutil.ShareLink(p.baseURL, after.URLToken))
	if err != nil {
		logger.Error("snapshot_render_failed", "note_id", after.ID, "error", err)
		return
	}
	if err := p.store.PutObject(ctx, SnapshotKey(after.URLToken), page, "text/html; charset=utf-8"); err != nil {
		logger.Warn("snapshot_upload_failed", "note_id", after.ID, "error", err)
		return
	}
	attrs := []any{"note_id", after.ID, "bytes", len(page)}
	if u, ok := p.store.(publicURLer); ok {
		attrs = append(attrs, "url", u.PublicURL(SnapshotKey(after.URLToken)))
	}
	logger.Debug("snapshot_uploaded", attrs...)
}
