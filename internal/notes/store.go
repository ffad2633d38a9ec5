package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/notecase/internal/db"
)

// errUniqueToken marks an insert or update that lost on notes.url_token.
var errUniqueToken = errors.New("url_token already in use")

// errDuplicateCollaborator marks a (note, email) unique violation.
var errDuplicateCollaborator = errors.New("collaborator already exists")

func labelKey(label string) string {
	return db.NormalizeKey(label)
}

// Store is the SQL repository for notes, labels and collaborators.
type Store struct {
	sqlDB *sql.DB
	q     db.DBTX
}

// NewStore wraps an open database.
func NewStore(sqlDB *sql.DB) *Store {
	return &Store{sqlDB: sqlDB, q: sqlDB}
}

// WithTx runs fn against a Store bound to one transaction. A Store that is
// already transaction-bound runs fn directly.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.sqlDB == nil {
		return fn(s)
	}
	return db.WithTx(ctx, s.sqlDB, func(ctx context.Context, tx db.DBTX) error {
		return fn(&Store{q: tx})
	})
}

const noteColumns = `n.id, n.owner_id, u.uuid, n.url_token, n.title, n.description, n.visibility, n.created_at, n.updated_at`

const noteFrom = ` FROM notes n JOIN users u ON u.id = n.owner_id`

func scanNote(row interface{ Scan(...any) error }) (*Note, error) {
	var n Note
	var visibility string
	var createdAt, updatedAt int64
	if err := row.Scan(&n.ID, &n.OwnerID, &n.OwnerUUID, &n.URLToken, &n.Title, &n.Description, &visibility, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.Visibility = Visibility(visibility)
	n.CreatedAt = time.Unix(createdAt, 0).UTC()
	n.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	n.Labels = []string{}
	return &n, nil
}

// InsertNote stores n with its labels and sets n.ID. A url_token collision
// returns an error matching errUniqueToken.
func (s *Store) InsertNote(ctx context.Context, n *Note) error {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO notes (owner_id, url_token, title, description, visibility, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.OwnerID, n.URLToken, n.Title, n.Description, string(n.Visibility), n.CreatedAt.Unix(), n.UpdatedAt.Unix())
	if err != nil {
		if db.IsUniqueViolation(err, "notes.url_token") {
			return fmt.Errorf("%w: %v", errUniqueToken, err)
		}
		return fmt.Errorf("insert note: %w", err)
	}
	if n.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert note id: %w", err)
	}
	return s.replaceLabels(ctx, n.ID, n.Labels)
}

func (s *Store) replaceLabels(ctx context.Context, noteID int64, labels []string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM note_labels WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("delete labels: %w", err)
	}
	for i, label := range labels {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO note_labels (note_id, position, label, label_key) VALUES (?, ?, ?, ?)`,
			noteID, i, label, labelKey(label))
		if err != nil {
			return fmt.Errorf("insert label: %w", err)
		}
	}
	return nil
}

// GetNote returns the note with id, or ErrNoteNotFound.
func (s *Store) GetNote(ctx context.Context, id int64) (*Note, error) {
	return s.getNote(ctx, `n.id = ?`, id)
}

// GetNoteByToken returns the note with the share token, or ErrNoteNotFound.
func (s *Store) GetNoteByToken(ctx context.Context, token string) (*Note, error) {
	return s.getNote(ctx, `n.url_token = ?`, token)
}

func (s *Store) getNote(ctx context.Context, where string, arg any) (*Note, error) {
	n, err := scanNote(s.q.QueryRowContext(ctx, `SELECT `+noteColumns+noteFrom+` WHERE `+where, arg))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrNoteNotFound
		}
		return nil, fmt.Errorf("get note: %w", err)
	}
	if err := s.loadLabels(ctx, []*Note{n}); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Store) loadLabels(ctx context.Context, notes []*Note) error {
	if len(notes) == 0 {
		return nil
	}
	byID := make(map[int64]*Note, len(notes))
	args := make([]any, 0, len(notes))
	for _, n := range notes {
		byID[n.ID] = n
		args = append(args, n.ID)
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT note_id, label FROM note_labels WHERE note_id IN (`+placeholders(len(args))+`) ORDER BY note_id, position`,
		args...)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var noteID int64
		var label string
		if err := rows.Scan(&noteID, &label); err != nil {
			return fmt.Errorf("scan label: %w", err)
		}
		if n, ok := byID[noteID]; ok {
			n.Labels = append(n.Labels, label)
		}
	}
	return rows.Err()
}

// UpdateNote writes every mutable field of n and replaces its labels.
func (s *Store) UpdateNote(ctx context.Context, n *Note) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE notes SET title = ?, description = ?, visibility = ?, updated_at = ? WHERE id = ?`,
		n.Title, n.Description, string(n.Visibility), n.UpdatedAt.Unix(), n.ID)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	if err := requireOneRow(res, ErrNoteNotFound); err != nil {
		return err
	}
	return s.replaceLabels(ctx, n.ID, n.Labels)
}

// UpdateURLToken replaces the share token of a note.
func (s *Store) UpdateURLToken(ctx context.Context, id int64, token string, now time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE notes SET url_token = ?, updated_at = ? WHERE id = ?`, token, now.Unix(), id)
	if err != nil {
		if db.IsUniqueViolation(err, "notes.url_token") {
			return fmt.Errorf("%w: %v", errUniqueToken, err)
		}
		return fmt.Errorf("update url_token: %w", err)
	}
	return requireOneRow(res, ErrNoteNotFound)
}

// DeleteNote removes a note; labels and collaborator rows cascade.
func (s *Store) DeleteNote(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return requireOneRow(res, ErrNoteNotFound)
}

// noteQuery selects notes for listings. Exactly one of OwnerID and
// SharedWith is set.
type noteQuery struct {
	OwnerID      int64
	SharedWith   int64
	Visibilities []Visibility
	LabelKeys    []string
	Text         string
	Limit        int
	Offset       int
}

// ListNotes returns one page of notes matching q, newest update first, and
// the total number of matches.
func (s *Store) ListNotes(ctx context.Context, q noteQuery) ([]*Note, int, error) {
	var where []string
	var args []any

	if q.OwnerID != 0 {
		where = append(where, `n.owner_id = ?`)
		args = append(args, q.OwnerID)
	}
	if q.SharedWith != 0 {
		where = append(where, `EXISTS (SELECT 1 FROM note_collaborators c WHERE c.note_id = n.id AND c.user_id = ?)`, `n.owner_id <> ?`)
		args = append(args, q.SharedWith, q.SharedWith)
	}
	if len(q.Visibilities) > 0 {
		where = append(where, `n.visibility IN (`+placeholders(len(q.Visibilities))+`)`)
		for _, v := range q.Visibilities {
			args = append(args, string(v))
		}
	}
	if len(q.LabelKeys) > 0 {
		where = append(where, `EXISTS (SELECT 1 FROM note_labels l WHERE l.note_id = n.id AND l.label_key IN (`+placeholders(len(q.LabelKeys))+`))`)
		for _, k := range q.LabelKeys {
			args = append(args, k)
		}
	}
	if q.Text != "" {
		folded := db.Fold(q.Text)
		where = append(where, `(instr(casefold(n.title), ?) > 0 OR instr(casefold(n.description), ?) > 0)`)
		args = append(args, folded, folded)
	}

	clause := ""
	if len(where) > 0 {
		clause = ` WHERE ` + strings.Join(where, ` AND `)
	}

	var total int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*)`+noteFrom+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notes: %w", err)
	}
	if total == 0 {
		return []*Note{}, 0, nil
	}

	pageArgs := append(append([]any{}, args...), q.Limit, q.Offset)
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+noteColumns+noteFrom+clause+` ORDER BY n.updated_at DESC, n.id DESC LIMIT ? OFFSET ?`,
		pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := []*Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list notes: %w", err)
	}
	rows.Close()

	if err := s.loadLabels(ctx, notes); err != nil {
		return nil, 0, err
	}
	return notes, total, nil
}

// IsCollaborator reports whether userID is linked to a collaborator row of
// the note.
func (s *Store) IsCollaborator(ctx context.Context, noteID, userID int64) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx,
		`SELECT 1 FROM note_collaborators WHERE note_id = ? AND user_id = ? LIMIT 1`, noteID, userID).Scan(&one)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("check collaborator: %w", err)
	}
	return true, nil
}

const collaboratorColumns = `id, note_id, email, user_id, created_at`

func scanCollaborator(row interface{ Scan(...any) error }) (*Collaborator, error) {
	var c Collaborator
	var userID sql.NullInt64
	var createdAt int64
	if err := row.Scan(&c.ID, &c.NoteID, &c.Email, &userID, &createdAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		id := userID.Int64
		c.UserID = &id
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &c, nil
}

// InsertCollaborator stores c and sets c.ID. A duplicate (note, email)
// returns an error matching errDuplicateCollaborator.
func (s *Store) InsertCollaborator(ctx context.Context, c *Collaborator) error {
	var userID sql.NullInt64
	if c.UserID != nil {
		userID = sql.NullInt64{Int64: *c.UserID, Valid: true}
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO note_collaborators (note_id, email, user_id, created_at) VALUES (?, ?, ?, ?)`,
		c.NoteID, c.Email, userID, c.CreatedAt.Unix())
	if err != nil {
		if db.IsUniqueViolation(err, "note_collaborators.note_id", "note_collaborators.email") {
			return fmt.Errorf("%w: %v", errDuplicateCollaborator, err)
		}
		return fmt.Errorf("insert collaborator: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert collaborator id: %w", err)
	}
	return nil
}

// GetCollaborator returns the row with id on the note, or nil.
func (s *Store) GetCollaborator(ctx context.Context, noteID, id int64) (*Collaborator, error) {
	return s.getCollaborator(ctx, `note_id = ? AND id = ?`, noteID, id)
}

// GetCollaboratorByEmail returns the row for a normalized email, or nil.
func (s *Store) GetCollaboratorByEmail(ctx context.Context, noteID int64, email string) (*Collaborator, error) {
	return s.getCollaborator(ctx, `note_id = ? AND email = ?`, noteID, email)
}

func (s *Store) getCollaborator(ctx context.Context, where string, args ...any) (*Collaborator, error) {
	c, err := scanCollaborator(s.q.QueryRowContext(ctx,
		`SELECT `+collaboratorColumns+` FROM note_collaborators WHERE `+where, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get collaborator: %w", err)
	}
	return c, nil
}

// DeleteCollaborator removes one collaborator row.
func (s *Store) DeleteCollaborator(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM note_collaborators WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete collaborator: %w", err)
	}
	return nil
}

// ListCollaborators returns the note's rows in insertion order.
func (s *Store) ListCollaborators(ctx context.Context, noteID int64) ([]*Collaborator, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+collaboratorColumns+` FROM note_collaborators WHERE note_id = ? ORDER BY created_at, id`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()
	out := []*Collaborator{}
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LinkPendingInvites attaches email-only rows for email to userID, skipping
// notes the user owns.
func (s *Store) LinkPendingInvites(ctx context.Context, userID int64, email string) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE note_collaborators SET user_id = ?
		 WHERE email = ? AND user_id IS NULL
		   AND note_id NOT IN (SELECT id FROM notes WHERE owner_id = ?)`,
		userID, email, userID)
	if err != nil {
		return 0, fmt.Errorf("link pending invites: %w", err)
	}
	return res.RowsAffected()
}

// account is the slice of a user row the notes package needs.
type account struct {
	ID    int64
	UUID  string
	Email string
}

// AccountByEmail returns the account for a normalized email, or nil.
func (s *Store) AccountByEmail(ctx context.Context, email string) (*account, error) {
	return s.getAccount(ctx, `email = ?`, email)
}

// AccountByID returns the account with id, or nil.
func (s *Store) AccountByID(ctx context.Context, id int64) (*account, error) {
	return s.getAccount(ctx, `id = ?`, id)
}

// AccountByUUID returns the account with the public uuid, or nil.
func (s *Store) AccountByUUID(ctx context.Context, uuid string) (*account, error) {
	return s.getAccount(ctx, `uuid = ?`, uuid)
}

func (s *Store) getAccount(ctx context.Context, where string, arg any) (*account, error) {
	var a account
	err := s.q.QueryRowContext(ctx, `SELECT id, uuid, email FROM users WHERE `+where, arg).Scan(&a.ID, &a.UUID, &a.Email)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
