package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate is returned when an insert violates a unique constraint
// (allow-list email, profile email).
var ErrDuplicate = errors.New("duplicate key")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ---- profiles and roles ----

func (s *PostgresStore) CreateProfile(ctx context.Context, profile Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, email, password_hash)
		VALUES ($1, $2, LOWER($3), $4)
	`, profile.ID, profile.Name, profile.Email, profile.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	var profile Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.email, p.password_hash, COALESCE(r.role, ''), p.created_at, p.updated_at
		FROM profiles p
		LEFT JOIN user_roles r ON r.user_id = p.id
		WHERE LOWER(p.email) = LOWER($1)
	`, email).Scan(&profile.ID, &profile.Name, &profile.Email, &profile.PasswordHash, &profile.Role, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) GetProfileByID(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.email, p.password_hash, COALESCE(r.role, ''), p.created_at, p.updated_at
		FROM profiles p
		LEFT JOIN user_roles r ON r.user_id = p.id
		WHERE p.id = $1
	`, userID).Scan(&profile.ID, &profile.Name, &profile.Email, &profile.PasswordHash, &profile.Role, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (s *PostgresStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.email, COALESCE(r.role, ''), p.created_at, p.updated_at
		FROM profiles p
		LEFT JOIN user_roles r ON r.user_id = p.id
		ORDER BY p.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	items := make([]Profile, 0)
	for rows.Next() {
		var item Profile
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.Role, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, userID, name, email string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET name=$2, email=LOWER($3), updated_at=NOW() WHERE id=$1
	`, userID, name, email)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update profile: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteProfile(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete profile: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

func (s *PostgresStore) AssignRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role=EXCLUDED.role
	`, userID, role)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// ---- allow-list ----

// IsEmailAllowed is the server-side gate for sign-up and sign-in. Errors
// propagate so that callers fail closed.
func (s *PostgresStore) IsEmailAllowed(ctx context.Context, email string) (bool, error) {
	var allowed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM allowed_emails WHERE LOWER(email) = LOWER($1))
	`, email).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("check allowed email: %w", err)
	}
	return allowed, nil
}

func (s *PostgresStore) ListAllowedEmails(ctx context.Context) ([]AllowedEmail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, added_by, created_at
		FROM allowed_emails
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list allowed emails: %w", err)
	}
	defer rows.Close()

	items := make([]AllowedEmail, 0)
	for rows.Next() {
		var item AllowedEmail
		if err := rows.Scan(&item.ID, &item.Email, &item.AddedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan allowed email: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allowed emails: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddAllowedEmail(ctx context.Context, id, email, addedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO allowed_emails (id, email, added_by)
		VALUES ($1, LOWER($2), NULLIF($3, ''))
	`, id, email, addedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert allowed email: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAllowedEmail(ctx context.Context, id string) (AllowedEmail, error) {
	var item AllowedEmail
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, added_by, created_at FROM allowed_emails WHERE id=$1
	`, id).Scan(&item.ID, &item.Email, &item.AddedBy, &item.CreatedAt)
	if err != nil {
		return AllowedEmail{}, err
	}
	return item, nil
}

// IsAdminEmail reports whether the email belongs to a principal currently
// holding the admin role.
func (s *PostgresStore) IsAdminEmail(ctx context.Context, email string) (bool, error) {
	var isAdmin bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM profiles p
			JOIN user_roles r ON r.user_id = p.id
			WHERE LOWER(p.email) = LOWER($1) AND r.role = 'admin'
		)
	`, email).Scan(&isAdmin)
	if err != nil {
		return false, fmt.Errorf("check admin email: %w", err)
	}
	return isAdmin, nil
}

// DeleteAllowedEmail removes an allow-list entry unless it belongs to an
// admin principal. The guard is repeated here so the lockout invariant holds
// even if a caller skips the policy check.
func (s *PostgresStore) DeleteAllowedEmail(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM allowed_emails a
		WHERE a.id = $1
			AND NOT EXISTS (
				SELECT 1 FROM profiles p
				JOIN user_roles r ON r.user_id = p.id
				WHERE LOWER(p.email) = LOWER(a.email) AND r.role = 'admin'
			)
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete allowed email: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// ---- tasks ----

const taskColumns = `id, title, description, assigned_to, deadline, status, priority, created_by, created_at, updated_at, attachment_url, completion_note`

func scanTask(scanner interface{ Scan(...any) error }) (Task, error) {
	var item Task
	err := scanner.Scan(
		&item.ID, &item.Title, &item.Description, &item.AssignedTo, &item.Deadline,
		&item.Status, &item.Priority, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt,
		&item.AttachmentURL, &item.CompletionNote,
	)
	return item, err
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, assigned_to, deadline, status, priority, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, task.ID, task.Title, task.Description, task.AssignedTo, task.Deadline, task.Status, task.Priority, task.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID)
	return scanTask(row)
}

func (s *PostgresStore) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

// UpdateTask applies a partial update and returns the new row. Only fields
// present in the patch are written; updated_at always advances.
func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (Task, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{taskID}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.AssignedTo != nil {
		add("assigned_to", *patch.AssignedTo)
	}
	if patch.Deadline != nil {
		add("deadline", *patch.Deadline)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Priority != nil {
		add("priority", *patch.Priority)
	}
	if patch.AttachmentURL != nil {
		add("attachment_url", *patch.AttachmentURL)
	}
	if patch.CompletionNote != nil {
		add("completion_note", *patch.CompletionNote)
	}

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id=$1 RETURNING ` + taskColumns
	row := s.db.QueryRowContext(ctx, query, args...)
	return scanTask(row)
}

// DeleteTask removes a task and its comments in one transaction so a failed
// delete never leaves orphaned comments behind.
func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE task_id=$1`, taskID); err != nil {
		return fmt.Errorf("delete task comments: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// ListTasksDueWithin returns non-completed tasks whose deadline falls within
// the window and that have not been reminded since remindedBefore.
func (s *PostgresStore) ListTasksDueWithin(ctx context.Context, window time.Duration, remindedBefore time.Time) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status <> 'completed'
			AND deadline <= NOW() + $1::interval
			AND deadline >= NOW()
			AND (last_reminded_at IS NULL OR last_reminded_at < $2)
		ORDER BY deadline ASC
	`, fmt.Sprintf("%d seconds", int(window.Seconds())), remindedBefore)
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkTaskReminded(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET last_reminded_at=NOW() WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("mark task reminded: %w", err)
	}
	return nil
}

// SearchTasksLike is the Postgres fallback used when Meilisearch is not
// available.
func (s *PostgresStore) SearchTasksLike(ctx context.Context, query, status, priority string, limit int) ([]Task, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE (title ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
			AND ($2 = '' OR status = $2)
			AND ($3 = '' OR priority = $3)
		ORDER BY updated_at DESC
		LIMIT $4
	`, query, status, priority, limit)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search tasks: %w", err)
	}
	return items, nil
}

// ---- comments ----

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, task_id, user_id, content)
		VALUES ($1, $2, $3, $4)
	`, comment.ID, comment.TaskID, comment.UserID, comment.Content)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context) ([]Comment, error) {
	return s.queryComments(ctx, `
		SELECT c.id, c.task_id, c.user_id, COALESCE(p.name, ''), c.content, c.created_at
		FROM comments c
		LEFT JOIN profiles p ON p.id = c.user_id
		ORDER BY c.created_at ASC
	`)
}

func (s *PostgresStore) ListTaskComments(ctx context.Context, taskID string) ([]Comment, error) {
	return s.queryComments(ctx, `
		SELECT c.id, c.task_id, c.user_id, COALESCE(p.name, ''), c.content, c.created_at
		FROM comments c
		LEFT JOIN profiles p ON p.id = c.user_id
		WHERE c.task_id = $1
		ORDER BY c.created_at ASC
	`, taskID)
}

func (s *PostgresStore) queryComments(ctx context.Context, query string, args ...any) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.TaskID, &item.UserID, &item.UserName, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// ---- notifications ----

func (s *PostgresStore) InsertNotification(ctx context.Context, notification Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, message, type)
		VALUES ($1, $2, $3, $4)
	`, notification.ID, notification.UserID, notification.Message, notification.Type)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotificationsFor(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, message, type, read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Message, &item.Type, &item.Read, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

// MarkNotificationRead flips read to true for the recipient's own
// notification. Idempotent: marking an already-read notification reports
// success without changing anything.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM notifications WHERE id=$1 AND user_id=$2)
	`, notificationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return false, nil
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE notifications SET read=TRUE WHERE id=$1 AND user_id=$2 AND read=FALSE
	`, notificationID, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return true, nil
}

// ---- aggregates ----

func (s *PostgresStore) TeamProgress(ctx context.Context) ([]MemberProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name,
			COUNT(t.id),
			COUNT(t.id) FILTER (WHERE t.status = 'pending'),
			COUNT(t.id) FILTER (WHERE t.status = 'in-progress'),
			COUNT(t.id) FILTER (WHERE t.status = 'completed')
		FROM profiles p
		LEFT JOIN tasks t ON t.assigned_to = p.id
		GROUP BY p.id, p.name
		ORDER BY p.name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("team progress: %w", err)
	}
	defer rows.Close()

	items := make([]MemberProgress, 0)
	for rows.Next() {
		var item MemberProgress
		if err := rows.Scan(&item.UserID, &item.Name, &item.Total, &item.Pending, &item.InProgress, &item.Completed); err != nil {
			return nil, fmt.Errorf("scan progress row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, COALESCE(p.name, ''), t.attachment_url, t.updated_at
		FROM tasks t
		LEFT JOIN profiles p ON p.id = t.assigned_to
		WHERE t.attachment_url IS NOT NULL
		ORDER BY t.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.TaskID, &item.TaskTitle, &item.AssignedTo, &item.AttachmentURL, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

// ---- access tokens ----

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
