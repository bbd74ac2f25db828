package notifications

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightboard/backend/internal/models"
)

// Repository handles notification persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notification repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const notificationColumns = `id, recipient_id, sender_id, type, title, message,
	COALESCE(action_url,''), metadata, priority, is_read, is_email_sent, created_at`

func scanNotification(row pgx.Row) (*models.Notification, error) {
	var n models.Notification
	err := row.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.Type, &n.Title, &n.Message,
		&n.ActionURL, &n.Metadata, &n.Priority, &n.IsRead, &n.IsEmailSent, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Create inserts a notification.
func (r *Repository) Create(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	const q = `INSERT INTO notifications (recipient_id, sender_id, type, title, message, action_url, metadata, priority)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, $8)
		RETURNING ` + notificationColumns
	return scanNotification(r.pool.QueryRow(ctx, q, n.RecipientID, n.SenderID, string(n.Type),
		n.Title, n.Message, n.ActionURL, n.Metadata, string(n.Priority)))
}

// ListForUser returns a user's notifications, newest first. unreadOnly narrows
// to unread ones.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	q := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = $1`
	if unreadOnly {
		q += ` AND is_read = FALSE`
	}
	q += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *n)
	}
	return list, rows.Err()
}

// UnreadCount returns the number of unread notifications.
func (r *Repository) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE`, userID).Scan(&count)
	return count, err
}

// MarkRead marks one notification read. Scoped to the recipient.
func (r *Repository) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkAllRead marks all of a user's notifications read.
func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND is_read = FALSE`, userID)
	return err
}

// MarkEmailSent records that the email for a notification went out.
func (r *Repository) MarkEmailSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_email_sent = TRUE WHERE id = $1`, id)
	return err
}

// Delete removes one notification. Scoped to the recipient.
func (r *Repository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetPreferences returns the user's saved preferences, or defaults when none exist.
func (r *Repository) GetPreferences(ctx context.Context, userID uuid.UUID) (*models.NotificationPreference, error) {
	const q = `SELECT user_id, email_new_content, email_course_update, email_enrollment,
		email_announcement, email_message, quiet_hours_enabled, quiet_hours_start, quiet_hours_end, updated_at
		FROM notification_preferences WHERE user_id = $1`
	var p models.NotificationPreference
	err := r.pool.QueryRow(ctx, q, userID).Scan(&p.UserID, &p.EmailNewContent, &p.EmailCourseUpdate,
		&p.EmailEnrollment, &p.EmailAnnouncement, &p.EmailMessage,
		&p.QuietHoursEnabled, &p.QuietHoursStart, &p.QuietHoursEnd, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePreferences upserts the user's preferences.
func (r *Repository) SavePreferences(ctx context.Context, p *models.NotificationPreference) error {
	const q = `INSERT INTO notification_preferences
		(user_id, email_new_content, email_course_update, email_enrollment, email_announcement,
		 email_message, quiet_hours_enabled, quiet_hours_start, quiet_hours_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
		 email_new_content = EXCLUDED.email_new_content,
		 email_course_update = EXCLUDED.email_course_update,
		 email_enrollment = EXCLUDED.email_enrollment,
		 email_announcement = EXCLUDED.email_announcement,
		 email_message = EXCLUDED.email_message,
		 quiet_hours_enabled = EXCLUDED.quiet_hours_enabled,
		 quiet_hours_start = EXCLUDED.quiet_hours_start,
		 quiet_hours_end = EXCLUDED.quiet_hours_end,
		 updated_at = NOW()`
	_, err := r.pool.Exec(ctx, q, p.UserID, p.EmailNewContent, p.EmailCourseUpdate,
		p.EmailEnrollment, p.EmailAnnouncement, p.EmailMessage,
		p.QuietHoursEnabled, p.QuietHoursStart, p.QuietHoursEnd)
	return err
}

// EnrolledStudentEmails returns id, email and name of students actively
// enrolled in a course, for fanout.
func (r *Repository) EnrolledStudentEmails(ctx context.Context, courseID uuid.UUID) ([]Recipient, error) {
	rows, err := r.pool.Query(ctx, `SELECT u.id, u.email, u.name
		FROM enrollments e JOIN users u ON u.id = e.student_id
		WHERE e.course_id = $1 AND e.status = 'active'`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Recipient
	for rows.Next() {
		var rec Recipient
		if err := rows.Scan(&rec.ID, &rec.Email, &rec.Name); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// Recipient is a notification fanout target.
type Recipient struct {
	ID    uuid.UUID
	Email string
	Name  string
}

// UserEmail returns a single user's email and name.
func (r *Repository) UserEmail(ctx context.Context, userID uuid.UUID) (Recipient, error) {
	rec := Recipient{ID: userID}
	err := r.pool.QueryRow(ctx, `SELECT email, name FROM users WHERE id = $1`, userID).
		Scan(&rec.Email, &rec.Name)
	return rec, err
}
