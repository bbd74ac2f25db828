package liveclasses

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightboard/backend/internal/models"
	"github.com/brightboard/backend/internal/realtime"
)

// Repository handles live-class persistence. It also backs the stream
// registry: SetLive, AppendChat and UpdateViewerCount implement
// realtime.Persister, ByStreamKey implements realtime.ClassResolver.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live-class repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const classColumns = `id, course_id, title, COALESCE(description,''), scheduled_at, duration_min,
	stream_key, is_live, is_completed, current_viewer_count, peak_viewer_count,
	COALESCE(recording_url,''), recording_status, COALESCE(recording_duration_sec, 0),
	recording_started_at, recording_completed_at, created_at, updated_at`

func scanClass(row pgx.Row) (*models.LiveClass, error) {
	var lc models.LiveClass
	err := row.Scan(&lc.ID, &lc.CourseID, &lc.Title, &lc.Description, &lc.ScheduledAt,
		&lc.DurationMin, &lc.StreamKey, &lc.IsLive, &lc.IsCompleted,
		&lc.CurrentViewerCount, &lc.PeakViewerCount, &lc.RecordingURL, &lc.RecordingStatus,
		&lc.RecordingDurationSec, &lc.RecordingStartedAt, &lc.RecordingCompletedAt,
		&lc.CreatedAt, &lc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &lc, nil
}

// Create schedules a live class.
func (r *Repository) Create(ctx context.Context, lc *models.LiveClass) (*models.LiveClass, error) {
	const q = `INSERT INTO live_classes (course_id, title, description, scheduled_at, duration_min, stream_key)
		VALUES ($1, $2, NULLIF($3,''), $4, $5, $6)
		RETURNING ` + classColumns
	return scanClass(r.pool.QueryRow(ctx, q, lc.CourseID, lc.Title, lc.Description,
		lc.ScheduledAt, lc.DurationMin, lc.StreamKey))
}

// Update rewrites a class's schedule fields.
func (r *Repository) Update(ctx context.Context, lc *models.LiveClass) (*models.LiveClass, error) {
	const q = `UPDATE live_classes SET
		title = $2, description = NULLIF($3,''), scheduled_at = $4, duration_min = $5,
		updated_at = NOW()
		WHERE id = $1
		RETURNING ` + classColumns
	return scanClass(r.pool.QueryRow(ctx, q, lc.ID, lc.Title, lc.Description,
		lc.ScheduledAt, lc.DurationMin))
}

// GetByID returns a live class.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveClass, error) {
	return scanClass(r.pool.QueryRow(ctx, `SELECT `+classColumns+` FROM live_classes WHERE id = $1`, id))
}

// GetByStreamKey returns the live class owning a stream key.
func (r *Repository) GetByStreamKey(ctx context.Context, streamKey string) (*models.LiveClass, error) {
	return scanClass(r.pool.QueryRow(ctx,
		`SELECT `+classColumns+` FROM live_classes WHERE stream_key = $1`, streamKey))
}

// ByStreamKey resolves a stream key for the socket layer.
func (r *Repository) ByStreamKey(ctx context.Context, streamKey string) (realtime.ClassInfo, error) {
	const q = `SELECT lc.id, lc.course_id, c.teacher_id, lc.title
		FROM live_classes lc JOIN courses c ON c.id = lc.course_id
		WHERE lc.stream_key = $1`
	var info realtime.ClassInfo
	err := r.pool.QueryRow(ctx, q, streamKey).Scan(&info.ID, &info.CourseID, &info.TeacherID, &info.Title)
	return info, err
}

// ListForCourse returns a course's classes, upcoming first.
func (r *Repository) ListForCourse(ctx context.Context, courseID uuid.UUID) ([]models.LiveClass, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+classColumns+` FROM live_classes WHERE course_id = $1 ORDER BY scheduled_at DESC`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.LiveClass
	for rows.Next() {
		lc, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *lc)
	}
	return list, rows.Err()
}

// ListLive returns all classes currently marked live.
func (r *Repository) ListLive(ctx context.Context) ([]models.LiveClass, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+classColumns+` FROM live_classes WHERE is_live = TRUE ORDER BY scheduled_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.LiveClass
	for rows.Next() {
		lc, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *lc)
	}
	return list, rows.Err()
}

// Delete removes a live class.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM live_classes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetLive flips the live flag. Going offline marks the class completed and
// records the peak viewer count.
func (r *Repository) SetLive(ctx context.Context, liveClassID uuid.UUID, live bool, peakViewers int) error {
	if live {
		_, err := r.pool.Exec(ctx, `UPDATE live_classes SET
			is_live = TRUE, current_viewer_count = 0, updated_at = NOW()
			WHERE id = $1`, liveClassID)
		return err
	}
	_, err := r.pool.Exec(ctx, `UPDATE live_classes SET
		is_live = FALSE, is_completed = TRUE, current_viewer_count = 0,
		peak_viewer_count = GREATEST(peak_viewer_count, $2), updated_at = NOW()
		WHERE id = $1`, liveClassID, peakViewers)
	return err
}

// UpdateViewerCount stores the current viewer count and raises the peak.
func (r *Repository) UpdateViewerCount(ctx context.Context, liveClassID uuid.UUID, current int) error {
	_, err := r.pool.Exec(ctx, `UPDATE live_classes SET
		current_viewer_count = $2,
		peak_viewer_count = GREATEST(peak_viewer_count, $2),
		updated_at = NOW()
		WHERE id = $1`, liveClassID, current)
	return err
}

// AppendChat stores one chat line.
func (r *Repository) AppendChat(ctx context.Context, liveClassID, userID uuid.UUID, userName, message string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO live_class_chat_messages
		(live_class_id, user_id, user_name, message, sent_at)
		VALUES ($1, $2, $3, $4, $5)`, liveClassID, userID, userName, message, at)
	return err
}

// ChatHistory returns persisted chat for a class, oldest first.
func (r *Repository) ChatHistory(ctx context.Context, liveClassID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, live_class_id, user_id, user_name, message, sent_at
		FROM live_class_chat_messages WHERE live_class_id = $1
		ORDER BY sent_at LIMIT $2`, liveClassID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.LiveClassID, &m.UserID, &m.UserName, &m.Message, &m.SentAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// SetRecordingStatus moves the recording through its lifecycle and stamps the
// matching timestamp.
func (r *Repository) SetRecordingStatus(ctx context.Context, id uuid.UUID, status models.RecordingStatus, url string, durationSec int) error {
	const q = `UPDATE live_classes SET
		recording_status = $2,
		recording_url = COALESCE(NULLIF($3,''), recording_url),
		recording_duration_sec = CASE WHEN $4 > 0 THEN $4 ELSE recording_duration_sec END,
		recording_started_at = CASE WHEN $2 = 'recording' THEN NOW() ELSE recording_started_at END,
		recording_completed_at = CASE WHEN $2 = 'available' THEN NOW() ELSE recording_completed_at END,
		updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, string(status), url, durationSec)
	return err
}
