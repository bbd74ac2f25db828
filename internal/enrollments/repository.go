package enrollments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightboard/backend/internal/models"
)

// ErrAlreadyEnrolled is returned when the student already has an enrollment
// for the course.
var ErrAlreadyEnrolled = errors.New("already enrolled")

// Repository handles enrollment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an enrollment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create enrolls a student in a course.
func (r *Repository) Create(ctx context.Context, studentID, courseID uuid.UUID) (*models.Enrollment, error) {
	const q = `INSERT INTO enrollments (student_id, course_id)
		VALUES ($1, $2)
		RETURNING id, student_id, course_id, status, enrolled_at`
	var e models.Enrollment
	err := r.pool.QueryRow(ctx, q, studentID, courseID).
		Scan(&e.ID, &e.StudentID, &e.CourseID, &e.Status, &e.EnrolledAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyEnrolled
		}
		return nil, err
	}
	return &e, nil
}

// Get returns a student's enrollment in a course.
func (r *Repository) Get(ctx context.Context, studentID, courseID uuid.UUID) (*models.Enrollment, error) {
	const q = `SELECT id, student_id, course_id, status, enrolled_at
		FROM enrollments WHERE student_id = $1 AND course_id = $2`
	var e models.Enrollment
	err := r.pool.QueryRow(ctx, q, studentID, courseID).
		Scan(&e.ID, &e.StudentID, &e.CourseID, &e.Status, &e.EnrolledAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CourseWithEnrollment pairs a course with the student's enrollment state.
type CourseWithEnrollment struct {
	models.Course
	Status     models.EnrollmentStatus `json:"enrollment_status"`
	EnrolledAt time.Time               `json:"enrolled_at"`
}

// ListForStudent returns the courses a student is enrolled in.
func (r *Repository) ListForStudent(ctx context.Context, studentID uuid.UUID) ([]CourseWithEnrollment, error) {
	const q = `SELECT c.id, c.title, c.description, c.teacher_id, c.category, c.class_level,
		c.subject, c.difficulty, c.price_cents, COALESCE(c.thumbnail,''), c.duration_hours,
		COALESCE(c.requirements,''), COALESCE(c.what_you_will_learn,'{}'), COALESCE(c.tags,'{}'),
		c.rating, c.total_ratings, c.is_published, c.created_at, c.updated_at,
		e.status, e.enrolled_at
		FROM enrollments e JOIN courses c ON c.id = e.course_id
		WHERE e.student_id = $1 AND e.status <> 'dropped'
		ORDER BY e.enrolled_at DESC`
	rows, err := r.pool.Query(ctx, q, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []CourseWithEnrollment
	for rows.Next() {
		var item CourseWithEnrollment
		c := &item.Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.TeacherID, &c.Category,
			&c.ClassLevel, &c.Subject, &c.Difficulty, &c.PriceCents, &c.Thumbnail,
			&c.DurationHours, &c.Requirements, &c.WhatYouWillLearn, &c.Tags,
			&c.Rating, &c.TotalRatings, &c.IsPublished, &c.CreatedAt, &c.UpdatedAt,
			&item.Status, &item.EnrolledAt); err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, rows.Err()
}

// StudentEntry is one row in a course's student roster.
type StudentEntry struct {
	ID         uuid.UUID               `json:"id"`
	Name       string                  `json:"name"`
	Email      string                  `json:"email"`
	Status     models.EnrollmentStatus `json:"status"`
	EnrolledAt time.Time               `json:"enrolled_at"`
}

// ListForCourse returns the roster of a course.
func (r *Repository) ListForCourse(ctx context.Context, courseID uuid.UUID) ([]StudentEntry, error) {
	const q = `SELECT u.id, u.name, u.email, e.status, e.enrolled_at
		FROM enrollments e JOIN users u ON u.id = e.student_id
		WHERE e.course_id = $1
		ORDER BY e.enrolled_at`
	rows, err := r.pool.Query(ctx, q, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []StudentEntry
	for rows.Next() {
		var s StudentEntry
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.Status, &s.EnrolledAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// SetStatus moves an enrollment to a new status.
func (r *Repository) SetStatus(ctx context.Context, studentID, courseID uuid.UUID, status models.EnrollmentStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE enrollments SET status = $3 WHERE student_id = $1 AND course_id = $2`,
		studentID, courseID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
