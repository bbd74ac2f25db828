package courses

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brightboard/backend/internal/models"
)

// Repository handles course persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a course repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const courseColumns = `id, title, description, teacher_id, category, class_level, subject, difficulty,
	price_cents, COALESCE(thumbnail,''), duration_hours, COALESCE(requirements,''),
	COALESCE(what_you_will_learn,'{}'), COALESCE(tags,'{}'), rating, total_ratings, is_published,
	created_at, updated_at`

func scanCourse(row pgx.Row) (*models.Course, error) {
	var course models.Course
	err := row.Scan(&course.ID, &course.Title, &course.Description, &course.TeacherID,
		&course.Category, &course.ClassLevel, &course.Subject, &course.Difficulty,
		&course.PriceCents, &course.Thumbnail, &course.DurationHours, &course.Requirements,
		&course.WhatYouWillLearn, &course.Tags, &course.Rating, &course.TotalRatings,
		&course.IsPublished, &course.CreatedAt, &course.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// Create inserts a course.
func (r *Repository) Create(ctx context.Context, c *models.Course) (*models.Course, error) {
	const q = `INSERT INTO courses
		(title, description, teacher_id, category, class_level, subject, difficulty, price_cents,
		 thumbnail, duration_hours, requirements, what_you_will_learn, tags, is_published)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,NULLIF($11,''),$12,$13,$14)
		RETURNING ` + courseColumns
	return scanCourse(r.pool.QueryRow(ctx, q, c.Title, c.Description, c.TeacherID, c.Category,
		c.ClassLevel, c.Subject, c.Difficulty, c.PriceCents, c.Thumbnail, c.DurationHours,
		c.Requirements, c.WhatYouWillLearn, c.Tags, c.IsPublished))
}

// GetByID returns a course.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	return scanCourse(r.pool.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id))
}

// ListFilter narrows course listing.
type ListFilter struct {
	Category   string
	ClassLevel string
	Subject    string
	Difficulty string
	Search     string
	TeacherID  *uuid.UUID
	// IncludeUnpublished is set for a teacher viewing their own catalog.
	IncludeUnpublished bool
	Limit              int
	Offset             int
}

// List returns courses matching the filter, newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.Course, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.IncludeUnpublished {
		where = append(where, "is_published = TRUE")
	}
	if f.Category != "" {
		where = append(where, "category = "+arg(f.Category))
	}
	if f.ClassLevel != "" {
		where = append(where, "class_level = "+arg(f.ClassLevel))
	}
	if f.Subject != "" {
		where = append(where, "subject = "+arg(f.Subject))
	}
	if f.Difficulty != "" {
		where = append(where, "difficulty = "+arg(f.Difficulty))
	}
	if f.TeacherID != nil {
		where = append(where, "teacher_id = "+arg(*f.TeacherID))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, "(title ILIKE "+p+" OR description ILIKE "+p+")")
	}

	q := `SELECT ` + courseColumns + ` FROM courses`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// Update replaces mutable course fields.
func (r *Repository) Update(ctx context.Context, c *models.Course) (*models.Course, error) {
	const q = `UPDATE courses SET
		title = $2, description = $3, category = $4, class_level = $5, subject = $6,
		difficulty = $7, price_cents = $8, thumbnail = NULLIF($9,''), duration_hours = $10,
		requirements = NULLIF($11,''), what_you_will_learn = $12, tags = $13, is_published = $14,
		updated_at = NOW()
		WHERE id = $1
		RETURNING ` + courseColumns
	return scanCourse(r.pool.QueryRow(ctx, q, c.ID, c.Title, c.Description, c.Category,
		c.ClassLevel, c.Subject, c.Difficulty, c.PriceCents, c.Thumbnail, c.DurationHours,
		c.Requirements, c.WhatYouWillLearn, c.Tags, c.IsPublished))
}

// Delete removes a course and, via cascade, its content and enrollments.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// AddRating folds a new 1-5 rating into the running average.
func (r *Repository) AddRating(ctx context.Context, id uuid.UUID, rating int) (*models.Course, error) {
	const q = `UPDATE courses SET
		rating = (rating * total_ratings + $2) / (total_ratings + 1),
		total_ratings = total_ratings + 1,
		updated_at = NOW()
		WHERE id = $1
		RETURNING ` + courseColumns
	return scanCourse(r.pool.QueryRow(ctx, q, id, rating))
}

// IsEnrolled reports whether the student has an active or completed enrollment.
func (r *Repository) IsEnrolled(ctx context.Context, studentID, courseID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status <> 'dropped')`,
		studentID, courseID).Scan(&exists)
	return exists, err
}

// Stats returns aggregate enrollment numbers for a course.
func (r *Repository) Stats(ctx context.Context, id uuid.UUID) (*models.CourseStats, error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM enrollments WHERE course_id = $1),
		(SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = 'active'),
		(SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = 'completed'),
		rating, total_ratings
		FROM courses WHERE id = $1`
	var s models.CourseStats
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.TotalEnrollments, &s.ActiveStudents,
		&s.CompletedStudents, &s.Rating, &s.TotalRatings)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// AddContent appends a content item at the end of the course.
func (r *Repository) AddContent(ctx context.Context, item *models.CourseContent) (*models.CourseContent, error) {
	const q = `INSERT INTO course_content (course_id, title, type, url, description, duration_min, position)
		VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), $6,
			COALESCE((SELECT MAX(position) + 1 FROM course_content WHERE course_id = $1), 0))
		RETURNING id, course_id, title, type, COALESCE(url,''), COALESCE(description,''),
			COALESCE(duration_min, 0), position, created_at`
	var out models.CourseContent
	err := r.pool.QueryRow(ctx, q, item.CourseID, item.Title, string(item.Type), item.URL,
		item.Description, item.DurationMin).
		Scan(&out.ID, &out.CourseID, &out.Title, &out.Type, &out.URL, &out.Description,
			&out.DurationMin, &out.Position, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListContent returns a course's content ordered by position.
func (r *Repository) ListContent(ctx context.Context, courseID uuid.UUID) ([]models.CourseContent, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, course_id, title, type, COALESCE(url,''),
		COALESCE(description,''), COALESCE(duration_min, 0), position, created_at
		FROM course_content WHERE course_id = $1 ORDER BY position`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.CourseContent
	for rows.Next() {
		var item models.CourseContent
		if err := rows.Scan(&item.ID, &item.CourseID, &item.Title, &item.Type, &item.URL,
			&item.Description, &item.DurationMin, &item.Position, &item.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, rows.Err()
}

// DeleteContent removes one content item.
func (r *Repository) DeleteContent(ctx context.Context, courseID, contentID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM course_content WHERE id = $1 AND course_id = $2`, contentID, courseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
