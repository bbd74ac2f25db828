package models

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus is the state of a student's enrollment in a course.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentDropped   EnrollmentStatus = "dropped"
)

// Enrollment links a student to a course.
type Enrollment struct {
	ID         uuid.UUID        `json:"id"`
	StudentID  uuid.UUID        `json:"student_id"`
	CourseID   uuid.UUID        `json:"course_id"`
	Status     EnrollmentStatus `json:"status"`
	EnrolledAt time.Time        `json:"enrolled_at"`
}
