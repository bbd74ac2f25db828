package models

import (
	"time"

	"github.com/google/uuid"
)

// Course categories and difficulty levels accepted by the API.
var (
	CourseCategories = []string{
		"Mathematics", "Science", "English", "Social Studies", "Computer Science",
		"Physics", "Chemistry", "Biology", "History", "Geography", "Other",
	}
	CourseDifficulties = []string{"Beginner", "Intermediate", "Advanced"}
)

// Course represents a course created by a teacher.
type Course struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	TeacherID        uuid.UUID `json:"teacher_id"`
	Category         string    `json:"category"`
	ClassLevel       string    `json:"class_level"`
	Subject          string    `json:"subject"`
	Difficulty       string    `json:"difficulty"`
	PriceCents       int       `json:"price_cents"`
	Thumbnail        string    `json:"thumbnail,omitempty"`
	DurationHours    int       `json:"duration_hours"`
	Requirements     string    `json:"requirements,omitempty"`
	WhatYouWillLearn []string  `json:"what_you_will_learn,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	Rating           float64   `json:"rating"`
	TotalRatings     int       `json:"total_ratings"`
	IsPublished      bool      `json:"is_published"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ContentType is the kind of a course content item.
type ContentType string

const (
	ContentVideo      ContentType = "video"
	ContentPDF        ContentType = "pdf"
	ContentAssignment ContentType = "assignment"
	ContentText       ContentType = "text"
)

// CourseContent is one lesson/material item inside a course.
type CourseContent struct {
	ID          uuid.UUID   `json:"id"`
	CourseID    uuid.UUID   `json:"course_id"`
	Title       string      `json:"title"`
	Type        ContentType `json:"type"`
	URL         string      `json:"url,omitempty"`
	Description string      `json:"description,omitempty"`
	DurationMin int         `json:"duration_min,omitempty"`
	Position    int         `json:"position"`
	CreatedAt   time.Time   `json:"created_at"`
}

// CourseStats holds aggregate numbers for a teacher's course dashboard.
type CourseStats struct {
	TotalEnrollments  int     `json:"total_enrollments"`
	ActiveStudents    int     `json:"active_students"`
	CompletedStudents int     `json:"completed_students"`
	Rating            float64 `json:"rating"`
	TotalRatings      int     `json:"total_ratings"`
}
