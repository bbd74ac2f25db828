package notifications

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brightboard/backend/internal/models"
	"github.com/brightboard/backend/pkg/queue"
)

// Service creates notifications and decides whether each one also goes out by
// email, based on the recipient's preferences and quiet hours.
type Service struct {
	repo   *Repository
	queue  *queue.Queue
	logger *zap.Logger
}

// NewService creates a notification service.
func NewService(repo *Repository, q *queue.Queue, logger *zap.Logger) *Service {
	return &Service{repo: repo, queue: q, logger: logger}
}

// Notify stores a notification and enqueues its email when the recipient's
// preferences allow it. Urgent notifications ignore quiet hours.
func (s *Service) Notify(ctx context.Context, n *models.Notification, recipientEmail string) {
	created, err := s.repo.Create(ctx, n)
	if err != nil {
		s.logger.Error("create notification failed", zap.Error(err),
			zap.String("recipient", n.RecipientID.String()))
		return
	}

	prefs, err := s.repo.GetPreferences(ctx, n.RecipientID)
	if err != nil {
		s.logger.Warn("load preferences failed, skipping email", zap.Error(err))
		return
	}
	if !prefs.EmailWanted(n.Type) {
		return
	}
	if n.Priority != models.PriorityUrgent && prefs.InQuietHours(time.Now()) {
		return
	}
	if recipientEmail == "" {
		rec, err := s.repo.UserEmail(ctx, n.RecipientID)
		if err != nil {
			s.logger.Warn("recipient email lookup failed", zap.Error(err))
			return
		}
		recipientEmail = rec.Email
	}

	id := created.ID
	err = s.queue.EnqueueEmail(ctx, queue.EmailPayload{
		EmailType:      "notification",
		NotificationID: &id,
		RecipientEmail: recipientEmail,
		Subject:        n.Title,
		BodyHTML:       fmt.Sprintf("<p>%s</p>", n.Message),
	})
	if err != nil {
		s.logger.Error("enqueue notification email failed", zap.Error(err))
	}
}

// NotifyNewContent tells every actively enrolled student about new course content.
func (s *Service) NotifyNewContent(ctx context.Context, course *models.Course, contentTitle string) {
	recipients, err := s.repo.EnrolledStudentEmails(ctx, course.ID)
	if err != nil {
		s.logger.Error("fanout recipient lookup failed", zap.Error(err),
			zap.String("course_id", course.ID.String()))
		return
	}
	for _, rec := range recipients {
		s.Notify(ctx, &models.Notification{
			RecipientID: rec.ID,
			SenderID:    &course.TeacherID,
			Type:        models.NotifyNewContent,
			Title:       "New content in " + course.Title,
			Message:     fmt.Sprintf("%q was added to %s.", contentTitle, course.Title),
			ActionURL:   "/courses/" + course.ID.String(),
			Priority:    models.PriorityMedium,
		}, rec.Email)
	}
}

// NotifyEnrollment tells the teacher that a student enrolled.
func (s *Service) NotifyEnrollment(ctx context.Context, course *models.Course, studentName string) {
	s.Notify(ctx, &models.Notification{
		RecipientID: course.TeacherID,
		Type:        models.NotifyEnrollment,
		Title:       "New enrollment",
		Message:     fmt.Sprintf("%s enrolled in %s.", studentName, course.Title),
		ActionURL:   "/courses/" + course.ID.String(),
		Priority:    models.PriorityLow,
	}, "")
}

// NotifyClassScheduled tells enrolled students about an upcoming live class.
func (s *Service) NotifyClassScheduled(ctx context.Context, course *models.Course, classTitle string, scheduledAt time.Time) {
	recipients, err := s.repo.EnrolledStudentEmails(ctx, course.ID)
	if err != nil {
		s.logger.Error("fanout recipient lookup failed", zap.Error(err))
		return
	}
	for _, rec := range recipients {
		s.Notify(ctx, &models.Notification{
			RecipientID: rec.ID,
			SenderID:    &course.TeacherID,
			Type:        models.NotifyAnnouncement,
			Title:       "Live class scheduled: " + classTitle,
			Message: fmt.Sprintf("%s in %s starts at %s.", classTitle, course.Title,
				scheduledAt.Format(time.RFC1123)),
			ActionURL: "/courses/" + course.ID.String() + "/live",
			Priority:  models.PriorityHigh,
		}, rec.Email)
	}
}
