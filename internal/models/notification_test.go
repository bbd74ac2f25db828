package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEmailWanted(t *testing.T) {
	req := require.New(t)
	p := DefaultPreferences(uuid.New())
	req.True(p.EmailWanted(NotifyNewContent))
	req.True(p.EmailWanted(NotifySystem))

	p.EmailNewContent = false
	req.False(p.EmailWanted(NotifyNewContent))
	req.True(p.EmailWanted(NotifyAnnouncement))
}

func TestInQuietHours(t *testing.T) {
	req := require.New(t)
	p := DefaultPreferences(uuid.New())
	at := func(clock string) time.Time {
		parsed, err := time.Parse("15:04", clock)
		req.NoError(err)
		return parsed
	}

	// disabled: never quiet
	req.False(p.InQuietHours(at("23:00")))

	p.QuietHoursEnabled = true
	// default window 22:00-08:00 wraps midnight
	req.True(p.InQuietHours(at("23:00")))
	req.True(p.InQuietHours(at("03:30")))
	req.True(p.InQuietHours(at("08:00")))
	req.False(p.InQuietHours(at("12:00")))
	req.False(p.InQuietHours(at("21:59")))

	// same-day window
	p.QuietHoursStart = "13:00"
	p.QuietHoursEnd = "15:00"
	req.True(p.InQuietHours(at("14:00")))
	req.False(p.InQuietHours(at("16:00")))
}
