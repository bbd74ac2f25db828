package liveclasses

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func scheduleContext(t *testing.T, scheduledAt time.Time) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body := fmt.Sprintf(`{"title":"Algebra","scheduled_at":%q,"duration_min":60}`,
		scheduledAt.Format(time.RFC3339))
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: uuid.New().String()}}
	return c, w
}

func TestSchedule_RejectsPastDate(t *testing.T) {
	req := require.New(t)
	h := NewHandler(nil, nil, nil, nil, nil, nil, zap.NewNop())

	c, w := scheduleContext(t, time.Now().Add(-time.Hour))
	h.Schedule(c)
	req.Equal(http.StatusBadRequest, w.Code)
	req.Contains(w.Body.String(), "scheduled_at must be in the future")
}

func TestUpdate_RejectsPastDate(t *testing.T) {
	req := require.New(t)
	h := NewHandler(nil, nil, nil, nil, nil, nil, zap.NewNop())

	c, w := scheduleContext(t, time.Now().Add(-time.Minute))
	h.Update(c)
	req.Equal(http.StatusBadRequest, w.Code)
	req.Contains(w.Body.String(), "scheduled_at must be in the future")
}
