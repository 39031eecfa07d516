package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New("admin")

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("admin", "GET", "/users/:id", "404")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.statusCategory.WithLabelValues("admin", "4xx")))
}

func TestRecordDecisionAndBreaker(t *testing.T) {
	m := New("admin")

	m.RecordDecision("create-tenants", true)
	m.RecordDecision("create-tenants", false)
	m.RecordDecision("create-tenants", false)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.authzDecisions.WithLabelValues("admin", "create-tenants", "denied")))

	m.BreakerStateChanged("storage", utils.StateClosed, utils.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("admin", "storage")))
	m.BreakerStateChanged("storage", utils.StateHalfOpen, utils.StateClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.breakerState.WithLabelValues("admin", "storage")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New("auth")
	m.RecordPublish("user.created", true)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `events_published_total{outcome="ok",service="auth",type="user.created"} 1`)
}
