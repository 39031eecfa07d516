package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/pavitra93/go-tenant-rbac/shared/events"
)

type stubPublisher struct {
	err  error
	sent []events.Event
}

func (p *stubPublisher) Publish(_ context.Context, e events.Event) error {
	p.sent = append(p.sent, e)
	return p.err
}

func requestContext() *gin.Context {
	gin.SetMode(gin.TestMode)
	gc, _ := gin.CreateTestContext(httptest.NewRecorder())
	gc.Request = httptest.NewRequest(http.MethodPost, "/tenants", nil)
	return gc
}

func TestEmit(t *testing.T) {
	pub := &stubPublisher{}
	core := &Core{Events: pub}

	core.Emit(requestContext(), events.New(events.TenantCreated, nil, nil, "t1", nil))
	assert.Len(t, pub.sent, 1)

	pub.err = errors.New("queue full")
	gc := requestContext()
	assert.NotPanics(t, func() {
		core.Emit(gc, events.New(events.TenantDeleted, nil, nil, "t1", nil))
	})
	assert.Len(t, pub.sent, 2)
	assert.False(t, gc.IsAborted())

	assert.NotPanics(t, func() {
		(&Core{}).Emit(requestContext(), events.New(events.TenantCreated, nil, nil, "t2", nil))
	})
}
