package utils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavitra93/go-tenant-rbac/shared/apperr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func render(t *testing.T, err error) (int, APIResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	HandleError(c, err)

	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHandleErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperr.Unauthorized(""), http.StatusForbidden},
		{apperr.NotFound("User"), http.StatusNotFound},
		{apperr.Invalid("email", "The email field is required."), http.StatusUnprocessableEntity},
		{apperr.Conflict("name", "The name has already been taken."), http.StatusUnprocessableEntity},
		{apperr.Internal("Failed to save", errors.New("disk full")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		status, body := render(t, tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.False(t, body.Success)
	}
}

func TestHandleErrorFieldMessages(t *testing.T) {
	_, body := render(t, apperr.Conflict("name", "The name has already been taken."))
	assert.Equal(t, []string{"The name has already been taken."}, body.Errors["name"])
}

func TestHandleErrorHidesInternalCause(t *testing.T) {
	_, body := render(t, errors.New("pq: password authentication failed"))
	assert.Equal(t, "Internal server error", body.Error)
}

func TestBindReportsFieldErrors(t *testing.T) {
	type request struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", jsonBody(`{"email":"nope","password":"short"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req request
	assert.False(t, Bind(c, &req))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"The email must be a valid email address."}, body.Errors["email"])
	assert.Equal(t, []string{"The password must be at least 8 characters."}, body.Errors["password"])
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}
