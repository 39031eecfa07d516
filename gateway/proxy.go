package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pavitra93/go-tenant-rbac/shared/metrics"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// headers that describe one hop and must not be forwarded
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// identity headers are set by the gateway only
var identityHeaders = []string{"X-User-ID", "X-User-Email"}

// upstreamError marks a 5xx answer so it counts against the breaker
type upstreamError struct {
	status int
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("service returned status %d", e.status)
}

// ServiceClient handles HTTP communication with one backend service
type ServiceClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	breaker    *utils.CircuitBreaker
}

// ServiceClients holds all service clients
type ServiceClients struct {
	AuthService  *ServiceClient
	AdminService *ServiceClient
	AuditService *ServiceClient
}

// NewServiceClient creates a client for name at baseURL. Its breaker opens
// after five consecutive transport failures or 5xx answers and reports
// state changes to m.
func NewServiceClient(name, baseURL string, m *metrics.Metrics) *ServiceClient {
	return &ServiceClient{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: utils.NewCircuitBreakerWithSettings(utils.BreakerSettings{
			Name:          name,
			MaxFailures:   5,
			ResetTimeout:  30 * time.Second,
			OnStateChange: m.BreakerStateChanged,
		}),
	}
}

func (scs *ServiceClients) all() []*ServiceClient {
	return []*ServiceClient{scs.AuthService, scs.AdminService, scs.AuditService}
}

// ProxyRequest forwards the request to the service and relays its answer
func (sc *ServiceClient) ProxyRequest(c *gin.Context) {
	log := middleware.Logger(c).WithField("upstream", sc.name)

	targetURL := sc.baseURL + c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		targetURL += "?" + c.Request.URL.RawQuery
	}

	var bodyBytes []byte
	if c.Request.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(c.Request.Body)
		if err != nil {
			utils.BadRequestResponse(c, "Failed to read request body")
			return
		}
	}

	var resp *http.Response
	var responseBody []byte
	err := sc.breaker.Execute(c.Request.Context(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, c.Request.Method, targetURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		copyHeaders(req.Header, c.Request.Header)
		for _, h := range identityHeaders {
			req.Header.Del(h)
		}
		if claims := middleware.GetClaims(c); claims != nil {
			req.Header.Set("X-User-ID", claims.Subject)
			req.Header.Set("X-User-Email", claims.Email)
		}
		req.Header.Set("X-Forwarded-For", c.ClientIP())

		resp, err = sc.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		responseBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return &upstreamError{status: resp.StatusCode}
		}
		return nil
	})

	var upstreamErr *upstreamError
	switch {
	case err == nil, errors.As(err, &upstreamErr):
		copyHeaders(c.Writer.Header(), resp.Header)
		c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), responseBody)
	case errors.Is(err, utils.ErrCircuitOpen), errors.Is(err, utils.ErrTooManyRequests):
		log.Warn("Circuit open, rejecting request")
		utils.ServiceUnavailableResponse(c, fmt.Sprintf("%s service is temporarily unavailable", sc.name))
	default:
		log.WithError(err).Error("Failed to communicate with service")
		utils.ErrorResponse(c, http.StatusBadGateway, "Failed to communicate with service")
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		dst[key] = append([]string(nil), values...)
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

// HealthCheck checks if a service is healthy
func (sc *ServiceClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned status %d", resp.StatusCode)
	}
	return nil
}

// ServiceStatus is the health of one upstream
type ServiceStatus struct {
	Healthy bool               `json:"healthy"`
	Circuit utils.CircuitState `json:"circuit"`
	Error   string             `json:"error,omitempty"`
}

// GetServiceStatus checks every service concurrently. It reports whether
// all of them are healthy.
func (scs *ServiceClients) GetServiceStatus(ctx context.Context) (map[string]ServiceStatus, bool) {
	clients := scs.all()
	results := make([]ServiceStatus, len(clients))

	var wg sync.WaitGroup
	for i, sc := range clients {
		wg.Add(1)
		go func(i int, sc *ServiceClient) {
			defer wg.Done()
			status := ServiceStatus{Healthy: true, Circuit: sc.breaker.GetState()}
			if err := sc.HealthCheck(ctx); err != nil {
				status.Healthy = false
				status.Error = err.Error()
			}
			results[i] = status
		}(i, sc)
	}
	wg.Wait()

	healthy := true
	status := make(map[string]ServiceStatus, len(clients))
	for i, sc := range clients {
		status[sc.name+"_service"] = results[i]
		healthy = healthy && results[i].Healthy
	}
	return status, healthy
}
