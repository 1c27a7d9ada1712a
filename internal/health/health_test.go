package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Health(t *testing.T) {
	t.Parallel()

	c := NewChecker("1.2.3")
	rec := httptest.NewRecorder()
	c.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		advisory   map[string]CheckFunc
		draining   bool
		wantStatus Status
		wantCode   int
	}{
		{
			name:       "no checks",
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name: "all pass",
			checks: map[string]CheckFunc{
				"ldap_auth": func(context.Context) error { return nil },
			},
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name: "one fails",
			checks: map[string]CheckFunc{
				"ldap_auth": func(context.Context) error { return errors.New("dial tcp: connection refused") },
				"json_auth": func(context.Context) error { return nil },
			},
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name: "advisory failure stays ready",
			advisory: map[string]CheckFunc{
				"ldap_auth": func(context.Context) error { return errors.New("dial tcp: connection refused") },
			},
			wantStatus: StatusDegraded,
			wantCode:   http.StatusOK,
		},
		{
			name: "advisory passes",
			advisory: map[string]CheckFunc{
				"ldap_auth": func(context.Context) error { return nil },
			},
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name: "gating failure wins over advisory",
			checks: map[string]CheckFunc{
				"store": func(context.Context) error { return errors.New("connection refused") },
			},
			advisory: map[string]CheckFunc{
				"ldap_auth": func(context.Context) error { return errors.New("connection refused") },
			},
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name:       "draining",
			draining:   true,
			wantStatus: StatusDraining,
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewChecker("test")
			for name, fn := range tt.checks {
				c.RegisterCheck(name, fn)
			}
			for name, fn := range tt.advisory {
				c.RegisterAdvisoryCheck(name, fn)
			}
			c.SetDraining(tt.draining)

			rec := httptest.NewRecorder()
			c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.NotContains(t, rec.Body.String(), "connection refused")

			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}
}

func TestChecker_ReadinessTimeout(t *testing.T) {
	t.Parallel()

	c := NewChecker("test", WithTimeout(20*time.Millisecond))
	c.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	resp := c.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, StatusUnhealthy, resp.Checks["slow"].Status)
}

func TestChecker_Metrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test_health")
	c := NewChecker("test", WithMetrics(m))
	c.RegisterCheck("ldap_auth", func(context.Context) error { return nil })

	c.Readiness(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.checksTotal.WithLabelValues("ldap_auth", "healthy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkStatus.WithLabelValues("ldap_auth")))
}

func TestChecker_Draining(t *testing.T) {
	t.Parallel()

	c := NewChecker("test")
	assert.False(t, c.IsDraining())
	c.SetDraining(true)
	assert.True(t, c.IsDraining())
	c.SetDraining(false)
	assert.False(t, c.IsDraining())
}
