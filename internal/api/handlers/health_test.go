package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticChecker struct {
	status, message string
}

func (c staticChecker) CheckReady() (string, string) { return c.status, c.message }

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	expectStatus(t, rec, http.StatusOK)
	body := decode(t, rec)
	if body["status"] != "ok" || body["service"] != serviceName {
		t.Errorf("ответ = %v", body)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		pg, kc     ReadinessChecker
		wantStatus string
		wantCode   int
	}{
		{"всё доступно", staticChecker{"ok", ""}, staticChecker{"ok", ""}, "ok", http.StatusOK},
		{"keycloak деградирован", staticChecker{"ok", ""}, staticChecker{"degraded", "медленно"}, "degraded", http.StatusOK},
		{"postgres недоступен", staticChecker{"fail", "нет соединения"}, staticChecker{"ok", ""}, "fail", http.StatusServiceUnavailable},
		{"не инициализирован", nil, staticChecker{"ok", ""}, "fail", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.pg, tt.kc)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			expectStatus(t, rec, tt.wantCode)
			if status := decode(t, rec)["status"]; status != tt.wantStatus {
				t.Errorf("status = %v, ожидался %s", status, tt.wantStatus)
			}
		})
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{"ok", "ok"}, "ok"},
		{[]string{"ok", "degraded"}, "degraded"},
		{[]string{"degraded", "fail"}, "fail"},
		{nil, "ok"},
	}
	for _, tt := range tests {
		if got := overallStatus(tt.in...); got != tt.want {
			t.Errorf("overallStatus(%v) = %q, ожидалось %q", tt.in, got, tt.want)
		}
	}
}
