package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func resetHealthChecker() {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func TestRegisterComponent(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("storage", true, "migrated")

	if len(healthChecker.components) != 1 {
		t.Errorf("expected 1 component, got %d", len(healthChecker.components))
	}

	comp := healthChecker.components["storage"]
	if !comp.Healthy {
		t.Error("component should be healthy")
	}
	if comp.Message != "migrated" {
		t.Errorf("expected message 'migrated', got '%s'", comp.Message)
	}
}

func TestGetReadiness_AllReady(t *testing.T) {
	resetHealthChecker()
	SetVersion("1.0.0")

	RegisterComponent("storage", true, "")
	RegisterComponent("monitors", true, "")
	RegisterComponent("api", true, "")

	readiness := GetReadiness()

	if readiness.Status != "ready" {
		t.Errorf("expected status 'ready', got '%s'", readiness.Status)
	}
	if readiness.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", readiness.Version)
	}
	if readiness.Components["storage"] != "ready" {
		t.Errorf("expected storage 'ready', got '%s'", readiness.Components["storage"])
	}
}

func TestGetReadiness_MissingComponent(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("storage", true, "")

	readiness := GetReadiness()

	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
	if readiness.Components["monitors"] != "not registered" {
		t.Errorf("expected monitors 'not registered', got '%s'", readiness.Components["monitors"])
	}
}

func TestGetReadiness_UnhealthyComponent(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("storage", true, "")
	RegisterComponent("monitors", true, "")
	RegisterComponent("api", false, "bind failed")

	readiness := GetReadiness()

	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
	if readiness.Message != "waiting for api" {
		t.Errorf("expected message 'waiting for api', got '%s'", readiness.Message)
	}
}

func TestUpdateComponent(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("api", false, "starting")
	UpdateComponent("api", true, "listening")

	comp := healthChecker.components["api"]
	if !comp.Healthy {
		t.Error("component should be healthy after update")
	}
	if comp.Message != "listening" {
		t.Errorf("expected message 'listening', got '%s'", comp.Message)
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealthChecker()

	handler := ReadyHandler()

	// Nothing registered yet
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	RegisterComponent("storage", true, "")
	RegisterComponent("monitors", true, "")
	RegisterComponent("api", true, "")

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var body HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Status != "ready" {
		t.Errorf("expected body status 'ready', got '%s'", body.Status)
	}
}

func TestUptime(t *testing.T) {
	resetHealthChecker()

	if Uptime() < 0 {
		t.Error("uptime should never be negative")
	}
}
