package observability

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordReconcile("matched", time.Millisecond)
	m.RecordBlocked("login")
	m.RecordAdminAction("createuser", "created")
	m.RecordLogout("local_only")
	m.RecordDBStats(sql.DBStats{})
}

func TestMetricsRecorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordReconcile("matched", 10*time.Millisecond)
	m.RecordReconcile("matched", 10*time.Millisecond)
	m.RecordBlocked("lost_password")
	m.RecordAdminAction("adduser", "user_added")
	m.RecordLogout("federated")
	m.RecordDBStats(sql.DBStats{InUse: 3, Idle: 2})

	if got := testutil.ToFloat64(m.ReconcileTotal.WithLabelValues("matched")); got != 2 {
		t.Errorf("Expected 2 reconciliations, got %v", got)
	}
	if got := testutil.ToFloat64(m.ForceSSOBlockedTotal.WithLabelValues("lost_password")); got != 1 {
		t.Errorf("Expected 1 blocked request, got %v", got)
	}
	if got := testutil.ToFloat64(m.AdminActionsTotal.WithLabelValues("adduser", "user_added")); got != 1 {
		t.Errorf("Expected 1 admin action, got %v", got)
	}
	if got := testutil.ToFloat64(m.LogoutTotal.WithLabelValues("federated")); got != 1 {
		t.Errorf("Expected 1 logout, got %v", got)
	}
	if got := testutil.ToFloat64(m.DBConnectionsActive); got != 3 {
		t.Errorf("Expected 3 active connections, got %v", got)
	}
	if got := testutil.ToFloat64(m.DBConnectionsIdle); got != 2 {
		t.Errorf("Expected 2 idle connections, got %v", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/sites/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, path := range []string{"/sites/1", "/sites/2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/sites/{id}", "418")); got != 2 {
		t.Errorf("Expected 2 requests labelled by template, got %v", got)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordLogout("local_only")

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `websso_logout_total{branch="local_only"} 1`) {
		t.Error("Expected logout counter in exposition")
	}
}
