package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Ensure NoOpMetrics methods do not panic and global functions delegate without error
func TestNoOpMetricsAndDelegates(t *testing.T) {
	m := &NoOpMetrics{}
	m.RecordHTTPRequest("GET", "/x", 200, time.Millisecond)
	m.RecordSyncRun("stripeCustomers", "ok", time.Millisecond)
	m.RecordWebhookEvent("customer.created", "ok")
	m.RecordRedirect("pay-success", "ok")
	m.RecordStoreOp("upsert", "stripeCustomers", "ok")
	m.SetDBConnectionsActive(1)
	m.RecordDBQuery("exec", "ok")
	h := m.Handler()
	if h == nil {
		t.Fatalf("NoOp handler is nil")
	}

	RecordHTTPRequest("GET", "/x", 200, time.Millisecond)
	RecordSyncRun("stripeCustomers", "ok", time.Millisecond)
	RecordWebhookEvent("customer.created", "ok")
	RecordRedirect("pay-success", "ok")
	RecordStoreOp("upsert", "stripeCustomers", "ok")
	SetDBConnectionsActive(2)
	RecordDBQuery("query", "ok")

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rw.Code != http.StatusNotFound {
		t.Errorf("expected 404 from no-op handler, got %d", rw.Code)
	}
}

type countingMetrics struct {
	NoOpMetrics
	mu      sync.Mutex
	storeOp int
}

func (c *countingMetrics) RecordStoreOp(operation, table, status string) {
	c.mu.Lock()
	c.storeOp++
	c.mu.Unlock()
}

func TestInitSwapsSink(t *testing.T) {
	c := &countingMetrics{}
	Init(c)
	defer Init(nil)

	RecordStoreOp("upsert", "stripeCustomers", "ok")
	RecordStoreOp("delete", "stripeCustomers", "ok")
	if c.storeOp != 2 {
		t.Fatalf("expected 2 store ops, got %d", c.storeOp)
	}

	Init(nil)
	if _, ok := globalMetrics.(*NoOpMetrics); !ok {
		t.Fatalf("expected Init(nil) to restore the no-op sink")
	}
}
