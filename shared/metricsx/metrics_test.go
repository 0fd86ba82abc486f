package metricsx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentRecordsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodPost, "/i", "204"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/i", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodPost, "/i", "204"))
	if after-before != 1 {
		t.Fatalf("expected one request recorded, got %v", after-before)
	}
}

func TestSDKCounters(t *testing.T) {
	before := testutil.ToFloat64(sdkEventsDropped.WithLabelValues("cap"))
	IncDropped("cap", 3)
	if got := testutil.ToFloat64(sdkEventsDropped.WithLabelValues("cap")) - before; got != 3 {
		t.Fatalf("expected 3 drops, got %v", got)
	}
	IncBatchSent("beacon", false)
	if testutil.ToFloat64(sdkBatchesSent.WithLabelValues("beacon", "error")) < 1 {
		t.Fatalf("expected failed beacon batch recorded")
	}
	Register()
	Register()
}
