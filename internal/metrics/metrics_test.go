package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordProviderRequest(t *testing.T) {
	before := testutil.ToFloat64(ProviderRequests.WithLabelValues("metrics-test", "ok"))
	RecordProviderRequest("metrics-test", "ok", 25*time.Millisecond)
	RecordProviderRequest("metrics-test", "ok", 0)
	if got := testutil.ToFloat64(ProviderRequests.WithLabelValues("metrics-test", "ok")); got != before+2 {
		t.Fatalf("expected %v, got %v", before+2, got)
	}
}

func TestRecordJobRun(t *testing.T) {
	RecordJobRun("metrics-test", time.Second, nil)
	RecordJobRun("metrics-test", time.Second, errors.New("boom"))
	if got := testutil.ToFloat64(JobRuns.WithLabelValues("metrics-test", "failure")); got != 1 {
		t.Fatalf("expected one failure, got %v", got)
	}
	if got := testutil.ToFloat64(JobRuns.WithLabelValues("metrics-test", "success")); got != 1 {
		t.Fatalf("expected one success, got %v", got)
	}
}
