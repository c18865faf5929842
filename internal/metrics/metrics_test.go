package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSynchronizationCountsOutcome(t *testing.T) {
	before := testutil.ToFloat64(synchronizationsTotal.WithLabelValues("Vessel", OutcomeSuccess))
	RecordSynchronization("Vessel", OutcomeSuccess, 20*time.Millisecond)
	after := testutil.ToFloat64(synchronizationsTotal.WithLabelValues("Vessel", OutcomeSuccess))
	if after != before+1 {
		t.Fatalf("expected counter to increase by one, got %v -> %v", before, after)
	}
}

func TestOutcome(t *testing.T) {
	if Outcome(nil) != OutcomeSuccess {
		t.Fatalf("expected success for nil error")
	}
	if Outcome(errors.New("boom")) != OutcomeFailure {
		t.Fatalf("expected failure for error")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordMergeRequest("Trip", "both")

	recorder := httptest.NewRecorder()
	Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(recorder.Body.String(), "fieldlog_merge_requests_total") {
		t.Fatalf("expected merge counter in exposition output")
	}
}
