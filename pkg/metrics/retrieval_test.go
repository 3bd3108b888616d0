package metrics

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewRetrievalMetrics(t *testing.T) {
	Convey("When creating a new metrics instance", t, func() {
		m := NewRetrievalMetrics()
		Convey("Then it should not be nil", func() {
			So(m, ShouldNotBeNil)
		})
	})
}

func TestRecordLookup(t *testing.T) {
	Convey("Given a metrics instance", t, func() {
		m := NewRetrievalMetrics()
		m.RecordLookup(true, false, time.Second)
		m.RecordLookup(false, true, time.Second)
		Convey("Then lookup stats are recorded", func() {
			So(m.TotalLookups, ShouldEqual, 2)
			So(m.FailedLookups, ShouldEqual, 1)
			So(m.PartialResults, ShouldEqual, 1)
		})
	})
}

func TestRecordGraphDegradations(t *testing.T) {
	Convey("Given a metrics instance", t, func() {
		m := NewRetrievalMetrics()
		m.RecordGraphSkip()
		m.RecordGraphFailure()
		m.RecordRerankFallback()
		Convey("Then degradation counters increase", func() {
			So(m.GraphSkips, ShouldEqual, 1)
			So(m.GraphFailures, ShouldEqual, 1)
			So(m.RerankFallbacks, ShouldEqual, 1)
		})
	})
}

func TestRecordReconcile(t *testing.T) {
	Convey("Given a metrics instance", t, func() {
		m := NewRetrievalMetrics()
		m.RecordReconcile(2, time.Second)
		Convey("Then reconcile metrics update", func() {
			So(m.ReconcilePasses, ShouldEqual, 1)
			So(m.ActionsDegraded, ShouldEqual, 2)
		})
	})
}

func TestGetMetrics(t *testing.T) {
	Convey("Given a metrics instance with data", t, func() {
		m := NewRetrievalMetrics()
		m.RecordLookup(true, false, time.Second)
		m.RecordReconcile(0, time.Second)
		metrics := m.GetMetrics()
		Convey("Then returned metrics reflect counts", func() {
			So(metrics["total_lookups"], ShouldEqual, int64(1))
			So(metrics["reconcile_passes"], ShouldEqual, int64(1))
			So(metrics["avg_lookup_duration"], ShouldNotBeNil)
		})
	})
}
