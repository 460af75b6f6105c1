package cfq

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a scheduler's ledger and, when given, its metrics to
// Prometheus
type Collector struct {
	sched   *Scheduler
	metrics *Metrics

	busyQueues  *prometheus.Desc
	busyRq      *prometheus.Desc
	busySectors *prometheus.Desc
	dispatch    *prometheus.Desc
	rqTotal     *prometheus.Desc
	secTotal    *prometheus.Desc
	queuesTotal *prometheus.Desc

	dispatchedRq      *prometheus.Desc
	dispatchedSectors *prometheus.Desc
	merges            *prometheus.Desc
	reenqueued        *prometheus.Desc
	graceWaits        *prometheus.Desc
	denials           *prometheus.Desc
	ioOps             *prometheus.Desc
	ioErrors          *prometheus.Desc
	completions       *prometheus.Desc
	latencySeconds    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector. metrics may be nil.
func NewCollector(sched *Scheduler, metrics *Metrics, device string) *Collector {
	labels := prometheus.Labels{"device": device}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("cfq", "", name), help, variable, labels)
	}
	return &Collector{
		sched:   sched,
		metrics: metrics,

		busyQueues:  desc("busy_queues", "Per-process queues holding requests.", "class"),
		busyRq:      desc("busy_requests", "Requests waiting in per-process queues.", "class"),
		busySectors: desc("busy_sectors", "Sectors waiting in per-process queues.", "class"),
		dispatch:    desc("dispatch_list_length", "Requests released to the device but not yet taken."),
		rqTotal:     desc("class_requests_total", "Cumulative requests entering and leaving a class.", "class", "direction"),
		secTotal:    desc("class_sectors_total", "Cumulative sectors entering and leaving a class.", "class", "direction"),
		queuesTotal: desc("class_queues_total", "Cumulative queues activated and released in a class.", "class", "direction"),

		dispatchedRq:      desc("dispatched_requests_total", "Requests moved to the dispatch list.", "class"),
		dispatchedSectors: desc("dispatched_sectors_total", "Sectors moved to the dispatch list.", "class"),
		merges:            desc("merges_total", "Bios merged into queued requests.", "kind"),
		reenqueued:        desc("reenqueued_total", "Dispatched requests pulled back by higher-class work."),
		graceWaits:        desc("grace_waits_total", "Selections held off by a grace period."),
		denials:           desc("admission_denials_total", "Request allocations refused to a submitter."),
		ioOps:             desc("io_operations_total", "Completed device operations.", "op"),
		ioErrors:          desc("io_errors_total", "Failed device operations.", "op"),
		completions:       desc("completions_total", "Requests completed for submitters of a class.", "class"),
		latencySeconds:    desc("completion_seconds_total", "Time from device dispatch to completion, summed per class.", "class"),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.busyQueues, c.busyRq, c.busySectors, c.dispatch, c.rqTotal, c.secTotal, c.queuesTotal,
		c.dispatchedRq, c.dispatchedSectors, c.merges, c.reenqueued, c.graceWaits, c.denials,
		c.ioOps, c.ioErrors, c.completions, c.latencySeconds,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.sched.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.dispatch, prometheus.GaugeValue, float64(snap.Dispatch))

	for _, cs := range snap.Classes {
		class := strconv.Itoa(cs.Class)
		ch <- prometheus.MustNewConstMetric(c.busyQueues, prometheus.GaugeValue, float64(cs.BusyQueues), class)
		ch <- prometheus.MustNewConstMetric(c.busyRq, prometheus.GaugeValue, float64(cs.BusyRq), class)
		ch <- prometheus.MustNewConstMetric(c.busySectors, prometheus.GaugeValue, float64(cs.BusySectors), class)
		ch <- prometheus.MustNewConstMetric(c.rqTotal, prometheus.CounterValue, float64(cs.Stats.RqIn), class, "in")
		ch <- prometheus.MustNewConstMetric(c.rqTotal, prometheus.CounterValue, float64(cs.Stats.RqOut), class, "out")
		ch <- prometheus.MustNewConstMetric(c.secTotal, prometheus.CounterValue, float64(cs.Stats.SectorsIn), class, "in")
		ch <- prometheus.MustNewConstMetric(c.secTotal, prometheus.CounterValue, float64(cs.Stats.SectorsOut), class, "out")
		ch <- prometheus.MustNewConstMetric(c.queuesTotal, prometheus.CounterValue, float64(cs.Stats.QueuesIn), class, "in")
		ch <- prometheus.MustNewConstMetric(c.queuesTotal, prometheus.CounterValue, float64(cs.Stats.QueuesOut), class, "out")
	}

	if c.metrics == nil {
		return
	}
	m := c.metrics.Snapshot()
	for i := range m.DispatchedRq {
		class := strconv.Itoa(i)
		lat := m.Latency[i]
		ch <- prometheus.MustNewConstMetric(c.completions, prometheus.CounterValue, float64(lat.Count), class)
		ch <- prometheus.MustNewConstMetric(c.latencySeconds, prometheus.CounterValue, lat.Total.Seconds(), class)
		ch <- prometheus.MustNewConstMetric(c.dispatchedRq, prometheus.CounterValue, float64(m.DispatchedRq[i]), class)
		ch <- prometheus.MustNewConstMetric(c.dispatchedSectors, prometheus.CounterValue, float64(m.DispatchedSectors[i]), class)
	}
	ch <- prometheus.MustNewConstMetric(c.merges, prometheus.CounterValue, float64(m.BackMerges), "back")
	ch <- prometheus.MustNewConstMetric(c.merges, prometheus.CounterValue, float64(m.FrontMerges), "front")
	ch <- prometheus.MustNewConstMetric(c.reenqueued, prometheus.CounterValue, float64(m.Reenqueued))
	ch <- prometheus.MustNewConstMetric(c.graceWaits, prometheus.CounterValue, float64(m.GraceWaits))
	ch <- prometheus.MustNewConstMetric(c.denials, prometheus.CounterValue, float64(m.AdmissionDenials))

	for dir, io := range m.IO {
		op := strings.ToLower(Direction(dir).String())
		ch <- prometheus.MustNewConstMetric(c.ioOps, prometheus.CounterValue, float64(io.Ops), op)
		ch <- prometheus.MustNewConstMetric(c.ioErrors, prometheus.CounterValue, float64(io.Errors), op)
	}
}
