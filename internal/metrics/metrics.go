// Package metrics exports tree, scheduler and planner statistics to
// Prometheus. Tree and scheduler numbers are pulled from their Stats
// snapshots at scrape time; planner numbers are pushed by using the
// Collector as a planner.LogSink.
package metrics

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unswei/muesli-bt-sub004/internal/bt"
	"github.com/unswei/muesli-bt-sub004/internal/planner"
	"github.com/unswei/muesli-bt-sub004/internal/scheduler"
)

const namespace = "muesli"

// TreeSource is implemented by *bt.Instance.
type TreeSource interface {
	Stats() bt.Stats
}

// SchedulerSource is implemented by *scheduler.Scheduler.
type SchedulerSource interface {
	Stats() scheduler.Stats
}

var (
	descTicks = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bt", "ticks_total"),
		"Completed ticks.", []string{"tree"}, nil)
	descOverruns = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bt", "tick_overruns_total"),
		"Ticks that exceeded the tick budget.", []string{"tree"}, nil)
	descRejected = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bt", "ticks_rejected_total"),
		"Ticks rejected because another tick was in progress or the instance was closed.", []string{"tree"}, nil)
	descTickLast = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bt", "tick_last_seconds"),
		"Duration of the last tick.", []string{"tree"}, nil)
	descTickMax = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bt", "tick_max_seconds"),
		"Longest tick so far.", []string{"tree"}, nil)
	descNodeResults = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bt", "node_results_total"),
		"Node evaluations by returned status.", []string{"tree", "node", "status"}, nil)
	descNodeMax = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bt", "node_max_seconds"),
		"Longest single evaluation of a node.", []string{"tree", "node"}, nil)

	descTasks = prometheus.NewDesc(prometheus.BuildFQName(namespace, "scheduler", "tasks_total"),
		"Scheduler task transitions.", []string{"scheduler", "event"}, nil)
	descQueueDelay = prometheus.NewDesc(prometheus.BuildFQName(namespace, "scheduler", "queue_delay_last_seconds"),
		"Queue delay of the most recently started task.", []string{"scheduler"}, nil)
	descRunTime = prometheus.NewDesc(prometheus.BuildFQName(namespace, "scheduler", "run_time_last_seconds"),
		"Run time of the most recently finished task.", []string{"scheduler"}, nil)
	descWorkers = prometheus.NewDesc(prometheus.BuildFQName(namespace, "scheduler", "workers"),
		"Worker pool size.", []string{"scheduler"}, nil)

	descExprEntries = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bt", "expr_cache_entries"),
		"Compiled condition expressions held in the shared cache.", nil, nil)
	descExprLimit = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bt", "expr_cache_limit"),
		"Bound of the shared expression cache.", nil, nil)
	descExprLookups = prometheus.NewDesc(prometheus.BuildFQName(namespace, "bt", "expr_cache_lookups_total"),
		"Expression cache lookups by result.", []string{"result"}, nil)
)

// Collector is a prometheus.Collector and a planner.LogSink.
type Collector struct {
	mu         sync.RWMutex
	trees      map[string]TreeSource
	schedulers map[string]SchedulerSource

	planCalls *prometheus.CounterVec
	planTime  *prometheus.HistogramVec
	planWork  *prometheus.CounterVec
	planConf  *prometheus.GaugeVec

	regOnce sync.Once
	reg     *prometheus.Registry
}

func New() *Collector {
	return &Collector{
		trees:      make(map[string]TreeSource),
		schedulers: make(map[string]SchedulerSource),
		planCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "calls_total",
			Help:      "Planner calls by backend and result status.",
		}, []string{"planner", "status"}),
		planTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "time_used_seconds",
			Help:      "Wall time spent per planner call.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"planner"}),
		planWork: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "work_done_total",
			Help:      "Planner work units (simulations, samples, iterations).",
		}, []string{"planner"}),
		planConf: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "confidence",
			Help:      "Confidence of the last planner result per node.",
		}, []string{"planner", "node"}),
	}
}

// AddTree exports the stats of src under the tree label name, replacing any
// previous source of that name.
func (c *Collector) AddTree(name string, src TreeSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trees[name] = src
}

// AddScheduler exports the stats of src under the scheduler label name.
func (c *Collector) AddScheduler(name string, src SchedulerSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedulers[name] = src
}

// Write records one planner call. It never fails.
func (c *Collector) Write(_ context.Context, rec *planner.Record) error {
	c.planCalls.WithLabelValues(rec.Planner, string(rec.Status)).Inc()
	c.planTime.WithLabelValues(rec.Planner).Observe(rec.TimeUsedMs / 1000)
	c.planWork.WithLabelValues(rec.Planner).Add(float64(rec.WorkDone))
	c.planConf.WithLabelValues(rec.Planner, rec.NodeName).Set(rec.Confidence)
	return nil
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descTicks, descOverruns, descRejected, descTickLast, descTickMax, descNodeResults, descNodeMax,
		descTasks, descQueueDelay, descRunTime, descWorkers,
		descExprEntries, descExprLimit, descExprLookups,
	} {
		ch <- d
	}
	c.planCalls.Describe(ch)
	c.planTime.Describe(ch)
	c.planWork.Describe(ch)
	c.planConf.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	trees := sortedKeys(c.trees)
	scheds := sortedKeys(c.schedulers)
	treeSrc := make([]TreeSource, len(trees))
	for i, k := range trees {
		treeSrc[i] = c.trees[k]
	}
	schedSrc := make([]SchedulerSource, len(scheds))
	for i, k := range scheds {
		schedSrc[i] = c.schedulers[k]
	}
	c.mu.RUnlock()

	for i, name := range trees {
		collectTree(ch, name, treeSrc[i].Stats())
	}
	for i, name := range scheds {
		collectScheduler(ch, name, schedSrc[i].Stats())
	}
	collectExprCache(ch, bt.ReadExprCacheStats())
	c.planCalls.Collect(ch)
	c.planTime.Collect(ch)
	c.planWork.Collect(ch)
	c.planConf.Collect(ch)
}

func collectTree(ch chan<- prometheus.Metric, name string, s bt.Stats) {
	ch <- prometheus.MustNewConstMetric(descTicks, prometheus.CounterValue, float64(s.TickCount), name)
	ch <- prometheus.MustNewConstMetric(descOverruns, prometheus.CounterValue, float64(s.TickOverrunCount), name)
	ch <- prometheus.MustNewConstMetric(descRejected, prometheus.CounterValue, float64(s.RejectedTicks), name)
	ch <- prometheus.MustNewConstMetric(descTickLast, prometheus.GaugeValue, seconds(s.TickLastNs), name)
	ch <- prometheus.MustNewConstMetric(descTickMax, prometheus.GaugeValue, seconds(s.TickMaxNs), name)
	for _, n := range s.Nodes {
		for _, r := range []struct {
			status bt.Status
			count  uint64
		}{{bt.Success, n.SuccessCount}, {bt.Failure, n.FailureCount}, {bt.Running, n.RunningCount}} {
			ch <- prometheus.MustNewConstMetric(descNodeResults, prometheus.CounterValue, float64(r.count), name, n.Name, r.status.String())
		}
		ch <- prometheus.MustNewConstMetric(descNodeMax, prometheus.GaugeValue, seconds(n.MaxNs), name, n.Name)
	}
}

func collectScheduler(ch chan<- prometheus.Metric, name string, s scheduler.Stats) {
	for _, e := range []struct {
		event string
		count uint64
	}{
		{"submitted", s.Submitted},
		{"started", s.Started},
		{"completed", s.Completed},
		{"failed", s.Failed},
		{"cancelled", s.Cancelled},
	} {
		ch <- prometheus.MustNewConstMetric(descTasks, prometheus.CounterValue, float64(e.count), name, e.event)
	}
	ch <- prometheus.MustNewConstMetric(descQueueDelay, prometheus.GaugeValue, seconds(s.QueueDelayLastNs), name)
	ch <- prometheus.MustNewConstMetric(descRunTime, prometheus.GaugeValue, seconds(s.RunTimeLastNs), name)
	ch <- prometheus.MustNewConstMetric(descWorkers, prometheus.GaugeValue, float64(s.Workers), name)
}

func collectExprCache(ch chan<- prometheus.Metric, s bt.ExprCacheStats) {
	ch <- prometheus.MustNewConstMetric(descExprEntries, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(descExprLimit, prometheus.GaugeValue, float64(s.Limit))
	ch <- prometheus.MustNewConstMetric(descExprLookups, prometheus.CounterValue, float64(s.Hits), "hit")
	ch <- prometheus.MustNewConstMetric(descExprLookups, prometheus.CounterValue, float64(s.Misses), "miss")
}

// Registry returns a registry holding the collector plus the Go runtime and
// process collectors.
func (c *Collector) Registry() *prometheus.Registry {
	c.regOnce.Do(func() {
		c.reg = prometheus.NewRegistry()
		c.reg.MustRegister(
			c,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return c.reg
}

// Handler serves Registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{})
}

func seconds(ns int64) float64 { return time.Duration(ns).Seconds() }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
