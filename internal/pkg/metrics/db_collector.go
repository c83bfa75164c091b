package metrics

import (
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStater is satisfied by *pgxpool.Pool.
type PoolStater interface {
	Stat() *pgxpool.Stat
}

// PoolCollector exports pool statistics on every scrape. The acquire
// counters show callers queueing for a connection when the pool is full.
type PoolCollector struct {
	mu   sync.RWMutex
	pool PoolStater

	conns           *prometheus.Desc
	acquires        *prometheus.Desc
	emptyAcquires   *prometheus.Desc
	acquireDuration *prometheus.Desc
	canceled        *prometheus.Desc
}

// NewPoolCollector returns a collector for pool.
func NewPoolCollector(pool PoolStater) *PoolCollector {
	fq := func(name string) string { return prometheus.BuildFQName(namespace, "db", name) }
	return &PoolCollector{
		pool: pool,
		conns: prometheus.NewDesc(fq("pool_connections"),
			"Number of database connections by state", []string{"state"}, nil),
		acquires: prometheus.NewDesc(fq("pool_acquires_total"),
			"Successful connection acquisitions", nil, nil),
		emptyAcquires: prometheus.NewDesc(fq("pool_empty_acquires_total"),
			"Acquisitions that had to wait for a free connection", nil, nil),
		acquireDuration: prometheus.NewDesc(fq("pool_acquire_duration_seconds_total"),
			"Total time spent acquiring connections", nil, nil),
		canceled: prometheus.NewDesc(fq("pool_canceled_acquires_total"),
			"Acquisitions abandoned because the context ended", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conns
	ch <- c.acquires
	ch <- c.emptyAcquires
	ch <- c.acquireDuration
	ch <- c.canceled
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	pool := c.pool
	c.mu.RUnlock()
	s := pool.Stat()

	for state, v := range map[string]int32{
		"in_use":       s.AcquiredConns(),
		"idle":         s.IdleConns(),
		"max":          s.MaxConns(),
		"constructing": s.ConstructingConns(),
	} {
		ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(v), state)
	}
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireDuration, prometheus.CounterValue, s.AcquireDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.canceled, prometheus.CounterValue, float64(s.CanceledAcquireCount()))
}

// SetPool points the collector at pool.
func (c *PoolCollector) SetPool(pool PoolStater) {
	c.mu.Lock()
	c.pool = pool
	c.mu.Unlock()
}

// RegisterPool exports pool statistics through reg. When a collector is
// already registered it is repointed at pool, so a rebuilt app never
// reports a closed pool.
func RegisterPool(reg prometheus.Registerer, pool PoolStater) error {
	err := reg.Register(NewPoolCollector(pool))
	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return err
	}
	existing, ok := already.ExistingCollector.(*PoolCollector)
	if !ok {
		return err
	}
	existing.SetPool(pool)
	return nil
}
