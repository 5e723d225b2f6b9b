package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "obastore"

// Collector exports database statistics to Prometheus.
type Collector struct {
	db *DB

	generation  *prometheus.Desc
	objects     *prometheus.Desc
	dirty       *prometheus.Desc
	commits     *prometheus.Desc
	storeBytes  *prometheus.Desc
	freeBytes   *prometheus.Desc
	shadowBytes *prometheus.Desc
	usedBytes   *prometheus.Desc
	readOnly    *prometheus.Desc
}

// Collector returns a prometheus.Collector reporting on db. Register it
// with a prometheus.Registerer; a closed database reports nothing.
func (db *DB) Collector() *Collector {
	labels := prometheus.Labels{"database": db.ID().String()}
	desc := func(subsystem, name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, subsystem, name), help, variable, labels)
	}

	return &Collector{
		db:          db,
		generation:  desc("", "generation", "Generation of the last commit."),
		objects:     desc("", "objects", "Number of registered objects."),
		dirty:       desc("", "dirty_objects", "Number of objects waiting for a commit."),
		commits:     desc("", "commits_total", "Commits made since the database was opened."),
		storeBytes:  desc("", "store_bytes", "Length of the backing store."),
		freeBytes:   desc("segment", "free_bytes", "Bytes available for allocation.", "segment"),
		shadowBytes: desc("segment", "shadow_bytes", "Bytes freed but not reusable until the next commit.", "segment"),
		usedBytes:   desc("segment", "used_bytes", "Bytes held by live allocations.", "segment"),
		readOnly:    desc("segment", "read_only", "1 when the segment allocator detected corruption.", "segment"),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.generation
	ch <- c.objects
	ch <- c.dirty
	ch <- c.commits
	ch <- c.storeBytes
	ch <- c.freeBytes
	ch <- c.shadowBytes
	ch <- c.usedBytes
	ch <- c.readOnly
}

// Collect implements the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.db.Stats()
	if err != nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.generation, prometheus.GaugeValue, float64(stats.Generation))
	ch <- prometheus.MustNewConstMetric(c.objects, prometheus.GaugeValue, float64(stats.Objects))
	ch <- prometheus.MustNewConstMetric(c.dirty, prometheus.GaugeValue, float64(stats.DirtyObjects))
	ch <- prometheus.MustNewConstMetric(c.commits, prometheus.CounterValue, float64(stats.Commits))
	ch <- prometheus.MustNewConstMetric(c.storeBytes, prometheus.GaugeValue, float64(stats.StoreLength))

	for _, s := range stats.Segments {
		ch <- prometheus.MustNewConstMetric(c.freeBytes, prometheus.GaugeValue, float64(s.FreeBytes), s.Name)
		ch <- prometheus.MustNewConstMetric(c.shadowBytes, prometheus.GaugeValue, float64(s.ShadowBytes), s.Name)
		ch <- prometheus.MustNewConstMetric(c.usedBytes, prometheus.GaugeValue, float64(s.UsedBytes), s.Name)

		ro := 0.0
		if s.ReadOnly {
			ro = 1
		}
		ch <- prometheus.MustNewConstMetric(c.readOnly, prometheus.GaugeValue, ro, s.Name)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
