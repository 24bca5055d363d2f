package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ledgerRecordsDesc = prometheus.NewDesc(
		"modelobserver_ledger_records",
		"Distinct records seen by a ledger, by change kind.",
		[]string{"scope_id", "entity", "kind"}, nil,
	)
	ledgerTrackedDesc = prometheus.NewDesc(
		"modelobserver_ledger_tracked_records",
		"Records with a field snapshot in a ledger.",
		[]string{"scope_id", "entity"}, nil,
	)
)

// ledgerCollector reads the ledger reports at scrape time.
type ledgerCollector struct {
	h *Handler
}

func (c ledgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- ledgerRecordsDesc
	ch <- ledgerTrackedDesc
}

func (c ledgerCollector) Collect(ch chan<- prometheus.Metric) {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()

	scope := c.h.set.ID()
	for _, r := range c.h.set.Reports() {
		ch <- prometheus.MustNewConstMetric(ledgerRecordsDesc, prometheus.GaugeValue, float64(r.Created), scope, r.Entity, "created")
		ch <- prometheus.MustNewConstMetric(ledgerRecordsDesc, prometheus.GaugeValue, float64(r.Updated), scope, r.Entity, "updated")
		ch <- prometheus.MustNewConstMetric(ledgerRecordsDesc, prometheus.GaugeValue, float64(r.Deleted), scope, r.Entity, "deleted")
		ch <- prometheus.MustNewConstMetric(ledgerTrackedDesc, prometheus.GaugeValue, float64(r.Tracked), scope, r.Entity)
	}
}
