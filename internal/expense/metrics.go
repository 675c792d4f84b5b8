package expense

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_tracker_pages_scanned_total",
		Help: "Receipt pages sent to the OCR scanner.",
	})

	scanFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_tracker_scan_failures_total",
		Help: "Scanner calls that failed and fell back to manual correction.",
	})

	duplicateGroupsFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expense_tracker_duplicate_groups_flagged_total",
		Help: "Duplicate groups surfaced by the pre-submit screen.",
	})
)
