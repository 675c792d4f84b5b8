package recon

import (
	"time"

	"github.com/castara/expense-tracker/internal/scanning"
)

// Page wraps one page's extraction with its position in the capture session.
// Partial is computed once by DetectPartial when the page is added and never
// recomputed; Merge trusts it.
type Page struct {
	PageNumber int                 `json:"page_number"` // 1-based, capture order
	Extraction scanning.Extraction `json:"extraction"`
	ImageRef   string              `json:"image_ref"` // opaque storage handle
	Partial    bool                `json:"partial"`
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}
