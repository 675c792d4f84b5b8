package expense

import (
	"time"

	"github.com/castara/expense-tracker/internal/recon"
)

// CaptureSession accumulates the pages of one multi-page receipt scan. It
// lives only in memory: an abandoned session is simply discarded, and a
// finalized one is replaced by the single merged expense.
type CaptureSession struct {
	ID        string       `json:"id"`
	FamilyID  string       `json:"family_id"`
	Pages     []recon.Page `json:"pages"`
	Images    []Image      `json:"images"` // parallel to Pages
	CreatedAt time.Time    `json:"created_at"`
}
