package recon

import "github.com/castara/expense-tracker/internal/scanning"

// TotalShortfallToleranceCents absorbs rounding noise when comparing the
// printed total against the summed line items.
const TotalShortfallToleranceCents int64 = 5

// PartialCheck is the page-local completeness judgment. Reason is written for
// direct display to the user. Warning flags OCR noise (a total smaller than
// the summed items) without affecting Partial.
type PartialCheck struct {
	Partial bool   `json:"partial"`
	Reason  string `json:"reason,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// DetectPartial judges whether one page's extraction is a whole receipt or a
// fragment of a longer one. Long register tapes scanned in segments show
// either header+items with no grand total, or a trailing total with no
// header. This looks at a single page only; reconciling across pages is
// Merge's job.
func DetectPartial(extraction scanning.Extraction) PartialCheck {
	totalCents, hasTotal := ParseCents(extraction.Amount)
	hasUsableTotal := hasTotal && totalCents != 0

	if len(extraction.LineItems) > 0 {
		if !hasUsableTotal {
			return PartialCheck{
				Partial: true,
				Reason:  "line items were found but no final total, likely only part of the receipt",
			}
		}
		itemSum := CalculateLineItemsSubtotal(extraction.LineItems)
		if totalCents+TotalShortfallToleranceCents < itemSum {
			// OCR noise, not a missing page: a split page would be missing
			// the total entirely, not carrying a smaller one.
			return PartialCheck{
				Warning: "the printed total is less than the sum of the line items; some items may have been misread",
			}
		}
		return PartialCheck{}
	}

	if !hasUsableTotal {
		return PartialCheck{
			Partial: true,
			Reason:  "nothing usable was read from this page; try rescanning or continuing to the next section",
		}
	}

	return PartialCheck{}
}

// IsComplete reports whether the extraction carries a usable grand total.
// The UI uses it to decide whether to highlight the finalize action, and
// callers re-run it on the merged record as a completeness confirmation.
func IsComplete(extraction scanning.Extraction) bool {
	cents, ok := ParseCents(extraction.Amount)
	return ok && cents != 0
}
