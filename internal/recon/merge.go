package recon

import (
	"fmt"

	"github.com/castara/expense-tracker/internal/scanning"
)

// Merge folds the pages of one capture session into a single extraction that
// is indistinguishable in shape from a single-page scan.
//
// Pages must arrive non-empty and ordered by ascending page number; Merge
// does not re-sort. Silently reordering could attach one section's total to
// another section, so an out-of-order slice is treated as a bug in the
// calling capture flow and fails fast.
func Merge(pages []Page) (scanning.Extraction, error) {
	if len(pages) == 0 {
		return scanning.Extraction{}, fmt.Errorf("merge requires at least one page")
	}
	for i := 1; i < len(pages); i++ {
		if pages[i].PageNumber <= pages[i-1].PageNumber {
			return scanning.Extraction{}, fmt.Errorf(
				"pages out of capture order: page %d follows page %d",
				pages[i].PageNumber, pages[i-1].PageNumber)
		}
	}

	var merged scanning.Extraction

	// Line items concatenate in page order and are never deduplicated here.
	// Correctly split pages of one physical receipt cannot share items;
	// repeated-looking items are a capture error for the user to review,
	// not something to drop silently.
	for _, page := range pages {
		merged.LineItems = append(merged.LineItems, page.Extraction.LineItems...)
	}

	// Each scalar field is won independently by the most confident page that
	// carries it.
	merged.Amount, _ = pickBest(pages, func(x scanning.Extraction) (string, bool) { return textField(x.Amount) })
	merged.Date, _ = pickBest(pages, func(x scanning.Extraction) (string, bool) { return textField(x.Date) })
	merged.Description, _ = pickBest(pages, func(x scanning.Extraction) (string, bool) { return textField(x.Description) })
	merged.Place, _ = pickBest(pages, func(x scanning.Extraction) (string, bool) { return textField(x.Place) })

	// The totals family typically appears once, in the header or footer.
	merged.Subtotal, _ = pickBest(pages, func(x scanning.Extraction) (string, bool) { return textField(x.Subtotal) })
	merged.Tax, _ = pickBest(pages, func(x scanning.Extraction) (string, bool) { return textField(x.Tax) })
	merged.Discount, _ = pickBest(pages, func(x scanning.Extraction) (string, bool) { return textField(x.Discount) })
	merged.PaymentMethod, _ = pickBest(pages, func(x scanning.Extraction) (string, bool) { return textField(x.PaymentMethod) })
	merged.ReceiptNumber, _ = pickBest(pages, func(x scanning.Extraction) (string, bool) { return textField(x.ReceiptNumber) })
	merged.TransactionTime, _ = pickBest(pages, func(x scanning.Extraction) (string, bool) { return textField(x.TransactionTime) })
	merged.StoreDetails, _ = pickBest(pages, func(x scanning.Extraction) (*scanning.StoreDetails, bool) {
		return x.StoreDetails, x.StoreDetails != nil
	})

	// The mean, not the max: a shaky page keeps its uncertainty visible in
	// the aggregate.
	var confidenceSum float64
	for _, page := range pages {
		confidenceSum += page.Extraction.Confidence
	}
	merged.Confidence = confidenceSum / float64(len(pages))

	// Per-page confidence breakdowns do not survive the merge; the overall
	// mean is the aggregate signal.
	merged.ConfidenceSummary = nil

	// Only when every page failed does the merged record carry an error, and
	// then whatever fields were still read remain available for manual
	// correction.
	allErrored := true
	for _, page := range pages {
		if page.Extraction.Error == "" {
			allErrored = false
			break
		}
	}
	if allErrored {
		merged.Error = pages[0].Extraction.Error
	}

	return merged, nil
}
