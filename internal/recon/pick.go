package recon

import "github.com/castara/expense-tracker/internal/scanning"

// pickBest selects a field value from whichever page carries the field and
// has the highest overall extraction confidence among carriers. Fields are
// picked independently, so the winning amount may come from a different page
// than the winning merchant name. Returns false when no page carries it.
func pickBest[T any](pages []Page, get func(scanning.Extraction) (T, bool)) (T, bool) {
	var best T
	bestConfidence := -1.0
	found := false

	for _, page := range pages {
		value, ok := get(page.Extraction)
		if !ok {
			continue
		}
		if page.Extraction.Confidence > bestConfidence {
			best = value
			bestConfidence = page.Extraction.Confidence
			found = true
		}
	}

	return best, found
}

// textField adapts a string field for pickBest: empty means absent.
func textField(s string) (string, bool) {
	return s, s != ""
}
