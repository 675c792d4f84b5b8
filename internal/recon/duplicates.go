package recon

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MatchConfidence grades how likely a group of expenses is to be the same
// real-world transaction.
type MatchConfidence string

const (
	ConfidenceLow    MatchConfidence = "low"
	ConfidenceMedium MatchConfidence = "medium"
	ConfidenceHigh   MatchConfidence = "high"
)

// MatchReason tags why expenses were grouped. Reason and confidence are
// produced together by one decision rule and stay consistent: an
// exact_receipt_match is always high confidence.
type MatchReason string

const (
	ReasonExactReceiptMatch       MatchReason = "exact_receipt_match"
	ReasonSameDaySameAmount       MatchReason = "same_day_same_amount"
	ReasonSimilarAmountNearbyDate MatchReason = "similar_amount_nearby_date"
	ReasonSameVendorSimilarAmount MatchReason = "same_vendor_similar_amount"
	ReasonPossibleMatch           MatchReason = "possible_match"
)

// AmountTolerance is the relative window for a weak amount match, covering
// tip and rounding variance.
const AmountTolerance = 0.01

// ExpenseFacts is the view of an expense the detector compares. Zero values
// mean unknown: HasAmount false, zero Date, empty strings.
type ExpenseFacts struct {
	ID            string
	AmountCents   int64
	HasAmount     bool
	Date          time.Time
	Description   string
	Place         string
	ReceiptNumber string
	StoreAddress  string
}

// DuplicateGroup is a cluster of expenses judged likely to be the same
// transaction. It always has at least two members and reports the strongest
// pairwise match found within it.
type DuplicateGroup struct {
	ID         string          `json:"id"`
	Confidence MatchConfidence `json:"confidence"`
	Reason     MatchReason     `json:"reason"`
	ExpenseIDs []string        `json:"expense_ids"`
}

type signal int

const (
	signalNone signal = iota
	signalWeak
	signalStrong
)

func confidenceRank(c MatchConfidence) int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

func amountSignal(a, b ExpenseFacts) signal {
	if !a.HasAmount || !b.HasAmount {
		return signalNone
	}
	if a.AmountCents == b.AmountCents {
		return signalStrong
	}
	diff := a.AmountCents - b.AmountCents
	if diff < 0 {
		diff = -diff
	}
	larger := a.AmountCents
	if b.AmountCents > larger {
		larger = b.AmountCents
	}
	if larger > 0 && float64(diff) <= float64(larger)*AmountTolerance {
		return signalWeak
	}
	return signalNone
}

func dateSignal(a, b ExpenseFacts) signal {
	if a.Date.IsZero() || b.Date.IsZero() {
		return signalNone
	}
	ay, am, ad := a.Date.Date()
	by, bm, bd := b.Date.Date()
	if ay == by && am == bm && ad == bd {
		return signalStrong
	}
	// Calendar-day distance, not clock distance: a receipt date is a day.
	dayA := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	dayB := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := dayA.Sub(dayB).Hours() / 24
	if days < 0 {
		days = -days
	}
	if days <= 1 {
		return signalWeak
	}
	return signalNone
}

// placeSignal compares merchant text: a case-insensitive exact match is
// strong, substring containment is weak. OCR reproduces vendor names
// verbatim often enough that edit distance is not needed.
func placeSignal(a, b ExpenseFacts) signal {
	best := textSimilarity(a.Place, b.Place)
	if s := textSimilarity(a.Description, b.Description); s > best {
		best = s
	}
	return best
}

func textSimilarity(a, b string) signal {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return signalNone
	}
	if a == b {
		return signalStrong
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return signalWeak
	}
	return signalNone
}

// matchPair applies the combination rule to one pair of expenses. The rule
// table is fixed rather than scored so its behavior stays auditable.
func matchPair(a, b ExpenseFacts) (MatchConfidence, MatchReason, bool) {
	amount := amountSignal(a, b)

	// Receipt identity is decisive on its own: the same receipt number or
	// store address together with the exact amount short-circuits the rest.
	if amount == signalStrong && a.AmountCents == b.AmountCents {
		sameReceipt := a.ReceiptNumber != "" && strings.EqualFold(a.ReceiptNumber, b.ReceiptNumber)
		sameAddress := a.StoreAddress != "" && strings.EqualFold(a.StoreAddress, b.StoreAddress)
		if sameReceipt || sameAddress {
			return ConfidenceHigh, ReasonExactReceiptMatch, true
		}
	}

	date := dateSignal(a, b)
	place := placeSignal(a, b)

	switch {
	case amount == signalStrong && date == signalStrong && place != signalNone:
		return ConfidenceHigh, ReasonSameDaySameAmount, true
	case amount == signalStrong && (date == signalWeak || date == signalStrong):
		return ConfidenceMedium, ReasonSimilarAmountNearbyDate, true
	case amount == signalWeak && date == signalStrong && place == signalStrong:
		return ConfidenceMedium, ReasonSameVendorSimilarAmount, true
	case amount != signalNone:
		// A lone amount signal is worth surfacing, but date or place overlap
		// by itself is too noisy to flag.
		return ConfidenceLow, ReasonPossibleMatch, true
	}
	return "", "", false
}

type pairMatch struct {
	i, j       int
	confidence MatchConfidence
	reason     MatchReason
}

// DetectDuplicates scans an expense set and returns all clusters of
// mutually-similar expenses. Matches union transitively: if A matches B and
// B matches C, all three form one group. O(n^2) over a household's expenses
// is deliberate; the volumes are small and the pairwise rule stays readable.
func DetectDuplicates(expenses []ExpenseFacts) []DuplicateGroup {
	if len(expenses) < 2 {
		return nil
	}

	parent := make([]int, len(expenses))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		parent[find(i)] = find(j)
	}

	var matches []pairMatch
	for i := 0; i < len(expenses); i++ {
		for j := i + 1; j < len(expenses); j++ {
			confidence, reason, ok := matchPair(expenses[i], expenses[j])
			if !ok {
				continue
			}
			matches = append(matches, pairMatch{i: i, j: j, confidence: confidence, reason: reason})
			union(i, j)
		}
	}
	if len(matches) == 0 {
		return nil
	}

	members := make(map[int][]int)
	for i := range expenses {
		root := find(i)
		members[root] = append(members[root], i)
	}

	best := make(map[int]pairMatch)
	for _, m := range matches {
		root := find(m.i)
		current, ok := best[root]
		if !ok || confidenceRank(m.confidence) > confidenceRank(current.confidence) {
			best[root] = m
		}
	}

	var groups []DuplicateGroup
	for root, indices := range members {
		if len(indices) < 2 {
			continue
		}
		strongest := best[root]
		sort.Ints(indices)
		ids := make([]string, 0, len(indices))
		for _, idx := range indices {
			ids = append(ids, expenses[idx].ID)
		}
		groups = append(groups, DuplicateGroup{
			ID:         uuid.New().String(),
			Confidence: strongest.confidence,
			Reason:     strongest.reason,
			ExpenseIDs: ids,
		})
	}

	// Stable output order for rendering and tests
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].ExpenseIDs[0] < groups[j].ExpenseIDs[0]
	})

	return groups
}
