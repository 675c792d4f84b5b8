package recon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Heuristic thresholds for date validation. Pinned by tests so they can be
// tuned without touching the logic.
const (
	// RawParseConfidence is the starting confidence for a date that parsed
	// without any repair.
	RawParseConfidence = 0.5
	// CorrectedParseConfidence is the starting confidence after a successful
	// OCR-mistake correction.
	CorrectedParseConfidence = 0.7
	// MinValidDateConfidence is the exclusive floor above which a date is
	// considered valid.
	MinValidDateConfidence = 0.3
	// MaxDateConfidence caps the confidence of any heuristic date result.
	MaxDateConfidence = 0.9

	plausibilityBonus   = 0.2
	plausibilityPenalty = 0.2
	captureSkewBonus    = 0.1
	captureSkewPenalty  = 0.1

	// CaptureSkewWindow is how far a receipt date may drift from the photo
	// timestamp before confidence drops.
	CaptureSkewWindow = 30 * 24 * time.Hour
)

// DateResult is the outcome of validating one extracted date string. An
// unreadable date is a first-class result (Valid false plus a suggestion
// note), never an error and never a silent default to today.
type DateResult struct {
	Valid      bool      `json:"valid"`
	Date       time.Time `json:"date"` // local midnight of the calendar day; zero when unparsed
	Confidence float64   `json:"confidence"`
	Notes      []string  `json:"notes,omitempty"`
}

// DateValidator repairs and scores extracted date text
type DateValidator struct {
	timeSource TimeSource
}

// NewDateValidator creates a validator using the wall clock
func NewDateValidator() *DateValidator {
	return &DateValidator{timeSource: &defaultTimeSource{}}
}

// NewDateValidatorWithTime creates a validator with a custom time source for testing
func NewDateValidatorWithTime(timeSource TimeSource) *DateValidator {
	return &DateValidator{timeSource: timeSource}
}

// Validate parses raw date text as a calendar day, repairing common OCR
// misreads when a direct parse fails. capturedAt is the photo timestamp when
// known; pass the zero time when it is not.
func (v *DateValidator) Validate(raw string, capturedAt time.Time) DateResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DateResult{
			Notes: []string{"no date was read from the receipt; enter the date manually"},
		}
	}

	confidence := RawParseConfidence
	var notes []string

	date, swapped, ok := parseCalendarDate(trimmed)
	if !ok {
		repaired := repairDateText(trimmed)
		if repaired != trimmed {
			date, swapped, ok = parseCalendarDate(repaired)
			if ok {
				confidence = CorrectedParseConfidence
				notes = append(notes, fmt.Sprintf("corrected likely OCR misreads: %q read as %q", trimmed, repaired))
			}
		}
	}
	if !ok {
		return DateResult{
			Notes: []string{fmt.Sprintf("could not read %q as a date; enter the date manually", trimmed)},
		}
	}
	if swapped {
		notes = append(notes, "day and month appeared reversed and were swapped")
	}

	now := v.timeSource.Now()
	yearAgo := now.AddDate(-1, 0, 0)
	monthAhead := now.AddDate(0, 1, 0)
	switch {
	case date.Before(yearAgo):
		confidence -= plausibilityPenalty
		notes = append(notes, "date is more than a year in the past; check it before saving")
	case date.After(monthAhead):
		confidence -= plausibilityPenalty
		notes = append(notes, "date is more than a month in the future; check it before saving")
	default:
		confidence += plausibilityBonus
	}

	if !capturedAt.IsZero() {
		skew := date.Sub(capturedAt)
		if skew < 0 {
			skew = -skew
		}
		if skew > CaptureSkewWindow {
			confidence -= captureSkewPenalty
			notes = append(notes, "date differs from when the photo was taken by more than 30 days")
		} else {
			confidence += captureSkewBonus
		}
	}

	if confidence > MaxDateConfidence {
		confidence = MaxDateConfidence
	}
	if confidence < 0 {
		confidence = 0
	}

	return DateResult{
		Valid:      confidence > MinValidDateConfidence,
		Date:       date,
		Confidence: confidence,
		Notes:      notes,
	}
}

var numericDatePattern = regexp.MustCompile(`^(\d{1,4})[/-](\d{1,2})[/-](\d{1,4})$`)

// parseCalendarDate reads text as a calendar day in the local timezone. A
// receipt date is a day, not an instant, so ISO strings carrying a zone keep
// the zone's calendar date rather than being shifted into local time.
// swapped reports whether the day and month components were exchanged because
// the month position held a value over 12.
func parseCalendarDate(s string) (date time.Time, swapped bool, ok bool) {
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, false, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.Local), false, true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local); err == nil {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.Local), false, true
	}

	match := numericDatePattern.FindStringSubmatch(s)
	if match == nil {
		return time.Time{}, false, false
	}

	a, _ := strconv.Atoi(match[1])
	b, _ := strconv.Atoi(match[2])
	c, _ := strconv.Atoi(match[3])

	var year, month, day int
	if a >= 1000 {
		year, month, day = a, b, c
	} else {
		// Receipts here print day/month/year; month-first input is caught by
		// the swap below.
		day, month, year = a, b, c
	}
	if year < 100 {
		year += 2000
	}

	if month > 12 && day <= 12 {
		day, month = month, day
		swapped = true
	}

	candidate := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
	if candidate.Year() != year || candidate.Month() != time.Month(month) || candidate.Day() != day {
		return time.Time{}, false, false // impossible date like Feb 30
	}

	return candidate, swapped, true
}

// ocrCharacterRepairs maps commonly confused characters to the digit a date
// would have meant. Already-correct date text passes through unchanged.
var ocrCharacterRepairs = strings.NewReplacer(
	"O", "0", "o", "0",
	"I", "1", "l", "1",
	"S", "5", "s", "5",
	"B", "8",
)

// repairDateText applies character-confusion repair and separator
// normalization. Two-digit years are expanded by parseCalendarDate.
func repairDateText(s string) string {
	s = ocrCharacterRepairs.Replace(s)
	for _, sep := range []string{".", "_", " "} {
		s = strings.ReplaceAll(s, sep, "/")
	}
	return s
}
