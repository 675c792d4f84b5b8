package scanning

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// flexString accepts either a JSON string or a bare number. Vision models do
// not reliably quote money values even when the prompt asks for strings.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type lineItemJSON struct {
	Description string     `json:"description"`
	Quantity    float64    `json:"quantity"`
	UnitPrice   flexString `json:"unit_price"`
	TotalPrice  flexString `json:"total_price"`
	Confidence  float64    `json:"confidence"`
}

type extractionJSON struct {
	Amount            flexString         `json:"amount"`
	Date              string             `json:"date"`
	Description       string             `json:"description"`
	Place             string             `json:"place"`
	LineItems         []lineItemJSON     `json:"line_items"`
	Subtotal          flexString         `json:"subtotal"`
	Tax               flexString         `json:"tax"`
	Discount          flexString         `json:"discount"`
	PaymentMethod     string             `json:"payment_method"`
	StoreDetails      *StoreDetails      `json:"store_details"`
	ReceiptNumber     flexString         `json:"receipt_number"`
	TransactionTime   string             `json:"transaction_time"`
	Confidence        float64            `json:"confidence"`
	ConfidenceSummary *ConfidenceSummary `json:"confidence_summary"`
}

// parseExtractionJSON parses the JSON response from a vision model
func parseExtractionJSON(text string) (*Extraction, error) {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var raw extractionJSON
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	extraction := &Extraction{
		Amount:            cleanMoney(raw.Amount),
		Date:              strings.TrimSpace(raw.Date),
		Description:       strings.TrimSpace(raw.Description),
		Place:             strings.TrimSpace(raw.Place),
		Subtotal:          cleanMoney(raw.Subtotal),
		Tax:               cleanMoney(raw.Tax),
		Discount:          cleanMoney(raw.Discount),
		PaymentMethod:     strings.TrimSpace(raw.PaymentMethod),
		StoreDetails:      raw.StoreDetails,
		ReceiptNumber:     strings.TrimSpace(string(raw.ReceiptNumber)),
		TransactionTime:   strings.TrimSpace(raw.TransactionTime),
		Confidence:        clampUnit(raw.Confidence),
		ConfidenceSummary: raw.ConfidenceSummary,
	}

	for _, item := range raw.LineItems {
		extraction.LineItems = append(extraction.LineItems, LineItem{
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   cleanMoney(item.UnitPrice),
			TotalPrice:  cleanMoney(item.TotalPrice),
			Confidence:  clampUnit(item.Confidence),
		})
	}

	if extraction.StoreDetails != nil {
		extraction.StoreDetails.Name = strings.TrimSpace(extraction.StoreDetails.Name)
		extraction.StoreDetails.Address = strings.TrimSpace(extraction.StoreDetails.Address)
		extraction.StoreDetails.Phone = strings.TrimSpace(extraction.StoreDetails.Phone)
	}

	if extraction.ConfidenceSummary != nil {
		s := extraction.ConfidenceSummary
		s.Overall = clampUnit(s.Overall)
		s.LineItems = clampUnit(s.LineItems)
		s.Total = clampUnit(s.Total)
		s.Date = clampUnit(s.Date)
		s.Merchant = clampUnit(s.Merchant)
		if extraction.Confidence == 0 {
			extraction.Confidence = s.Overall
		}
	}

	// Note: the date is kept as raw text. Validation and OCR repair happen in
	// the recon package, which never defaults an unreadable date to today.

	return extraction, nil
}

// cleanMoney normalizes a money string; "0" and "0.00" are kept as-is since a
// zero total is meaningful to the completeness check.
func cleanMoney(f flexString) string {
	s := strings.TrimSpace(string(f))
	if s == "" {
		return ""
	}
	// Drop a leading currency marker ("$", "TT$", "USD") if present
	s = strings.TrimSpace(strings.TrimLeft(s, "$TUSD"))
	if s == "" {
		return ""
	}
	if _, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
		return strings.ReplaceAll(s, ",", "")
	}
	return strings.TrimSpace(string(f))
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
