package scanning

// LineItem is a single purchased item read off a receipt. Money fields are
// decimal text exactly as printed; an empty string means the field was not read.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   string  `json:"unit_price"`
	TotalPrice  string  `json:"total_price"`
	Confidence  float64 `json:"confidence"`
}

// StoreDetails holds merchant identity fields from the receipt header.
type StoreDetails struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// ConfidenceSummary is the per-field confidence breakdown, each value in [0,1].
type ConfidenceSummary struct {
	Overall   float64 `json:"overall"`
	LineItems float64 `json:"line_items"`
	Total     float64 `json:"total"`
	Date      float64 `json:"date"`
	Merchant  float64 `json:"merchant"`
}

// Extraction is the structured result of scanning one receipt page. Every
// field is optional: empty strings, empty slices and nil pointers mean the
// scanner did not read that field. When Error is set the other fields are
// best-effort and must be kept so the user can correct them by hand.
type Extraction struct {
	Amount            string             `json:"amount"`
	Date              string             `json:"date"` // raw text, validated downstream
	Description       string             `json:"description"`
	Place             string             `json:"place"`
	LineItems         []LineItem         `json:"line_items"`
	Subtotal          string             `json:"subtotal"`
	Tax               string             `json:"tax"`
	Discount          string             `json:"discount"`
	PaymentMethod     string             `json:"payment_method"`
	StoreDetails      *StoreDetails      `json:"store_details,omitempty"`
	ReceiptNumber     string             `json:"receipt_number"`
	TransactionTime   string             `json:"transaction_time"`
	Confidence        float64            `json:"confidence"`
	ConfidenceSummary *ConfidenceSummary `json:"confidence_summary,omitempty"`
	Error             string             `json:"error,omitempty"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts its fields
	ScanReceipt(imageData []byte, contentType string) (*Extraction, error)
	// Close closes the scanner and releases resources
	Close() error
}
