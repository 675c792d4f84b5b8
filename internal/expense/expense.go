package expense

import "time"

// Expense is one ledger entry, either finalized from a capture session or
// entered by hand. Money is in cents.
type Expense struct {
	ID              string    `json:"id"`
	FamilyID        string    `json:"family_id"`
	Description     string    `json:"description"`
	Place           string    `json:"place"`
	Date            time.Time `json:"date"` // zero when no usable date was read
	Amount          int64     `json:"amount"`
	Subtotal        int64     `json:"subtotal,omitempty"`
	Tax             int64     `json:"tax,omitempty"`
	Discount        int64     `json:"discount,omitempty"`
	PaymentMethod   string    `json:"payment_method,omitempty"`
	StoreName       string    `json:"store_name,omitempty"`
	StoreAddress    string    `json:"store_address,omitempty"`
	StorePhone      string    `json:"store_phone,omitempty"`
	ReceiptNumber   string    `json:"receipt_number,omitempty"`
	TransactionTime string    `json:"transaction_time,omitempty"`
	Confidence      float64   `json:"confidence,omitempty"`
	DateConfidence  float64   `json:"date_confidence,omitempty"`
	DateNotes       []string  `json:"date_notes,omitempty"`
	ScanError       string    `json:"scan_error,omitempty"`
	Source          string    `json:"source"` // "scanned" or "manual"
	Images          []Image   `json:"images,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Image is one stored receipt photo backing an expense.
type Image struct {
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
}

// LineItem is one purchased item, persisted separately from its expense and
// keyed by the expense ID assigned at insert.
type LineItem struct {
	ExpenseID   string  `json:"expense_id"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   int64   `json:"unit_price"`
	TotalPrice  int64   `json:"total_price"`
	Confidence  float64 `json:"confidence"`
}
