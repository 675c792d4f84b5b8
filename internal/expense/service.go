package expense

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castara/expense-tracker/internal/recon"
	"github.com/castara/expense-tracker/internal/scanning"
)

// IDGenerator generates unique IDs for expenses and capture sessions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.New().String()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service drives the capture-session flow and expense persistence
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	dates       *recon.DateValidator

	mu       sync.Mutex
	sessions map[string]*CaptureSession
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner scanning.Scanner, storage Storage) *Service {
	return NewServiceWithDeps(db, scanner, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		dates:       recon.NewDateValidatorWithTime(timeSrc),
		sessions:    make(map[string]*CaptureSession),
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	// Phone-generated filenames can be absurdly long
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// PageResult is returned after scanning one page, ready for the UI to show
// the partial/complete judgment and any date concerns.
type PageResult struct {
	PageNumber int                 `json:"page_number"`
	Extraction scanning.Extraction `json:"extraction"`
	DateCheck  recon.DateResult    `json:"date_check"`
	Partial    bool                `json:"partial"`
	Reason     string              `json:"reason,omitempty"`
	Warning    string              `json:"warning,omitempty"`
}

// DuplicateCheck is the outcome of the pre-submit duplicate screen.
type DuplicateCheck struct {
	HasDuplicates   bool                   `json:"has_duplicates"`
	DuplicateGroups []recon.DuplicateGroup `json:"duplicate_groups,omitempty"`
}

// FinalizeResult is the saved expense plus the reconciliation verdicts the UI
// presents before moving on.
type FinalizeResult struct {
	Expense    *Expense       `json:"expense"`
	LineItems  []LineItem     `json:"line_items"`
	Complete   bool           `json:"complete"`
	Duplicates DuplicateCheck `json:"duplicates"`
}

// StartSession opens a new capture session for a family
func (s *Service) StartSession(familyID string) *CaptureSession {
	session := &CaptureSession{
		ID:        s.idGenerator.Generate(),
		FamilyID:  familyID,
		CreatedAt: s.timeSource.Now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session
}

// GetSession returns a capture session by ID
func (s *Service) GetSession(id string) (*CaptureSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("capture session not found: %s", id)
	}
	return session, nil
}

// CancelSession discards a capture session and its stored page images
func (s *Service) CancelSession(id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("capture session not found: %s", id)
	}

	for _, page := range session.Pages {
		if err := s.storage.Delete(page.ImageRef); err != nil {
			slog.Warn("Failed to delete page image", "path", page.ImageRef, "error", err)
		}
	}
	return nil
}

// AddPage stores one captured image, scans it, and appends the judged page to
// the session. A scanner failure is not fatal: the page is kept with the
// error recorded on its extraction so the user can correct fields by hand,
// exactly as with a successful low-confidence scan.
func (s *Service) AddPage(sessionID, filename string, data []byte, contentType string) (*PageResult, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now()
	pageNumber := len(session.Pages) + 1

	cleanFilename := sanitizeFilename(filename)
	savedPath, err := s.storage.Save(fmt.Sprintf("%s_p%d_%s", session.ID, pageNumber, cleanFilename), data)
	if err != nil {
		return nil, fmt.Errorf("saving page image: %w", err)
	}

	pagesScanned.Inc()
	extraction, err := s.scanner.ScanReceipt(data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt page",
			"session", sessionID,
			"page", pageNumber,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		scanFailures.Inc()
		extraction = &scanning.Extraction{Error: err.Error()}
	}

	dateCheck := s.dates.Validate(extraction.Date, now)
	check := recon.DetectPartial(*extraction)

	page := recon.Page{
		PageNumber: pageNumber,
		Extraction: *extraction,
		ImageRef:   savedPath,
		Partial:    check.Partial,
	}

	s.mu.Lock()
	session.Pages = append(session.Pages, page)
	session.Images = append(session.Images, Image{Path: savedPath, ContentType: contentType})
	s.mu.Unlock()

	return &PageResult{
		PageNumber: pageNumber,
		Extraction: *extraction,
		DateCheck:  dateCheck,
		Partial:    check.Partial,
		Reason:     check.Reason,
		Warning:    check.Warning,
	}, nil
}

// FinalizeSession merges the session's pages into one expense, screens it for
// duplicates, and persists it together with its line items and page images.
func (s *Service) FinalizeSession(sessionID string) (*FinalizeResult, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	merged, err := recon.Merge(session.Pages)
	if err != nil {
		// A merge precondition failure is a bug in the capture flow, not a
		// data-quality problem; surface it loudly.
		return nil, fmt.Errorf("merging session %s: %w", sessionID, err)
	}

	now := s.timeSource.Now()
	dateCheck := s.dates.Validate(merged.Date, session.CreatedAt)

	expense := s.buildExpense(session.FamilyID, merged, dateCheck, now)
	expense.Images = append(expense.Images, session.Images...)

	duplicates := s.CheckForReceiptDuplicates(
		&merged, session.FamilyID, expense.Amount, expense.Description, expense.Place, expense.Date)

	if err := s.db.SaveExpense(expense); err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}

	items := lineItemsForExpense(expense.ID, merged.LineItems)
	if err := s.db.SaveLineItems(expense.ID, items); err != nil {
		return nil, fmt.Errorf("saving line items: %w", err)
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	return &FinalizeResult{
		Expense:    expense,
		LineItems:  items,
		Complete:   recon.IsComplete(merged),
		Duplicates: duplicates,
	}, nil
}

// buildExpense flattens a merged extraction into persistable scalar fields
func (s *Service) buildExpense(familyID string, merged scanning.Extraction, dateCheck recon.DateResult, now time.Time) *Expense {
	expense := &Expense{
		ID:              s.idGenerator.Generate(),
		FamilyID:        familyID,
		Description:     merged.Description,
		Place:           merged.Place,
		PaymentMethod:   merged.PaymentMethod,
		ReceiptNumber:   merged.ReceiptNumber,
		TransactionTime: merged.TransactionTime,
		Confidence:      merged.Confidence,
		DateConfidence:  dateCheck.Confidence,
		DateNotes:       dateCheck.Notes,
		ScanError:       merged.Error,
		Source:          "scanned",
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if expense.Description == "" {
		expense.Description = merged.Place
	}
	if expense.Description == "" {
		expense.Description = "Unknown Expense"
	}

	if cents, ok := recon.ParseCents(merged.Amount); ok {
		expense.Amount = cents
	}
	if cents, ok := recon.ParseCents(merged.Subtotal); ok {
		expense.Subtotal = cents
	}
	if cents, ok := recon.ParseCents(merged.Tax); ok {
		expense.Tax = cents
	}
	if cents, ok := recon.ParseCents(merged.Discount); ok {
		expense.Discount = cents
	}

	if dateCheck.Valid {
		expense.Date = dateCheck.Date
	}

	if merged.StoreDetails != nil {
		expense.StoreName = merged.StoreDetails.Name
		expense.StoreAddress = merged.StoreDetails.Address
		expense.StorePhone = merged.StoreDetails.Phone
	}

	return expense
}

func lineItemsForExpense(expenseID string, items []scanning.LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, item := range items {
		converted := LineItem{
			ExpenseID:   expenseID,
			Description: item.Description,
			Quantity:    item.Quantity,
			Confidence:  item.Confidence,
		}
		if cents, ok := recon.ParseCents(item.UnitPrice); ok {
			converted.UnitPrice = cents
		}
		if cents, ok := recon.ParseCents(item.TotalPrice); ok {
			converted.TotalPrice = cents
		}
		out = append(out, converted)
	}
	return out
}

// candidateID marks the not-yet-saved expense inside a duplicate scan
const candidateID = "__candidate__"

// CheckForReceiptDuplicates screens one not-yet-saved expense against a
// family's history. It never blocks saving: a missed duplicate is
// recoverable, bricking data entry is not, so any internal failure logs and
// reports no duplicates.
func (s *Service) CheckForReceiptDuplicates(extraction *scanning.Extraction, familyID string, amountCents int64, description, place string, date time.Time) (check DuplicateCheck) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Duplicate check failed", "family", familyID, "panic", r)
			check = DuplicateCheck{}
		}
	}()

	existing, err := s.db.ListFamilyExpenses(familyID)
	if err != nil {
		slog.Error("Duplicate check failed", "family", familyID, "error", err)
		return DuplicateCheck{}
	}

	candidate := recon.ExpenseFacts{
		ID:          candidateID,
		AmountCents: amountCents,
		HasAmount:   amountCents != 0,
		Date:        date,
		Description: description,
		Place:       place,
	}
	if extraction != nil {
		candidate.ReceiptNumber = extraction.ReceiptNumber
		if extraction.StoreDetails != nil {
			candidate.StoreAddress = extraction.StoreDetails.Address
		}
	}

	facts := make([]recon.ExpenseFacts, 0, len(existing)+1)
	for _, e := range existing {
		facts = append(facts, expenseFacts(e))
	}
	facts = append(facts, candidate)

	var hits []recon.DuplicateGroup
	for _, group := range recon.DetectDuplicates(facts) {
		if slices.Contains(group.ExpenseIDs, candidateID) {
			hits = append(hits, group)
		}
	}
	if len(hits) == 0 {
		return DuplicateCheck{}
	}

	duplicateGroupsFlagged.Inc()
	return DuplicateCheck{HasDuplicates: true, DuplicateGroups: hits}
}

// DetectDuplicates scans a family's full expense history for clusters of
// likely duplicates.
func (s *Service) DetectDuplicates(familyID string) ([]recon.DuplicateGroup, error) {
	expenses, err := s.db.ListFamilyExpenses(familyID)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}

	facts := make([]recon.ExpenseFacts, 0, len(expenses))
	for _, e := range expenses {
		facts = append(facts, expenseFacts(e))
	}
	return recon.DetectDuplicates(facts), nil
}

func expenseFacts(e *Expense) recon.ExpenseFacts {
	return recon.ExpenseFacts{
		ID:            e.ID,
		AmountCents:   e.Amount,
		HasAmount:     e.Amount != 0,
		Date:          e.Date,
		Description:   e.Description,
		Place:         e.Place,
		ReceiptNumber: e.ReceiptNumber,
		StoreAddress:  e.StoreAddress,
	}
}

// CreateExpense saves a manually entered expense after running the same
// duplicate screen the scanned path uses. Duplicates are reported, not
// enforced; the caller decides whether to keep the entry.
func (s *Service) CreateExpense(expense *Expense, items []LineItem) (*Expense, DuplicateCheck, error) {
	if expense.Description == "" {
		return nil, DuplicateCheck{}, fmt.Errorf("a description is required")
	}

	now := s.timeSource.Now()
	if expense.ID == "" {
		expense.ID = s.idGenerator.Generate()
	}
	if expense.Source == "" {
		expense.Source = "manual"
	}
	expense.CreatedAt = now
	expense.UpdatedAt = now

	duplicates := s.CheckForReceiptDuplicates(
		nil, expense.FamilyID, expense.Amount, expense.Description, expense.Place, expense.Date)

	if err := s.db.SaveExpense(expense); err != nil {
		return nil, DuplicateCheck{}, fmt.Errorf("saving expense: %w", err)
	}

	for i := range items {
		items[i].ExpenseID = expense.ID
	}
	if len(items) > 0 {
		if err := s.db.SaveLineItems(expense.ID, items); err != nil {
			return nil, DuplicateCheck{}, fmt.Errorf("saving line items: %w", err)
		}
	}

	return expense, duplicates, nil
}

// GetExpense retrieves an expense by ID
func (s *Service) GetExpense(id string) (*Expense, error) {
	expense, err := s.db.GetExpense(id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return expense, nil
}

// ListExpenses returns all expenses, or one family's when familyID is set
func (s *Service) ListExpenses(familyID string) ([]*Expense, error) {
	var (
		expenses []*Expense
		err      error
	)
	if familyID == "" {
		expenses, err = s.db.ListExpenses()
	} else {
		expenses, err = s.db.ListFamilyExpenses(familyID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return expenses, nil
}

// GetLineItems returns the ordered line items for an expense
func (s *Service) GetLineItems(expenseID string) ([]LineItem, error) {
	items, err := s.db.GetLineItems(expenseID)
	if err != nil {
		return nil, fmt.Errorf("getting line items: %w", err)
	}
	return items, nil
}

// DeleteExpense removes an expense, its line items, and its stored images
func (s *Service) DeleteExpense(id string) error {
	expense, err := s.db.GetExpense(id)
	if err != nil {
		return fmt.Errorf("getting expense for deletion: %w", err)
	}

	for _, image := range expense.Images {
		if err := s.storage.Delete(image.Path); err != nil {
			slog.Warn("Failed to delete image", "path", image.Path, "error", err)
		}
	}

	if err := s.db.DeleteLineItems(id); err != nil {
		slog.Warn("Failed to delete line items", "expense", id, "error", err)
	}

	if err := s.db.DeleteExpense(id); err != nil {
		return fmt.Errorf("deleting expense from database: %w", err)
	}
	return nil
}

// GetExpenseFile retrieves one stored receipt image for an expense. page is
// 1-based; values out of range fall back to the first image.
func (s *Service) GetExpenseFile(id string, page int) ([]byte, string, error) {
	expense, err := s.db.GetExpense(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting expense: %w", err)
	}
	if len(expense.Images) == 0 {
		return nil, "", fmt.Errorf("expense %s has no stored images", id)
	}

	if page < 1 || page > len(expense.Images) {
		page = 1
	}
	image := expense.Images[page-1]

	data, err := s.storage.Get(image.Path)
	if err != nil {
		return nil, "", fmt.Errorf("getting expense image: %w", err)
	}

	return data, image.ContentType, nil
}
