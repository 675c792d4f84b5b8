package expense

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/castara/expense-tracker/internal/recon"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// handleStartSession opens a capture session for a family
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FamilyID string `json:"family_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session := s.service.StartSession(req.FamilyID)
	writeJSON(w, http.StatusCreated, session)
}

// handleAddPage accepts one receipt photo for a session, scans it, and
// returns the page judgment
func (s *Server) handleAddPage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	// 50MB to handle high-resolution phone photos
	maxFormSize := int64(50 << 20)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeJSONError(w, http.StatusBadRequest, errorMsg)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if err.Error() == "http: no such file" {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeJSONError(w, http.StatusBadRequest, errorMsg)
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		writeJSONError(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)

	result, err := s.service.AddPage(id, header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error adding page", "session", id, "filename", header.Filename, "error", err)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// detectContentType falls back to the file extension for clients that omit
// the part's content type, preserving HEIC/HEIF so conversion can detect it
func detectContentType(contentType, filename string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleFinalizeSession merges a session's pages into one saved expense
func (s *Server) handleFinalizeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	result, err := s.service.FinalizeSession(id)
	if err != nil {
		slog.Error("Error finalizing session", "session", id, "error", err)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleCancelSession discards a capture session
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	if err := s.service.CancelSession(id); err != nil {
		corsError(w, "Session not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListExpenses returns expenses, optionally filtered by family
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(r.URL.Query().Get("family"))
	if err != nil {
		slog.Error("Error listing expenses", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if expenses == nil {
		expenses = []*Expense{}
	}
	writeJSON(w, http.StatusOK, expenses)
}

// handleCreateExpense saves a manually entered expense; the response carries
// the duplicate screen result for the UI to warn with
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FamilyID      string     `json:"family_id"`
		Description   string     `json:"description"`
		Place         string     `json:"place"`
		Date          time.Time  `json:"date"`
		Amount        int64      `json:"amount"`
		PaymentMethod string     `json:"payment_method"`
		ReceiptNumber string     `json:"receipt_number"`
		LineItems     []LineItem `json:"line_items"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	expense := &Expense{
		FamilyID:      req.FamilyID,
		Description:   req.Description,
		Place:         req.Place,
		Date:          req.Date,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		ReceiptNumber: req.ReceiptNumber,
		Source:        "manual",
	}

	saved, duplicates, err := s.service.CreateExpense(expense, req.LineItems)
	if err != nil {
		slog.Error("Error creating expense", "error", err)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"expense":    saved,
		"duplicates": duplicates,
	})
}

// handleGetExpense returns a single expense
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Expense ID required", http.StatusBadRequest)
		return
	}
	expense, err := s.service.GetExpense(id)
	if err != nil {
		corsError(w, "Expense not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, expense)
}

// handleGetLineItems returns the ordered line items for an expense
func (s *Server) handleGetLineItems(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Expense ID required", http.StatusBadRequest)
		return
	}
	items, err := s.service.GetLineItems(id)
	if err != nil {
		corsError(w, "Expense not found", http.StatusNotFound)
		return
	}

	if items == nil {
		items = []LineItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleGetExpenseFile returns a stored receipt image
func (s *Server) handleGetExpenseFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Expense ID required", http.StatusBadRequest)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	data, contentType, err := s.service.GetExpenseFile(id, page)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteExpense deletes an expense
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Expense ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteExpense(id); err != nil {
		corsError(w, "Error deleting expense", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDetectDuplicates runs the batch duplicate scan for a family
func (s *Server) handleDetectDuplicates(w http.ResponseWriter, r *http.Request) {
	familyID := r.URL.Query().Get("family")
	if familyID == "" {
		corsError(w, "family query parameter required", http.StatusBadRequest)
		return
	}

	groups, err := s.service.DetectDuplicates(familyID)
	if err != nil {
		slog.Error("Error detecting duplicates", "family", familyID, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if groups == nil {
		groups = []recon.DuplicateGroup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"has_duplicates":   len(groups) > 0,
		"duplicate_groups": groups,
	})
}
