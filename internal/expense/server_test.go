package expense

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/castara/expense-tracker/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(db, scanner, storage,
			&sequentialIDGenerator{}, &stubTimeSource{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.Local)})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = &mockScanner{}
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleStartSession", func() {
		It("creates a session", func() {
			body, _ := json.Marshal(map[string]string{"family_id": "fam-1"})
			resp, err := http.Post(ghttpServer.URL()+"/api/sessions", "application/json", bytes.NewBuffer(body))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var session CaptureSession
			Expect(json.NewDecoder(resp.Body).Decode(&session)).To(Succeed())
			Expect(session.ID).NotTo(BeEmpty())
			Expect(session.FamilyID).To(Equal("fam-1"))
		})

		It("rejects an invalid body", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/sessions", "application/json", bytes.NewBufferString("not json"))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleAddPage", func() {
		var sessionID string

		BeforeEach(func() {
			sessionID = service.StartSession("fam-1").ID
		})

		uploadTo := func(id string) *http.Response {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, _ := writer.CreateFormFile("file", "receipt.jpg")
			part.Write([]byte("fake image data"))
			writer.Close()

			resp, err := http.Post(ghttpServer.URL()+"/api/sessions/"+id+"/pages", writer.FormDataContentType(), &b)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("the upload succeeds", func() {
			BeforeEach(func() {
				scanner.results = []*scanning.Extraction{{Amount: "7.42", Confidence: 0.9}}
			})

			It("returns the page judgment", func() {
				resp := uploadTo(sessionID)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var result PageResult
				Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
				Expect(result.PageNumber).To(Equal(1))
				Expect(result.Partial).To(BeFalse())
			})
		})

		When("the session does not exist", func() {
			It("returns status Bad Request", func() {
				resp := uploadTo("nonexistent")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("no file is provided", func() {
			It("returns status Bad Request with a message", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				writer.Close()

				resp, err := http.Post(ghttpServer.URL()+"/api/sessions/"+sessionID+"/pages", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("file"))
			})
		})

		When("the multipart form is invalid", func() {
			It("returns status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/sessions/"+sessionID+"/pages", "multipart/form-data", bytes.NewBufferString("invalid"))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleFinalizeSession", func() {
		When("the session has a scanned page", func() {
			var sessionID string

			BeforeEach(func() {
				scanner.results = []*scanning.Extraction{{Amount: "7.42", Confidence: 0.9}}
				sessionID = service.StartSession("fam-1").ID
				_, err := service.AddPage(sessionID, "receipt.jpg", []byte("img"), "image/jpeg")
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns the saved expense", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/sessions/"+sessionID+"/finalize", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var result FinalizeResult
				Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
				Expect(result.Expense.Amount).To(Equal(int64(742)))
				Expect(result.Complete).To(BeTrue())
			})
		})

		When("the session does not exist", func() {
			It("returns status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/sessions/nonexistent/finalize", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleCancelSession", func() {
		It("discards an open session", func() {
			sessionID := service.StartSession("fam-1").ID

			req, _ := http.NewRequest("DELETE", ghttpServer.URL()+"/api/sessions/"+sessionID, nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})

		It("returns status Not Found for an unknown session", func() {
			req, _ := http.NewRequest("DELETE", ghttpServer.URL()+"/api/sessions/nonexistent", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleListExpenses", func() {
		BeforeEach(func() {
			db.expenses["a"] = &Expense{ID: "a", FamilyID: "fam-1", Description: "Groceries"}
			db.expenses["b"] = &Expense{ID: "b", FamilyID: "fam-2", Description: "Fuel"}
		})

		It("returns all expenses", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var expenses []*Expense
			Expect(json.NewDecoder(resp.Body).Decode(&expenses)).To(Succeed())
			Expect(expenses).To(HaveLen(2))
		})

		It("filters by family", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses?family=fam-2")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var expenses []*Expense
			Expect(json.NewDecoder(resp.Body).Decode(&expenses)).To(Succeed())
			Expect(expenses).To(HaveLen(1))
			Expect(expenses[0].ID).To(Equal("b"))
		})

		It("returns an empty array when nothing matches", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses?family=fam-9")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("[]"))
		})

		When("the service returns an error", func() {
			BeforeEach(func() {
				db.listErr = fmt.Errorf("db closed")
			})

			It("returns status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleCreateExpense", func() {
		It("saves a manual expense and reports the duplicate screen", func() {
			body, _ := json.Marshal(map[string]any{
				"family_id":   "fam-1",
				"description": "Water bill",
				"amount":      15000,
			})
			resp, err := http.Post(ghttpServer.URL()+"/api/expenses", "application/json", bytes.NewBuffer(body))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var response struct {
				Expense    *Expense       `json:"expense"`
				Duplicates DuplicateCheck `json:"duplicates"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&response)).To(Succeed())
			Expect(response.Expense.ID).NotTo(BeEmpty())
			Expect(response.Expense.Source).To(Equal("manual"))
			Expect(response.Duplicates.HasDuplicates).To(BeFalse())
		})

		It("rejects an expense without a description", func() {
			body, _ := json.Marshal(map[string]any{"family_id": "fam-1"})
			resp, err := http.Post(ghttpServer.URL()+"/api/expenses", "application/json", bytes.NewBuffer(body))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects an invalid body", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/expenses", "application/json", bytes.NewBufferString("not json"))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleGetExpense", func() {
		BeforeEach(func() {
			db.expenses["exp-1"] = &Expense{ID: "exp-1", Description: "Groceries"}
		})

		It("returns the expense", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/exp-1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var got Expense
			Expect(json.NewDecoder(resp.Body).Decode(&got)).To(Succeed())
			Expect(got.Description).To(Equal("Groceries"))
		})

		It("returns status Not Found for an unknown expense", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/nonexistent")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleGetLineItems", func() {
		BeforeEach(func() {
			db.expenses["exp-1"] = &Expense{ID: "exp-1"}
			db.lineItems["exp-1"] = []LineItem{
				{ExpenseID: "exp-1", Description: "Milk", TotalPrice: 350},
			}
		})

		It("returns the ordered items", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/exp-1/items")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var items []LineItem
			Expect(json.NewDecoder(resp.Body).Decode(&items)).To(Succeed())
			Expect(items).To(HaveLen(1))
			Expect(items[0].Description).To(Equal("Milk"))
		})
	})

	Describe("handleGetExpenseFile", func() {
		BeforeEach(func() {
			storage.files["img1.jpg"] = []byte("file content")
			db.expenses["exp-1"] = &Expense{
				ID:     "exp-1",
				Images: []Image{{Path: "img1.jpg", ContentType: "image/jpeg"}},
			}
		})

		It("returns the stored image with its content type", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/exp-1/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("file content"))
		})

		It("returns status Not Found when no images exist", func() {
			db.expenses["exp-2"] = &Expense{ID: "exp-2"}
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/exp-2/file")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleDeleteExpense", func() {
		BeforeEach(func() {
			db.expenses["exp-1"] = &Expense{ID: "exp-1"}
		})

		It("returns status No Content", func() {
			req, _ := http.NewRequest("DELETE", ghttpServer.URL()+"/api/expenses/exp-1", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.expenses).NotTo(HaveKey("exp-1"))
		})
	})

	Describe("handleDetectDuplicates", func() {
		BeforeEach(func() {
			db.expenses["a"] = &Expense{ID: "a", FamilyID: "fam-1", Amount: 742, Place: "Massy Stores",
				Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)}
			db.expenses["b"] = &Expense{ID: "b", FamilyID: "fam-1", Amount: 742, Place: "Massy Stores",
				Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)}
		})

		It("requires a family parameter", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/duplicates")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns the family's duplicate groups", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/duplicates?family=fam-1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var response struct {
				HasDuplicates   bool              `json:"has_duplicates"`
				DuplicateGroups []json.RawMessage `json:"duplicate_groups"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&response)).To(Succeed())
			Expect(response.HasDuplicates).To(BeTrue())
			Expect(response.DuplicateGroups).To(HaveLen(1))
		})

		It("reports an empty array for a clean family", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/duplicates?family=fam-9")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`"has_duplicates":false`))
			Expect(string(body)).To(ContainSubstring(`"duplicate_groups":[]`))
		})
	})

	Describe("authenticate", func() {
		When("no auth is configured", func() {
			It("should return true", func() {
				req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/expenses", nil)
				Expect(server.authenticate(req)).To(BeTrue())
			})
		})

		When("auth is configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
				setupServer()
			})

			It("accepts valid credentials", func() {
				req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/expenses", nil)
				credentials := base64.StdEncoding.EncodeToString([]byte("user:pass"))
				req.Header.Set("Authorization", "Basic "+credentials)
				Expect(server.authenticate(req)).To(BeTrue())
			})

			It("rejects wrong credentials", func() {
				req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/expenses", nil)
				credentials := base64.StdEncoding.EncodeToString([]byte("user:wrong"))
				req.Header.Set("Authorization", "Basic "+credentials)
				Expect(server.authenticate(req)).To(BeFalse())
			})

			It("rejects requests without a header", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).NotTo(BeEmpty())
			})
		})
	})
})
