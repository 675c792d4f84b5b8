package expense

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveExpense", func() {
		var (
			expense *Expense
			err     error
		)

		BeforeEach(func() {
			expense = &Expense{
				ID:          "test-id",
				FamilyID:    "fam-1",
				Description: "Groceries",
				Place:       "Massy Stores",
				Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				Amount:      742,
				Source:      "scanned",
				CreatedAt:   time.Now(),
				UpdatedAt:   time.Now(),
			}
		})

		JustBeforeEach(func() {
			err = db.SaveExpense(expense)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should save the expense to the database", func() {
				saved, getErr := db.GetExpense("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.ID).To(Equal("test-id"))
				Expect(saved.Amount).To(Equal(int64(742)))
			})
		})
	})

	Describe("GetExpense", func() {
		var (
			expenseID string
			expense   *Expense
			err       error
		)

		JustBeforeEach(func() {
			expense, err = db.GetExpense(expenseID)
		})

		When("the expense exists", func() {
			BeforeEach(func() {
				expenseID = "test-id"
				Expect(db.SaveExpense(&Expense{
					ID:          "test-id",
					FamilyID:    "fam-1",
					Description: "Groceries",
					Amount:      742,
					CreatedAt:   time.Now(),
					UpdatedAt:   time.Now(),
				})).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the correct expense", func() {
				Expect(expense.Description).To(Equal("Groceries"))
				Expect(expense.FamilyID).To(Equal("fam-1"))
			})
		})

		When("the expense does not exist", func() {
			var expectedErr error

			BeforeEach(func() {
				expenseID = "nonexistent"
				expectedErr = errors.New("expense not found: nonexistent")
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(expectedErr))
			})
		})
	})

	Describe("ListFamilyExpenses", func() {
		var (
			expenses []*Expense
			err      error
		)

		JustBeforeEach(func() {
			expenses, err = db.ListFamilyExpenses("fam-1")
		})

		When("expenses from several families exist", func() {
			BeforeEach(func() {
				Expect(db.SaveExpense(&Expense{ID: "a", FamilyID: "fam-1", Description: "Groceries"})).NotTo(HaveOccurred())
				Expect(db.SaveExpense(&Expense{ID: "b", FamilyID: "fam-1", Description: "Fuel"})).NotTo(HaveOccurred())
				Expect(db.SaveExpense(&Expense{ID: "c", FamilyID: "fam-2", Description: "Pharmacy"})).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return only the family's expenses", func() {
				Expect(expenses).To(HaveLen(2))
			})
		})

		When("no expenses exist", func() {
			It("should return an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(expenses).To(BeEmpty())
			})
		})
	})

	Describe("DeleteExpense", func() {
		When("the expense exists", func() {
			BeforeEach(func() {
				Expect(db.SaveExpense(&Expense{ID: "test-id", Description: "Groceries"})).NotTo(HaveOccurred())
			})

			It("should remove the expense from the database", func() {
				Expect(db.DeleteExpense("test-id")).NotTo(HaveOccurred())
				_, getErr := db.GetExpense("test-id")
				Expect(getErr).To(HaveOccurred())
			})
		})

		When("the expense does not exist", func() {
			It("should not return an error", func() {
				Expect(db.DeleteExpense("nonexistent")).NotTo(HaveOccurred())
			})
		})
	})

	Describe("line items", func() {
		var items []LineItem

		BeforeEach(func() {
			items = []LineItem{
				{ExpenseID: "exp-1", Description: "Milk", Quantity: 2, UnitPrice: 350, TotalPrice: 700, Confidence: 0.95},
				{ExpenseID: "exp-1", Description: "Bread", Quantity: 1, TotalPrice: 350, Confidence: 0.9},
			}
		})

		It("round-trips the ordered items", func() {
			Expect(db.SaveLineItems("exp-1", items)).NotTo(HaveOccurred())

			got, err := db.GetLineItems("exp-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(items))
		})

		It("returns an empty list for an expense without items", func() {
			got, err := db.GetLineItems("exp-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})

		It("deletes an expense's items", func() {
			Expect(db.SaveLineItems("exp-1", items)).NotTo(HaveOccurred())
			Expect(db.DeleteLineItems("exp-1")).NotTo(HaveOccurred())

			got, err := db.GetLineItems("exp-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())
		})
	})

	Describe("Close", func() {
		It("should not return an error", func() {
			Expect(db.Close()).NotTo(HaveOccurred())
		})
	})
})
