package expense

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	expenseBucketName  = "expenses"
	lineItemBucketName = "line_items"
)

// DB defines the interface for database operations
type DB interface {
	// SaveExpense saves an expense to the database
	SaveExpense(expense *Expense) error

	// GetExpense retrieves an expense by ID
	GetExpense(id string) (*Expense, error)

	// ListExpenses returns all expenses
	ListExpenses() ([]*Expense, error)

	// ListFamilyExpenses returns all expenses for one family
	ListFamilyExpenses(familyID string) ([]*Expense, error)

	// DeleteExpense removes an expense from the database
	DeleteExpense(id string) error

	// SaveLineItems stores the ordered line items for an expense
	SaveLineItems(expenseID string, items []LineItem) error

	// GetLineItems returns the ordered line items for an expense
	GetLineItems(expenseID string) ([]LineItem, error)

	// DeleteLineItems removes an expense's line items
	DeleteLineItems(expenseID string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(expenseBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(lineItemBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveExpense saves an expense to the database
func (b *BoltDB) SaveExpense(expense *Expense) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data, err := json.Marshal(expense)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		return bucket.Put([]byte(expense.ID), data)
	})
}

// GetExpense retrieves an expense by ID
func (b *BoltDB) GetExpense(id string) (*Expense, error) {
	var expense *Expense
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("expense not found: %s", id)
		}
		return json.Unmarshal(data, &expense)
	})
	if err != nil {
		return nil, err
	}
	return expense, nil
}

// ListExpenses returns all expenses
func (b *BoltDB) ListExpenses() ([]*Expense, error) {
	expenses := make([]*Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var expense Expense
			if err := json.Unmarshal(v, &expense); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			expenses = append(expenses, &expense)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// ListFamilyExpenses returns all expenses belonging to one family
func (b *BoltDB) ListFamilyExpenses(familyID string) ([]*Expense, error) {
	expenses := make([]*Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var expense Expense
			if err := json.Unmarshal(v, &expense); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			if expense.FamilyID == familyID {
				expenses = append(expenses, &expense)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// DeleteExpense removes an expense from the database
func (b *BoltDB) DeleteExpense(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		return bucket.Delete([]byte(id))
	})
}

// SaveLineItems stores the ordered line items for an expense under one key
func (b *BoltDB) SaveLineItems(expenseID string, items []LineItem) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(lineItemBucketName))
		data, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("marshaling line items: %w", err)
		}
		return bucket.Put([]byte(expenseID), data)
	})
}

// GetLineItems returns the ordered line items for an expense
func (b *BoltDB) GetLineItems(expenseID string) ([]LineItem, error) {
	items := make([]LineItem, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(lineItemBucketName))
		data := bucket.Get([]byte(expenseID))
		if data == nil {
			return nil // no items is not an error
		}
		return json.Unmarshal(data, &items)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteLineItems removes an expense's line items
func (b *BoltDB) DeleteLineItems(expenseID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(lineItemBucketName))
		return bucket.Delete([]byte(expenseID))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
