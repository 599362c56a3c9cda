package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mfeltner/basket/internal/model"
)

// ListStore persists shopping lists as single rows keyed by list UUID. Items
// are stored as a JSON document; revision increases by one on every write and
// orders concurrent updates to the same list.
type ListStore struct {
	db *sql.DB
}

func NewListStore(db *sql.DB) *ListStore {
	return &ListStore{db: db}
}

const listCols = `id, items, revision, created_at, updated_at`

func scanShoppingList(scanner interface{ Scan(...any) error }) (*model.ShoppingList, error) {
	var l model.ShoppingList
	var itemsJSON string
	err := scanner.Scan(&l.ID, &itemsJSON, &l.Revision, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(itemsJSON), &l.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return &l, nil
}

// Fetch returns the list with the given id, or nil if it does not exist.
func (s *ListStore) Fetch(id string) (*model.ShoppingList, error) {
	row := s.db.QueryRow(`SELECT `+listCols+` FROM lists WHERE id = ?`, id)
	l, err := scanShoppingList(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch list: %w", err)
	}
	return l, nil
}

// InsertIfAbsent creates an empty list under the given id if no row exists,
// then returns the stored list. Calling it on an existing id is a no-op read.
func (s *ListStore) InsertIfAbsent(id string) (*model.ShoppingList, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO lists (id, items, revision, created_at, updated_at) VALUES (?, '[]', 1, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert list: %w", err)
	}
	return s.Fetch(id)
}

// ReplaceItems overwrites the list's items wholesale, bumping revision and
// updated_at. It returns the stored list after the write, or nil if the list
// does not exist.
func (s *ListStore) ReplaceItems(id string, items []model.ShoppingItem) (*model.ShoppingList, error) {
	if items == nil {
		items = []model.ShoppingItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}

	result, err := s.db.Exec(
		`UPDATE lists SET items = ?, revision = revision + 1, updated_at = ? WHERE id = ?`,
		string(itemsJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("replace items: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return s.Fetch(id)
}

// Delete removes the list row. Deleting a missing list is not an error.
func (s *ListStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return nil
}
