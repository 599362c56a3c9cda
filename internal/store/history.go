package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mfeltner/basket/internal/model"
)

// HistoryStore keeps snapshots of completed lists. Entries are immutable once
// saved and removed only by explicit user action.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Save(name string, items []model.ShoppingItem) (*model.SavedList, error) {
	if items == nil {
		items = []model.ShoppingItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}

	now := time.Now().UTC()
	total := model.ItemsTotal(items)
	result, err := s.db.Exec(
		`INSERT INTO saved_lists (name, items, total, saved_at) VALUES (?, ?, ?, ?)`,
		name, string(itemsJSON), total, now,
	)
	if err != nil {
		return nil, fmt.Errorf("save list: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return &model.SavedList{
		ID:      id,
		Name:    name,
		Items:   items,
		Total:   total,
		SavedAt: now,
	}, nil
}

func (s *HistoryStore) List() ([]model.SavedList, error) {
	rows, err := s.db.Query(`SELECT id, name, items, total, saved_at FROM saved_lists ORDER BY saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var saved []model.SavedList
	for rows.Next() {
		var sl model.SavedList
		var itemsJSON string
		if err := rows.Scan(&sl.ID, &sl.Name, &itemsJSON, &sl.Total, &sl.SavedAt); err != nil {
			return nil, fmt.Errorf("scan saved list: %w", err)
		}
		if err := json.Unmarshal([]byte(itemsJSON), &sl.Items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		saved = append(saved, sl)
	}
	return saved, rows.Err()
}

func (s *HistoryStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM saved_lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete saved list: %w", err)
	}
	return nil
}
