package model

import (
	"math"
	"time"
)

// ShoppingItem is a single entry on a shopping list. The ID is assigned at
// creation and never changes; Price is the unit price and Quantity is always
// at least 1.
type ShoppingItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Quantity  int       `json:"quantity"`
	Checked   bool      `json:"checked"`
	CreatedAt time.Time `json:"created_at"`
}

// Subtotal returns price times quantity for this item.
func (i ShoppingItem) Subtotal() float64 {
	return i.Price * float64(i.Quantity)
}

// ShoppingList is one shared list row. Revision and UpdatedAt are assigned by
// the server on every write and order concurrent updates; Total is always
// derived from Items and never stored.
type ShoppingList struct {
	ID        string         `json:"id"`
	Items     []ShoppingItem `json:"items"`
	Revision  int64          `json:"revision"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Total returns the sum of price x quantity over all items, rounded to cents.
func (l *ShoppingList) Total() float64 {
	return ItemsTotal(l.Items)
}

// ItemsTotal computes the derived total for an item collection.
func ItemsTotal(items []ShoppingItem) float64 {
	var sum float64
	for _, it := range items {
		sum += it.Subtotal()
	}
	return math.Round(sum*100) / 100
}

// SavedList is a history snapshot of a completed list.
type SavedList struct {
	ID      int64          `json:"id"`
	Name    string         `json:"name"`
	Items   []ShoppingItem `json:"items"`
	Total   float64        `json:"total"`
	SavedAt time.Time      `json:"saved_at"`
}
