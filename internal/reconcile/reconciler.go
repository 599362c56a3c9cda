package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mfeltner/basket/internal/model"
	"github.com/mfeltner/basket/internal/websocket"
)

const persistTimeout = 10 * time.Second

// ErrConfirmDelete is returned when decrementing an item already at quantity 1.
// The item is not changed; the caller must ask the user and call ConfirmDelete.
var ErrConfirmDelete = errors.New("quantity is 1: confirm deletion to remove the item")

// ErrItemNotFound is returned when an operation names an item id that is not
// on the list.
var ErrItemNotFound = errors.New("item not found")

// ValidationError rejects a malformed item before any optimistic apply.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RemoteStore is the capability set the reconciler needs from the remote list
// store. Fetch returns nil, nil when the list does not exist. Change
// notifications arrive separately, through ApplyRemoteSnapshot.
type RemoteStore interface {
	Fetch(ctx context.Context, id string) (*model.ShoppingList, error)
	InsertIfAbsent(ctx context.Context, id string) (*model.ShoppingList, error)
	ReplaceItems(ctx context.Context, id string, items []model.ShoppingItem, origin string) (*model.ShoppingList, error)
}

// Reconciler owns one in-memory copy of a shopping list and keeps it
// consistent with a remote copy edited concurrently by other clients. Local
// edits apply synchronously (optimistic) and persist in the background;
// persist failures are surfaced through LastError and never rolled back.
// Remote snapshots replace the items wholesale unless they are stale or an
// echo of this reconciler's own write.
type Reconciler struct {
	listID string
	origin string
	store  RemoteStore
	logger *slog.Logger

	mu          sync.Mutex
	items       []model.ShoppingItem
	lastApplied int64
	lastErr     error

	priceDebounce *Debouncer
	persists      sync.WaitGroup
}

// New creates a Reconciler for the given list. The origin is a fresh session
// id used to tag outgoing writes and recognize echoes on the change feed.
func New(listID string, store RemoteStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		listID:        listID,
		origin:        uuid.NewString(),
		store:         store,
		logger:        logger,
		priceDebounce: NewDebouncer(500 * time.Millisecond),
	}
}

// Origin returns the session id tagging this reconciler's writes.
func (r *Reconciler) Origin() string {
	return r.origin
}

// Load fetches the list from the remote store. A missing list is not a
// failure: it falls back to inserting an empty list under the requested id,
// so loading a share URL always resolves.
func (r *Reconciler) Load(ctx context.Context) error {
	list, err := r.store.Fetch(ctx, r.listID)
	if err != nil {
		return fmt.Errorf("fetch list: %w", err)
	}
	if list == nil {
		list, err = r.store.InsertIfAbsent(ctx, r.listID)
		if err != nil {
			return fmt.Errorf("create list: %w", err)
		}
	}

	r.mu.Lock()
	r.items = cloneItems(list.Items)
	r.lastApplied = list.Revision
	r.mu.Unlock()
	return nil
}

// ApplyLocalEdit applies a pure transformation to the current items,
// recomputes derived state, and returns once the in-memory copy is updated.
// The new items persist to the remote store in the background; a persist
// failure is recorded in LastError, not rolled back.
func (r *Reconciler) ApplyLocalEdit(mutator func(items []model.ShoppingItem) []model.ShoppingItem) {
	r.mu.Lock()
	r.items = mutator(cloneItems(r.items))
	snapshot := cloneItems(r.items)
	r.mu.Unlock()

	r.persistAsync(snapshot)
}

// ApplyRemoteSnapshot replaces the in-memory items with a change-feed
// snapshot, last-writer-wins. Snapshots from this reconciler's own session and
// snapshots at or below the last applied revision are ignored, not errors:
// they are echoes or stale deliveries that must not overwrite newer local
// edits.
func (r *Reconciler) ApplyRemoteSnapshot(snap websocket.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Origin == r.origin {
		return
	}
	if snap.Revision <= r.lastApplied {
		return
	}
	r.items = cloneItems(snap.Items)
	r.lastApplied = snap.Revision
}

// AddItem inserts a new item, unless an unchecked item already has the same
// name (case-insensitive exact match), in which case the existing item is
// returned with inserted=false so the caller can surface it instead. Checked
// items do not block insertion.
func (r *Reconciler) AddItem(name string, price float64, quantity int) (item model.ShoppingItem, inserted bool, err error) {
	name = strings.TrimSpace(name)
	if err := validateItem(name, price, quantity); err != nil {
		return model.ShoppingItem{}, false, err
	}

	r.mu.Lock()
	if existing := findUnchecked(r.items, name); existing != nil {
		item = *existing
		r.mu.Unlock()
		return item, false, nil
	}

	item = model.ShoppingItem{
		ID:        uuid.NewString(),
		Name:      name,
		Price:     price,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}
	r.items = append(r.items, item)
	snapshot := cloneItems(r.items)
	r.mu.Unlock()

	r.persistAsync(snapshot)
	return item, true, nil
}

// UpdateItem replaces an item's name, price, and quantity.
func (r *Reconciler) UpdateItem(id, name string, price float64, quantity int) error {
	name = strings.TrimSpace(name)
	if err := validateItem(name, price, quantity); err != nil {
		return err
	}
	return r.mutateItem(id, func(it *model.ShoppingItem) error {
		it.Name = name
		it.Price = price
		it.Quantity = quantity
		return nil
	})
}

// IncrementQuantity adds one to the item's quantity.
func (r *Reconciler) IncrementQuantity(id string) error {
	return r.mutateItem(id, func(it *model.ShoppingItem) error {
		it.Quantity++
		return nil
	})
}

// DecrementQuantity subtracts one from the item's quantity. At quantity 1 the
// item is left untouched and ErrConfirmDelete is returned; removal only
// happens through ConfirmDelete, never silently.
func (r *Reconciler) DecrementQuantity(id string) error {
	return r.mutateItem(id, func(it *model.ShoppingItem) error {
		if it.Quantity <= 1 {
			return ErrConfirmDelete
		}
		it.Quantity--
		return nil
	})
}

// ConfirmDelete removes the item after the caller confirmed a deletion
// request raised by DecrementQuantity.
func (r *Reconciler) ConfirmDelete(id string) error {
	r.mu.Lock()
	idx := indexOf(r.items, id)
	if idx < 0 {
		r.mu.Unlock()
		return ErrItemNotFound
	}
	r.items = append(r.items[:idx], r.items[idx+1:]...)
	snapshot := cloneItems(r.items)
	r.mu.Unlock()

	r.persistAsync(snapshot)
	return nil
}

// ToggleChecked flips the item's purchased flag.
func (r *Reconciler) ToggleChecked(id string) error {
	return r.mutateItem(id, func(it *model.ShoppingItem) error {
		it.Checked = !it.Checked
		return nil
	})
}

// SetPrice updates an item's price in memory immediately but coalesces the
// remote persist through a per-instance debouncer, so a stream of keystrokes
// produces one write.
func (r *Reconciler) SetPrice(id string, price float64) error {
	if price < 0 {
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	}

	r.mu.Lock()
	idx := indexOf(r.items, id)
	if idx < 0 {
		r.mu.Unlock()
		return ErrItemNotFound
	}
	r.items[idx].Price = price
	r.mu.Unlock()

	r.priceDebounce.Trigger(func() {
		r.mu.Lock()
		snapshot := cloneItems(r.items)
		r.mu.Unlock()
		r.persistAsync(snapshot)
	})
	return nil
}

// Items returns a copy of the current items, newest first.
func (r *Reconciler) Items() []model.ShoppingItem {
	r.mu.Lock()
	items := cloneItems(r.items)
	r.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}

// CurrentTotal returns the derived total of the current items.
func (r *Reconciler) CurrentTotal() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.ItemsTotal(r.items)
}

// LastRevision returns the highest remote revision applied so far.
func (r *Reconciler) LastRevision() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastApplied
}

// LastError returns the most recent background persist failure, if any.
func (r *Reconciler) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Flush waits for in-flight background persists to finish and fires any
// pending debounced write. Intended for shutdown and tests.
func (r *Reconciler) Flush() {
	r.priceDebounce.Flush()
	r.persists.Wait()
}

func (r *Reconciler) mutateItem(id string, fn func(*model.ShoppingItem) error) error {
	r.mu.Lock()
	idx := indexOf(r.items, id)
	if idx < 0 {
		r.mu.Unlock()
		return ErrItemNotFound
	}
	if err := fn(&r.items[idx]); err != nil {
		r.mu.Unlock()
		return err
	}
	snapshot := cloneItems(r.items)
	r.mu.Unlock()

	r.persistAsync(snapshot)
	return nil
}

// persistAsync writes the given items to the remote store in the background.
// There is no automatic retry and no rollback: list edits are idempotent and
// user-correctable, so the failure is recorded for display and the optimistic
// state stands. A superseded in-flight write is not cancelled; the revision
// check in ApplyRemoteSnapshot keeps late echoes from clobbering newer edits.
func (r *Reconciler) persistAsync(items []model.ShoppingItem) {
	r.persists.Add(1)
	go func() {
		defer r.persists.Done()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		list, err := r.store.ReplaceItems(ctx, r.listID, items, r.origin)
		if err != nil {
			r.logger.Warn("persist failed", "list_id", r.listID, "error", err)
			r.mu.Lock()
			r.lastErr = err
			r.mu.Unlock()
			return
		}

		r.mu.Lock()
		r.lastErr = nil
		if list != nil && list.Revision > r.lastApplied {
			r.lastApplied = list.Revision
		}
		r.mu.Unlock()
	}()
}

func validateItem(name string, price float64, quantity int) error {
	if name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if price < 0 {
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if quantity < 1 {
		return &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	return nil
}

// findUnchecked searches unchecked items for a case-insensitive exact name
// match. Checked items are excluded: a purchased "Milk" does not block adding
// a fresh one.
func findUnchecked(items []model.ShoppingItem, name string) *model.ShoppingItem {
	for i := range items {
		if items[i].Checked {
			continue
		}
		if strings.EqualFold(items[i].Name, name) {
			return &items[i]
		}
	}
	return nil
}

func indexOf(items []model.ShoppingItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneItems(items []model.ShoppingItem) []model.ShoppingItem {
	out := make([]model.ShoppingItem, len(items))
	copy(out, items)
	return out
}
