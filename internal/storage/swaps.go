// Package storage - Swap document CRUD.
// Every mutation is a single atomic statement; callers that need
// precondition checks pass a status in the filter and inspect the
// affected-row count (compare-and-set).
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Swap persistence errors
var (
	ErrSwapNotFound = errors.New("swap not found")
	ErrEmptyFilter  = errors.New("refusing to run an unfiltered mutation")
)

// Status represents the lifecycle status of a swap.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSelected Status = "selected"
	StatusLocked   Status = "locked"
	StatusRefunded Status = "refunded"
	StatusFinished Status = "finished"
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusRefunded || s == StatusFinished
}

// Swap is the persisted swap document.
type Swap struct {
	ID          string `json:"id"`
	Status      Status `json:"status"`
	Source      string `json:"source"`
	Destination string `json:"destination"`

	// Amount in smallest units. Fixed at creation, immutable after.
	Amount uint64 `json:"amount"`

	// ChatID is the offering party. SelectorChatID is zero until the swap
	// is selected.
	ChatID         int64 `json:"chatId"`
	SelectorChatID int64 `json:"selectorChatId,omitempty"`

	// Invoice is empty until the swap is locked.
	Invoice string `json:"invoice,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Filter selects swaps by structural equality on declared fields.
// Zero-valued fields are not part of the predicate.
type Filter struct {
	ID             string
	Status         Status
	ChatID         int64
	SelectorChatID int64
}

// Patch describes a partial update. Nil fields are left unchanged.
type Patch struct {
	Status         *Status
	SelectorChatID *int64
	Invoice        *string
}

// where composes the SQL predicate and args for a filter.
func (f Filter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if f.ID != "" {
		clauses = append(clauses, "id = ?")
		args = append(args, f.ID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ChatID != 0 {
		clauses = append(clauses, "chat_id = ?")
		args = append(args, f.ChatID)
	}
	if f.SelectorChatID != 0 {
		clauses = append(clauses, "selector_chat_id = ?")
		args = append(args, f.SelectorChatID)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

const swapColumns = "id, status, source, destination, amount, chat_id, selector_chat_id, invoice, created_at, updated_at"

// Insert stores a new swap document, assigning its id and timestamps.
func (s *Storage) Insert(swap *Swap) (*Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	swap.ID = uuid.NewString()
	swap.CreatedAt = now
	swap.UpdatedAt = now

	query := `
		INSERT INTO swaps (` + swapColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		swap.ID,
		string(swap.Status),
		swap.Source,
		swap.Destination,
		swap.Amount,
		swap.ChatID,
		nullableInt64(swap.SelectorChatID),
		nullableString(swap.Invoice),
		swap.CreatedAt.Unix(),
		swap.UpdatedAt.Unix(),
	)
	if err != nil {
		return nil, err
	}

	return swap, nil
}

// Find returns swaps matching the filter, newest first, up to limit.
// A limit of 0 means no limit.
func (s *Storage) Find(f Filter, limit int) ([]*Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := f.where()
	query := "SELECT " + swapColumns + " FROM swaps" + where + " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*Swap
	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, swap)
	}

	return swaps, rows.Err()
}

// FindOne returns the single swap matching the filter.
// Returns ErrSwapNotFound when no document matches.
func (s *Storage) FindOne(f Filter) (*Swap, error) {
	swaps, err := s.Find(f, 1)
	if err != nil {
		return nil, err
	}
	if len(swaps) == 0 {
		return nil, ErrSwapNotFound
	}
	return swaps[0], nil
}

// Update applies the patch to all swaps matching the filter and returns the
// affected-document count. Callers enforcing a status precondition must put
// that status in the filter and treat a zero count as a failed precondition.
func (s *Storage) Update(f Filter, p Patch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where, whereArgs := f.where()
	if where == "" {
		return 0, ErrEmptyFilter
	}

	var sets []string
	var args []interface{}

	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.SelectorChatID != nil {
		sets = append(sets, "selector_chat_id = ?")
		args = append(args, *p.SelectorChatID)
	}
	if p.Invoice != nil {
		sets = append(sets, "invoice = ?")
		args = append(args, *p.Invoice)
	}
	if len(sets) == 0 {
		return 0, nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().Unix())
	args = append(args, whereArgs...)

	query := "UPDATE swaps SET " + strings.Join(sets, ", ") + where

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Delete removes all swaps matching the filter and returns the count.
func (s *Storage) Delete(f Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where, args := f.where()
	if where == "" {
		return 0, ErrEmptyFilter
	}

	result, err := s.db.Exec("DELETE FROM swaps"+where, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Helper functions

func nullableInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func scanSwap(rows *sql.Rows) (*Swap, error) {
	var swap Swap
	var selectorChatID sql.NullInt64
	var invoice sql.NullString
	var createdAt, updatedAt int64

	err := rows.Scan(
		&swap.ID,
		&swap.Status,
		&swap.Source,
		&swap.Destination,
		&swap.Amount,
		&swap.ChatID,
		&selectorChatID,
		&invoice,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if selectorChatID.Valid {
		swap.SelectorChatID = selectorChatID.Int64
	}
	if invoice.Valid {
		swap.Invoice = invoice.String
	}
	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)

	return &swap, nil
}
