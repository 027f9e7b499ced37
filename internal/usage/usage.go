// Package usage meters generation tokens per user per calendar month.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/model"
)

// Allowance is the answer to "may this user make another provider call".
type Allowance struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Event is one provider call to record.
type Event struct {
	UserID       string
	WorkspaceID  string
	Operation    string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Meter checks and records usage against a monthly token limit.
// A limit of 0 means unlimited.
type Meter struct {
	db    *sql.DB
	limit int64
	now   func() time.Time
}

// NewMeter returns a Meter over database.
func NewMeter(database *sql.DB, monthlyTokenLimit int64) *Meter {
	return &Meter{db: database, limit: monthlyTokenLimit, now: time.Now}
}

// CheckAllowed reports whether userID is under this month's limit.
func (m *Meter) CheckAllowed(ctx context.Context, userID string) (Allowance, error) {
	if m.limit <= 0 {
		return Allowance{Allowed: true}, nil
	}
	used, err := db.SumTokensSince(ctx, m.db, userID, MonthStart(m.now()).Unix())
	if err != nil {
		return Allowance{}, err
	}
	if used >= m.limit {
		return Allowance{
			Allowed: false,
			Reason:  fmt.Sprintf("monthly token allowance exhausted (%d of %d used)", used, m.limit),
		}, nil
	}
	return Allowance{Allowed: true}, nil
}

// LogUsage records one provider call.
func (m *Meter) LogUsage(ctx context.Context, e Event) error {
	id, err := model.NewID()
	if err != nil {
		return err
	}
	return db.InsertUsageEvent(ctx, m.db, &model.UsageEvent{
		ID:           id,
		UserID:       e.UserID,
		WorkspaceID:  e.WorkspaceID,
		Operation:    e.Operation,
		Model:        e.Model,
		InputTokens:  e.InputTokens,
		OutputTokens: e.OutputTokens,
		CreatedAt:    m.now().Unix(),
	})
}

// MonthStart returns 00:00 UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
