// Package gamify maintains per-membership streak and traction. It is the
// only writer of those fields.
package gamify

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// DefaultWindow is the largest gap between captures that keeps a streak.
const DefaultWindow = 48 * time.Hour

// Traction moving-average weights.
const (
	RetainWeight = 0.7
	NewWeight    = 0.3
)

const maxAttempts = 32

// Result is the gamification state after one capture.
type Result struct {
	Streak   int     `json:"streak"`
	Traction float64 `json:"traction"`
}

// Update computes the next streak and traction. A nil membership yields
// streak 0; a membership that has never captured starts at 1.
func Update(m *model.Membership, now time.Time, alignment float64, window time.Duration) Result {
	if window <= 0 {
		window = DefaultWindow
	}
	if m == nil {
		return Result{Streak: 0, Traction: nextTraction(0, alignment)}
	}

	streak := 1
	if m.LastCaptureAt != nil {
		gap := now.Sub(time.Unix(*m.LastCaptureAt, 0))
		if gap <= window {
			streak = m.Streak + 1
		}
	}
	return Result{Streak: streak, Traction: nextTraction(m.Traction, alignment)}
}

func nextTraction(traction, alignment float64) float64 {
	if traction == 0 {
		return alignment
	}
	return traction*RetainWeight + alignment*NewWeight
}

// Updater applies Update against the store, serialized per membership by
// an optimistic version check.
type Updater struct {
	db     *sql.DB
	window time.Duration
	logger *zap.Logger
}

// NewUpdater returns an Updater over database.
func NewUpdater(database *sql.DB, window time.Duration, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{db: database, window: window, logger: logger}
}

// Apply records a capture by userID in workspaceID at now with the given
// alignment. A missing membership is created holding the returned state.
func (u *Updater) Apply(ctx context.Context, userID, workspaceID string, now time.Time, alignment float64) (Result, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		current, err := db.GetMembership(ctx, u.db, userID, workspaceID)
		if err != nil {
			return Result{}, err
		}

		res := Update(current, now, alignment, u.window)
		last := now.Unix()

		if current == nil {
			created, err := db.InsertMembership(ctx, u.db, &model.Membership{
				UserID:        userID,
				WorkspaceID:   workspaceID,
				Role:          "member",
				LastCaptureAt: &last,
				Streak:        res.Streak,
				Traction:      res.Traction,
			})
			if err != nil {
				return Result{}, err
			}
			if created {
				return res, nil
			}
			continue
		}

		next := *current
		next.LastCaptureAt = &last
		next.Streak = res.Streak
		next.Traction = res.Traction
		won, err := db.UpdateMembershipIfVersion(ctx, u.db, &next, current.Version)
		if err != nil {
			return Result{}, err
		}
		if won {
			return res, nil
		}
		u.logger.Debug("membership update raced, retrying",
			zap.String("user_id", userID),
			zap.String("workspace_id", workspaceID),
			zap.Int("attempt", attempt))
	}
	return Result{}, errors.NewConflict("membership update kept racing; try again")
}
