package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nelsonng/tensient/internal/db"
)

func TestMeter_LimitAndMonthBoundary(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	defer database.Close()
	ctx := context.Background()

	m := NewMeter(database, 100)
	clock := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	a, err := m.CheckAllowed(ctx, "u1")
	require.NoError(t, err)
	require.True(t, a.Allowed)

	require.NoError(t, m.LogUsage(ctx, Event{UserID: "u1", WorkspaceID: "ws", Operation: "digest", InputTokens: 80, OutputTokens: 20}))

	a, err = m.CheckAllowed(ctx, "u1")
	require.NoError(t, err)
	require.False(t, a.Allowed)
	require.Contains(t, a.Reason, "100 of 100")

	a, err = m.CheckAllowed(ctx, "u2")
	require.NoError(t, err)
	require.True(t, a.Allowed, "limits are per user")

	clock = time.Date(2026, 4, 1, 0, 30, 0, 0, time.UTC)
	a, err = m.CheckAllowed(ctx, "u1")
	require.NoError(t, err)
	require.True(t, a.Allowed, "a new month resets the allowance")
}

func TestMeter_ZeroLimitIsUnlimited(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	defer database.Close()

	m := NewMeter(database, 0)
	require.NoError(t, m.LogUsage(context.Background(), Event{UserID: "u1", InputTokens: 1 << 30}))
	a, err := m.CheckAllowed(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, a.Allowed)
}

func TestMonthStart(t *testing.T) {
	got := MonthStart(time.Date(2026, 10, 14, 15, 4, 5, 0, time.FixedZone("x", 3600*5)))
	require.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), got)
}
