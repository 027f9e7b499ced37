package capture

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/lens"
	"github.com/nelsonng/tensient/internal/llm"
	"github.com/nelsonng/tensient/internal/llm/llmtest"
	"github.com/nelsonng/tensient/internal/model"
	"github.com/nelsonng/tensient/internal/schema"
	"github.com/nelsonng/tensient/internal/usage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

const (
	testUser      = "u1"
	testWorkspace = "ws1"
	paymentsText  = "Shipped the login fix, still blocked on payments"
	paymentsGoal  = "Ship payments integration"
)

type fixture struct {
	db    *sql.DB
	emb   *llmtest.Embedder
	gen   *llmtest.Generator
	proc  *Processor
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	f := &fixture{
		db:    database,
		emb:   &llmtest.Embedder{Vectors: map[string][]float32{}, Default: []float32{0, 0, 1}},
		gen:   &llmtest.Generator{InputTokens: 100, OutputTokens: 50},
		clock: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	proc, err := New(Deps{
		DB:        database,
		Embedder:  f.emb,
		Generator: f.gen,
		Lenses:    lens.Static(lens.Defaults()),
		Meter:     usage.NewMeter(database, 0),
	}, config.DefaultConfig())
	require.NoError(t, err)
	proc.now = func() time.Time { return f.clock }
	f.proc = proc
	return f
}

func analysis(pillar *string, items ...schema.ExtractedAction) schema.AnalysisResult {
	if items == nil {
		items = []schema.ExtractedAction{}
	}
	return schema.AnalysisResult{
		SentimentScore:       0.1,
		ActionItems:          items,
		Synthesis:            "Login fix shipped; payments integration blocked.",
		Feedback:             "Name the blocker and its owner.",
		CoachingQuestions:    []model.CoachingQuestion{{Coach: "Operator", Question: "Who can unblock payments?"}},
		AlignmentExplanation: "Payments is a named pillar.",
		GoalPillar:           pillar,
	}
}

func (f *fixture) seedCanon(t *testing.T, vec []float32, pillars ...string) *model.Canon {
	t.Helper()
	content := "Strategy: " + strings.Join(pillars, "; ")
	// CreateCanon embeds the trimmed content.
	f.emb.Vectors[strings.TrimSpace(content)] = vec
	ps := make([]model.Pillar, len(pillars))
	for i, p := range pillars {
		ps[i] = model.Pillar{Title: p}
	}
	c, err := f.proc.CreateCanon(context.Background(), CanonInput{WorkspaceID: testWorkspace, Content: content, Pillars: ps})
	require.NoError(t, err)
	return c
}

func TestProcess_PaymentsScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	canon := f.seedCanon(t, []float32{1, 0, 0}, paymentsGoal, "Reduce churn")

	f.emb.Vectors[paymentsText] = []float32{0.6, 0.8, 0}
	f.emb.Vectors["Unblock the payments integration"] = []float32{1, 0, 0}
	f.emb.Vectors["Ship the login fix"] = []float32{0, 1, 0}
	f.gen.Responses = []any{analysis(model.Ptr(paymentsGoal),
		schema.ExtractedAction{Task: "Unblock the payments integration", Status: model.ActionBlocked},
		schema.ExtractedAction{Task: "Ship the login fix", Status: model.ActionDone},
	)}

	res, err := f.proc.Process(ctx, SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: paymentsText})
	require.NoError(t, err)

	a := res.Artifact
	require.NotNil(t, a.GoalPillar)
	require.Equal(t, paymentsGoal, *a.GoalPillar)
	require.Equal(t, canon.ID, *a.CanonID)
	require.Equal(t, 0, a.Iteration)
	require.Nil(t, a.ParentArtifactID)
	require.InDelta(t, 0.5, a.AlignmentScore, 1e-6)
	require.InDelta(t, 0.5, a.DriftScore, 1e-6)

	require.Len(t, res.Actions, 2)
	blocked := res.Actions[0]
	require.Equal(t, model.ActionBlocked, blocked.Status)
	require.Contains(t, strings.ToLower(blocked.Title), "payments")
	require.Equal(t, model.PriorityHigh, blocked.Priority)
	require.NotNil(t, blocked.GoalID)
	require.Equal(t, canon.ID, *blocked.GoalID)
	require.InDelta(t, 1.0, *blocked.GoalAlignmentScore, 1e-6)
	require.Equal(t, paymentsGoal, *blocked.GoalPillar)

	done := res.Actions[1]
	require.Equal(t, model.PriorityLow, done.Priority)
	require.Nil(t, done.GoalID)
	require.InDelta(t, 0.0, *done.GoalAlignmentScore, 1e-6)

	// First-ever capture: no membership existed yet.
	require.NotNil(t, res.Gamification)
	require.Equal(t, 0, res.Gamification.Streak)
	require.InDelta(t, 0.5, res.Gamification.Traction, 1e-6)

	stored, err := db.GetArtifact(ctx, f.db, testWorkspace, a.ID)
	require.NoError(t, err)
	require.Equal(t, []model.ActionItem{
		{ActionID: blocked.ID, Task: "Unblock the payments integration", Status: model.ActionBlocked},
		{ActionID: done.ID, Task: "Ship the login fix", Status: model.ActionDone},
	}, stored.ActionItems)

	c, err := db.GetCapture(ctx, f.db, testWorkspace, res.Capture.ID)
	require.NoError(t, err)
	require.NotNil(t, c.ProcessedAt)
	require.Equal(t, DefaultSource, c.Source)

	reqs := f.gen.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "capture_analysis", reqs[0].Schema.Name)
	require.Contains(t, reqs[0].Prompt, paymentsText)
	require.Contains(t, reqs[0].Prompt, "- "+paymentsGoal+"\n")
	for _, l := range lens.Defaults() {
		require.Contains(t, reqs[0].Prompt, "### "+l.Name)
	}

	tokens, err := db.SumTokensSince(ctx, f.db, testUser, 0)
	require.NoError(t, err)
	require.Equal(t, int64(150), tokens)
}

func TestProcess_ParaphrasedPillarIsDropped(t *testing.T) {
	f := newFixture(t)
	f.seedCanon(t, []float32{1, 0, 0}, paymentsGoal)
	f.gen.Responses = []any{analysis(model.Ptr("Payments"))}

	res, err := f.proc.Process(context.Background(), SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: paymentsText})
	require.NoError(t, err)
	require.Nil(t, res.Artifact.GoalPillar)
}

func TestProcess_NoCanonIsNeutral(t *testing.T) {
	f := newFixture(t)
	f.gen.Responses = []any{analysis(model.Ptr(paymentsGoal),
		schema.ExtractedAction{Task: "Unblock payments", Status: model.ActionOpen},
	)}

	res, err := f.proc.Process(context.Background(), SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: paymentsText})
	require.NoError(t, err)

	require.Equal(t, 0.5, res.Artifact.AlignmentScore)
	require.Equal(t, 0.5, res.Artifact.DriftScore)
	require.Nil(t, res.Artifact.CanonID)
	require.Nil(t, res.Artifact.GoalPillar, "no pillars means no pillar can match")
	require.False(t, res.Score.HasCanon)

	require.Len(t, res.Actions, 1)
	require.Equal(t, model.PriorityMedium, res.Actions[0].Priority)
	require.Nil(t, res.Actions[0].GoalID)
	require.Nil(t, res.Actions[0].GoalAlignmentScore)
	require.Equal(t, []string{paymentsText}, f.emb.Calls(), "no per-action embedding without a Canon")

	require.Contains(t, f.gen.Requests()[0].Prompt, "No strategic pillars are defined")
}

func TestProcess_GenerationFailureKeepsCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.Err = fmt.Errorf("upstream timeout")

	_, err := f.proc.Process(ctx, SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: paymentsText})
	require.Error(t, err)
	tErr := errors.As(err)
	require.NotNil(t, tErr)
	require.Equal(t, errors.ErrProviderFailure, tErr.Code)
	require.Equal(t, "generation", tErr.Details["stage"])

	captureID, ok := tErr.Details["capture_id"].(string)
	require.True(t, ok)
	c, err := db.GetCapture(ctx, f.db, testWorkspace, captureID)
	require.NoError(t, err)
	require.Equal(t, paymentsText, c.Content)
	require.Nil(t, c.ProcessedAt)

	artifacts, err := db.ListArtifactsForCapture(ctx, f.db, testWorkspace, captureID)
	require.NoError(t, err)
	require.Empty(t, artifacts)
}

func TestProcess_EmbeddingFailureSkipsGeneration(t *testing.T) {
	f := newFixture(t)
	f.emb.Err = fmt.Errorf("rate limited")

	_, err := f.proc.Process(context.Background(), SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: paymentsText})
	require.True(t, errors.Is(err, errors.ErrProviderFailure))
	require.Equal(t, "embedding", errors.As(err).Details["stage"])
	require.Zero(t, f.gen.Calls())
}

func TestProcess_SchemaViolationThenReprocess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.Responses = []any{
		`{"sentiment_score": 0.2}`,
		analysis(nil),
	}

	_, err := f.proc.Process(ctx, SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: paymentsText})
	require.True(t, errors.Is(err, errors.ErrProviderFailure))
	require.True(t, stderrors.Is(err, llm.ErrSchemaViolation))
	captureID := errors.As(err).Details["capture_id"].(string)

	res, err := f.proc.Reprocess(ctx, testWorkspace, captureID)
	require.NoError(t, err)
	require.Equal(t, captureID, res.Capture.ID)
	require.Equal(t, 0, res.Artifact.Iteration)
	require.NotNil(t, res.Capture.ProcessedAt)

	_, err = f.proc.Reprocess(ctx, "other-ws", captureID)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestProcess_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: "   "})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = f.proc.Process(ctx, SubmitInput{WorkspaceID: testWorkspace, Content: "hello"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = f.proc.Process(ctx, SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: strings.Repeat("x", MaxContentChars+1)})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	require.Zero(t, f.gen.Calls())
	require.Empty(t, f.emb.Calls())
}

func TestProcess_StreakAndTraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCanon(t, []float32{1, 0})
	// raw 0.75 calibrates to 0.8; raw 0.55 calibrates to 0.4.
	f.emb.Vectors["first"] = []float32{0.75, 0.6614378}
	f.emb.Vectors["second"] = []float32{0.55, 0.83516465}
	f.emb.Vectors["third"] = []float32{0.55, 0.83516465}
	f.gen.Fn = func(*llm.GenerateRequest) (any, error) { return analysis(nil), nil }

	submit := func(text string) *Result {
		res, err := f.proc.Process(ctx, SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: text})
		require.NoError(t, err)
		require.NotNil(t, res.Gamification)
		return res
	}

	first := submit("first")
	require.InDelta(t, 0.8, first.Artifact.AlignmentScore, 1e-4)
	require.InDelta(t, 0.8, first.Gamification.Traction, 1e-4)

	f.clock = f.clock.Add(10 * time.Hour)
	second := submit("second")
	require.Equal(t, first.Gamification.Streak+1, second.Gamification.Streak)
	require.InDelta(t, 0.8*0.7+0.4*0.3, second.Gamification.Traction, 1e-4)

	f.clock = f.clock.Add(72 * time.Hour)
	third := submit("third")
	require.Equal(t, 1, third.Gamification.Streak)

	m, err := db.GetMembership(ctx, f.db, testUser, testWorkspace)
	require.NoError(t, err)
	require.Equal(t, 1, m.Streak)
	require.Equal(t, f.clock.Unix(), *m.LastCaptureAt)
}

func TestProcess_ManyActionsFanOut(t *testing.T) {
	f := newFixture(t)
	f.seedCanon(t, []float32{0, 0, 1})

	var items []schema.ExtractedAction
	for i := 0; i < 9; i++ {
		items = append(items, schema.ExtractedAction{Task: fmt.Sprintf("task %d", i), Status: model.ActionOpen})
	}
	items = append(items, schema.ExtractedAction{Task: "  ", Status: model.ActionOpen})
	f.gen.Responses = []any{analysis(nil, items...)}

	res, err := f.proc.Process(context.Background(), SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: "lots of work"})
	require.NoError(t, err)
	require.Len(t, res.Actions, 9, "blank tasks are dropped")
	for i, a := range res.Actions {
		require.Equal(t, i, a.Position)
		require.Equal(t, fmt.Sprintf("task %d", i), a.Title)
		require.NotNil(t, a.GoalID, "default vector matches the canon")
	}
}

func TestProcess_ActionEmbeddingFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCanon(t, []float32{1, 0, 0})
	f.emb.Vectors[paymentsText] = []float32{1, 0, 0}
	f.emb.Default = nil // per-action embeds have no vector and fail
	f.gen.Responses = []any{analysis(nil, schema.ExtractedAction{Task: "Unblock payments", Status: model.ActionBlocked})}

	_, err := f.proc.Process(ctx, SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: paymentsText})
	require.True(t, errors.Is(err, errors.ErrProviderFailure))

	captureID := errors.As(err).Details["capture_id"].(string)
	artifacts, err := db.ListArtifactsForCapture(ctx, f.db, testWorkspace, captureID)
	require.NoError(t, err)
	require.Empty(t, artifacts)
}

func TestRefine_IterationsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.Fn = func(req *llm.GenerateRequest) (any, error) {
		out := analysis(nil, schema.ExtractedAction{Task: "Unblock payments", Status: model.ActionBlocked})
		out.Synthesis = fmt.Sprintf("synthesis v%d", f.gen.Calls())
		return out, nil
	}

	res, err := f.proc.Process(ctx, SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: paymentsText})
	require.NoError(t, err)
	original := res.Artifact

	seen := map[string]bool{original.ID: true}
	prev := original
	for want := 1; want <= 3; want++ {
		f.clock = f.clock.Add(time.Minute)
		refined, err := f.proc.Refine(ctx, RefineInput{
			UserID:      testUser,
			WorkspaceID: testWorkspace,
			ArtifactID:  prev.ID,
			Feedback:    fmt.Sprintf("feedback %d", want),
		})
		require.NoError(t, err)
		a := refined.Artifact
		require.Equal(t, want, a.Iteration)
		require.Equal(t, original.CaptureID, a.CaptureID)
		require.Equal(t, prev.ID, *a.ParentArtifactID)
		require.False(t, seen[a.ID])
		seen[a.ID] = true
		require.Len(t, refined.Actions, 1)
		require.Equal(t, a.ID, refined.Actions[0].ArtifactID)

		req := f.gen.Requests()[want]
		require.Equal(t, "artifact_refinement", req.Schema.Name)
		require.Contains(t, req.Prompt, paymentsText)
		require.Contains(t, req.Prompt, prev.Synthesis)
		require.Contains(t, req.Prompt, fmt.Sprintf("feedback %d", want))
		require.Contains(t, f.emb.Calls(), a.Synthesis, "alignment comes from the new synthesis")
		prev = a
	}

	hist, err := f.proc.History(ctx, testWorkspace, original.CaptureID)
	require.NoError(t, err)
	require.Len(t, hist.Artifacts, 4)
	for i, a := range hist.Artifacts {
		require.Equal(t, i, a.Iteration)
	}
	require.Equal(t, prev.ID, hist.Current.ID)
	require.Equal(t, paymentsText, hist.Capture.Content)

	stored, err := db.GetArtifact(ctx, f.db, testWorkspace, original.ID)
	require.NoError(t, err)
	require.Equal(t, original.Synthesis, stored.Synthesis)
	require.Len(t, stored.ActionItems, 1)
}

func TestRefine_FailureLeavesCurrentIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.Responses = []any{analysis(nil), `{"not":"valid"}`}

	res, err := f.proc.Process(ctx, SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: paymentsText})
	require.NoError(t, err)

	_, err = f.proc.Refine(ctx, RefineInput{WorkspaceID: testWorkspace, ArtifactID: res.Artifact.ID, Feedback: "more detail"})
	require.True(t, errors.Is(err, errors.ErrProviderFailure))
	require.Equal(t, res.Artifact.ID, errors.As(err).Details["artifact_id"])

	hist, err := f.proc.History(ctx, testWorkspace, res.Capture.ID)
	require.NoError(t, err)
	require.Len(t, hist.Artifacts, 1)
	require.Equal(t, res.Artifact.ID, hist.Current.ID)
}

func TestRefine_CommitFailureCarriesArtifactID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.Fn = func(*llm.GenerateRequest) (any, error) { return analysis(nil), nil }

	res, err := f.proc.Process(ctx, SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: paymentsText})
	require.NoError(t, err)

	_, err = f.db.Exec(`
		CREATE TRIGGER refused_refinements BEFORE INSERT ON artifacts
		WHEN NEW.parent_artifact_id IS NOT NULL
		BEGIN SELECT RAISE(ABORT, 'refinements refused'); END;
	`)
	require.NoError(t, err)

	_, err = f.proc.Refine(ctx, RefineInput{WorkspaceID: testWorkspace, ArtifactID: res.Artifact.ID, Feedback: "more detail"})
	require.True(t, errors.Is(err, errors.ErrInternal), "got %v", err)
	require.Equal(t, res.Artifact.ID, errors.As(err).Details["artifact_id"])

	hist, err := f.proc.History(ctx, testWorkspace, res.Capture.ID)
	require.NoError(t, err)
	require.Len(t, hist.Artifacts, 1)
	require.Equal(t, res.Artifact.ID, hist.Current.ID)
}

// Iteration counts every artifact the capture owns, reprocessed ones
// included, so a refinement after a reprocess skips an index.
func TestRefine_IterationAfterReprocess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gen.Fn = func(*llm.GenerateRequest) (any, error) { return analysis(nil), nil }

	first, err := f.proc.Process(ctx, SubmitInput{UserID: testUser, WorkspaceID: testWorkspace, Content: paymentsText})
	require.NoError(t, err)

	f.clock = f.clock.Add(time.Minute)
	again, err := f.proc.Reprocess(ctx, testWorkspace, first.Capture.ID)
	require.NoError(t, err)
	require.Equal(t, 0, again.Artifact.Iteration)
	require.Nil(t, again.Artifact.ParentArtifactID)

	f.clock = f.clock.Add(time.Minute)
	refined, err := f.proc.Refine(ctx, RefineInput{WorkspaceID: testWorkspace, ArtifactID: again.Artifact.ID, Feedback: "tighten it"})
	require.NoError(t, err)
	require.Equal(t, 2, refined.Artifact.Iteration)
	require.Equal(t, again.Artifact.ID, *refined.Artifact.ParentArtifactID)

	hist, err := f.proc.History(ctx, testWorkspace, first.Capture.ID)
	require.NoError(t, err)
	got := make([]int, len(hist.Artifacts))
	for i, a := range hist.Artifacts {
		got[i] = a.Iteration
	}
	require.Equal(t, []int{0, 0, 2}, got)
	require.Equal(t, refined.Artifact.ID, hist.Current.ID)
}

func TestRefine_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.Refine(ctx, RefineInput{WorkspaceID: testWorkspace, ArtifactID: "x", Feedback: ""})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = f.proc.Refine(ctx, RefineInput{WorkspaceID: testWorkspace, ArtifactID: "missing", Feedback: "more"})
	require.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = f.proc.History(ctx, testWorkspace, "missing")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCreateCanon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.CreateCanon(ctx, CanonInput{WorkspaceID: testWorkspace, Content: ""})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = f.proc.CreateCanon(ctx, CanonInput{
		WorkspaceID: testWorkspace,
		Content:     "strategy",
		Pillars:     []model.Pillar{{Title: "A"}, {Title: " A "}},
	})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	first := f.seedCanon(t, []float32{1, 0}, "Reduce churn")
	second := f.seedCanon(t, []float32{0, 1}, paymentsGoal, "Reduce churn")

	latest, err := db.LatestCanon(ctx, f.db, testWorkspace)
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)
	require.Equal(t, []string{paymentsGoal, "Reduce churn"}, latest.PillarTitles())
	require.NotEqual(t, first.ID, second.ID)
}

func TestAnalysisPrompt_NoLenses(t *testing.T) {
	prompt := analysisPrompt("did things", nil, []string{"Reduce churn"})
	require.Contains(t, prompt, "No coaching lenses are available")
	require.Contains(t, prompt, "- Reduce churn\n")
}
