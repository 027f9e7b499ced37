package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/llm"
	"github.com/nelsonng/tensient/internal/model"
	"github.com/nelsonng/tensient/internal/schema"
	"github.com/nelsonng/tensient/internal/usage"
)

const tracerName = "github.com/nelsonng/tensient/internal/ops"

// MaxSynthesisSignals bounds how many unprocessed signals one run folds.
const MaxSynthesisSignals = 200

// Change kinds recorded on a commit.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
)

const synthesisSystem = `You maintain a workspace's synthesis documents: living markdown summaries of what the team has learned.
You receive the existing synthesis documents and a batch of new signals.
Fold every signal into the documents. Update an existing document by returning its document_id with the full revised content.
Create a new document only when no existing one fits, with document_id set to null.
Return only documents you changed. Never invent document ids.
Summarize what changed in one short paragraph, the way a commit message would.`

// RunSynthesisInput contains parameters for the RunSynthesis operation.
type RunSynthesisInput struct {
	Scope
	MaxSignals int `json:"max_signals,omitempty"`
}

// RunSynthesisOutput contains the result of the RunSynthesis operation.
// Skipped is true when there was nothing to fold; Commit is nil then.
type RunSynthesisOutput struct {
	Skipped   bool              `json:"skipped"`
	Reason    string            `json:"reason,omitempty"`
	Commit    *model.Commit     `json:"commit,omitempty"`
	Documents []DocumentSummary `json:"documents"`
}

// RunSynthesis folds the workspace's unprocessed signals into its synthesis
// documents and records the result as a commit whose parent is the previous
// commit. The usage allowance is checked before anything else. Every write
// happens in one transaction; a concurrent run that consumed any of the
// same signals first makes this one fail with CONFLICT.
func RunSynthesis(ctx context.Context, deps Deps, input RunSynthesisInput) (out *RunSynthesisOutput, err error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	ws := input.WorkspaceID
	runID := uuid.NewString()
	log := deps.logger().With(zap.String("run_id", runID), zap.String("workspace_id", ws))
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ops.RunSynthesis", trace.WithAttributes(
		attribute.String("workspace.id", ws),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn("synthesis run failed", zap.Error(err))
		}
		span.End()
	}()

	if deps.Meter != nil {
		allowance, err := deps.Meter.CheckAllowed(ctx, input.UserID)
		if err != nil {
			return nil, err
		}
		if !allowance.Allowed {
			return nil, errors.NewUsageLimit(allowance.Reason)
		}
	}

	limit := clampLimit(input.MaxSignals, MaxSynthesisSignals, MaxSynthesisSignals)
	signals, err := db.ListUnprocessedSignals(ctx, deps.DB, ws, limit)
	if err != nil {
		return nil, err
	}
	if len(signals) == 0 {
		return &RunSynthesisOutput{Skipped: true, Reason: "no unprocessed signals", Documents: []DocumentSummary{}}, nil
	}

	existing, _, err := db.ListDocuments(ctx, deps.DB, db.DocumentFilter{
		WorkspaceID: ws,
		Viewer:      input.UserID,
		Kinds:       []model.DocumentKind{model.DocumentSynthesis},
	})
	if err != nil {
		return nil, err
	}

	var result schema.SynthesisResult
	resp, err := llm.GenerateStructured(ctx, deps.Generator, &llm.GenerateRequest{
		System:      synthesisSystem,
		Prompt:      synthesisPrompt(existing, signals),
		Schema:      schema.Synthesis(),
		Temperature: deps.temperature(),
	}, &result)
	logSynthesisUsage(ctx, deps, log, input.Scope, resp)
	if err != nil {
		return nil, errors.NewProviderFailure("generation", err)
	}

	changes, docs, err := planChanges(deps, ws, existing, result.Documents)
	if err != nil {
		return nil, errors.NewProviderFailure("generation", fmt.Errorf("%w: %v", llm.ErrSchemaViolation, err))
	}
	if err := embedDocuments(ctx, deps, docs); err != nil {
		return nil, err
	}

	commitID, err := model.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	signalIDs := make([]string, len(signals))
	for i, s := range signals {
		signalIDs[i] = s.ID
	}
	commit := &model.Commit{
		ID:          commitID,
		WorkspaceID: ws,
		Summary:     strings.TrimSpace(result.Summary),
		SignalIDs:   signalIDs,
		Changes:     changes,
		CreatedBy:   input.UserID,
		CreatedAt:   deps.now().Unix(),
	}

	err = db.WithTx(ctx, deps.DB, func(tx *sql.Tx) error {
		if err := requireUnprocessed(ctx, tx, ws, signalIDs); err != nil {
			return err
		}
		for i, d := range docs {
			var werr error
			if changes[i].Change == ChangeCreated {
				werr = db.InsertDocument(ctx, tx, d)
			} else {
				werr = db.UpdateDocument(ctx, tx, d, true)
			}
			if werr != nil {
				return werr
			}
		}
		parent, err := db.LatestCommit(ctx, tx, ws)
		if err != nil {
			return err
		}
		if parent != nil {
			commit.ParentID = &parent.ID
		}
		return db.InsertCommit(ctx, tx, commit)
	})
	if err != nil {
		return nil, err
	}

	log.Info("synthesis committed",
		zap.String("commit_id", commit.ID),
		zap.Int("signals", len(signalIDs)),
		zap.Int("documents", len(docs)))
	return &RunSynthesisOutput{Commit: commit, Documents: summarizeAll(docs)}, nil
}

// planChanges turns the model's documents into rows to write and the
// matching change records. An unknown or repeated document_id is an error.
func planChanges(deps Deps, ws string, existing []*model.Document, written []schema.SynthesizedDocument) ([]model.DocumentChange, []*model.Document, error) {
	byID := make(map[string]*model.Document, len(existing))
	for _, d := range existing {
		byID[d.ID] = d
	}
	dmp := diffmatchpatch.New()
	now := deps.now().Unix()
	seen := make(map[string]bool)

	var (
		changes []model.DocumentChange
		docs    []*model.Document
	)
	for _, w := range written {
		title := strings.TrimSpace(w.Title)
		if title == "" {
			return nil, nil, fmt.Errorf("document has an empty title")
		}
		var (
			d      *model.Document
			change string
			old    string
		)
		if w.DocumentID == nil {
			id, err := model.NewID()
			if err != nil {
				return nil, nil, err
			}
			d = &model.Document{
				ID:          id,
				WorkspaceID: ws,
				Kind:        model.DocumentSynthesis,
				CreatedAt:   now,
			}
			change = ChangeCreated
		} else {
			prev, ok := byID[*w.DocumentID]
			if !ok {
				return nil, nil, fmt.Errorf("unknown document_id %q", *w.DocumentID)
			}
			if seen[prev.ID] {
				return nil, nil, fmt.Errorf("document_id %q returned more than once", prev.ID)
			}
			seen[prev.ID] = true
			copied := *prev
			d = &copied
			old = prev.Content
			change = ChangeUpdated
		}
		d.Title = title
		d.Content = w.Content
		d.UpdatedAt = now

		changes = append(changes, model.DocumentChange{
			DocumentID: d.ID,
			Change:     change,
			Title:      title,
			Patch:      dmp.PatchToText(dmp.PatchMake(old, w.Content)),
		})
		docs = append(docs, d)
	}
	return changes, docs, nil
}

func embedDocuments(ctx context.Context, deps Deps, docs []*model.Document) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for _, d := range docs {
		g.Go(func() error {
			vec, err := embedDocument(gctx, deps.Embedder, d.Content)
			if err != nil {
				return err
			}
			d.Embedding = vec
			return nil
		})
	}
	return g.Wait()
}

// requireUnprocessed fails with CONFLICT if any of ids was consumed by a
// commit since it was read.
func requireUnprocessed(ctx context.Context, q db.Querier, ws string, ids []string) error {
	still, err := db.ListUnprocessedSignals(ctx, q, ws, 0)
	if err != nil {
		return err
	}
	open := make(map[string]bool, len(still))
	for _, s := range still {
		open[s.ID] = true
	}
	for _, id := range ids {
		if !open[id] {
			return errors.NewConflict("signal already consumed by another synthesis commit: " + id)
		}
	}
	return nil
}

func synthesisPrompt(existing []*model.Document, signals []*model.Signal) string {
	var b strings.Builder
	b.WriteString("## Existing synthesis documents\n\n")
	if len(existing) == 0 {
		b.WriteString("There are no synthesis documents yet.\n")
	}
	for _, d := range existing {
		fmt.Fprintf(&b, "### %s\ndocument_id: %s\n\n%s\n\n", d.Title, d.ID, strings.TrimSpace(d.Content))
	}
	fmt.Fprintf(&b, "## New signals (%d)\n\n", len(signals))
	for _, s := range signals {
		priority := "none"
		if s.AIPriority != nil {
			priority = string(*s.AIPriority)
		}
		if s.HumanPriority != nil {
			priority = string(*s.HumanPriority) + " (human)"
		}
		fmt.Fprintf(&b, "- [%s, priority %s] %s\n", s.Status, priority, oneLine(s.Content))
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func logSynthesisUsage(ctx context.Context, deps Deps, log *zap.Logger, scope Scope, resp *llm.GenerateResponse) {
	if deps.Meter == nil || resp == nil {
		return
	}
	modelName := resp.Model
	if modelName == "" && deps.Config != nil {
		modelName = deps.Config.GenerationModel
	}
	if err := deps.Meter.LogUsage(ctx, usage.Event{
		UserID:       scope.UserID,
		WorkspaceID:  scope.WorkspaceID,
		Operation:    "signal_synthesis",
		Model:        modelName,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}); err != nil {
		log.Warn("usage logging failed", zap.Error(err))
	}
}
