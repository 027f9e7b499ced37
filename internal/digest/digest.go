// Package digest generates the weekly ranked Top 5 for a workspace.
package digest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/lens"
	"github.com/nelsonng/tensient/internal/llm"
	"github.com/nelsonng/tensient/internal/model"
	"github.com/nelsonng/tensient/internal/schema"
	"github.com/nelsonng/tensient/internal/usage"
)

const tracerName = "github.com/nelsonng/tensient/internal/digest"

// LensSource supplies the coaching lenses whose names frame the digest.
type LensSource interface {
	Public() []lens.Lens
}

// Generator builds digests from a week's artifacts and actions.
type Generator struct {
	db          *sql.DB
	generator   llm.Generator
	lenses      LensSource
	meter       *usage.Meter
	logger      *zap.Logger
	tracer      trace.Tracer
	limit       int
	temperature float64
	genModel    string
	now         func() time.Time
}

// New returns a Generator. meter may be nil, which allows every call.
func New(database *sql.DB, generator llm.Generator, lenses LensSource, meter *usage.Meter, cfg *config.Config, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.DigestArtifactLimit
	if limit <= 0 {
		limit = 50
	}
	return &Generator{
		db:          database,
		generator:   generator,
		lenses:      lenses,
		meter:       meter,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		limit:       limit,
		temperature: cfg.GenerationTemperature,
		genModel:    cfg.GenerationModel,
		now:         time.Now,
	}
}

// WeekStart returns Monday 00:00 UTC of t's week.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

// GenerateInput contains parameters for the Generate operation.
type GenerateInput struct {
	UserID      string     // whose allowance pays for the call
	WorkspaceID string
	WeekStart   *time.Time // default: the current week; normalized to its Monday
}

// Generate asks the model for exactly five ranked items covering the week
// and stores them as a new Digest. Any schema violation fails closed and
// nothing is stored.
func (g *Generator) Generate(ctx context.Context, input GenerateInput) (d *model.Digest, err error) {
	if strings.TrimSpace(input.WorkspaceID) == "" || strings.TrimSpace(input.UserID) == "" {
		return nil, errors.NewInvalidRequest("user_id and workspace_id are required")
	}
	ref := g.now()
	if input.WeekStart != nil {
		ref = *input.WeekStart
	}
	week := WeekStart(ref)

	runID := uuid.NewString()
	log := g.logger.With(
		zap.String("run_id", runID),
		zap.String("workspace_id", input.WorkspaceID),
		zap.Time("week_start", week),
	)
	ctx, span := g.tracer.Start(ctx, "digest.Generate", trace.WithAttributes(
		attribute.String("workspace.id", input.WorkspaceID),
		attribute.Int64("week.start", week.Unix()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Warn("digest generation failed", zap.Error(err))
		}
		span.End()
	}()

	artifacts, err := db.ListArtifactsSince(ctx, g.db, input.WorkspaceID, week.Unix(), g.limit)
	if err != nil {
		return nil, err
	}
	actions, _, err := db.ListActions(ctx, g.db, db.ActionFilter{
		WorkspaceID: input.WorkspaceID,
		Since:       week.Unix(),
		Limit:       g.limit,
	})
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 && len(actions) == 0 {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("no artifacts or actions since %s", week.Format("2006-01-02")))
	}

	if g.meter != nil {
		allowance, err := g.meter.CheckAllowed(ctx, input.UserID)
		if err != nil {
			return nil, err
		}
		if !allowance.Allowed {
			return nil, errors.NewUsageLimit(allowance.Reason)
		}
	}

	canon, err := db.LatestCanon(ctx, g.db, input.WorkspaceID)
	if err != nil {
		return nil, err
	}
	pillars := canon.PillarTitles()
	var strategy string
	if canon != nil {
		strategy = canon.Content
	}

	var out schema.DigestResult
	resp, err := llm.GenerateStructured(ctx, g.generator, &llm.GenerateRequest{
		System:      digestSystem,
		Prompt:      digestPrompt(week, strategy, artifacts, actions, pillars, lens.Names(g.lenses.Public())),
		Schema:      schema.Digest(),
		Temperature: g.temperature,
	}, &out)
	g.logUsage(ctx, log, input, resp)
	if err != nil {
		return nil, errors.NewProviderFailure("generation", err)
	}
	if err := checkRanks(out.Items); err != nil {
		return nil, errors.NewProviderFailure("generation", fmt.Errorf("%w: %v", llm.ErrSchemaViolation, err))
	}

	items := make([]model.DigestItem, len(out.Items))
	for i, item := range out.Items {
		item.GoalPillar = model.MatchPillar(item.GoalPillar, pillars)
		items[i] = item
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Rank < items[j].Rank })

	id, err := model.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	d = &model.Digest{
		ID:          id,
		WorkspaceID: input.WorkspaceID,
		WeekStart:   week.Unix(),
		Summary:     out.Summary,
		Items:       items,
		CreatedAt:   g.now().Unix(),
	}
	if err := db.InsertDigest(ctx, g.db, d); err != nil {
		return nil, err
	}
	log.Info("digest generated",
		zap.String("digest_id", d.ID),
		zap.Int("artifacts", len(artifacts)),
		zap.Int("actions", len(actions)))
	return d, nil
}

// Latest returns the newest digest for the workspace, optionally limited to
// the week containing weekOf.
func (g *Generator) Latest(ctx context.Context, workspaceID string, weekOf *time.Time) (*model.Digest, error) {
	var week *int64
	if weekOf != nil {
		ws := WeekStart(*weekOf).Unix()
		week = &ws
	}
	return db.LatestDigest(ctx, g.db, workspaceID, week)
}

// checkRanks requires ranks 1..5 each exactly once. The schema bounds each
// rank; uniqueness spans items so it is checked here.
func checkRanks(items []model.DigestItem) error {
	if len(items) != schema.DigestItemCount {
		return fmt.Errorf("want %d items, got %d", schema.DigestItemCount, len(items))
	}
	seen := make(map[int]bool, len(items))
	for _, item := range items {
		if item.Rank < 1 || item.Rank > schema.DigestItemCount {
			return fmt.Errorf("rank %d out of range", item.Rank)
		}
		if seen[item.Rank] {
			return fmt.Errorf("rank %d appears more than once", item.Rank)
		}
		seen[item.Rank] = true
	}
	return nil
}

func (g *Generator) logUsage(ctx context.Context, log *zap.Logger, input GenerateInput, resp *llm.GenerateResponse) {
	if g.meter == nil || resp == nil {
		return
	}
	modelName := resp.Model
	if modelName == "" {
		modelName = g.genModel
	}
	if err := g.meter.LogUsage(ctx, usage.Event{
		UserID:       input.UserID,
		WorkspaceID:  input.WorkspaceID,
		Operation:    "weekly_digest",
		Model:        modelName,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}); err != nil {
		log.Warn("usage logging failed", zap.Error(err))
	}
}
