// Package capture turns raw captures into scored, versioned artifacts.
//
// A Capture is persisted before any provider call so a failed embedding or
// generation never loses the raw input. Each processing or refinement run
// appends one Artifact plus its Action rows; nothing is edited in place, and
// the most recently created Artifact is the current one.
package capture

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nelsonng/tensient/internal/calibrate"
	"github.com/nelsonng/tensient/internal/config"
	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/gamify"
	"github.com/nelsonng/tensient/internal/lens"
	"github.com/nelsonng/tensient/internal/llm"
	"github.com/nelsonng/tensient/internal/model"
	"github.com/nelsonng/tensient/internal/schema"
	"github.com/nelsonng/tensient/internal/usage"
)

const tracerName = "github.com/nelsonng/tensient/internal/capture"

// Content limits
const (
	MaxContentChars  = 20000
	MaxFeedbackChars = 4000
	DefaultSource    = "manual"
)

// LensSource supplies the coaching lenses applied to a run. Public is read
// once per run so a reload mid-run cannot mix two lens sets.
type LensSource interface {
	Public() []lens.Lens
}

// Deps are the collaborators a Processor needs. Meter and Logger are
// optional.
type Deps struct {
	DB        *sql.DB
	Embedder  llm.Embedder
	Generator llm.Generator
	Lenses    LensSource
	Meter     *usage.Meter
	Logger    *zap.Logger
}

// Processor runs the capture pipeline and the refinement loop.
type Processor struct {
	db          *sql.DB
	embedder    llm.Embedder
	generator   llm.Generator
	lenses      LensSource
	calibrator  calibrate.Calibrator
	gamify      *gamify.Updater
	meter       *usage.Meter
	logger      *zap.Logger
	tracer      trace.Tracer
	goalLink    float64
	temperature float64
	genModel    string
	now         func() time.Time
}

// New builds a Processor from deps and cfg.
func New(deps Deps, cfg *config.Config) (*Processor, error) {
	if deps.DB == nil || deps.Embedder == nil || deps.Generator == nil || deps.Lenses == nil {
		return nil, fmt.Errorf("capture: db, embedder, generator and lenses are required")
	}
	cal, err := calibrate.New(cfg.CalibrationFloor, cfg.CalibrationCeiling)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := time.Duration(cfg.StreakWindowHours) * time.Hour
	return &Processor{
		db:          deps.DB,
		embedder:    deps.Embedder,
		generator:   deps.Generator,
		lenses:      deps.Lenses,
		calibrator:  cal,
		gamify:      gamify.NewUpdater(deps.DB, window, logger),
		meter:       deps.Meter,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		goalLink:    cfg.GoalLinkThreshold,
		temperature: cfg.GenerationTemperature,
		genModel:    cfg.GenerationModel,
		now:         time.Now,
	}, nil
}

// SubmitInput contains parameters for the Process operation.
type SubmitInput struct {
	UserID      string
	WorkspaceID string
	Content     string
	Source      string // default: "manual"
}

// Result is one completed processing or refinement run.
type Result struct {
	Capture      *model.Capture  `json:"capture"`
	Artifact     *model.Artifact `json:"artifact"`
	Actions      []*model.Action `json:"actions"`
	Gamification *gamify.Result  `json:"gamification,omitempty"`
	Score        calibrate.Score `json:"-"`
}

// Process persists a new capture and runs the full pipeline against it.
// Only a failure to persist the capture returns without a capture id; every
// later failure is a PROVIDER_FAILURE carrying capture_id so the caller can
// retry with Reprocess.
func (p *Processor) Process(ctx context.Context, input SubmitInput) (*Result, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}
	if len([]rune(content)) > MaxContentChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("content exceeds %d characters", MaxContentChars))
	}
	if strings.TrimSpace(input.UserID) == "" || strings.TrimSpace(input.WorkspaceID) == "" {
		return nil, errors.NewInvalidRequest("user_id and workspace_id are required")
	}
	source := strings.TrimSpace(input.Source)
	if source == "" {
		source = DefaultSource
	}

	id, err := model.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	c := &model.Capture{
		ID:          id,
		UserID:      input.UserID,
		WorkspaceID: input.WorkspaceID,
		Content:     content,
		Source:      source,
		CreatedAt:   p.now().Unix(),
	}
	if err := db.InsertCapture(ctx, p.db, c); err != nil {
		return nil, err
	}

	return p.run(ctx, c, "capture.Process")
}

// Reprocess runs the pipeline again against an existing capture and
// appends another artifact.
func (p *Processor) Reprocess(ctx context.Context, workspaceID, captureID string) (*Result, error) {
	captureID = strings.TrimSpace(captureID)
	if captureID == "" {
		return nil, errors.NewInvalidRequest("capture_id is required")
	}
	c, err := db.GetCapture(ctx, p.db, workspaceID, captureID)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, c, "capture.Reprocess")
}

func (p *Processor) run(ctx context.Context, c *model.Capture, spanName string) (res *Result, err error) {
	runID := uuid.NewString()
	log := p.logger.With(
		zap.String("run_id", runID),
		zap.String("workspace_id", c.WorkspaceID),
		zap.String("capture_id", c.ID),
	)
	ctx, span := p.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("workspace.id", c.WorkspaceID),
		attribute.String("capture.id", c.ID),
		attribute.String("run.id", runID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("capture processing failed", zap.Error(err))
		}
		span.End()
	}()
	start := p.now()

	vec, err := p.embedder.Embed(ctx, c.Content)
	if err != nil {
		return nil, errors.NewProviderFailure("embedding", err).WithDetail("capture_id", c.ID)
	}

	canon, err := db.LatestCanon(ctx, p.db, c.WorkspaceID)
	if err != nil {
		return nil, processingError(c.ID, err)
	}
	score, err := p.calibrator.Compare(vec, canonEmbedding(canon))
	if err != nil {
		return nil, processingError(c.ID, err)
	}

	lenses := p.lenses.Public()
	pillars := canon.PillarTitles()
	var out schema.AnalysisResult
	resp, err := llm.GenerateStructured(ctx, p.generator, &llm.GenerateRequest{
		System:      analysisSystem,
		Prompt:      analysisPrompt(c.Content, lenses, pillars),
		Schema:      schema.Analysis(lens.Names(lenses)),
		Temperature: p.temperature,
	}, &out)
	p.logUsage(ctx, log, c.UserID, c.WorkspaceID, "capture_analysis", resp)
	if err != nil {
		return nil, errors.NewProviderFailure("generation", err).WithDetail("capture_id", c.ID)
	}

	now := p.now().Unix()
	artifactID, err := model.NewID()
	if err != nil {
		return nil, processingError(c.ID, err)
	}
	artifact := &model.Artifact{
		ID:                   artifactID,
		CaptureID:            c.ID,
		CanonID:              canonID(canon),
		Iteration:            0,
		AlignmentScore:       score.Alignment,
		DriftScore:           score.Drift,
		SentimentScore:       out.SentimentScore,
		Synthesis:            out.Synthesis,
		Feedback:             out.Feedback,
		AlignmentExplanation: out.AlignmentExplanation,
		CoachingQuestions:    out.CoachingQuestions,
		GoalPillar:           model.MatchPillar(out.GoalPillar, pillars),
		Embedding:            vec,
		CreatedAt:            now,
	}

	actions, err := p.buildActions(ctx, c.UserID, c.WorkspaceID, artifact, out.ActionItems, canon, now)
	if err != nil {
		return nil, errors.NewProviderFailure("action embedding", err).WithDetail("capture_id", c.ID)
	}

	if err := p.commit(ctx, c.WorkspaceID, artifact, actions, &c.ID, now); err != nil {
		return nil, processingError(c.ID, err)
	}
	c.ProcessedAt = &now

	res = &Result{Capture: c, Artifact: artifact, Actions: actions, Score: score}

	g, gerr := p.gamify.Apply(ctx, c.UserID, c.WorkspaceID, p.now(), score.Alignment)
	if gerr != nil {
		log.Warn("gamification update failed", zap.Error(gerr))
	} else {
		res.Gamification = &g
	}

	log.Info("capture processed",
		zap.String("artifact_id", artifact.ID),
		zap.Float64("alignment", score.Alignment),
		zap.Bool("has_canon", score.HasCanon),
		zap.Int("actions", len(actions)),
		zap.Duration("elapsed", p.now().Sub(start)))
	span.SetAttributes(attribute.Float64("alignment", score.Alignment), attribute.Int("actions", len(actions)))
	return res, nil
}

// commit writes the artifact, its actions and (for initial processing) the
// capture's processed stamp in one transaction.
func (p *Processor) commit(ctx context.Context, workspaceID string, a *model.Artifact, actions []*model.Action, processedCapture *string, now int64) error {
	return db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		if err := db.InsertArtifact(ctx, tx, workspaceID, a); err != nil {
			return err
		}
		for _, action := range actions {
			if err := db.InsertAction(ctx, tx, action); err != nil {
				return err
			}
		}
		if processedCapture != nil {
			if err := db.MarkCaptureProcessed(ctx, tx, *processedCapture, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Processor) logUsage(ctx context.Context, log *zap.Logger, userID, workspaceID, operation string, resp *llm.GenerateResponse) {
	if p.meter == nil || resp == nil {
		return
	}
	modelName := resp.Model
	if modelName == "" {
		modelName = p.genModel
	}
	err := p.meter.LogUsage(ctx, usage.Event{
		UserID:       userID,
		WorkspaceID:  workspaceID,
		Operation:    operation,
		Model:        modelName,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
	if err != nil {
		log.Warn("usage logging failed", zap.String("operation", operation), zap.Error(err))
	}
}

// processingError tags err with the durable capture id. Structured errors
// keep their code; anything else becomes a provider failure.
func processingError(captureID string, err error) error {
	if e := errors.As(err); e != nil {
		return e.WithDetail("capture_id", captureID)
	}
	return errors.NewProviderFailure("processing", err).WithDetail("capture_id", captureID)
}

func canonEmbedding(c *model.Canon) []float32 {
	if c == nil {
		return nil
	}
	return c.Embedding
}

func canonID(c *model.Canon) *string {
	if c == nil {
		return nil
	}
	id := c.ID
	return &id
}
