package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/lens"
	"github.com/nelsonng/tensient/internal/llm"
	"github.com/nelsonng/tensient/internal/model"
	"github.com/nelsonng/tensient/internal/schema"
)

// RefineInput contains parameters for the Refine operation.
type RefineInput struct {
	UserID      string
	WorkspaceID string
	ArtifactID  string
	Feedback    string
}

// Refine appends a new artifact to the lineage of input.ArtifactID's
// capture. The refined artifact's iteration is the number of artifacts the
// capture already owns, so the n-th refinement is iteration n. Alignment is
// recomputed from a fresh embedding of the new synthesis. A failure leaves
// every existing artifact untouched.
//
// Concurrent refinements of one artifact both succeed and may share an
// iteration number; the later one is current.
func (p *Processor) Refine(ctx context.Context, input RefineInput) (res *Result, err error) {
	feedback := strings.TrimSpace(input.Feedback)
	if feedback == "" {
		return nil, errors.NewInvalidRequest("feedback is required")
	}
	if len([]rune(feedback)) > MaxFeedbackChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("feedback exceeds %d characters", MaxFeedbackChars))
	}
	artifactID := strings.TrimSpace(input.ArtifactID)
	if artifactID == "" {
		return nil, errors.NewInvalidRequest("artifact_id is required")
	}

	prev, err := db.GetArtifact(ctx, p.db, input.WorkspaceID, artifactID)
	if err != nil {
		return nil, err
	}
	c, err := db.GetCapture(ctx, p.db, input.WorkspaceID, prev.CaptureID)
	if err != nil {
		return nil, err
	}
	iteration, err := db.CountArtifactsForCapture(ctx, p.db, c.ID)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := p.logger.With(
		zap.String("run_id", runID),
		zap.String("workspace_id", c.WorkspaceID),
		zap.String("capture_id", c.ID),
		zap.String("parent_artifact_id", prev.ID),
		zap.Int("iteration", iteration),
	)
	ctx, span := p.tracer.Start(ctx, "capture.Refine", trace.WithAttributes(
		attribute.String("workspace.id", c.WorkspaceID),
		attribute.String("capture.id", c.ID),
		attribute.Int("iteration", iteration),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("refinement failed", zap.Error(err))
		}
		span.End()
	}()

	userID := input.UserID
	if userID == "" {
		userID = c.UserID
	}

	canon, err := db.LatestCanon(ctx, p.db, c.WorkspaceID)
	if err != nil {
		return nil, err
	}
	lenses := p.lenses.Public()
	pillars := canon.PillarTitles()

	var out schema.AnalysisResult
	resp, err := llm.GenerateStructured(ctx, p.generator, &llm.GenerateRequest{
		System:      refinementSystem,
		Prompt:      refinementPrompt(c.Content, prev, feedback, iteration+1, lenses, pillars),
		Schema:      schema.Refinement(lens.Names(lenses)),
		Temperature: p.temperature,
	}, &out)
	p.logUsage(ctx, log, userID, c.WorkspaceID, "artifact_refinement", resp)
	if err != nil {
		return nil, refineFailure("generation", prev.ID, err)
	}

	vec, err := p.embedder.Embed(ctx, out.Synthesis)
	if err != nil {
		return nil, refineFailure("embedding", prev.ID, err)
	}
	score, err := p.calibrator.Compare(vec, canonEmbedding(canon))
	if err != nil {
		return nil, refineFailure("calibration", prev.ID, err)
	}

	now := p.now().Unix()
	id, err := model.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	parent := prev.ID
	artifact := &model.Artifact{
		ID:                   id,
		CaptureID:            c.ID,
		CanonID:              canonID(canon),
		ParentArtifactID:     &parent,
		Iteration:            iteration,
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

	actions, err := p.buildActions(ctx, userID, c.WorkspaceID, artifact, out.ActionItems, canon, now)
	if err != nil {
		return nil, refineFailure("action embedding", prev.ID, err)
	}
	if err := p.commit(ctx, c.WorkspaceID, artifact, actions, nil, now); err != nil {
		return nil, refineError(prev.ID, err)
	}

	log.Info("artifact refined",
		zap.String("artifact_id", artifact.ID),
		zap.Float64("alignment", score.Alignment))
	return &Result{Capture: c, Artifact: artifact, Actions: actions, Score: score}, nil
}

func refineFailure(stage, artifactID string, err error) error {
	return errors.NewProviderFailure(stage, err).WithDetail("artifact_id", artifactID)
}

// refineError tags err with the artifact being refined. Structured errors
// keep their code.
func refineError(artifactID string, err error) error {
	if e := errors.As(err); e != nil {
		return e.WithDetail("artifact_id", artifactID)
	}
	return refineFailure("commit", artifactID, err)
}

// HistoryOutput is a capture and its artifacts, oldest first.
type HistoryOutput struct {
	Capture   *model.Capture    `json:"capture"`
	Artifacts []*model.Artifact `json:"artifacts"`
	Current   *model.Artifact   `json:"current,omitempty"`
}

// History returns every artifact of captureID in creation order. Current is
// the latest one, or nil for a capture that never finished processing.
func (p *Processor) History(ctx context.Context, workspaceID, captureID string) (*HistoryOutput, error) {
	captureID = strings.TrimSpace(captureID)
	if captureID == "" {
		return nil, errors.NewInvalidRequest("capture_id is required")
	}
	c, err := db.GetCapture(ctx, p.db, workspaceID, captureID)
	if err != nil {
		return nil, err
	}
	artifacts, err := db.ListArtifactsForCapture(ctx, p.db, workspaceID, captureID)
	if err != nil {
		return nil, err
	}
	out := &HistoryOutput{Capture: c, Artifacts: artifacts}
	if n := len(artifacts); n > 0 {
		out.Current = artifacts[n-1]
	}
	return out, nil
}
