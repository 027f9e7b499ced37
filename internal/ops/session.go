package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nelsonng/tensient/internal/db"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
)

// SessionSignalSource labels signals fanned out from a session log.
const SessionSignalSource = "session"

const embedConcurrency = 4

// EndSessionInput contains parameters for the EndSession operation. Each
// list entry is one bullet.
type EndSessionInput struct {
	Scope
	Title        string   `json:"title,omitempty"`
	Summary      string   `json:"summary"`
	Decisions    []string `json:"decisions,omitempty"`
	DebtAdded    []string `json:"debt_added,omitempty"`
	DebtResolved []string `json:"debt_resolved,omitempty"`
	Observations []string `json:"observations,omitempty"`
}

// EndSessionOutput contains the result of the EndSession operation.
type EndSessionOutput struct {
	Document *model.Document `json:"document"`
	Signals  []*model.Signal `json:"signals"`
}

// sessionSection is one bulleted category of a session log.
type sessionSection struct {
	heading  string
	bullets  []string
	priority *model.Priority
}

func (in EndSessionInput) sections() []sessionSection {
	return []sessionSection{
		{heading: "Decisions", bullets: cleanBullets(in.Decisions), priority: model.Ptr(model.PriorityMedium)},
		{heading: "Debt added", bullets: cleanBullets(in.DebtAdded), priority: model.Ptr(model.PriorityHigh)},
		{heading: "Debt resolved", bullets: cleanBullets(in.DebtResolved), priority: model.Ptr(model.PriorityLow)},
		{heading: "Observations", bullets: cleanBullets(in.Observations)},
	}
}

func cleanBullets(in []string) []string {
	var out []string
	for _, b := range in {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// EndSession writes a markdown session log owned by the caller and fans
// every bullet out into its own open signal. Decisions are medium priority,
// added debt high, resolved debt low; observations carry no priority. The
// log and its signals are written together or not at all.
func EndSession(ctx context.Context, deps Deps, input EndSessionInput) (*EndSessionOutput, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	summary := strings.TrimSpace(input.Summary)
	if summary == "" {
		return nil, errors.NewInvalidRequest("summary is required")
	}
	sections := input.sections()
	now := deps.now()
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Session " + now.UTC().Format(time.DateTime)
	}
	if len([]rune(title)) > MaxTitleChars {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("title exceeds %d characters", MaxTitleChars))
	}

	doc, err := newDocument(ctx, deps, input.Scope, model.DocumentSession, title, sessionMarkdown(title, summary, sections))
	if err != nil {
		return nil, err
	}
	signals, err := sessionSignals(ctx, deps, input.Scope, sections, now.Unix())
	if err != nil {
		return nil, err
	}

	err = db.WithTx(ctx, deps.DB, func(tx *sql.Tx) error {
		if err := db.InsertDocument(ctx, tx, doc); err != nil {
			return err
		}
		for _, s := range signals {
			if err := db.InsertSignal(ctx, tx, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	deps.logger().Info("session ended",
		zap.String("workspace_id", input.WorkspaceID),
		zap.String("document_id", doc.ID),
		zap.Int("signals", len(signals)))
	return &EndSessionOutput{Document: doc, Signals: signals}, nil
}

func sessionMarkdown(title, summary string, sections []sessionSection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n## Summary\n\n%s\n", title, summary)
	for _, sec := range sections {
		fmt.Fprintf(&b, "\n## %s\n\n", sec.heading)
		if len(sec.bullets) == 0 {
			b.WriteString("_None._\n")
			continue
		}
		for _, bullet := range sec.bullets {
			fmt.Fprintf(&b, "- %s\n", bullet)
		}
	}
	return b.String()
}

// sessionSignals builds and embeds one signal per bullet, in section order.
func sessionSignals(ctx context.Context, deps Deps, scope Scope, sections []sessionSection, now int64) ([]*model.Signal, error) {
	var signals []*model.Signal
	for _, sec := range sections {
		for _, bullet := range sec.bullets {
			id, err := model.NewID()
			if err != nil {
				return nil, errors.NewInternal(err)
			}
			signals = append(signals, &model.Signal{
				ID:          id,
				WorkspaceID: scope.WorkspaceID,
				UserID:      scope.UserID,
				Content:     bullet,
				AIPriority:  sec.priority,
				Status:      model.SignalOpen,
				Source:      SessionSignalSource,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for _, s := range signals {
		g.Go(func() error {
			vec, err := deps.Embedder.Embed(gctx, s.Content)
			if err != nil {
				return errors.NewProviderFailure("embedding", err)
			}
			s.Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return signals, nil
}
