package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v2"

	"github.com/nelsonng/tensient/internal/capture"
	"github.com/nelsonng/tensient/internal/digest"
	"github.com/nelsonng/tensient/internal/errors"
	"github.com/nelsonng/tensient/internal/model"
	"github.com/nelsonng/tensient/internal/ops"
	"github.com/nelsonng/tensient/internal/web"
)

// newCLIApp creates the CLI application with all commands. rt may be nil
// when only help or version output is needed.
func newCLIApp(rt *runtime) *cli.App {
	app := &cli.App{
		Name:    "tensient",
		Usage:   "Strategic alignment and team knowledge layer",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|pretty"},
			&cli.StringFlag{Name: "style", Value: "auto", Usage: "Markdown style for pretty output: auto|dark|light|notty"},
		},
		Commands: []*cli.Command{
			captureCmd(rt),
			reprocessCmd(rt),
			refineCmd(rt),
			historyCmd(rt),
			canonCmd(rt),
			digestCmd(rt),
			actionsCmd(rt),
			documentCmd(rt),
			synthesizeCmd(rt),
			orientCmd(rt),
			webCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// scope returns the configured caller identity.
func (rt *runtime) scope() ops.Scope {
	return ops.Scope{WorkspaceID: rt.cfg.WorkspaceID, UserID: rt.cfg.UserID}
}

// captureCmd creates the capture command.
func captureCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "capture",
		Usage:     "Submit a capture for analysis (content from args or stdin)",
		ArgsUsage: "[content]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Value: "cli", Usage: "Capture source label"},
		},
		Action: func(c *cli.Context) error {
			content := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if content == "" {
				var err error
				if content, err = readInput(c); err != nil {
					return outputError(errors.NewInternal(err))
				}
			}
			if content == "" {
				return outputError(errors.NewInvalidRequest("content is required (pass as argument or pipe via stdin)"))
			}

			scope := rt.scope()
			result, err := rt.processor.Process(c.Context, capture.SubmitInput{
				UserID:      scope.UserID,
				WorkspaceID: scope.WorkspaceID,
				Content:     content,
				Source:      c.String("source"),
			})
			if err != nil {
				return outputError(err)
			}
			return output(c, result, resultMarkdown(result))
		},
	}
}

// reprocessCmd creates the reprocess command.
func reprocessCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "reprocess",
		Usage:     "Re-run analysis for a capture whose processing failed",
		ArgsUsage: "<capture-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}
			result, err := rt.processor.Reprocess(c.Context, rt.cfg.WorkspaceID, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return output(c, result, resultMarkdown(result))
		},
	}
}

// refineCmd creates the refine command.
func refineCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "refine",
		Usage:     "Refine an artifact with feedback (--feedback or stdin)",
		ArgsUsage: "<artifact-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "feedback", Usage: "Feedback for the next iteration"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("artifact id is required"))
			}
			feedback := strings.TrimSpace(c.String("feedback"))
			if feedback == "" {
				var err error
				if feedback, err = readInput(c); err != nil {
					return outputError(errors.NewInternal(err))
				}
			}

			scope := rt.scope()
			result, err := rt.processor.Refine(c.Context, capture.RefineInput{
				UserID:      scope.UserID,
				WorkspaceID: scope.WorkspaceID,
				ArtifactID:  c.Args().First(),
				Feedback:    feedback,
			})
			if err != nil {
				return outputError(err)
			}
			return output(c, result, resultMarkdown(result))
		},
	}
}

// historyCmd creates the history command.
func historyCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show every artifact of a capture, oldest first",
		ArgsUsage: "<capture-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}
			out, err := rt.processor.History(c.Context, rt.cfg.WorkspaceID, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return output(c, out, historyMarkdown(out))
		},
	}
}

// canonCmd creates the canon command group.
func canonCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "canon",
		Usage: "Manage the workspace canon",
		Subcommands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Store a new canon (reads content from stdin)",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "pillar", Aliases: []string{"p"}, Usage: "Strategic pillar title (repeatable)"},
				},
				Action: func(c *cli.Context) error {
					content, err := readInput(c)
					if err != nil {
						return outputError(errors.NewInternal(err))
					}
					pillars := make([]model.Pillar, 0, len(c.StringSlice("pillar")))
					for _, title := range c.StringSlice("pillar") {
						if t := strings.TrimSpace(title); t != "" {
							pillars = append(pillars, model.Pillar{Title: t})
						}
					}

					canon, err := rt.processor.CreateCanon(c.Context, capture.CanonInput{
						WorkspaceID: rt.cfg.WorkspaceID,
						Content:     content,
						RawInput:    content,
						Pillars:     pillars,
					})
					if err != nil {
						return outputError(err)
					}
					return output(c, canon, canonMarkdown(canon))
				},
			},
			{
				Name:  "show",
				Usage: "Show the current canon",
				Action: func(c *cli.Context) error {
					canon, err := ops.GetCanon(c.Context, rt.ops, rt.scope(), "")
					if err != nil {
						return outputError(err)
					}
					return output(c, canon, canonMarkdown(canon))
				},
			},
		},
	}
}

// digestCmd creates the digest command group.
func digestCmd(rt *runtime) *cli.Command {
	weekFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "week", Usage: "Any day of the week (YYYY-MM-DD); defaults to the current week"}
	}
	return &cli.Command{
		Name:  "digest",
		Usage: "Generate or show the weekly Top 5",
		Subcommands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Generate the digest for a week",
				Flags: []cli.Flag{weekFlag()},
				Action: func(c *cli.Context) error {
					week, err := parseWeek(c.String("week"))
					if err != nil {
						return outputError(err)
					}
					scope := rt.scope()
					d, err := rt.digests.Generate(c.Context, digest.GenerateInput{
						UserID:      scope.UserID,
						WorkspaceID: scope.WorkspaceID,
						WeekStart:   week,
					})
					if err != nil {
						return outputError(err)
					}
					return output(c, d, digestMarkdown(d))
				},
			},
			{
				Name:  "show",
				Usage: "Show the latest digest for a week",
				Flags: []cli.Flag{weekFlag()},
				Action: func(c *cli.Context) error {
					week, err := parseWeek(c.String("week"))
					if err != nil {
						return outputError(err)
					}
					d, err := rt.digests.Latest(c.Context, rt.cfg.WorkspaceID, week)
					if err != nil {
						return outputError(err)
					}
					return output(c, d, digestMarkdown(d))
				},
			},
		},
	}
}

// actionsCmd creates the actions command group.
func actionsCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "actions",
		Usage: "List or update extracted actions",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List workspace actions, newest first",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "mine", Usage: "Only actions from your captures"},
					&cli.StringFlag{Name: "status", Usage: "Filter by status: open|in_progress|blocked|done"},
					&cli.StringFlag{Name: "since", Usage: "Only actions created on or after (YYYY-MM-DD)"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max items to return"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Pagination offset"},
				},
				Action: func(c *cli.Context) error {
					since, err := parseWeek(c.String("since"))
					if err != nil {
						return outputError(err)
					}
					out, err := ops.ListActions(c.Context, rt.ops, ops.ListActionsInput{
						Scope:  rt.scope(),
						Mine:   c.Bool("mine"),
						Status: model.ActionStatus(c.String("status")),
						Since:  since,
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return output(c, out, actionsMarkdown(out.Items))
				},
			},
			{
				Name:      "set",
				Usage:     "Set an action's status",
				ArgsUsage: "<action-id> <status>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return outputError(errors.NewInvalidRequest("action id and status are required"))
					}
					action, err := ops.UpdateAction(c.Context, rt.ops, ops.UpdateActionInput{
						Scope:  rt.scope(),
						ID:     c.Args().Get(0),
						Status: model.ActionStatus(c.Args().Get(1)),
					})
					if err != nil {
						return outputError(err)
					}
					return output(c, action, actionsMarkdown([]*model.Action{action}))
				},
			},
		},
	}
}

// documentCmd creates the document command.
func documentCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "document",
		Usage:     "Show a document",
		ArgsUsage: "<document-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("document id is required"))
			}
			doc, err := ops.GetDocument(c.Context, rt.ops, rt.scope(), c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return output(c, doc, fmt.Sprintf("# %s\n\n%s\n", doc.Title, doc.Content))
		},
	}
}

// synthesizeCmd creates the synthesize command.
func synthesizeCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "synthesize",
		Usage: "Fold unprocessed signals into the synthesis documents",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max-signals", Usage: "Max signals to fold in one run"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.RunSynthesis(c.Context, rt.ops, ops.RunSynthesisInput{
				Scope:      rt.scope(),
				MaxSignals: c.Int("max-signals"),
			})
			if err != nil {
				return outputError(err)
			}
			return output(c, out, synthesisMarkdown(out))
		},
	}
}

// orientCmd creates the orient command.
func orientCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "orient",
		Usage: "Show an overview of the knowledge layer",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultOrientLimit, Usage: "Max items per list"},
		},
		Action: func(c *cli.Context) error {
			out, err := ops.Orient(c.Context, rt.ops, ops.OrientInput{Scope: rt.scope(), Limit: c.Int("limit")})
			if err != nil {
				return outputError(err)
			}
			return output(c, out, orientMarkdown(out))
		},
	}
}

// webCmd creates the web command.
func webCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Serve the JSON API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Address to bind (defaults to config web_bind)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on (defaults to config web_port)"},
		},
		Action: func(c *cli.Context) error {
			bind := rt.cfg.WebBind
			if c.IsSet("bind") {
				bind = c.String("bind")
			}
			port := rt.cfg.WebPort
			if c.IsSet("port") {
				port = c.Int("port")
			}
			srv := web.NewServer(web.Deps{
				Ops:       rt.ops,
				Processor: rt.processor,
				Digests:   rt.digests,
				Logger:    rt.logger,
			}, rt.cfg, Version, bind, port)
			if err := web.Run(c.Context, srv, rt.logger); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

// output writes v as indented JSON, or md rendered for the terminal when
// --format=pretty.
func output(c *cli.Context, v any, md string) error {
	switch c.String("format") {
	case "", "json":
		return outputJSON(c.App.Writer, v)
	case "pretty":
		rendered, err := renderPretty(md, c.String("style"))
		if err != nil {
			return outputError(errors.NewInternal(err))
		}
		_, err = io.WriteString(c.App.Writer, rendered)
		return err
	default:
		return outputError(errors.NewInvalidRequest("format must be json or pretty"))
	}
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if appErr := errors.As(err); appErr != nil {
		return cli.Exit(fmt.Sprintf("[%s] %s", appErr.Code, appErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// renderPretty renders markdown for the terminal with glamour.
func renderPretty(md, style string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(80)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStylePath(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

// readInput reads the command's input stream. A terminal yields "".
func readInput(c *cli.Context) (string, error) {
	in := c.App.Reader
	if in == nil || in == os.Stdin {
		if !stdinHasData() {
			return "", nil
		}
		in = os.Stdin
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// parseWeek parses a YYYY-MM-DD date. Empty means nil.
func parseWeek(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, errors.NewInvalidRequest("date must be YYYY-MM-DD").WithDetail("value", s)
	}
	return &t, nil
}

func resultMarkdown(r *capture.Result) string {
	var b strings.Builder
	writeArtifact(&b, r.Artifact)
	if len(r.Actions) > 0 {
		b.WriteString("\n## Actions\n\n")
		writeActions(&b, r.Actions)
	}
	if g := r.Gamification; g != nil {
		fmt.Fprintf(&b, "\nStreak **%d**, traction **%.2f**\n", g.Streak, g.Traction)
	}
	return b.String()
}

func historyMarkdown(h *capture.HistoryOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Capture %s\n\n> %s\n", h.Capture.ID, oneLine(h.Capture.Content))
	if len(h.Artifacts) == 0 {
		b.WriteString("\n_Not processed yet._\n")
	}
	for _, a := range h.Artifacts {
		b.WriteString("\n")
		writeArtifact(&b, a)
	}
	return b.String()
}

func writeArtifact(b *strings.Builder, a *model.Artifact) {
	fmt.Fprintf(b, "## Iteration %d\n\n", a.Iteration)
	fmt.Fprintf(b, "Alignment **%.2f** · drift **%.2f** · sentiment **%.2f**", a.AlignmentScore, a.DriftScore, a.SentimentScore)
	if a.GoalPillar != nil {
		fmt.Fprintf(b, " · pillar _%s_", *a.GoalPillar)
	}
	b.WriteString("\n\n")
	if a.Synthesis != "" {
		b.WriteString(a.Synthesis + "\n\n")
	}
	if a.Feedback != "" {
		b.WriteString("**Feedback:** " + a.Feedback + "\n\n")
	}
	for _, q := range a.CoachingQuestions {
		fmt.Fprintf(b, "- _%s:_ %s\n", q.Coach, q.Question)
	}
}

func writeActions(b *strings.Builder, actions []*model.Action) {
	for _, a := range actions {
		check := " "
		if a.Status == model.ActionDone {
			check = "x"
		}
		fmt.Fprintf(b, "- [%s] %s (%s, %s) `%s`\n", check, a.Title, a.Status, a.Priority, a.ID)
	}
}

func actionsMarkdown(actions []*model.Action) string {
	if len(actions) == 0 {
		return "_No actions._\n"
	}
	var b strings.Builder
	b.WriteString("# Actions\n\n")
	writeActions(&b, actions)
	return b.String()
}

func canonMarkdown(c *model.Canon) string {
	var b strings.Builder
	b.WriteString("# Canon\n\n" + c.Content + "\n")
	if len(c.Pillars) > 0 {
		b.WriteString("\n## Pillars\n\n")
		for _, p := range c.Pillars {
			if p.Health != "" {
				fmt.Fprintf(&b, "- %s (%s)\n", p.Title, p.Health)
				continue
			}
			fmt.Fprintf(&b, "- %s\n", p.Title)
		}
	}
	return b.String()
}

func digestMarkdown(d *model.Digest) string {
	var b strings.Builder
	week := time.Unix(d.WeekStart, 0).UTC().Format(time.DateOnly)
	fmt.Fprintf(&b, "# Top 5 for the week of %s\n\n%s\n\n", week, d.Summary)
	for _, item := range d.Items {
		fmt.Fprintf(&b, "%d. **%s** (%s)", item.Rank, item.Title, item.Priority)
		if item.GoalPillar != nil {
			fmt.Fprintf(&b, " _%s_", *item.GoalPillar)
		}
		fmt.Fprintf(&b, "\n   %s\n", item.Detail)
	}
	return b.String()
}

func synthesisMarkdown(out *ops.RunSynthesisOutput) string {
	if out.Skipped {
		return "_Synthesis skipped: " + out.Reason + "_\n"
	}
	var b strings.Builder
	b.WriteString("# Synthesis\n\n")
	if out.Commit != nil {
		b.WriteString(out.Commit.Summary + "\n\n")
	}
	for _, d := range out.Documents {
		fmt.Fprintf(&b, "- %s `%s`\n", d.Title, d.ID)
	}
	return b.String()
}

func orientMarkdown(o *ops.OrientOutput) string {
	var b strings.Builder
	b.WriteString("# Orientation\n\n")
	fmt.Fprintf(&b, "%d documents · signals: %d open, %d resolved, %d dismissed\n",
		o.DocumentCount, o.SignalCounts[model.SignalOpen], o.SignalCounts[model.SignalResolved], o.SignalCounts[model.SignalDismissed])
	if o.LastCommitAt != nil {
		fmt.Fprintf(&b, "\nLast synthesis %s\n", time.Unix(*o.LastCommitAt, 0).UTC().Format(time.RFC3339))
	}
	if len(o.OpenSignals) > 0 {
		b.WriteString("\n## Open signals\n\n")
		for _, s := range o.OpenSignals {
			fmt.Fprintf(&b, "- %s `%s`\n", oneLine(s.Content), s.ID)
		}
	}
	writeSummaries(&b, "Synthesis documents", o.SynthesisDocs)
	writeSummaries(&b, "Recent sessions", o.RecentSessions)
	return b.String()
}

func writeSummaries(b *strings.Builder, heading string, docs []ops.DocumentSummary) {
	if len(docs) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", heading)
	for _, d := range docs {
		fmt.Fprintf(b, "- %s `%s`\n", d.Title, d.ID)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
