package digest

import (
	"fmt"
	"strings"
	"time"

	"github.com/nelsonng/tensient/internal/model"
	"github.com/nelsonng/tensient/internal/schema"
)

const digestSystem = `You write a team's weekly Top 5: the five things that mattered most this week.
Prefer concrete numbers, names and dates over abstraction. Reject generic corporate phrasing
("drive alignment", "leverage synergies", "move the needle"). Respond with a single JSON object
that matches the supplied schema.`

// digestPrompt renders the week's material. strategy is the current Canon's
// content and is empty when the workspace has no Canon.
func digestPrompt(week time.Time, strategy string, artifacts []*model.Artifact, actions []*model.Action, pillars, coaches []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Week of %s\n\n", week.Format("Monday, January 2, 2006"))

	if strategy = strings.TrimSpace(strategy); strategy != "" {
		b.WriteString("## Strategy\n")
		b.WriteString(strategy)
		b.WriteString("\n\nRank items by how much they move this strategy.\n\n")
	}

	b.WriteString("## Rules\n")
	fmt.Fprintf(&b, "- Return exactly %d items ranked 1 to %d, each rank used once.\n", schema.DigestItemCount, schema.DigestItemCount)
	fmt.Fprintf(&b, "- title: at most %d characters. detail: one sentence.\n", schema.DigestTitleMaxLength)
	b.WriteString("- priority: critical, high, medium or low.\n")
	if len(pillars) == 0 {
		b.WriteString("- goalPillar: null. No strategic pillars are defined.\n\n")
	} else {
		b.WriteString("- goalPillar: one of the pillar titles below copied exactly, or null for emergent work.\n\n")
		b.WriteString("## Strategic pillars\n")
		for _, p := range pillars {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	if len(coaches) > 0 {
		fmt.Fprintf(&b, "Coaching lenses in use: %s.\n\n", strings.Join(coaches, ", "))
	}

	b.WriteString("## Artifacts\n")
	if len(artifacts) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range artifacts {
		pillar := "emergent"
		if a.GoalPillar != nil {
			pillar = *a.GoalPillar
		}
		fmt.Fprintf(&b, "- [alignment %.2f, pillar %s] %s\n", a.AlignmentScore, pillar, oneLine(a.Synthesis))
	}

	b.WriteString("\n## Actions\n")
	if len(actions) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range actions {
		fmt.Fprintf(&b, "- [%s, %s] %s\n", a.Status, a.Priority, oneLine(a.Title))
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
