package capture

import (
	"fmt"
	"strings"

	"github.com/nelsonng/tensient/internal/lens"
	"github.com/nelsonng/tensient/internal/model"
)

const analysisSystem = `You turn one contributor's raw update into a structured record for their team.
Respond with a single JSON object that matches the supplied schema. No prose outside the JSON.`

const refinementSystem = `You refine a structured record of a contributor's update using their feedback.
Improve the previous output; do not restate it. Respond with a single JSON object that matches the supplied schema.`

// analysisPrompt composes the analysis prompt from the raw text, every
// supplied lens, and the Canon's pillar titles.
func analysisPrompt(content string, lenses []lens.Lens, pillars []string) string {
	var b strings.Builder

	b.WriteString("## Update\n")
	b.WriteString(content)
	b.WriteString("\n\n")

	writeInstructions(&b)
	writeLenses(&b, lenses)
	writePillars(&b, pillars)

	return b.String()
}

// refinementPrompt composes the refinement prompt. It carries the original
// raw text, the previous synthesis and feedback, and the new feedback.
func refinementPrompt(content string, prev *model.Artifact, feedback string, round int, lenses []lens.Lens, pillars []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Round %d\n", round)
	b.WriteString("Improve the previous output using the contributor's feedback. Do not repeat the previous synthesis verbatim.\n")
	b.WriteString("Ask a fresh round of coaching questions aimed at the gaps that remain.\n\n")

	b.WriteString("## Original update\n")
	b.WriteString(content)
	b.WriteString("\n\n")

	b.WriteString("## Previous synthesis\n")
	b.WriteString(prev.Synthesis)
	b.WriteString("\n\n")

	b.WriteString("## Previous feedback\n")
	b.WriteString(prev.Feedback)
	b.WriteString("\n\n")

	b.WriteString("## Contributor feedback\n")
	b.WriteString(feedback)
	b.WriteString("\n\n")

	writeInstructions(&b)
	writeLenses(&b, lenses)
	writePillars(&b, pillars)

	return b.String()
}

func writeInstructions(b *strings.Builder) {
	b.WriteString("## Output\n")
	b.WriteString("- sentiment_score: number from -1 (negative) to 1 (positive).\n")
	b.WriteString("- action_items: every concrete task mentioned, each with status open, blocked or done.\n")
	b.WriteString("- synthesis: a cleaned, concise restatement of the update.\n")
	b.WriteString("- feedback: direct coaching feedback for the contributor.\n")
	b.WriteString("- alignment_explanation: how the update relates to the strategy.\n\n")
}

func writeLenses(b *strings.Builder, lenses []lens.Lens) {
	if len(lenses) == 0 {
		b.WriteString("## Coaching lenses\nNo coaching lenses are available; return an empty coaching_questions array.\n\n")
		return
	}
	b.WriteString("## Coaching lenses\n")
	b.WriteString("Apply every lens below at once. Each coaching question names the coach that asks it, using one of: ")
	b.WriteString(strings.Join(lens.Names(lenses), ", "))
	b.WriteString(".\n\n")
	b.WriteString(lens.JoinPrompts(lenses))
	b.WriteString("\n\n")
}

func writePillars(b *strings.Builder, pillars []string) {
	b.WriteString("## Strategic pillars\n")
	if len(pillars) == 0 {
		b.WriteString("No strategic pillars are defined. Set goal_pillar to null.\n")
		return
	}
	b.WriteString("If the update advances one of these pillars, set goal_pillar to its title copied exactly. Otherwise set it to null.\n")
	for _, p := range pillars {
		fmt.Fprintf(b, "- %s\n", p)
	}
}
