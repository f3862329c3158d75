package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wreckit/wreckit/internal/config"
)

// defaultPrompts seeds prompts/*.md the first time wreckit init runs. An
// operator is expected to replace these with project-specific instructions;
// wreckit never overwrites a template that already exists.
var defaultPrompts = map[string]string{
	"research.md": `Research the idea below and write {{.item_path}}/research.md.

Item: {{.title}} ({{.id}})
Section: {{.section}}
Overview: {{.overview}}

{{.skill_context}}

Cover: Summary, Current State Analysis, Key Files, Technical Considerations,
Risks and Mitigations, Recommended Approach, Open Questions.

When finished, emit {{.completion_signal}} on its own line.
`,
	"plan.md": `Using the research below, write {{.item_path}}/plan.md and
{{.item_path}}/prd.json.

Item: {{.title}} ({{.id}})

Research:
{{.research}}

{{.skill_context}}

plan.md needs Overview, Current State, Desired End State, What We're NOT
Doing, and Implementation Approach sections, plus one "Phase N" section per
implementation phase, each with a Success Criteria subsection.
prd.json needs a "stories" array of {id, title, acceptance_criteria, status}.

When finished, emit {{.completion_signal}} on its own line.
`,
	"implement.md": `Implement story {{.story_id}}: {{.story_title}}.

Item: {{.title}} ({{.id}})
Acceptance criteria: {{.story_acceptance_criteria}}

Plan:
{{.plan}}

{{.skill_context}}

Progress so far:
{{.progress}}

When the story's acceptance criteria are met, emit {{.completion_signal}} on
its own line.
`,
	"critique.md": `Adversarially review the implementation of {{.title}} ({{.id}})
and write {{.item_path}}/critique.md.

PRD:
{{.prd}}

{{.skill_context}}

Call out anything a reviewer would push back on: missed edge cases, test
gaps, scope creep, style drift. critique.md has no required structure; it
just needs to say something real.

When finished, emit {{.completion_signal}} on its own line.
`,
}

func newInitCmd(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a wreckit repository in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(g)
			if err != nil {
				return err
			}

			if g.DryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "[dry-run] would initialize %s\n", app.Store.Root)
				return nil
			}

			if err := app.Store.Init(); err != nil {
				return fmt.Errorf("initialize store: %w", err)
			}

			if _, err := os.Stat(app.Store.ConfigPath()); os.IsNotExist(err) {
				if err := config.Save(app.Store.ConfigPath(), config.Default()); err != nil {
					return fmt.Errorf("write default config: %w", err)
				}
			}

			promptsDir := filepath.Join(app.Store.Root, "prompts")
			if err := os.MkdirAll(promptsDir, 0o755); err != nil {
				return fmt.Errorf("create prompts directory: %w", err)
			}
			for name, body := range defaultPrompts {
				path := filepath.Join(promptsDir, name)
				if _, err := os.Stat(path); err == nil {
					continue
				}
				if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
					return fmt.Errorf("write prompt template %s: %w", name, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "initialized wreckit repository at %s\n", app.Store.Root)
			return nil
		},
	}
}
