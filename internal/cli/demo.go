package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shopassist/server/internal/agent/graph/tools"
	"github.com/shopassist/server/internal/server"
)

// scenario is a scripted conversation. Steps are chat input lines, so slash
// commands work too.
type scenario struct {
	Name  string
	Steps []string
}

var scenarios = []scenario{
	{Name: "structured-search", Steps: []string{"Show me products under $5 in produce"}},
	{Name: "semantic-search", Steps: []string{"I need bananas"}},
	{Name: "cart", Steps: []string{
		"Add product 123 to my cart",
		"Add product 24852 to my cart",
		"Remove product 123 from my cart",
		"/cart",
	}},
	{Name: "escalation", Steps: []string{
		"Add product 123 to my cart",
		"I want a refund, the spinach was spoiled",
		"hello?",
		"/resolve Refund of $3.49 approved.",
		"Thanks, what happens now?",
		"/history",
	}},
	{Name: "history", Steps: []string{"What have I bought before?"}},
}

func newDemoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo [scenario...]",
		Short: "Run scripted conversations",
		Long:  "Runs scripted conversations against the assistant. With no arguments every scenario runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, app, err := setup(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			selected, err := selectScenarios(args)
			if err != nil {
				return err
			}
			return runScenarios(cmd.Context(), cmd.OutOrStdout(), app.Runner, app.Catalog, selected)
		},
	}
	cmd.Flags().String("store", "", "Conversation store backend: memory or redis (overrides STORE_BACKEND)")
	return cmd
}

func selectScenarios(names []string) ([]scenario, error) {
	if len(names) == 0 {
		return scenarios, nil
	}
	out := make([]scenario, 0, len(names))
	for _, name := range names {
		found := false
		for _, sc := range scenarios {
			if sc.Name == name {
				out = append(out, sc)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
	}
	return out, nil
}

// runScenarios plays each scenario on a fresh thread. Step errors are
// printed and the script continues.
func runScenarios(ctx context.Context, out io.Writer, assistant server.Assistant, catalog tools.Catalog, list []scenario) error {
	for _, sc := range list {
		fmt.Fprintf(out, "=== %s ===\n", sc.Name)
		s := &chatSession{
			assistant: assistant,
			catalog:   catalog,
			threadID:  "demo-" + sc.Name + "-" + uuid.NewString()[:8],
			out:       out,
			render:    func(s string) string { return s },
		}
		for _, step := range sc.Steps {
			fmt.Fprintf(out, "> %s\n", step)
			if _, err := s.handle(ctx, step); err != nil {
				fmt.Fprintf(out, "error: %s\n", describe(err))
			}
		}
		fmt.Fprintln(out, strings.Repeat("-", 40))
	}
	return nil
}
