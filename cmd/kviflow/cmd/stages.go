package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kviflow/kviflow/internal/stage"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "List pipeline stages",
	Long:  `List the pipeline stages in execution order, with the model each one uses.`,
	RunE:  runStages,
}

func init() {
	rootCmd.AddCommand(stagesCmd)
}

func runStages(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	registry := stage.NewRegistry(logger,
		stage.WithMaxSelections(cfg.Pipeline.ExtractMaxCategories),
		stage.WithModels(cfg.Provider.ModelFor),
	)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tKIND\tMODEL\tDESCRIPTION")
	for _, d := range registry.List() {
		kind := "structured"
		if d.Conversational {
			kind = "conversational"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, kind, d.Model, d.Description)
	}
	return w.Flush()
}
