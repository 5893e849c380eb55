package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chitragupta/internal/buddhi"
	"github.com/haasonsaas/chitragupta/internal/observability"
	"github.com/haasonsaas/chitragupta/internal/storage"
)

// buildDecisionsCmd creates the "decisions" command group over the
// decision log.
func buildDecisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Inspect the recorded decision log",
	}
	cmd.AddCommand(
		buildDecisionsListCmd(),
		buildDecisionsShowCmd(),
		buildDecisionsExplainCmd(),
		buildDecisionsOutcomeCmd(),
		buildDecisionsPatternsCmd(),
	)
	return cmd
}

// openDecisionStore wires config -> sqlite -> decision store for the
// one-shot inspection commands.
func openDecisionStore(configPath string) (*buddhi.Store, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := buddhi.NewStore(db, nil, observability.Discard())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}

func buildDecisionsListCmd() *cobra.Command {
	var (
		configPath string
		project    string
		category   string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openDecisionStore(configPath)
			if err != nil {
				return err
			}
			defer done()

			decisions, err := store.ListDecisions(cmd.Context(), buddhi.Filter{
				Project:  project,
				Category: buddhi.Category(category),
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(decisions) == 0 {
				fmt.Fprintln(out, "No decisions recorded.")
				return nil
			}
			for _, d := range decisions {
				outcome := "pending"
				if d.Outcome != nil {
					if d.Outcome.Success {
						outcome = "success"
					} else {
						outcome = "failure"
					}
				}
				fmt.Fprintf(out, "%s  %-14s  %.2f  %-8s  %s\n",
					d.ID, d.Category, d.Confidence, outcome, d.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&project, "project", "", "Filter by project")
	cmd.Flags().StringVar(&category, "category", "", "Filter by category")
	cmd.Flags().IntVar(&limit, "limit", 20, "Max decisions to return")
	return cmd
}

func buildDecisionsShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one decision as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openDecisionStore(configPath)
			if err != nil {
				return err
			}
			defer done()

			d, err := store.GetDecision(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(d, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildDecisionsExplainCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "explain <id>",
		Short: "Print a decision's full reasoning chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openDecisionStore(configPath)
			if err != nil {
				return err
			}
			defer done()

			text, err := store.ExplainDecision(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildDecisionsOutcomeCmd() *cobra.Command {
	var (
		configPath string
		failed     bool
		feedback   string
	)
	cmd := &cobra.Command{
		Use:   "outcome <id>",
		Short: "Record how a decision turned out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openDecisionStore(configPath)
			if err != nil {
				return err
			}
			defer done()

			err = store.RecordOutcome(cmd.Context(), args[0], buddhi.Outcome{
				Success:  !failed,
				Feedback: feedback,
			})
			if storage.IsNotFound(err) {
				return fmt.Errorf("decision %s not found", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Outcome recorded for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&failed, "failed", false, "Mark the decision as a failure")
	cmd.Flags().StringVar(&feedback, "feedback", "", "Free-form feedback")
	return cmd
}

func buildDecisionsPatternsCmd() *cobra.Command {
	var (
		configPath string
		project    string
	)
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Aggregate decisions by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openDecisionStore(configPath)
			if err != nil {
				return err
			}
			defer done()

			patterns, err := store.DecisionPatterns(cmd.Context(), project)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(patterns) == 0 {
				fmt.Fprintln(out, "No decisions recorded.")
				return nil
			}
			fmt.Fprintf(out, "%-16s %6s %12s %12s  %s\n", "CATEGORY", "COUNT", "CONFIDENCE", "SUCCESS", "LATEST")
			for _, p := range patterns {
				fmt.Fprintf(out, "%-16s %6d %12.3f %12.3f  %s\n",
					p.Category, p.Count, p.AvgConfidence, p.SuccessRate, p.Representative)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&project, "project", "", "Filter by project")
	return cmd
}
