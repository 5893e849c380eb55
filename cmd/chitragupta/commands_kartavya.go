package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/chitragupta/internal/kartavya"
	"github.com/haasonsaas/chitragupta/internal/observability"
)

// buildKartavyaCmd creates the "kartavya" command group for duty
// management.
func buildKartavyaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kartavya",
		Short: "Manage autonomous duties",
	}
	cmd.AddCommand(
		buildKartavyaListCmd(),
		buildKartavyaShowCmd(),
		buildKartavyaTransitionCmd("approve", "Approve a proposed duty", (*kartavya.Engine).ApproveNiyama),
		buildKartavyaTransitionCmd("pause", "Pause an active duty", (*kartavya.Engine).Pause),
		buildKartavyaTransitionCmd("resume", "Resume a paused duty", (*kartavya.Engine).Resume),
		buildKartavyaTransitionCmd("retire", "Retire a duty permanently", (*kartavya.Engine).Retire),
	)
	return cmd
}

// openEngine wires config -> sqlite -> duty engine for one-shot
// commands.
func openEngine(configPath string) (*kartavya.Engine, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	engine, err := kartavya.NewEngine(kartavya.EngineConfig{
		MinConfidenceForProposal:    cfg.Kartavya.ProposalConfidence,
		MinConfidenceForAutoApprove: cfg.Kartavya.AutoApproveConfidence,
	}, db, nil, observability.Discard(), nil)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return engine, func() { db.Close() }, nil
}

func buildKartavyaListCmd() *cobra.Command {
	var (
		configPath string
		status     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List duties, optionally by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, done, err := openEngine(configPath)
			if err != nil {
				return err
			}
			defer done()

			duties := engine.List(kartavya.Status(status))
			sort.Slice(duties, func(i, j int) bool { return duties[i].CreatedAt.Before(duties[j].CreatedAt) })
			out := cmd.OutOrStdout()
			if len(duties) == 0 {
				fmt.Fprintln(out, "No duties.")
				return nil
			}
			fmt.Fprintf(out, "%-14s %-10s %-10s %5s %6s  %s\n", "ID", "STATUS", "TRIGGER", "CONF", "FIRES", "NAME")
			for _, k := range duties {
				fmt.Fprintf(out, "%-14s %-10s %-10s %5.2f %6d  %s\n",
					k.ID, k.Status, k.Trigger.Type, k.Confidence, k.FireCount, k.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (proposed, approved, active, paused, retired, completed, failed)")
	return cmd
}

func buildKartavyaShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one duty as JSON, including its execution log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, done, err := openEngine(configPath)
			if err != nil {
				return err
			}
			defer done()

			k, err := engine.Get(args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(k, "", "  ")
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

// buildKartavyaTransitionCmd covers the four status transitions that
// share a shape: one duty id in, one engine call out.
func buildKartavyaTransitionCmd(use, short string, transition func(*kartavya.Engine, context.Context, string) error) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, done, err := openEngine(configPath)
			if err != nil {
				return err
			}
			defer done()

			if err := transition(engine, cmd.Context(), args[0]); err != nil {
				return err
			}
			k, err := engine.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", k.ID, k.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
