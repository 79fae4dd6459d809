package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"broadcast-ops/backend/internal/config"
	"broadcast-ops/backend/internal/repository"
	"broadcast-ops/backend/internal/services"
	"broadcast-ops/backend/internal/workflow"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			switch cfg.Storage.Driver {
			case config.DriverMemory:
				fmt.Fprintf(cmd.OutOrStdout(), "Storage driver %q needs no migrations\n", cfg.Storage.Driver)
				return nil
			case config.DriverSQLite:
				store, err := repository.OpenSQLite(cmd.Context(), cfg.Storage.Path)
				if err != nil {
					return err
				}
				if err := store.Close(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
				return nil
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			pool, err := initDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := repository.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}
}

func newRepairCommand(ctx *commandContext) *cobra.Command {
	var episodeID string

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Propagate open QC revision requests to the owning sub-works",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			var reports []*services.ChangeReport
			if episodeID != "" {
				report, err := rt.service.RepairEpisode(cmd.Context(), episodeID)
				if err != nil {
					return err
				}
				reports = append(reports, report)
			} else {
				reports, err = rt.service.RepairAll(cmd.Context())
			}

			tbl := newLedgerTable("",
				column{title: "Episode"},
				column{title: "Repairs", numeric: true},
				column{title: "Step Changes", numeric: true},
				column{title: "Diagnostics", numeric: true},
			)
			for _, r := range reports {
				tbl.add(
					r.EpisodeID,
					strconv.Itoa(len(r.Repairs)),
					strconv.Itoa(len(r.Steps)),
					strconv.Itoa(len(r.Diagnostics)),
				)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tbl)
			return err
		},
	}

	cmd.Flags().StringVar(&episodeID, "episode", "", "Repair a single episode")
	return cmd
}

func newSnapshotCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot EPISODE_ID",
		Short: "Show the workflow ledger of an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			state, err := rt.service.GetEpisodeState(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSnapshot(state))
			return nil
		},
	}
}

func renderSnapshot(state *services.EpisodeState) string {
	var b strings.Builder
	ep := state.Episode
	fmt.Fprintf(&b, "%s #%d %s (%s)\n", ep.ProgramID, ep.EpisodeNumber, ep.Title, ep.Status)

	steps := newLedgerTable("Steps",
		column{title: "Step", numeric: true},
		column{title: "Name"},
		column{title: "Status"},
		column{title: "Completed"},
	)
	for _, s := range state.Steps {
		completed := ""
		if s.CompletedAt != nil {
			completed = s.CompletedAt.Format("2006-01-02 15:04")
		}
		marker := ""
		if s.Step == ep.CurrentStep {
			marker = "*"
		}
		steps.add(marker+strconv.Itoa(s.Step), s.Name, string(s.Status), completed)
	}
	b.WriteString(steps.String())
	b.WriteString("\n")

	works := newLedgerTable("Sub-works",
		column{title: "Discipline"},
		column{title: "Status"},
		column{title: "Assigned"},
		column{title: "ID"},
	)
	for _, w := range state.SubWorks {
		works.add(string(w.Discipline), string(w.Status), w.AssignedTo, w.ID)
	}
	if !works.empty() {
		b.WriteString(works.String())
		b.WriteString("\n")
	}

	for _, reason := range state.Blocked {
		fmt.Fprintf(&b, "blocked: %s\n", reason)
	}
	return b.String()
}

func newDefinitionCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definition",
		Short: "Inspect the workflow definition",
	}

	load := func(args []string) (*workflow.Definition, error) {
		if len(args) == 1 {
			return workflow.Load(args[0])
		}
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return nil, err
		}
		return workflow.Load(cfg.Workflow.DefinitionFile)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [FILE]",
		Short: "Check a definition file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := load(args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Definition is valid: %d steps, %d disciplines\n", len(def.Steps), len(def.Disciplines))
			return nil
		},
	})

	var asJSON bool
	show := &cobra.Command{
		Use:   "show [FILE]",
		Short: "Print the step table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := load(args)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(def)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDefinition(def))
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	cmd.AddCommand(show)

	return cmd
}

func renderDefinition(def *workflow.Definition) string {
	tbl := newLedgerTable("",
		column{title: "#", numeric: true},
		column{title: "Key"},
		column{title: "Requires", wrap: 48},
		column{title: "Provisions", wrap: 32},
	)
	for _, s := range def.Steps {
		var requires []string
		for _, disc := range s.RequiredDisciplines() {
			statuses := make([]string, len(s.Requires[disc]))
			for i, st := range s.Requires[disc] {
				statuses[i] = string(st)
			}
			requires = append(requires, fmt.Sprintf("%s=%s", disc, strings.Join(statuses, "|")))
		}
		provision := make([]string, len(s.Provision))
		for i, d := range s.Provision {
			provision[i] = string(d)
		}
		tbl.add(strconv.Itoa(s.Number), s.Key, strings.Join(requires, ", "), strings.Join(provision, ", "))
	}
	return tbl.String()
}
