package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-dispatch/internal/db"
	"github.com/unclebandit/outreach-dispatch/internal/model"
	"github.com/unclebandit/outreach-dispatch/internal/service"
)

func parseCampaignID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid campaign id %q", arg)
	}
	return id, nil
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run dispatch and auto-resend on their configured intervals",
		Long:  "Run dispatch and auto-resend on their configured intervals.\n\nRequires DATABASE_URL or DB_NAME; the worker never runs against the in-memory store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			engine, err := ctx.engineFor(runCtx, cmd.Name())
			if err != nil {
				return err
			}
			engine.Log.Info().
				Dur("dispatch_interval", engine.Config.DispatchInterval).
				Dur("resend_interval", engine.Config.ResendInterval).
				Msg("worker running")
			engine.Scheduler().Start(runCtx)
			engine.Log.Info().Msg("worker stopped")
			return nil
		},
	}
}

func newDispatchCommand(ctx *commandContext) *cobra.Command {
	var maxCount int
	cmd := &cobra.Command{
		Use:   "dispatch <campaign-id>",
		Short: "Process one batch for a campaign",
		Long:  "Process one batch for a campaign.\n\nRequires DATABASE_URL or DB_NAME; the worker never runs against the in-memory store.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCampaignID(args[0])
			if err != nil {
				return err
			}
			engine, err := ctx.engineFor(cmd.Context(), cmd.Name())
			if err != nil {
				return err
			}
			if maxCount <= 0 {
				maxCount = engine.Config.BatchSize
			}
			res, err := engine.Dispatcher.ProcessBatch(cmd.Context(), id, maxCount)
			if err != nil {
				return err
			}
			rows := [][]string{
				{"Processed", strconv.Itoa(res.Processed)},
				{"Sent", strconv.Itoa(res.Sent)},
				{"Failed", strconv.Itoa(res.Failed)},
				{"Remaining", strconv.Itoa(res.Remaining)},
				{"Completed", strconv.FormatBool(res.Completed)},
			}
			if res.Reason != "" {
				rows = append(rows, []string{"Reason", res.Reason})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Batch", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxCount, "max", 0, "Maximum sends in this batch (defaults to BATCH_SIZE)")
	return cmd
}

func newResendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resend",
		Short: "Run one auto-resend pass",
		Long:  "Run one auto-resend pass.\n\nRequires DATABASE_URL or DB_NAME; the worker never runs against the in-memory store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ctx.engineFor(cmd.Context(), cmd.Name())
			if err != nil {
				return err
			}
			res, err := engine.Planner.RunAutoResendPass(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Skipped {
				fmt.Fprintln(out, "another resend pass is running")
				return nil
			}
			if len(res.Outcomes) == 0 {
				fmt.Fprintln(out, "no campaigns eligible for resend")
				return nil
			}
			rows := make([][]string, 0, len(res.Outcomes))
			for _, o := range res.Outcomes {
				child := ""
				if o.ChildID != nil {
					child = strconv.FormatInt(*o.ChildID, 10)
				}
				rows = append(rows, []string{strconv.FormatInt(o.CampaignID, 10), o.Outcome, child, strconv.Itoa(o.NonOpeners), o.Error})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Campaign", "Outcome", "Follow-up", "Non-openers", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <campaign-id>",
		Short: "Show a campaign and its recipient counts",
		Long:  "Show a campaign and its recipient counts.\n\nRequires DATABASE_URL or DB_NAME; the worker never runs against the in-memory store.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCampaignID(args[0])
			if err != nil {
				return err
			}
			engine, err := ctx.engineFor(cmd.Context(), cmd.Name())
			if err != nil {
				return err
			}
			details, err := engine.Campaigns.GetCampaignDetailsWithStats(cmd.Context(), id)
			if err != nil {
				return err
			}
			rows := [][]string{
				{"Name", details.Name},
				{"Status", string(details.Status)},
				{"Total", strconv.Itoa(details.Stats["total"])},
			}
			for _, s := range model.AllRecipientStatuses {
				if n := details.Stats[string(s)]; n > 0 {
					rows = append(rows, []string{string(s), strconv.Itoa(n)})
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Campaign " + args[0], ""}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|status>",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := ctx.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			return db.Migrate(conn, args[0])
		},
	}
}

func newSeedCommand(ctx *commandContext) *cobra.Command {
	var count int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo campaign with generated recipients",
		Long:  "Create a demo campaign with generated recipients.\n\nRequires DATABASE_URL or DB_NAME; the worker never runs against the in-memory store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--recipients must be positive")
			}
			engine, err := ctx.engineFor(cmd.Context(), cmd.Name())
			if err != nil {
				return err
			}
			c, err := engine.Campaigns.CreateCampaign(cmd.Context(), service.CreateCampaignInput{
				Name:         "Demo outreach",
				Subject:      "Quick question for {company}",
				BodyTemplate: "<p>Hi {first_name},</p><p>Is {company} still looking at outbound tooling?</p>",
				FromName:     "Demo Team",
				FromEmail:    "demo@example.com",
				SendRate:     60,
				IsDryRun:     dryRun,
			})
			if err != nil {
				return err
			}
			in := make([]service.RecipientInput, count)
			for i := range in {
				in[i] = service.RecipientInput{
					Email:   fmt.Sprintf("lead%03d@example.com", i+1),
					Name:    fmt.Sprintf("Lead %03d", i+1),
					Company: fmt.Sprintf("Company %d", i%7+1),
				}
			}
			queued, err := engine.Campaigns.QueueRecipients(cmd.Context(), c.ID, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded campaign %d with %d recipients\n", c.ID, queued)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "recipients", 20, "Number of recipients to generate")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "Mark the campaign as dry run")
	return cmd
}
