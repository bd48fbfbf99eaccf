package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"jobpilot-workers/internal/models"
	"jobpilot-workers/internal/pipeline"
	emailsend "jobpilot-workers/internal/workers/communication/email-send"
	extractjob "jobpilot-workers/internal/workers/pipeline/extract-job"
	generateapplication "jobpilot-workers/internal/workers/pipeline/generate-application"
	scorejob "jobpilot-workers/internal/workers/pipeline/score-job"
	"jobpilot-workers/internal/workers/pipeline/stage"

	"github.com/spf13/cobra"
)

// stageCommands maps each batch command to the stage it sweeps.
var stageCommands = []struct {
	use   string
	stage string
	short string
}{
	{"extract-pending", extractjob.TaskType, "Extract structured fields from pending postings"},
	{"score-pending", scorejob.TaskType, "Score extracted postings against the candidate profile"},
	{"generate-pending", generateapplication.TaskType, "Generate and render application documents"},
	{"send-pending-emails", emailsend.TaskType, "Email completed application versions"},
}

func newRootCmd(b backend) *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Batch commands for the job application pipeline",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				b.SetConfigFile(configFile)
			}
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default configs/config.yaml)")

	for _, sc := range stageCommands {
		root.AddCommand(newStageCmd(b, sc.use, sc.stage, sc.short))
	}
	root.AddCommand(
		newRunPipelineCmd(b),
		newSendVersionCmd(b),
		newMigrateCmd(b),
		newSubmitCmd(b),
		newMarkDoneCmd(b),
		newReprocessCmd(b),
	)
	return root
}

func newStageCmd(b backend, use, stageName, short string) *cobra.Command {
	var (
		appID       string
		limit       int
		stopOnError bool
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := b.Runner(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := runner.RunStage(cmd.Context(), stageName, stage.Scope{
				ApplicationID: appID,
				Limit:         limit,
				StopOnError:   stopOnError,
			})
			printStage(cmd.OutOrStdout(), rep)
			return err
		},
	}
	cmd.Flags().StringVar(&appID, "id", "", "only this application")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to process (default batch size)")
	cmd.Flags().BoolVar(&stopOnError, "stop-on-failure", false, "stop at the first failing row")
	return cmd
}

func newRunPipelineCmd(b backend) *cobra.Command {
	var stopOnFailure bool
	cmd := &cobra.Command{
		Use:   "run-pipeline",
		Short: "Run extract, score, generate and email in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := b.Runner(cmd.Context())
			if err != nil {
				return err
			}
			report, err := runner.Run(cmd.Context(), stopOnFailure)
			printReport(cmd.OutOrStdout(), report)
			return err
		},
	}
	cmd.Flags().BoolVar(&stopOnFailure, "stop-on-failure", false, "abort the run at the first failure")
	return cmd
}

func newSendVersionCmd(b backend) *cobra.Command {
	return &cobra.Command{
		Use:   "send-version <version-id>",
		Short: "Email one completed application version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := b.VersionSender(cmd.Context())
			if err != nil {
				return err
			}
			err = sender.SendVersion(cmd.Context(), args[0])
			if errors.Is(err, emailsend.ErrNotReady) {
				fmt.Fprintf(cmd.OutOrStdout(), "version %s: nothing to send\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %s: sent\n", args[0])
			return nil
		},
	}
}

func newMigrateCmd(b backend) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := b.Migrator(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.Up(cmd.Context()); err != nil {
				return err
			}
			v, err := m.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
			return nil
		},
	}
}

func newSubmitCmd(b backend) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <payload.json|->",
		Short: "Publish a job payload to the intake queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			coord, err := b.Coordinator(cmd.Context())
			if err != nil {
				return err
			}
			jobID, err := coord.SubmitJob(cmd.Context(), payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted job %s\n", jobID)
			return nil
		},
	}
}

func newMarkDoneCmd(b backend) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-done <application-id>",
		Short: "Mark an application as applied by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := b.Coordinator(cmd.Context())
			if err != nil {
				return err
			}
			if err := coord.MarkDone(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mark-done queued for %s\n", args[0])
			return nil
		},
	}
}

func newReprocessCmd(b backend) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <application-id> <message>",
		Short: "Regenerate an application with extra instructions",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := b.Coordinator(cmd.Context())
			if err != nil {
				return err
			}
			message := strings.Join(args[1:], " ")
			if err := coord.Reprocess(cmd.Context(), args[0], message); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reprocess queued for %s\n", args[0])
			return nil
		},
	}
}

// readPayload reads a JobPayload from a file, or stdin when path is "-".
func readPayload(stdin io.Reader, path string) (models.JobPayload, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return models.JobPayload{}, fmt.Errorf("read payload: %w", err)
	}

	var p models.JobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.JobPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	if len(p.Data.Job) == 0 {
		return models.JobPayload{}, fmt.Errorf("payload has no data.job")
	}
	return p, nil
}

func printStage(w io.Writer, rep pipeline.StageReport) {
	if rep.Skipped {
		fmt.Fprintf(w, "%-22s skipped (lock held)\n", rep.Name)
		return
	}
	fmt.Fprintf(w, "%-22s processed=%d failed=%d\n", rep.Name, rep.Result.Processed, rep.Result.Failed)
	for _, err := range rep.Result.Errors {
		fmt.Fprintf(w, "  - %v\n", err)
	}
}

func printReport(w io.Writer, report pipeline.Report) {
	if report.Skipped {
		fmt.Fprintln(w, "pipeline skipped (lock held)")
		return
	}
	for _, rep := range report.Stages {
		printStage(w, rep)
	}
	total := report.Totals()
	fmt.Fprintf(w, "%-22s processed=%d failed=%d\n", "total", total.Processed, total.Failed)
}
