package commands

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/ixbulk/am"
	"github.com/teranos/ixbulk/db"
	"github.com/teranos/ixbulk/errors"
	"github.com/teranos/ixbulk/jobs"
	"github.com/teranos/ixbulk/logger"
)

// JobsCmd inspects recorded import jobs
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect recorded import jobs",
	Long: `List and inspect import jobs recorded in the database.

Examples:
  ixbulk jobs ls                      # Recent jobs
  ixbulk jobs ls --status failed      # Only failed jobs
  ixbulk jobs show <job-id>           # Job details and node failures
  ixbulk jobs rm <job-id>             # Forget a job and its failures`,
}

var jobsListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List import jobs",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job and its failures",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "rm <job-id>",
	Short: "Delete a job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRemove,
}

func init() {
	jobsListCmd.Flags().String("status", "", "Filter by status: queued, running, completed, failed, cancelled")
	jobsListCmd.Flags().Int("limit", 20, "Maximum jobs to list; 0 = all")
	jobsShowCmd.Flags().Int("failures", 50, "Maximum failures to show; 0 = all")

	JobsCmd.AddCommand(jobsListCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsRemoveCmd)
}

func openJobStore() (*jobs.Store, *sql.DB, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}
	database, err := db.OpenWithMigrations(cfg.GetDatabasePath(), logger.ComponentLogger("db"))
	if err != nil {
		return nil, nil, err
	}
	return jobs.NewStore(database), database, nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	statusFlag, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	var status *jobs.Status
	if statusFlag != "" {
		if !jobs.IsValidStatus(statusFlag) {
			return errors.NewInvalidRequestError("unknown status %q", statusFlag)
		}
		s := jobs.Status(statusFlag)
		status = &s
	}

	store, database, err := openJobStore()
	if err != nil {
		return err
	}
	defer database.Close()

	list, err := store.List(cmd.Context(), status, limit)
	if err != nil {
		return err
	}

	if useJSON(cmd) {
		return printJSON(cmd, list)
	}
	if len(list) == 0 {
		pterm.Info.Println("No jobs recorded")
		return nil
	}

	now := time.Now()
	data := pterm.TableData{{"ID", "Name", "Mode", "Status", "Docs", "Failures", "Duration", "Created"}}
	for _, j := range list {
		data = append(data, []string{
			j.ID,
			j.Name,
			string(j.Mode),
			statusColor(j.Status),
			fmt.Sprint(j.DocumentsCreated),
			fmt.Sprint(j.Failures),
			j.Duration(now).Round(time.Millisecond).String(),
			j.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("failures")

	store, database, err := openJobStore()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	job, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	failures, err := store.ListFailures(ctx, job.ID, limit)
	if err != nil {
		return err
	}

	if useJSON(cmd) {
		return printJSON(cmd, struct {
			Job      *jobs.Job      `json:"job"`
			Failures []jobs.Failure `json:"failures"`
		}{job, failures})
	}

	return renderJob(job, failures)
}

func renderJob(job *jobs.Job, failures []jobs.Failure) error {
	pterm.DefaultSection.Printf("Job %s", job.ID)
	rows := pterm.TableData{
		{"Name", job.Name},
		{"Mode", string(job.Mode)},
		{"Status", statusColor(job.Status)},
		{"Source", job.Source},
		{"Target", job.Target},
		{"Documents", fmt.Sprint(job.DocumentsCreated)},
		{"Processed", fmt.Sprint(job.NodesProcessed)},
		{"Failures", fmt.Sprint(job.Failures)},
		{"Duration", job.Duration(time.Now()).Round(time.Millisecond).String()},
	}
	if job.Error != "" {
		rows = append(rows, []string{"Error", pterm.Red(job.Error)})
	}
	for _, k := range sortedStatKeys(job.Stats) {
		rows = append(rows, []string{k, fmt.Sprint(job.Stats[k])})
	}
	if err := pterm.DefaultTable.WithData(rows).Render(); err != nil {
		return err
	}

	if len(failures) == 0 {
		return nil
	}
	pterm.DefaultSection.Println("Failures")
	data := pterm.TableData{{"Worker", "Kind", "Path", "Error"}}
	for _, f := range failures {
		data = append(data, []string{f.Worker, f.Kind, f.Path, f.Error})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runJobsRemove(cmd *cobra.Command, args []string) error {
	store, database, err := openJobStore()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("Deleted job %s\n", args[0])
	return nil
}

func statusColor(s jobs.Status) string {
	switch s {
	case jobs.StatusCompleted:
		return pterm.Green(string(s))
	case jobs.StatusFailed:
		return pterm.Red(string(s))
	case jobs.StatusCancelled:
		return pterm.Yellow(string(s))
	default:
		return pterm.LightCyan(string(s))
	}
}
