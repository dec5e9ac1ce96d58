package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/pulse-orchestrator/internal/baseline"
	"github.com/hochfrequenz/pulse-orchestrator/internal/compare"
	"github.com/hochfrequenz/pulse-orchestrator/internal/config"
	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
	"github.com/hochfrequenz/pulse-orchestrator/internal/gitops"
	"github.com/hochfrequenz/pulse-orchestrator/internal/llm"
	"github.com/hochfrequenz/pulse-orchestrator/internal/maintenance"
	"github.com/hochfrequenz/pulse-orchestrator/internal/orchestrator"
	"github.com/hochfrequenz/pulse-orchestrator/internal/plan"
	"github.com/hochfrequenz/pulse-orchestrator/internal/runner"
	"github.com/hochfrequenz/pulse-orchestrator/internal/store"
	"github.com/hochfrequenz/pulse-orchestrator/internal/validate"
	"github.com/hochfrequenz/pulse-orchestrator/web/api"
)

var (
	completeMessage    string
	completeSession    string
	completeUnresolved bool
	statusWorkflow     string
	listWorkflow       string
	runBaseBranch      string
)

func init() {
	planCmd := &cobra.Command{
		Use:   "plan PLAN_FILE",
		Short: "Load a plan file and enqueue its pulses",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}
	rootCmd.AddCommand(planCmd)

	baselineCmd := &cobra.Command{
		Use:   "baseline WORKFLOW",
		Short: "Record baseline output for the workflow's verification commands",
		Args:  cobra.ExactArgs(1),
		RunE:  runBaseline,
	}
	rootCmd.AddCommand(baselineCmd)

	startCmd := &cobra.Command{
		Use:   "start WORKFLOW",
		Short: "Start the next proposed pulse",
		Args:  cobra.ExactArgs(1),
		RunE:  runStart,
	}
	startCmd.Flags().StringVar(&runBaseBranch, "base", "", "base branch for first-time setup (default: current branch)")
	rootCmd.AddCommand(startCmd)

	completeCmd := &cobra.Command{
		Use:   "complete PULSE",
		Short: "Verify and complete a running pulse",
		Args:  cobra.ExactArgs(1),
		RunE:  runComplete,
	}
	completeCmd.Flags().StringVarP(&completeMessage, "message", "m", "", "commit message (required)")
	completeCmd.Flags().StringVar(&completeSession, "session", "", "agent session to scan for unresolved tool failures")
	completeCmd.Flags().BoolVar(&completeUnresolved, "unresolved", false, "acknowledge unresolved issues (escape hatch)")
	completeCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(completeCmd)

	failCmd := &cobra.Command{
		Use:   "fail PULSE",
		Short: "Mark a running pulse failed, checkpointing uncommitted work",
		Args:  cobra.ExactArgs(1),
		RunE:  runFail,
	}
	rootCmd.AddCommand(failCmd)

	stopCmd := &cobra.Command{
		Use:   "stop PULSE",
		Short: "Stop a running pulse, checkpointing uncommitted work",
		Args:  cobra.ExactArgs(1),
		RunE:  runStop,
	}
	rootCmd.AddCommand(stopCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show pulse counts per status",
		RunE:  runStatus,
	}
	statusCmd.Flags().StringVar(&statusWorkflow, "workflow", "", "limit to one workflow")
	rootCmd.AddCommand(statusCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pulses",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listWorkflow, "workflow", "", "limit to one workflow")
	rootCmd.AddCommand(listCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI server",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.New(cfg.General.DatabasePath)
}

func buildOrchestrator(cfg *config.Config, s *store.Store) *orchestrator.Orchestrator {
	var onStatus orchestrator.StatusCallback
	if cfg.General.Debug {
		onStatus = func(p *domain.Pulse) {
			log.Printf("[pulse] %s is now %s", p.ID, p.Status)
		}
	}
	judge := llm.NewClient(os.Getenv("ANTHROPIC_API_KEY"), cfg.Claude.Model)
	return orchestrator.New(orchestrator.Config{
		Store:    s,
		Git:      gitops.NewCLI(cfg.General.WorktreeDir),
		Runner:   runner.New(cfg.Verification.Timeout()),
		Compare:  compare.NewEngine(judge, cfg.Verification.CacheSize),
		Filter:   baseline.NewFilter(s),
		OnStatus: onStatus,
		Debug:    cfg.General.Debug,
	})
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	pulses, err := s.CreatePulses(p.Workflow, p.Descriptions())
	if err != nil {
		return err
	}

	if cmds := p.VerificationCommands(); len(cmds) > 0 {
		setup := &domain.PreflightSetup{
			ID:         uuid.NewString(),
			WorkflowID: p.Workflow,
			Commands:   cmds,
		}
		if err := s.SavePreflightSetup(setup); err != nil {
			return err
		}
	}

	fmt.Printf("Enqueued %d pulses for workflow %s\n", len(pulses), p.Workflow)
	for _, pulse := range pulses {
		fmt.Printf("  - %s: %s\n", pulse.ID, pulse.Description)
	}
	return nil
}

func runBaseline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.General.ProjectRoot == "" {
		return fmt.Errorf("general.project_root is not configured")
	}
	workflowID := args[0]

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	setup, err := s.GetPreflightSetup(workflowID)
	if err != nil {
		return err
	}

	run := runner.New(cfg.Verification.Timeout())
	for _, vc := range setup.Commands {
		fmt.Printf("Recording baseline: %s\n", vc.Command)
		res, err := run.Run(cmd.Context(), cfg.General.ProjectRoot, vc.Command)
		if err != nil {
			return fmt.Errorf("running %q: %w", vc.Command, err)
		}
		if res.TimedOut {
			return fmt.Errorf("baseline run of %q timed out", vc.Command)
		}
		if err := s.SaveBaselineOutput(workflowID, vc.Command, res.Output); err != nil {
			return err
		}

		issues := baselineIssues(workflowID, vc, res.Output.Combined())
		if len(issues) > 0 {
			if err := s.AddBaselineIssues(issues); err != nil {
				return err
			}
			fmt.Printf("  %d pre-existing issue(s) recorded\n", len(issues))
		}
	}
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	workflowID := args[0]

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	orch := buildOrchestrator(cfg, s)
	ctx := cmd.Context()

	// First start initializes the workflow branch and worktree
	if _, err := s.GetWorkflowPulsing(workflowID); err != nil {
		if cfg.General.ProjectRoot == "" {
			return fmt.Errorf("general.project_root is not configured")
		}
		w, err := orch.InitializePulsing(ctx, workflowID, cfg.General.ProjectRoot, runBaseBranch)
		if err != nil {
			return err
		}
		fmt.Printf("Initialized workflow %s on %s (worktree %s)\n", workflowID, w.WorkflowBranch, w.WorktreePath)
	}

	pulse, err := orch.StartNextPulse(ctx, workflowID)
	if err != nil {
		return err
	}
	if pulse == nil {
		fmt.Println("No proposed pulses remain")
		return nil
	}

	fmt.Printf("Started pulse %s on %s\n", pulse.ID, pulse.PulseBranch)
	fmt.Printf("  %s\n", pulse.Description)
	fmt.Printf("  worktree: %s\n", pulse.WorktreePath)
	return nil
}

func runComplete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pulseID := args[0]

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()

	// A session lets the validator scan the agent's recent tool calls for
	// unresolved failures; --unresolved goes through the validator too, since
	// hatch eligibility depends only on the pulse's rejection count.
	acknowledged := false
	if completeSession != "" || completeUnresolved {
		v := validate.New(s, s)
		res, err := v.ValidateCompletion(ctx, pulseID, completeSession, completeUnresolved)
		if err != nil {
			return err
		}
		if !res.Valid {
			count, err := v.RejectCompletion(ctx, pulseID)
			if err != nil {
				return err
			}
			fmt.Println(res.RejectionReason)
			fmt.Printf("Completion rejected (%d rejection(s) so far)\n", count)
			return nil
		}
		acknowledged = completeUnresolved
	}

	orch := buildOrchestrator(cfg, s)
	var result *orchestrator.CompleteResult
	if acknowledged {
		result, err = orch.CompletePulseWithUnresolved(ctx, pulseID, completeMessage)
	} else {
		result, err = orch.CompletePulse(ctx, pulseID, completeMessage)
	}
	if err != nil {
		return err
	}

	if !result.Completed {
		fmt.Println(result.Guidance)
		fmt.Printf("Completion rejected (%d rejection(s) so far)\n", result.RejectionCount)
		return nil
	}

	fmt.Printf("Pulse %s completed at %s\n", pulseID, result.CommitSHA)
	if acknowledged {
		fmt.Println("Completed with unresolved issues; the workflow will halt for review")
	}
	if result.HasMorePulses {
		fmt.Println("More pulses are proposed; run start to continue")
	} else {
		fmt.Println("All pulses are done")
	}
	return nil
}

func runFail(cmd *cobra.Command, args []string) error {
	return finishPulse(cmd, args[0], true)
}

func runStop(cmd *cobra.Command, args []string) error {
	return finishPulse(cmd, args[0], false)
}

func finishPulse(cmd *cobra.Command, pulseID string, failed bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	orch := buildOrchestrator(cfg, s)
	if failed {
		err = orch.FailPulse(cmd.Context(), pulseID)
	} else {
		err = orch.StopPulse(cmd.Context(), pulseID)
	}
	if err != nil {
		return err
	}

	pulse, err := s.GetPulse(pulseID)
	if err != nil {
		return err
	}
	fmt.Printf("Pulse %s is now %s\n", pulseID, pulse.Status)
	if pulse.RecoveryCommitSHA != "" {
		fmt.Printf("Uncommitted work checkpointed at %s\n", pulse.RecoveryCommitSHA)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	workflows := []string{statusWorkflow}
	if statusWorkflow == "" {
		workflows, err = s.ListWorkflowIDs()
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WORKFLOW\tTOTAL\tPROPOSED\tRUNNING\tSUCCEEDED\tFAILED\tSTOPPED")
	for _, wf := range workflows {
		pulses, err := s.ListPulses(wf)
		if err != nil {
			return err
		}
		counts := map[string]int{}
		for _, p := range pulses {
			counts[string(p.Status)]++
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", wf, len(pulses),
			counts["proposed"], counts["running"], counts["succeeded"], counts["failed"], counts["stopped"])
	}
	return w.Flush()
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	workflows := []string{listWorkflow}
	if listWorkflow == "" {
		workflows, err = s.ListWorkflowIDs()
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWORKFLOW\tSTATUS\tREJECTIONS\tDESCRIPTION")
	for _, wf := range workflows {
		pulses, err := s.ListPulses(wf)
		if err != nil {
			return err
		}
		for _, p := range pulses {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", p.ID, p.WorkflowID, p.Status, p.RejectionCount, p.Description)
		}
	}
	return w.Flush()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := api.NewServer(s, fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port))

	if cfg.General.ProjectRoot != "" {
		pruner, err := maintenance.NewPruner(
			gitops.NewCLI(cfg.General.WorktreeDir),
			cfg.General.ProjectRoot,
			cfg.Maintenance.WorktreePruneSchedule,
		)
		if err != nil {
			return err
		}
		pruner.Start()
		defer pruner.Stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Pulse operations run in separate CLI processes, so the event stream is
	// fed by watching the shared database for status changes.
	go srv.WatchPulses(ctx, 2*time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Printf("Serving on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func baselineIssues(workflowID string, vc domain.VerificationCommand, combined string) []*domain.BaselineIssue {
	parsed := baseline.ParseOutput(combined)
	issues := make([]*domain.BaselineIssue, 0, len(parsed))
	for _, e := range parsed {
		issues = append(issues, &domain.BaselineIssue{
			ID:         uuid.NewString(),
			WorkflowID: workflowID,
			Source:     vc.Source,
			Pattern:    e.Identity(),
			IssueType:  e.Severity,
			FilePath:   e.FilePath,
		})
	}
	return issues
}
