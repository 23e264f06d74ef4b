package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sworg/swbuild/internal/config"
	"github.com/sworg/swbuild/internal/lockfile"
	"github.com/sworg/swbuild/internal/plan"
	"github.com/sworg/swbuild/internal/swlog"
	"github.com/sworg/swbuild/internal/testrunner"
)

func newTestCmd() *cobra.Command {
	var configPath string
	var lockPath string
	var reportPath string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Build the configured targets, then run each as a test case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd.Context(), configPath, lockPath, reportPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.FileName, "path to the build-settings file")
	cmd.Flags().StringVar(&lockPath, "lockfile", "swbuild.lock.json", "path to the resolved-package lock file")
	cmd.Flags().StringVar(&reportPath, "report", "", "write a JUnit-style XML report to this path")
	return cmd
}

// outputter is satisfied by target kinds that expose their built binary
// path; only those are turned into test cases.
type outputter interface {
	GetFiles() []string
}

func runTest(ctx context.Context, configPath, lockPath, reportPath string) error {
	log := swlog.New()
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	prior, err := lockfile.Load(lockPath)
	if err != nil {
		return err
	}

	env, err := openStorageEnv(cfg, prior, log)
	if err != nil {
		return err
	}
	defer env.local.Close()

	b, _, err := buildTargets(ctx, cfg, env, log)
	if err != nil {
		return err
	}

	var cases []testrunner.Case
	for _, t := range b.Targets().All() {
		out, ok := t.(outputter)
		if !ok {
			continue
		}
		files := out.GetFiles()
		if len(files) == 0 {
			continue
		}
		name := t.Id().Name.Path.String()
		cases = append(cases, testrunner.Case{
			Suite:   name,
			Name:    "run",
			Command: &plan.Command{Name: name + ":test", Program: files[0]},
		})
	}
	if len(cases) == 0 {
		return fmt.Errorf("swbuild: no built targets expose a runnable binary")
	}

	report, err := testrunner.Run(ctx, cases, testrunner.Options{
		BuildDir: cfg.Build.BuildDir,
		Jobs:     cfg.Build.BuildJobs,
		Log:      log,
	})
	if err != nil {
		return err
	}

	if reportPath != "" {
		if err := report.WriteXML(reportPath); err != nil {
			return err
		}
	}

	log.Infof("test: %d ran, %d failed, %d skipped", report.Tests, report.Failed, report.Skipped)
	if report.Failed > 0 || report.Errors > 0 {
		return fmt.Errorf("swbuild: %d test(s) failed", report.Failed+report.Errors)
	}
	return nil
}
