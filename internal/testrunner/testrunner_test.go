package testrunner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sworg/swbuild/internal/plan"
)

func TestRunAggregatesPassAndFailIntoReport(t *testing.T) {
	shell, args := shellCommand()
	dir := t.TempDir()

	cases := []Case{
		{Suite: "app", Name: "ok", Command: &plan.Command{Name: "app_ok", Program: shell, Args: args(true)}},
		{Suite: "app", Name: "fail", Command: &plan.Command{Name: "app_fail", Program: shell, Args: args(false)}},
	}

	rep, err := Run(context.Background(), cases, Options{BuildDir: dir, Jobs: 2})
	require.NoError(t, err)
	require.Equal(t, 2, rep.Tests)
	require.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Suites, 1)
	require.Equal(t, "app", rep.Suites[0].Name)

	xmlBytes, err := rep.ToXML()
	require.NoError(t, err)
	require.Contains(t, string(xmlBytes), "testsuites")

	info, err := os.Stat(filepath.Join(dir, "test", "app", "ok"))
	require.NoError(t, err)
	require.True(t, info.IsDir(), "per-case test directory should exist")
}

func shellCommand() (string, func(ok bool) []string) {
	if runtime.GOOS == "windows" {
		return "cmd", func(ok bool) []string {
			if ok {
				return []string{"/C", "exit 0"}
			}
			return []string{"/C", "exit 1"}
		}
	}
	return "/bin/sh", func(ok bool) []string {
		if ok {
			return []string{"-c", "exit 0"}
		}
		return []string{"-c", "exit 1"}
	}
}
