package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	// Program is the name of program.
	Program = "swbuild"
	// Description of program.
	Description = "Package-aware build orchestrator."
)

func main() {
	root := &cobra.Command{
		Use:   fmt.Sprintf("%s [command]", Program),
		Short: Description,
	}
	root.SetHelpCommand(&cobra.Command{Hidden: true})
	root.DisableFlagsInUseLine = true
	root.SilenceUsage = true
	root.SilenceErrors = true

	root.AddCommand(newBuildCmd())
	root.AddCommand(newTestCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "swbuild:", err)
		os.Exit(1)
	}
}
