package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillchat/quill/internal/config"
)

// Version information (injected at build time via ldflags)
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersion(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(w io.Writer) error {
	fmt.Fprintf(w, "Quill %s\n", AppVersion)
	fmt.Fprintf(w, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", GitCommit)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Default model: %s\n", config.DefaultModelName)
	fmt.Fprintf(w, "  History window: %d turns\n", config.DefaultHistoryWindow)
	fmt.Fprintf(w, "  Stream timeout: %ds\n", config.DefaultStreamTimeoutSeconds)

	// Check API key presence without printing its content
	key := os.Getenv("OPENROUTER_API_KEY")
	if key != "" {
		fmt.Fprintln(w, "  OPENROUTER_API_KEY: configured")
	} else {
		fmt.Fprintln(w, "  OPENROUTER_API_KEY: not set")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Hint: set the OPENROUTER_API_KEY environment variable")
		fmt.Fprintln(w, "  export OPENROUTER_API_KEY=your-api-key")
	}

	return nil
}
