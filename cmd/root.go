package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/squad/cmd.Version=v1.0.0".
var Version = "dev"

var (
	verbose   bool
	stateDir  string
	natsURL   string
	brandFile string
)

var rootCmd = &cobra.Command{
	Use:   "squad",
	Short: "squad — multi-agent collaboration session runtime",
	Long: "squad drives one assistant-engine session through the Session Runtime: " +
		"policy state, the turn queue, the team message pipeline, and the task " +
		"board, wired to an external assistant engine process over stdio.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", defaultStateDir(),
		"root directory for persisted session state (default: $SQUAD_STATE_DIR or ~/.squad)")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", os.Getenv("SQUAD_NATS_URL"),
		"NATS server URL for the push channel (default: embedded in-process server)")
	rootCmd.PersistentFlags().StringVar(&brandFile, "brand-config", os.Getenv("SQUAD_BRAND_CONFIG"),
		"path to the hot-reloaded brand config file (role/permission-mode aliases)")

	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("squad", Version)
		},
	}
}

func defaultStateDir() string {
	if v := os.Getenv("SQUAD_STATE_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".squad"
	}
	return filepath.Join(home, ".squad")
}

// Execute runs the root cobra command; it is the whole of main's job.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
