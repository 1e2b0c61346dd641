package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"findash/internal/api"
)

// NewRootCmd creates the root command. Running it without a subcommand serves the API.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "findash",
		Short: "findash - Finance Dashboard API",
		Long: `findash serves trading option snapshots from the market database and a
file-backed chat history store over HTTP.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := serveOptionsFromFlags(cmd)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), opts)
		},
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().String("config", "", "Configuration file path (defaults to $FINDASH_CONFIG)")

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := serveOptionsFromFlags(cmd)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "findash version %s\n", api.Version)
		},
	}
}

type serveOptions struct {
	configPath string
	debug      bool
}

func serveOptionsFromFlags(cmd *cobra.Command) (serveOptions, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return serveOptions{}, err
	}
	if path == "" {
		path = os.Getenv("FINDASH_CONFIG")
	}
	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return serveOptions{}, err
	}
	return serveOptions{configPath: path, debug: debug}, nil
}
