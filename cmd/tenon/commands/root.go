package commands

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/tenonworks/tenon/internal/config"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath  string
	sessionName string
	redisAddr   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tenon",
	Short: "Tenon - collaborative furniture design assistant",
	Long: `Tenon coordinates a set of specialized design workers (dimensions,
materials, joinery, validation) over a shared, versioned drawing board
backed by Redis.

Each turn takes a natural-language request, gathers proposals from the
workers that can contribute, commits the accepted updates atomically,
resolves rule conflicts, and reports a validated design with variations.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "tenon.yml", "Path to the tenon.yml configuration file")
	rootCmd.PersistentFlags().StringVar(&sessionName, "session", "", "Session name (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address (overrides configuration)")
}

// loadConfig reads tenon.yml, falling back to defaults when the file does
// not exist and the user did not point at one explicitly.
func loadConfig() (*config.TenonConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !rootCmd.PersistentFlags().Changed("config") {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}

	if sessionName != "" {
		cfg.Session = sessionName
	}
	if redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	return cfg, nil
}
