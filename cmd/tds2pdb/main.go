// tds2pdb converts Borland TDS debug information to PDB files and binds the
// result to the matching executable.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jtang613/tds2pdb/internal/config"
	"github.com/jtang613/tds2pdb/internal/logx"
)

var rootCmd = &cobra.Command{
	Use:           "tds2pdb",
	Short:         "Convert Borland TDS debug information to PDB",
	Long:          `tds2pdb converts the TDS debug information of a Borland-built executable to a PDB file and points the executable at it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
}

func init() {
	rootCmd.Version = version

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(bindCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("config", "", "path to a tds2pdb.toml file")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log conversion phases")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		errColor := newColor(rootCmd, os.Stderr, color.FgRed, color.Bold)
		fmt.Fprintf(os.Stderr, "%s %v\n", errColor.Sprint("error:"), err)
		os.Exit(1)
	}
}

func colorMode(cmd *cobra.Command) (logx.ColorMode, error) {
	s, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return "", err
	}
	return logx.ParseColorMode(s)
}

func useColor(cmd *cobra.Command, f *os.File) bool {
	mode, err := colorMode(cmd)
	if err != nil {
		return false
	}
	return mode.Enabled(f)
}

// newColor returns a colour that honours --color for output to f.
func newColor(cmd *cobra.Command, f *os.File, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if useColor(cmd, f) {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func setupLogging(cmd *cobra.Command) error {
	mode, err := colorMode(cmd)
	if err != nil {
		return err
	}
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return err
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(logx.NewHandler(os.Stderr, level, mode)))
	return nil
}

// loadConfig layers defaults, the project file, the environment and the
// flags that were set on cmd, in that order.
func loadConfig(cmd *cobra.Command, input string) (config.Config, error) {
	cfg := config.Default()

	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return cfg, err
	}
	if path == "" {
		found, ok, err := config.FindFile(filepath.Dir(input))
		if err != nil {
			return cfg, err
		}
		if ok {
			path = found
		}
	}
	if path != "" {
		if err := cfg.Load(path); err != nil {
			return cfg, err
		}
		slog.Debug("loaded configuration", "path", path)
	}
	if err := cfg.FromEnv(); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("page-size") {
		cfg.PageSize, _ = flags.GetUint32("page-size")
	}
	if flags.Changed("age") {
		cfg.Age, _ = flags.GetUint32("age")
	}
	if flags.Changed("codepage") {
		cfg.CodePage, _ = flags.GetString("codepage")
	}
	if flags.Changed("jobs") {
		cfg.Jobs, _ = flags.GetInt("jobs")
	}
	if flags.Changed("globals") {
		cfg.Globals, _ = flags.GetBool("globals")
	}
	if flags.Changed("bind") {
		cfg.Bind, _ = flags.GetBool("bind")
	}
	return cfg, cfg.Validate()
}
