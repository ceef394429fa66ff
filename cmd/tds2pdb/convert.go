package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fortio.org/safecast"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jtang613/tds2pdb/pkg/pdb"
	"github.com/jtang613/tds2pdb/pkg/pebind"
	"github.com/jtang613/tds2pdb/pkg/tds"
)

var (
	convertOut string
	convertExe string
)

func init() {
	convertCmd.Flags().StringVarP(&convertOut, "out", "o", "", "PDB path (default: input with .pdb extension)")
	convertCmd.Flags().StringVar(&convertExe, "exe", "", "executable to bind (default: input with .exe or .dll extension)")
	convertCmd.Flags().Uint32("page-size", 0, "MSF page size (512|1024|2048|4096)")
	convertCmd.Flags().Uint32("age", 0, "PDB age")
	convertCmd.Flags().String("codepage", "", "code page of TDS names, e.g. windows-1251")
	convertCmd.Flags().IntP("jobs", "j", 0, "module streams encoded in parallel")
	convertCmd.Flags().Bool("globals", false, "write the global symbol stream")
	convertCmd.Flags().Bool("bind", true, "point the executable at the new PDB")
}

var convertCmd = &cobra.Command{
	Use:   "convert FILE.tds",
	Short: "Convert a TDS file to PDB",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := args[0]
		cfg, err := loadConfig(cmd, input)
		if err != nil {
			return err
		}
		enc, err := tds.LookupCodePage(cfg.CodePage)
		if err != nil {
			return err
		}

		start := time.Now()
		f, err := tds.ParseFile(input, tds.Options{Encoding: enc, Logger: slog.Default()})
		if err != nil {
			return err
		}

		var guid [16]byte
		if _, err := rand.Read(guid[:]); err != nil {
			return fmt.Errorf("failed to generate GUID: %w", err)
		}
		timestamp, err := safecast.Conv[uint32](start.Unix())
		if err != nil {
			return fmt.Errorf("failed to derive timestamp: %w", err)
		}

		pdbPath := convertOut
		if pdbPath == "" {
			pdbPath = withExt(input, ".pdb")
		}
		stats, err := writePDB(cmd.Context(), pdbPath, f, pdb.Options{
			Timestamp: timestamp,
			GUID:      guid,
			Age:       cfg.Age,
			PageSize:  cfg.PageSize,
			Machine:   cfg.Machine,
			Jobs:      cfg.Jobs,
			Globals:   cfg.Globals,
			Logger:    slog.Default(),
		})
		if err != nil {
			return err
		}

		exe := ""
		if cfg.Bind {
			exe = convertExe
			if exe == "" {
				exe = findExecutable(input)
			}
			if err := pebind.Bind(exe, pdbPath, timestamp, guid, cfg.Age); err != nil {
				return fmt.Errorf("failed to bind %s: %w", exe, err)
			}
		}

		printSummary(cmd, pdbPath, exe, stats, time.Since(start))
		return nil
	},
}

// writePDB converts f into a temporary file next to path and renames it
// into place once the whole container is written.
func writePDB(ctx context.Context, path string, f *tds.File, opts pdb.Options) (*pdb.Stats, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	stats, err := pdb.Convert(ctx, f, w, opts)
	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("failed to move PDB into place: %w", err)
	}
	return stats, nil
}

func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// findExecutable returns X.exe for X.tds, or X.dll when only that exists.
func findExecutable(input string) string {
	exe := withExt(input, ".exe")
	if _, err := os.Stat(exe); errors.Is(err, os.ErrNotExist) {
		dll := withExt(input, ".dll")
		if _, err := os.Stat(dll); err == nil {
			return dll
		}
	}
	return exe
}

func printSummary(cmd *cobra.Command, pdbPath, exe string, stats *pdb.Stats, elapsed time.Duration) {
	out := cmd.OutOrStdout()
	ok := newColor(cmd, os.Stdout, color.FgGreen, color.Bold)
	name := newColor(cmd, os.Stdout, color.FgCyan)
	fmt.Fprintf(out, "%s %s: %d modules (%d with symbols), %d types, %d streams in %s\n",
		ok.Sprint("wrote"), name.Sprint(pdbPath),
		stats.Modules, stats.ModuleStreams, stats.Types, stats.Streams, elapsed.Round(time.Millisecond))
	if stats.Globals > 0 || stats.SkippedProcRefs > 0 {
		fmt.Fprintf(out, "  %d global symbols, %d procedure references skipped\n", stats.Globals, stats.SkippedProcRefs)
	}
	if exe != "" {
		fmt.Fprintf(out, "%s %s\n", ok.Sprint("bound"), name.Sprint(exe))
	}
}
