package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jtang613/tds2pdb/pkg/pdb"
)

type inspectOptions struct {
	info      bool
	modules   bool
	symbols   bool
	globals   bool
	functions bool
	variables bool
	types     bool
	all       bool
	pretty    bool
	typeIndex string
	format    string
}

var inspectOpts inspectOptions

func init() {
	f := inspectCmd.Flags()
	f.BoolVar(&inspectOpts.info, "info", false, "show PDB file information")
	f.BoolVar(&inspectOpts.modules, "modules", false, "list all modules")
	f.BoolVar(&inspectOpts.symbols, "symbols", false, "list every module symbol")
	f.BoolVar(&inspectOpts.globals, "globals", false, "list the global symbol stream")
	f.BoolVar(&inspectOpts.functions, "functions", false, "list all functions")
	f.BoolVar(&inspectOpts.variables, "variables", false, "list all variables")
	f.BoolVar(&inspectOpts.types, "types", false, "list all named types")
	f.BoolVar(&inspectOpts.all, "all", false, "show all information")
	f.BoolVar(&inspectOpts.pretty, "pretty", false, "pretty-print JSON output")
	f.StringVar(&inspectOpts.typeIndex, "type", "", "show details for one type index, e.g. 0x1000")
	f.StringVar(&inspectOpts.format, "format", "json", "output format (json|msgpack)")
}

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE.pdb",
	Short: "Dump the contents of a PDB file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := inspectOpts
		opts.format = strings.ToLower(opts.format)
		if opts.format != "json" && opts.format != "msgpack" {
			return fmt.Errorf("unknown format %q: must be json or msgpack", opts.format)
		}

		p, err := pdb.Open(args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		v, err := collect(p, opts)
		if err != nil {
			return err
		}
		return encode(cmd.OutOrStdout(), v, opts)
	},
}

func collect(p *pdb.PDB, opts inspectOptions) (any, error) {
	if opts.typeIndex != "" {
		index, err := strconv.ParseUint(opts.typeIndex, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid type index %q: %w", opts.typeIndex, err)
		}
		ti := p.ResolveType(uint32(index))
		if ti == nil {
			return nil, fmt.Errorf("type %#x not found", index)
		}
		return ti, nil
	}

	if !opts.info && !opts.modules && !opts.symbols && !opts.globals &&
		!opts.functions && !opts.variables && !opts.types && !opts.all {
		opts.info = true
	}

	result := make(map[string]any)
	if opts.info || opts.all {
		result["info"] = p.Info()
	}
	if opts.modules || opts.all {
		result["modules"] = p.Modules()
	}
	if opts.symbols || opts.all {
		syms, err := p.AllSymbols()
		if err != nil {
			return nil, err
		}
		result["symbols"] = syms
	}
	if opts.globals || opts.all {
		globals, err := p.Globals()
		if err != nil {
			return nil, err
		}
		result["globals"] = globals
	}
	if opts.functions || opts.all {
		fns, err := p.Functions()
		if err != nil {
			return nil, err
		}
		result["functions"] = fns
	}
	if opts.variables || opts.all {
		vars, err := p.Variables()
		if err != nil {
			return nil, err
		}
		result["variables"] = vars
	}
	if opts.types || opts.all {
		result["types"] = p.Types()
	}
	return result, nil
}

func encode(w io.Writer, v any, opts inspectOptions) error {
	if opts.format == "msgpack" {
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		enc.SetSortMapKeys(true)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode msgpack: %w", err)
		}
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if opts.pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
