package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jtang613/tds2pdb/pkg/pdb"
	"github.com/jtang613/tds2pdb/pkg/pebind"
)

var bindCmd = &cobra.Command{
	Use:   "bind EXE PDB",
	Short: "Point an executable at an existing PDB",
	Long:  `bind adds a CodeView debug directory entry to EXE carrying the timestamp, GUID and age recorded in PDB.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		exe, pdbPath := args[0], args[1]
		p, err := pdb.Open(pdbPath)
		if err != nil {
			return err
		}
		timestamp, guid, age := p.Identity()
		if err := p.Close(); err != nil {
			return err
		}
		if err := pebind.Bind(exe, pdbPath, timestamp, guid, age); err != nil {
			return fmt.Errorf("failed to bind %s: %w", exe, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "bound %s to %s\n", exe, pdbPath)
		return nil
	},
}
