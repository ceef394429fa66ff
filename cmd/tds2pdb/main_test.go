package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jtang613/tds2pdb/pkg/tds"
	"github.com/jtang613/tds2pdb/pkg/tds/tdstest"
)

func writeTDS(t *testing.T, dir string) string {
	t.Helper()
	b := tdstest.New()
	m := b.Module("main.c", tdstest.Segment{Segment: 1, Offset: 0, Length: 0x10})
	m.Symbol(uint16(tds.SymGData32), int32(0x10), int16(2), int16(0), int32(tds.PrimInt32), b.Name("counter"), int32(0))
	path := filepath.Join(dir, "app.tds")
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--color", "off"}, args...))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("tds2pdb %v: %v", args, err)
	}
	return out.String()
}

func TestConvertAndInspect(t *testing.T) {
	dir := t.TempDir()
	input := writeTDS(t, dir)
	run(t, "convert", "--bind=false", "--page-size", "4096", input)

	pdbPath := filepath.Join(dir, "app.pdb")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("directory holds %d entries, want the input and the PDB", len(entries))
	}

	var got struct {
		Info struct {
			Age      uint32 `json:"age"`
			PageSize uint32 `json:"page_size"`
		} `json:"info"`
		Symbols []struct {
			Kind string `json:"kind"`
			Name string `json:"name"`
		} `json:"symbols"`
	}
	out := run(t, "inspect", "--info", "--symbols", pdbPath)
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("inspect output %q: %v", out, err)
	}
	if got.Info.Age != 1 || got.Info.PageSize != 4096 {
		t.Errorf("info = %+v", got.Info)
	}
	if len(got.Symbols) != 1 || got.Symbols[0].Kind != "S_GDATA32" || got.Symbols[0].Name != "counter" {
		t.Errorf("symbols = %+v", got.Symbols)
	}
}

func TestConvertConfigFile(t *testing.T) {
	dir := t.TempDir()
	input := writeTDS(t, dir)
	cfg := "age = 5\nbind = false\n"
	if err := os.WriteFile(filepath.Join(dir, "tds2pdb.toml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TDS2PDB_AGE", "6")
	run(t, "convert", input)

	out := run(t, "inspect", "--info", "--symbols=false", filepath.Join(dir, "app.pdb"))
	var got struct {
		Info struct {
			Age uint32 `json:"age"`
		} `json:"info"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got.Info.Age != 6 {
		t.Errorf("age = %d, want the environment to override the file", got.Info.Age)
	}
}

func TestFindExecutable(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "lib.tds")
	if got := findExecutable(input); got != filepath.Join(dir, "lib.exe") {
		t.Errorf("no companion: got %q", got)
	}

	dll := filepath.Join(dir, "lib.dll")
	if err := os.WriteFile(dll, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := findExecutable(input); got != dll {
		t.Errorf("dll only: got %q", got)
	}

	exe := filepath.Join(dir, "lib.exe")
	if err := os.WriteFile(exe, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got := findExecutable(input); got != exe {
		t.Errorf("exe and dll: got %q", got)
	}
}
