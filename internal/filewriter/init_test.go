// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package filewriter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mfalkenberg/nexusd/internal/hdf"
	"github.com/mfalkenberg/nexusd/internal/writer"
	"github.com/mfalkenberg/nexusd/internal/writer/f142"
)

func testRegistry(t *testing.T) *writer.Registry {
	t.Helper()
	registry := writer.NewRegistry()
	if err := registry.Register("f142", func() writer.Module { return &f142.Writer{} }); err != nil {
		t.Fatalf("register f142: %v", err)
	}
	return registry
}

const initStructure = `{
  "children": [
    {
      "type": "group",
      "name": "entry",
      "attributes": {"NX_class": "NXentry"},
      "children": [
        {
          "type": "group",
          "name": "pv_1",
          "children": [
            {"module": "f142", "config": {"topic": "motion", "source": "pv_1", "dtype": "double"}}
          ]
        },
        {
          "type": "group",
          "name": "mystery",
          "children": [
            {"module": "zz99", "config": {"topic": "motion", "source": "mystery"}}
          ]
        }
      ]
    }
  ]
}`

func TestInitializeFileTwoPhase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.nxs")
	task, err := InitializeFile(hdf.NativeBackend{}, testRegistry(t), "j1", path, initStructure)
	if err != nil {
		t.Fatalf("InitializeFile: %v", err)
	}
	defer task.Close()

	if task.JobID() != "j1" || task.Filename() != path {
		t.Errorf("task = %q %q", task.JobID(), task.Filename())
	}
	// The unknown zz99 stream is skipped; the job still carries the f142
	// source.
	sources := task.Sources()
	if len(sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(sources))
	}
	if sources[0].Name != "pv_1" || sources[0].SchemaID != "f142" || sources[0].Topic != "motion" {
		t.Errorf("source = %+v", sources[0])
	}
	if sources[0].Module == nil {
		t.Fatal("source module is nil")
	}

	// The skeleton survives the reopen.
	if err := task.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	file, err := hdf.NativeBackend{}.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()
	entry, err := file.OpenGroup("entry")
	if err != nil {
		t.Fatalf("entry missing: %v", err)
	}
	if v, ok := entry.Attribute("NX_class"); !ok || v != "NXentry" {
		t.Errorf("NX_class = %v %v", v, ok)
	}
	pv, err := entry.OpenGroup("pv_1")
	if err != nil {
		t.Fatalf("pv_1 missing: %v", err)
	}
	if _, err := pv.OpenDataset("value"); err != nil {
		t.Errorf("value dataset missing: %v", err)
	}
}

func TestInitializeFileRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.nxs")
	if err := os.WriteFile(path, []byte("occupied"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	_, err := InitializeFile(hdf.NativeBackend{}, testRegistry(t), "j1", path, initStructure)
	if err == nil {
		t.Fatal("expected error for pre-existing file")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("error = %v", err)
	}
	// The original file is untouched.
	content, readErr := os.ReadFile(path)
	if readErr != nil || string(content) != "occupied" {
		t.Errorf("file content changed: %q %v", content, readErr)
	}
}

func TestInitializeFileRefusesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "run.nxs")
	_, err := InitializeFile(hdf.NativeBackend{}, testRegistry(t), "j1", path, initStructure)
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("error = %v", err)
	}
}

func TestInitializeFileRejectsMalformedStructure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.nxs")
	_, err := InitializeFile(hdf.NativeBackend{}, testRegistry(t), "j1", path, `{"children": [}`)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if _, statErr := os.Stat(path); statErr == nil {
		t.Error("malformed structure left a file behind")
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("", "a.nxs"); got != "a.nxs" {
		t.Errorf("ResolvePath = %q", got)
	}
	if got := ResolvePath("/data", "a.nxs"); got != "/data/a.nxs" {
		t.Errorf("ResolvePath = %q", got)
	}
}
