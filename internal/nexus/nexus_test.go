// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package nexus

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/mfalkenberg/nexusd/internal/hdf"
)

func newTestFile(t *testing.T) hdf.File {
	t.Helper()
	f, err := hdf.NativeBackend{}.Create(filepath.Join(t.TempDir(), "test.nxs"))
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

const sampleStructure = `{
  "children": [
    {
      "type": "group",
      "name": "entry",
      "attributes": {"NX_class": "NXentry"},
      "children": [
        {
          "module": "dataset",
          "config": {"name": "title", "values": "beam on target", "type": "string"}
        },
        {
          "type": "group",
          "name": "instrument",
          "attributes": [{"name": "NX_class", "values": "NXinstrument", "dtype": "string"}],
          "children": [
            {
              "module": "f142",
              "config": {"topic": "motion", "source": "motor_1", "dtype": "double"}
            },
            {
              "module": "ev42",
              "config": {"topic": "detector", "source": "det_bank_0"},
              "attributes": {"description": "main detector bank"}
            }
          ]
        }
      ]
    }
  ]
}`

func TestBuildStructure(t *testing.T) {
	f := newTestFile(t)
	streams, err := BuildStructure(f, sampleStructure)
	if err != nil {
		t.Fatalf("BuildStructure: %v", err)
	}

	entry, err := f.OpenGroup("entry")
	if err != nil {
		t.Fatalf("entry group missing: %v", err)
	}
	if v, ok := entry.Attribute("NX_class"); !ok || v != "NXentry" {
		t.Errorf("entry NX_class = %v %v", v, ok)
	}
	instrument, err := entry.OpenGroup("instrument")
	if err != nil {
		t.Fatalf("instrument group missing: %v", err)
	}
	if v, ok := instrument.Attribute("NX_class"); !ok || v != "NXinstrument" {
		t.Errorf("instrument NX_class = %v %v", v, ok)
	}

	title, err := entry.OpenDataset("title")
	if err != nil {
		t.Fatalf("title dataset missing: %v", err)
	}
	got := title.(interface{ Strings() []string }).Strings()
	if len(got) != 1 || got[0] != "beam on target" {
		t.Errorf("title = %v", got)
	}

	if len(streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(streams))
	}
	first := streams[0]
	if first.Module != "f142" || first.Topic != "motion" || first.Source != "motor_1" {
		t.Errorf("first stream = %+v", first)
	}
	if first.ParentPath != "/entry/instrument" {
		t.Errorf("first parent = %q", first.ParentPath)
	}
	second := streams[1]
	if second.Module != "ev42" || len(second.Attributes) == 0 {
		t.Errorf("second stream = %+v", second)
	}
}

func TestBuildStructureMalformedJSON(t *testing.T) {
	f := newTestFile(t)
	if _, err := BuildStructure(f, `{"children": [}`); !errors.Is(err, ErrParse) {
		t.Fatalf("error = %v, want ErrParse", err)
	}
}

func TestBuildStructureWriterModuleAliases(t *testing.T) {
	f := newTestFile(t)
	streams, err := BuildStructure(f, `{
	  "children": [
	    {"module": "unused", "config": {"topic": "t1", "source": "s1", "writer_module": "f142"}},
	    {"module": "", "config": {"topic": "t2", "source": "s2", "module": "ev42"}}
	  ]
	}`)
	if err != nil {
		t.Fatalf("BuildStructure: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(streams))
	}
	if streams[0].Module != "f142" {
		t.Errorf("writer_module override = %q", streams[0].Module)
	}
	if streams[1].Module != "ev42" {
		t.Errorf("deprecated module alias = %q", streams[1].Module)
	}
}

func TestBuildStructureSkipsStreamWithoutTopic(t *testing.T) {
	f := newTestFile(t)
	streams, err := BuildStructure(f, `{
	  "children": [{"module": "f142", "config": {"source": "s"}}]
	}`)
	if err != nil {
		t.Fatalf("BuildStructure: %v", err)
	}
	if len(streams) != 0 {
		t.Errorf("streams = %d, want 0", len(streams))
	}
}

func TestBuildStructureNumericDataset(t *testing.T) {
	f := newTestFile(t)
	_, err := BuildStructure(f, `{
	  "children": [
	    {"module": "dataset", "config": {"name": "distance", "values": [1.5, 2.5], "type": "double"}},
	    {"module": "dataset", "config": {"name": "count", "values": 3, "type": "int64"}}
	  ]
	}`)
	if err != nil {
		t.Fatalf("BuildStructure: %v", err)
	}
	distance, err := f.OpenDataset("distance")
	if err != nil {
		t.Fatalf("distance missing: %v", err)
	}
	reals := distance.(interface{ Floats() []float64 }).Floats()
	if len(reals) != 2 || reals[1] != 2.5 {
		t.Errorf("distance = %v", reals)
	}
	count, err := f.OpenDataset("count")
	if err != nil {
		t.Fatalf("count missing: %v", err)
	}
	ints := count.(interface{ Ints() []int64 }).Ints()
	if len(ints) != 1 || ints[0] != 3 {
		t.Errorf("count = %v", ints)
	}
}
