// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package hdf

import (
	"errors"
	"path/filepath"
	"testing"
)

func createTestFile(t *testing.T) (File, string) {
	t.Helper()
	filePath := filepath.Join(t.TempDir(), "run.nxs")
	f, err := NativeBackend{}.Create(filePath)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return f, filePath
}

func TestCreateRefusesExistingFile(t *testing.T) {
	f, filePath := createTestFile(t)
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := (NativeBackend{}).Create(filePath); !errors.Is(err, ErrExists) {
		t.Fatalf("second Create = %v, want ErrExists", err)
	}
}

func TestGroupAndDatasetTree(t *testing.T) {
	f, _ := createTestFile(t)
	defer f.Close()

	entry, err := f.CreateGroup("entry")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := entry.SetAttribute("NX_class", "NXentry"); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	if v, ok := entry.Attribute("NX_class"); !ok || v != "NXentry" {
		t.Errorf("attribute = %v %v", v, ok)
	}
	if entry.Path() != "/entry" {
		t.Errorf("path = %q", entry.Path())
	}

	ds, err := entry.CreateDataset("value", Float64, nil, 1024)
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if err := ds.AppendFloats([]float64{1.0, 2.0}); err != nil {
		t.Fatalf("AppendFloats: %v", err)
	}
	if ds.Rows() != 2 {
		t.Errorf("rows = %d", ds.Rows())
	}
	if err := ds.AppendInts([]int64{1}); !errors.Is(err, ErrTypeClash) {
		t.Errorf("AppendInts on float dataset = %v", err)
	}

	if _, err := entry.CreateGroup("value"); !errors.Is(err, ErrExists) {
		t.Errorf("group over dataset = %v", err)
	}
	if !f.HasChild("entry") || !entry.HasChild("value") {
		t.Error("HasChild lost track of children")
	}
	if _, err := entry.OpenGroup("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("OpenGroup missing = %v", err)
	}
}

func TestArrayDatasetRowWidth(t *testing.T) {
	f, _ := createTestFile(t)
	defer f.Close()

	ds, err := f.CreateDataset("waveform", Float64, []int{4}, 0)
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if err := ds.AppendFloats([]float64{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("AppendFloats: %v", err)
	}
	if ds.Rows() != 2 {
		t.Errorf("rows = %d, want 2", ds.Rows())
	}
	if err := ds.AppendFloats([]float64{1, 2, 3}); !errors.Is(err, ErrTypeClash) {
		t.Errorf("ragged append = %v", err)
	}
}

func TestCloseReopenRoundTrip(t *testing.T) {
	f, filePath := createTestFile(t)
	entry, err := f.CreateGroup("entry")
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := entry.SetAttribute("NX_class", "NXentry"); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	events, err := entry.CreateGroup("events")
	if err != nil {
		t.Fatalf("CreateGroup events: %v", err)
	}
	ds, err := events.CreateDataset("event_id", Uint32, nil, 0)
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if err := ds.AppendUints([]uint64{7, 8}); err != nil {
		t.Fatalf("AppendUints: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NativeBackend{}.Open(filePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	entry2, err := reopened.OpenGroup("entry")
	if err != nil {
		t.Fatalf("OpenGroup: %v", err)
	}
	if v, ok := entry2.Attribute("NX_class"); !ok || v != "NXentry" {
		t.Errorf("NX_class after reopen = %v %v", v, ok)
	}
	events2, err := entry2.OpenGroup("events")
	if err != nil {
		t.Fatalf("OpenGroup events: %v", err)
	}
	ds2, err := events2.OpenDataset("event_id")
	if err != nil {
		t.Fatalf("OpenDataset: %v", err)
	}
	if ds2.DType() != Uint32 {
		t.Errorf("dtype = %v", ds2.DType())
	}
	if ds2.Rows() != 2 {
		t.Errorf("rows = %d", ds2.Rows())
	}
	// Appends continue from the reopened state.
	if err := ds2.AppendUints([]uint64{9}); err != nil {
		t.Fatalf("AppendUints: %v", err)
	}
	got := ds2.(interface{ Uints() []uint64 }).Uints()
	if len(got) != 3 || got[2] != 9 {
		t.Errorf("data after reopen = %v", got)
	}
}

func TestFlushPersistsWithoutClosing(t *testing.T) {
	f, filePath := createTestFile(t)
	defer f.Close()

	ds, err := f.CreateDataset("time", Uint64, nil, 0)
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if err := ds.AppendUints([]uint64{100}); err != nil {
		t.Fatalf("AppendUints: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	snapshot, err := NativeBackend{}.Open(filePath)
	if err != nil {
		t.Fatalf("Open after flush: %v", err)
	}
	defer snapshot.Close()
	ds2, err := snapshot.OpenDataset("time")
	if err != nil {
		t.Fatalf("OpenDataset: %v", err)
	}
	if ds2.Rows() != 1 {
		t.Errorf("rows after flush = %d", ds2.Rows())
	}
}

func TestParseDType(t *testing.T) {
	cases := map[string]DType{
		"double": Float64,
		"float":  Float32,
		"int32":  Int32,
		"uint64": Uint64,
		"string": String,
	}
	for name, want := range cases {
		got, err := ParseDType(name)
		if err != nil {
			t.Errorf("ParseDType(%q): %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ParseDType(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseDType("complex128"); err == nil {
		t.Error("ParseDType accepted unknown type")
	}
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend("")
	if err != nil || b.Name() != "native" {
		t.Errorf("NewBackend(\"\") = %v, %v", b, err)
	}
	if _, err := NewBackend("zfs"); err == nil {
		t.Error("NewBackend accepted unknown backend")
	}
}
