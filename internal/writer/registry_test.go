// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package writer

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/mfalkenberg/nexusd/internal/hdf"
)

type nopModule struct{}

func (nopModule) ParseConfig(json.RawMessage) error { return nil }
func (nopModule) CreateDatasets(hdf.Group, json.RawMessage) error { return nil }
func (nopModule) Reopen(hdf.Group) error { return nil }
func (nopModule) Write([]byte) error { return nil }
func (nopModule) Flush() error { return nil }

func TestRegistryRegisterAndFind(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("te5t", func() Module { return nopModule{} }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	factory, err := r.Find("te5t")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if factory() == nil {
		t.Fatal("factory returned nil module")
	}
}

func TestRegistryDuplicateConflicts(t *testing.T) {
	r := NewRegistry()
	factory := func() Module { return nopModule{} }
	if err := r.Register("te5t", factory); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("te5t", factory); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate Register = %v, want ErrConflict", err)
	}
}

func TestRegistryUnknownModule(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Find("zz99"); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("Find = %v, want ErrUnknownModule", err)
	}
}

func TestRegistryIdentifiersSorted(t *testing.T) {
	r := NewRegistry()
	factory := func() Module { return nopModule{} }
	for _, id := range []string{"f142", "ev42", "tdct"} {
		if err := r.Register(id, factory); err != nil {
			t.Fatalf("Register %q: %v", id, err)
		}
	}
	ids := r.Identifiers()
	want := []string{"ev42", "f142", "tdct"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestSetNXClassRespectsExisting(t *testing.T) {
	f, err := hdf.NativeBackend{}.Create(t.TempDir() + "/a.nxs")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	g, err := f.CreateGroup("g")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if err := g.SetAttribute("NX_class", "NXdetector"); err != nil {
		t.Fatalf("attr: %v", err)
	}
	if err := SetNXClass(g, "NXlog"); err != nil {
		t.Fatalf("SetNXClass: %v", err)
	}
	if v, _ := g.Attribute("NX_class"); v != "NXdetector" {
		t.Errorf("NX_class overwritten to %v", v)
	}
}
