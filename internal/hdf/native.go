// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package hdf

import (
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/goccy/go-json"
)

// NativeBackend keeps the file tree in memory and persists it as a JSON
// document. It honours the same create/reopen semantics as the hdf5
// backend: Create refuses existing paths, Close writes the tree, Open
// reads it back for appending.
type NativeBackend struct{}

// Name implements Backend.
func (NativeBackend) Name() string { return "native" }

// VersionCheck implements Backend; the native backend has no library to
// mismatch.
func (NativeBackend) VersionCheck() error { return nil }

// Create implements Backend.
func (NativeBackend) Create(filePath string) (File, error) {
	if _, err := os.Stat(filePath); err == nil {
		return nil, fmt.Errorf("create %q: %w", filePath, ErrExists)
	}
	// Claim the path eagerly so a concurrent job cannot race the final
	// write on Close.
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", filePath, err)
	}
	_ = f.Close()
	root := newNativeGroup("", "/")
	return &nativeFile{nativeGroup: root, path: filePath}, nil
}

// Open implements Backend.
func (NativeBackend) Open(filePath string) (File, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", filePath, err)
	}
	root := newNativeGroup("", "/")
	if len(raw) > 0 {
		var doc nodeDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("open %q: %w", filePath, err)
		}
		if err := root.fromDoc(&doc); err != nil {
			return nil, fmt.Errorf("open %q: %w", filePath, err)
		}
	}
	return &nativeFile{nativeGroup: root, path: filePath}, nil
}

type nativeFile struct {
	*nativeGroup
	path   string
	mu     sync.Mutex
	closed bool
}

func (f *nativeFile) FilePath() string { return f.path }

func (f *nativeFile) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFileClosed
	}
	return f.persist()
}

func (f *nativeFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	if err := f.persist(); err != nil {
		return err
	}
	f.closed = true
	return nil
}

func (f *nativeFile) persist() error {
	doc := f.nativeGroup.toDoc()
	raw, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return fmt.Errorf("serialize %q: %w", f.path, err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace %q: %w", f.path, err)
	}
	return nil
}

type nativeGroup struct {
	name string
	path string

	mu       sync.Mutex
	groups   map[string]*nativeGroup
	datasets map[string]*nativeDataset
	attrs    map[string]any
}

func newNativeGroup(name, fullPath string) *nativeGroup {
	return &nativeGroup{
		name:     name,
		path:     fullPath,
		groups:   make(map[string]*nativeGroup),
		datasets: make(map[string]*nativeDataset),
		attrs:    make(map[string]any),
	}
}

func (g *nativeGroup) Name() string { return g.name }
func (g *nativeGroup) Path() string { return g.path }

func (g *nativeGroup) CreateGroup(name string) (Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.groups[name]; ok {
		return nil, fmt.Errorf("group %q in %q: %w", name, g.path, ErrExists)
	}
	if _, ok := g.datasets[name]; ok {
		return nil, fmt.Errorf("group %q in %q: %w", name, g.path, ErrExists)
	}
	child := newNativeGroup(name, path.Join(g.path, name))
	g.groups[name] = child
	return child, nil
}

func (g *nativeGroup) OpenGroup(name string) (Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	child, ok := g.groups[name]
	if !ok {
		return nil, fmt.Errorf("group %q in %q: %w", name, g.path, ErrNotFound)
	}
	return child, nil
}

func (g *nativeGroup) CreateDataset(name string, dtype DType, elementShape []int, chunk int) (Dataset, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.datasets[name]; ok {
		return nil, fmt.Errorf("dataset %q in %q: %w", name, g.path, ErrExists)
	}
	if _, ok := g.groups[name]; ok {
		return nil, fmt.Errorf("dataset %q in %q: %w", name, g.path, ErrExists)
	}
	ds := &nativeDataset{
		name:  name,
		dtype: dtype,
		shape: append([]int(nil), elementShape...),
		chunk: chunk,
		attrs: make(map[string]any),
	}
	g.datasets[name] = ds
	return ds, nil
}

func (g *nativeGroup) OpenDataset(name string) (Dataset, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ds, ok := g.datasets[name]
	if !ok {
		return nil, fmt.Errorf("dataset %q in %q: %w", name, g.path, ErrNotFound)
	}
	return ds, nil
}

func (g *nativeGroup) SetAttribute(name string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attrs[name] = value
	return nil
}

func (g *nativeGroup) Attribute(name string) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.attrs[name]
	return v, ok
}

func (g *nativeGroup) HasChild(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, isGroup := g.groups[name]
	_, isDataset := g.datasets[name]
	return isGroup || isDataset
}

type nativeDataset struct {
	name  string
	dtype DType
	shape []int
	chunk int

	mu    sync.Mutex
	attrs map[string]any
	ints  []int64
	uints []uint64
	reals []float64
	strs  []string
}

func (d *nativeDataset) Name() string        { return d.name }
func (d *nativeDataset) DType() DType        { return d.dtype }
func (d *nativeDataset) ElementShape() []int { return append([]int(nil), d.shape...) }

func (d *nativeDataset) rowWidth() int {
	width := 1
	for _, n := range d.shape {
		width *= n
	}
	return width
}

func (d *nativeDataset) Rows() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var elements int
	switch d.dtype {
	case Float32, Float64:
		elements = len(d.reals)
	case Uint8, Uint16, Uint32, Uint64:
		elements = len(d.uints)
	case String:
		elements = len(d.strs)
	default:
		elements = len(d.ints)
	}
	return uint64(elements / d.rowWidth())
}

func (d *nativeDataset) checkWidth(n int) error {
	if w := d.rowWidth(); w > 1 && n%w != 0 {
		return fmt.Errorf("append of %d elements to %q with row width %d: %w",
			n, d.name, w, ErrTypeClash)
	}
	return nil
}

func (d *nativeDataset) AppendInts(values []int64) error {
	switch d.dtype {
	case Int8, Int16, Int32, Int64:
	default:
		return fmt.Errorf("AppendInts on %s dataset %q: %w", d.dtype, d.name, ErrTypeClash)
	}
	if err := d.checkWidth(len(values)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ints = append(d.ints, values...)
	return nil
}

func (d *nativeDataset) AppendUints(values []uint64) error {
	switch d.dtype {
	case Uint8, Uint16, Uint32, Uint64:
	default:
		return fmt.Errorf("AppendUints on %s dataset %q: %w", d.dtype, d.name, ErrTypeClash)
	}
	if err := d.checkWidth(len(values)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uints = append(d.uints, values...)
	return nil
}

func (d *nativeDataset) AppendFloats(values []float64) error {
	switch d.dtype {
	case Float32, Float64:
	default:
		return fmt.Errorf("AppendFloats on %s dataset %q: %w", d.dtype, d.name, ErrTypeClash)
	}
	if err := d.checkWidth(len(values)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reals = append(d.reals, values...)
	return nil
}

func (d *nativeDataset) AppendStrings(values []string) error {
	if d.dtype != String {
		return fmt.Errorf("AppendStrings on %s dataset %q: %w", d.dtype, d.name, ErrTypeClash)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strs = append(d.strs, values...)
	return nil
}

func (d *nativeDataset) SetAttribute(name string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attrs[name] = value
	return nil
}

// Ints exposes the stored signed elements; test helper.
func (d *nativeDataset) Ints() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.ints...)
}

// Uints exposes the stored unsigned elements; test helper.
func (d *nativeDataset) Uints() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint64(nil), d.uints...)
}

// Floats exposes the stored float elements; test helper.
func (d *nativeDataset) Floats() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.reals...)
}

// Strings exposes the stored string elements; test helper.
func (d *nativeDataset) Strings() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.strs...)
}

// Attr exposes a dataset attribute; test helper.
func (d *nativeDataset) Attr(name string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.attrs[name]
	return v, ok
}

// nodeDoc is the persisted JSON form of a group.
type nodeDoc struct {
	Attributes map[string]any         `json:"attributes,omitempty"`
	Groups     map[string]*nodeDoc    `json:"groups,omitempty"`
	Datasets   map[string]*datasetDoc `json:"datasets,omitempty"`
}

type datasetDoc struct {
	DType      string         `json:"dtype"`
	Shape      []int          `json:"shape,omitempty"`
	Chunk      int            `json:"chunk,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Ints       []int64        `json:"ints,omitempty"`
	Uints      []uint64       `json:"uints,omitempty"`
	Reals      []float64      `json:"reals,omitempty"`
	Strs       []string       `json:"strings,omitempty"`
}

func (g *nativeGroup) toDoc() *nodeDoc {
	g.mu.Lock()
	defer g.mu.Unlock()
	doc := &nodeDoc{}
	if len(g.attrs) > 0 {
		doc.Attributes = g.attrs
	}
	if len(g.groups) > 0 {
		doc.Groups = make(map[string]*nodeDoc, len(g.groups))
		for name, child := range g.groups {
			doc.Groups[name] = child.toDoc()
		}
	}
	if len(g.datasets) > 0 {
		doc.Datasets = make(map[string]*datasetDoc, len(g.datasets))
		for name, ds := range g.datasets {
			ds.mu.Lock()
			doc.Datasets[name] = &datasetDoc{
				DType:      ds.dtype.String(),
				Shape:      ds.shape,
				Chunk:      ds.chunk,
				Attributes: ds.attrs,
				Ints:       ds.ints,
				Uints:      ds.uints,
				Reals:      ds.reals,
				Strs:       ds.strs,
			}
			ds.mu.Unlock()
		}
	}
	return doc
}

func (g *nativeGroup) fromDoc(doc *nodeDoc) error {
	for name, value := range doc.Attributes {
		g.attrs[name] = value
	}
	for name, childDoc := range doc.Groups {
		child := newNativeGroup(name, path.Join(g.path, name))
		if err := child.fromDoc(childDoc); err != nil {
			return err
		}
		g.groups[name] = child
	}
	for name, dsDoc := range doc.Datasets {
		dtype, err := ParseDType(dsDoc.DType)
		if err != nil {
			return fmt.Errorf("dataset %q: %w", name, err)
		}
		ds := &nativeDataset{
			name:  name,
			dtype: dtype,
			shape: dsDoc.Shape,
			chunk: dsDoc.Chunk,
			attrs: dsDoc.Attributes,
			ints:  dsDoc.Ints,
			uints: dsDoc.Uints,
			reals: dsDoc.Reals,
			strs:  dsDoc.Strs,
		}
		if ds.attrs == nil {
			ds.attrs = make(map[string]any)
		}
		g.datasets[name] = ds
	}
	return nil
}
