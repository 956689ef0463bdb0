// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

//go:build hdf5

package hdf

import (
	"fmt"
	"os"
	"path"
	"sync"

	"gonum.org/v1/hdf5"
)

// hdf5Backend writes real HDF5 files through the gonum cgo bindings.
//
// The bindings expose no dataset-extension API, so appendable datasets
// buffer rows in memory and materialize the full dataset on flush/close
// by rewriting it. Files in this deployment are bounded by a single run,
// which keeps the rewrite acceptable; chunked-extend support can replace
// the buffering without changing the contract.
type hdf5Backend struct{}

func newHDF5Backend() (Backend, error) { return hdf5Backend{}, nil }

// Name implements Backend.
func (hdf5Backend) Name() string { return "hdf5" }

// VersionCheck implements Backend. An unexpected major version of the
// runtime library refuses startup; appending through a mismatched
// library corrupts chunked layouts silently.
func (hdf5Backend) VersionCheck() error {
	version, err := hdf5.LibVersion()
	if err != nil {
		return fmt.Errorf("query hdf5 library version: %w", err)
	}
	if version.Major != 1 {
		return fmt.Errorf("unsupported hdf5 library version %d.%d.%d",
			version.Major, version.Minor, version.Release)
	}
	return nil
}

// Create implements Backend.
func (hdf5Backend) Create(filePath string) (File, error) {
	if _, err := os.Stat(filePath); err == nil {
		return nil, fmt.Errorf("create %q: %w", filePath, ErrExists)
	}
	f, err := hdf5.CreateFile(filePath, hdf5.F_ACC_EXCL)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", filePath, err)
	}
	file := &h5File{path: filePath, file: f}
	file.h5Group = &h5Group{file: file, name: "", path: "/", children: map[string]any{}}
	return file, nil
}

// Open implements Backend.
func (hdf5Backend) Open(filePath string) (File, error) {
	f, err := hdf5.OpenFile(filePath, hdf5.F_ACC_RDWR)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", filePath, err)
	}
	file := &h5File{path: filePath, file: f}
	file.h5Group = &h5Group{file: file, name: "", path: "/", children: map[string]any{}}
	return file, nil
}

type h5File struct {
	*h5Group
	path   string
	mu     sync.Mutex
	file   *hdf5.File
	closed bool
}

func (f *h5File) FilePath() string { return f.path }

func (f *h5File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFileClosed
	}
	if err := f.h5Group.materialize(); err != nil {
		return err
	}
	return f.file.Flush(hdf5.F_SCOPE_GLOBAL)
}

func (f *h5File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	if err := f.h5Group.materialize(); err != nil {
		return err
	}
	f.closed = true
	return f.file.Close()
}

// h5Group tracks created children so buffered datasets can be
// materialized on flush. CommonFG covers *hdf5.File and *hdf5.Group.
type h5Group struct {
	file     *h5File
	group    *hdf5.Group
	name     string
	path     string
	mu       sync.Mutex
	children map[string]any
}

func (g *h5Group) commonFG() *hdf5.CommonFG {
	if g.group != nil {
		return &g.group.CommonFG
	}
	return &g.file.file.CommonFG
}

func (g *h5Group) Name() string { return g.name }
func (g *h5Group) Path() string { return g.path }

func (g *h5Group) CreateGroup(name string) (Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.children[name]; ok {
		return nil, fmt.Errorf("group %q in %q: %w", name, g.path, ErrExists)
	}
	grp, err := g.commonFG().CreateGroup(name)
	if err != nil {
		return nil, fmt.Errorf("create group %q in %q: %w", name, g.path, err)
	}
	child := &h5Group{
		file:     g.file,
		group:    grp,
		name:     name,
		path:     path.Join(g.path, name),
		children: map[string]any{},
	}
	g.children[name] = child
	return child, nil
}

func (g *h5Group) OpenGroup(name string) (Group, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if child, ok := g.children[name]; ok {
		if grp, ok := child.(*h5Group); ok {
			return grp, nil
		}
		return nil, fmt.Errorf("group %q in %q: %w", name, g.path, ErrTypeClash)
	}
	grp, err := g.commonFG().OpenGroup(name)
	if err != nil {
		return nil, fmt.Errorf("open group %q in %q: %w", name, g.path, ErrNotFound)
	}
	child := &h5Group{
		file:     g.file,
		group:    grp,
		name:     name,
		path:     path.Join(g.path, name),
		children: map[string]any{},
	}
	g.children[name] = child
	return child, nil
}

func (g *h5Group) CreateDataset(name string, dtype DType, elementShape []int, chunk int) (Dataset, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.children[name]; ok {
		return nil, fmt.Errorf("dataset %q in %q: %w", name, g.path, ErrExists)
	}
	ds := &h5Dataset{
		parent: g,
		name:   name,
		dtype:  dtype,
		shape:  append([]int(nil), elementShape...),
	}
	g.children[name] = ds
	return ds, nil
}

func (g *h5Group) OpenDataset(name string) (Dataset, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if child, ok := g.children[name]; ok {
		if ds, ok := child.(*h5Dataset); ok {
			return ds, nil
		}
		return nil, fmt.Errorf("dataset %q in %q: %w", name, g.path, ErrTypeClash)
	}
	// Reopen after the create phase: absorb existing content into the
	// append buffer and rewrite on flush.
	existing, err := g.commonFG().OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("open dataset %q in %q: %w", name, g.path, ErrNotFound)
	}
	ds := &h5Dataset{parent: g, name: name, dtype: Float64}
	if loadErr := ds.load(existing); loadErr != nil {
		_ = existing.Close()
		return nil, loadErr
	}
	_ = existing.Close()
	g.children[name] = ds
	return ds, nil
}

func (g *h5Group) SetAttribute(name string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return writeScalarAttribute(g.attrHolder(), name, value)
}

func (g *h5Group) Attribute(name string) (any, bool) {
	// The bindings expose attribute reads only by type; nexusd itself
	// never reads group attributes back through this backend.
	return nil, false
}

func (g *h5Group) HasChild(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.children[name]; ok {
		return true
	}
	n, err := g.commonFG().NumObjects()
	if err != nil {
		return false
	}
	for i := uint(0); i < uint(n); i++ {
		objName, err := g.commonFG().ObjectNameByIndex(i)
		if err == nil && objName == name {
			return true
		}
	}
	return false
}

// attrHolder returns the object attributes attach to.
type attrObject interface {
	CreateAttribute(name string, dtype *hdf5.Datatype, space *hdf5.Dataspace) (*hdf5.Attribute, error)
}

func (g *h5Group) attrHolder() attrObject {
	if g.group != nil {
		return g.group
	}
	return g.file.file
}

func writeScalarAttribute(obj attrObject, name string, value any) error {
	space, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return fmt.Errorf("attribute %q dataspace: %w", name, err)
	}
	defer space.Close()

	switch v := value.(type) {
	case string:
		dtype, err := hdf5.NewDatatypeFromValue(v)
		if err != nil {
			return fmt.Errorf("attribute %q datatype: %w", name, err)
		}
		attr, err := obj.CreateAttribute(name, dtype, space)
		if err != nil {
			return fmt.Errorf("create attribute %q: %w", name, err)
		}
		defer attr.Close()
		return attr.Write(&v, dtype)
	case float64:
		dtype := hdf5.T_NATIVE_DOUBLE
		attr, err := obj.CreateAttribute(name, dtype, space)
		if err != nil {
			return fmt.Errorf("create attribute %q: %w", name, err)
		}
		defer attr.Close()
		return attr.Write(&v, dtype)
	case int64:
		dtype := hdf5.T_NATIVE_INT64
		attr, err := obj.CreateAttribute(name, dtype, space)
		if err != nil {
			return fmt.Errorf("create attribute %q: %w", name, err)
		}
		defer attr.Close()
		return attr.Write(&v, dtype)
	default:
		text := fmt.Sprint(value)
		return writeScalarAttribute(obj, name, text)
	}
}

// h5Dataset buffers appends and writes the dataset on materialize.
type h5Dataset struct {
	parent *h5Group
	name   string
	dtype  DType
	shape  []int

	mu    sync.Mutex
	attrs map[string]any
	ints  []int64
	uints []uint64
	reals []float64
	strs  []string
}

func (d *h5Dataset) Name() string        { return d.name }
func (d *h5Dataset) DType() DType        { return d.dtype }
func (d *h5Dataset) ElementShape() []int { return append([]int(nil), d.shape...) }

func (d *h5Dataset) rowWidth() int {
	width := 1
	for _, n := range d.shape {
		width *= n
	}
	return width
}

func (d *h5Dataset) Rows() uint64 {
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

func (d *h5Dataset) AppendInts(values []int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ints = append(d.ints, values...)
	return nil
}

func (d *h5Dataset) AppendUints(values []uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uints = append(d.uints, values...)
	return nil
}

func (d *h5Dataset) AppendFloats(values []float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reals = append(d.reals, values...)
	return nil
}

func (d *h5Dataset) AppendStrings(values []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strs = append(d.strs, values...)
	return nil
}

func (d *h5Dataset) SetAttribute(name string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attrs == nil {
		d.attrs = make(map[string]any)
	}
	d.attrs[name] = value
	return nil
}

// load absorbs an existing on-disk dataset into the append buffer.
func (d *h5Dataset) load(src *hdf5.Dataset) error {
	space := src.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return fmt.Errorf("dataset %q extent: %w", d.name, err)
	}
	total := 1
	for _, n := range dims {
		total *= int(n)
	}
	if total == 0 {
		d.dtype = Float64
		return nil
	}
	buf := make([]float64, total)
	if err := src.Read(&buf); err != nil {
		return fmt.Errorf("dataset %q read: %w", d.name, err)
	}
	d.dtype = Float64
	d.reals = buf
	return nil
}

// materialize writes the buffered rows as the dataset content.
func (g *h5Group) materialize() error {
	g.mu.Lock()
	children := make([]any, 0, len(g.children))
	for _, child := range g.children {
		children = append(children, child)
	}
	g.mu.Unlock()

	for _, child := range children {
		switch node := child.(type) {
		case *h5Group:
			if err := node.materialize(); err != nil {
				return err
			}
		case *h5Dataset:
			if err := node.materialize(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *h5Dataset) materialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fg := d.parent.commonFG()
	// Rewrite: drop any previous materialization before writing.
	// Unlink is not exposed; write under the same name only once per
	// flush by checking existence and skipping rewrite when unchanged is
	// not tracked. The bindings tolerate re-creation failures, which we
	// map to an overwrite via open+write when the shape still matches.
	var data any
	var n int
	var dtype *hdf5.Datatype
	switch d.dtype {
	case Float32, Float64:
		buf := append([]float64(nil), d.reals...)
		data, n, dtype = &buf, len(buf), hdf5.T_NATIVE_DOUBLE
	case Uint8, Uint16, Uint32, Uint64:
		buf := append([]uint64(nil), d.uints...)
		data, n, dtype = &buf, len(buf), hdf5.T_NATIVE_UINT64
	case String:
		// Fixed set of strings; stored via per-element attributes is not
		// supported here, skip string datasets in the cgo backend.
		return nil
	default:
		buf := append([]int64(nil), d.ints...)
		data, n, dtype = &buf, len(buf), hdf5.T_NATIVE_INT64
	}
	if n == 0 {
		return nil
	}

	dims := []uint{uint(n / d.rowWidth())}
	for _, s := range d.shape {
		dims = append(dims, uint(s))
	}
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("dataset %q dataspace: %w", d.name, err)
	}
	defer space.Close()

	ds, err := fg.CreateDataset(d.name, dtype, space)
	if err != nil {
		existing, openErr := fg.OpenDataset(d.name)
		if openErr != nil {
			return fmt.Errorf("dataset %q create: %w", d.name, err)
		}
		ds = existing
	}
	defer ds.Close()
	if err := ds.Write(data); err != nil {
		return fmt.Errorf("dataset %q write: %w", d.name, err)
	}
	return nil
}
