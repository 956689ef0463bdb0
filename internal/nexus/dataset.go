// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package nexus

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/mfalkenberg/nexusd/internal/hdf"
)

// staticDatasetConfig is the config fragment of a "dataset" module node.
type staticDatasetConfig struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	DType  string          `json:"dtype"`
	Values json.RawMessage `json:"values"`
	Size   []int           `json:"size"`
}

// legacyDatasetMeta is the nested "dataset" object of the legacy form.
type legacyDatasetMeta struct {
	Type string `json:"type"`
	Size []int  `json:"size"`
}

// writeStaticDataset materializes a fixed-content dataset node. Both the
// module form ({"module":"dataset","config":{...}}) and the legacy typed
// form ({"type":"dataset","name":...,"values":...}) are accepted.
func writeStaticDataset(parent hdf.Group, n *node) error {
	cfg := staticDatasetConfig{Name: n.Name, Values: n.Values}
	if len(n.Config) > 0 {
		if err := json.Unmarshal(n.Config, &cfg); err != nil {
			return fmt.Errorf("%w: dataset config under %q: %v", ErrParse, parent.Path(), err)
		}
	}
	if len(n.Dataset) > 0 {
		var meta legacyDatasetMeta
		if err := json.Unmarshal(n.Dataset, &meta); err != nil {
			return fmt.Errorf("%w: dataset metadata under %q: %v", ErrParse, parent.Path(), err)
		}
		if cfg.Type == "" {
			cfg.Type = meta.Type
		}
		if len(cfg.Size) == 0 {
			cfg.Size = meta.Size
		}
	}
	if cfg.Name == "" {
		return fmt.Errorf("%w: dataset node without a name under %q", ErrParse, parent.Path())
	}

	typeName := cfg.Type
	if typeName == "" {
		typeName = cfg.DType
	}
	dtype, values, err := decodeStaticValues(typeName, cfg.Values)
	if err != nil {
		return fmt.Errorf("%w: dataset %q under %q: %v", ErrParse, cfg.Name, parent.Path(), err)
	}

	ds, err := parent.CreateDataset(cfg.Name, dtype, nil, 0)
	if err != nil {
		return fmt.Errorf("create dataset %q under %q: %w", cfg.Name, parent.Path(), err)
	}
	if err := appendStaticValues(ds, dtype, values); err != nil {
		return fmt.Errorf("write dataset %q under %q: %w", cfg.Name, parent.Path(), err)
	}
	if len(n.Attributes) > 0 {
		if err := writeDatasetAttributes(ds, n.Attributes); err != nil {
			return err
		}
	}
	return nil
}

// staticValues holds decoded fixed dataset content, one slice populated.
type staticValues struct {
	strs  []string
	reals []float64
	ints  []int64
}

func decodeStaticValues(typeName string, raw json.RawMessage) (hdf.DType, staticValues, error) {
	var values staticValues
	if len(raw) == 0 {
		return 0, values, errors.New("values missing")
	}

	// Try scalar and array forms in order of specificity.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		values.strs = []string{s}
		return resolveDTypeWith(typeName, hdf.String, values)
	}
	var ss []string
	if err := json.Unmarshal(raw, &ss); err == nil {
		values.strs = ss
		return resolveDTypeWith(typeName, hdf.String, values)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		values.reals = []float64{f}
		values.ints = []int64{int64(f)}
		return resolveDTypeWith(typeName, hdf.Float64, values)
	}
	var fs []float64
	if err := json.Unmarshal(raw, &fs); err == nil {
		values.reals = fs
		values.ints = make([]int64, len(fs))
		for i, x := range fs {
			values.ints[i] = int64(x)
		}
		return resolveDTypeWith(typeName, hdf.Float64, values)
	}
	return 0, values, errors.New("unsupported values shape")
}

func resolveDTypeWith(typeName string, fallback hdf.DType, values staticValues) (hdf.DType, staticValues, error) {
	if typeName == "" {
		return fallback, values, nil
	}
	dtype, err := hdf.ParseDType(typeName)
	if err != nil {
		return 0, values, err
	}
	return dtype, values, nil
}

func appendStaticValues(ds hdf.Dataset, dtype hdf.DType, values staticValues) error {
	switch dtype {
	case hdf.String:
		return ds.AppendStrings(values.strs)
	case hdf.Float32, hdf.Float64:
		return ds.AppendFloats(values.reals)
	case hdf.Uint8, hdf.Uint16, hdf.Uint32, hdf.Uint64:
		uints := make([]uint64, len(values.ints))
		for i, x := range values.ints {
			uints[i] = uint64(x)
		}
		return ds.AppendUints(uints)
	default:
		return ds.AppendInts(values.ints)
	}
}

// attributeEntry is the array form of an attribute declaration.
type attributeEntry struct {
	Name   string          `json:"name"`
	Values json.RawMessage `json:"values"`
	DType  string          `json:"dtype"`
}

// WriteAttributes applies an attribute payload to a group. Both the
// mapping form {"k": v} and the array form [{"name","values","dtype"}]
// are accepted.
func WriteAttributes(g hdf.Group, raw json.RawMessage) error {
	return writeAttributesWith(raw, g.SetAttribute, g.Path())
}

func writeDatasetAttributes(ds hdf.Dataset, raw json.RawMessage) error {
	return writeAttributesWith(raw, ds.SetAttribute, ds.Name())
}

func writeAttributesWith(raw json.RawMessage, set func(string, any) error, where string) error {
	var entries []attributeEntry
	if err := json.Unmarshal(raw, &entries); err == nil {
		for _, entry := range entries {
			if entry.Name == "" {
				return fmt.Errorf("%w: attribute without a name on %q", ErrParse, where)
			}
			value, err := decodeAttributeValue(entry.Values)
			if err != nil {
				return fmt.Errorf("%w: attribute %q on %q: %v", ErrParse, entry.Name, where, err)
			}
			if err := set(entry.Name, value); err != nil {
				return err
			}
		}
		return nil
	}

	var mapping map[string]json.RawMessage
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return fmt.Errorf("%w: unrecognized attributes payload on %q: %v", ErrParse, where, err)
	}
	for name, rawValue := range mapping {
		value, err := decodeAttributeValue(rawValue)
		if err != nil {
			return fmt.Errorf("%w: attribute %q on %q: %v", ErrParse, name, where, err)
		}
		if err := set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func decodeAttributeValue(raw json.RawMessage) (any, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var ss []string
	if err := json.Unmarshal(raw, &ss); err == nil {
		return ss, nil
	}
	var fs []float64
	if err := json.Unmarshal(raw, &fs); err == nil {
		return fs, nil
	}
	return nil, errors.New("unsupported attribute value")
}
