package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/questline/internal/errors"
)

// LoadJSON decodes and validates a quest graph from JSON content.
func LoadJSON(r io.Reader) (*QuestGraph, error) {
	var def Def
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return nil, errors.Wrap(errors.CodeGraphInvalid, "decode quest graph json", err)
	}
	return Build(def)
}

// LoadYAML decodes and validates a quest graph from YAML content, the
// format seed fixtures are authored in.
func LoadYAML(r io.Reader) (*QuestGraph, error) {
	var def Def
	if err := yaml.NewDecoder(r).Decode(&def); err != nil {
		return nil, errors.Wrap(errors.CodeGraphInvalid, "decode quest graph yaml", err)
	}
	return Build(def)
}

// LoadDefFile decodes a quest definition from disk without building it,
// picking the codec by file extension.
func LoadDefFile(path string) (Def, error) {
	f, err := os.Open(path)
	if err != nil {
		return Def{}, fmt.Errorf("open quest file: %w", err)
	}
	defer f.Close()

	var def Def
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(f).Decode(&def); err != nil {
			return Def{}, errors.Wrap(errors.CodeGraphInvalid, "decode quest graph yaml", err)
		}
	default:
		dec := json.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return Def{}, errors.Wrap(errors.CodeGraphInvalid, "decode quest graph json", err)
		}
	}
	return def, nil
}

// LoadFile loads and validates one quest graph from disk.
func LoadFile(path string) (*QuestGraph, error) {
	def, err := LoadDefFile(path)
	if err != nil {
		return nil, err
	}
	return Build(def)
}

// LoadDir loads every quest graph file in dir (non-recursive). Files
// without a recognized extension are skipped.
func LoadDir(dir string) ([]*QuestGraph, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read content dir: %w", err)
	}

	var graphs []*QuestGraph
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		g, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", entry.Name(), err)
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}
