package field

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// registryFile is the on-disk layout of the field registry resource.
type registryFile struct {
	Indexes []struct {
		ID     string `yaml:"id"`
		Fields []struct {
			Name     string   `yaml:"name"`
			Type     DataType `yaml:"type"`
			Sortable bool     `yaml:"sortable"`
			Source   string   `yaml:"source"`
			Objects  []string `yaml:"objects"`
			Addable  *bool    `yaml:"addable"`
		} `yaml:"fields"`
	} `yaml:"indexes"`
}

// LoadFile builds a Registry from the YAML resource at path. A missing
// resource is logged and yields an empty registry, so every later lookup
// fails with a configuration error.
func LoadFile(path string) (*Registry, error) {
	logger := slog.Default().With("component", "field-registry")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("field registry resource not found, starting empty", "path", path)
			return NewRegistry(), nil
		}
		return nil, fmt.Errorf("reading field registry %s: %w", path, err)
	}
	reg, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading field registry %s: %w", path, err)
	}
	logger.Info("field registry loaded", "path", path, "fields", reg.Len(), "indexes", len(reg.Indexes()))
	return reg, nil
}

// Load builds a Registry from YAML bytes.
func Load(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing field registry: %w", err)
	}
	reg := NewRegistry()
	for _, idx := range file.Indexes {
		for _, f := range idx.Fields {
			addable := true
			if f.Addable != nil {
				addable = *f.Addable
			}
			def := Definition{
				Name:     f.Name,
				Index:    idx.ID,
				Type:     f.Type,
				Sortable: f.Sortable,
				Source:   f.Source,
				Objects:  f.Objects,
				Addable:  addable,
			}
			if err := reg.Register(def); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

// MustLoad is Load for tests and static fixtures; it panics on error.
func MustLoad(data []byte) *Registry {
	reg, err := Load(data)
	if err != nil {
		panic(err)
	}
	return reg
}
