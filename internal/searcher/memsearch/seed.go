package memsearch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Documents []Document `yaml:"documents"`
}

// LoadSeed reads documents from a YAML file of the form
//
//	documents:
//	  - key: b1
//	    fields:
//	      title: [The Quick Brown Fox]
func LoadSeed(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed %s: %w", path, err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) ([]Document, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing seed documents: %w", err)
	}
	for i, d := range file.Documents {
		if d.Key == "" {
			return nil, fmt.Errorf("seed document %d has no key", i)
		}
	}
	return file.Documents, nil
}

// AddAll indexes docs in order.
func (ix *Index) AddAll(docs []Document) {
	for _, d := range docs {
		ix.Add(d)
	}
}
