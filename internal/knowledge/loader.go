// Package knowledge loads knowledge base seed files and populates a store
// with them.
package knowledge

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"church-assistant/internal/domain"
)

//go:embed seed.yaml
var defaultSeed []byte

// entryNamespace derives stable ids for seed entries that do not carry one.
var entryNamespace = uuid.MustParse("6f1c2b1e-8d4a-4c55-9a3e-2f7d9b0c4e11")

type seedFile struct {
	Entries []domain.KnowledgeEntry `yaml:"entries"`
}

// Default returns the built-in knowledge base.
func Default() ([]domain.KnowledgeEntry, error) {
	return Load(bytes.NewReader(defaultSeed))
}

// LoadFile reads a YAML seed file from disk.
func LoadFile(path string) ([]domain.KnowledgeEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a YAML seed document. Unknown fields are
// rejected. Entries without an id get one derived from their title.
func Load(r io.Reader) ([]domain.KnowledgeEntry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc seedFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("knowledge: seed file is empty")
		}
		return nil, fmt.Errorf("knowledge: decode seed file: %w", err)
	}

	seen := make(map[string]int, len(doc.Entries))
	entries := make([]domain.KnowledgeEntry, 0, len(doc.Entries))
	for i, e := range doc.Entries {
		e.Title = strings.TrimSpace(e.Title)
		e.Content = strings.TrimSpace(e.Content)
		if e.Title == "" {
			return nil, fmt.Errorf("knowledge: entry %d: title is required", i+1)
		}
		if e.Content == "" {
			return nil, fmt.Errorf("knowledge: entry %d (%q): content is required", i+1, e.Title)
		}
		if e.ID == "" {
			e.ID = uuid.NewSHA1(entryNamespace, []byte(e.Title)).String()
		}
		if prev, ok := seen[e.ID]; ok {
			return nil, fmt.Errorf("knowledge: entry %d (%q): duplicate id %s (first used by entry %d)", i+1, e.Title, e.ID, prev)
		}
		seen[e.ID] = i + 1
		entries = append(entries, e)
	}
	return entries, nil
}
