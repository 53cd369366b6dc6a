package watchlist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"watchlist-dashboard/internal/models"
)

// Document is the on-disk watchlist shape shared by the JSON and YAML forms.
type Document struct {
	Stocks []models.WatchlistEntry `json:"stocks" yaml:"stocks"`
}

// FileSource reads a watchlist document from disk. The format follows the
// file extension: .yaml and .yml are YAML, everything else JSON.
type FileSource struct {
	path string
}

// NewFileSource creates a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return s.path }

func (s *FileSource) Load(ctx context.Context) ([]models.WatchlistEntry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist file: %w", err)
	}
	return Decode(data, formatOf(s.path))
}

// Decode parses a watchlist document in the given format ("json" or "yaml").
func Decode(data []byte, format string) ([]models.WatchlistEntry, error) {
	var doc Document
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse watchlist yaml: %w", err)
		}
	default:
		if err := json.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse watchlist json: %w", err)
		}
	}
	return doc.Stocks, nil
}

// WriteFile writes entries to path in the format implied by its extension.
func WriteFile(path string, entries []models.WatchlistEntry) error {
	doc := Document{Stocks: entries}

	var data []byte
	var err error
	if formatOf(path) == "yaml" {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode watchlist: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create watchlist dir: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}
