package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Parse decodes a single broker definition from its JSON form.
func Parse(data []byte) (Broker, error) {
	var b Broker
	if err := json.Unmarshal(data, &b); err != nil {
		return Broker{}, fmt.Errorf("invalid broker definition: %w", err)
	}
	if b.Name == "" || b.URL == "" {
		return Broker{}, fmt.Errorf("broker definition missing name or url")
	}
	if len(b.Steps) == 0 {
		return Broker{}, fmt.Errorf("broker %s has no steps", b.Name)
	}
	return b, nil
}

// LoadCatalog reads every *.json broker definition under dir, sorted by file
// name so catalog order is stable across runs.
func LoadCatalog(dir string) ([]Broker, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading broker catalog %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	brokers := make([]Broker, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		b, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		brokers = append(brokers, b)
	}
	return brokers, nil
}
