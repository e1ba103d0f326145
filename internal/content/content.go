// Package content holds the flavor-text datasets the game deals from. The
// lists are opaque to the engine, which only ever stores indices into them.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "embed"
)

// Placeholder is the token every crime template contains; it gets replaced
// with the defendant's display name when a view is built.
const Placeholder = "{PLAYERNAME}"

//go:embed crimes.json
var defaultCrimes []byte

//go:embed evidence.json
var defaultEvidence []byte

type Library struct {
	Crimes   []string
	Evidence []string
}

// Load builds a library from the given JSON files. An empty path falls back
// to the embedded dataset for that list.
func Load(crimesPath, evidencePath string) (*Library, error) {
	crimes, err := loadList(crimesPath, defaultCrimes)
	if err != nil {
		return nil, fmt.Errorf("loading crimes: %w", err)
	}
	evidence, err := loadList(evidencePath, defaultEvidence)
	if err != nil {
		return nil, fmt.Errorf("loading evidence: %w", err)
	}
	return &Library{Crimes: crimes, Evidence: evidence}, nil
}

// Default is the embedded dataset only.
func Default() (*Library, error) {
	return Load("", "")
}

func loadList(path string, fallback []byte) ([]string, error) {
	raw := fallback
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("dataset is empty")
	}
	return list, nil
}

// RenderCrime substitutes the defendant's name into crime template i.
func (l *Library) RenderCrime(i int, defendant string) string {
	return strings.ReplaceAll(l.Crimes[i], Placeholder, defendant)
}
