package papers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint records which ingredients have been searched so a run can
// resume after being stopped.
type Checkpoint struct {
	Processed   []string  `json:"processed"`
	LastIndex   int       `json:"last_index"`
	TotalPapers int       `json:"total_papers"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// LoadCheckpoint reads the checkpoint at path. A missing file yields an
// empty checkpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Checkpoint{Processed: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	if cp.Processed == nil {
		cp.Processed = []string{}
	}
	return &cp, nil
}

// Save stamps the checkpoint and writes it to path, replacing any
// previous file in one rename.
func (cp *Checkpoint) Save(path string, now time.Time) error {
	cp.LastUpdated = now

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}
