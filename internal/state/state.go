package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"

	"github.com/picklr-io/picklr-aws/internal/ir"
	"github.com/picklr-io/picklr-aws/internal/logging"
)

// DefaultPath is where state is kept when the configuration names no path.
const DefaultPath = ".picklr/aws-state.json"

// New returns an empty state with a fresh lineage.
func New() *ir.State {
	return &ir.State{
		Version: ir.StateVersion,
		Lineage: ulid.Make().String(),
	}
}

// Encode renders state as indented JSON, encrypted when
// PICKLR_STATE_ENCRYPTION_KEY is set. A state without a lineage gets one
// here, so the lineage is fixed from its first write on.
func Encode(s *ir.State) ([]byte, error) {
	if s.Lineage == "" {
		s.Lineage = ulid.Make().String()
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	sealer, err := SealerFromEnv()
	if err != nil {
		return nil, err
	}
	return sealer.Seal(append(data, '\n'))
}

// Decode parses state written by Encode.
func Decode(raw []byte) (*ir.State, error) {
	sealer, err := SealerFromEnv()
	if err != nil {
		return nil, err
	}
	data, err := sealer.Open(raw)
	if err != nil {
		return nil, err
	}
	var s ir.State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if s.Version > ir.StateVersion {
		return nil, fmt.Errorf("state version %d is newer than supported version %d", s.Version, ir.StateVersion)
	}
	return &s, nil
}

// Manager handles reading and writing of state in a local file.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	if path == "" {
		path = DefaultPath
	}
	return &Manager{path: path}
}

func (m *Manager) Path() string { return m.path }

// Read loads the state file. A missing file yields an empty state.
func (m *Manager) Read(_ context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Debug("no state file, starting empty", "path", m.path)
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}
	s, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", m.path, err)
	}
	return s, nil
}

// Write bumps the serial and replaces the state file. The new content is
// written to a sibling file first so a crash never leaves a torn state.
func (m *Manager) Write(_ context.Context, s *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	s.Serial++
	data, err := Encode(s)
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", m.path, err)
	}
	logging.Debug("state written", "path", m.path, "serial", s.Serial)
	return nil
}
