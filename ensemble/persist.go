package ensemble

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/safewater/frcnet/metrics"
	"github.com/safewater/frcnet/nn"
	"github.com/safewater/frcnet/scaler"
)

const (
	// FormatVersion identifies the on-disk ensemble layout.
	FormatVersion = "frcnet_ensemble_v1"

	ManifestFile     = "manifest.json"
	ArchitectureFile = "architecture.json"
	ScalerFile       = "scaler.json"
	WeightsDir       = "network_weights"
)

// MemberFile is the slash-separated path of member i's weights.
func MemberFile(i int) string {
	return path.Join(WeightsDir, fmt.Sprintf("network%d.json", i))
}

// Manifest describes a saved ensemble.
type Manifest struct {
	FormatVersion string    `json:"format_version"`
	SessionID     string    `json:"session_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	MemberCount   int       `json:"member_count"`
	Summary       *Summary  `json:"summary,omitempty"`
}

// SaveOptions controls Save.
type SaveOptions struct {
	// Overwrite replaces an existing ensemble directory.
	Overwrite bool
	// Summary is recorded in the manifest when set.
	Summary *Summary
	// SessionID defaults to a random UUID.
	SessionID string
}

// Save writes the ensemble under dir. Files are written into a staging
// directory next to dir which is renamed into place only after every member
// and the scaler are on disk.
func (e *Ensemble) Save(dir string, opts SaveOptions) (*Manifest, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("ensemble directory is required")
	}
	if e.Size() == 0 {
		return nil, ErrEmptyEnsemble
	}
	if err := e.Scaler.Validate(); err != nil {
		return nil, fmt.Errorf("scaler: %w", err)
	}

	dir = filepath.Clean(dir)
	if _, err := os.Stat(dir); err == nil && !opts.Overwrite {
		return nil, fmt.Errorf("ensemble directory already exists: %s (set overwrite=true to replace)", dir)
	}
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".staging-")
	if err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := os.Chmod(staging, 0o755); err != nil {
		return nil, err
	}
	if err := os.Mkdir(filepath.Join(staging, WeightsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create weights directory: %w", err)
	}
	if err := writeJSON(filepath.Join(staging, ArchitectureFile), e.Architecture); err != nil {
		return nil, fmt.Errorf("write %s: %w", ArchitectureFile, err)
	}
	for i, m := range e.Members {
		if m == nil {
			return nil, fmt.Errorf("member %d is missing", i)
		}
		if m.Architecture() != e.Architecture {
			return nil, fmt.Errorf("member %d architecture %+v differs from %+v", i, m.Architecture(), e.Architecture)
		}
		if err := writeJSON(filepath.Join(staging, filepath.FromSlash(MemberFile(i))), m.Weights()); err != nil {
			return nil, fmt.Errorf("write member %d: %w", i, err)
		}
	}
	if err := writeJSON(filepath.Join(staging, ScalerFile), e.Scaler); err != nil {
		return nil, fmt.Errorf("write %s: %w", ScalerFile, err)
	}

	manifest := Manifest{
		FormatVersion: FormatVersion,
		SessionID:     opts.SessionID,
		GeneratedAt:   time.Now().UTC(),
		MemberCount:   e.Size(),
		Summary:       opts.Summary,
	}
	if manifest.SessionID == "" {
		manifest.SessionID = uuid.NewString()
	}
	if err := writeJSON(filepath.Join(staging, ManifestFile), manifest); err != nil {
		return nil, fmt.Errorf("write %s: %w", ManifestFile, err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("replace ensemble directory: %w", err)
	}
	if err := os.Rename(staging, dir); err != nil {
		return nil, fmt.Errorf("commit ensemble directory: %w", err)
	}
	committed = true
	return &manifest, nil
}

// Load reads an ensemble saved under dir.
func Load(dir string) (*Ensemble, *Manifest, error) {
	info, err := os.Stat(dir)
	if err != nil {
		metrics.EnsembleLoads.WithLabelValues("corrupt").Inc()
		return nil, nil, fmt.Errorf("%w: %w", ErrCorruptOrIncompleteEnsemble, err)
	}
	if !info.IsDir() {
		metrics.EnsembleLoads.WithLabelValues("corrupt").Inc()
		return nil, nil, fmt.Errorf("%w: %s is not a directory", ErrCorruptOrIncompleteEnsemble, dir)
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads an ensemble from the root of fsys. Either every member and
// the scaler load, or ErrCorruptOrIncompleteEnsemble is returned with no
// ensemble.
func LoadFS(fsys fs.FS) (*Ensemble, *Manifest, error) {
	e, m, err := loadFS(fsys)
	if err != nil {
		metrics.EnsembleLoads.WithLabelValues("corrupt").Inc()
		return nil, nil, fmt.Errorf("%w: %w", ErrCorruptOrIncompleteEnsemble, err)
	}
	metrics.EnsembleLoads.WithLabelValues("ok").Inc()
	return e, m, nil
}

func loadFS(fsys fs.FS) (*Ensemble, *Manifest, error) {
	var manifest Manifest
	if err := readJSON(fsys, ManifestFile, &manifest); err != nil {
		return nil, nil, err
	}
	if manifest.FormatVersion != FormatVersion {
		return nil, nil, fmt.Errorf("unsupported format version %q", manifest.FormatVersion)
	}
	if manifest.MemberCount < 1 {
		return nil, nil, fmt.Errorf("manifest lists %d members", manifest.MemberCount)
	}

	var arch nn.Architecture
	if err := readJSON(fsys, ArchitectureFile, &arch); err != nil {
		return nil, nil, err
	}
	if err := arch.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", ArchitectureFile, err)
	}

	members := make([]*nn.Network, manifest.MemberCount)
	for i := range members {
		var w nn.Weights
		if err := readJSON(fsys, MemberFile(i), &w); err != nil {
			return nil, nil, fmt.Errorf("load member %d: %w", i, err)
		}
		net, err := nn.FromWeights(arch, w)
		if err != nil {
			return nil, nil, fmt.Errorf("load member %d: %w", i, err)
		}
		members[i] = net
	}

	var state scaler.State
	if err := readJSON(fsys, ScalerFile, &state); err != nil {
		return nil, nil, err
	}
	if err := state.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", ScalerFile, err)
	}
	if state.Predictors.Width() != arch.Inputs {
		return nil, nil, fmt.Errorf("scaler has %d predictors, architecture expects %d", state.Predictors.Width(), arch.Inputs)
	}

	return &Ensemble{Architecture: arch, Members: members, Scaler: state}, &manifest, nil
}

func readJSON(fsys fs.FS, name string, v any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func writeJSON(path string, v any) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
