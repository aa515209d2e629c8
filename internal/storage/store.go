// Package storage persists trained models as a directory per model:
//
//	<base>/<name>/template.yaml   architecture the model is rebuilt from
//	<base>/<name>/weights.bin     parameter blobs in Params() order
//	<base>/<name>/metadata.json   run id, seed, loss and metrics
//	<base>/<name>/history.csv     logged training progress
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/lorenzonet/internal/nn"
	"github.com/san-kum/lorenzonet/internal/train"
)

var (
	ErrNotFound     = errors.New("storage: model not found")
	ErrCorruptModel = errors.New("storage: corrupt model")
	ErrInvalidName  = errors.New("storage: invalid model name")
)

const (
	templateFile = "template.yaml"
	weightsFile  = "weights.bin"
	metadataFile = "metadata.json"
	historyFile  = "history.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// Dir is the directory a model called name is stored in.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.baseDir, name)
}

type Metadata struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Timestamp    time.Time          `json:"timestamp"`
	System       string             `json:"system"`
	Seed         int64              `json:"seed"`
	Backend      string             `json:"backend"`
	Architecture string             `json:"architecture"`
	Params       int                `json:"params"`
	Epochs       int                `json:"epochs"`
	FinalLoss    float64            `json:"final_loss"`
	TrainSeconds float64            `json:"train_seconds"`
	Config       map[string]float64 `json:"config"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// SaveModel writes model, its training history and meta under name,
// replacing any previous model of that name. The returned metadata has ID,
// Name, Timestamp and Params filled in.
func (s *Store) SaveModel(name string, model *nn.DeepONet, history []train.Progress, meta Metadata) (*Metadata, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	dir := s.Dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	tmpl, err := yaml.Marshal(model.Architecture())
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, templateFile), tmpl, 0644); err != nil {
		return nil, err
	}

	if err := writeWeightsFile(filepath.Join(dir, weightsFile), model.Params()); err != nil {
		return nil, err
	}
	if err := writeHistoryFile(filepath.Join(dir, historyFile), history); err != nil {
		return nil, err
	}

	meta.ID = uuid.NewString()
	meta.Name = name
	meta.Architecture = model.Architecture().String()
	meta.Params = model.NumParams()
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	if err := s.writeMetadata(name, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) writeMetadata(name string, meta *Metadata) error {
	f, err := os.Create(filepath.Join(s.Dir(name), metadataFile))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return err
	}
	return f.Close()
}

// LoadModel rebuilds the model from its template and restores the saved
// weights.
func (s *Store) LoadModel(name string) (*nn.DeepONet, *Metadata, error) {
	meta, err := s.Load(name)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(name), templateFile))
	if err != nil {
		return nil, nil, notFound(name, err)
	}
	var arch nn.Architecture
	if err := yaml.Unmarshal(data, &arch); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: template: %v", ErrCorruptModel, name, err)
	}

	// initial weights are overwritten below
	model, err := nn.NewDeepONet(arch, rand.New(rand.NewSource(0)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrCorruptModel, name, err)
	}
	if err := readWeightsFile(filepath.Join(s.Dir(name), weightsFile), model.Params()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, notFound(name, err)
		}
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return model, meta, nil
}

// Load reads the metadata of a saved model.
func (s *Store) Load(name string) (*Metadata, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(name), metadataFile))
	if err != nil {
		return nil, notFound(name, err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: metadata: %v", ErrCorruptModel, name, err)
	}
	return &meta, nil
}

// UpdateMetrics merges metrics into the saved metadata of name.
func (s *Store) UpdateMetrics(name string, metrics map[string]float64) error {
	meta, err := s.Load(name)
	if err != nil {
		return err
	}
	if meta.Metrics == nil {
		meta.Metrics = make(map[string]float64, len(metrics))
	}
	for k, v := range metrics {
		meta.Metrics[k] = v
	}
	return s.writeMetadata(name, meta)
}

// List returns the metadata of every saved model, newest first.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Metadata{}, nil
		}
		return nil, err
	}

	models := make([]Metadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		models = append(models, *meta)
	}

	sort.Slice(models, func(i, j int) bool { return models[i].Timestamp.After(models[j].Timestamp) })
	return models, nil
}

// LoadHistory reads the training progress saved with name.
func (s *Store) LoadHistory(name string) ([]train.Progress, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	h, err := readHistoryFile(filepath.Join(s.Dir(name), historyFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(name, err)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return h, nil
}

func notFound(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}
