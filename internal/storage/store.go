// Package storage persists runs: one directory per run holding
// metadata.json, trajectory.csv and, for quantified runs, bands.csv,
// indexed by a SQLite catalog.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/stockflow/internal/dynamo"
)

const (
	metadataFile   = "metadata.json"
	trajectoryFile = "trajectory.csv"
	bandsFile      = "bands.csv"
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

func (s *Store) Dir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

type Kind string

const (
	KindSolve    Kind = "solve"
	KindSimulate Kind = "simulate"
	KindQuantify Kind = "quantify"
)

// RunMetadata describes a stored run. Values stay in the CSV files.
type RunMetadata struct {
	ID              string              `json:"id"`
	Scenario        string              `json:"scenario"`
	Kind            Kind                `json:"kind"`
	Timestamp       time.Time           `json:"timestamp"`
	Intervention    string              `json:"intervention,omitempty"`
	Stocks          []string            `json:"stocks"`
	Units           []string            `json:"units"`
	Phase           dynamo.Phase        `json:"phase"`
	Converged       bool                `json:"converged"`
	ConvergenceYear int                 `json:"convergence_year"`
	Cause           dynamo.Cause        `json:"cause,omitempty"`
	Years           int                 `json:"years"`
	Final           dynamo.State        `json:"final"`
	DiscountRate    float64             `json:"discount_rate"`
	Diagnostics     []dynamo.Diagnostic `json:"diagnostics,omitempty"`
	Level           float64             `json:"level,omitempty"`
	Replays         int                 `json:"replays,omitempty"`
	Failed          int                 `json:"failed,omitempty"`
	Seed            uint64              `json:"seed,omitempty"`
	Metrics         map[string]float64  `json:"metrics,omitempty"`
}

// Save writes a run directory and returns the new run ID. Trajectory
// fields override whatever meta carries for them.
func (s *Store) Save(meta RunMetadata, traj *dynamo.Trajectory) (string, error) {
	if traj == nil {
		return "", errors.New("storage: nil trajectory")
	}
	meta.ID = fmt.Sprintf("%s_%s", meta.Scenario, uuid.NewString()[:8])
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	meta.Stocks = traj.Stocks
	meta.Units = traj.Units
	meta.Phase = traj.Phase
	meta.Converged = traj.Converged
	meta.ConvergenceYear = traj.ConvergenceYear
	meta.Cause = traj.Cause
	meta.Years = traj.Years()
	meta.Final = traj.Final
	meta.DiscountRate = traj.DiscountRate
	meta.Diagnostics = traj.Diagnostics
	if b := traj.Bands; b != nil {
		meta.Level = b.Level
		meta.Replays = b.Replays
		meta.Failed = b.Failed
	}

	runDir := s.Dir(meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(runDir, trajectoryFile), func(w io.Writer) error {
		return WriteTrajectoryCSV(w, traj)
	}); err != nil {
		return "", err
	}
	if traj.Bands != nil {
		if err := writeFile(filepath.Join(runDir, bandsFile), func(w io.Writer) error {
			return WriteBandsCSV(w, traj.Stocks, traj.Bands)
		}); err != nil {
			return "", err
		}
	}
	return meta.ID, nil
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(runID), metadataFile))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

// LoadTrajectory rebuilds a stored trajectory, bands included when the
// run has them.
func (s *Store) LoadTrajectory(runID string) (*dynamo.Trajectory, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.Dir(runID), trajectoryFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values, err := ReadTrajectoryCSV(f, len(meta.Stocks))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	traj := &dynamo.Trajectory{
		Stocks:          meta.Stocks,
		Units:           meta.Units,
		Values:          values,
		Phase:           meta.Phase,
		Converged:       meta.Converged,
		ConvergenceYear: meta.ConvergenceYear,
		Cause:           meta.Cause,
		Final:           meta.Final,
		Diagnostics:     meta.Diagnostics,
		DiscountRate:    meta.DiscountRate,
	}

	bf, err := os.Open(filepath.Join(s.Dir(runID), bandsFile))
	if errors.Is(err, os.ErrNotExist) {
		return traj, nil
	}
	if err != nil {
		return nil, err
	}
	defer bf.Close()
	b, err := ReadBandsCSV(bf, meta.Stocks)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	b.Level, b.Replays, b.Failed = meta.Level, meta.Replays, meta.Failed
	traj.Bands = b
	return traj, nil
}

// Delete removes a run directory.
func (s *Store) Delete(runID string) error {
	if runID == "" || filepath.Base(runID) != runID {
		return fmt.Errorf("storage: invalid run id %q", runID)
	}
	return os.RemoveAll(s.Dir(runID))
}

// WriteTrajectoryCSV writes one row per year with one column per stock.
func WriteTrajectoryCSV(w io.Writer, traj *dynamo.Trajectory) error {
	cw := csv.NewWriter(w)
	header := append([]string{"year"}, traj.Stocks...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for year, s := range traj.Values {
		row := make([]string, 0, len(s)+1)
		row = append(row, strconv.Itoa(year))
		for _, v := range s {
			row = append(row, formatFloat(v))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ReadTrajectoryCSV(r io.Reader, stocks int) ([]dynamo.State, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("trajectory csv: missing header")
	}
	values := make([]dynamo.State, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != stocks+1 {
			return nil, fmt.Errorf("trajectory csv: row %d has %d columns, want %d", i+1, len(rec), stocks+1)
		}
		s := make(dynamo.State, stocks)
		for j := range s {
			v, err := strconv.ParseFloat(rec[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("trajectory csv: row %d: %w", i+1, err)
			}
			s[j] = v
		}
		values = append(values, s)
	}
	return values, nil
}

// WriteBandsCSV writes one row per stock and year.
func WriteBandsCSV(w io.Writer, stocks []string, b *dynamo.Bands) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"stock", "year", "median", "lower", "upper"}); err != nil {
		return err
	}
	for i, id := range stocks {
		for y := range b.Median[i] {
			row := []string{id, strconv.Itoa(y), formatFloat(b.Median[i][y]), formatFloat(b.Lower[i][y]), formatFloat(b.Upper[i][y])}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func ReadBandsCSV(r io.Reader, stocks []string) (*dynamo.Bands, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(stocks))
	for i, id := range stocks {
		index[id] = i
	}
	b := &dynamo.Bands{
		Median: make([][]float64, len(stocks)),
		Lower:  make([][]float64, len(stocks)),
		Upper:  make([][]float64, len(stocks)),
	}
	for n, rec := range records {
		if n == 0 {
			continue
		}
		if len(rec) != 5 {
			return nil, fmt.Errorf("bands csv: row %d has %d columns", n, len(rec))
		}
		i, ok := index[rec[0]]
		if !ok {
			return nil, fmt.Errorf("bands csv: unknown stock %q", rec[0])
		}
		var vals [3]float64
		for k := range vals {
			if vals[k], err = strconv.ParseFloat(rec[k+2], 64); err != nil {
				return nil, fmt.Errorf("bands csv: row %d: %w", n, err)
			}
		}
		b.Median[i] = append(b.Median[i], vals[0])
		b.Lower[i] = append(b.Lower[i], vals[1])
		b.Upper[i] = append(b.Upper[i], vals[2])
	}
	return b, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeJSON(path string, v any) error {
	return writeFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
