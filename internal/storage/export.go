package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/stockflow/internal/dynamo"
)

type ExportData struct {
	Run        RunMetadata        `json:"run"`
	Trajectory *dynamo.Trajectory `json:"trajectory"`
}

func ExportJSON(path string, meta RunMetadata, traj *dynamo.Trajectory) error {
	return writeFile(path, func(w io.Writer) error {
		return ExportJSONTo(w, meta, traj)
	})
}

func ExportJSONStdout(meta RunMetadata, traj *dynamo.Trajectory) error {
	return ExportJSONTo(os.Stdout, meta, traj)
}

func ExportJSONTo(w io.Writer, meta RunMetadata, traj *dynamo.Trajectory) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ExportData{Run: meta, Trajectory: traj})
}

// ExportCSV writes the trajectory, and the bands next to it when present
// under the same name with a .bands.csv suffix.
func ExportCSV(path string, traj *dynamo.Trajectory) error {
	if err := writeFile(path, func(w io.Writer) error { return WriteTrajectoryCSV(w, traj) }); err != nil {
		return err
	}
	if traj.Bands == nil {
		return nil
	}
	return writeFile(bandsPath(path), func(w io.Writer) error {
		return WriteBandsCSV(w, traj.Stocks, traj.Bands)
	})
}

func bandsPath(path string) string {
	const ext = ".csv"
	if len(path) > len(ext) && path[len(path)-len(ext):] == ext {
		path = path[:len(path)-len(ext)]
	}
	return path + ".bands.csv"
}
