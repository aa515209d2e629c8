package storage

import (
	"encoding/json"
	"io"
	"os"
)

// TrajectoryExport is the JSON form of an evaluated test trajectory.
type TrajectoryExport struct {
	Model        string             `json:"model"`
	InitialState []float64          `json:"initial_state"`
	Steps        int                `json:"steps"`
	Times        []float64          `json:"times"`
	Predicted    [][]float64        `json:"predicted"`
	Reference    [][]float64        `json:"reference,omitempty"`
	Metrics      map[string]float64 `json:"metrics"`
}

func ExportJSON(w io.Writer, data TrajectoryExport) error {
	data.Steps = len(data.Times)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func ExportJSONFile(path string, data TrajectoryExport) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := ExportJSON(file, data); err != nil {
		return err
	}
	return file.Close()
}
