package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/san-kum/lorenzonet/internal/train"
)

var historyHeader = []string{"epoch", "loss", "residual", "initial", "regularization", "lr", "elapsed_s"}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeHistory(w io.Writer, history []train.Progress) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeader); err != nil {
		return err
	}
	for _, p := range history {
		row := []string{
			strconv.Itoa(p.Epoch),
			formatFloat(p.Loss),
			formatFloat(p.Residual),
			formatFloat(p.Initial),
			formatFloat(p.Regularization),
			formatFloat(p.LR),
			formatFloat(p.Elapsed.Seconds()),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readHistory(r io.Reader) ([]train.Progress, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(historyHeader)

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrCorruptModel, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: history has no header", ErrCorruptModel)
	}

	history := make([]train.Progress, 0, len(records)-1)
	for i, rec := range records[1:] {
		epoch, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%w: history line %d: %v", ErrCorruptModel, i+2, err)
		}
		vals := make([]float64, len(rec)-1)
		for j := range vals {
			if vals[j], err = strconv.ParseFloat(rec[j+1], 64); err != nil {
				return nil, fmt.Errorf("%w: history line %d: %v", ErrCorruptModel, i+2, err)
			}
		}
		history = append(history, train.Progress{
			Epoch: epoch,
			Loss:  vals[0],
			Terms: train.Terms{
				Residual:       vals[1],
				Initial:        vals[2],
				Regularization: vals[3],
			},
			LR:      vals[4],
			Elapsed: time.Duration(vals[5] * float64(time.Second)),
		})
	}

	if n := len(history); n > 0 {
		for i := range history {
			history[i].Epochs = history[n-1].Epoch + 1
		}
	}
	return history, nil
}

func writeHistoryFile(path string, history []train.Progress) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := writeHistory(f, history); err != nil {
		return err
	}
	return f.Close()
}

func readHistoryFile(path string) ([]train.Progress, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readHistory(f)
}
