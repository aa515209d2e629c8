package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/lorenzonet/internal/nn"
)

var weightsMagic = [4]byte{'L', 'Z', 'N', 'W'}

const weightsVersion uint32 = 1

// writeWeights encodes params as a header (magic, version, count) followed
// by one length-prefixed mat.Dense binary blob per parameter.
func writeWeights(w io.Writer, params []nn.Param) error {
	if _, err := w.Write(weightsMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, weightsVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(params))); err != nil {
		return err
	}

	for _, p := range params {
		blob, err := mat.NewDense(p.Rows, p.Cols, p.Value).MarshalBinary()
		if err != nil {
			return fmt.Errorf("%s: %w", p.Name, err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(len(blob))); err != nil {
			return err
		}
		if _, err := w.Write(blob); err != nil {
			return err
		}
	}
	return nil
}

// readWeights decodes blobs written by writeWeights into params in place.
// Every blob must match the shape of its parameter.
func readWeights(r io.Reader, params []nn.Param) error {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return fmt.Errorf("%w: weights header: %v", ErrCorruptModel, err)
	}
	if magic != weightsMagic {
		return fmt.Errorf("%w: weights header %q", ErrCorruptModel, magic[:])
	}

	var version, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("%w: weights version: %v", ErrCorruptModel, err)
	}
	if version != weightsVersion {
		return fmt.Errorf("%w: weights version %d", ErrCorruptModel, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("%w: parameter count: %v", ErrCorruptModel, err)
	}
	if int(count) != len(params) {
		return fmt.Errorf("%w: %d parameters stored, template has %d", ErrCorruptModel, count, len(params))
	}

	for _, p := range params {
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptModel, p.Name, err)
		}
		// a blob is a small header plus 8 bytes per element
		if n > uint64(128+8*len(p.Value)) {
			return fmt.Errorf("%w: %s: blob of %d bytes", ErrCorruptModel, p.Name, n)
		}
		blob := make([]byte, n)
		if _, err := io.ReadFull(r, blob); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptModel, p.Name, err)
		}

		var m mat.Dense
		if err := m.UnmarshalBinary(blob); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorruptModel, p.Name, err)
		}
		if rows, cols := m.Dims(); rows != p.Rows || cols != p.Cols {
			return fmt.Errorf("%w: %s is %dx%d, template expects %dx%d", ErrCorruptModel, p.Name, rows, cols, p.Rows, p.Cols)
		}
		copy(p.Value, m.RawMatrix().Data)
	}
	return nil
}

func writeWeightsFile(path string, params []nn.Param) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := writeWeights(bw, params); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func readWeightsFile(path string, params []nn.Param) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return readWeights(bufio.NewReader(f), params)
}
