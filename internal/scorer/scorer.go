// Package scorer fits an ordinary-least-squares regression model from a
// static CSV dataset at process start and scores task feature vectors
// against it. Fitting is closed-form, so a given dataset always produces
// the same model and Score is fully deterministic.
package scorer

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/pagehaul/pagehaul/internal/domain"
)

// labelColumn is the required name of the dataset's label column.
const labelColumn = "label"

// Model holds the fitted regression coefficients. It is read-only after
// Load and safe for concurrent use.
type Model struct {
	features []string
	// coefs[0] is the intercept; coefs[i+1] pairs with features[i].
	coefs []float64
}

// Load reads a CSV dataset from r and fits the model. The header row is
// required; every column except the one named "label" is a feature. Load
// fails on a missing label column, a row whose column count disagrees with
// the header, or a non-numeric cell.
func Load(r io.Reader) (*Model, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset header: %w", err)
	}

	labelIdx := -1
	features := make([]string, 0, len(header)-1)
	for i, col := range header {
		if col == labelColumn {
			if labelIdx >= 0 {
				return nil, fmt.Errorf("dataset has multiple %q columns", labelColumn)
			}
			labelIdx = i
			continue
		}
		features = append(features, col)
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("dataset is missing the %q column", labelColumn)
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("dataset has no feature columns")
	}

	var rows [][]float64
	var labels []float64
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.Reader reports rows whose column count disagrees
			// with the header as ErrFieldCount.
			return nil, fmt.Errorf("failed to read dataset row: %w", err)
		}

		row := make([]float64, 0, len(features))
		for i, cell := range record {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("dataset line %d column %q: %w", line, header[i], err)
			}
			if i == labelIdx {
				labels = append(labels, v)
			} else {
				row = append(row, v)
			}
		}
		rows = append(rows, row)
	}

	if len(rows) <= len(features) {
		return nil, fmt.Errorf("dataset has %d rows, need more than %d to fit %d features",
			len(rows), len(features), len(features))
	}

	coefs, err := fit(rows, labels)
	if err != nil {
		return nil, err
	}

	return &Model{features: features, coefs: coefs}, nil
}

// LoadFile loads and fits a model from the dataset file at path.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Load(f)
}

// Features returns the model's fitted feature names in dataset order.
func (m *Model) Features() []string {
	out := make([]string, len(m.features))
	copy(out, m.features)
	return out
}

// Score evaluates the model for the given feature vector. It returns
// domain.ErrFeatureMismatch when the input's key set disagrees with the
// fitted feature shape.
func (m *Model) Score(features map[string]float64) (float64, error) {
	if len(features) != len(m.features) {
		return 0, fmt.Errorf("%w: got %d features, model fitted with %d",
			domain.ErrFeatureMismatch, len(features), len(m.features))
	}

	score := m.coefs[0]
	for i, name := range m.features {
		v, ok := features[name]
		if !ok {
			return 0, fmt.Errorf("%w: missing feature %q", domain.ErrFeatureMismatch, name)
		}
		score += m.coefs[i+1] * v
	}
	return score, nil
}

// fit solves the normal equations (XᵀX)β = Xᵀy for β, with an intercept
// column prepended to X. Gaussian elimination with partial pivoting keeps
// the solve stable and fully deterministic.
func fit(rows [][]float64, labels []float64) ([]float64, error) {
	n := len(rows[0]) + 1 // intercept + features

	// Build XᵀX and Xᵀy directly.
	xtx := make([][]float64, n)
	for i := range xtx {
		xtx[i] = make([]float64, n+1) // augmented with Xᵀy
	}
	for r, row := range rows {
		x := make([]float64, n)
		x[0] = 1
		copy(x[1:], row)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				xtx[i][j] += x[i] * x[j]
			}
			xtx[i][n] += x[i] * labels[r]
		}
	}

	// Forward elimination with partial pivoting.
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(xtx[r][col]) > math.Abs(xtx[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(xtx[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("dataset is degenerate: feature columns are linearly dependent")
		}
		xtx[col], xtx[pivot] = xtx[pivot], xtx[col]

		for r := col + 1; r < n; r++ {
			factor := xtx[r][col] / xtx[col][col]
			for c := col; c <= n; c++ {
				xtx[r][c] -= factor * xtx[col][c]
			}
		}
	}

	// Back substitution.
	coefs := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := xtx[i][n]
		for j := i + 1; j < n; j++ {
			sum -= xtx[i][j] * coefs[j]
		}
		coefs[i] = sum / xtx[i][i]
	}
	return coefs, nil
}
