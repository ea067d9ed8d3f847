package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// CorrelationMatrix stores pairwise correlation coefficients as a sparse
// symmetric mapping. Entries are set explicitly, never computed online, and
// the matrix is effectively immutable after load.
type CorrelationMatrix struct {
	matrix map[string]map[string]float64
}

func NewCorrelationMatrix() *CorrelationMatrix {
	return &CorrelationMatrix{matrix: make(map[string]map[string]float64)}
}

// Set records the correlation between two symbols, symmetrically.
func (m *CorrelationMatrix) Set(symbolA, symbolB string, value float64) error {
	if value < -1.0 || value > 1.0 {
		return fmt.Errorf("risk: correlation must be within [-1, 1], got %v", value)
	}
	a := strings.ToUpper(symbolA)
	b := strings.ToUpper(symbolB)
	m.entry(a)[b] = value
	m.entry(b)[a] = value
	return nil
}

// Correlation returns the coefficient between two symbols and whether it is known.
func (m *CorrelationMatrix) Correlation(symbolA, symbolB string) (float64, bool) {
	row, ok := m.matrix[strings.ToUpper(symbolA)]
	if !ok {
		return 0, false
	}
	value, ok := row[strings.ToUpper(symbolB)]
	return value, ok
}

// Correlated lists the symbols whose absolute correlation to symbol meets
// the threshold.
func (m *CorrelationMatrix) Correlated(symbol string, threshold float64) []string {
	upper := strings.ToUpper(symbol)
	var out []string
	for other, value := range m.matrix[upper] {
		if other == upper {
			continue
		}
		if math.Abs(value) >= threshold {
			out = append(out, other)
		}
	}
	return out
}

func (m *CorrelationMatrix) entry(symbol string) map[string]float64 {
	row, ok := m.matrix[symbol]
	if !ok {
		row = map[string]float64{symbol: 1.0}
		m.matrix[symbol] = row
	}
	return row
}

// Save persists the matrix as nested JSON, omitting the diagonal.
func (m *CorrelationMatrix) Save(path string) error {
	doc := make(map[string]map[string]float64, len(m.matrix))
	for symbol, row := range m.matrix {
		out := make(map[string]float64)
		for other, value := range row {
			if other != symbol {
				out[other] = value
			}
		}
		doc[symbol] = out
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// LoadCorrelationMatrix reads a matrix from path. A missing file yields an
// empty matrix; malformed entries are skipped with a logged warning by the
// caller's discretion (here: an error, since the file was explicitly set).
func LoadCorrelationMatrix(path string) (*CorrelationMatrix, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewCorrelationMatrix(), nil
		}
		return nil, err
	}
	var doc map[string]map[string]float64
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("risk: parse correlation matrix: %w", err)
	}
	m := NewCorrelationMatrix()
	for symbol, row := range doc {
		for other, value := range row {
			if err := m.Set(symbol, other, value); err != nil {
				return nil, fmt.Errorf("risk: invalid correlation %s/%s: %w", symbol, other, err)
			}
		}
	}
	return m, nil
}
