package work

import (
	"encoding/json"
	"fmt"
)

// Matrix records values reported by the engine per (multipv, depth).
// Later writes to the same key replace earlier ones.
// The zero value is an empty matrix ready to use.
type Matrix[T any] struct {
	// rows[multipv-1][depth]
	rows [][]*T
}

// Set records v for search line multipv (1-based) at the given depth.
func (m *Matrix[T]) Set(multipv, depth int, v T) {
	if multipv < 1 || depth < 0 {
		panic(fmt.Sprintf("invalid matrix key multipv=%d depth=%d", multipv, depth))
	}
	for len(m.rows) < multipv {
		m.rows = append(m.rows, nil)
	}
	row := m.rows[multipv-1]
	for len(row) <= depth {
		row = append(row, nil)
	}
	row[depth] = &v
	m.rows[multipv-1] = row
}

// Get returns the value recorded for (multipv, depth), if any.
func (m *Matrix[T]) Get(multipv, depth int) (T, bool) {
	var zero T
	if multipv < 1 || multipv > len(m.rows) {
		return zero, false
	}
	row := m.rows[multipv-1]
	if depth < 0 || depth >= len(row) || row[depth] == nil {
		return zero, false
	}
	return *row[depth], true
}

// Best returns the deepest value recorded for the first search line and its depth.
func (m *Matrix[T]) Best() (v T, depth int, ok bool) {
	if len(m.rows) == 0 {
		return v, 0, false
	}
	row := m.rows[0]
	for d := len(row) - 1; d >= 0; d-- {
		if row[d] != nil {
			return *row[d], d, true
		}
	}
	return v, 0, false
}

// Lines is the number of search lines with at least one slot allocated.
func (m *Matrix[T]) Lines() int { return len(m.rows) }

// Len is the number of recorded entries.
func (m *Matrix[T]) Len() int {
	n := 0
	for _, row := range m.rows {
		for _, v := range row {
			if v != nil {
				n++
			}
		}
	}
	return n
}

// MarshalJSON encodes the matrix as nested arrays, with null for depths without a value.
func (m Matrix[T]) MarshalJSON() ([]byte, error) {
	if m.rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.rows)
}

func (m *Matrix[T]) UnmarshalJSON(b []byte) error {
	var rows [][]*T
	if err := json.Unmarshal(b, &rows); err != nil {
		return err
	}
	m.rows = rows
	return nil
}
