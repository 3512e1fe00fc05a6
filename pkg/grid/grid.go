// Package grid maps a linear LED index onto a rectangular panel.
package grid

// GetGridCoords returns the column and row of index in a row-major grid.
func GetGridCoords(index, cols int) (x, y int) {
	if cols <= 0 {
		return index, 0
	}
	return index % cols, index / cols
}

// GetSerpentineCoords is GetGridCoords for a strip wound back and forth, so
// odd rows run right to left.
func GetSerpentineCoords(index, cols int) (x, y int) {
	x, y = GetGridCoords(index, cols)
	if cols > 0 && y%2 == 1 {
		x = cols - 1 - x
	}
	return x, y
}

// Size returns the grid dimensions needed to hold n cells in cols columns.
func Size(n, cols int) (w, h int) {
	if n <= 0 {
		return 0, 0
	}
	if cols <= 0 || cols > n {
		cols = n
	}
	return cols, (n + cols - 1) / cols
}
