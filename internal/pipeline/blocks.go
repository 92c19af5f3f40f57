package pipeline

// Block is a rectangular window of a raster in pixel coordinates.
type Block struct {
	Row, Col   int // offset of the top-left pixel
	Rows, Cols int // extent
}

// Blocks splits a rows x cols raster into windows of at most
// blockRows x blockCols, in row-major order. Edge blocks are truncated to
// the remaining extent, so the blocks cover the raster exactly once.
func Blocks(rows, cols, blockRows, blockCols int) []Block {
	if rows <= 0 || cols <= 0 || blockRows <= 0 || blockCols <= 0 {
		return nil
	}
	down := (rows + blockRows - 1) / blockRows
	across := (cols + blockCols - 1) / blockCols

	blocks := make([]Block, 0, down*across)
	for r := 0; r < rows; r += blockRows {
		for c := 0; c < cols; c += blockCols {
			blocks = append(blocks, Block{
				Row:  r,
				Col:  c,
				Rows: min(blockRows, rows-r),
				Cols: min(blockCols, cols-c),
			})
		}
	}
	return blocks
}
