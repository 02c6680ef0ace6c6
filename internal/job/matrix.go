package job

// Matrix is a dense row-major table of counter values. Rows follow the job
// time base, columns follow schema field order.
type Matrix struct {
	Rows int
	Cols int
	Data []uint64
}

// NewMatrix returns a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]uint64, rows*cols)}
}

func (m *Matrix) At(i, j int) uint64 { return m.Data[i*m.Cols+j] }

func (m *Matrix) Set(i, j int, v uint64) { m.Data[i*m.Cols+j] = v }

// Row returns row i. The slice aliases the matrix.
func (m *Matrix) Row(i int) []uint64 { return m.Data[i*m.Cols : (i+1)*m.Cols] }

// Column returns a copy of column j.
func (m *Matrix) Column(j int) []uint64 {
	out := make([]uint64, m.Rows)
	for i := range out {
		out[i] = m.Data[i*m.Cols+j]
	}
	return out
}

func (m *Matrix) setColumn(j int, col []uint64) {
	for i, v := range col {
		m.Data[i*m.Cols+j] = v
	}
}

// Rows2D copies the matrix into one slice per row.
func (m *Matrix) Rows2D() [][]uint64 {
	out := make([][]uint64, m.Rows)
	for i := range out {
		out[i] = append([]uint64(nil), m.Row(i)...)
	}
	return out
}

// add accumulates o into m. Sums wrap like the counters they hold.
func (m *Matrix) add(o *Matrix) {
	for i := range m.Data {
		m.Data[i] += o.Data[i]
	}
}
