package diffusive

// CoordPool provides a pool of reusable coordinate vectors to reduce
// allocations in the proposal loop
type CoordPool struct {
	dim  int
	free [][]float64
}

// NewCoordPool creates a new CoordPool for vectors of length dim
func NewCoordPool(dim, capacity int) *CoordPool {
	return &CoordPool{
		dim:  dim,
		free: make([][]float64, 0, capacity),
	}
}

// Get returns a vector from the pool or creates a new one
func (p *CoordPool) Get() []float64 {
	if len(p.free) > 0 {
		v := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		return v
	}
	return make([]float64, p.dim)
}

// Put returns a vector to the pool
func (p *CoordPool) Put(v []float64) {
	if len(v) != p.dim {
		return
	}
	p.free = append(p.free, v)
}

// Len returns the number of idle vectors
func (p *CoordPool) Len() int {
	return len(p.free)
}
