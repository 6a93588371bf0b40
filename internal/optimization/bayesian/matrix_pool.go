package bayesian

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// MatrixPool recycles the backing storage of kernel matrices between
// surrogate refits. Returned matrices are zeroed and sized as requested.
type MatrixPool struct {
	mu    sync.Mutex
	syms  []*mat.SymDense
	dense []*mat.Dense
	vecs  []*mat.VecDense
}

// NewMatrixPool creates a new MatrixPool
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{}
}

// GetSymDense returns a zeroed n×n symmetric matrix.
func (p *MatrixPool) GetSymDense(n int) *mat.SymDense {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k := len(p.syms); k > 0 {
		m := p.syms[k-1]
		p.syms = p.syms[:k-1]
		m.Reset()
		m.ReuseAsSym(n)
		return m
	}
	return mat.NewSymDense(n, nil)
}

// PutSymDense returns a symmetric matrix to the pool
func (p *MatrixPool) PutSymDense(m *mat.SymDense) {
	if m == nil {
		return
	}
	p.mu.Lock()
	p.syms = append(p.syms, m)
	p.mu.Unlock()
}

// GetDense returns a zeroed r×c matrix.
func (p *MatrixPool) GetDense(r, c int) *mat.Dense {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k := len(p.dense); k > 0 {
		m := p.dense[k-1]
		p.dense = p.dense[:k-1]
		m.Reset()
		m.ReuseAs(r, c)
		return m
	}
	return mat.NewDense(r, c, nil)
}

// PutDense returns a dense matrix to the pool
func (p *MatrixPool) PutDense(m *mat.Dense) {
	if m == nil {
		return
	}
	p.mu.Lock()
	p.dense = append(p.dense, m)
	p.mu.Unlock()
}

// GetVecDense returns a zeroed vector of length n.
func (p *MatrixPool) GetVecDense(n int) *mat.VecDense {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k := len(p.vecs); k > 0 {
		v := p.vecs[k-1]
		p.vecs = p.vecs[:k-1]
		v.Reset()
		v.ReuseAsVec(n)
		return v
	}
	return mat.NewVecDense(n, nil)
}

// PutVecDense returns a vector to the pool
func (p *MatrixPool) PutVecDense(v *mat.VecDense) {
	if v == nil {
		return
	}
	p.mu.Lock()
	p.vecs = append(p.vecs, v)
	p.mu.Unlock()
}
