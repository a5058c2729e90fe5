package mesh

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Side indexes the six outer boundary patches of a BoxMesh.
type Side int

const (
	XMin Side = iota
	XMax
	YMin
	YMax
	ZMin
	ZMax
)

var sideNames = [6]string{"xMin", "xMax", "yMin", "yMax", "zMin", "zMax"}

// BoxMesh is an axis-aligned hexahedral grid cut into slab partitions along
// x. It implements Topology and stands in for the production mesh in tests
// and the demo command; the tracker itself only ever sees the interface.
type BoxMesh struct {
	Nx, Ny, Nz int
	Min, Max   r3.Vec

	numPartitions int
	sideKinds     [6]BoundaryKind
	dx, dy, dz    float64
}

// NewBoxMesh builds an nx*ny*nz grid spanning [min,max], split into parts
// slabs along x. All six outer sides default to Wall.
func NewBoxMesh(nx, ny, nz int, min, max r3.Vec, parts int) (*BoxMesh, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("mesh: invalid cell counts %dx%dx%d", nx, ny, nz)
	}
	if parts <= 0 || parts > nx {
		return nil, fmt.Errorf("mesh: %d partitions for %d x-cells", parts, nx)
	}
	if max.X <= min.X || max.Y <= min.Y || max.Z <= min.Z {
		return nil, fmt.Errorf("mesh: degenerate bounds min=%v max=%v", min, max)
	}
	m := &BoxMesh{
		Nx: nx, Ny: ny, Nz: nz,
		Min: min, Max: max,
		numPartitions: parts,
		dx:            (max.X - min.X) / float64(nx),
		dy:            (max.Y - min.Y) / float64(ny),
		dz:            (max.Z - min.Z) / float64(nz),
	}
	for s := range m.sideKinds {
		m.sideKinds[s] = Wall
	}
	return m, nil
}

// SetSideKind assigns the boundary kind of one outer side.
func (m *BoxMesh) SetSideKind(s Side, k BoundaryKind) {
	m.sideKinds[s] = k
}

func (m *BoxMesh) NumCells() int      { return m.Nx * m.Ny * m.Nz }
func (m *BoxMesh) NumPartitions() int { return m.numPartitions }

func (m *BoxMesh) cellIndex(ix, iy, iz int) int {
	return ix + m.Nx*(iy+m.Ny*iz)
}

func (m *BoxMesh) cellCoords(cell int) (ix, iy, iz int) {
	ix = cell % m.Nx
	iy = (cell / m.Nx) % m.Ny
	iz = cell / (m.Nx * m.Ny)
	return
}

func (m *BoxMesh) cellBounds(cell int) (lo, hi r3.Vec) {
	ix, iy, iz := m.cellCoords(cell)
	lo = r3.Vec{
		X: m.Min.X + float64(ix)*m.dx,
		Y: m.Min.Y + float64(iy)*m.dy,
		Z: m.Min.Z + float64(iz)*m.dz,
	}
	hi = r3.Vec{X: lo.X + m.dx, Y: lo.Y + m.dy, Z: lo.Z + m.dz}
	return
}

// CellPartition maps a cell to its x-slab partition.
func (m *BoxMesh) CellPartition(cell int) int {
	ix, _, _ := m.cellCoords(cell)
	return ix * m.numPartitions / m.Nx
}

// Locate finds the cell containing p. Points exactly on the outer max
// faces belong to the last cell in that direction.
func (m *BoxMesh) Locate(p r3.Vec) (int, bool) {
	ix, ok := locate1D(p.X, m.Min.X, m.dx, m.Nx)
	if !ok {
		return -1, false
	}
	iy, ok := locate1D(p.Y, m.Min.Y, m.dy, m.Ny)
	if !ok {
		return -1, false
	}
	iz, ok := locate1D(p.Z, m.Min.Z, m.dz, m.Nz)
	if !ok {
		return -1, false
	}
	return m.cellIndex(ix, iy, iz), true
}

func locate1D(x, min, d float64, n int) (int, bool) {
	i := int(math.Floor((x - min) / d))
	if i == n && x <= min+float64(n)*d {
		i = n - 1
	}
	if i < 0 || i >= n {
		return -1, false
	}
	return i, true
}

func (m *BoxMesh) Patches() []Patch {
	ps := make([]Patch, 0, 6)
	for s, k := range m.sideKinds {
		ps = append(ps, Patch{ID: s, Kind: k, Name: sideNames[s]})
	}
	return ps
}

// FirstFaceHit intersects from->to with the boundary of cell. The segment
// origin must lie inside (or on the boundary of) the cell.
func (m *BoxMesh) FirstFaceHit(cell int, from, to r3.Vec) (FaceHit, bool, error) {
	if cell < 0 || cell >= m.NumCells() {
		return FaceHit{}, false, fmt.Errorf("mesh: cell %d out of range [0,%d)", cell, m.NumCells())
	}
	lo, hi := m.cellBounds(cell)
	tol := 1e-9 * math.Max(m.dx, math.Max(m.dy, m.dz))
	if from.X < lo.X-tol || from.X > hi.X+tol ||
		from.Y < lo.Y-tol || from.Y > hi.Y+tol ||
		from.Z < lo.Z-tol || from.Z > hi.Z+tol {
		return FaceHit{}, false, fmt.Errorf("mesh: segment origin %v outside cell %d [%v,%v]", from, cell, lo, hi)
	}

	d := r3.Sub(to, from)
	tMin := math.Inf(1)
	side := -1
	for a := 0; a < 3; a++ {
		da := component(d, a)
		if da > 0 {
			t := (component(hi, a) - component(from, a)) / da
			if t < tMin {
				tMin, side = t, 2*a+1
			}
		} else if da < 0 {
			t := (component(lo, a) - component(from, a)) / da
			if t < tMin {
				tMin, side = t, 2*a
			}
		}
	}
	if side < 0 || tMin >= 1 {
		return FaceHit{}, false, nil
	}
	if tMin < 0 {
		tMin = 0 // origin numerically past the face plane
	}

	hit := FaceHit{
		Patch:        -1,
		Fraction:     tMin,
		Point:        r3.Add(from, r3.Scale(tMin, d)),
		NeighborCell: -1,
	}
	axis := side / 2
	positive := side%2 == 1
	// Snap the hit onto the face plane.
	plane := component(lo, axis)
	norm := -1.0
	if positive {
		plane = component(hi, axis)
		norm = 1.0
	}
	setComponent(&hit.Point, axis, plane)
	setComponent(&hit.Normal, axis, norm)

	ix, iy, iz := m.cellCoords(cell)
	step := -1
	if positive {
		step = 1
	}
	switch axis {
	case 0:
		ix += step
	case 1:
		iy += step
	case 2:
		iz += step
	}
	if ix < 0 || ix >= m.Nx || iy < 0 || iy >= m.Ny || iz < 0 || iz >= m.Nz {
		// Outer boundary patch. Side numbering matches the Side constants.
		patch := 2*axis + side%2
		hit.Patch = patch
		hit.Kind = m.sideKinds[patch]
		return hit, true, nil
	}

	hit.NeighborCell = m.cellIndex(ix, iy, iz)
	if np := m.CellPartition(hit.NeighborCell); np != m.CellPartition(cell) {
		hit.Kind = Processor
		hit.NeighborPartition = np
	} else {
		hit.Kind = Interior
	}
	return hit, true, nil
}

func component(v r3.Vec, a int) float64 {
	switch a {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

func setComponent(v *r3.Vec, a int, x float64) {
	switch a {
	case 0:
		v.X = x
	case 1:
		v.Y = x
	default:
		v.Z = x
	}
}
