// Package mesh defines the interfaces the particle tracker consumes from
// the mesh/geometry collaborator: cell location, first-face ray queries,
// boundary classification, and partition ownership. The tracker never sees
// mesh internals; it only asks which face a directed segment hits first.
package mesh

import "gonum.org/v1/gonum/spatial/r3"

// BoundaryKind classifies the face a particle path has reached.
type BoundaryKind uint8

const (
	// Interior is a face shared by two cells of the same partition.
	Interior BoundaryKind = iota
	// Processor is an internal face separating two partitions; crossing
	// it requires migrating the particle.
	Processor
	// Wall is a physical patch that reflects particles.
	Wall
	// Outlet is a physical patch that absorbs particles.
	Outlet
	// PeriodicRotational maps the particle to a rotated image of the patch.
	PeriodicRotational
	// PeriodicTranslational maps the particle through a fixed separation.
	PeriodicTranslational
)

func (k BoundaryKind) String() string {
	switch k {
	case Interior:
		return "interior"
	case Processor:
		return "processor"
	case Wall:
		return "wall"
	case Outlet:
		return "outlet"
	case PeriodicRotational:
		return "periodicRotational"
	case PeriodicTranslational:
		return "periodicTranslational"
	}
	return "unknown"
}

// FaceHit reports the first face intersected by a directed segment within
// one cell.
type FaceHit struct {
	Patch    int          // patch index for boundary faces, -1 otherwise
	Kind     BoundaryKind
	Fraction float64 // fraction of the queried segment consumed at the hit, in [0,1)
	Point    r3.Vec  // intersection point on the face
	Normal   r3.Vec  // unit normal, outward from the queried cell

	// Neighbor cell across the face; valid for Interior and Processor.
	NeighborCell int
	// Owning partition of the neighbor cell; valid for Processor.
	NeighborPartition int
}

// Patch describes one external boundary patch.
type Patch struct {
	ID   int
	Kind BoundaryKind
	Name string
}

// Topology is the read-only mesh query surface. Implementations must be
// safe for concurrent readers; the tracker queries it on every advance.
type Topology interface {
	// NumCells reports the total cell count.
	NumCells() int

	// Locate returns the cell containing p, or ok=false if p lies outside
	// the mesh.
	Locate(p r3.Vec) (cell int, ok bool)

	// FirstFaceHit intersects the segment from->to with the boundary of
	// cell. ok=false means the segment ends inside the cell. An error
	// means the query itself is inconsistent (bad cell index, from not
	// inside cell) and the caller must treat it as fatal.
	FirstFaceHit(cell int, from, to r3.Vec) (hit FaceHit, ok bool, err error)

	// CellPartition reports which partition owns a cell.
	CellPartition(cell int) int

	// Patches enumerates the external boundary patches.
	Patches() []Patch
}
