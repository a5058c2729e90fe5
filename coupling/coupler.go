// Package coupling exchanges state between the tracked particles, the
// external DEM feed, and the fluid-phase solver: advection-velocity
// blending before each step, ensemble and history accumulation after it,
// and aggregated force feedback at synchronization points.
package coupling

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cfdem/demtrack/particle"
)

// FeedSample is one particle's kinematics as reported by the DEM feed for
// the current exchange interval.
type FeedSample struct {
	GlobalID        int64
	Position        r3.Vec
	Diameter        float64
	Velocity        r3.Vec
	Density         float64
	OwningPartition int32
	TypeTag         int32
}

// Feedback is the per-particle force/velocity record returned to the DEM
// feed, correlated by global id.
type Feedback struct {
	GlobalID int64
	Force    r3.Vec
	Velocity r3.Vec
}

// SourceField maps cell index to the momentum source contributed to the
// fluid solver by the particles in that cell.
type SourceField map[int]r3.Vec

// Coupler implements the synchronization points. Blend and the kernels are
// pluggable numeric models; the coupler owns only the bookkeeping contract.
type Coupler struct {
	Blend BlendStrategy
	// Kernels selects the history kernel by particle type tag.
	Kernels map[int32]HistoryKernel
	// DefaultKernel applies to type tags with no entry in Kernels.
	DefaultKernel HistoryKernel
	// Window bounds the effective sample count of the running ensemble
	// mean; 0 averages over the particle's whole lifetime.
	Window int
	// ParcelWeights scales feedback by the number of physical particles a
	// tracked marker of a given type represents; absent tags count as 1.
	ParcelWeights map[int32]float64
	// MaxFeedDrift bounds the distance between the feed-reported position
	// and the tracked position at ingestion. The tracked position stays
	// authoritative (the mesh walk owns it); the feed copy is only checked
	// for consistency, like the owning-partition id on re-entry. Zero
	// disables the check.
	MaxFeedDrift float64
}

func NewCoupler() *Coupler {
	return &Coupler{
		Blend:         WeightedBlend{Weight: 0.5},
		DefaultKernel: ZeroKernel{},
	}
}

func (c *Coupler) kernelFor(tag int32) HistoryKernel {
	if k, ok := c.Kernels[tag]; ok {
		return k
	}
	return c.DefaultKernel
}

func (c *Coupler) parcelWeight(tag int32) float64 {
	if w, ok := c.ParcelWeights[tag]; ok && w > 0 {
		return w
	}
	return 1
}

// BeforeAdvection ingests the DEM feed sample for p and computes the
// advection velocity for the coming step. Feed values that violate the
// physical invariants are rejected before the particle moves.
func (c *Coupler) BeforeAdvection(p *particle.State, s FeedSample) error {
	if s.GlobalID != p.GlobalID() {
		return fmt.Errorf("coupling: feed sample for particle %d applied to particle %d", s.GlobalID, p.GlobalID())
	}
	if c.MaxFeedDrift > 0 {
		if drift := r3.Norm(r3.Sub(s.Position, p.Position())); drift > c.MaxFeedDrift {
			return fmt.Errorf("coupling: feed position for particle %d drifted %g from tracked position", s.GlobalID, drift)
		}
	}
	if s.Diameter > 0 && s.Diameter != p.Diameter() {
		if err := p.SetDiameter(s.Diameter); err != nil {
			return err
		}
	}
	if s.Density > 0 && s.Density != p.Density() {
		if err := p.SetDensity(s.Density); err != nil {
			return err
		}
	}
	firstStep := p.HistoryStepCount() == 0
	p.SetVelocityExternal(s.Velocity)
	p.SetVelocityForAdvection(c.Blend.Blend(s.Velocity, p.VelocityPrevious(), firstStep))
	p.SetLastOwningPartition(s.OwningPartition)
	return nil
}

// AfterAdvection closes the step for p: updates the ensemble mean, adds
// the history kernel contribution, and commits the end-of-step state as
// the new previous state. Called exactly once per completed step.
func (c *Coupler) AfterAdvection(p *particle.State, dt float64) {
	// Running mean over min(lifetime, window) samples.
	n := p.HistoryStepCount() + 1
	if c.Window > 0 && n > float64(c.Window) {
		n = float64(c.Window)
	}
	mean := p.VelocityEnsemble()
	mean = r3.Add(mean, r3.Scale(1/n, r3.Sub(p.VelocityExternal(), mean)))
	p.SetVelocityEnsemble(mean)

	dU := r3.Sub(p.VelocityExternal(), p.VelocityPrevious())
	kernel := c.kernelFor(p.TypeTag())
	p.AccumulateHistory(kernel.Contribution(p.HistoryStepCount(), dU, p, dt))

	p.CommitStep()
}

// Feedback aggregates the finalized per-step state into per-particle
// records for the DEM feed and per-cell momentum sources for the fluid
// solver. The fluid source is the reaction to the force on the particles.
func (c *Coupler) Feedback(particles []*particle.State, dt float64) ([]Feedback, SourceField) {
	out := make([]Feedback, 0, len(particles))
	src := make(SourceField)
	for _, p := range particles {
		var inertial r3.Vec
		if dt > 0 {
			dU := r3.Sub(p.VelocityExternal(), p.VelocityPrevious())
			inertial = r3.Scale(p.Mass()/dt, dU)
		}
		force := r3.Scale(c.parcelWeight(p.TypeTag()), r3.Add(inertial, p.HistoryForceSum()))
		out = append(out, Feedback{
			GlobalID: p.GlobalID(),
			Force:    force,
			Velocity: p.VelocityEnsemble(),
		})
		src[p.Cell()] = r3.Add(src[p.Cell()], r3.Scale(-1, force))
	}
	return out, src
}
