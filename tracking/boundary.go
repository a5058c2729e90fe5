package tracking

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cfdem/demtrack/mesh"
	"github.com/cfdem/demtrack/migration"
	"github.com/cfdem/demtrack/particle"
)

// ErrNoPolicy marks a boundary hit on a patch with no registered
// disposition. Every reachable patch must have one; this is a
// configuration completeness fault, not a retry case.
var ErrNoPolicy = errors.New("tracking: no boundary policy")

// Disposition tells the integrator how to proceed after a boundary hit.
type Disposition int

const (
	// Continue resumes advancing the particle this step.
	Continue Disposition = iota
	// Suspend stops advancing on this partition; the particle resumes on
	// the receiving partition after migration.
	Suspend
	// Remove takes the particle out of the simulation.
	Remove
)

// PatchPolicy is the disposition applied when a particle's path reaches a
// boundary face. trackFraction is the fraction of the step consumed at the
// moment of the hit.
type PatchPolicy interface {
	Apply(ctx *Context, p *particle.State, hit mesh.FaceHit, trackFraction float64) (Disposition, error)
}

// Handler dispatches boundary hits to per-patch policies, with a dedicated
// policy for processor faces. Explicit registration replaces the virtual
// patch-hit overrides of inheritance-based trackers.
type Handler struct {
	policies  map[int]PatchPolicy
	processor PatchPolicy
}

func NewHandler() *Handler {
	return &Handler{
		policies:  make(map[int]PatchPolicy),
		processor: ProcessorPolicy{},
	}
}

// Register assigns the policy for one external patch.
func (h *Handler) Register(patch int, pol PatchPolicy) {
	h.policies[patch] = pol
}

// SetProcessorPolicy overrides the processor-face policy.
func (h *Handler) SetProcessorPolicy(pol PatchPolicy) {
	h.processor = pol
}

// Apply routes a boundary hit. A miss is fatal.
func (h *Handler) Apply(ctx *Context, p *particle.State, hit mesh.FaceHit, trackFraction float64) (Disposition, error) {
	if hit.Kind == mesh.Processor {
		return h.processor.Apply(ctx, p, hit, trackFraction)
	}
	pol, ok := h.policies[hit.Patch]
	if !ok {
		return Continue, fmt.Errorf("%w: patch %d (%s), particle %d",
			ErrNoPolicy, hit.Patch, hit.Kind, p.GlobalID())
	}
	return pol.Apply(ctx, p, hit, trackFraction)
}

// ProcessorPolicy hands the particle to the migration codec and suspends
// its advance; the remaining step fraction travels with the record.
type ProcessorPolicy struct{}

func (ProcessorPolicy) Apply(ctx *Context, p *particle.State, hit mesh.FaceHit, trackFraction float64) (Disposition, error) {
	if ctx.Sink == nil {
		return Continue, fmt.Errorf("tracking: particle %d hit processor face with no migration sink", p.GlobalID())
	}
	p.SetLastOwningPartition(int32(ctx.Partition))
	rec := migration.Encode(p, trackFraction, hit.NeighborCell)
	ctx.Sink.Send(hit.NeighborPartition, rec)
	if ctx.Log != nil {
		ctx.Log.WithFields(map[string]interface{}{
			"particle": p.GlobalID(),
			"to":       hit.NeighborPartition,
			"fraction": trackFraction,
		}).Debug("particle migrating")
	}
	return Suspend, nil
}

// ReflectPolicy bounces the particle off a wall patch. Only the advecting
// velocity is reflected; the DEM feed remains authoritative for the
// physical velocity.
type ReflectPolicy struct {
	// Restitution scales the normal velocity component after the bounce.
	// 1 is a perfectly elastic wall.
	Restitution float64
}

func (r ReflectPolicy) Apply(_ *Context, p *particle.State, hit mesh.FaceHit, _ float64) (Disposition, error) {
	e := r.Restitution
	if e == 0 {
		e = 1
	}
	v := p.VelocityForAdvection()
	vn := r3.Dot(v, hit.Normal)
	if vn > 0 {
		p.SetVelocityForAdvection(r3.Sub(v, r3.Scale((1+e)*vn, hit.Normal)))
	}
	return Continue, nil
}

// AbsorbPolicy removes the particle, e.g. at an outlet.
type AbsorbPolicy struct{}

func (AbsorbPolicy) Apply(ctx *Context, p *particle.State, hit mesh.FaceHit, _ float64) (Disposition, error) {
	if ctx.Log != nil {
		ctx.Log.WithFields(map[string]interface{}{
			"particle": p.GlobalID(),
			"patch":    hit.Patch,
		}).Debug("particle absorbed")
	}
	return Remove, nil
}

// PeriodicTranslationPolicy maps the particle through a fixed separation
// vector to the paired patch, shifting the positional fields only.
type PeriodicTranslationPolicy struct {
	Separation r3.Vec
}

func (t PeriodicTranslationPolicy) Apply(ctx *Context, p *particle.State, hit mesh.FaceHit, _ float64) (Disposition, error) {
	p.TransformTranslate(t.Separation)
	cell, ok := ctx.Mesh.Locate(p.Position())
	if !ok {
		return Continue, fmt.Errorf("%w: particle %d left the mesh through periodic patch %d",
			ErrGeometry, p.GlobalID(), hit.Patch)
	}
	p.SetPosition(p.Position(), cell)
	return Continue, nil
}

// PeriodicRotationPolicy maps the particle through a rotation about an
// axis through Center, transforming every velocity-bearing field
// consistently.
type PeriodicRotationPolicy struct {
	Rotation r3.Rotation
	Center   r3.Vec
}

func (rp PeriodicRotationPolicy) Apply(ctx *Context, p *particle.State, hit mesh.FaceHit, _ float64) (Disposition, error) {
	pos := r3.Add(rp.Center, rp.Rotation.Rotate(r3.Sub(p.Position(), rp.Center)))
	p.TransformRotate(rp.Rotation)
	cell, ok := ctx.Mesh.Locate(pos)
	if !ok {
		return Continue, fmt.Errorf("%w: particle %d left the mesh through periodic patch %d",
			ErrGeometry, p.GlobalID(), hit.Patch)
	}
	p.SetPosition(pos, cell)
	return Continue, nil
}
