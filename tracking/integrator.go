// Package tracking advances particles through the mesh one time step at a
// time, resolving face crossings and dispatching boundary interactions.
package tracking

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cfdem/demtrack/mesh"
	"github.com/cfdem/demtrack/migration"
	"github.com/cfdem/demtrack/particle"
)

// ErrGeometry marks a violation of the mesh collaborator's contract: a
// segment origin outside its cell, or more face crossings in one step than
// any consistent mesh could produce. Fatal for the step, never masked.
var ErrGeometry = errors.New("tracking: geometric inconsistency")

// DefaultMaxCrossings bounds face crossings per particle per step. A sane
// mesh and time step produce at most a handful.
const DefaultMaxCrossings = 128

// MigrationSink receives encoded particles bound for another partition.
type MigrationSink interface {
	Send(toPartition int, rec migration.Record)
}

// Context carries the collaborators one tracking call needs. It is passed
// explicitly; there is no shared cloud object behind the particle.
type Context struct {
	Mesh      mesh.Topology
	Partition int
	Handler   *Handler
	Sink      MigrationSink
	Log       logrus.FieldLogger
}

// StepResult summarizes one particle's advance.
type StepResult struct {
	// Fraction of the step consumed on this partition, in [0,1]. Reaches 1
	// unless the particle migrated or was removed.
	Fraction float64
	// Displacement committed on this partition.
	Displacement r3.Vec
	// Crossings counts resolved face hits.
	Crossings int
	Migrated  bool
	Removed   bool
}

// Integrator advances particles face-by-face through the mesh.
type Integrator struct {
	MaxCrossings int
}

func NewIntegrator() *Integrator {
	return &Integrator{MaxCrossings: DefaultMaxCrossings}
}

// Step advances p by velocityForAdvection * dt, stopping at every face on
// the way. See Resume for the loop contract.
func (in *Integrator) Step(ctx *Context, p *particle.State, dt float64) (StepResult, error) {
	return in.Resume(ctx, p, dt, 0)
}

// Resume advances p through the remainder of a step of duration dt, of
// which startFraction is already consumed (zero for a fresh step, the
// sender's trackFraction for a particle that just migrated in).
//
// Each loop pass intersects the remaining straight-line displacement with
// the current cell boundary. No hit commits the remainder and finishes the
// step; a hit commits the partial displacement, advances the fraction, and
// dispatches on the face kind. The loop ends when the fraction reaches 1
// or a boundary policy suspends or removes the particle.
func (in *Integrator) Resume(ctx *Context, p *particle.State, dt, startFraction float64) (StepResult, error) {
	res := StepResult{Fraction: startFraction}
	if startFraction < 0 || startFraction > 1 {
		return res, fmt.Errorf("%w: start fraction %g (global id %d)", ErrGeometry, startFraction, p.GlobalID())
	}

	if r3.Norm(p.VelocityForAdvection()) == 0 || startFraction == 1 {
		// Zero-length advance is a no-op that still completes the step.
		res.Fraction = 1
		return res, nil
	}

	maxCrossings := in.MaxCrossings
	if maxCrossings <= 0 {
		maxCrossings = DefaultMaxCrossings
	}

	for iter := 0; res.Fraction < 1; iter++ {
		if iter >= maxCrossings {
			return res, fmt.Errorf("%w: particle %d exceeded %d face crossings in cell %d",
				ErrGeometry, p.GlobalID(), maxCrossings, p.Cell())
		}

		// Recomputed every pass: a reflecting or periodic boundary may have
		// changed the advection velocity mid-step.
		target := r3.Scale(dt, p.VelocityForAdvection())
		from := p.Position()
		remaining := r3.Scale(1-res.Fraction, target)
		to := r3.Add(from, remaining)

		hit, ok, err := ctx.Mesh.FirstFaceHit(p.Cell(), from, to)
		if err != nil {
			return res, fmt.Errorf("%w: particle %d: %v", ErrGeometry, p.GlobalID(), err)
		}
		if !ok {
			p.SetPosition(to, p.Cell())
			res.Displacement = r3.Add(res.Displacement, remaining)
			res.Fraction = 1
			return res, nil
		}

		// Commit the partial displacement up to the face.
		p.SetPosition(hit.Point, p.Cell())
		res.Displacement = r3.Add(res.Displacement, r3.Sub(hit.Point, from))
		res.Fraction += (1 - res.Fraction) * hit.Fraction
		res.Crossings++

		if hit.Kind == mesh.Interior {
			p.SetPosition(hit.Point, hit.NeighborCell)
			continue
		}

		disp, err := ctx.Handler.Apply(ctx, p, hit, res.Fraction)
		if err != nil {
			return res, err
		}
		switch disp {
		case Continue:
		case Suspend:
			res.Migrated = true
			return res, nil
		case Remove:
			res.Removed = true
			return res, nil
		default:
			return res, fmt.Errorf("tracking: unknown disposition %d from patch %d", disp, hit.Patch)
		}
	}
	return res, nil
}
