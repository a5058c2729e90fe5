// Package particle holds the per-particle state record for DEM-coupled
// Lagrangian tracking: kinematics reported by the external DEM solver, the
// velocity actually used for advection, ensemble statistics, and the
// accumulators of the unsteady history force.
package particle

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidState marks a particle record that violates a physical
// invariant (non-positive diameter, mass or density, non-finite position).
var ErrInvalidState = errors.New("particle: invalid state")

// State is the complete record for one tracked particle. All fields are
// private; construction and mutation go through checked operations so a
// record violating the invariants cannot exist inside the tracker.
type State struct {
	diameter float64
	mass     float64
	density  float64

	position r3.Vec
	cell     int

	// Velocity reported by the DEM feed for the current step.
	velocityExternal r3.Vec
	// Velocity used to move the particle through the mesh this step.
	// A blend of the current and previous external velocity, because the
	// DEM feed and the local advection step are not time-synchronized.
	velocityForAdvection r3.Vec
	// Windowed average used for ensemble (parcel) statistics.
	velocityEnsemble r3.Vec

	// State at the start of the step, for acceleration estimates and the
	// unsteady-force kernel. Updated exactly once per completed step.
	positionPrevious r3.Vec
	velocityPrevious r3.Vec

	globalID            int64
	lastOwningPartition int32
	typeTag             int32

	// History-force accumulators. Never reset after creation.
	historyStepCount float64
	historyForceSum  r3.Vec
}

// Components carries the fields the external DEM feed supplies when a
// particle first enters the simulation.
type Components struct {
	Position        r3.Vec
	Cell            int
	Diameter        float64
	Velocity        r3.Vec
	Density         float64
	GlobalID        int64
	OwningPartition int32
	TypeTag         int32
}

// New builds a fresh particle from feed components. The previous-step and
// history fields start zeroed. Mass is derived from diameter and density.
func New(c Components) (*State, error) {
	if c.Diameter <= 0 {
		return nil, fmt.Errorf("%w: diameter %g (global id %d)", ErrInvalidState, c.Diameter, c.GlobalID)
	}
	if c.Density <= 0 {
		return nil, fmt.Errorf("%w: density %g (global id %d)", ErrInvalidState, c.Density, c.GlobalID)
	}
	if !finiteVec(c.Position) || !finiteVec(c.Velocity) {
		return nil, fmt.Errorf("%w: non-finite kinematics (global id %d)", ErrInvalidState, c.GlobalID)
	}
	p := &State{
		diameter:             c.Diameter,
		density:              c.Density,
		position:             c.Position,
		cell:                 c.Cell,
		velocityExternal:     c.Velocity,
		velocityForAdvection: c.Velocity,
		positionPrevious:     c.Position,
		velocityPrevious:     c.Velocity,
		globalID:             c.GlobalID,
		lastOwningPartition:  c.OwningPartition,
		typeTag:              c.TypeTag,
	}
	p.deriveMass()
	return p, nil
}

func (p *State) deriveMass() {
	p.mass = p.density * math.Pi / 6.0 * p.diameter * p.diameter * p.diameter
}

// Accessors

func (p *State) Diameter() float64            { return p.diameter }
func (p *State) Mass() float64                { return p.mass }
func (p *State) Density() float64             { return p.density }
func (p *State) Position() r3.Vec             { return p.position }
func (p *State) Cell() int                    { return p.cell }
func (p *State) VelocityExternal() r3.Vec     { return p.velocityExternal }
func (p *State) VelocityForAdvection() r3.Vec { return p.velocityForAdvection }
func (p *State) VelocityEnsemble() r3.Vec     { return p.velocityEnsemble }
func (p *State) PositionPrevious() r3.Vec     { return p.positionPrevious }
func (p *State) VelocityPrevious() r3.Vec     { return p.velocityPrevious }
func (p *State) GlobalID() int64              { return p.globalID }
func (p *State) LastOwningPartition() int32   { return p.lastOwningPartition }
func (p *State) TypeTag() int32               { return p.typeTag }
func (p *State) HistoryStepCount() float64    { return p.historyStepCount }
func (p *State) HistoryForceSum() r3.Vec      { return p.historyForceSum }

// Volume returns the sphere volume implied by the diameter.
func (p *State) Volume() float64 {
	return math.Pi / 6.0 * p.diameter * p.diameter * p.diameter
}

// SetDiameter updates the diameter and re-derives the mass.
func (p *State) SetDiameter(d float64) error {
	if d <= 0 {
		return fmt.Errorf("%w: diameter %g (global id %d)", ErrInvalidState, d, p.globalID)
	}
	p.diameter = d
	p.deriveMass()
	return nil
}

// SetDensity updates the density and re-derives the mass.
func (p *State) SetDensity(rho float64) error {
	if rho <= 0 {
		return fmt.Errorf("%w: density %g (global id %d)", ErrInvalidState, rho, p.globalID)
	}
	p.density = rho
	p.deriveMass()
	return nil
}

// OverrideMass replaces the derived mass with an externally supplied one.
func (p *State) OverrideMass(m float64) error {
	if m <= 0 {
		return fmt.Errorf("%w: mass %g (global id %d)", ErrInvalidState, m, p.globalID)
	}
	p.mass = m
	return nil
}

// SetPosition moves the particle to pos inside cell. Used by the motion
// integrator when committing partial displacements.
func (p *State) SetPosition(pos r3.Vec, cell int) {
	p.position = pos
	p.cell = cell
}

func (p *State) SetVelocityExternal(v r3.Vec)     { p.velocityExternal = v }
func (p *State) SetVelocityForAdvection(v r3.Vec) { p.velocityForAdvection = v }
func (p *State) SetVelocityEnsemble(v r3.Vec)     { p.velocityEnsemble = v }
func (p *State) SetLastOwningPartition(id int32)  { p.lastOwningPartition = id }

// AccumulateHistory adds one step's contribution to the history-force sum
// and advances the step counter. The counter is monotone; there is no
// operation that resets either accumulator.
func (p *State) AccumulateHistory(delta r3.Vec) {
	p.historyForceSum = r3.Add(p.historyForceSum, delta)
	p.historyStepCount++
}

// CommitStep records the end-of-step state as the new previous state.
// Called exactly once per completed step, never mid-step.
func (p *State) CommitStep() {
	p.positionPrevious = p.position
	p.velocityPrevious = p.velocityExternal
}

// Clone returns a deep copy.
func (p *State) Clone() *State {
	q := *p
	return &q
}

func finiteVec(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}
