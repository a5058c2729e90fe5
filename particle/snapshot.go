package particle

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Snapshot is the complete field set of a State, exposed for the migration
// codec and for checkpointing. Unlike Components it carries the previous-step
// and history fields, so a restored particle is indistinguishable from the
// original.
type Snapshot struct {
	Diameter float64
	Mass     float64
	Density  float64

	Position r3.Vec
	Cell     int

	VelocityExternal     r3.Vec
	VelocityForAdvection r3.Vec
	VelocityEnsemble     r3.Vec

	PositionPrevious r3.Vec
	VelocityPrevious r3.Vec

	GlobalID            int64
	LastOwningPartition int32
	TypeTag             int32

	HistoryStepCount float64
	HistoryForceSum  r3.Vec
}

// Snapshot copies out every field.
func (p *State) Snapshot() Snapshot {
	return Snapshot{
		Diameter:             p.diameter,
		Mass:                 p.mass,
		Density:              p.density,
		Position:             p.position,
		Cell:                 p.cell,
		VelocityExternal:     p.velocityExternal,
		VelocityForAdvection: p.velocityForAdvection,
		VelocityEnsemble:     p.velocityEnsemble,
		PositionPrevious:     p.positionPrevious,
		VelocityPrevious:     p.velocityPrevious,
		GlobalID:             p.globalID,
		LastOwningPartition:  p.lastOwningPartition,
		TypeTag:              p.typeTag,
		HistoryStepCount:     p.historyStepCount,
		HistoryForceSum:      p.historyForceSum,
	}
}

// FromSnapshot reconstructs a State, re-validating every invariant. A
// snapshot that arrived over the wire and fails validation is a transport
// or protocol fault, not a recoverable condition.
func FromSnapshot(s Snapshot) (*State, error) {
	if s.Diameter <= 0 || s.Mass <= 0 || s.Density <= 0 {
		return nil, fmt.Errorf("%w: d=%g m=%g rho=%g (global id %d)",
			ErrInvalidState, s.Diameter, s.Mass, s.Density, s.GlobalID)
	}
	if s.HistoryStepCount < 0 {
		return nil, fmt.Errorf("%w: history step count %g (global id %d)",
			ErrInvalidState, s.HistoryStepCount, s.GlobalID)
	}
	if !finiteVec(s.Position) || !finiteVec(s.VelocityExternal) ||
		!finiteVec(s.PositionPrevious) || !finiteVec(s.HistoryForceSum) {
		return nil, fmt.Errorf("%w: non-finite field (global id %d)", ErrInvalidState, s.GlobalID)
	}
	return &State{
		diameter:             s.Diameter,
		mass:                 s.Mass,
		density:              s.Density,
		position:             s.Position,
		cell:                 s.Cell,
		velocityExternal:     s.VelocityExternal,
		velocityForAdvection: s.VelocityForAdvection,
		velocityEnsemble:     s.VelocityEnsemble,
		positionPrevious:     s.PositionPrevious,
		velocityPrevious:     s.VelocityPrevious,
		globalID:             s.GlobalID,
		lastOwningPartition:  s.LastOwningPartition,
		typeTag:              s.TypeTag,
		historyStepCount:     s.HistoryStepCount,
		historyForceSum:      s.HistoryForceSum,
	}, nil
}
