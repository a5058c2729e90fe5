package coupling

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cfdem/demtrack/particle"
)

// BlendStrategy produces the advection velocity for a step from the
// current and previous DEM-reported velocities. The two solvers run on
// different cadences, so neither raw velocity is right on its own.
type BlendStrategy interface {
	Blend(current, previous r3.Vec, firstStep bool) r3.Vec
}

// WeightedBlend mixes Weight parts current velocity with (1-Weight) parts
// previous. Weight 0.5 is the trapezoidal average; on a particle's first
// step there is no previous velocity and the current one is used as is.
type WeightedBlend struct {
	Weight float64
}

func (b WeightedBlend) Blend(current, previous r3.Vec, firstStep bool) r3.Vec {
	if firstStep {
		return current
	}
	return r3.Add(r3.Scale(b.Weight, current), r3.Scale(1-b.Weight, previous))
}

// CurrentOnly advects with the raw DEM velocity.
type CurrentOnly struct{}

func (CurrentOnly) Blend(current, _ r3.Vec, _ bool) r3.Vec { return current }

// HistoryKernel yields one step's additive contribution to the unsteady
// (history) force sum. Implementations must be deterministic in the step
// index, the velocity change, and the particle properties; contributions
// are only ever added to the running sum, never recomputed from scratch.
type HistoryKernel interface {
	Contribution(stepIndex float64, dU r3.Vec, p *particle.State, dt float64) r3.Vec
}

// PowerLawKernel is a discretized Basset-type stand-in: the velocity
// change weighted by mass over sqrt(dt), decaying with the step index.
type PowerLawKernel struct {
	Coefficient float64
	Decay       float64 // exponent on (stepIndex+1); 0.5 mimics the Basset tail
}

func (k PowerLawKernel) Contribution(stepIndex float64, dU r3.Vec, p *particle.State, dt float64) r3.Vec {
	if dt <= 0 {
		return r3.Vec{}
	}
	w := k.Coefficient * p.Mass() / math.Sqrt(dt) / math.Pow(stepIndex+1, k.Decay)
	return r3.Scale(w, dU)
}

// ZeroKernel disables the history force while keeping the step counter
// honest.
type ZeroKernel struct{}

func (ZeroKernel) Contribution(float64, r3.Vec, *particle.State, float64) r3.Vec {
	return r3.Vec{}
}
