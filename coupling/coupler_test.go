package coupling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cfdem/demtrack/particle"
)

func feedParticle(t *testing.T, id int64, vel r3.Vec) *particle.State {
	t.Helper()
	p, err := particle.New(particle.Components{
		Position: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5},
		Cell:     2,
		Diameter: 0.002,
		Velocity: vel,
		Density:  1000,
		GlobalID: id,
	})
	require.NoError(t, err)
	return p
}

func sample(p *particle.State, vel r3.Vec) FeedSample {
	return FeedSample{
		GlobalID: p.GlobalID(),
		Position: p.Position(),
		Diameter: p.Diameter(),
		Velocity: vel,
		Density:  p.Density(),
	}
}

func TestWeightedBlend(t *testing.T) {
	b := WeightedBlend{Weight: 0.5}

	got := b.Blend(r3.Vec{X: 2}, r3.Vec{}, false)
	assert.Equal(t, r3.Vec{X: 1}, got)

	// No previous velocity on the first step.
	got = b.Blend(r3.Vec{X: 2}, r3.Vec{}, true)
	assert.Equal(t, r3.Vec{X: 2}, got)
}

func TestCurrentOnlyBlend(t *testing.T) {
	c := NewCoupler()
	c.Blend = CurrentOnly{}
	p := feedParticle(t, 1, r3.Vec{X: 1})
	p.AccumulateHistory(r3.Vec{})
	p.CommitStep()

	require.NoError(t, c.BeforeAdvection(p, sample(p, r3.Vec{X: 3})))
	// The raw DEM velocity advects, the previous velocity is ignored.
	assert.Equal(t, r3.Vec{X: 3}, p.VelocityForAdvection())
}

func TestBeforeAdvectionBlendsAndIngests(t *testing.T) {
	c := NewCoupler()
	p := feedParticle(t, 1, r3.Vec{X: 1})
	// Simulate one completed step so the particle has a history.
	p.AccumulateHistory(r3.Vec{})
	p.CommitStep()

	require.NoError(t, c.BeforeAdvection(p, sample(p, r3.Vec{X: 3})))

	assert.Equal(t, r3.Vec{X: 3}, p.VelocityExternal())
	// Trapezoidal blend of current (3) and previous (1).
	assert.Equal(t, r3.Vec{X: 2}, p.VelocityForAdvection())
}

func TestBeforeAdvectionRejectsMismatchedSample(t *testing.T) {
	c := NewCoupler()
	p := feedParticle(t, 1, r3.Vec{X: 1})

	s := sample(p, r3.Vec{X: 1})
	s.GlobalID = 99
	assert.Error(t, c.BeforeAdvection(p, s))

	// Non-positive feed diameters never reach the particle.
	s = sample(p, r3.Vec{X: 1})
	s.Diameter = -0.001
	require.NoError(t, c.BeforeAdvection(p, s))
	assert.Equal(t, 0.002, p.Diameter())

	s = sample(p, r3.Vec{X: 1})
	s.Diameter = 0.004
	require.NoError(t, c.BeforeAdvection(p, s))
	assert.Equal(t, 0.004, p.Diameter())
}

func TestBeforeAdvectionBoundsFeedDrift(t *testing.T) {
	c := NewCoupler()
	c.MaxFeedDrift = 0.01
	p := feedParticle(t, 1, r3.Vec{X: 1})

	s := sample(p, r3.Vec{X: 1})
	s.Position = r3.Add(p.Position(), r3.Vec{X: 0.005})
	require.NoError(t, c.BeforeAdvection(p, s))

	s.Position = r3.Add(p.Position(), r3.Vec{Y: 0.05})
	assert.Error(t, c.BeforeAdvection(p, s))

	// Disabled by default: a wildly displaced feed position is ignored.
	c.MaxFeedDrift = 0
	require.NoError(t, c.BeforeAdvection(p, s))
}

func TestAfterAdvectionAccumulatesHistory(t *testing.T) {
	c := NewCoupler()
	c.DefaultKernel = PowerLawKernel{Coefficient: 1, Decay: 0.5}
	p := feedParticle(t, 1, r3.Vec{X: 1})

	const steps = 5
	dt := 0.1
	for i := 0; i < steps; i++ {
		require.NoError(t, c.BeforeAdvection(p, sample(p, r3.Vec{X: float64(i + 2)})))
		c.AfterAdvection(p, dt)
	}

	// One additive contribution per step, never reset.
	assert.Equal(t, float64(steps), p.HistoryStepCount())
	assert.Greater(t, p.HistoryForceSum().X, 0.0)

	before := p.HistoryForceSum()
	require.NoError(t, c.BeforeAdvection(p, sample(p, r3.Vec{X: 10})))
	c.AfterAdvection(p, dt)
	assert.Equal(t, float64(steps+1), p.HistoryStepCount())
	// The next contribution adds to the prior sum.
	assert.Greater(t, p.HistoryForceSum().X, before.X)
}

func TestAfterAdvectionEnsembleMean(t *testing.T) {
	c := NewCoupler()
	p := feedParticle(t, 1, r3.Vec{})

	vels := []float64{1, 2, 3, 4}
	for _, v := range vels {
		require.NoError(t, c.BeforeAdvection(p, sample(p, r3.Vec{X: v})))
		c.AfterAdvection(p, 0.1)
	}
	// Lifetime mean of 1..4.
	assert.InDelta(t, 2.5, p.VelocityEnsemble().X, 1e-12)
}

func TestEnsembleWindowTracksRecentVelocity(t *testing.T) {
	full := NewCoupler()
	windowed := NewCoupler()
	windowed.Window = 2

	pf := feedParticle(t, 1, r3.Vec{})
	pw := feedParticle(t, 2, r3.Vec{})

	for i := 0; i < 50; i++ {
		v := r3.Vec{X: 10}
		require.NoError(t, full.BeforeAdvection(pf, sample(pf, v)))
		full.AfterAdvection(pf, 0.1)
		require.NoError(t, windowed.BeforeAdvection(pw, sample(pw, v)))
		windowed.AfterAdvection(pw, 0.1)
	}

	// Both converge to 10, the short window much faster; after 50 equal
	// samples they agree.
	assert.True(t, scalar.EqualWithinAbs(pw.VelocityEnsemble().X, 10, 1e-6))
	assert.Greater(t, pw.VelocityEnsemble().X, pf.VelocityEnsemble().X-1e-9)
}

func TestAfterAdvectionCommitsPreviousState(t *testing.T) {
	c := NewCoupler()
	p := feedParticle(t, 1, r3.Vec{X: 1})
	p.SetPosition(r3.Vec{X: 0.9, Y: 0.5, Z: 0.5}, 3)

	c.AfterAdvection(p, 0.1)

	assert.Equal(t, p.Position(), p.PositionPrevious())
	assert.Equal(t, p.VelocityExternal(), p.VelocityPrevious())
}

func TestKernelSelectionByTypeTag(t *testing.T) {
	c := NewCoupler()
	c.DefaultKernel = ZeroKernel{}
	c.Kernels = map[int32]HistoryKernel{
		1: PowerLawKernel{Coefficient: 1, Decay: 0.5},
	}

	p0 := feedParticle(t, 1, r3.Vec{X: 1})
	p1, err := particle.New(particle.Components{
		Position: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5},
		Cell:     0,
		Diameter: 0.002,
		Velocity: r3.Vec{X: 1},
		Density:  1000,
		GlobalID: 2,
		TypeTag:  1,
	})
	require.NoError(t, err)

	for _, p := range []*particle.State{p0, p1} {
		require.NoError(t, c.BeforeAdvection(p, sample(p, r3.Vec{X: 5})))
		c.AfterAdvection(p, 0.1)
	}

	assert.Equal(t, r3.Vec{}, p0.HistoryForceSum())
	assert.NotEqual(t, r3.Vec{}, p1.HistoryForceSum())
}

func TestFeedbackAggregation(t *testing.T) {
	c := NewCoupler()
	p := feedParticle(t, 1, r3.Vec{X: 1})
	p.AccumulateHistory(r3.Vec{X: 2e-6})
	require.NoError(t, c.BeforeAdvection(p, sample(p, r3.Vec{X: 2})))

	dt := 0.5
	fb, src := c.Feedback([]*particle.State{p}, dt)
	require.Len(t, fb, 1)

	// Inertial part: m * (u - uPrev) / dt, plus the history sum.
	wantForce := p.Mass()*(2-1)/dt + 2e-6
	assert.Equal(t, int64(1), fb[0].GlobalID)
	assert.InDelta(t, wantForce, fb[0].Force.X, 1e-15)

	require.Contains(t, src, p.Cell())
	assert.InDelta(t, -wantForce, src[p.Cell()].X, 1e-15)
}

func TestFeedbackParcelWeight(t *testing.T) {
	c := NewCoupler()
	c.ParcelWeights = map[int32]float64{0: 4}
	p := feedParticle(t, 1, r3.Vec{X: 1})
	require.NoError(t, c.BeforeAdvection(p, sample(p, r3.Vec{X: 2})))

	dt := 0.5
	fb, _ := c.Feedback([]*particle.State{p}, dt)
	require.Len(t, fb, 1)
	assert.InDelta(t, 4*p.Mass()*(2-1)/dt, fb[0].Force.X, 1e-15)
}
