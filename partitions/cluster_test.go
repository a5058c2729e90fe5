package partitions

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cfdem/demtrack/coupling"
	"github.com/cfdem/demtrack/mesh"
	"github.com/cfdem/demtrack/particle"
	"github.com/cfdem/demtrack/tracking"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func slabMesh(t *testing.T, nx, parts int) *mesh.BoxMesh {
	t.Helper()
	m, err := mesh.NewBoxMesh(nx, 1, 1, r3.Vec{}, r3.Vec{X: float64(nx), Y: 1, Z: 1}, parts)
	require.NoError(t, err)
	return m
}

func wallHandler(m *mesh.BoxMesh) *tracking.Handler {
	h := tracking.NewHandler()
	for _, p := range m.Patches() {
		h.Register(p.ID, tracking.ReflectPolicy{Restitution: 1})
	}
	return h
}

func seedParticle(t *testing.T, cl *Cluster, m *mesh.BoxMesh, id int64, pos, vel r3.Vec) *particle.State {
	t.Helper()
	cell, ok := m.Locate(pos)
	require.True(t, ok)
	p, err := particle.New(particle.Components{
		Position:        pos,
		Cell:            cell,
		Diameter:        0.002,
		Velocity:        vel,
		Density:         1000,
		GlobalID:        id,
		OwningPartition: int32(m.CellPartition(cell)),
	})
	require.NoError(t, err)
	require.NoError(t, cl.Seed(p))
	return p
}

// The canonical handoff: a particle half a step away from a processor
// face crosses at trackFraction 0.5 and finishes on the receiving
// partition with the full displacement accounted for.
func TestMidStepMigration(t *testing.T) {
	m := slabMesh(t, 2, 2)
	cl := NewCluster(m, 2, wallHandler(m), coupling.NewCoupler(), quietLog())

	start := r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}
	p := seedParticle(t, cl, m, 7, start, r3.Vec{X: 1})
	p.AccumulateHistory(r3.Vec{X: 3e-6, Y: -1e-6})
	histBefore := p.HistoryForceSum()

	// Advance the sending worker alone to observe the handoff record.
	w0, w1 := cl.Workers[0], cl.Workers[1]
	require.NoError(t, w0.advance(1.0))

	assert.Zero(t, w0.Count(), "sender must release ownership at migration")
	envs := w0.drainOutbound()
	require.Len(t, envs, 1)

	env := envs[0]
	assert.Equal(t, 0, env.From)
	assert.Equal(t, 1, env.To)
	assert.Equal(t, int64(7), env.Rec.GlobalID)
	assert.InDelta(t, 0.5, env.Rec.ResumeFraction, 1e-12)
	assert.Equal(t, [3]float64{histBefore.X, histBefore.Y, histBefore.Z}, env.Rec.HistoryForceSum)

	// Receiving worker completes the remaining half step.
	require.NoError(t, w1.receive(env, 1.0))
	require.Equal(t, 1, w1.Count())

	q, ok := w1.Particle(7)
	require.True(t, ok)
	assert.InDelta(t, 1.5, q.Position().X, 1e-12)
	assert.InDelta(t, 1.0, r3.Norm(r3.Sub(q.Position(), start)), 1e-12)
	assert.Equal(t, histBefore, q.HistoryForceSum())
	require.NoError(t, cl.Verify())
}

func TestStepMigratesAcrossCluster(t *testing.T) {
	m := slabMesh(t, 2, 2)
	cl := NewCluster(m, 2, wallHandler(m), coupling.NewCoupler(), quietLog())
	seedParticle(t, cl, m, 1, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, r3.Vec{X: 1})

	rep, err := cl.Step(1.0, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Migrations)
	assert.Equal(t, 1, cl.Count())
	assert.Zero(t, cl.Workers[0].Count())
	assert.Equal(t, 1, cl.Workers[1].Count())
	require.NoError(t, cl.Verify())
}

func TestChainedMigrationsInOneStep(t *testing.T) {
	// Fast particle crosses three processor boundaries in one step.
	m := slabMesh(t, 4, 4)
	cl := NewCluster(m, 4, wallHandler(m), coupling.NewCoupler(), quietLog())
	seedParticle(t, cl, m, 1, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, r3.Vec{X: 3})

	rep, err := cl.Step(1.0, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Migrations)
	p, ok := cl.Workers[3].Particle(1)
	require.True(t, ok)
	assert.InDelta(t, 3.5, p.Position().X, 1e-12)
	require.NoError(t, cl.Verify())
}

func TestStepAppliesFeedAndAccumulators(t *testing.T) {
	m := slabMesh(t, 4, 2)
	c := coupling.NewCoupler()
	c.DefaultKernel = coupling.PowerLawKernel{Coefficient: 1, Decay: 0.5}
	cl := NewCluster(m, 2, wallHandler(m), c, quietLog())
	p := seedParticle(t, cl, m, 1, r3.Vec{X: 1.5, Y: 0.5, Z: 0.5}, r3.Vec{X: 0.2})

	feeds := map[int64]coupling.FeedSample{
		1: {GlobalID: 1, Diameter: 0.002, Velocity: r3.Vec{X: 0.2}, Density: 1000},
	}

	const steps = 4
	for i := 0; i < steps; i++ {
		rep, err := cl.Step(0.5, feeds)
		require.NoError(t, err)
		require.Len(t, rep.Feedback, 1)
		assert.Equal(t, int64(1), rep.Feedback[0].GlobalID)
		require.NoError(t, cl.Verify())
	}

	assert.Equal(t, float64(steps), p.HistoryStepCount())
	assert.InDelta(t, 1.5+0.1*steps, p.Position().X, 1e-12)
}

func TestSeedRejectsDuplicates(t *testing.T) {
	m := slabMesh(t, 2, 2)
	cl := NewCluster(m, 2, wallHandler(m), coupling.NewCoupler(), quietLog())
	seedParticle(t, cl, m, 5, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, r3.Vec{})

	dup, err := particle.New(particle.Components{
		Position: r3.Vec{X: 0.25, Y: 0.5, Z: 0.5},
		Cell:     0,
		Diameter: 0.002,
		Velocity: r3.Vec{},
		Density:  1000,
		GlobalID: 5,
	})
	require.NoError(t, err)
	assert.Error(t, cl.Seed(dup))
}

func TestInsertRejectsForeignCell(t *testing.T) {
	m := slabMesh(t, 2, 2)
	cl := NewCluster(m, 2, wallHandler(m), coupling.NewCoupler(), quietLog())

	p, err := particle.New(particle.Components{
		Position: r3.Vec{X: 1.5, Y: 0.5, Z: 0.5},
		Cell:     1, // partition 1's cell
		Diameter: 0.002,
		Velocity: r3.Vec{},
		Density:  1000,
		GlobalID: 1,
	})
	require.NoError(t, err)
	assert.Error(t, cl.Workers[0].Insert(p))
}

func TestRetire(t *testing.T) {
	m := slabMesh(t, 2, 2)
	cl := NewCluster(m, 2, wallHandler(m), coupling.NewCoupler(), quietLog())
	seedParticle(t, cl, m, 1, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, r3.Vec{})
	seedParticle(t, cl, m, 2, r3.Vec{X: 1.5, Y: 0.5, Z: 0.5}, r3.Vec{})

	cl.Retire(1)
	assert.Equal(t, 1, cl.Count())
	_, ok := cl.Workers[1].Particle(2)
	assert.True(t, ok)
}
