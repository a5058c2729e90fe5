// Package partitions organizes tracking as one worker per mesh partition.
// Each worker owns the particles inside its partition; the only state
// crossing worker boundaries is the encoded migration record of a particle
// physically crossing a processor face.
package partitions

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/cfdem/demtrack/coupling"
	"github.com/cfdem/demtrack/mesh"
	"github.com/cfdem/demtrack/migration"
	"github.com/cfdem/demtrack/particle"
	"github.com/cfdem/demtrack/tracking"
)

// Envelope is one migration record in flight between two workers.
type Envelope struct {
	From, To int
	Rec      migration.Record
}

// Worker owns one partition's particles and advances them sequentially.
// A worker never touches another worker's particles; migration is the only
// coordination primitive.
type Worker struct {
	ID      int
	Topo    mesh.Topology
	Handler *tracking.Handler
	Coupler *coupling.Coupler
	Integ   *tracking.Integrator
	Log     logrus.FieldLogger

	particles map[int64]*particle.State
	outbound  []Envelope
}

// NewWorker builds a worker for partition id. Handler and Coupler may be
// shared across workers; both are read-only during stepping.
func NewWorker(id int, topo mesh.Topology, h *tracking.Handler, c *coupling.Coupler, log logrus.FieldLogger) *Worker {
	return &Worker{
		ID:        id,
		Topo:      topo,
		Handler:   h,
		Coupler:   c,
		Integ:     tracking.NewIntegrator(),
		Log:       log,
		particles: make(map[int64]*particle.State),
	}
}

// Insert adds a particle to this worker. The particle's cell must lie in
// this worker's partition.
func (w *Worker) Insert(p *particle.State) error {
	if owner := w.Topo.CellPartition(p.Cell()); owner != w.ID {
		return fmt.Errorf("partitions: particle %d in cell %d belongs to partition %d, not %d",
			p.GlobalID(), p.Cell(), owner, w.ID)
	}
	if _, exists := w.particles[p.GlobalID()]; exists {
		return fmt.Errorf("partitions: duplicate particle %d on partition %d", p.GlobalID(), w.ID)
	}
	w.particles[p.GlobalID()] = p
	return nil
}

// Remove drops a particle, reporting whether it was present.
func (w *Worker) Remove(globalID int64) bool {
	_, ok := w.particles[globalID]
	delete(w.particles, globalID)
	return ok
}

// Count reports the number of owned particles.
func (w *Worker) Count() int { return len(w.particles) }

// Particle returns an owned particle by global id.
func (w *Worker) Particle(globalID int64) (*particle.State, bool) {
	p, ok := w.particles[globalID]
	return p, ok
}

// Particles returns the owned particles sorted by global id.
func (w *Worker) Particles() []*particle.State {
	out := make([]*particle.State, 0, len(w.particles))
	for _, p := range w.particles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalID() < out[j].GlobalID() })
	return out
}

type workerSink struct{ w *Worker }

func (s workerSink) Send(to int, rec migration.Record) {
	s.w.outbound = append(s.w.outbound, Envelope{From: s.w.ID, To: to, Rec: rec})
}

func (w *Worker) context() *tracking.Context {
	return &tracking.Context{
		Mesh:      w.Topo,
		Partition: w.ID,
		Handler:   w.Handler,
		Sink:      workerSink{w},
		Log:       w.Log,
	}
}

// advance runs one step for every owned particle. Particles that migrate
// or are removed leave the ownership map immediately, so no particle can
// have two live copies.
func (w *Worker) advance(dt float64) error {
	ctx := w.context()
	for _, p := range w.Particles() {
		res, err := w.Integ.Step(ctx, p, dt)
		if err != nil {
			return fmt.Errorf("partition %d: %w", w.ID, err)
		}
		if res.Migrated || res.Removed {
			delete(w.particles, p.GlobalID())
		}
	}
	return nil
}

// receive decodes an inbound record and completes the remainder of the
// particle's step with local trackFraction bookkeeping.
func (w *Worker) receive(env Envelope, dt float64) error {
	if env.To != w.ID {
		return fmt.Errorf("partitions: envelope for partition %d delivered to %d", env.To, w.ID)
	}
	p, frac, err := migration.Decode(env.Rec)
	if err != nil {
		return fmt.Errorf("partition %d: record from partition %d: %w", w.ID, env.From, err)
	}
	if owner := w.Topo.CellPartition(p.Cell()); owner != w.ID {
		return fmt.Errorf("%w: particle %d migrated into cell %d owned by partition %d, not %d",
			migration.ErrCorrupt, p.GlobalID(), p.Cell(), owner, w.ID)
	}
	res, err := w.Integ.Resume(w.context(), p, dt, frac)
	if err != nil {
		return fmt.Errorf("partition %d: resuming particle %d: %w", w.ID, p.GlobalID(), err)
	}
	if res.Removed || res.Migrated {
		return nil
	}
	return w.Insert(p)
}

// drainOutbound hands over and clears the worker's pending envelopes.
func (w *Worker) drainOutbound() []Envelope {
	out := w.outbound
	w.outbound = nil
	return out
}
