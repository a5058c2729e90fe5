package partitions

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cfdem/demtrack/coupling"
	"github.com/cfdem/demtrack/mesh"
	"github.com/cfdem/demtrack/migration"
	"github.com/cfdem/demtrack/particle"
	"github.com/cfdem/demtrack/tracking"
)

// Cluster drives one worker per partition through synchronized steps.
// Workers advance concurrently; envelopes produced during an advance are
// delivered between phases, so every migrating particle's step is split
// across exactly two workers and never duplicated or dropped.
type Cluster struct {
	Workers []*Worker
	Coupler *coupling.Coupler
	Log     logrus.FieldLogger
}

// NewCluster builds numPartitions workers over a shared read-only
// topology.
func NewCluster(topo mesh.Topology, numPartitions int, h *tracking.Handler, c *coupling.Coupler, log logrus.FieldLogger) *Cluster {
	ws := make([]*Worker, numPartitions)
	for i := range ws {
		ws[i] = NewWorker(i, topo, h, c, log)
	}
	return &Cluster{Workers: ws, Coupler: c, Log: log}
}

// Seed places a particle with the worker owning its cell.
func (cl *Cluster) Seed(p *particle.State) error {
	owner := cl.Workers[0].Topo.CellPartition(p.Cell())
	if owner < 0 || owner >= len(cl.Workers) {
		return fmt.Errorf("partitions: cell %d maps to partition %d of %d", p.Cell(), owner, len(cl.Workers))
	}
	return cl.Workers[owner].Insert(p)
}

// Retire removes particles the DEM feed reports as gone.
func (cl *Cluster) Retire(globalIDs ...int64) {
	for _, id := range globalIDs {
		for _, w := range cl.Workers {
			if w.Remove(id) {
				break
			}
		}
	}
}

// Count reports the total particle population.
func (cl *Cluster) Count() int {
	n := 0
	for _, w := range cl.Workers {
		n += w.Count()
	}
	return n
}

// Particles returns every owned particle across all workers.
func (cl *Cluster) Particles() []*particle.State {
	var out []*particle.State
	for _, w := range cl.Workers {
		out = append(out, w.Particles()...)
	}
	return out
}

// StepReport summarizes one synchronized step.
type StepReport struct {
	Migrations int
	Feedback   []coupling.Feedback
	Sources    coupling.SourceField
}

// Step runs one full time step: feed ingestion, concurrent advance,
// migration exchange rounds until quiescent, then feedback aggregation and
// end-of-step accumulator updates.
func (cl *Cluster) Step(dt float64, feeds map[int64]coupling.FeedSample) (StepReport, error) {
	rep := StepReport{Sources: make(coupling.SourceField)}

	// Feed ingestion and advection-velocity blending.
	for _, w := range cl.Workers {
		for _, p := range w.Particles() {
			s, ok := feeds[p.GlobalID()]
			if !ok {
				continue
			}
			if err := cl.Coupler.BeforeAdvection(p, s); err != nil {
				return rep, err
			}
		}
	}

	// Concurrent local advance.
	if err := cl.parallel(func(w *Worker) error { return w.advance(dt) }); err != nil {
		return rep, err
	}

	// Exchange rounds: deliver envelopes, let receivers complete the
	// remaining fraction, repeat until nothing is in flight. A particle
	// may cross several processor boundaries in one step.
	for {
		var pending []Envelope
		for _, w := range cl.Workers {
			pending = append(pending, w.drainOutbound()...)
		}
		if len(pending) == 0 {
			break
		}
		rep.Migrations += len(pending)

		byDest := make(map[int][]Envelope)
		for _, env := range pending {
			if env.To < 0 || env.To >= len(cl.Workers) {
				return rep, fmt.Errorf("%w: envelope addressed to partition %d of %d",
					migration.ErrCorrupt, env.To, len(cl.Workers))
			}
			byDest[env.To] = append(byDest[env.To], env)
		}
		if err := cl.parallel(func(w *Worker) error {
			for _, env := range byDest[w.ID] {
				if err := w.receive(env, dt); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return rep, err
		}
	}

	// Feedback uses the pre-commit previous state, so it runs before the
	// end-of-step accumulator update.
	for _, w := range cl.Workers {
		fb, src := cl.Coupler.Feedback(w.Particles(), dt)
		rep.Feedback = append(rep.Feedback, fb...)
		for cell, f := range src {
			rep.Sources[cell] = r3.Add(rep.Sources[cell], f)
		}
		for _, p := range w.Particles() {
			cl.Coupler.AfterAdvection(p, dt)
		}
	}
	return rep, nil
}

// parallel runs fn on every worker concurrently and joins the errors.
func (cl *Cluster) parallel(fn func(*Worker) error) error {
	errs := make([]error, len(cl.Workers))
	var wg sync.WaitGroup
	for i, w := range cl.Workers {
		wg.Add(1)
		go func(i int, w *Worker) {
			defer wg.Done()
			errs[i] = fn(w)
		}(i, w)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Verify checks the ownership invariants: every particle owned exactly
// once, by the worker whose partition contains its cell.
func (cl *Cluster) Verify() error {
	seen := make(map[int64]int)
	for _, w := range cl.Workers {
		for _, p := range w.Particles() {
			if prev, dup := seen[p.GlobalID()]; dup {
				return fmt.Errorf("partitions: particle %d owned by partitions %d and %d",
					p.GlobalID(), prev, w.ID)
			}
			seen[p.GlobalID()] = w.ID
			if owner := w.Topo.CellPartition(p.Cell()); owner != w.ID {
				return fmt.Errorf("partitions: particle %d on partition %d but cell %d belongs to %d",
					p.GlobalID(), w.ID, p.Cell(), owner)
			}
		}
	}
	return nil
}
