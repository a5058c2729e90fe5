// Package migration serializes particle state for transfer between mesh
// partitions and for checkpoint snapshots. Records are fixed-layout,
// fixed-size binary structures so that bulk transfers move as flat blocks.
package migration

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cfdem/demtrack/particle"
)

// ErrCorrupt marks a record or snapshot that cannot decode to a complete,
// invariant-respecting particle. Treated as a transport or protocol-version
// fault, never recoverable per-particle.
var ErrCorrupt = errors.New("migration: corrupt record")

// RecordSize is the exact byte length of one encoded particle record.
const RecordSize = 232

// byteOrder is the fixed wire endianness for records and snapshots.
var byteOrder = binary.LittleEndian

// Record is the wire form of one particle. Every field is fixed-width, so
// binary.Write emits exactly RecordSize bytes with no padding.
type Record struct {
	GlobalID  int64
	Partition int32 // sending partition
	TypeTag   int32
	Cell      int64 // destination cell on the receiving partition
	// Fraction of the step already consumed when the particle hit the
	// processor face. The receiver resumes the advance from here.
	ResumeFraction float64

	Diameter float64
	Mass     float64
	Density  float64

	Position         [3]float64
	PositionPrevious [3]float64

	VelocityExternal     [3]float64
	VelocityForAdvection [3]float64
	VelocityPrevious     [3]float64
	VelocityEnsemble     [3]float64

	HistoryStepCount float64
	HistoryForceSum  [3]float64
}

// Encode packs a particle into a record bound for destCell on a neighboring
// partition, with the step resume point at resumeFraction.
func Encode(p *particle.State, resumeFraction float64, destCell int) Record {
	s := p.Snapshot()
	return Record{
		GlobalID:             s.GlobalID,
		Partition:            s.LastOwningPartition,
		TypeTag:              s.TypeTag,
		Cell:                 int64(destCell),
		ResumeFraction:       resumeFraction,
		Diameter:             s.Diameter,
		Mass:                 s.Mass,
		Density:              s.Density,
		Position:             packVec(s.Position),
		PositionPrevious:     packVec(s.PositionPrevious),
		VelocityExternal:     packVec(s.VelocityExternal),
		VelocityForAdvection: packVec(s.VelocityForAdvection),
		VelocityPrevious:     packVec(s.VelocityPrevious),
		VelocityEnsemble:     packVec(s.VelocityEnsemble),
		HistoryStepCount:     s.HistoryStepCount,
		HistoryForceSum:      packVec(s.HistoryForceSum),
	}
}

// Decode reconstructs the particle, re-validating every invariant. It
// returns the particle together with the resume fraction recorded by the
// sender.
func Decode(r Record) (*particle.State, float64, error) {
	if r.ResumeFraction < 0 || r.ResumeFraction > 1 {
		return nil, 0, fmt.Errorf("%w: resume fraction %g (global id %d)",
			ErrCorrupt, r.ResumeFraction, r.GlobalID)
	}
	p, err := particle.FromSnapshot(particle.Snapshot{
		Diameter:             r.Diameter,
		Mass:                 r.Mass,
		Density:              r.Density,
		Position:             unpackVec(r.Position),
		Cell:                 int(r.Cell),
		VelocityExternal:     unpackVec(r.VelocityExternal),
		VelocityForAdvection: unpackVec(r.VelocityForAdvection),
		VelocityEnsemble:     unpackVec(r.VelocityEnsemble),
		PositionPrevious:     unpackVec(r.PositionPrevious),
		VelocityPrevious:     unpackVec(r.VelocityPrevious),
		GlobalID:             r.GlobalID,
		LastOwningPartition:  r.Partition,
		TypeTag:              r.TypeTag,
		HistoryStepCount:     r.HistoryStepCount,
		HistoryForceSum:      unpackVec(r.HistoryForceSum),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return p, r.ResumeFraction, nil
}

// MarshalBinary emits the fixed-layout wire form.
func (r Record) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, RecordSize))
	if err := binary.Write(buf, byteOrder, &r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary parses a record from exactly RecordSize bytes.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: record length %d, want %d", ErrCorrupt, len(data), RecordSize)
	}
	return binary.Read(bytes.NewReader(data), byteOrder, r)
}

func packVec(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func unpackVec(a [3]float64) r3.Vec {
	return r3.Vec{X: a[0], Y: a[1], Z: a[2]}
}
