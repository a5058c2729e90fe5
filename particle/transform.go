package particle

import "gonum.org/v1/gonum/spatial/r3"

// TransformRotate applies a rotation to every velocity-bearing field,
// as required when a particle passes through a rotationally periodic
// boundary. Scalar fields are untouched; position relocation across the
// boundary is the caller's job.
func (p *State) TransformRotate(rot r3.Rotation) {
	p.velocityExternal = rot.Rotate(p.velocityExternal)
	p.velocityForAdvection = rot.Rotate(p.velocityForAdvection)
	p.velocityEnsemble = rot.Rotate(p.velocityEnsemble)
	p.velocityPrevious = rot.Rotate(p.velocityPrevious)
	p.historyForceSum = rot.Rotate(p.historyForceSum)
}

// TransformTranslate shifts the positional fields by a separation vector,
// as required when a particle passes through a translationally periodic
// boundary. Velocities and scalars are untouched.
func (p *State) TransformTranslate(separation r3.Vec) {
	p.position = r3.Add(p.position, separation)
	p.positionPrevious = r3.Add(p.positionPrevious, separation)
}
