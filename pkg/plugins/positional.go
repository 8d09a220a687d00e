package plugins

import (
	"math"
	"sync"
)

// Vector3D is a 3-component vector. 1 unit corresponds to 1 meter.
type Vector3D struct {
	X float32
	Y float32
	Z float32
}

// Zero resets all components.
func (v *Vector3D) Zero() {
	v.X, v.Y, v.Z = 0, 0, 0
}

// IsZero reports whether every component is within threshold of zero.
func (v Vector3D) IsZero(threshold float32) bool {
	abs := func(f float32) float32 {
		if f < 0 {
			return -f
		}
		return f
	}
	return abs(v.X) <= threshold && abs(v.Y) <= threshold && abs(v.Z) <= threshold
}

// NormSquared returns the squared euclidean length.
func (v Vector3D) NormSquared() float32 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// Norm returns the euclidean length.
func (v Vector3D) Norm() float32 {
	return float32(math.Sqrt(float64(v.NormSquared())))
}

// Dot returns the dot product with other.
func (v Vector3D) Dot(other Vector3D) float32 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Cross returns the cross product with other.
func (v Vector3D) Cross(other Vector3D) Vector3D {
	return Vector3D{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// Normalize scales the vector to unit length. A zero vector stays zero.
func (v *Vector3D) Normalize() {
	norm := v.Norm()
	if norm == 0 {
		return
	}
	v.X /= norm
	v.Y /= norm
	v.Z /= norm
}

// PositionalFrame is one complete positional-data sample written by a
// plugin's fetch entry point. The context scopes audibility: only peers
// sharing an identical context can hear each other positionally. The
// identity uniquely identifies the player and can be polled externally.
type PositionalFrame struct {
	AvatarPos  Vector3D
	AvatarDir  Vector3D
	AvatarAxis Vector3D
	CameraPos  Vector3D
	CameraDir  Vector3D
	CameraAxis Vector3D
	Context    string
	Identity   string
}

// PositionalData is the shared snapshot read by the audio-mixing path
// and written by the positional fetch cycle. Writers replace the whole
// frame under the write lock so readers never observe a torn sample.
type PositionalData struct {
	mu    sync.RWMutex
	frame PositionalFrame
}

// NewPositionalData returns an all-zero snapshot.
func NewPositionalData() *PositionalData {
	return &PositionalData{}
}

// Update replaces the snapshot with frame.
func (d *PositionalData) Update(frame PositionalFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.frame = frame
}

// Get returns a consistent copy of the current frame.
func (d *PositionalData) Get() PositionalFrame {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.frame
}

// Reset zeroes all vectors and empties the context and identity. Called
// whenever no plugin is the active positional-data source.
func (d *PositionalData) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.frame = PositionalFrame{}
}
