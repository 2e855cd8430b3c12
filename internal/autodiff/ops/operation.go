// Package ops adapts volume kernels to a symbolic computation graph.
//
// A graph evaluates its ops once per pass of a Session. Each op caches the
// volume it produced during the current pass, so evaluating a shared node
// from several consumers runs its kernel once:
//   - Const, Variable: leaves holding a caller-provided volume
//   - Convolution: forward convolution and its gradients
//   - ConvolutionFilterGradient, ConvolutionInputGradient: expose the
//     gradients of a Convolution as graph nodes
package ops

import (
	"fmt"
	"sync/atomic"

	"github.com/born-ml/volume/internal/volume"
)

// Session numbers evaluation passes. The graph owner calls BeginPass before
// every forward/backward sweep.
type Session struct {
	pass atomic.Uint64
}

// NewSession creates a session before its first pass.
func NewSession() *Session {
	return &Session{}
}

// BeginPass starts a new pass and returns its number (starting at 1).
func (s *Session) BeginPass() uint64 {
	return s.pass.Add(1)
}

// Pass returns the current pass number, 0 before the first BeginPass.
func (s *Session) Pass() uint64 {
	return s.pass.Load()
}

// stamp identifies one pass of one session.
type stamp struct {
	session *Session
	pass    uint64
}

func stampOf(s *Session) stamp {
	return stamp{session: s, pass: s.Pass()}
}

// current reports whether the stamp was taken in the current pass of s.
func (st stamp) current(s *Session) bool {
	return st.session == s && st.pass == s.Pass()
}

// Op is a node of the computation graph.
type Op[T volume.Float] interface {
	// Evaluate returns the value of the op for the current pass of s.
	// The returned volume stays owned by the op.
	Evaluate(s *Session) (*volume.Volume[T], error)

	// Parents returns the ops this op reads.
	Parents() []Op[T]

	// Release frees the volumes the op allocated.
	Release() error
}

// Const is a leaf with a fixed value.
type Const[T volume.Float] struct {
	value *volume.Volume[T]
	name  string
}

// NewConst creates a constant leaf. The caller keeps ownership of value.
func NewConst[T volume.Float](value *volume.Volume[T], name string) *Const[T] {
	return &Const[T]{value: value, name: name}
}

// Evaluate returns the constant value.
func (c *Const[T]) Evaluate(*Session) (*volume.Volume[T], error) {
	return c.value, nil
}

// Parents returns nil.
func (c *Const[T]) Parents() []Op[T] {
	return nil
}

// Release is a no-op; the caller owns the value.
func (c *Const[T]) Release() error {
	return nil
}

// String returns the constant name.
func (c *Const[T]) String() string {
	return fmt.Sprintf("Const(%s)", c.name)
}

// Variable is a leaf whose value can be replaced between passes, typically
// the network input or a trainable parameter.
type Variable[T volume.Float] struct {
	value *volume.Volume[T]
	name  string
}

// NewVariable creates a variable leaf. The caller keeps ownership of value.
func NewVariable[T volume.Float](value *volume.Volume[T], name string) *Variable[T] {
	return &Variable[T]{value: value, name: name}
}

// SetValue replaces the value seen by the next pass.
func (v *Variable[T]) SetValue(value *volume.Volume[T]) {
	v.value = value
}

// Evaluate returns the current value.
func (v *Variable[T]) Evaluate(*Session) (*volume.Volume[T], error) {
	return v.value, nil
}

// Parents returns nil.
func (v *Variable[T]) Parents() []Op[T] {
	return nil
}

// Release is a no-op; the caller owns the value.
func (v *Variable[T]) Release() error {
	return nil
}

// String returns the variable name.
func (v *Variable[T]) String() string {
	return fmt.Sprintf("Variable(%s)", v.name)
}
