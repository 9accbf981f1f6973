package zones

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultStepPercent   = 2.0
	DefaultPixelsPerStep = 1.0

	// OverlapNotice is surfaced to the user when a resize step is rejected.
	OverlapNotice = "zones would overlap"
)

var (
	ErrSessionActive = errors.New("resize session already active")
	ErrSessionIdle   = errors.New("resize session is not active")
	ErrZoneLocked    = errors.New("zone is not editable")
)

// SessionState is the state of a ResizeSession.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionActive
)

func (s SessionState) String() string {
	if s == SessionActive {
		return "active"
	}
	return "idle"
}

// Step is the outcome of one resize step. Exactly one of Renders or
// Rejected is set.
type Step struct {
	ZoneID   string
	Percent  float64
	Renders  []Renderable
	Rejected *FitError
	Notice   string
}

// ResizeSession drives an interactive drag-resize of one zone. Pointer
// movement accumulates until it reaches PixelsPerStep, then a fixed
// StepPercent step is validated by the Fitter and either committed or dropped.
// Moving the pointer up (negative dy) grows the zone.
type ResizeSession struct {
	StepPercent   float64
	PixelsPerStep float64

	stack        *Stack
	fitter       *Fitter
	state        SessionState
	shape        *Shape
	inner        *Shape
	outer        *Shape
	displacement float64
}

func NewResizeSession(stack *Stack, fitter *Fitter) *ResizeSession {
	if fitter == nil {
		fitter = NewFitter()
	}
	return &ResizeSession{
		StepPercent:   DefaultStepPercent,
		PixelsPerStep: DefaultPixelsPerStep,
		stack:         stack,
		fitter:        fitter,
	}
}

func (s *ResizeSession) State() SessionState {
	return s.state
}

// Shape returns the zone being resized, nil when idle.
func (s *ResizeSession) Shape() *Shape {
	return s.shape
}

// Neighbors returns the neighbours captured at Begin or at the last step.
func (s *ResizeSession) Neighbors() (inner, outer *Shape) {
	return s.inner, s.outer
}

// Begin starts resizing shape, which must be an editable member of the stack.
func (s *ResizeSession) Begin(shape *Shape) error {
	if s.state == SessionActive {
		return ErrSessionActive
	}
	inner, outer, err := s.stack.NeighborsOf(shape)
	if err != nil {
		return err
	}
	if !shape.Editable {
		return ErrZoneLocked
	}

	s.state = SessionActive
	s.shape = shape
	s.inner = inner
	s.outer = outer
	s.displacement = 0
	return nil
}

// PointerDelta feeds a vertical pointer movement into the session. It returns
// a nil Step while the accumulated movement is below PixelsPerStep. The
// movement that produced a step is consumed whether or not the step is accepted.
func (s *ResizeSession) PointerDelta(dy float64) (*Step, error) {
	if s.state != SessionActive {
		return nil, ErrSessionIdle
	}

	s.displacement += dy
	if math.Abs(s.displacement) < s.pixelsPerStep() || dy == 0 {
		return nil, nil
	}
	s.displacement = 0

	inner, outer, err := s.stack.NeighborsOf(s.shape)
	if err != nil {
		id := s.shape.ID
		s.reset()
		return nil, fmt.Errorf("resize zone %s: %w", id, err)
	}
	s.inner, s.outer = inner, outer

	delta := s.stepPercent()
	if dy > 0 {
		delta = -delta
	}
	step := &Step{ZoneID: s.shape.ID, Percent: delta}

	fit, err := s.fitter.FitResize(s.shape, delta, inner, outer)
	if err != nil {
		var fitErr *FitError
		if errors.As(err, &fitErr) {
			step.Rejected = fitErr
			step.Notice = OverlapNotice
			return step, nil
		}
		return nil, err
	}

	s.shape.ApplyFit(fit)
	renders, err := s.stack.RenderAround(s.shape)
	if err != nil {
		return nil, err
	}
	step.Renders = renders
	return step, nil
}

// End finishes the gesture. Committed steps stay applied.
func (s *ResizeSession) End() error {
	if s.state != SessionActive {
		return ErrSessionIdle
	}
	s.reset()
	return nil
}

// Cancel ends the gesture and discards movement that has not yet produced a step.
func (s *ResizeSession) Cancel() error {
	s.displacement = 0
	return s.End()
}

func (s *ResizeSession) reset() {
	s.state = SessionIdle
	s.shape = nil
	s.inner = nil
	s.outer = nil
	s.displacement = 0
}

func (s *ResizeSession) stepPercent() float64 {
	if s.StepPercent > 0 {
		return s.StepPercent
	}
	return DefaultStepPercent
}

func (s *ResizeSession) pixelsPerStep() float64 {
	if s.PixelsPerStep > 0 {
		return s.PixelsPerStep
	}
	return DefaultPixelsPerStep
}
