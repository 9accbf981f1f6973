package zones

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/zonestack/server/internal/geometry"
)

type recordedFit struct {
	op         string
	reason     Reason
	iterations int
}

type recordingObserver struct {
	calls []recordedFit
}

func (o *recordingObserver) ObserveFit(op string, reason Reason, iterations int) {
	o.calls = append(o.calls, recordedFit{op, reason, iterations})
}

func requireFitError(t *testing.T, err error, want Reason) *FitError {
	t.Helper()
	var fe *FitError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected *FitError(%s), got %v", want, err)
	}
	if fe.Reason != want {
		t.Fatalf("Expected reason %s, got %s", want, fe.Reason)
	}
	return fe
}

func TestFitNewZone_NoOuterBound(t *testing.T) {
	stack := circleStack(t, 100)
	obs := &recordingObserver{}
	f := NewFitter()
	f.Observer = obs

	fit, err := f.FitNewZone(stack.ZoneAt(0), nil, 50)
	if err != nil {
		t.Fatalf("FitNewZone failed: %v", err)
	}
	if fit.Percent != 50 || fit.Iterations != 1 || fit.Fallback {
		t.Errorf("Expected immediate 50%% fit, got %+v", fit)
	}
	if got := geometry.MeanRadius(fit.Ring, origin); math.Abs(got-150) > 0.05 {
		t.Errorf("Expected ring radius near 150, got %f", got)
	}
	if len(obs.calls) != 1 || obs.calls[0] != (recordedFit{OpInsert, "", 1}) {
		t.Errorf("Unexpected observer calls: %+v", obs.calls)
	}
}

func TestFitNewZone_TightGap(t *testing.T) {
	stack := circleStack(t, 100, 105)
	inner, outer := stack.ZoneAt(0), stack.ZoneAt(1)

	fit, err := NewFitter().FitNewZone(inner, outer, 50)
	if err != nil {
		requireFitError(t, err, ReasonScaleExhausted)
		return
	}
	if 100*(1+fit.Percent/100) >= 105 {
		t.Fatalf("Fit percent %v does not leave room inside the outer zone", fit.Percent)
	}
	if fit.Percent != 4 {
		t.Errorf("Expected the search to stop at 4%%, got %v", fit.Percent)
	}
	if !geometry.RingWithinRing(fit.Ring, outer.Ring) || !geometry.RingWithinRing(inner.Ring, fit.Ring) {
		t.Error("Fitted ring is not nested between its neighbours")
	}
}

func TestFitNewZone_LargestValidPercent(t *testing.T) {
	stack := circleStack(t, 100, 130)
	inner, outer := stack.ZoneAt(0), stack.ZoneAt(1)

	fit, err := NewFitter().FitNewZone(inner, outer, 50)
	if err != nil {
		t.Fatalf("FitNewZone failed: %v", err)
	}
	if fit.Percent > 50 {
		t.Fatalf("Fit overshot the base percent: %v", fit.Percent)
	}
	if fit.Iterations != int(50-fit.Percent)+1 {
		t.Errorf("Expected %d iterations, got %d", int(50-fit.Percent)+1, fit.Iterations)
	}

	c, _ := geometry.Centroid(inner.Ring)
	next, err := geometry.ScaleRing(inner.Ring, c, fit.Percent+1)
	if err != nil {
		t.Fatalf("ScaleRing failed: %v", err)
	}
	if geometry.RingWithinRing(next, outer.Ring) {
		t.Errorf("A larger percent (%v) would also have fit", fit.Percent+1)
	}
}

func TestFitNewZone_ScaleExhausted(t *testing.T) {
	stack := circleStack(t, 100, 100.5)
	obs := &recordingObserver{}
	f := NewFitter()
	f.Observer = obs

	_, err := f.FitNewZone(stack.ZoneAt(0), stack.ZoneAt(1), 50)
	fe := requireFitError(t, err, ReasonScaleExhausted)

	if fe.Inner != "Zone z0" || fe.Outer != "Zone z1" {
		t.Errorf("Expected neighbour names in error, got %+v", fe)
	}
	if !strings.Contains(err.Error(), "Zone z0") || !strings.Contains(err.Error(), "Zone z1") {
		t.Errorf("Error message should name both neighbours: %s", err)
	}
	if len(obs.calls) != 1 || obs.calls[0].reason != ReasonScaleExhausted || obs.calls[0].iterations != 50 {
		t.Errorf("Unexpected observer calls: %+v", obs.calls)
	}
}

func TestFitNewZone_RectangleFallback(t *testing.T) {
	// U-shaped zone whose vertex centroid lies in the notch: scaling it from
	// there pushes the notch edges across the original ring.
	u, err := NewPolygon("u", "U", orb.Ring{
		{0, 0}, {0.003, 0}, {0.003, 0.003}, {0.002, 0.003},
		{0.002, 0.001}, {0.001, 0.001}, {0.001, 0.003}, {0, 0.003},
	})
	if err != nil {
		t.Fatalf("NewPolygon failed: %v", err)
	}

	fit, err := NewFitter().FitNewZone(u, nil, 50)
	if err != nil {
		t.Fatalf("FitNewZone failed: %v", err)
	}
	if !fit.Fallback {
		t.Fatal("Expected the rectangle fallback")
	}
	if !reflect.DeepEqual(fit.Ring, geometry.BoundingRing(u.Ring, DefaultMarginPercent)) {
		t.Error("Expected the bounding rectangle with the default margin")
	}
	if !geometry.RingWithinRing(u.Ring, fit.Ring) {
		t.Error("Fallback ring must contain the inner zone")
	}
}

func TestFitNewZone_NilInner(t *testing.T) {
	if _, err := NewFitter().FitNewZone(nil, nil, 50); !errors.Is(err, ErrNoNeighbor) {
		t.Errorf("Expected ErrNoNeighbor, got %v", err)
	}
}

func TestFitInnerZone(t *testing.T) {
	stack := circleStack(t, 100)

	fit, err := NewFitter().FitInnerZone(stack.ZoneAt(0), 50)
	if err != nil {
		t.Fatalf("FitInnerZone failed: %v", err)
	}
	if fit.Percent != -50 {
		t.Errorf("Expected -50%%, got %v", fit.Percent)
	}
	if got := geometry.MeanRadius(fit.Ring, origin); math.Abs(got-50) > 0.05 {
		t.Errorf("Expected radius near 50, got %f", got)
	}
}

func TestFitResize(t *testing.T) {
	east := orb.Point{0.0004, 0} // about 44.5m east of the origin

	tests := []struct {
		name   string
		build  func(t *testing.T) (shape, inner, outer *Shape)
		delta  float64
		reason Reason
	}{
		{
			name: "shrink below inner",
			build: func(t *testing.T) (*Shape, *Shape, *Shape) {
				s := circleStack(t, 50, 100)
				return s.ZoneAt(1), s.ZoneAt(0), nil
			},
			delta:  -60,
			reason: ReasonBelowInner,
		},
		{
			name: "shrink clear of inner",
			build: func(t *testing.T) (*Shape, *Shape, *Shape) {
				s := circleStack(t, 50, 100)
				return s.ZoneAt(1), s.ZoneAt(0), nil
			},
			delta: -45,
		},
		{
			name: "grow past outer area",
			build: func(t *testing.T) (*Shape, *Shape, *Shape) {
				s := circleStack(t, 50, 100)
				return s.ZoneAt(0), nil, s.ZoneAt(1)
			},
			delta:  150,
			reason: ReasonExceedOuter,
		},
		{
			name: "grow through offset outer",
			build: func(t *testing.T) (*Shape, *Shape, *Shape) {
				return newCircle(t, "a", origin, 50), nil, newCircle(t, "b", east, 100)
			},
			delta:  20,
			reason: ReasonIntersectOuter,
		},
		{
			name: "shrink onto offset inner",
			build: func(t *testing.T) (*Shape, *Shape, *Shape) {
				return newCircle(t, "b", origin, 100), newCircle(t, "a", east, 50), nil
			},
			delta:  -10,
			reason: ReasonIntersectInner,
		},
		{
			name: "collapse with inner",
			build: func(t *testing.T) (*Shape, *Shape, *Shape) {
				s := circleStack(t, 50, 100)
				return s.ZoneAt(1), s.ZoneAt(0), nil
			},
			delta:  -100,
			reason: ReasonBelowInner,
		},
		{
			name: "collapse without inner",
			build: func(t *testing.T) (*Shape, *Shape, *Shape) {
				return newCircle(t, "a", origin, 50), nil, nil
			},
			delta:  -100,
			reason: ReasonScaleExhausted,
		},
		{
			name: "grow without outer",
			build: func(t *testing.T) (*Shape, *Shape, *Shape) {
				return newCircle(t, "a", origin, 50), nil, nil
			},
			delta: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape, inner, outer := tt.build(t)
			fit, err := NewFitter().FitResize(shape, tt.delta, inner, outer)
			if tt.reason != "" {
				requireFitError(t, err, tt.reason)
				return
			}
			if err != nil {
				t.Fatalf("FitResize failed: %v", err)
			}
			if fit.Percent != tt.delta {
				t.Errorf("Expected percent %v, got %v", tt.delta, fit.Percent)
			}
		})
	}
}

func TestFitResize_Pure(t *testing.T) {
	stack := circleStack(t, 50, 100)
	shape, inner := stack.ZoneAt(1), stack.ZoneAt(0)
	before := shape.Clone()
	f := NewFitter()

	_, err1 := f.FitResize(shape, -60, inner, nil)
	_, err2 := f.FitResize(shape, -60, inner, nil)
	if !reflect.DeepEqual(err1, err2) {
		t.Errorf("Repeated FitResize disagreed: %v vs %v", err1, err2)
	}

	fit1, _ := f.FitResize(shape, -20, inner, nil)
	fit2, _ := f.FitResize(shape, -20, inner, nil)
	if !reflect.DeepEqual(fit1, fit2) {
		t.Error("Repeated accepted FitResize produced different rings")
	}
	if !reflect.DeepEqual(shape, before) {
		t.Error("FitResize modified the shape")
	}
}
