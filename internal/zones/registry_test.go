package zones

import (
	"errors"
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	stack := circleStack(t, 100)

	if err := reg.Add(stack); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := reg.Add(stack); !errors.Is(err, ErrStackRegistered) {
		t.Errorf("Expected ErrStackRegistered, got %v", err)
	}
	if !reg.Has(stack.ID) || reg.Len() != 1 {
		t.Fatal("Expected stack to be registered")
	}

	var seen *Stack
	if err := reg.With(stack.ID, func(s *Stack) error {
		seen = s
		return nil
	}); err != nil {
		t.Fatalf("With failed: %v", err)
	}
	if seen != stack {
		t.Error("With did not pass the registered stack")
	}

	wantErr := errors.New("boom")
	if err := reg.With(stack.ID, func(*Stack) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Errorf("Expected callback error to propagate, got %v", err)
	}
	if err := reg.With("missing", func(*Stack) error { return nil }); !errors.Is(err, ErrStackNotFound) {
		t.Errorf("Expected ErrStackNotFound, got %v", err)
	}

	if !reg.Remove(stack.ID) {
		t.Error("Expected Remove to report the stack")
	}
	if reg.Remove(stack.ID) {
		t.Error("Second Remove should report false")
	}
}

func TestRegistry_PutAndIDs(t *testing.T) {
	reg := NewRegistry()
	reg.Put(NewStack("b", "", origin))
	reg.Put(NewStack("a", "", origin))
	reg.Put(NewStack("a", "replaced", origin))

	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("Expected sorted ids [a b], got %v", ids)
	}
	_ = reg.With("a", func(s *Stack) error {
		if s.Name != "replaced" {
			t.Errorf("Expected Put to replace the stack, got %q", s.Name)
		}
		return nil
	})
}

func TestRegistry_SerialisesMutations(t *testing.T) {
	reg := NewRegistry()
	stack := circleStack(t, 100)
	if err := reg.Add(stack); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	f := NewFitter()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.With(stack.ID, func(s *Stack) error {
				_, err := f.InsertZone(s, s.Len()-1, ZoneSpec{BasePercent: 10})
				return err
			})
		}()
	}
	wg.Wait()

	_ = reg.With(stack.ID, func(s *Stack) error {
		if s.Len() != 11 {
			t.Errorf("Expected 11 zones, got %d", s.Len())
		}
		if err := s.Validate(); err != nil {
			t.Errorf("Validate failed: %v", err)
		}
		return nil
	})
}
