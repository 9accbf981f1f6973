package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/zonestack/server/internal/zones"
)

// TestFixtures provides test data generators
type TestFixtures struct{}

// NewTestFixtures creates a new test fixtures helper
func NewTestFixtures() *TestFixtures {
	return &TestFixtures{}
}

// RandomString generates a random string of specified length
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	seed := time.Now().UnixNano()
	for i := range b {
		seed = seed*1103515245 + 12345 // Simple LCG
		idx := int(seed % int64(len(charset)))
		if idx < 0 {
			idx = -idx
		}
		b[i] = charset[idx]
	}
	return string(b)
}

// RandomUsername generates a random username
func RandomUsername() string {
	return "editor_" + RandomString(8)
}

// RandomEmail generates a random email address
func RandomEmail() string {
	return "test_" + RandomString(8) + "@example.com"
}

// TestEditorData represents test editor account data
type TestEditorData struct {
	Username string
	Email    string
	Password string
}

// NewTestEditor creates test editor data
func (f *TestFixtures) NewTestEditor() TestEditorData {
	return TestEditorData{
		Username: RandomUsername(),
		Email:    RandomEmail(),
		Password: "Testpassword123!",
	}
}

// DefaultAnchor is the anchor used by fixture stacks
var DefaultAnchor = orb.Point{13.404954, 52.520008}

// CircleStack builds a stack of concentric circles around DefaultAnchor with
// the given radii in meters, innermost first. Zone IDs are z0, z1, ...
func CircleStack(t *testing.T, id string, radii ...float64) *zones.Stack {
	t.Helper()
	stack := zones.NewStack(id, "Stack "+id, DefaultAnchor)
	for i, r := range radii {
		shape, err := zones.NewCircle(fmt.Sprintf("z%d", i), fmt.Sprintf("Zone %d", i), DefaultAnchor, r, 50)
		if err != nil {
			t.Fatalf("NewCircle(%v): %v", r, err)
		}
		if err := stack.InsertZoneAfter(i-1, shape); err != nil {
			t.Fatalf("InsertZoneAfter(%d): %v", i-1, err)
		}
	}
	if err := stack.Validate(); err != nil {
		t.Fatalf("fixture stack invalid: %v", err)
	}
	return stack
}

// CircleDocument is CircleStack in document form
func CircleDocument(t *testing.T, id string, radii ...float64) zones.Document {
	t.Helper()
	return CircleStack(t, id, radii...).Document()
}
