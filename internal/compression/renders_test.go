package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/zonestack/server/internal/zones"
)

func testRenders(t *testing.T) (orb.Point, []zones.Renderable) {
	t.Helper()
	anchor := orb.Point{13.404954, 52.520008}
	stack := zones.NewStack("s1", "Berlin", anchor)

	inner, err := zones.NewCircle("inner", "Inner", anchor, 100, 50)
	if err != nil {
		t.Fatalf("NewCircle: %v", err)
	}
	if err := stack.InsertZoneAfter(-1, inner); err != nil {
		t.Fatalf("InsertZoneAfter: %v", err)
	}
	outer, err := zones.NewCircle("outer", "Outer", anchor, 250, 50)
	if err != nil {
		t.Fatalf("NewCircle: %v", err)
	}
	if err := stack.InsertZoneAfter(0, outer); err != nil {
		t.Fatalf("InsertZoneAfter: %v", err)
	}
	outer.SetEditable(false)
	return anchor, stack.Render()
}

func TestCompressRenders_RoundTrip(t *testing.T) {
	anchor, renders := testRenders(t)

	compressed, size, err := CompressRenders(anchor, renders)
	if err != nil {
		t.Fatalf("CompressRenders failed: %v", err)
	}
	if len(compressed) == 0 || size == 0 {
		t.Fatal("Compressed data is empty")
	}
	if len(compressed) >= size {
		t.Logf("Compressed size %d not smaller than encoded size %d", len(compressed), size)
	}

	gotAnchor, got, err := DecompressRenders(compressed)
	if err != nil {
		t.Fatalf("DecompressRenders failed: %v", err)
	}
	if math.Abs(gotAnchor[0]-anchor[0]) > Quantization || math.Abs(gotAnchor[1]-anchor[1]) > Quantization {
		t.Errorf("Anchor drifted: %v vs %v", gotAnchor, anchor)
	}
	if len(got) != len(renders) {
		t.Fatalf("Expected %d renders, got %d", len(renders), len(got))
	}

	for i, want := range renders {
		r := got[i]
		if r.ZoneID != want.ZoneID || r.Color != want.Color || r.Editable != want.Editable || r.ZIndex != want.ZIndex {
			t.Errorf("render %d metadata differs: %+v vs %+v", i, r, want)
		}
		if math.Abs(r.Opacity-want.Opacity) > 1e-6 {
			t.Errorf("render %d opacity %f, want %f", i, r.Opacity, want.Opacity)
		}
		if len(r.Outer) != len(want.Outer) || len(r.Hole) != len(want.Hole) {
			t.Fatalf("render %d ring sizes differ", i)
		}
		for j := range want.Outer {
			if math.Abs(r.Outer[j][0]-want.Outer[j][0]) > Quantization || math.Abs(r.Outer[j][1]-want.Outer[j][1]) > Quantization {
				t.Fatalf("render %d vertex %d: %v vs %v", i, j, r.Outer[j], want.Outer[j])
			}
		}
	}
	if got[0].Hole != nil {
		t.Error("Innermost render should have no hole")
	}
}

func TestCompressRenders_Header(t *testing.T) {
	anchor, renders := testRenders(t)
	compressed, _, err := CompressRenders(anchor, renders)
	if err != nil {
		t.Fatalf("CompressRenders failed: %v", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	var header RendersHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &header); err != nil {
		t.Fatalf("binary.Read: %v", err)
	}
	if string(header.Magic[:]) != RendersMagic {
		t.Errorf("Expected magic %s, got %q", RendersMagic, header.Magic[:])
	}
	if header.Version != RendersVersion || header.RenderCount != 2 {
		t.Errorf("Unexpected header: %+v", header)
	}
}

func TestCompressRenders_Empty(t *testing.T) {
	compressed, _, err := CompressRenders(orb.Point{0, 0}, nil)
	if err != nil {
		t.Fatalf("CompressRenders failed: %v", err)
	}
	_, got, err := DecompressRenders(compressed)
	if err != nil {
		t.Fatalf("DecompressRenders failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no renders, got %d", len(got))
	}
}

func TestCompressRenders_OffsetOutOfRange(t *testing.T) {
	renders := []zones.Renderable{{
		ZoneID: "far",
		Outer:  orb.Ring{{0, 0}, {1, 0}, {0, 500}, {0, 0}},
	}}
	_, _, err := CompressRenders(orb.Point{0, 0}, renders)
	if !errors.Is(err, errOutOfRange) {
		t.Fatalf("Expected out of range error, got %v", err)
	}
}

func TestCompressRenders_Antimeridian(t *testing.T) {
	anchor := orb.Point{-179.5, 10}
	renders := []zones.Renderable{{
		ZoneID: "dateline",
		Outer:  orb.Ring{{-179, 10}, {179, 10}, {179, 11}, {-179, 11}, {-179, 10}},
	}}
	compressed, _, err := CompressRenders(anchor, renders)
	if err != nil {
		t.Fatalf("CompressRenders failed: %v", err)
	}
	_, got, err := DecompressRenders(compressed)
	if err != nil {
		t.Fatalf("DecompressRenders failed: %v", err)
	}

	want := []float64{-179, -181, -181, -179, -179}
	for i, p := range got[0].Outer {
		if math.Abs(p[0]-want[i]) > 2*Quantization {
			t.Errorf("vertex %d lon = %v, want %v", i, p[0], want[i])
		}
	}
}

func TestDecompressRenders_Invalid(t *testing.T) {
	if _, _, err := DecompressRenders([]byte("not gzip")); err == nil {
		t.Error("Expected error for non-gzip data")
	}

	bogus, err := gzipCompress([]byte("XXXX\x01\x00\x00\x00"), DefaultGzipLevel)
	if err != nil {
		t.Fatalf("gzipCompress: %v", err)
	}
	if _, _, err := DecompressRenders(bogus); err == nil {
		t.Error("Expected error for bad magic")
	}
}

func TestFormatCompressed(t *testing.T) {
	compressedData := []byte{1, 2, 3, 4, 5}

	formatted := FormatCompressed(compressedData, 100)
	if formatted.Format != FormatBinaryGzip {
		t.Errorf("Expected format 'binary_gzip', got '%s'", formatted.Format)
	}
	if formatted.Size != len(compressedData) {
		t.Errorf("Expected size %d, got %d", len(compressedData), formatted.Size)
	}
	if formatted.UncompressedSize != 100 {
		t.Errorf("Expected uncompressed size 100, got %d", formatted.UncompressedSize)
	}

	decoded, err := formatted.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if !bytes.Equal(decoded, compressedData) {
		t.Errorf("Expected %v, got %v", compressedData, decoded)
	}

	formatted.Format = "json"
	if _, err := formatted.Bytes(); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestCompressAndFormat(t *testing.T) {
	anchor, renders := testRenders(t)
	formatted, err := CompressAndFormat(anchor, renders)
	if err != nil {
		t.Fatalf("CompressAndFormat failed: %v", err)
	}
	data, err := formatted.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if _, got, err := DecompressRenders(data); err != nil || len(got) != 2 {
		t.Fatalf("Expected 2 renders after decode, got %d (%v)", len(got), err)
	}
}
