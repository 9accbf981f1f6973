// Package compression encodes zone renders into a compact binary form for the
// editor WebSocket.
package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/paulmach/orb"

	"github.com/zonestack/server/internal/zones"
)

const (
	// Magic number for the render format
	RendersMagic = "ZSTK"
	// Current format version
	RendersVersion = 1
	// Gzip compression level (balance between size and speed)
	DefaultGzipLevel = 6
)

// Quantization is the coordinate precision in degrees (about 1cm at the equator).
const Quantization = 1e-7

const maxStringLen = math.MaxUint16

var errOutOfRange = errors.New("coordinate offset out of range")

// RendersHeader is the fixed-size binary header
type RendersHeader struct {
	Magic       [4]byte // "ZSTK"
	Version     uint8
	Flags       uint8 // reserved
	RenderCount uint16
	AnchorLon   int64 // quantized anchor; ring vertices are stored relative to it
	AnchorLat   int64
}

// renderMeta is the fixed-size part of each render record
type renderMeta struct {
	Opacity    float32
	Editable   uint8
	ZIndex     int32
	OuterCount uint32
	HoleCount  uint32
}

// CompressRenders encodes renders relative to anchor and gzips the result.
// It returns the compressed bytes and the encoded size before compression.
func CompressRenders(anchor orb.Point, renders []zones.Renderable) ([]byte, int, error) {
	if len(renders) > math.MaxUint16 {
		return nil, 0, fmt.Errorf("too many renders: %d", len(renders))
	}

	binaryData, err := encodeRenders(anchor, renders)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode renders: %w", err)
	}

	compressed, err := gzipCompress(binaryData, DefaultGzipLevel)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to compress with gzip: %w", err)
	}
	return compressed, len(binaryData), nil
}

// CompressAndFormat compresses renders and formats them for transmission
func CompressAndFormat(anchor orb.Point, renders []zones.Renderable) (*CompressedRenders, error) {
	compressed, size, err := CompressRenders(anchor, renders)
	if err != nil {
		return nil, err
	}
	return FormatCompressed(compressed, size), nil
}

// DecompressRenders reverses CompressRenders. Coordinates come back at
// Quantization precision.
func DecompressRenders(data []byte) (orb.Point, []zones.Renderable, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return orb.Point{}, nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return orb.Point{}, nil, fmt.Errorf("failed to read gzip stream: %w", err)
	}
	return decodeRenders(bytes.NewReader(raw))
}

func encodeRenders(anchor orb.Point, renders []zones.Renderable) ([]byte, error) {
	var buf bytes.Buffer

	header := RendersHeader{
		Version:     RendersVersion,
		RenderCount: uint16(len(renders)),
		AnchorLon:   int64(math.Round(anchor[0] / Quantization)),
		AnchorLat:   int64(math.Round(anchor[1] / Quantization)),
	}
	copy(header.Magic[:], RendersMagic)

	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range renders {
		if err := writeString(&buf, r.ZoneID); err != nil {
			return nil, err
		}
		if err := writeString(&buf, r.Color); err != nil {
			return nil, err
		}

		meta := renderMeta{
			Opacity:    float32(r.Opacity),
			ZIndex:     int32(r.ZIndex),
			OuterCount: uint32(len(r.Outer)),
			HoleCount:  uint32(len(r.Hole)),
		}
		if r.Editable {
			meta.Editable = 1
		}
		if err := binary.Write(&buf, binary.LittleEndian, meta); err != nil {
			return nil, fmt.Errorf("failed to write render %s: %w", r.ZoneID, err)
		}

		if err := writeRing(&buf, header, r.Outer); err != nil {
			return nil, fmt.Errorf("render %s outer ring: %w", r.ZoneID, err)
		}
		if err := writeRing(&buf, header, r.Hole); err != nil {
			return nil, fmt.Errorf("render %s hole: %w", r.ZoneID, err)
		}
	}

	return buf.Bytes(), nil
}

// Longitude offsets are taken the short way round, so a ring crossing the
// antimeridian decodes as a continuous ring past +/-180.
const (
	fullTurn = int64(360 / Quantization)
	halfTurn = fullTurn / 2
)

// writeRing stores each vertex as an int32 offset from the anchor.
func writeRing(w io.Writer, header RendersHeader, ring orb.Ring) error {
	for _, p := range ring {
		dx := unwrapOffset(int64(math.Round(p[0]/Quantization)) - header.AnchorLon)
		dy := int64(math.Round(p[1]/Quantization)) - header.AnchorLat
		if dx < math.MinInt32 || dx > math.MaxInt32 || dy < math.MinInt32 || dy > math.MaxInt32 {
			return fmt.Errorf("%w: %v", errOutOfRange, p)
		}
		if err := binary.Write(w, binary.LittleEndian, [2]int32{int32(dx), int32(dy)}); err != nil {
			return fmt.Errorf("failed to write vertex: %w", err)
		}
	}
	return nil
}

func unwrapOffset(dx int64) int64 {
	if dx >= -halfTurn && dx < halfTurn {
		return dx
	}
	return ((dx+halfTurn)%fullTurn+fullTurn)%fullTurn - halfTurn
}

func writeString(w io.Writer, s string) error {
	if len(s) > maxStringLen {
		return fmt.Errorf("string too long: %d bytes", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return fmt.Errorf("failed to write string length: %w", err)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("failed to write string: %w", err)
	}
	return nil
}

func decodeRenders(r *bytes.Reader) (orb.Point, []zones.Renderable, error) {
	var header RendersHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return orb.Point{}, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if string(header.Magic[:]) != RendersMagic {
		return orb.Point{}, nil, fmt.Errorf("bad magic %q", header.Magic[:])
	}
	if header.Version != RendersVersion {
		return orb.Point{}, nil, fmt.Errorf("unsupported version %d", header.Version)
	}

	anchor := orb.Point{float64(header.AnchorLon) * Quantization, float64(header.AnchorLat) * Quantization}
	renders := make([]zones.Renderable, 0, header.RenderCount)
	for i := 0; i < int(header.RenderCount); i++ {
		id, err := readString(r)
		if err != nil {
			return orb.Point{}, nil, fmt.Errorf("render %d: %w", i, err)
		}
		color, err := readString(r)
		if err != nil {
			return orb.Point{}, nil, fmt.Errorf("render %d: %w", i, err)
		}

		var meta renderMeta
		if err := binary.Read(r, binary.LittleEndian, &meta); err != nil {
			return orb.Point{}, nil, fmt.Errorf("render %d: failed to read metadata: %w", i, err)
		}

		outer, err := readRing(r, header, meta.OuterCount)
		if err != nil {
			return orb.Point{}, nil, fmt.Errorf("render %d outer ring: %w", i, err)
		}
		hole, err := readRing(r, header, meta.HoleCount)
		if err != nil {
			return orb.Point{}, nil, fmt.Errorf("render %d hole: %w", i, err)
		}

		renders = append(renders, zones.Renderable{
			ZoneID:   id,
			Outer:    outer,
			Hole:     hole,
			Color:    color,
			Opacity:  float64(meta.Opacity),
			Editable: meta.Editable == 1,
			ZIndex:   int(meta.ZIndex),
		})
	}
	return anchor, renders, nil
}

func readRing(r *bytes.Reader, header RendersHeader, count uint32) (orb.Ring, error) {
	if count == 0 {
		return nil, nil
	}
	// Each vertex takes 8 bytes.
	if int64(count)*8 > int64(r.Len()) {
		return nil, fmt.Errorf("vertex count %d exceeds payload", count)
	}
	ring := make(orb.Ring, count)
	for i := range ring {
		var v [2]int32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, fmt.Errorf("failed to read vertex: %w", err)
		}
		ring[i] = orb.Point{
			float64(header.AnchorLon+int64(v[0])) * Quantization,
			float64(header.AnchorLat+int64(v[1])) * Quantization,
		}
	}
	return ring, nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("failed to read string length: %w", err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to read string: %w", err)
	}
	return string(b), nil
}

// gzipCompress compresses data using gzip
func gzipCompress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write to gzip: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}
