package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/zonestack/server/internal/zones"
)

var (
	ErrStackNotFound = errors.New("stack not found")
	ErrStackExists   = errors.New("stack already exists")
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// StackRecord is a stored stack with its ownership metadata.
type StackRecord struct {
	Document  zones.Document `json:"document"`
	OwnerID   *int64         `json:"owner_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StackSummary describes a stack without its zone geometry.
type StackSummary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Anchor         orb.Point `json:"anchor"`
	OwnerID        *int64    `json:"owner_id,omitempty"`
	ZoneCount      int       `json:"zone_count"`
	DistanceMeters float64   `json:"distance_meters,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StackStorage persists stacks in PostgreSQL/PostGIS.
type StackStorage struct {
	db *sql.DB
}

func NewStackStorage(db *sql.DB) *StackStorage {
	return &StackStorage{db: db}
}

// CreateStack inserts a new stack. It fails with ErrStackExists when the ID is taken.
func (s *StackStorage) CreateStack(ctx context.Context, ownerID *int64, doc zones.Document) error {
	return s.write(ctx, ownerID, doc, true)
}

// SaveStack inserts or replaces a stack and all of its zones in one transaction.
// The owner of an existing stack is left unchanged.
func (s *StackStorage) SaveStack(ctx context.Context, ownerID *int64, doc zones.Document) error {
	return s.write(ctx, ownerID, doc, false)
}

func (s *StackStorage) write(ctx context.Context, ownerID *int64, doc zones.Document, create bool) (err error) {
	if doc.ID == "" {
		return fmt.Errorf("stack id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				log.Printf("[StackStorage] Failed to rollback save of %s: %v", doc.ID, rollbackErr)
			}
		}
	}()

	var owner sql.NullInt64
	if ownerID != nil {
		owner = sql.NullInt64{Int64: *ownerID, Valid: true}
	}

	query := `
		INSERT INTO zone_stacks (id, name, owner_id, anchor)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326))
	`
	if !create {
		query += `
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			anchor = EXCLUDED.anchor,
			updated_at = CURRENT_TIMESTAMP
		`
	}
	if _, err = tx.ExecContext(ctx, query, doc.ID, doc.Name, owner, doc.Anchor[0], doc.Anchor[1]); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrStackExists, doc.ID)
		}
		return fmt.Errorf("failed to write stack %s: %w", doc.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM stack_zones WHERE stack_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear zones of stack %s: %w", doc.ID, err)
	}

	for i, z := range doc.Zones {
		ring, encodeErr := encodeRing(z.Ring)
		if encodeErr != nil {
			return fmt.Errorf("zone %s: %w", z.ID, encodeErr)
		}
		var centerLon, centerLat sql.NullFloat64
		if z.Center != nil {
			centerLon = sql.NullFloat64{Float64: z.Center[0], Valid: true}
			centerLat = sql.NullFloat64{Float64: z.Center[1], Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stack_zones (
				stack_id, zone_id, position, name, is_circle, center, radius,
				ring, color, opacity, editable, z_index
			)
			VALUES (
				$1, $2, $3, $4, $5,
				CASE WHEN $6::DOUBLE PRECISION IS NULL THEN NULL
				     ELSE ST_SetSRID(ST_MakePoint($6, $7), 4326) END,
				$8, ST_SetSRID(ST_GeomFromGeoJSON($9), 4326), $10, $11, $12, $13
			)
		`, doc.ID, z.ID, i, z.Name, z.IsCircle, centerLon, centerLat, z.Radius,
			ring, z.Color, z.Opacity, z.Editable, z.ZIndex)
		if err != nil {
			return fmt.Errorf("failed to write zone %s of stack %s: %w", z.ID, doc.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stack %s: %w", doc.ID, err)
	}
	return nil
}

// LoadStack reads a stack and its zones, innermost first.
func (s *StackStorage) LoadStack(ctx context.Context, id string) (*StackRecord, error) {
	var (
		rec   StackRecord
		owner sql.NullInt64
		lon   float64
		lat   float64
	)
	rec.Document.ID = id

	err := s.db.QueryRowContext(ctx, `
		SELECT name, owner_id, ST_X(anchor), ST_Y(anchor), created_at, updated_at
		FROM zone_stacks
		WHERE id = $1
	`, id).Scan(&rec.Document.Name, &owner, &lon, &lat, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStackNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stack %s: %w", id, err)
	}
	rec.Document.Anchor = orb.Point{lon, lat}
	if owner.Valid {
		value := owner.Int64
		rec.OwnerID = &value
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT zone_id, name, is_circle, ST_X(center), ST_Y(center), radius,
		       ST_AsGeoJSON(ring), color, opacity, editable, z_index
		FROM stack_zones
		WHERE stack_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones of stack %s: %w", id, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("Failed to close rows in LoadStack: %v", closeErr)
		}
	}()

	for rows.Next() {
		z, err := scanZoneDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("stack %s: %w", id, err)
		}
		rec.Document.Zones = append(rec.Document.Zones, *z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate zones: %w", err)
	}
	return &rec, nil
}

// DeleteStack removes a stack and its zones.
func (s *StackStorage) DeleteStack(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM zone_stacks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stack: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrStackNotFound, id)
	}
	return nil
}

// DeleteStacks removes every listed stack and reports how many existed.
func (s *StackStorage) DeleteStacks(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM zone_stacks WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stacks: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check delete rows: %w", err)
	}
	return rows, nil
}

// ListStacksByOwner lists an editor's stacks, most recently updated first.
func (s *StackStorage) ListStacksByOwner(ctx context.Context, ownerID int64) ([]StackSummary, error) {
	if ownerID <= 0 {
		return nil, fmt.Errorf("invalid owner id: %d", ownerID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.name, ST_X(s.anchor), ST_Y(s.anchor), s.owner_id,
		       (SELECT COUNT(*) FROM stack_zones z WHERE z.stack_id = s.id),
		       0::DOUBLE PRECISION, s.updated_at
		FROM zone_stacks s
		WHERE s.owner_id = $1
		ORDER BY s.updated_at DESC, s.id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stacks by owner: %w", err)
	}
	return collectSummaries(rows, "ListStacksByOwner")
}

// ListStacksNear lists stacks whose anchor lies within meters of point,
// nearest first.
func (s *StackStorage) ListStacksNear(ctx context.Context, point orb.Point, meters float64) ([]StackSummary, error) {
	if meters <= 0 {
		return nil, fmt.Errorf("radius must be positive, got %v", meters)
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH origin AS (
			SELECT ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography AS geog
		)
		SELECT s.id, s.name, ST_X(s.anchor), ST_Y(s.anchor), s.owner_id,
		       (SELECT COUNT(*) FROM stack_zones z WHERE z.stack_id = s.id),
		       ST_Distance(s.anchor::geography, origin.geog), s.updated_at
		FROM zone_stacks s, origin
		WHERE ST_DWithin(s.anchor::geography, origin.geog, $3)
		ORDER BY 7, s.id
	`, point[0], point[1], meters)
	if err != nil {
		return nil, fmt.Errorf("failed to query stacks near %v: %w", point, err)
	}
	return collectSummaries(rows, "ListStacksNear")
}

func collectSummaries(rows *sql.Rows, caller string) ([]StackSummary, error) {
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("Failed to close rows in %s: %v", caller, closeErr)
		}
	}()

	summaries := []StackSummary{}
	for rows.Next() {
		var (
			sum      StackSummary
			owner    sql.NullInt64
			lon, lat float64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &lon, &lat, &owner, &sum.ZoneCount, &sum.DistanceMeters, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stack: %w", err)
		}
		sum.Anchor = orb.Point{lon, lat}
		if owner.Valid {
			value := owner.Int64
			sum.OwnerID = &value
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stacks: %w", err)
	}
	return summaries, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanZoneDocument(scanner rowScanner) (*zones.ZoneDocument, error) {
	var (
		z                    zones.ZoneDocument
		centerLon, centerLat sql.NullFloat64
		ring                 string
	)
	err := scanner.Scan(
		&z.ID,
		&z.Name,
		&z.IsCircle,
		&centerLon,
		&centerLat,
		&z.Radius,
		&ring,
		&z.Color,
		&z.Opacity,
		&z.Editable,
		&z.ZIndex,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan zone: %w", err)
	}
	if centerLon.Valid && centerLat.Valid {
		z.Center = &orb.Point{centerLon.Float64, centerLat.Float64}
	}
	if z.Ring, err = decodeRing(ring); err != nil {
		return nil, fmt.Errorf("zone %s: %w", z.ID, err)
	}
	return &z, nil
}

// encodeRing renders a ring as a GeoJSON polygon for ST_GeomFromGeoJSON.
func encodeRing(ring orb.Ring) (string, error) {
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring.Clone(), ring[0])
	}
	data, err := json.Marshal(geojson.NewGeometry(orb.Polygon{ring}))
	if err != nil {
		return "", fmt.Errorf("failed to encode ring: %w", err)
	}
	return string(data), nil
}

// decodeRing reads the outer ring of a GeoJSON polygon from ST_AsGeoJSON.
func decodeRing(raw string) (orb.Ring, error) {
	g, err := geojson.UnmarshalGeometry([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ring: %w", err)
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok || len(poly) == 0 {
		return nil, fmt.Errorf("expected polygon geometry, got %s", g.Type)
	}
	return poly[0], nil
}
