package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PGStore keeps zone documents in Postgres: one row per layer plus
// child rows for placed entities and connections. It satisfies both
// Source and Saver.
type PGStore struct {
	db  *DB
	log *zap.Logger
}

func NewPGStore(db *DB, log *zap.Logger) *PGStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PGStore{db: db, log: log.Named("pg_store")}
}

// LoadLayer assembles one layer document from its three tables.
func (s *PGStore) LoadLayer(ctx context.Context, layer, zone string) (*LayerDoc, error) {
	ld := &LayerDoc{}
	var mapData string
	var metaRaw []byte
	err := s.db.Pool.QueryRow(ctx,
		`SELECT width, height, origin_x, origin_y, map_data, metadata
		 FROM zone_layers
		 WHERE zone_name = $1 AND layer_name = $2`, zone, layer,
	).Scan(&ld.Width, &ld.Height, &ld.OriginX, &ld.OriginY, &mapData, &metaRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		known, zerr := s.zoneExists(ctx, zone)
		if zerr != nil {
			return nil, zerr
		}
		if !known {
			return nil, fmt.Errorf("%w: %s", ErrZoneUnknown, zone)
		}
		return nil, fmt.Errorf("%w: %s/%s", ErrLayerUnknown, zone, layer)
	}
	if err != nil {
		return nil, fmt.Errorf("load layer %s/%s: %w", zone, layer, err)
	}
	if mapData != "" {
		ld.Map = strings.Split(mapData, "\n")
	}
	if err := json.Unmarshal(metaRaw, &ld.Metadata); err != nil {
		return nil, fmt.Errorf("decode layer metadata %s/%s: %w", zone, layer, err)
	}

	if ld.Entities, err = s.loadEntities(ctx, layer, zone); err != nil {
		return nil, fmt.Errorf("load layer entities %s/%s: %w", zone, layer, err)
	}
	if ld.Connections, err = s.loadConnections(ctx, layer, zone); err != nil {
		return nil, fmt.Errorf("load layer connections %s/%s: %w", zone, layer, err)
	}
	return ld, nil
}

func (s *PGStore) zoneExists(ctx context.Context, zone string) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM zone_layers WHERE zone_name = $1)`, zone,
	).Scan(&exists)
	return exists, err
}

func (s *PGStore) loadEntities(ctx context.Context, layer, zone string) ([]EntityDoc, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT entity_id, entity_type, x, y, is_active, properties
		 FROM layer_entities
		 WHERE zone_name = $1 AND layer_name = $2
		 ORDER BY entity_id`, zone, layer,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EntityDoc
	for rows.Next() {
		var e EntityDoc
		var active bool
		var propsRaw []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.X, &e.Y, &active, &propsRaw); err != nil {
			return nil, err
		}
		e.Active = &active
		if err := json.Unmarshal(propsRaw, &e.Properties); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *PGStore) loadConnections(ctx context.Context, layer, zone string) ([]ConnectionDoc, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT conn_type, source_layer, source_x, source_y, target_layer, target_x, target_y, properties
		 FROM layer_connections
		 WHERE zone_name = $1 AND source_layer = $2
		 ORDER BY source_x, source_y`, zone, layer,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ConnectionDoc
	for rows.Next() {
		var c ConnectionDoc
		var propsRaw []byte
		if err := rows.Scan(
			&c.Type, &c.SourceLayer, &c.SourceX, &c.SourceY,
			&c.TargetLayer, &c.TargetX, &c.TargetY, &propsRaw,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(propsRaw, &c.Properties); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// SaveLayer writes a layer document atomically: the layer row is
// upserted and its entity and connection rows replaced in one
// transaction.
func (s *PGStore) SaveLayer(ctx context.Context, layer, zone string, ld *LayerDoc) error {
	metaRaw, err := jsonbMap(ld.Metadata)
	if err != nil {
		return fmt.Errorf("encode layer metadata: %w", err)
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save layer begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO zone_layers (zone_name, layer_name, width, height, origin_x, origin_y, map_data, metadata, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (zone_name, layer_name) DO UPDATE SET
			width = EXCLUDED.width, height = EXCLUDED.height,
			origin_x = EXCLUDED.origin_x, origin_y = EXCLUDED.origin_y,
			map_data = EXCLUDED.map_data, metadata = EXCLUDED.metadata,
			updated_at = NOW()`,
		zone, layer, ld.Width, ld.Height, ld.OriginX, ld.OriginY,
		strings.Join(ld.Map, "\n"), metaRaw,
	); err != nil {
		return fmt.Errorf("save layer %s/%s: %w", zone, layer, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM layer_entities WHERE zone_name = $1 AND layer_name = $2`, zone, layer,
	); err != nil {
		return fmt.Errorf("clear layer entities: %w", err)
	}
	for _, e := range ld.Entities {
		props, err := jsonbMap(e.Properties)
		if err != nil {
			return fmt.Errorf("encode entity %s properties: %w", e.ID, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO layer_entities (zone_name, layer_name, entity_id, entity_type, x, y, is_active, properties)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			zone, layer, e.ID, e.Type, e.X, e.Y, e.IsActive(), props,
		); err != nil {
			return fmt.Errorf("save layer entity %s: %w", e.ID, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM layer_connections WHERE zone_name = $1 AND source_layer = $2`, zone, layer,
	); err != nil {
		return fmt.Errorf("clear layer connections: %w", err)
	}
	for _, c := range ld.Connections {
		props, err := jsonbMap(c.Properties)
		if err != nil {
			return fmt.Errorf("encode connection properties: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO layer_connections (zone_name, conn_type, source_layer, source_x, source_y, target_layer, target_x, target_y, properties)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			zone, c.Type, c.SourceLayer, c.SourceX, c.SourceY,
			c.TargetLayer, c.TargetX, c.TargetY, props,
		); err != nil {
			return fmt.Errorf("save layer connection (%d,%d): %w", c.SourceX, c.SourceY, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save layer commit: %w", err)
	}
	s.log.Debug("zone layer saved", zap.String("zone", zone), zap.String("layer", layer))
	return nil
}

// Zones lists every zone with at least one layer row.
func (s *PGStore) Zones(ctx context.Context) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT DISTINCT zone_name FROM zone_layers ORDER BY zone_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []string
	for rows.Next() {
		var z string
		if err := rows.Scan(&z); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// jsonbMap encodes a possibly-nil map for a jsonb column.
func jsonbMap(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}
