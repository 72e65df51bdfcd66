package geo

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/contractor-match/internal/db"
)

const centroidTable = "geo.zip_centroids"

// PostgresDataset reads postal centroids from PostGIS.
type PostgresDataset struct {
	pool db.Pool
}

// NewPostgresDataset creates a PostGIS-backed dataset.
func NewPostgresDataset(pool db.Pool) *PostgresDataset {
	return &PostgresDataset{pool: pool}
}

// Lookup implements Dataset.
func (d *PostgresDataset) Lookup(ctx context.Context, postal string) (Point, error) {
	var p Point
	err := d.pool.QueryRow(ctx,
		`SELECT lat, lon FROM geo.zip_centroids WHERE postal_code = $1`,
		normalizePostal(postal),
	).Scan(&p.Lat, &p.Lon)
	if errors.Is(err, pgx.ErrNoRows) {
		return Point{}, ErrNotFound
	}
	if err != nil {
		return Point{}, eris.Wrap(err, "geo: lookup centroid")
	}
	return p, nil
}

// All implements Dataset.
func (d *PostgresDataset) All(ctx context.Context) (map[string]Point, error) {
	rows, err := d.pool.Query(ctx, `SELECT postal_code, lat, lon FROM geo.zip_centroids`)
	if err != nil {
		return nil, eris.Wrap(err, "geo: query centroids")
	}
	defer rows.Close()

	out := make(map[string]Point)
	for rows.Next() {
		var postal string
		var p Point
		if err := rows.Scan(&postal, &p.Lat, &p.Lon); err != nil {
			return nil, eris.Wrap(err, "geo: scan centroid")
		}
		out[postal] = p
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geo: iterate centroids")
	}
	return out, nil
}

// WithinRadius implements RadiusQuerier using ST_DWithin on geography.
func (d *PostgresDataset) WithinRadius(ctx context.Context, center Point, radiusKM float64) ([]string, error) {
	wkb, err := encodePoint(center)
	if err != nil {
		return nil, err
	}

	rows, err := d.pool.Query(ctx, `
		SELECT postal_code
		FROM geo.zip_centroids
		WHERE ST_DWithin(geom::geography, ST_GeomFromEWKB($1)::geography, $2)
		ORDER BY ST_Distance(geom::geography, ST_GeomFromEWKB($1)::geography), postal_code`,
		wkb, radiusKM*1000,
	)
	if err != nil {
		return nil, eris.Wrap(err, "geo: query within radius")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var postal string
		if err := rows.Scan(&postal); err != nil {
			return nil, eris.Wrap(err, "geo: scan radius row")
		}
		out = append(out, postal)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geo: iterate radius rows")
	}
	return out, nil
}

// encodePoint converts a Point to EWKB with SRID 4326.
func encodePoint(p Point) ([]byte, error) {
	g := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(4326)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode point")
	}
	return data, nil
}

// Migrate creates the centroid table and its spatial index.
func Migrate(ctx context.Context, pool db.Pool) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE SCHEMA IF NOT EXISTS geo`,
		`CREATE TABLE IF NOT EXISTS geo.zip_centroids (
			postal_code TEXT PRIMARY KEY,
			lat DOUBLE PRECISION NOT NULL,
			lon DOUBLE PRECISION NOT NULL,
			geom geometry(Point, 4326)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zip_centroids_geom ON geo.zip_centroids USING gist (geom)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return eris.Wrap(err, "geo: migrate")
		}
	}
	return nil
}

// Import replaces the centroid table contents with the dataset's points.
func Import(ctx context.Context, pool db.Pool, ds Dataset) (int64, error) {
	points, err := ds.All(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "geo: read dataset")
	}

	postals := make([]string, 0, len(points))
	for k := range points {
		postals = append(postals, k)
	}
	sort.Strings(postals)

	rows := make([][]any, 0, len(postals))
	for _, k := range postals {
		p := points[k]
		rows = append(rows, []any{k, p.Lat, p.Lon})
	}

	if _, err := pool.Exec(ctx, `TRUNCATE geo.zip_centroids`); err != nil {
		return 0, eris.Wrap(err, "geo: truncate centroids")
	}
	n, err := db.CopyFrom(ctx, pool, centroidTable, []string{"postal_code", "lat", "lon"}, rows)
	if err != nil {
		return 0, err
	}
	if _, err := pool.Exec(ctx,
		`UPDATE geo.zip_centroids SET geom = ST_SetSRID(ST_MakePoint(lon, lat), 4326) WHERE geom IS NULL`,
	); err != nil {
		return n, eris.Wrap(err, "geo: set centroid geometry")
	}

	zap.L().Info("geo: centroids imported", zap.Int64("rows", n))
	return n, nil
}
