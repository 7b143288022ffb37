package collection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PGIndex persists image collections in PostgreSQL so services can
// skip re-adapting large catalogs on restart. The schema is one flat
// entries table, mirroring the in-memory layout.
type PGIndex struct {
	db *sql.DB
}

const pgSchema = `
create table if not exists image_entries (
	collection    text not null,
	image_id      text not null,
	band          text not null,
	url           text not null,
	min_x         double precision not null,
	min_y         double precision not null,
	max_x         double precision not null,
	max_y         double precision not null,
	footprint_wkt text not null,
	acquired      timestamptz not null,
	band_index    integer not null,
	raster_type   text not null,
	nodata        double precision not null,
	primary key (collection, image_id, band)
);
create index if not exists image_entries_time on image_entries (collection, acquired);
`

// OpenPGIndex connects and ensures the schema exists.
func OpenPGIndex(ctx context.Context, connStr string, poolSize int) (*PGIndex, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if poolSize > 0 {
		db.SetMaxOpenConns(poolSize)
		db.SetMaxIdleConns(poolSize)
	}

	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating collection index schema: %v", err)
	}
	return &PGIndex{db: db}, nil
}

func (idx *PGIndex) Close() error {
	return idx.db.Close()
}

// Save replaces the stored entries of the collection in one
// transaction.
func (idx *PGIndex) Save(ctx context.Context, ic *ImageCollection) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from image_entries where collection = $1`, ic.Name); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		insert into image_entries
		(collection, image_id, band, url, min_x, min_y, max_x, max_y, footprint_wkt, acquired, band_index, raster_type, nodata)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range ic.Entries {
		e := &ic.Entries[i]
		_, err = stmt.ExecContext(ctx, ic.Name, e.ImageID, e.Band, e.URL,
			e.BBox[0], e.BBox[1], e.BBox[2], e.BBox[3],
			e.FootprintWKT, e.Time, e.BandIndex, e.RasterType, e.NoData)
		if err != nil {
			return fmt.Errorf("error storing entry %s/%s: %v", e.ImageID, e.Band, err)
		}
	}

	return tx.Commit()
}

// Load reads a stored collection. A name with no rows yields an empty
// collection, consistent with the adapter's empty-result behaviour.
func (idx *PGIndex) Load(ctx context.Context, name string) (*ImageCollection, error) {
	rows, err := idx.db.QueryContext(ctx, `
		select image_id, band, url, min_x, min_y, max_x, max_y, footprint_wkt, acquired, band_index, raster_type, nodata
		from image_entries where collection = $1
		order by acquired, image_id, band_index`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ic := &ImageCollection{Name: name}
	seen := make(map[string]bool)
	for rows.Next() {
		var e Entry
		var acquired time.Time
		err = rows.Scan(&e.ImageID, &e.Band, &e.URL,
			&e.BBox[0], &e.BBox[1], &e.BBox[2], &e.BBox[3],
			&e.FootprintWKT, &acquired, &e.BandIndex, &e.RasterType, &e.NoData)
		if err != nil {
			return nil, err
		}
		e.Time = acquired.UTC()
		ic.Entries = append(ic.Entries, e)
		if !seen[e.Band] {
			seen[e.Band] = true
			ic.bands = append(ic.bands, e.Band)
		}
	}
	return ic, rows.Err()
}
