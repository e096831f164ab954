// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package sqldb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sapcc/go-bits/sqlext"
	gorp "gopkg.in/gorp.v2"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// statsRow contains a record from the `scan_stats` table.
type statsRow struct {
	Seq       int64  `db:"seq"`
	ScanID    string `db:"scan_id"`
	StatsJSON string `db:"stats_json"`
}

func (row statsRow) decode() (dsx.ScanStats, error) {
	var stats dsx.ScanStats
	err := json.Unmarshal([]byte(row.StatsJSON), &stats)
	if err != nil {
		return dsx.ScanStats{}, fmt.Errorf("cannot decode stats for %q: %w", row.ScanID, err)
	}
	return stats, nil
}

// StatsStoreDriver (driver IDs "sqlite3" and "postgres") is a
// dsx.StatsStoreDriver backed by the `scan_stats` table.
type StatsStoreDriver struct {
	db *DB
}

// NewStatsStoreDriver wraps an open DB.
func NewStatsStoreDriver(db *DB) *StatsStoreDriver {
	return &StatsStoreDriver{db: db}
}

func (d *StatsStoreDriver) findRow(dbi gorp.SqlExecutor, scanID string) (*statsRow, error) {
	var row statsRow
	err := dbi.SelectOne(&row, `SELECT * FROM scan_stats WHERE scan_id = `+d.db.bindVar(0), scanID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Get implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Get(scanID string) (*dsx.ScanStats, error) {
	row, err := d.findRow(&d.db.DbMap, scanID)
	if row == nil || err != nil {
		return nil, err
	}
	stats, err := row.decode()
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Upsert implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Upsert(scanID string, stats dsx.ScanStats) (inserted bool, err error) {
	buf, err := json.Marshal(stats)
	if err != nil {
		return false, err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return false, err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	row, err := d.findRow(tx, scanID)
	if err != nil {
		return false, err
	}
	if row == nil {
		inserted = true
		row = &statsRow{ScanID: scanID, StatsJSON: string(buf)}
		err = tx.Insert(row)
	} else {
		row.StatsJSON = string(buf)
		_, err = tx.Update(row)
	}
	if err != nil {
		return false, err
	}
	return inserted, tx.Commit()
}

// Delete implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Delete(scanID string) (bool, error) {
	res, err := d.db.Exec(`DELETE FROM scan_stats WHERE scan_id = `+d.db.bindVar(0), scanID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// DeleteOldest implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) DeleteOldest() error {
	query := fmt.Sprintf(
		`DELETE FROM scan_stats WHERE seq = (SELECT MIN(seq) FROM scan_stats WHERE scan_id <> %s)`,
		d.db.bindVar(0),
	)
	_, err := d.db.Exec(query, dsx.GlobalStatsID)
	return err
}

// ReadAll implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) ReadAll() ([]dsx.ScanStatsRecord, error) {
	var rows []statsRow
	_, err := d.db.Select(&rows, `SELECT * FROM scan_stats ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	records := make([]dsx.ScanStatsRecord, 0, len(rows))
	for _, row := range rows {
		stats, err := row.decode()
		if err != nil {
			return nil, err
		}
		records = append(records, dsx.ScanStatsRecord{ScanID: row.ScanID, Stats: stats})
	}
	return records, nil
}

// Len implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Len() (int, error) {
	count := 0
	err := sqlext.ForeachRow(d.db.Db, `SELECT COUNT(*) FROM scan_stats`, nil, func(rows *sql.Rows) error {
		return rows.Scan(&count)
	})
	return count, err
}

// Close implements the dsx.StatsStoreDriver interface.
func (d *StatsStoreDriver) Close() error {
	return d.db.Db.Close()
}
