// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package sqldb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/dsx-connect/internal/dsx"
)

// resultRow contains a record from the `scan_results` table.
type resultRow struct {
	ID             int64         `db:"id"`
	ScanID         string        `db:"scan_id"`
	FileTag        string        `db:"file_tag"`
	Quarantined    bool          `db:"quarantined"`
	Status         string        `db:"status"`
	VerdictJSON    string        `db:"verdict_json"`
	FileReputation sql.NullInt64 `db:"file_reputation"`
}

func newResultRow(r dsx.ScanResult) (resultRow, error) {
	row := resultRow{
		ScanID:      r.ScanID,
		FileTag:     r.FileTag,
		Quarantined: r.Quarantined,
		Status:      string(r.Status),
	}
	if r.Verdict != nil {
		buf, err := json.Marshal(r.Verdict)
		if err != nil {
			return resultRow{}, err
		}
		row.VerdictJSON = string(buf)
	}
	if r.FileReputation != nil {
		row.FileReputation = sql.NullInt64{Int64: *r.FileReputation, Valid: true}
	}
	return row, nil
}

func (row resultRow) toScanResult() (dsx.ScanResult, error) {
	r := dsx.ScanResult{
		ID:          row.ID,
		ScanID:      row.ScanID,
		FileTag:     row.FileTag,
		Quarantined: row.Quarantined,
		Status:      dsx.ScanResultStatus(row.Status),
	}
	if row.VerdictJSON != "" {
		r.Verdict = &dsx.Verdict{}
		err := json.Unmarshal([]byte(row.VerdictJSON), r.Verdict)
		if err != nil {
			return dsx.ScanResult{}, fmt.Errorf("cannot decode verdict of scan result %d: %w", row.ID, err)
		}
	}
	if row.FileReputation.Valid {
		rep := row.FileReputation.Int64
		r.FileReputation = &rep
	}
	return r, nil
}

// Converts a normalized query value into a value of the column's type.
func columnArg(field dsx.ResultField, value string) (any, error) {
	switch field {
	case dsx.FieldID, dsx.FieldFileReputation:
		return strconv.ParseInt(value, 10, 64)
	case dsx.FieldQuarantined:
		return strconv.ParseBool(value)
	default:
		return value, nil
	}
}

// ResultStoreDriver (driver IDs "sqlite3" and "postgres") is a
// dsx.ResultStoreDriver backed by the `scan_results` table.
type ResultStoreDriver struct {
	db *DB
}

// NewResultStoreDriver wraps an open DB.
func NewResultStoreDriver(db *DB) *ResultStoreDriver {
	return &ResultStoreDriver{db: db}
}

// Insert implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Insert(result dsx.ScanResult) (int64, error) {
	row, err := newResultRow(result)
	if err != nil {
		return 0, err
	}
	err = d.db.Insert(&row)
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

// Delete implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Delete(field dsx.ResultField, value string) (bool, error) {
	arg, err := columnArg(field, value)
	if err != nil {
		return false, nil //nolint:nilerr // value cannot match anything
	}
	query := fmt.Sprintf(`DELETE FROM scan_results WHERE %s = %s`, field, d.db.bindVar(0))
	res, err := d.db.Exec(query, arg)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// DeleteOldest implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) DeleteOldest() error {
	_, err := d.db.Exec(`DELETE FROM scan_results WHERE id = (SELECT MIN(id) FROM scan_results)`)
	return err
}

// ReadAll implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) ReadAll() ([]dsx.ScanResult, error) {
	return d.selectResults(`SELECT * FROM scan_results ORDER BY id`)
}

// Find implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Find(field dsx.ResultField, value string) ([]dsx.ScanResult, error) {
	arg, err := columnArg(field, value)
	if err != nil {
		return nil, nil //nolint:nilerr // value cannot match anything
	}
	query := fmt.Sprintf(`SELECT * FROM scan_results WHERE %s = %s ORDER BY id`, field, d.db.bindVar(0))
	return d.selectResults(query, arg)
}

func (d *ResultStoreDriver) selectResults(query string, args ...any) ([]dsx.ScanResult, error) {
	var rows []resultRow
	_, err := d.db.Select(&rows, query, args...)
	if err != nil {
		return nil, err
	}
	results := make([]dsx.ScanResult, 0, len(rows))
	for _, row := range rows {
		r, err := row.toScanResult()
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Len implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Len() (int, error) {
	count := 0
	err := sqlext.ForeachRow(d.db.Db, `SELECT COUNT(*) FROM scan_results`, nil, func(rows *sql.Rows) error {
		return rows.Scan(&count)
	})
	return count, err
}

// Close implements the dsx.ResultStoreDriver interface.
func (d *ResultStoreDriver) Close() error {
	return d.db.Db.Close()
}
