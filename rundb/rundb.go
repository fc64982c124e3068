// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rundb records acquisition runs in the run-book database.
//
// The runs table is expected to hold the following columns:
//
//	run      INT UNSIGNED PRIMARY KEY
//	start    DATETIME
//	stop     DATETIME
//	addr     VARCHAR
//	samples  INT UNSIGNED
//	channels INT UNSIGNED
//	policy   VARCHAR
//	output   VARCHAR
//	nrows    BIGINT
//	status   VARCHAR
package rundb // import "github.com/plegaspi/ad4134-fmcz/rundb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

var (
	drvName = "mysql"
	timeout = 5 * time.Second
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// RunInfo describes an acquisition run when it starts.
type RunInfo struct {
	Run      uint32
	Start    time.Time
	Addr     string // board address
	Samples  uint32
	Channels uint32
	Policy   string
	Output   string // store file
}

// DB exposes convenience methods to record acquisition runs.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the run-book database described by the
// MySQL data source name dsn.
func Open(dsn string) (*DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("rundb: could not parse DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Timeout == 0 {
		cfg.Timeout = timeout
	}

	db, err := sql.Open(drvName, cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("rundb: could not open %q db: %w", cfg.DBName, err)
	}

	err = ping(db, cfg.DBName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: cfg.DBName}, nil
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("rundb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// LastRun returns the highest run number recorded in the run-book,
// or 0 if the run-book is empty.
func (db *DB) LastRun(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var run uint32
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT run FROM runs ORDER BY run DESC LIMIT 1",
	)
	if err != nil {
		return run, fmt.Errorf("rundb: could not query last run: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&run)
		if err != nil {
			return run, fmt.Errorf("rundb: could not get last run value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return run, fmt.Errorf("rundb: could not scan db for last run: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("rundb: context error while retrieving last run: %w", err)
	}

	return run, nil
}

// BeginRun records the start of a run.
func (db *DB) BeginRun(ctx context.Context, info RunInfo) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO runs (run, start, addr, samples, channels, policy, output, status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		int64(info.Run), info.Start.UTC(), info.Addr,
		int64(info.Samples), int64(info.Channels),
		info.Policy, info.Output, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("rundb: could not record start of run %d: %w", info.Run, err)
	}

	return nil
}

// EndRun records the end of a run, with the number of stored rows.
func (db *DB) EndRun(ctx context.Context, run uint32, rows int64, status string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"UPDATE runs SET stop=?, nrows=?, status=? WHERE run=?",
		time.Now().UTC(), rows, status, int64(run),
	)
	if err != nil {
		return fmt.Errorf("rundb: could not record end of run %d: %w", run, err)
	}

	return nil
}
