// Package infodb mirrors the information tables into an in-memory SQLite
// database for ad-hoc SQL.
package infodb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentic-research/platinfo/internal/iovirt"
	"github.com/agentic-research/platinfo/internal/peripheral"
	"github.com/agentic-research/platinfo/internal/sysinfo"
	"github.com/agentic-research/platinfo/internal/timer"
	"github.com/agentic-research/platinfo/internal/watchdog"
	log "github.com/golang/glog"
	_ "modernc.org/sqlite"
)

var ErrClosed = errors.New("information tables already released")

const schema = `
CREATE TABLE blocks (
	idx INTEGER PRIMARY KEY,
	type TEXT NOT NULL,
	flags INTEGER NOT NULL,
	base INTEGER,
	segment INTEGER,
	name TEXT,
	num_maps INTEGER NOT NULL
);

CREATE TABLE id_maps (
	block INTEGER NOT NULL REFERENCES blocks(idx),
	entry INTEGER NOT NULL,
	input_base INTEGER NOT NULL,
	id_count INTEGER NOT NULL,
	output_base INTEGER NOT NULL,
	output_ref INTEGER,
	PRIMARY KEY (block, entry)
) WITHOUT ROWID;

CREATE TABLE timer_frames (
	frame INTEGER PRIMARY KEY,
	cnt_ctl_base INTEGER NOT NULL,
	frame_num INTEGER NOT NULL,
	cnt_base INTEGER NOT NULL,
	gsiv INTEGER NOT NULL,
	virt_gsiv INTEGER NOT NULL,
	flags INTEGER NOT NULL
);

CREATE TABLE watchdogs (
	idx INTEGER PRIMARY KEY,
	control_base INTEGER NOT NULL,
	refresh_base INTEGER NOT NULL,
	gsiv INTEGER NOT NULL,
	flags INTEGER NOT NULL
);

CREATE TABLE peripherals (
	idx INTEGER PRIMARY KEY,
	type TEXT NOT NULL,
	base0 INTEGER NOT NULL,
	base1 INTEGER NOT NULL,
	gsiv INTEGER NOT NULL,
	bdf TEXT NOT NULL,
	width INTEGER NOT NULL,
	baud_rate INTEGER NOT NULL
);
`

// DB is a populated in-memory database. It is discarded on Close.
type DB struct {
	db *sql.DB
}

// Open creates the database and copies every table of info into it.
func Open(info *sysinfo.Info) (*DB, error) {
	if info.Closed() {
		return nil, ErrClosed
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	d := &DB{db: db}
	if err := d.load(info); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) load(info *sysinfo.Info) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := loadBlocks(tx, info.IOVirt); err != nil {
		return fmt.Errorf("load blocks: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO timer_frames (frame, cnt_ctl_base, frame_num, cnt_base, gsiv, virt_gsiv, flags) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	frame := 0
	var blocks []timer.GTBlock
	if info.Timer != nil {
		blocks = info.Timer.Blocks
	}
	for _, b := range blocks {
		for _, f := range b.Frames {
			if _, err := stmt.Exec(frame, int64(b.CntCtlBase), f.FrameNum, int64(f.CntBase), f.GSIV, f.VirtGSIV, f.Flags); err != nil {
				return fmt.Errorf("load timer frame %d: %w", frame, err)
			}
			frame++
		}
	}
	_ = stmt.Close()

	stmt, err = tx.Prepare(`INSERT INTO watchdogs (idx, control_base, refresh_base, gsiv, flags) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	var wds []watchdog.Entry
	if info.Watchdog != nil {
		wds = info.Watchdog.Entries
	}
	for i, e := range wds {
		if _, err := stmt.Exec(i, int64(e.ControlBase), int64(e.RefreshBase), e.GSIV, e.Flags); err != nil {
			return fmt.Errorf("load watchdog %d: %w", i, err)
		}
	}
	_ = stmt.Close()

	stmt, err = tx.Prepare(`INSERT INTO peripherals (idx, type, base0, base1, gsiv, bdf, width, baud_rate) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	var periphs []peripheral.Entry
	if info.Peripheral != nil {
		periphs = info.Peripheral.Entries
	}
	for i, e := range periphs {
		if _, err := stmt.Exec(i, e.Type.String(), int64(e.Base0), int64(e.Base1), e.GSIV,
			peripheral.FormatBDF(e.BDF), e.Width, e.BaudRate); err != nil {
			return fmt.Errorf("load peripheral %d: %w", i, err)
		}
	}
	_ = stmt.Close()

	return tx.Commit()
}

func loadBlocks(tx *sql.Tx, t *iovirt.Table) error {
	stmtBlock, err := tx.Prepare(`INSERT INTO blocks (idx, type, flags, base, segment, name, num_maps) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmtBlock.Close() }()
	stmtMap, err := tx.Prepare(`INSERT INTO id_maps (block, entry, input_base, id_count, output_base, output_ref) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmtMap.Close() }()

	for i := 0; i < t.NumBlocks(); i++ {
		b := t.Block(i)
		var base, segment *int64
		var name *string
		switch d := b.Data.(type) {
		case *iovirt.SMMU:
			v := int64(d.Base)
			base = &v
		case *iovirt.PMCG:
			v := int64(d.Base)
			base = &v
		case *iovirt.RootComplex:
			v := int64(d.Segment)
			segment = &v
		case *iovirt.NamedComponent:
			name = &d.Name
		}
		if _, err := stmtBlock.Exec(i, b.Type.String(), uint32(b.Flags), base, segment, name, len(b.Maps)); err != nil {
			return err
		}
		for k, m := range b.Maps {
			var ref *int
			if m.OutputRef != iovirt.NoRef {
				ref = &m.OutputRef
			}
			if _, err := stmtMap.Exec(i, k, m.InputBase, m.IDCount, m.OutputBase, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// Query runs a read statement and returns the column names and rows.
func (d *DB) Query(q string, args ...any) ([]string, [][]any, error) {
	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	log.V(2).Infof("infodb: %q returned %d rows", q, len(out))
	return cols, out, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
