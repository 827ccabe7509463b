package container

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

const (
	flagSnappy    = 1 << 0
	flagEncrypted = 1 << 1
)

// Dataset is a fixed-stride record array stored in chunks within a group.
type Dataset struct {
	f         *File
	group     *Group
	id        int64
	name      string
	stride    int
	chunkSize int
	fields    []FieldInfo
}

// CreateTable creates a new record dataset in the group. The stride is the
// record size in bytes; fields describe the per-field layout inside the
// stride. chunkSize records are stored per chunk (DefaultChunkSize if <= 0).
func (g *Group) CreateTable(name string, stride int, fields []FieldInfo, chunkSize int) (*Dataset, error) {
	if stride <= 0 {
		return nil, g.f.fail("create table "+name, errors.New("stride must be positive"))
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	tx, err := g.f.db.Begin()
	if err != nil {
		return nil, g.f.fail("create table "+name, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO datasets (group_id, name, stride, chunk_size) VALUES (?, ?, ?, ?)`,
		g.id, name, stride, chunkSize)
	if err != nil {
		return nil, g.f.fail("create table "+name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, g.f.fail("create table "+name, err)
	}
	for i, fi := range fields {
		if fi.Offset < 0 || fi.Offset+fi.Size > stride {
			return nil, g.f.fail("create table "+name,
				fmt.Errorf("field %q does not fit in stride %d", fi.Name, stride))
		}
		_, err = tx.Exec(`INSERT INTO dataset_fields (dataset_id, idx, name, class, size, offset) VALUES (?, ?, ?, ?, ?, ?)`,
			id, i, fi.Name, fi.Class, fi.Size, fi.Offset)
		if err != nil {
			return nil, g.f.fail("create table "+name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, g.f.fail("create table "+name, err)
	}

	ds := &Dataset{f: g.f, group: g, id: id, name: name, stride: stride, chunkSize: chunkSize}
	ds.fields = append(ds.fields, fields...)
	return ds, nil
}

// OpenDataset opens an existing record dataset by name.
func (g *Group) OpenDataset(name string) (*Dataset, error) {
	ds := &Dataset{f: g.f, group: g, name: name}
	err := g.f.db.QueryRow(`SELECT id, stride, chunk_size FROM datasets WHERE group_id = ? AND name = ?`,
		g.id, name).Scan(&ds.id, &ds.stride, &ds.chunkSize)
	if err == sql.ErrNoRows {
		return nil, g.f.fail("open dataset "+name, ErrNotFound)
	}
	if err != nil {
		return nil, g.f.fail("open dataset "+name, err)
	}

	rows, err := g.f.db.Query(`SELECT name, class, size, offset FROM dataset_fields WHERE dataset_id = ? ORDER BY idx`, ds.id)
	if err != nil {
		return nil, g.f.fail("open dataset "+name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var fi FieldInfo
		if err := rows.Scan(&fi.Name, &fi.Class, &fi.Size, &fi.Offset); err != nil {
			return nil, g.f.fail("open dataset "+name, err)
		}
		ds.fields = append(ds.fields, fi)
	}
	if err := rows.Err(); err != nil {
		return nil, g.f.fail("open dataset "+name, err)
	}
	return ds, nil
}

// DatasetExists reports whether a dataset of that name exists in the group.
// The probe runs with error logging suppressed.
func (g *Group) DatasetExists(name string) bool {
	quiet := g.f.quiet
	g.f.SetQuiet(true)
	_, err := g.OpenDataset(name)
	g.f.SetQuiet(quiet)
	return err == nil
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// Stride returns the record size in bytes.
func (d *Dataset) Stride() int { return d.stride }

// Fields returns the per-field layout recorded for the dataset.
func (d *Dataset) Fields() []FieldInfo { return d.fields }

// NumRecords returns the current record count.
func (d *Dataset) NumRecords() (uint64, error) {
	var n uint64
	err := d.f.db.QueryRow(`SELECT nrecords FROM datasets WHERE id = ?`, d.id).Scan(&n)
	if err != nil {
		return 0, d.f.fail("count records "+d.name, err)
	}
	return n, nil
}

func (d *Dataset) encodeChunk(raw []byte) ([]byte, int, error) {
	payload := snappy.Encode(nil, raw)
	flags := flagSnappy
	if d.f.enc != nil {
		sealed, err := d.f.enc.Seal(payload)
		if err != nil {
			return nil, 0, err
		}
		payload = sealed
		flags |= flagEncrypted
	}
	return payload, flags, nil
}

func (d *Dataset) decodeChunk(payload []byte, flags int) ([]byte, error) {
	if flags&flagEncrypted != 0 {
		if d.f.enc == nil {
			return nil, errors.New("chunk is encrypted but no passphrase was configured")
		}
		opened, err := d.f.enc.Open(payload)
		if err != nil {
			return nil, err
		}
		payload = opened
	}
	if flags&flagSnappy != 0 {
		return snappy.Decode(nil, payload)
	}
	return payload, nil
}

// Append appends n records from buf to the dataset. buf must hold at least
// n*stride bytes.
func (d *Dataset) Append(n int, buf []byte) error {
	if n == 0 {
		return nil
	}
	if len(buf) < n*d.stride {
		return d.f.fail("append "+d.name, errors.New("buffer shorter than record count"))
	}

	tx, err := d.f.db.Begin()
	if err != nil {
		return d.f.fail("append "+d.name, err)
	}
	defer tx.Rollback()

	var total uint64
	if err := tx.QueryRow(`SELECT nrecords FROM datasets WHERE id = ?`, d.id).Scan(&total); err != nil {
		return d.f.fail("append "+d.name, err)
	}

	src := buf[:n*d.stride]

	// Fill the trailing partial chunk first, then write whole new chunks.
	if rem := int(total % uint64(d.chunkSize)); rem > 0 {
		seq := int64(total / uint64(d.chunkSize))
		raw, err := d.readChunkTx(tx, seq)
		if err != nil {
			return d.f.fail("append "+d.name, err)
		}
		take := d.chunkSize - rem
		if take > n {
			take = n
		}
		raw = append(raw, src[:take*d.stride]...)
		if err := d.writeChunkTx(tx, seq, rem+take, raw, true); err != nil {
			return d.f.fail("append "+d.name, err)
		}
		src = src[take*d.stride:]
		total += uint64(take)
		n -= take
	}

	for n > 0 {
		take := d.chunkSize
		if take > n {
			take = n
		}
		seq := int64(total / uint64(d.chunkSize))
		if err := d.writeChunkTx(tx, seq, take, src[:take*d.stride], false); err != nil {
			return d.f.fail("append "+d.name, err)
		}
		src = src[take*d.stride:]
		total += uint64(take)
		n -= take
	}

	if _, err := tx.Exec(`UPDATE datasets SET nrecords = ? WHERE id = ?`, total, d.id); err != nil {
		return d.f.fail("append "+d.name, err)
	}
	if err := tx.Commit(); err != nil {
		return d.f.fail("append "+d.name, err)
	}
	return nil
}

func (d *Dataset) readChunkTx(tx *sql.Tx, seq int64) ([]byte, error) {
	var payload []byte
	var flags, nrec int
	err := tx.QueryRow(`SELECT payload, flags, nrecords FROM chunks WHERE dataset_id = ? AND seq = ?`,
		d.id, seq).Scan(&payload, &flags, &nrec)
	if err != nil {
		return nil, err
	}
	return d.decodeChunk(payload, flags)
}

func (d *Dataset) writeChunkTx(tx *sql.Tx, seq int64, nrec int, raw []byte, replace bool) error {
	payload, flags, err := d.encodeChunk(raw)
	if err != nil {
		return err
	}
	if replace {
		_, err = tx.Exec(`
			INSERT INTO chunks (dataset_id, seq, nrecords, flags, payload) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (dataset_id, seq) DO UPDATE SET nrecords = excluded.nrecords,
				flags = excluded.flags, payload = excluded.payload`,
			d.id, seq, nrec, flags, payload)
	} else {
		_, err = tx.Exec(`INSERT INTO chunks (dataset_id, seq, nrecords, flags, payload) VALUES (?, ?, ?, ?, ?)`,
			d.id, seq, nrec, flags, payload)
	}
	return err
}

// Read reads n records starting at record ordinal first into dst. dst must
// hold at least n*stride bytes.
func (d *Dataset) Read(first uint64, n int, dst []byte) error {
	if n == 0 {
		return nil
	}
	if len(dst) < n*d.stride {
		return d.f.fail("read "+d.name, errors.New("destination shorter than record count"))
	}
	total, err := d.NumRecords()
	if err != nil {
		return err
	}
	if first+uint64(n) > total {
		return d.f.fail("read "+d.name, ErrOutOfBounds)
	}

	firstSeq := int64(first / uint64(d.chunkSize))
	lastSeq := int64((first + uint64(n) - 1) / uint64(d.chunkSize))

	rows, err := d.f.db.Query(`SELECT seq, payload, flags FROM chunks WHERE dataset_id = ? AND seq BETWEEN ? AND ? ORDER BY seq`,
		d.id, firstSeq, lastSeq)
	if err != nil {
		return d.f.fail("read "+d.name, err)
	}
	defer rows.Close()

	written := 0
	for rows.Next() {
		var seq int64
		var payload []byte
		var flags int
		if err := rows.Scan(&seq, &payload, &flags); err != nil {
			return d.f.fail("read "+d.name, err)
		}
		raw, err := d.decodeChunk(payload, flags)
		if err != nil {
			return d.f.fail("read "+d.name, err)
		}

		chunkFirst := uint64(seq) * uint64(d.chunkSize)
		from := 0
		if first > chunkFirst {
			from = int(first-chunkFirst) * d.stride
		}
		want := n*d.stride - written
		avail := len(raw) - from
		if avail < 0 {
			avail = 0
		}
		if want > avail {
			want = avail
		}
		copy(dst[written:], raw[from:from+want])
		written += want
	}
	if err := rows.Err(); err != nil {
		return d.f.fail("read "+d.name, err)
	}
	if written != n*d.stride {
		return d.f.fail("read "+d.name, errors.New("chunk store is missing records"))
	}
	return nil
}
