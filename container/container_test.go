package container

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func newTestFile(t *testing.T) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tsdb")
	f, err := Create(path, DefaultConfig())
	if err != nil {
		t.Fatalf("creating container: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFile_CreateExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.tsdb")
	f, err := Create(path, DefaultConfig())
	if err != nil {
		t.Fatalf("creating container: %v", err)
	}
	f.Close()

	if _, err := Create(path, DefaultConfig()); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestFile_OpenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.tsdb")
	if _, err := Open(path, DefaultConfig()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGroup_CreateOpen(t *testing.T) {
	f := newTestFile(t)
	root := f.Root()

	child, err := root.CreateGroup("series1")
	if err != nil {
		t.Fatalf("creating group: %v", err)
	}
	if child.Name() != "series1" {
		t.Errorf("expected name series1, got %q", child.Name())
	}

	opened, err := root.OpenGroup("series1")
	if err != nil {
		t.Fatalf("opening group: %v", err)
	}
	if opened.id != child.id {
		t.Errorf("open returned a different group id: %d vs %d", opened.id, child.id)
	}

	if _, err := root.OpenGroup("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if !root.GroupExists("series1") {
		t.Error("GroupExists should report true for series1")
	}
	if root.GroupExists("nope") {
		t.Error("GroupExists should report false for nope")
	}
}

func TestGroup_Children(t *testing.T) {
	f := newTestFile(t)
	root := f.Root()

	if _, err := root.CreateGroup("b"); err != nil {
		t.Fatal(err)
	}
	if _, err := root.CreateGroup("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := root.CreateTable("c", 8, nil, 0); err != nil {
		t.Fatal(err)
	}

	n, err := root.NumChildren()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 children, got %d", n)
	}

	want := []string{"a", "b", "c"}
	for i, name := range want {
		got, err := root.ChildName(i)
		if err != nil {
			t.Fatal(err)
		}
		if got != name {
			t.Errorf("child %d: expected %q, got %q", i, name, got)
		}
	}
	if _, err := root.ChildName(3); err == nil {
		t.Error("expected error for out-of-range child index")
	}
}

func TestGroup_Attributes(t *testing.T) {
	f := newTestFile(t)
	root := f.Root()

	if err := root.SetAttr("tbl", "TITLE", "My Table"); err != nil {
		t.Fatal(err)
	}
	v, err := root.Attr("tbl", "TITLE")
	if err != nil {
		t.Fatal(err)
	}
	if v != "My Table" {
		t.Errorf("expected My Table, got %q", v)
	}

	// Overwrite
	if err := root.SetAttr("tbl", "TITLE", "Renamed"); err != nil {
		t.Fatal(err)
	}
	v, _ = root.Attr("tbl", "TITLE")
	if v != "Renamed" {
		t.Errorf("expected Renamed, got %q", v)
	}

	if _, err := root.Attr("tbl", "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func makeRecords(n, stride int, seed byte) []byte {
	buf := make([]byte, n*stride)
	for i := range buf {
		buf[i] = byte(i) ^ seed
	}
	return buf
}

func TestDataset_AppendRead(t *testing.T) {
	f := newTestFile(t)
	root := f.Root()

	ds, err := root.CreateTable("data", 16, []FieldInfo{
		{Name: "ts", Class: ClassInt, Size: 8, Offset: 0},
		{Name: "v", Class: ClassFloat, Size: 8, Offset: 8},
	}, 4)
	if err != nil {
		t.Fatal(err)
	}

	recs := makeRecords(10, 16, 0x5a)
	if err := ds.Append(10, recs); err != nil {
		t.Fatal(err)
	}

	n, err := ds.NumRecords()
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("expected 10 records, got %d", n)
	}

	got := make([]byte, 10*16)
	if err := ds.Read(0, 10, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, recs) {
		t.Error("read returned different bytes than appended")
	}

	// Partial read across a chunk boundary (chunk size 4).
	got = make([]byte, 3*16)
	if err := ds.Read(3, 3, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, recs[3*16:6*16]) {
		t.Error("partial read returned wrong slice")
	}
}

func TestDataset_AppendFillsPartialChunk(t *testing.T) {
	f := newTestFile(t)
	root := f.Root()

	ds, err := root.CreateTable("data", 8, nil, 4)
	if err != nil {
		t.Fatal(err)
	}

	first := makeRecords(3, 8, 1)
	second := makeRecords(6, 8, 2)
	if err := ds.Append(3, first); err != nil {
		t.Fatal(err)
	}
	if err := ds.Append(6, second); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 9*8)
	if err := ds.Read(0, 9, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[:3*8], first) {
		t.Error("first batch corrupted")
	}
	if !bytes.Equal(got[3*8:], second) {
		t.Error("second batch corrupted")
	}
}

func TestDataset_ReadOutOfBounds(t *testing.T) {
	f := newTestFile(t)
	root := f.Root()

	ds, err := root.CreateTable("data", 8, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.Append(2, makeRecords(2, 8, 0)); err != nil {
		t.Fatal(err)
	}

	dst := make([]byte, 3*8)
	if err := ds.Read(1, 2, dst); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestDataset_OpenRestoresLayout(t *testing.T) {
	f := newTestFile(t)
	root := f.Root()

	fields := []FieldInfo{
		{Name: "ts", Class: ClassInt, Size: 8, Offset: 0},
		{Name: "name", Class: ClassString, Size: 12, Offset: 8},
	}
	if _, err := root.CreateTable("data", 20, fields, 0); err != nil {
		t.Fatal(err)
	}

	ds, err := root.OpenDataset("data")
	if err != nil {
		t.Fatal(err)
	}
	if ds.Stride() != 20 {
		t.Errorf("expected stride 20, got %d", ds.Stride())
	}
	got := ds.Fields()
	if len(got) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(got))
	}
	if got[1].Name != "name" || got[1].Class != ClassString || got[1].Size != 12 || got[1].Offset != 8 {
		t.Errorf("field layout not restored: %+v", got[1])
	}
}

func TestDataset_ExistsProbeIsQuiet(t *testing.T) {
	f := newTestFile(t)
	root := f.Root()

	if root.DatasetExists("nope") {
		t.Error("expected false for missing dataset")
	}
	if f.Quiet() {
		t.Error("probe should restore the quiet flag")
	}
}

func TestFile_EncryptionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enc.tsdb")
	cfg := DefaultConfig()
	cfg.Passphrase = "opensesame"

	f, err := Create(path, cfg)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := f.Root().CreateTable("data", 8, nil, 4)
	if err != nil {
		t.Fatal(err)
	}
	recs := makeRecords(6, 8, 7)
	if err := ds.Append(6, recs); err != nil {
		t.Fatal(err)
	}
	f.Close()

	f, err = Open(path, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ds, err = f.Root().OpenDataset("data")
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 6*8)
	if err := ds.Read(0, 6, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, recs) {
		t.Error("encrypted round trip returned different bytes")
	}
}

func TestEncryptor_SealOpen(t *testing.T) {
	salt := make([]byte, encryptionSaltSize)
	enc, err := newEncryptor("pw", salt)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := enc.Seal([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	opened, err := enc.Open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if string(opened) != "payload" {
		t.Errorf("expected payload, got %q", opened)
	}

	if _, err := enc.Open(sealed[:4]); err == nil {
		t.Error("expected error for truncated payload")
	}
}
