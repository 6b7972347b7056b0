package epack

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func sqlTestRecord(t *testing.T, seq int, prev string) Record {
	t.Helper()
	rec, err := New(seq, prev, map[string]any{"interaction": seq, "route": "TDM"})
	if err != nil {
		t.Fatalf("seal record: %v", err)
	}
	return rec
}

func TestSQLSinkInit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open stub db: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS epack_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewPostgresSink(db).Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLSinkAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open stub db: %v", err)
	}
	defer func() { _ = db.Close() }()

	rec := sqlTestRecord(t, 1, Genesis)
	mock.ExpectExec("INSERT INTO epack_records").
		WithArgs("sess-1", rec.Seq, rec.Ts, rec.PrevHash, rec.PayloadHash, rec.Hash, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewPostgresSink(db).Append(context.Background(), "sess-1", rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLSinkRecordsRebuildsChain(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open stub db: %v", err)
	}
	defer func() { _ = db.Close() }()

	first := sqlTestRecord(t, 1, Genesis)
	second := sqlTestRecord(t, 2, first.Hash)

	rows := sqlmock.NewRows([]string{"seq", "ts", "prev_hash", "payload_hash", "hash", "payload"}).
		AddRow(first.Seq, first.Ts, first.PrevHash, first.PayloadHash, first.Hash, `{"interaction":1,"route":"TDM"}`).
		AddRow(second.Seq, second.Ts, second.PrevHash, second.PayloadHash, second.Hash, `{"interaction":2,"route":"TDM"}`)

	mock.ExpectQuery("SELECT seq, ts, prev_hash, payload_hash, hash, payload").
		WithArgs("sess-1").
		WillReturnRows(rows)

	chain, err := NewPostgresSink(db).Records(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d", len(chain))
	}
	if chain[0].SessionID != "sess-1" || chain[1].PrevHash != chain[0].Hash {
		t.Fatalf("chain not rebuilt: %+v", chain)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLSinkRecordsEmptyIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open stub db: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT seq, ts, prev_hash, payload_hash, hash, payload").
		WithArgs("sess-missing").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "ts", "prev_hash", "payload_hash", "hash", "payload"}))

	_, err = NewPostgresSink(db).Records(context.Background(), "sess-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLSinkLastSeq(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open stub db: %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\)`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(7))

	seq, err := NewPostgresSink(db).LastSeq(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("last seq: %v", err)
	}
	if seq != 7 {
		t.Fatalf("seq = %d", seq)
	}
}

func TestSQLiteSinkRewritesPlaceholders(t *testing.T) {
	s := NewSQLiteSink(nil)
	got := s.ph("VALUES ($1, $2, $3)")
	if got != "VALUES (?1, ?2, ?3)" {
		t.Fatalf("rewritten query = %q", got)
	}
	pg := NewPostgresSink(nil)
	if pg.ph("$1") != "$1" {
		t.Fatalf("postgres placeholders must pass through")
	}
}
