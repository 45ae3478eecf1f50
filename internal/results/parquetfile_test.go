package results

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/quarrydb/quarry/gateway"
	"github.com/quarrydb/quarry/qerror"
)

type parquetFixture struct {
	ID     int64   `parquet:"id"`
	Name   *string `parquet:"name,optional"`
	Active bool    `parquet:"active"`
}

func encodeFixture(t *testing.T, rows []parquetFixture) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetFixture](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write parquet rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
	return buf.Bytes()
}

func fixtureOpener(objects map[string][]byte) ObjectOpener {
	return func(_ context.Context, uri string) (io.ReadCloser, error) {
		data, ok := objects[uri]
		if !ok {
			return nil, fmt.Errorf("no object %q", uri)
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

func fixtureSchema() []gateway.Column {
	return []gateway.Column{
		{Name: "id", Type: "bigint"},
		{Name: "name", Type: "varchar", Nullable: true},
		{Name: "active", Type: "boolean"},
	}
}

func strPtr(s string) *string { return &s }

func TestParquetReaderDecodesRowsInFileOrder(t *testing.T) {
	data := encodeFixture(t, []parquetFixture{
		{ID: 1, Name: strPtr("alice"), Active: true},
		{ID: 2, Name: strPtr("bob"), Active: false},
	})
	opener := fixtureOpener(map[string][]byte{"s3://bucket/part-0.parquet": data})

	reader, err := NewParquetReader(context.Background(), opener, []string{"s3://bucket/part-0.parquet"}, fixtureSchema())
	if err != nil {
		t.Fatalf("NewParquetReader() error = %v", err)
	}
	rows := drain(t, reader)

	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0][0].Data != "1" || rows[0][1].Data != "alice" || rows[0][2].Data != "true" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1][0].Data != "2" || rows[1][2].Data != "false" {
		t.Fatalf("row 1 = %+v", rows[1])
	}
	if total, known := reader.Total(); !known || total != 2 {
		t.Fatalf("Total() = %d, %v", total, known)
	}
}

func TestParquetReaderPreservesNulls(t *testing.T) {
	data := encodeFixture(t, []parquetFixture{
		{ID: 1, Name: nil, Active: true},
		{ID: 2, Name: strPtr(""), Active: true},
	})
	opener := fixtureOpener(map[string][]byte{"s3://bucket/part-0.parquet": data})

	reader, err := NewParquetReader(context.Background(), opener, []string{"s3://bucket/part-0.parquet"}, fixtureSchema())
	if err != nil {
		t.Fatalf("NewParquetReader() error = %v", err)
	}
	rows := drain(t, reader)

	if !rows[0][1].Null {
		t.Fatalf("row 0 name = %+v, want null", rows[0][1])
	}
	if rows[1][1].Null || rows[1][1].Data != "" {
		t.Fatalf("row 1 name = %+v, want empty string", rows[1][1])
	}
}

func TestParquetReaderConcatenatesObjectsInManifestOrder(t *testing.T) {
	first := encodeFixture(t, []parquetFixture{{ID: 1, Name: strPtr("a"), Active: true}})
	second := encodeFixture(t, []parquetFixture{{ID: 2, Name: strPtr("b"), Active: true}})
	opener := fixtureOpener(map[string][]byte{
		"s3://bucket/part-0.parquet": first,
		"s3://bucket/part-1.parquet": second,
	})

	reader, err := NewParquetReader(context.Background(), opener,
		[]string{"s3://bucket/part-0.parquet", "s3://bucket/part-1.parquet"}, fixtureSchema())
	if err != nil {
		t.Fatalf("NewParquetReader() error = %v", err)
	}
	rows := drain(t, reader)

	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0][0].Data != "1" || rows[1][0].Data != "2" {
		t.Fatalf("object order not preserved: %+v", rows)
	}
}

func TestParquetReaderRejectsColumnCountMismatchBeforeAnyRow(t *testing.T) {
	data := encodeFixture(t, []parquetFixture{{ID: 1, Name: strPtr("a"), Active: true}})
	opener := fixtureOpener(map[string][]byte{"s3://bucket/part-0.parquet": data})

	declared := []gateway.Column{
		{Name: "id", Type: "bigint"},
		{Name: "name", Type: "varchar"},
	}
	_, err := NewParquetReader(context.Background(), opener, []string{"s3://bucket/part-0.parquet"}, declared)

	var decodeErr *qerror.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want DecodeError before first row", err)
	}
}

func TestParquetReaderRejectsColumnOrderMismatch(t *testing.T) {
	data := encodeFixture(t, []parquetFixture{{ID: 1, Name: strPtr("a"), Active: true}})
	opener := fixtureOpener(map[string][]byte{"s3://bucket/part-0.parquet": data})

	declared := []gateway.Column{
		{Name: "name", Type: "varchar"},
		{Name: "id", Type: "bigint"},
		{Name: "active", Type: "boolean"},
	}
	_, err := NewParquetReader(context.Background(), opener, []string{"s3://bucket/part-0.parquet"}, declared)

	var decodeErr *qerror.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want DecodeError", err)
	}
}

func TestParquetReaderRequiresAtLeastOneObject(t *testing.T) {
	_, err := NewParquetReader(context.Background(), fixtureOpener(nil), nil, fixtureSchema())
	var readErr *qerror.ResultReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("error = %v, want ResultReadError", err)
	}
}
