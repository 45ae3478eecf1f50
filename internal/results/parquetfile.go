package results

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
	"github.com/shopspring/decimal"

	"github.com/quarrydb/quarry/gateway"
	"github.com/quarrydb/quarry/internal/convert"
	"github.com/quarrydb/quarry/qerror"
)

const parquetReadBatch = 256

// ObjectOpener opens one materialized output object by URI.
type ObjectOpener func(ctx context.Context, uri string) (io.ReadCloser, error)

// ParquetReader decodes the columnar output objects of a completed query,
// in object order then file row order. The file's own type metadata drives
// decoding; the declared schema is validated for column count and order
// before any row is yielded.
type ParquetReader struct {
	open   ObjectOpener
	uris   []string
	schema []gateway.Column

	uriIdx    int
	fields    []parquet.Field
	rowGroups []parquet.RowGroup
	rgIdx     int
	rows      parquet.Rows
	batch     []parquet.Row
	pending   []parquet.Row
	seen      int64
	done      bool
	closed    bool
}

// NewParquetReader opens the first object eagerly so schema mismatches
// surface before the first row.
func NewParquetReader(ctx context.Context, open ObjectOpener, uris []string, schema []gateway.Column) (*ParquetReader, error) {
	if len(uris) == 0 {
		return nil, &qerror.ResultReadError{Err: fmt.Errorf("no output objects to read")}
	}
	r := &ParquetReader{
		open:   open,
		uris:   uris,
		schema: schema,
		batch:  make([]parquet.Row, parquetReadBatch),
	}
	if err := r.openNext(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ParquetReader) Schema() []gateway.Column { return r.schema }

func (r *ParquetReader) Next(ctx context.Context) ([]gateway.Cell, error) {
	if r.closed {
		return nil, qerror.ErrClosed
	}
	for {
		if r.done {
			return nil, io.EOF
		}
		if len(r.pending) > 0 {
			row := r.pending[0]
			r.pending = r.pending[1:]
			cells, err := r.cellsFromRow(row)
			if err != nil {
				return nil, err
			}
			r.seen++
			return cells, nil
		}

		if r.rows != nil {
			n, err := r.rows.ReadRows(r.batch)
			if n > 0 {
				r.pending = r.batch[:n]
				continue
			}
			if err != nil && err != io.EOF {
				return nil, &qerror.ResultReadError{Err: fmt.Errorf("read parquet rows: %w", err)}
			}
			if closeErr := r.rows.Close(); closeErr != nil {
				return nil, &qerror.ResultReadError{Err: closeErr}
			}
			r.rows = nil
		}

		if r.rgIdx < len(r.rowGroups) {
			r.rows = r.rowGroups[r.rgIdx].Rows()
			r.rgIdx++
			continue
		}
		if r.uriIdx >= len(r.uris) {
			r.done = true
			continue
		}
		if err := r.openNext(ctx); err != nil {
			return nil, err
		}
	}
}

// openNext loads the object at uriIdx fully into memory; parquet footers
// require random access, which the storage gateway's stream does not offer.
func (r *ParquetReader) openNext(ctx context.Context) error {
	uri := r.uris[r.uriIdx]
	r.uriIdx++

	rc, err := r.open(ctx, uri)
	if err != nil {
		return &qerror.ResultReadError{Err: fmt.Errorf("open output object %q: %w", uri, err)}
	}
	data, err := io.ReadAll(rc)
	closeErr := rc.Close()
	if err != nil {
		return &qerror.ResultReadError{Err: fmt.Errorf("read output object %q: %w", uri, err)}
	}
	if closeErr != nil {
		return &qerror.ResultReadError{Err: closeErr}
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return &qerror.DecodeError{Err: fmt.Errorf("open parquet object %q: %w", uri, err)}
	}
	fields := file.Schema().Fields()
	if err := r.reconcileSchema(uri, fields); err != nil {
		return err
	}

	r.fields = fields
	r.rowGroups = file.RowGroups()
	r.rgIdx = 0
	return nil
}

// reconcileSchema checks column count and order between the file's embedded
// schema and the declared result schema. The file's types win for decoding.
func (r *ParquetReader) reconcileSchema(uri string, fields []parquet.Field) error {
	if len(fields) != len(r.schema) {
		return &qerror.DecodeError{Err: fmt.Errorf(
			"parquet object %q has %d columns, schema declares %d", uri, len(fields), len(r.schema))}
	}
	for i, field := range fields {
		if !strings.EqualFold(field.Name(), r.schema[i].Name) {
			return &qerror.DecodeError{Column: r.schema[i].Name, Type: r.schema[i].Type,
				Err: fmt.Errorf("parquet object %q column %d is %q", uri, i, field.Name())}
		}
	}
	return nil
}

func (r *ParquetReader) cellsFromRow(row parquet.Row) ([]gateway.Cell, error) {
	cells := make([]gateway.Cell, len(r.fields))
	for _, value := range row {
		col := value.Column()
		if col < 0 || col >= len(r.fields) {
			return nil, &qerror.DecodeError{Err: fmt.Errorf("value for unknown column %d", col)}
		}
		cell, err := cellFromValue(value, r.fields[col], r.schema[col])
		if err != nil {
			return nil, err
		}
		cells[col] = cell
	}
	return cells, nil
}

func (r *ParquetReader) Total() (int64, bool) {
	if r.done {
		return r.seen, true
	}
	return r.seen, false
}

func (r *ParquetReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.rows != nil {
		err := r.rows.Close()
		r.rows = nil
		return err
	}
	return nil
}

// cellFromValue renders one parquet value in the same textual form the
// service uses on the wire, so the coercion layer treats both reader
// families identically.
func cellFromValue(value parquet.Value, field parquet.Field, col gateway.Column) (gateway.Cell, error) {
	if value.IsNull() {
		return gateway.NullCell(), nil
	}

	logical := field.Type().LogicalType()
	switch {
	case logical != nil && logical.Decimal != nil:
		return decimalCell(value, logical.Decimal.Scale, col)
	case logical != nil && logical.Date != nil:
		days := value.Int32()
		t := time.Unix(0, 0).UTC().AddDate(0, 0, int(days))
		return gateway.TextCell(t.Format(convert.LayoutDate)), nil
	case logical != nil && logical.Timestamp != nil:
		return timestampCell(value, logical.Timestamp.Unit, col)
	}

	switch value.Kind() {
	case parquet.Boolean:
		return gateway.TextCell(strconv.FormatBool(value.Boolean())), nil
	case parquet.Int32:
		return gateway.TextCell(strconv.FormatInt(int64(value.Int32()), 10)), nil
	case parquet.Int64:
		return gateway.TextCell(strconv.FormatInt(value.Int64(), 10)), nil
	case parquet.Float:
		return gateway.TextCell(strconv.FormatFloat(float64(value.Float()), 'f', -1, 32)), nil
	case parquet.Double:
		return gateway.TextCell(strconv.FormatFloat(value.Double(), 'f', -1, 64)), nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		if isBinaryColumn(col) {
			return gateway.TextCell(hexPairs(value.ByteArray())), nil
		}
		return gateway.TextCell(string(value.ByteArray())), nil
	default:
		return gateway.Cell{}, &qerror.DecodeError{Column: col.Name, Type: col.Type,
			Err: fmt.Errorf("unsupported parquet kind %s", value.Kind())}
	}
}

func decimalCell(value parquet.Value, scale int32, col gateway.Column) (gateway.Cell, error) {
	var unscaled *big.Int
	switch value.Kind() {
	case parquet.Int32:
		unscaled = big.NewInt(int64(value.Int32()))
	case parquet.Int64:
		unscaled = big.NewInt(value.Int64())
	case parquet.ByteArray, parquet.FixedLenByteArray:
		raw := value.ByteArray()
		unscaled = new(big.Int).SetBytes(raw)
		// two's complement
		if len(raw) > 0 && raw[0]&0x80 != 0 {
			offset := new(big.Int).Lsh(big.NewInt(1), uint(8*len(raw)))
			unscaled.Sub(unscaled, offset)
		}
	default:
		return gateway.Cell{}, &qerror.DecodeError{Column: col.Name, Type: col.Type,
			Err: fmt.Errorf("unsupported decimal physical kind %s", value.Kind())}
	}
	return gateway.TextCell(decimal.NewFromBigInt(unscaled, -scale).StringFixed(scale)), nil
}

func timestampCell(value parquet.Value, unit format.TimeUnit, col gateway.Column) (gateway.Cell, error) {
	var t time.Time
	switch {
	case unit.Millis != nil:
		t = time.UnixMilli(value.Int64()).UTC()
	case unit.Micros != nil:
		t = time.UnixMicro(value.Int64()).UTC()
	case unit.Nanos != nil:
		t = time.Unix(0, value.Int64()).UTC()
	default:
		return gateway.Cell{}, &qerror.DecodeError{Column: col.Name, Type: col.Type,
			Err: fmt.Errorf("parquet timestamp without unit")}
	}
	return gateway.TextCell(t.Format(convert.LayoutTimestamp)), nil
}

func isBinaryColumn(col gateway.Column) bool {
	switch strings.ToLower(col.Type) {
	case "varbinary", "binary":
		return true
	default:
		return false
	}
}

func hexPairs(b []byte) string {
	var sb strings.Builder
	for i, by := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", by)
	}
	return sb.String()
}
