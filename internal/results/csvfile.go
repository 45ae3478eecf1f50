package results

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/quarrydb/quarry/gateway"
	"github.com/quarrydb/quarry/qerror"
)

// CSVReader decodes the delimited-text output object the service writes for
// a completed query. The first record is a header naming the columns, which
// must match the declared schema by position.
//
// The wire format distinguishes NULL from the empty string by quoting: an
// unquoted empty field is NULL, a quoted empty field is a zero-length
// string. encoding/csv discards quoting metadata, so the field scanner here
// is hand-written.
type CSVReader struct {
	rc     io.ReadCloser
	br     *bufio.Reader
	schema []gateway.Column

	headerRead bool
	seen       int64
	done       bool
	closed     bool
}

// NewCSVReader wraps an open output object. The header is validated on the
// first Next call.
func NewCSVReader(rc io.ReadCloser, schema []gateway.Column) *CSVReader {
	return &CSVReader{
		rc:     rc,
		br:     bufio.NewReader(rc),
		schema: schema,
	}
}

func (r *CSVReader) Schema() []gateway.Column { return r.schema }

func (r *CSVReader) Next(_ context.Context) ([]gateway.Cell, error) {
	if r.closed {
		return nil, qerror.ErrClosed
	}
	if r.done {
		return nil, io.EOF
	}
	if !r.headerRead {
		if err := r.readHeader(); err != nil {
			return nil, err
		}
	}

	cells, err := r.readRecord()
	if err == io.EOF {
		r.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	if len(cells) != len(r.schema) {
		return nil, &qerror.DecodeError{Err: fmt.Errorf(
			"record %d has %d fields, schema declares %d columns", r.seen+1, len(cells), len(r.schema))}
	}
	r.seen++
	return cells, nil
}

func (r *CSVReader) readHeader() error {
	header, err := r.readRecord()
	if err == io.EOF {
		return &qerror.DecodeError{Err: fmt.Errorf("output object is empty, expected header row")}
	}
	if err != nil {
		return err
	}
	if len(header) != len(r.schema) {
		return &qerror.DecodeError{Err: fmt.Errorf(
			"header has %d columns, schema declares %d", len(header), len(r.schema))}
	}
	for i, cell := range header {
		if cell.Null || cell.Data != r.schema[i].Name {
			return &qerror.DecodeError{Column: r.schema[i].Name, Type: r.schema[i].Type,
				Err: fmt.Errorf("header column %d is %q", i, cell.Data)}
		}
	}
	r.headerRead = true
	return nil
}

// readRecord scans one record. It returns io.EOF only when the input ends
// before any field content for the record.
func (r *CSVReader) readRecord() ([]gateway.Cell, error) {
	var (
		cells    []gateway.Cell
		field    []byte
		quoted   bool // current field began with an opening quote
		inQuotes bool
		any      bool // any byte consumed for this record
	)

	finish := func() {
		if quoted {
			cells = append(cells, gateway.TextCell(string(field)))
		} else if len(field) == 0 {
			cells = append(cells, gateway.NullCell())
		} else {
			cells = append(cells, gateway.TextCell(string(field)))
		}
		field = field[:0]
		quoted = false
	}

	for {
		b, err := r.br.ReadByte()
		if err == io.EOF {
			if !any {
				return nil, io.EOF
			}
			if inQuotes {
				return nil, &qerror.DecodeError{Err: fmt.Errorf("unterminated quoted field")}
			}
			finish()
			return cells, nil
		}
		if err != nil {
			return nil, &qerror.ResultReadError{Err: err}
		}
		any = true

		if inQuotes {
			if b != '"' {
				field = append(field, b)
				continue
			}
			next, err := r.br.ReadByte()
			if err == io.EOF {
				inQuotes = false
				finish()
				return cells, nil
			}
			if err != nil {
				return nil, &qerror.ResultReadError{Err: err}
			}
			switch next {
			case '"':
				field = append(field, '"')
			case ',':
				inQuotes = false
				finish()
			case '\n':
				inQuotes = false
				finish()
				return cells, nil
			case '\r':
				inQuotes = false
				if err := r.consumeLF(); err != nil {
					return nil, err
				}
				finish()
				return cells, nil
			default:
				return nil, &qerror.DecodeError{Err: fmt.Errorf(
					"unexpected %q after closing quote", next)}
			}
			continue
		}

		switch b {
		case '"':
			if len(field) == 0 && !quoted {
				quoted = true
				inQuotes = true
			} else {
				field = append(field, b)
			}
		case ',':
			finish()
		case '\n':
			finish()
			return cells, nil
		case '\r':
			if err := r.consumeLF(); err != nil {
				return nil, err
			}
			finish()
			return cells, nil
		default:
			field = append(field, b)
		}
	}
}

func (r *CSVReader) consumeLF() error {
	b, err := r.br.ReadByte()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return &qerror.ResultReadError{Err: err}
	}
	if b != '\n' {
		return &qerror.DecodeError{Err: fmt.Errorf("bare carriage return in record")}
	}
	return nil
}

func (r *CSVReader) Total() (int64, bool) {
	if r.done {
		return r.seen, true
	}
	return r.seen, false
}

func (r *CSVReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.rc.Close()
}
