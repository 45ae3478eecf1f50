// Package convert turns wire-level cells (text plus a declared logical
// type) into native Go values. Coercion is pure: the same cell and column
// always produce the same value or the same DecodeError.
package convert

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quarrydb/quarry/gateway"
	"github.com/quarrydb/quarry/qerror"
)

const (
	LayoutDate          = "2006-01-02"
	LayoutTime          = "15:04:05.999999999"
	LayoutTimestamp     = "2006-01-02 15:04:05.999999999"
	LayoutTimestampZone = "2006-01-02 15:04:05.999999999 MST"
)

// Coerce converts one cell according to the column's logical type. A null
// cell coerces to nil for every type; an empty string is a valid zero-length
// value, never null.
func Coerce(cell gateway.Cell, col gateway.Column) (any, error) {
	if cell.Null {
		return nil, nil
	}

	raw := cell.Data
	switch baseType(col.Type) {
	case "boolean":
		switch strings.ToLower(raw) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return nil, decodeErr(col, fmt.Errorf("invalid boolean %q", raw))
		}

	case "tinyint":
		v, err := strconv.ParseInt(raw, 10, 8)
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return int8(v), nil
	case "smallint":
		v, err := strconv.ParseInt(raw, 10, 16)
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return int16(v), nil
	case "integer", "int":
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return int32(v), nil
	case "bigint":
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return v, nil

	case "real", "float":
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return float32(v), nil
	case "double":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return v, nil

	case "decimal":
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return v, nil

	case "char", "varchar", "string":
		return raw, nil

	case "varbinary", "binary":
		// The service renders binary as space-separated hex pairs.
		v, err := hex.DecodeString(strings.ReplaceAll(raw, " ", ""))
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return v, nil

	case "date":
		v, err := time.ParseInLocation(LayoutDate, raw, time.UTC)
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return v, nil
	case "time":
		v, err := time.ParseInLocation(LayoutTime, raw, time.UTC)
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return v, nil
	case "timestamp":
		v, err := time.ParseInLocation(LayoutTimestamp, raw, time.UTC)
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return v, nil
	case "timestamp with time zone":
		v, err := time.Parse(LayoutTimestampZone, raw)
		if err != nil {
			return nil, decodeErr(col, err)
		}
		return v, nil

	default:
		return nil, decodeErr(col, fmt.Errorf("logical type not implemented"))
	}
}

// baseType strips length and precision parameters, e.g. "decimal(10,2)" and
// "varchar(255)" reduce to their base names.
func baseType(logical string) string {
	t := strings.ToLower(strings.TrimSpace(logical))
	if i := strings.IndexByte(t, '('); i >= 0 {
		open := t[:i]
		if j := strings.IndexByte(t, ')'); j >= 0 && j+1 < len(t) {
			// keep suffixes like "(3) with time zone"
			return strings.TrimSpace(open + t[j+1:])
		}
		return strings.TrimSpace(open)
	}
	return t
}

func decodeErr(col gateway.Column, err error) error {
	return &qerror.DecodeError{Column: col.Name, Type: col.Type, Err: err}
}
