// Package sqlfmt renders named parameters into SQL text before submission.
// The remote service has no server-side parameter binding for this protocol,
// so values are escaped and inlined: single quotes are doubled for the
// SELECT/WITH/INSERT engine, backslash-escaped for everything else (DDL runs
// on a different engine with different quoting rules).
package sqlfmt

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Date marks a parameter that renders as a DATE literal rather than a
// TIMESTAMP.
type Date time.Time

var placeholderPattern = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

// Format substitutes :name placeholders in operation with escaped renderings
// of params. A placeholder without a matching parameter is an error; unused
// parameters are ignored.
func Format(operation string, params map[string]any) (string, error) {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		return "", fmt.Errorf("query is empty")
	}
	if len(params) == 0 {
		return operation, nil
	}

	escape := escapeHive
	if usesPrestoEngine(operation) {
		escape = escapePresto
	}

	var (
		out  strings.Builder
		last int
	)
	for _, match := range placeholderPattern.FindAllStringSubmatchIndex(operation, -1) {
		start, end := match[0], match[1]
		// skip "::" casts and placeholder-like text inside words
		if start > 0 {
			prev := operation[start-1]
			if prev == ':' || isWordByte(prev) {
				continue
			}
		}
		name := operation[match[2]:match[3]]
		value, ok := params[name]
		if !ok {
			return "", fmt.Errorf("missing parameter %q", name)
		}
		rendered, err := formatValue(value, escape, inClause(operation, name))
		if err != nil {
			return "", fmt.Errorf("parameter %q: %w", name, err)
		}
		out.WriteString(operation[last:start])
		out.WriteString(rendered)
		last = end
	}
	out.WriteString(operation[last:])
	return out.String(), nil
}

// WrapUnload rewrites a SELECT or WITH statement as an UNLOAD to a fresh
// staging prefix so results materialize in a columnar format. Other
// statements pass through unchanged with an empty location.
func WrapUnload(operation, stagingDir, fileFormat, compression string) (string, string, error) {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		return "", "", fmt.Errorf("query is empty")
	}
	upper := strings.ToUpper(operation)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return operation, "", nil
	}
	if !strings.HasSuffix(stagingDir, "/") {
		stagingDir += "/"
	}
	location := fmt.Sprintf("%sunload/%s/%s/", stagingDir, time.Now().UTC().Format("20060102"), uuid.NewString())
	wrapped := fmt.Sprintf("UNLOAD (\n\t%s\n)\nTO '%s'\nWITH (\n\tformat = '%s',\n\tcompression = '%s'\n)",
		operation, location, fileFormat, compression)
	return wrapped, location, nil
}

func usesPrestoEngine(operation string) bool {
	upper := strings.ToUpper(operation)
	return strings.HasPrefix(upper, "SELECT") ||
		strings.HasPrefix(upper, "WITH") ||
		strings.HasPrefix(upper, "INSERT")
}

func formatValue(value any, escape func(string) string, inIN bool) (string, error) {
	switch v := value.(type) {
	case nil:
		return "null", nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case decimal.Decimal:
		return "DECIMAL " + escape(v.String()), nil
	case Date:
		return fmt.Sprintf("DATE '%s'", time.Time(v).Format("2006-01-02")), nil
	case time.Time:
		return fmt.Sprintf("TIMESTAMP '%s'", v.Format("2006-01-02 15:04:05.000")), nil
	case string:
		return escape(v), nil
	case []byte:
		return fmt.Sprintf("X'%x'", v), nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		parts := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			rendered, err := formatValue(rv.Index(i).Interface(), escape, false)
			if err != nil {
				return "", err
			}
			parts[i] = rendered
		}
		if inIN {
			return "(" + strings.Join(parts, ", ") + ")", nil
		}
		return "ARRAY[" + strings.Join(parts, ", ") + "]", nil
	}

	return "", fmt.Errorf("no formatter for type %T", value)
}

// inClause reports whether the placeholder is the target of an IN operator,
// which changes how sequences render.
func inClause(operation, name string) bool {
	pattern := regexp.MustCompile(`(?i)IN\s+:` + regexp.QuoteMeta(name) + `\b`)
	return pattern.MatchString(operation)
}

func escapePresto(val string) string {
	return "'" + strings.ReplaceAll(val, "'", "''") + "'"
}

func escapeHive(val string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		"\r", `\r`,
		"\n", `\n`,
		"\t", `\t`,
	)
	return "'" + replacer.Replace(val) + "'"
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
