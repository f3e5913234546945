package dbexec

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrTimeout reports that a query exceeded its deadline.
var ErrTimeout = errors.New("query timed out")

// classify maps deadline failures to ErrTimeout. Drivers report cancellation
// in their own words, so the context is checked as well as the error chain.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// QueryMaps runs a query and returns each row keyed by result column name.
// A nil decoder leaves driver values untouched.
func QueryMaps(ctx context.Context, exec QueryExecutor, decoder *ValueDecoder, query string, args ...any) ([]map[string]any, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	out := make([]map[string]any, 0)
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, classify(ctx, fmt.Errorf("failed to scan row: %w", err))
		}
		row := make(map[string]any, len(columns))
		for i, name := range columns {
			value, err := decoder.Decode(values[i])
			if err != nil {
				return nil, fmt.Errorf("failed to decode column %s: %w", name, err)
			}
			row[name] = value
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, err)
	}
	return out, nil
}

// QueryCount runs a single-value COUNT query.
func QueryCount(ctx context.Context, exec QueryExecutor, query string, args ...any) (int64, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, classify(ctx, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, classify(ctx, err)
		}
		return 0, fmt.Errorf("count query returned no rows")
	}
	var raw any
	if err := rows.Scan(&raw); err != nil {
		return 0, classify(ctx, fmt.Errorf("failed to scan count: %w", err))
	}
	return toInt64(raw)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}
