package sandbox

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/malbeclabs/analyst/pkg/dataset"
)

const DialectSQL = "sql"

// SQLEngine runs a single DuckDB query against the dataset loaded as table df.
// Each call opens its own in-memory database and disables external file access
// once the table is loaded.
type SQLEngine struct {
	cfg *Config
}

func NewSQLEngine(cfg *Config) (*SQLEngine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SQLEngine{cfg: cfg}, nil
}

func (e *SQLEngine) Name() string    { return "duckdb" }
func (e *SQLEngine) Dialect() string { return DialectSQL }

func (e *SQLEngine) Execute(ctx context.Context, code string, ds *dataset.Dataset) (*Result, error) {
	if ds == nil {
		ds = dataset.Empty()
	}
	query := strings.TrimSuffix(strings.TrimSpace(StripFences(code)), ";")
	if query == "" {
		return nil, ErrNoResult
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer db.Close()
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get duckdb connection: %w", err)
	}
	defer conn.Close()

	if err := loadFrame(ctx, conn, ds); err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SET enable_external_access = false"); err != nil {
		return nil, fmt.Errorf("failed to lock down duckdb: %w", err)
	}

	value, err := runQuery(ctx, conn, query)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: execution exceeded %s", ErrLimitExceeded, e.cfg.Timeout)
		}
		if errors.Is(err, ErrNoResult) {
			return nil, err
		}
		return nil, &CodeError{Message: err.Error(), Err: err}
	}
	return &Result{
		Value: value,
		Text:  truncate(FormatValue(value), e.cfg.MaxOutputBytes),
	}, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlType(t dataset.ColumnType) string {
	switch t {
	case dataset.TypeNumeric:
		return "DOUBLE"
	case dataset.TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "VARCHAR"
	}
}

// loadFrame creates table df and copies the dataset into it through a temporary CSV file.
// An empty dataset without columns leaves the database without a df table.
func loadFrame(ctx context.Context, conn *sql.Conn, ds *dataset.Dataset) error {
	if len(ds.Columns) == 0 {
		return nil
	}
	defs := make([]string, len(ds.Columns))
	for i, c := range ds.Columns {
		defs[i] = quoteIdent(c.Name) + " " + sqlType(c.Type)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", FrameName, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if ds.Len() == 0 {
		return nil
	}

	tmpFile, err := os.CreateTemp("", FrameName+"_*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	w := csv.NewWriter(tmpFile)
	record := make([]string, len(ds.Columns))
	for i := 0; i < ds.Len(); i++ {
		for j, c := range ds.Columns {
			record[j] = csvCell(c.Values[i])
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	tmpFile.Close()

	copySQL := fmt.Sprintf("COPY %s FROM '%s' (FORMAT CSV, HEADER false)", FrameName, strings.ReplaceAll(tmpFile.Name(), "'", "''"))
	if _, err := conn.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("failed to copy CSV into table: %w", err)
	}
	return nil
}

func csvCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return fmt.Sprint(x)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}

// runQuery shapes the rows: one cell is a scalar, one column is a series,
// two columns are a keyed mapping and anything wider is a table.
func runQuery(ctx context.Context, conn *sql.Conn, query string) (any, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNoResult
	}
	var data [][]any
	for rows.Next() {
		row := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range row {
			row[i] = normalizeSQLValue(v)
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch {
	case len(names) == 1 && len(data) == 1:
		return data[0][0], nil
	case len(names) == 1:
		values := make([]any, len(data))
		for i, row := range data {
			values[i] = row[0]
		}
		return Series{Name: names[0], Values: values}, nil
	case len(names) == 2 && len(data) > 0:
		m := make(Mapping, len(data))
		for i, row := range data {
			m[i] = Entry{Key: row[0], Value: row[1]}
		}
		return m, nil
	}
	return rowsToDataset(names, data)
}

func normalizeSQLValue(v any) any {
	switch x := v.(type) {
	case nil, float64, string, bool, time.Time, int64:
		return x
	case float32:
		return float64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func rowsToDataset(names []string, data [][]any) (*dataset.Dataset, error) {
	cols := make([]*dataset.Column, len(names))
	for j, name := range names {
		typ := dataset.TypeNumeric
		values := make([]any, len(data))
		for i, row := range data {
			switch x := row[j].(type) {
			case int64:
				values[i] = float64(x)
			case time.Time:
				values[i] = x
				if typ == dataset.TypeNumeric {
					typ = dataset.TypeTimestamp
				}
			default:
				values[i] = x
			}
		}
		for _, v := range values {
			switch v.(type) {
			case nil, float64:
			case time.Time:
				if typ != dataset.TypeTimestamp {
					typ = dataset.TypeText
				}
			default:
				typ = dataset.TypeText
			}
		}
		if typ == dataset.TypeText {
			for i, v := range values {
				if v != nil {
					values[i] = dataset.FormatValue(v)
				}
			}
		}
		cols[j] = &dataset.Column{Name: name, Type: typ, Values: values}
	}
	return dataset.New(cols...)
}
