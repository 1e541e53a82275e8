package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tensorc/internal/ir"
	"github.com/roach88/tensorc/internal/kernel"
)

// Function is a cached kernel function.
type Function struct {
	Backend string
	kernel.Function
}

const runColumns = `id, backend, graph_hash, descriptor_id, weight_encoding, function_count,
	invocation_count, static_bytes, dynamic_bytes, weight_bytes, seq`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Backend, &r.GraphHash, &r.DescriptorID, &r.WeightEncoding,
		&r.FunctionCount, &r.InvocationCount, &r.StaticBytes, &r.DynamicBytes, &r.WeightBytes, &r.Seq)
	return r, err
}

func scanFunction(row scanner) (Function, error) {
	var (
		f      Function
		kind   string
		acts   string
		schema string
	)
	if err := row.Scan(&f.Backend, &f.Signature, &f.Name, &kind, &acts, &schema, &f.Source); err != nil {
		return Function{}, err
	}
	f.Kind = ir.Kind(kind)
	var err error
	if f.Activations, err = unmarshalActivations(acts); err != nil {
		return Function{}, err
	}
	if f.Schema, err = unmarshalSchema(schema); err != nil {
		return Function{}, err
	}
	return f, nil
}

// Run returns the run with the given ID.
func (s *Store) Run(ctx context.Context, id string) (Run, bool, error) {
	return s.runTx(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) runTx(ctx context.Context, q querier, id string) (Run, bool, error) {
	r, err := scanRun(q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("read run %s: %w", id, err)
	}
	return r, true, nil
}

// Runs lists every run ordered by seq, then id.
//
// Returns an empty slice (not nil) when the cache is empty.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	return s.queryRuns(ctx, `SELECT `+runColumns+` FROM runs ORDER BY seq ASC, id COLLATE BINARY ASC`)
}

// RunsForGraph lists the runs that compiled the graph with the given hash,
// optionally restricted to one backend.
func (s *Store) RunsForGraph(ctx context.Context, graphHash, backend string) ([]Run, error) {
	return s.queryRuns(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE graph_hash = ? AND (? = '' OR backend = ?)
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, graphHash, backend, backend)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Function returns the cached function of a backend by signature.
func (s *Store) Function(ctx context.Context, backend, signature string) (Function, bool, error) {
	f, err := scanFunction(s.db.QueryRowContext(ctx, `
		SELECT backend, signature, name, kind, activations, schema, source
		FROM functions WHERE backend = ? AND signature = ?
	`, backend, signature))
	if errors.Is(err, sql.ErrNoRows) {
		return Function{}, false, nil
	}
	if err != nil {
		return Function{}, false, fmt.Errorf("read function %s: %w", signature, err)
	}
	return f, true, nil
}

// RunFunctions returns the functions of a run in first-use order.
func (s *Store) RunFunctions(ctx context.Context, runID string) ([]Function, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.backend, f.signature, f.name, f.kind, f.activations, f.schema, f.source
		FROM run_functions rf
		JOIN functions f ON f.backend = rf.backend AND f.signature = rf.signature
		WHERE rf.run_id = ?
		ORDER BY rf.position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run functions: %w", err)
	}
	defer rows.Close()

	funcs := []Function{}
	for rows.Next() {
		f, err := scanFunction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		funcs = append(funcs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run functions: %w", err)
	}
	return funcs, nil
}

// FunctionCount returns the number of distinct cached functions per
// backend.
func (s *Store) FunctionCount(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT backend, COUNT(*) FROM functions GROUP BY backend ORDER BY backend
	`)
	if err != nil {
		return nil, fmt.Errorf("count functions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			backend string
			n       int
		)
		if err := rows.Scan(&backend, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[backend] = n
	}
	return counts, rows.Err()
}
