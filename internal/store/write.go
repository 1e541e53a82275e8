package store

import (
	"context"
	"fmt"

	"github.com/roach88/tensorc/internal/descriptor"
)

// Run is one recorded compilation.
type Run struct {
	ID              string `json:"id"`
	Backend         string `json:"backend"`
	GraphHash       string `json:"graph_hash"`
	DescriptorID    string `json:"descriptor_id"`
	WeightEncoding  string `json:"weight_encoding"`
	FunctionCount   int    `json:"function_count"`
	InvocationCount int    `json:"invocation_count"`
	StaticBytes     int    `json:"static_bytes"`
	DynamicBytes    int    `json:"dynamic_bytes"`
	WeightBytes     int    `json:"weight_bytes"`
	Seq             int64  `json:"seq"`
}

// RecordRun stores a descriptor and its functions. Functions already known
// for the backend are kept as they are. Recording the same run ID twice is
// a no-op; inserted reports whether a new row was written.
func (s *Store) RecordRun(ctx context.Context, desc *descriptor.Descriptor, weightBytes int) (run Run, inserted bool, err error) {
	if desc.RunID == "" {
		return Run{}, false, fmt.Errorf("record run: descriptor has no run ID")
	}
	descID, err := desc.ID()
	if err != nil {
		return Run{}, false, fmt.Errorf("record run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, false, fmt.Errorf("record run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return Run{}, false, fmt.Errorf("record run: next seq: %w", err)
	}

	run = Run{
		ID:              desc.RunID,
		Backend:         desc.Backend,
		GraphHash:       desc.GraphHash,
		DescriptorID:    descID,
		WeightEncoding:  string(desc.WeightEncoding),
		FunctionCount:   len(desc.Functions),
		InvocationCount: len(desc.Exec),
		StaticBytes:     desc.Layout.StaticSize,
		DynamicBytes:    desc.Layout.DynamicSize,
		WeightBytes:     weightBytes,
		Seq:             seq,
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, backend, graph_hash, descriptor_id, weight_encoding, function_count,
		 invocation_count, static_bytes, dynamic_bytes, weight_bytes, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID, run.Backend, run.GraphHash, run.DescriptorID, run.WeightEncoding,
		run.FunctionCount, run.InvocationCount, run.StaticBytes, run.DynamicBytes,
		run.WeightBytes, run.Seq,
	)
	if err != nil {
		return Run{}, false, fmt.Errorf("record run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Run{}, false, fmt.Errorf("record run: rows affected: %w", err)
	}
	if n == 0 {
		existing, _, err := s.runTx(ctx, tx, desc.RunID)
		return existing, false, err
	}

	sources := desc.Sources()
	for i, fn := range desc.Functions {
		schema, err := marshalSchema(fn.Schema)
		if err != nil {
			return Run{}, false, fmt.Errorf("record run: %w", err)
		}
		acts, err := marshalActivations(fn.Activations)
		if err != nil {
			return Run{}, false, fmt.Errorf("record run: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO functions (backend, signature, name, kind, activations, schema, source)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(backend, signature) DO NOTHING
		`, desc.Backend, fn.Signature, fn.Name, string(fn.Kind), acts, schema, sources[fn.Name]); err != nil {
			return Run{}, false, fmt.Errorf("record function %s: %w", fn.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_functions (run_id, backend, signature, position)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, run.ID, desc.Backend, fn.Signature, i); err != nil {
			return Run{}, false, fmt.Errorf("link function %s: %w", fn.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, false, fmt.Errorf("record run: commit: %w", err)
	}
	return run, true, nil
}
