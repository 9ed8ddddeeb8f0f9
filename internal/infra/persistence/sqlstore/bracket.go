package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// TxBracket runs the unit of work in a server-side transaction on a connection
// checked out of the pool. The connection returns to the pool on every path.
type TxBracket struct {
	Options *sql.TxOptions
}

// Run implements Bracket.
func (b TxBracket) Run(ctx context.Context, db *sql.DB, fn func(ctx context.Context, q Queryer) error) error {
	tx, err := db.BeginTx(ctx, b.Options)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// Cancellation is honoured up to here; past this point COMMIT is issued.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// SerialBracket admits one writer at a time and drives the transaction with
// explicit BEGIN/COMMIT/ROLLBACK statements on a dedicated connection. It is
// used for the embedded engine, whose file lock allows a single writer.
type SerialBracket struct {
	begin string
	sem   chan struct{}
}

// NewSerialBracket returns a bracket that opens transactions with begin, for
// example "BEGIN IMMEDIATE".
func NewSerialBracket(begin string) *SerialBracket {
	if begin == "" {
		begin = "BEGIN"
	}
	return &SerialBracket{begin: begin, sem: make(chan struct{}, 1)}
}

// Run implements Bracket.
func (b *SerialBracket) Run(ctx context.Context, db *sql.DB, fn func(ctx context.Context, q Queryer) error) error {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-b.sem }()

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, b.begin); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	finished := false
	defer func() {
		if !finished {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		}
	}()
	if err := fn(ctx, conn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := conn.ExecContext(context.WithoutCancel(ctx), "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	finished = true
	return nil
}
