package datarepo

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/kernel"
)

// TableSink stores uploaded rows. A table keeps the columns of its first
// upload; a mismatch is a CONFLICT.
type TableSink interface {
	// Begin starts loading one file into table. Nothing the load appends is
	// visible until Commit.
	Begin(ctx context.Context, owner kernel.OwnerID, table string, columns []string) (TableLoad, error)
}

// TableLoad is one upload in progress. Append is called once per batch, in
// file order. After Commit or Rollback the load is finished and Rollback is
// a no-op.
type TableLoad interface {
	Append(ctx context.Context, rows [][]string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

var errLoadFinished = errors.New("datarepo: table load already finished")

func columnConflict(table string, existing []string) error {
	return jobx.Failf(jobx.ClassConflict, "table %q already exists with columns %v", table, existing)
}

// Table is a loaded table held by MemorySink.
type Table struct {
	Columns []string
	Rows    [][]string
}

// MemorySink keeps tables in process memory, namespaced by owner.
type MemorySink struct {
	mu     sync.RWMutex
	tables map[tableKey]*Table
}

type tableKey struct {
	owner kernel.OwnerID
	table string
}

func NewMemorySink() *MemorySink {
	return &MemorySink{tables: make(map[tableKey]*Table)}
}

func (m *MemorySink) Begin(_ context.Context, owner kernel.OwnerID, table string, columns []string) (TableLoad, error) {
	key := tableKey{owner: owner, table: table}
	m.mu.RLock()
	t, ok := m.tables[key]
	m.mu.RUnlock()
	if ok && !slices.Equal(t.Columns, columns) {
		return nil, columnConflict(table, t.Columns)
	}
	return &memoryLoad{sink: m, key: key, columns: slices.Clone(columns)}, nil
}

// memoryLoad buffers rows until Commit.
type memoryLoad struct {
	sink    *MemorySink
	key     tableKey
	columns []string
	rows    [][]string
	done    bool
}

func (l *memoryLoad) Append(_ context.Context, rows [][]string) error {
	if l.done {
		return errLoadFinished
	}
	for _, r := range rows {
		l.rows = append(l.rows, slices.Clone(r))
	}
	return nil
}

func (l *memoryLoad) Commit(_ context.Context) error {
	if l.done {
		return errLoadFinished
	}
	l.done = true

	m := l.sink
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[l.key]
	if !ok {
		m.tables[l.key] = &Table{Columns: l.columns, Rows: l.rows}
		return nil
	}
	// Another upload may have created the table since Begin.
	if !slices.Equal(t.Columns, l.columns) {
		return columnConflict(l.key.table, t.Columns)
	}
	t.Rows = append(t.Rows, l.rows...)
	return nil
}

func (l *memoryLoad) Rollback(_ context.Context) error {
	l.done = true
	l.rows = nil
	return nil
}

// Table returns a copy of owner's table, or false if nothing was loaded.
func (m *MemorySink) Table(owner kernel.OwnerID, table string) (Table, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[tableKey{owner: owner, table: table}]
	if !ok {
		return Table{}, false
	}
	out := Table{Columns: slices.Clone(t.Columns), Rows: make([][]string, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = slices.Clone(r)
	}
	return out, true
}
