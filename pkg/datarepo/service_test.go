package datarepo_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Abraxas-365/repohub/pkg/datarepo"
	"github.com/Abraxas-365/repohub/pkg/fsx/fsxlocal"
	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxmemory"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/Abraxas-365/repohub/pkg/wirex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner kernel.OwnerID = "acme/alice"

const orders = "id,region,vip\n" +
	"1,EU,\n" +
	"2,US,yes\n" +
	"3,eu,\n" +
	"4,APAC,\n" +
	"5,EU,yes\n"

type harness struct {
	files  *fsxlocal.LocalFileSystem
	sink   *datarepo.MemorySink
	store  *jobxmemory.Store
	queue  *jobxmemory.Queue
	codec  *wirex.Codec
	disp   *jobx.Dispatcher
	status *jobx.StatusService
}

func newHarness(t *testing.T, opts ...datarepo.ServiceOption) *harness {
	t.Helper()
	files, err := fsxlocal.NewLocalFileSystem(t.TempDir())
	require.NoError(t, err)

	reg := wirex.NewRegistry()
	require.NoError(t, datarepo.Register(reg))
	codec := wirex.NewCodec(reg)

	h := &harness{
		files: files,
		sink:  datarepo.NewMemorySink(),
		store: jobxmemory.NewStore(),
		queue: jobxmemory.NewQueue(16),
		codec: codec,
	}
	h.disp = jobx.NewDispatcher(h.store, h.queue, codec, jobx.WithCancelCheckInterval(0))
	h.status = jobx.NewStatusService(h.store, codec)
	require.NoError(t, datarepo.NewService(files, h.sink, opts...).RegisterHandlers(h.disp))
	return h
}

func (h *harness) write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, h.files.WriteFile(context.Background(), owner.String()+"/"+path, []byte(body)))
}

// run submits req, processes it inline and returns the outcome.
func (h *harness) run(t *testing.T, req wirex.Entity) *jobx.Outcome {
	t.Helper()
	ctx := context.Background()
	id, err := h.disp.Start(ctx, owner, req)
	require.NoError(t, err)
	popped, err := h.queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, id, popped)

	h.disp.Process(ctx, id)
	out, err := h.status.Get(ctx, owner, id)
	require.NoError(t, err)
	return out
}

func anyOf(filters ...datarepo.RowFilter) wirex.Nested[datarepo.RowFilter] {
	n := make([]wirex.Nested[datarepo.RowFilter], len(filters))
	for i, f := range filters {
		n[i] = wirex.NewNested(f)
	}
	return wirex.NewNested[datarepo.RowFilter](&datarepo.AnyOf{Filters: n})
}

func TestUpload_LoadsFilteredRows(t *testing.T) {
	h := newHarness(t)
	h.write(t, "orders.csv", orders)

	out := h.run(t, &datarepo.UploadJob{
		File:  "orders.csv",
		Table: "orders",
		Filter: anyOf(
			&datarepo.ColumnEquals{Column: "region", Value: "EU", IgnoreCase: true},
			&datarepo.ColumnNotEmpty{Column: "vip"},
		),
	})
	require.Equal(t, jobx.OutcomeSuccess, out.Kind, "failure: %+v", out.Failure)

	res, ok := out.Response.(*datarepo.UploadResult)
	require.True(t, ok)
	assert.Equal(t, &datarepo.UploadResult{
		Table:   "orders",
		Rows:    4,
		Skipped: 1,
		Columns: []string{"id", "region", "vip"},
	}, res)

	table, ok := h.sink.Table(owner, "orders")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"1", "EU", ""}, {"2", "US", "yes"}, {"3", "eu", ""}, {"5", "EU", "yes"}}, table.Rows)
}

func TestUpload_NoFilterKeepsEverything(t *testing.T) {
	h := newHarness(t)
	h.write(t, "orders.tsv", strings.ReplaceAll(orders, ",", "\t"))

	out := h.run(t, &datarepo.UploadJob{File: "orders.tsv", Table: "orders", Delimiter: "\t"})
	require.Equal(t, jobx.OutcomeSuccess, out.Kind, "failure: %+v", out.Failure)
	assert.Equal(t, int64(5), out.Response.(*datarepo.UploadResult).Rows)
}

func TestUpload_ReportsProgressPerBatch(t *testing.T) {
	h := newHarness(t, datarepo.WithBatchSize(2))

	var b strings.Builder
	b.WriteString("n\n")
	for i := range 7 {
		fmt.Fprintf(&b, "%d\n", i)
	}
	h.write(t, "numbers.csv", b.String())

	out := h.run(t, &datarepo.UploadJob{File: "numbers.csv", Table: "numbers"})
	require.Equal(t, jobx.OutcomeSuccess, out.Kind)

	require.NotNil(t, out.Record.Progress)
	assert.Equal(t, "6 rows read", out.Record.Progress.Message)
	assert.Equal(t, int64(b.Len()), out.Record.Progress.Total)
	assert.LessOrEqual(t, out.Record.Progress.Current, out.Record.Progress.Total)

	table, ok := h.sink.Table(owner, "numbers")
	require.True(t, ok)
	assert.Len(t, table.Rows, 7)
}

func TestUpload_InvalidRequests(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		req     *datarepo.UploadJob
		message string
	}{
		{
			name:    "missing file",
			req:     &datarepo.UploadJob{File: "nope.csv", Table: "t"},
			message: `file "nope.csv" not found`,
		},
		{
			name:    "path outside the owner",
			req:     &datarepo.UploadJob{File: "../bob/orders.csv", Table: "t"},
			message: "invalid file name",
		},
		{
			name:    "bad table name",
			req:     &datarepo.UploadJob{File: "a.csv", Table: "drop table;"},
			message: "invalid table name",
		},
		{
			name:    "empty file",
			file:    "a.csv",
			req:     &datarepo.UploadJob{File: "a.csv", Table: "t"},
			message: "file is empty",
		},
		{
			name:    "duplicate header",
			file:    "a.csv",
			body:    "id,id\n1,2\n",
			req:     &datarepo.UploadJob{File: "a.csv", Table: "t"},
			message: `duplicate column "id"`,
		},
		{
			name:    "ragged row",
			file:    "a.csv",
			body:    "id,region\n1,EU\n2\n",
			req:     &datarepo.UploadJob{File: "a.csv", Table: "t"},
			message: "line 3",
		},
		{
			name:    "unknown filter column",
			file:    "a.csv",
			body:    orders,
			req:     &datarepo.UploadJob{File: "a.csv", Table: "t", Filter: wirex.NewNested[datarepo.RowFilter](&datarepo.ColumnNotEmpty{Column: "country"})},
			message: `unknown column "country"`,
		},
		{
			name:    "bad delimiter",
			file:    "a.csv",
			body:    orders,
			req:     &datarepo.UploadJob{File: "a.csv", Table: "t", Delimiter: ";;"},
			message: "invalid delimiter",
		},
		{
			name:    "nul delimiter",
			file:    "a.csv",
			body:    orders,
			req:     &datarepo.UploadJob{File: "a.csv", Table: "t", Delimiter: "\x00"},
			message: "invalid delimiter",
		},
		{
			name:    "replacement char delimiter",
			file:    "a.csv",
			body:    orders,
			req:     &datarepo.UploadJob{File: "a.csv", Table: "t", Delimiter: "\uFFFD"},
			message: "invalid delimiter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.file != "" {
				h.write(t, tt.file, tt.body)
			}
			out := h.run(t, tt.req)
			require.Equal(t, jobx.OutcomeFailure, out.Kind)
			assert.Equal(t, jobx.ClassInvalidRequest, out.Failure.Classification)
			assert.Contains(t, out.Failure.Message, tt.message)
		})
	}
}

func TestUpload_ColumnConflict(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.csv", "id\n1\n")
	h.write(t, "b.csv", "id,total\n1,2\n")

	require.Equal(t, jobx.OutcomeSuccess, h.run(t, &datarepo.UploadJob{File: "a.csv", Table: "t"}).Kind)

	out := h.run(t, &datarepo.UploadJob{File: "b.csv", Table: "t"})
	require.Equal(t, jobx.OutcomeFailure, out.Kind)
	assert.Equal(t, jobx.ClassConflict, out.Failure.Classification)
}

func TestPreview(t *testing.T) {
	h := newHarness(t)
	h.write(t, "orders.csv", orders)

	out := h.run(t, &datarepo.PreviewTable{
		File:   "orders.csv",
		Limit:  2,
		Filter: wirex.NewNested[datarepo.RowFilter](&datarepo.ColumnEquals{Column: "region", Value: "EU"}),
	})
	require.Equal(t, jobx.OutcomeSuccess, out.Kind, "failure: %+v", out.Failure)
	assert.Equal(t, &datarepo.PreviewResult{
		Columns: []string{"id", "region", "vip"},
		Rows:    [][]string{{"1", "EU", ""}, {"5", "EU", "yes"}},
	}, out.Response)

	_, ok := h.sink.Table(owner, "orders")
	assert.False(t, ok)

	out = h.run(t, &datarepo.PreviewTable{File: "orders.csv", Limit: datarepo.MaxPreviewLimit + 1})
	require.Equal(t, jobx.OutcomeFailure, out.Kind)
	assert.Equal(t, jobx.ClassInvalidRequest, out.Failure.Classification)
}

// hookSink runs onAppend before each batch is appended.
type hookSink struct {
	*datarepo.MemorySink
	onAppend func()
}

func (s *hookSink) Begin(ctx context.Context, o kernel.OwnerID, table string, columns []string) (datarepo.TableLoad, error) {
	l, err := s.MemorySink.Begin(ctx, o, table, columns)
	if err != nil {
		return nil, err
	}
	return &hookLoad{TableLoad: l, onAppend: s.onAppend}, nil
}

type hookLoad struct {
	datarepo.TableLoad
	onAppend func()
}

func (l *hookLoad) Append(ctx context.Context, rows [][]string) error {
	l.onAppend()
	return l.TableLoad.Append(ctx, rows)
}

func TestUpload_CancelledBetweenBatches(t *testing.T) {
	files, err := fsxlocal.NewLocalFileSystem(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, files.WriteFile(context.Background(), owner.String()+"/orders.csv", []byte(orders)))

	reg := wirex.NewRegistry()
	require.NoError(t, datarepo.Register(reg))
	codec := wirex.NewCodec(reg)
	store := jobxmemory.NewStore()
	queue := jobxmemory.NewQueue(1)
	disp := jobx.NewDispatcher(store, queue, codec, jobx.WithCancelCheckInterval(0))
	status := jobx.NewStatusService(store, codec)

	ctx := context.Background()
	var (
		jobID   string
		appends int
	)
	sink := &hookSink{MemorySink: datarepo.NewMemorySink()}
	sink.onAppend = func() {
		appends++
		_ = status.Cancel(ctx, owner, jobID)
	}
	require.NoError(t, datarepo.NewService(files, sink, datarepo.WithBatchSize(1)).RegisterHandlers(disp))

	jobID, err = disp.Start(ctx, owner, &datarepo.UploadJob{File: "orders.csv", Table: "orders"})
	require.NoError(t, err)
	disp.Process(ctx, jobID)

	out, err := status.Get(ctx, owner, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobx.OutcomeCancelled, out.Kind)
	assert.Equal(t, jobx.StateCancelled, out.Record.State)
	assert.Equal(t, 1, appends)

	_, ok := sink.Table(owner, "orders")
	assert.False(t, ok)
}

func TestUpload_FailureMidFileLoadsNothing(t *testing.T) {
	h := newHarness(t, datarepo.WithBatchSize(2))
	h.write(t, "orders.csv", "id,region\n1,EU\n2,US\n3,EU\n4,US,extra\n5,EU\n")

	out := h.run(t, &datarepo.UploadJob{File: "orders.csv", Table: "orders"})
	require.Equal(t, jobx.OutcomeFailure, out.Kind)
	assert.Equal(t, jobx.ClassInvalidRequest, out.Failure.Classification)
	assert.Contains(t, out.Failure.Message, "line 5")

	_, ok := h.sink.Table(owner, "orders")
	assert.False(t, ok)

	h.write(t, "fixed.csv", "id,region\n1,EU\n2,US\n")
	require.Equal(t, jobx.OutcomeSuccess, h.run(t, &datarepo.UploadJob{File: "fixed.csv", Table: "orders"}).Kind)
	table, ok := h.sink.Table(owner, "orders")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"1", "EU"}, {"2", "US"}}, table.Rows)
}

func TestUpload_FailureKeepsEarlierUploads(t *testing.T) {
	h := newHarness(t, datarepo.WithBatchSize(1))
	h.write(t, "a.csv", "id\n1\n")
	h.write(t, "b.csv", "id\n2\n3,4\n")

	require.Equal(t, jobx.OutcomeSuccess, h.run(t, &datarepo.UploadJob{File: "a.csv", Table: "t"}).Kind)
	require.Equal(t, jobx.OutcomeFailure, h.run(t, &datarepo.UploadJob{File: "b.csv", Table: "t"}).Kind)

	table, ok := h.sink.Table(owner, "t")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"1"}}, table.Rows)
}

func TestMemorySink_CommitRechecksColumns(t *testing.T) {
	ctx := context.Background()
	sink := datarepo.NewMemorySink()

	first, err := sink.Begin(ctx, owner, "t", []string{"id"})
	require.NoError(t, err)
	second, err := sink.Begin(ctx, owner, "t", []string{"id", "total"})
	require.NoError(t, err)

	require.NoError(t, first.Append(ctx, [][]string{{"1"}}))
	require.NoError(t, first.Commit(ctx))

	require.NoError(t, second.Append(ctx, [][]string{{"1", "2"}}))
	err = second.Commit(ctx)
	assert.Equal(t, jobx.ClassConflict, jobx.Classify(err).Classification)
	require.NoError(t, second.Rollback(ctx))

	table, ok := sink.Table(owner, "t")
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, table.Columns)
	assert.Equal(t, [][]string{{"1"}}, table.Rows)
}
