package datarepo

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Abraxas-365/repohub/pkg/fsx"
	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/Abraxas-365/repohub/pkg/logx"
	"github.com/Abraxas-365/repohub/pkg/wirex"
)

const (
	DefaultBatchSize    = 1000
	DefaultPreviewLimit = 10
	MaxPreviewLimit     = 100
)

var (
	tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
	fileName  = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]{0,127}$`)
)

// FilePath is where owner's staged file name lives in storage. Requests name
// files relative to their owner, so one owner cannot read another's uploads.
func FilePath(owner kernel.OwnerID, name string) (string, error) {
	if owner.IsEmpty() || !fileName.MatchString(name) {
		return "", jobx.Failf(jobx.ClassInvalidRequest, "invalid file name %q", name)
	}
	return owner.String() + "/" + name, nil
}

// Service runs table jobs: it reads files through fsx and loads rows into
// a TableSink.
type Service struct {
	files     fsx.FileReader
	sink      TableSink
	batchSize int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBatchSize sets how many rows are read between sink writes and
// progress reports.
func WithBatchSize(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func NewService(files fsx.FileReader, sink TableSink, opts ...ServiceOption) *Service {
	s := &Service{files: files, sink: sink, batchSize: DefaultBatchSize}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterHandlers binds the table request types to d.
func (s *Service) RegisterHandlers(d *jobx.Dispatcher) error {
	if err := jobx.Handle(d, s.Upload); err != nil {
		return err
	}
	return jobx.Handle(d, s.Preview)
}

// Upload loads req.File into req.Table. The file is loaded whole or not at
// all: rows reach the table only once every row was read and the job was
// not cancelled.
func (s *Service) Upload(ctx context.Context, exec *jobx.Execution, req *UploadJob) (wirex.Entity, error) {
	if !tableName.MatchString(req.Table) {
		return nil, jobx.Failf(jobx.ClassInvalidRequest, "invalid table name %q", req.Table)
	}

	path, err := FilePath(exec.Owner(), req.File)
	if err != nil {
		return nil, err
	}
	info, err := s.files.Stat(ctx, path)
	if err != nil {
		if fsx.ErrFileNotFound.Is(err) {
			return nil, jobx.FailWith(jobx.ClassInvalidRequest, fmt.Sprintf("file %q not found", req.File), err)
		}
		return nil, err
	}
	src, err := s.open(ctx, path, req.Delimiter, req.Filter)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	load, err := s.sink.Begin(ctx, exec.Owner(), req.Table, src.columns)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := load.Rollback(context.WithoutCancel(ctx)); err != nil {
			logx.WithError(err).WithField("job_id", exec.JobID()).Warn("table upload rollback failed")
		}
	}()

	var (
		read, kept int64
		batch      = make([][]string, 0, s.batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := load.Append(ctx, batch); err != nil {
			return err
		}
		batch = make([][]string, 0, s.batchSize)
		return nil
	}

	for {
		row, err := src.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		read++
		if src.filter.Match(row) {
			kept++
			batch = append(batch, row.values)
		}
		if read%int64(s.batchSize) != 0 {
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		if err := exec.Progress(ctx, src.counter.n, info.Size, fmt.Sprintf("%d rows read", read)); err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if err := exec.Checkpoint(ctx); err != nil {
		return nil, err
	}
	if err := load.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	logx.WithFields(logx.Fields{
		"job_id":  exec.JobID(),
		"table":   req.Table,
		"rows":    kept,
		"skipped": read - kept,
	}).Info("table upload finished")

	return &UploadResult{
		Table:   req.Table,
		Rows:    kept,
		Skipped: read - kept,
		Columns: src.columns,
	}, nil
}

// Preview returns the header and the first matching rows of req.File.
func (s *Service) Preview(ctx context.Context, exec *jobx.Execution, req *PreviewTable) (wirex.Entity, error) {
	path, err := FilePath(exec.Owner(), req.File)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultPreviewLimit
	}
	if limit < 0 || limit > MaxPreviewLimit {
		return nil, jobx.Failf(jobx.ClassInvalidRequest, "limit must be between 1 and %d", MaxPreviewLimit)
	}

	src, err := s.open(ctx, path, req.Delimiter, req.Filter)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	out := &PreviewResult{Columns: src.columns, Rows: [][]string{}}
	for read := 1; len(out.Rows) < limit; read++ {
		row, err := src.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if src.filter.Match(row) {
			out.Rows = append(out.Rows, row.values)
		}
		if read%s.batchSize == 0 {
			if err := exec.Checkpoint(ctx); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// source is an open file positioned after its header.
type source struct {
	io.Closer
	counter *countingReader
	reader  *csv.Reader
	columns []string
	index   map[string]int
	filter  RowFilter
}

func (s *Service) open(ctx context.Context, file, delimiter string, filter wirex.Nested[RowFilter]) (*source, error) {
	comma, err := parseDelimiter(delimiter)
	if err != nil {
		return nil, err
	}

	rc, err := s.files.ReadFileStream(ctx, file)
	if err != nil {
		return nil, err
	}
	src := &source{Closer: rc, counter: &countingReader{r: rc}, filter: filterOf(filter)}
	src.reader = csv.NewReader(src.counter)
	src.reader.Comma = comma

	if err := src.readHeader(); err != nil {
		rc.Close()
		return nil, err
	}
	if err := src.filter.Validate(src.index); err != nil {
		rc.Close()
		return nil, err
	}
	return src, nil
}

func (src *source) readHeader() error {
	header, err := src.reader.Read()
	if errors.Is(err, io.EOF) {
		return jobx.Fail(jobx.ClassInvalidRequest, "file is empty")
	}
	if err != nil {
		return readFailure(err)
	}

	src.columns = make([]string, len(header))
	src.index = make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return jobx.Failf(jobx.ClassInvalidRequest, "header column %d is empty", i+1)
		}
		if _, dup := src.index[name]; dup {
			return jobx.Failf(jobx.ClassInvalidRequest, "duplicate column %q", name)
		}
		src.columns[i] = name
		src.index[name] = i
	}
	return nil
}

func (src *source) next() (Row, error) {
	rec, err := src.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Row{}, io.EOF
		}
		return Row{}, readFailure(err)
	}
	return Row{index: src.index, values: rec}, nil
}

func parseDelimiter(d string) (rune, error) {
	if d == "" {
		return ',', nil
	}
	r, size := utf8.DecodeRuneInString(d)
	if size != len(d) || !validDelim(r) {
		return 0, jobx.Failf(jobx.ClassInvalidRequest, "invalid delimiter %q", d)
	}
	return r, nil
}

// validDelim accepts the runes encoding/csv accepts as a field delimiter.
func validDelim(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' && utf8.ValidRune(r) && r != utf8.RuneError
}

func readFailure(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return jobx.FailWith(jobx.ClassInvalidRequest, fmt.Sprintf("line %d: %v", pe.Line, pe.Err), err)
	}
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
