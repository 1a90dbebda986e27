// Package jobxredis stores job records as Redis hashes and queues job ids
// on a Redis list.
package jobxredis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/kernel"
	"github.com/redis/go-redis/v9"
)

// Hash fields of a job record.
const (
	fieldJobID           = "job_id"
	fieldOwnerID         = "owner_id"
	fieldRequestType     = "request_type"
	fieldState           = "state"
	fieldRequest         = "request"
	fieldResponse        = "response"
	fieldErrorMessage    = "error_message"
	fieldErrorClass      = "error_classification"
	fieldProgressCurrent = "progress_current"
	fieldProgressTotal   = "progress_total"
	fieldProgressMessage = "progress_message"
	fieldStartedOn       = "started_on"
	fieldLastChangedOn   = "last_changed_on"
)

// Key helpers
func jobKey(id string) string      { return fmt.Sprintf("jobx:job:%s", id) }
func queueKey(name string) string { return fmt.Sprintf("jobx:queue:%s", name) }

// createScript inserts the hash only if the key does not exist yet.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// casScript sets field/value pairs when the current state is one of the
// listed states. ARGV[1] is the number of states, followed by the states,
// followed by the pairs. It returns {code, HGETALL}: -1 missing, 0 rejected,
// 1 applied.
var casScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
    return {-1, {}}
end
local n = tonumber(ARGV[1])
local allowed = false
for i = 2, n + 1 do
    if ARGV[i] == state then
        allowed = true
        break
    end
end
if not allowed then
    return {0, redis.call('HGETALL', KEYS[1])}
end
redis.call('HSET', KEYS[1], unpack(ARGV, n + 2))
return {1, redis.call('HGETALL', KEYS[1])}
`)

// Store implements jobx.Store backed by Redis hashes.
type Store struct {
	rdb redis.UniversalClient
	now func() time.Time
}

// NewStore creates a Redis-backed store.
func NewStore(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Create(ctx context.Context, rec *jobx.JobRecord) error {
	ok, err := createScript.Run(ctx, s.rdb, []string{jobKey(rec.JobID)}, encode(rec)...).Int()
	if err != nil {
		return redisErrors.NewWithCause(ErrCreate, err).WithDetail("job_id", rec.JobID)
	}
	if ok == 0 {
		return redisErrors.New(ErrDuplicate).WithDetail("job_id", rec.JobID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*jobx.JobRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, redisErrors.NewWithCause(ErrGetJob, err).WithDetail("job_id", jobID)
	}
	if len(fields) == 0 {
		return nil, jobx.NotFound(jobID)
	}
	return decode(jobID, fields)
}

func (s *Store) Transition(ctx context.Context, jobID string, t jobx.Transition) (*jobx.JobRecord, bool, error) {
	if err := t.Validate(); err != nil {
		return nil, false, err
	}
	set := []any{
		fieldState, string(t.To),
		fieldLastChangedOn, formatTime(s.now()),
	}
	if t.To == jobx.StateComplete {
		set = append(set, fieldResponse, string(t.Response))
	}
	if t.Error != nil {
		set = append(set, fieldErrorMessage, t.Error.Message, fieldErrorClass, string(t.Error.Classification))
	}
	return s.cas(ctx, jobID, t.Sources(), set)
}

func (s *Store) UpdateProgress(ctx context.Context, jobID string, p jobx.Progress) (*jobx.JobRecord, error) {
	rec, _, err := s.cas(ctx, jobID, []jobx.State{jobx.StateProcessing}, []any{
		fieldProgressCurrent, p.Current,
		fieldProgressTotal, p.Total,
		fieldProgressMessage, p.Message,
		fieldLastChangedOn, formatTime(s.now()),
	})
	return rec, err
}

func (s *Store) cas(ctx context.Context, jobID string, from []jobx.State, set []any) (*jobx.JobRecord, bool, error) {
	args := make([]any, 0, 1+len(from)+len(set))
	args = append(args, len(from))
	for _, st := range from {
		args = append(args, string(st))
	}
	args = append(args, set...)

	res, err := casScript.Run(ctx, s.rdb, []string{jobKey(jobID)}, args...).Slice()
	if err != nil {
		return nil, false, redisErrors.NewWithCause(ErrTransition, err).WithDetail("job_id", jobID)
	}
	if len(res) != 2 {
		return nil, false, redisErrors.NewWithMessage(ErrTransition, "unexpected script reply").WithDetail("job_id", jobID)
	}
	code, _ := res[0].(int64)
	if code < 0 {
		return nil, false, jobx.NotFound(jobID)
	}
	fields, err := pairs(res[1])
	if err != nil {
		return nil, false, redisErrors.NewWithCause(ErrUnmarshal, err).WithDetail("job_id", jobID)
	}
	rec, err := decode(jobID, fields)
	if err != nil {
		return nil, false, err
	}
	return rec, code == 1, nil
}

func encode(rec *jobx.JobRecord) []any {
	out := []any{
		fieldJobID, rec.JobID,
		fieldOwnerID, rec.OwnerID.String(),
		fieldRequestType, rec.RequestType,
		fieldState, string(rec.State),
		fieldRequest, string(rec.Request),
		fieldStartedOn, formatTime(rec.StartedOn),
		fieldLastChangedOn, formatTime(rec.LastChangedOn),
	}
	if rec.Response != nil {
		out = append(out, fieldResponse, string(rec.Response))
	}
	if rec.Error != nil {
		out = append(out, fieldErrorMessage, rec.Error.Message, fieldErrorClass, string(rec.Error.Classification))
	}
	if p := rec.Progress; p != nil {
		out = append(out, fieldProgressCurrent, p.Current, fieldProgressTotal, p.Total, fieldProgressMessage, p.Message)
	}
	return out
}

func decode(jobID string, f map[string]string) (*jobx.JobRecord, error) {
	rec := &jobx.JobRecord{
		JobID:       f[fieldJobID],
		OwnerID:     kernel.OwnerID(f[fieldOwnerID]),
		RequestType: f[fieldRequestType],
		State:       jobx.State(f[fieldState]),
		Request:     []byte(f[fieldRequest]),
	}
	if !rec.State.Valid() {
		return nil, redisErrors.NewWithMessage(ErrUnmarshal, "unknown job state").
			WithDetail("job_id", jobID).
			WithDetail("state", f[fieldState])
	}
	if v, ok := f[fieldResponse]; ok {
		rec.Response = []byte(v)
	}
	if v, ok := f[fieldErrorClass]; ok {
		rec.Error = &jobx.ErrorInfo{Message: f[fieldErrorMessage], Classification: jobx.Classification(v)}
	}
	if v, ok := f[fieldProgressCurrent]; ok {
		p := &jobx.Progress{Message: f[fieldProgressMessage]}
		var err1, err2 error
		p.Current, err1 = strconv.ParseInt(v, 10, 64)
		p.Total, err2 = strconv.ParseInt(f[fieldProgressTotal], 10, 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, redisErrors.NewWithCause(ErrUnmarshal, err).WithDetail("job_id", jobID)
		}
		rec.Progress = p
	}
	var err1, err2 error
	rec.StartedOn, err1 = time.Parse(time.RFC3339Nano, f[fieldStartedOn])
	rec.LastChangedOn, err2 = time.Parse(time.RFC3339Nano, f[fieldLastChangedOn])
	if err := errors.Join(err1, err2); err != nil {
		return nil, redisErrors.NewWithCause(ErrUnmarshal, err).WithDetail("job_id", jobID)
	}
	return rec, nil
}

// pairs converts an HGETALL array reply into a map.
func pairs(v any) (map[string]string, error) {
	arr, ok := v.([]any)
	if !ok || len(arr)%2 != 0 {
		return nil, fmt.Errorf("expected field/value pairs, got %T", v)
	}
	out := make(map[string]string, len(arr)/2)
	for i := 0; i < len(arr); i += 2 {
		k, kok := arr[i].(string)
		val, vok := arr[i+1].(string)
		if !kok || !vok {
			return nil, fmt.Errorf("non-string hash entry at %d", i)
		}
		out[k] = val
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Queue implements jobx.Queue on a Redis list.
type Queue struct {
	rdb  redis.UniversalClient
	name string
}

// NewQueue creates a queue on the list jobx:queue:<name>.
func NewQueue(rdb redis.UniversalClient, name string) *Queue {
	if name == "" {
		name = "default"
	}
	return &Queue{rdb: rdb, name: name}
}

func (q *Queue) Push(ctx context.Context, jobID string) error {
	if err := q.rdb.LPush(ctx, queueKey(q.name), jobID).Err(); err != nil {
		return redisErrors.NewWithCause(ErrEnqueue, err).WithDetail("queue", q.name)
	}
	return nil
}

// Pop blocks until a job id is available or the timeout expires.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.rdb.BRPop(ctx, timeout, queueKey(q.name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", redisErrors.NewWithCause(ErrDequeue, err).WithDetail("queue", q.name)
	}

	// result[0] = key, result[1] = job ID
	return result[1], nil
}

var (
	_ jobx.Store = (*Store)(nil)
	_ jobx.Queue = (*Queue)(nil)
)
