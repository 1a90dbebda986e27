package jobxredis

import "github.com/Abraxas-365/repohub/pkg/errx"

var redisErrors = errx.NewRegistry("JOBX_REDIS")

var (
	ErrCreate     = redisErrors.Register("CREATE", errx.TypeExternal, 500, "Redis create job failed")
	ErrDuplicate  = redisErrors.Register("DUPLICATE_JOB", errx.TypeConflict, 409, "Job id already exists in Redis")
	ErrGetJob     = redisErrors.Register("GET_JOB", errx.TypeExternal, 500, "Redis get job failed")
	ErrTransition = redisErrors.Register("TRANSITION", errx.TypeExternal, 500, "Redis job transition failed")
	ErrEnqueue    = redisErrors.Register("ENQUEUE", errx.TypeExternal, 500, "Redis enqueue failed")
	ErrDequeue    = redisErrors.Register("DEQUEUE", errx.TypeExternal, 500, "Redis dequeue failed")
	ErrUnmarshal  = redisErrors.Register("UNMARSHAL", errx.TypeInternal, 500, "Failed to read job hash")
)
