package jobxpostgres

import "github.com/Abraxas-365/repohub/pkg/errx"

var pgErrors = errx.NewRegistry("JOBX_POSTGRES")

var (
	ErrCreate     = pgErrors.Register("CREATE", errx.TypeExternal, 500, "Failed to insert job")
	ErrDuplicate  = pgErrors.Register("DUPLICATE_JOB", errx.TypeConflict, 409, "Job id already exists")
	ErrGetJob     = pgErrors.Register("GET_JOB", errx.TypeExternal, 500, "Failed to read job")
	ErrTransition = pgErrors.Register("TRANSITION", errx.TypeExternal, 500, "Failed to update job")
	ErrEnqueue    = pgErrors.Register("ENQUEUE", errx.TypeExternal, 500, "Failed to enqueue job")
	ErrDequeue    = pgErrors.Register("DEQUEUE", errx.TypeExternal, 500, "Failed to dequeue job")
	ErrMigrate    = pgErrors.Register("MIGRATE", errx.TypeExternal, 500, "Failed to apply job schema")
)
