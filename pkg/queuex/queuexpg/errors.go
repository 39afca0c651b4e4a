package queuexpg

import "github.com/chatdesk/courier/pkg/errx"

var pgErrors = errx.NewRegistry("QUEUEX_PG")

var (
	ErrMigrate  = pgErrors.Register("MIGRATE_FAILED", errx.TypeInternal, 500, "Failed to run queue migrations")
	ErrEnqueue  = pgErrors.Register("ENQUEUE_FAILED", errx.TypeInternal, 500, "Failed to enqueue job")
	ErrLease    = pgErrors.Register("LEASE_FAILED", errx.TypeInternal, 500, "Failed to lease jobs")
	ErrResolve  = pgErrors.Register("RESOLVE_FAILED", errx.TypeInternal, 500, "Failed to resolve job outcome")
	ErrNotFound = pgErrors.Register("JOB_NOT_FOUND", errx.TypeNotFound, 404, "Job not found")
	ErrQuery    = pgErrors.Register("QUERY_FAILED", errx.TypeInternal, 500, "Job store query failed")
)
