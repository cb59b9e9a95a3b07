package pipeline

import "errors"

var (
	// ErrAllProvidersFailed means every configured provider exhausted its
	// attempts for a page.
	ErrAllProvidersFailed = errors.New("all providers failed")
	// ErrNoProviders means the orchestrator was built with an empty
	// endpoint list.
	ErrNoProviders = errors.New("no providers configured")
	// ErrJobDeadlineExceeded means a job ran past its wall-clock budget
	// and was abandoned mid-flight for the sweeper to recover.
	ErrJobDeadlineExceeded = errors.New("job deadline exceeded")
)
