package omnidex

import "github.com/kailas-cloud/omnidex/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound               = domain.ErrNotFound
	ErrAlreadyExists          = domain.ErrAlreadyExists
	ErrInvalidArgument        = domain.ErrInvalidArgument
	ErrConflict               = domain.ErrConflict
	ErrRateLimited            = domain.ErrRateLimited
	ErrTimeout                = domain.ErrTimeout
	ErrIncompatibleStoredData = domain.ErrIncompatibleStoredData
)
