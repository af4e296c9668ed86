package store

import (
	"github.com/xtxerr/ntuple/internal/errors"
)

var (
	ErrNotFound      = errors.ErrNotFound
	ErrAlreadyExists = errors.ErrAlreadyExists
	ErrLocked        = errors.ErrLocked

	// Variable-specific aliases
	ErrVariableNotFound      = errors.ErrVariableNotFound
	ErrVariableExists        = errors.ErrVariableExists
	ErrContainerNotFound     = errors.ErrContainerNotFound
	ErrBranchExists          = errors.ErrBranchExists
	ErrTypeMismatch          = errors.ErrTypeMismatch
	ErrAlreadyStored         = errors.ErrAlreadyStored
	ErrNotAvailable          = errors.ErrNotAvailable
	ErrInconsistentContainer = errors.ErrInconsistentContainer
)
