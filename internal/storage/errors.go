package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicateReward is returned when a reward score already exists for
// the (call, parameter) pair. Learning for that pair already happened and
// must not be applied twice.
var ErrDuplicateReward = errors.New("storage: reward score already exists")

// ErrConflict is returned when a target write loses a race with a
// concurrent update to the same (parameter, scope, entity) tuple. The
// caller should re-read the active target and retry once.
var ErrConflict = errors.New("storage: concurrent target update conflict")
