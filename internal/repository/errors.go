package repository

import "errors"

var (
	// ErrNotFound is returned for missing rows and for rows whose tenant id
	// does not match the scope of the query. Callers cannot distinguish the
	// two cases, which is what keeps cross-tenant probing blind.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a uniqueness constraint is violated
	// (tenant slug, email within tenant, agent name within tenant).
	ErrDuplicate = errors.New("already exists")

	// ErrNoTransition is returned by conditional status updates that matched
	// no row, meaning the entity was not in an eligible state.
	ErrNoTransition = errors.New("no eligible row for transition")
)
