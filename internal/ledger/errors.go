package ledger

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates no record exists for the given id.
var ErrNotFound = errors.New("migration record not found")

// ErrStoreUnavailable indicates the backing store could not be reached or
// could not durably complete the operation.
var ErrStoreUnavailable = errors.New("ledger store unavailable")

// ErrSerialization indicates a stored record could not be decoded.
var ErrSerialization = errors.New("decoding migration record")

// ErrInvalidArgument indicates a call was rejected before reaching the store.
var ErrInvalidArgument = errors.New("invalid ledger argument")

// ErrInvalidText indicates a name, script, or log fragment is not valid UTF-8.
// It wraps ErrInvalidArgument.
var ErrInvalidText = fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidArgument)
