package specials

import "errors"

// ErrInvalidConfig is returned when the configuration cannot be used.
var ErrInvalidConfig = errors.New("specials: invalid configuration")

// ErrUnknownStore is returned for a store name no adapter exists for.
var ErrUnknownStore = errors.New("specials: unknown store")

// ErrNoStores is returned when a run selects no enabled store.
var ErrNoStores = errors.New("specials: no store selected")
