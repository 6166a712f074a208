package provider

import "errors"

// ErrUnknownProvider is returned when a model-id resolves to nothing and
// the cache holds no last-known entry either. Callers route to a default
// queue rather than treat this as fatal.
var ErrUnknownProvider = errors.New("unknown provider")
