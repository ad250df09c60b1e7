package pagecache

// SentinelError is an error.
type SentinelError string

const (
	// ErrNotFound indicates missing cache entry.
	//
	// Handlers may return it from Get instead of a nil entry, both mean a clean miss.
	ErrNotFound = SentinelError("missing cache item")

	// ErrConfiguration indicates failed bootstrap, it is returned to every caller of a misconfigured CacheHandler.
	ErrConfiguration = SentinelError("cache handler configuration failed")

	// ErrNoCreationHook indicates CacheHandler was created without Config.OnCreation.
	ErrNoCreationHook = SentinelError("creation hook is not set")

	// ErrInvalidEstimator indicates expire age estimator returning values below stale age.
	ErrInvalidEstimator = SentinelError("expire age estimator returned age below stale age")

	// ErrInvalidStaleAge indicates negative default stale age.
	ErrInvalidStaleAge = SentinelError("default stale age must not be negative")

	// ErrInvalidKey indicates a key that can not be mapped to a file inside fallback directory.
	ErrInvalidKey = SentinelError("invalid cache key")

	// ErrNothingToInvalidate indicates no tags or target were added to Invalidator.
	ErrNothingToInvalidate = SentinelError("nothing to invalidate")

	// ErrAlreadyInvalidated indicates recent invalidation.
	ErrAlreadyInvalidated = SentinelError("already invalidated")
)

// Error implements error.
func (e SentinelError) Error() string {
	return string(e)
}
