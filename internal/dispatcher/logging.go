package dispatcher

import "github.com/vinaes/succ-amanstore/internal/logging"

// NewWithFileLogging constructs a Dispatcher the same way New does, except
// when deps.Logger is nil: it sets up the rotating file logger from
// internal/logging instead of falling back to slog.Default(), and returns
// its cleanup function alongside the Dispatcher. Callers that don't already
// own a *slog.Logger (the common case for an embedding process with no
// logging story of its own) should use this instead of New.
func NewWithFileLogging(deps Dependencies, cfg logging.Config) (*Dispatcher, func(), error) {
	cleanup := func() {}
	if deps.Logger == nil {
		logger, stop, err := logging.Setup(cfg)
		if err != nil {
			return nil, nil, err
		}
		deps.Logger = logger
		cleanup = stop
	}

	d, err := New(deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return d, cleanup, nil
}
