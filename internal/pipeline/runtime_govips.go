//go:build govips && cgo

package pipeline

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Startup boots libvips once per process. Later calls ignore cfg.
func Startup(cfg RuntimeConfig) error {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			ConcurrencyLevel: max(0, cfg.Concurrency),
			MaxCacheFiles:    0,
			MaxCacheMem:      cfg.cacheMemBytes(),
			MaxCacheSize:     100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func Backend() string {
	return "govips"
}

func newTransformer() (Transformer, error) {
	return govipsTransformer{}, nil
}
