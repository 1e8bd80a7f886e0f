package resilience

import (
	"context"

	"github.com/weftlabs/weft/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across several speech
// backends when opening a stream. Once a stream is open it stays bound to
// the backend that produced it.
type STTFallback struct {
	group *Fallback[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates a failover provider preferring primary.
func NewSTTFallback(name string, primary stt.Provider, opts ...BreakerOption) *STTFallback {
	return &STTFallback{group: NewFallback(name, primary, opts...)}
}

// Add registers a standby speech backend.
func (f *STTFallback) Add(name string, provider stt.Provider) {
	f.group.Add(name, provider)
}

// StartStream opens a session against the first healthy backend.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Try(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
