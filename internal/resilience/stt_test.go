package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/weftlabs/weft/pkg/provider/stt"
	"github.com/weftlabs/weft/pkg/provider/stt/mock"
)

func TestSTTFallback_PrimaryHealthy(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{}
	standby := &mock.Provider{}
	f := NewSTTFallback("primary", primary)
	f.Add("standby", standby)

	if _, err := f.StartStream(context.Background(), stt.StreamConfig{SampleRate: 48000}); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if len(primary.StartStreamCalls) != 1 {
		t.Fatalf("primary calls = %d, want 1", len(primary.StartStreamCalls))
	}
	if len(standby.StartStreamCalls) != 0 {
		t.Fatalf("standby calls = %d, want 0", len(standby.StartStreamCalls))
	}
}

func TestSTTFallback_FailsOver(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{StartStreamErr: errors.New("backend down")}
	standby := &mock.Provider{}
	f := NewSTTFallback("primary", primary)
	f.Add("standby", standby)

	handle, err := f.StartStream(context.Background(), stt.StreamConfig{SampleRate: 48000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if handle == nil {
		t.Fatal("expected a session handle from the standby")
	}
	if len(standby.StartStreamCalls) != 1 {
		t.Fatalf("standby calls = %d, want 1", len(standby.StartStreamCalls))
	}
}

func TestSTTFallback_AllDown(t *testing.T) {
	t.Parallel()

	f := NewSTTFallback("primary", &mock.Provider{StartStreamErr: errors.New("down")})
	f.Add("standby", &mock.Provider{StartStreamErr: errors.New("also down")})

	if _, err := f.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("got %v, want ErrAllFailed", err)
	}
}
