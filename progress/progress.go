package progress

import (
	"sync"

	"github.com/pterm/pterm"
)

// Bar tracks replay progress over an mbox archive. It stays silent unless
// the log level is "info": at debug the log lines are the progress, and at
// warn/error the operator asked for quiet.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	mu      sync.Mutex
	enabled bool
}

func New(total int, logLevel string) *Bar {
	bar := &Bar{enabled: logLevel == "info"}

	if bar.enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Replaying messages").
			Start()
		bar.pb = pb
	}

	return bar
}

// Increment advances the bar by one message.
func (b *Bar) Increment() {
	if !b.enabled || b.pb == nil {
		return
	}
	b.mu.Lock()
	b.pb.Increment()
	b.mu.Unlock()
}

// Stop finishes rendering. Safe to call when the bar is disabled.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}
	b.mu.Lock()
	_, _ = b.pb.Stop()
	b.mu.Unlock()
}
