package transport

import (
	"context"
	"sync"
	"time"

	"devicesync/internal/logger"
)

// ReadFunc fetches the current device-scale value of a device.
type ReadFunc func(ctx context.Context, deviceID string) (float64, error)

// Poller reads every watched device at a fixed interval. A device whose
// previous read is still running is skipped for that tick.
type Poller struct {
	interval time.Duration
	devices  func() []string
	read     ReadFunc
	deliver  func(deviceID string, value float64)
	log      *logger.Logger

	mu       sync.Mutex
	inflight map[string]bool
	stop     chan struct{}
	done     chan struct{}
}

func NewPoller(interval time.Duration, devices func() []string, read ReadFunc, deliver func(string, float64), log *logger.Logger) *Poller {
	if log == nil {
		log = logger.Nop()
	}
	return &Poller{
		interval: interval,
		devices:  devices,
		read:     read,
		deliver:  deliver,
		log:      log,
		inflight: make(map[string]bool),
	}
}

// Start begins polling with an immediate first round. Reads use ctx, so
// stopping the poller does not abort reads already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(ctx, p.stop, p.done)
}

// Stop ends the ticker loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

func (p *Poller) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.round(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.round(ctx)
		}
	}
}

func (p *Poller) round(ctx context.Context) {
	for _, id := range p.devices() {
		p.mu.Lock()
		busy := p.inflight[id]
		if !busy {
			p.inflight[id] = true
		}
		p.mu.Unlock()
		if busy {
			continue
		}
		go p.poll(ctx, id)
	}
}

func (p *Poller) poll(ctx context.Context, deviceID string) {
	defer func() {
		p.mu.Lock()
		delete(p.inflight, deviceID)
		p.mu.Unlock()
	}()
	v, err := p.read(ctx, deviceID)
	if err != nil {
		p.log.Warnw("poll_read_failed", "device_id", deviceID, "err", err)
		return
	}
	p.deliver(deviceID, v)
}
