// Package reel drives the slot-machine display shown while a draw is spinning.
//
// The reel only cycles names for presentation. Winners come from the draw
// engine and are asked for once, when the reel has come to rest.
package reel

import (
	"context"
	"time"

	"luckydraw/internal/draw"
)

// Config controls the reel timing.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Decay is the per-frame speed factor applied after stop. Delay grows by 1/Decay.
	Decay float64
}

func DefaultConfig() Config {
	return Config{InitialDelay: 50 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Decay: 0.92}
}

// Frame is one picture of the reel.
type Frame struct {
	Seq     int      `json:"seq"`
	Names   []string `json:"names"`
	DelayMs int64    `json:"delayMs"`
	Final   bool     `json:"final"`
}

// Spin describes what a reel shows for one round.
type Spin struct {
	// Names are the candidates cycled on the reel.
	Names []string
	// Slots is the number of names shown per frame.
	Slots int
	// Stop is closed when the round is stopped. A nil channel spins until ctx ends.
	Stop <-chan struct{}
	// Result returns the names shown on the final frame.
	Result func() []string
}

type Reel struct {
	cfg    Config
	source draw.Source
}

func New(cfg Config, source draw.Source) *Reel {
	def := DefaultConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.Decay <= 0 || cfg.Decay >= 1 {
		cfg.Decay = def.Decay
	}
	if source == nil {
		source = draw.NewCryptoSource()
	}
	return &Reel{cfg: cfg, source: source}
}

// Run emits frames until the spin is stopped and the reel has slowed to MaxDelay,
// then emits a final frame with the result. It returns early with ctx.Err() or
// with the first emit error.
func (r *Reel) Run(ctx context.Context, spin Spin, emit func(Frame) error) error {
	slots := max(spin.Slots, 1)
	stop := spin.Stop
	stopping := false
	delay := r.cfg.InitialDelay

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for seq := 0; ; seq++ {
		if err := emit(Frame{Seq: seq, Names: r.roll(spin.Names, slots), DelayMs: delay.Milliseconds()}); err != nil {
			return err
		}

		if stopping {
			if delay >= r.cfg.MaxDelay {
				return emit(Frame{Seq: seq + 1, Names: result(spin), DelayMs: delay.Milliseconds(), Final: true})
			}
			delay = min(time.Duration(float64(delay)/r.cfg.Decay), r.cfg.MaxDelay)
		}
		timer.Reset(delay)

	wait:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-stop:
				stop = nil
				stopping = true
			case <-timer.C:
				break wait
			}
		}
	}
}

func (r *Reel) roll(names []string, slots int) []string {
	out := make([]string, slots)
	if len(names) == 0 {
		return out
	}
	for i := range out {
		out[i] = names[r.source.IntN(len(names))]
	}
	return out
}

func result(spin Spin) []string {
	if spin.Result == nil {
		return []string{}
	}
	return spin.Result()
}
