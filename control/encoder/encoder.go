// Package encoder decodes a KY-040 style rotary encoder with a push button.
//
// The encoder's CLK line produces a falling edge for every detent, or several when the contacts
// bounce.  At each edge the DT line says which way the knob is turning.  A turn is only reported
// once DT has read the same level for more than Threshold consecutive edges, which filters out the
// bounces that read the opposite way.
package encoder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
	"periph.io/x/conn/v3/gpio"
)

// Direction is which way the knob turned.
type Direction int

const (
	Left Direction = iota
	Right
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// DefaultThreshold is the number of agreeing edges that must be exceeded before a turn counts.
const DefaultThreshold = 2

var (
	turnsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "encoder_turns_total",
		Help: "turns reported to the handler, by direction",
	}, []string{"direction"})

	pressesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "encoder_presses_total",
		Help: "button presses",
	})

	resetsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "encoder_debounce_resets_total",
		Help: "clock edges where the data line disagreed with the previous edge",
	})
)

// Opts configures a Decoder.
type Opts struct {
	Threshold int           // Default: DefaultThreshold.
	Poll      time.Duration // How often edge waits give up to check for cancellation.  Default: 100ms.
}

// state is the debounce state.  It is only touched by the turn edge goroutine, under Decoder.mu.
type state struct {
	last   gpio.Level
	clicks int
}

// Decoder turns edges on the encoder's lines into calls to the registered handlers.
type Decoder struct {
	clk, dt, btn gpio.PinIn
	threshold    int
	poll         time.Duration

	mu      sync.Mutex
	state   state
	onTurn  func(Direction)
	onPress func()
}

// New configures the three lines as pulled-up inputs, with falling edge detection on CLK and the
// button.  btn may be nil for encoders without a switch.
func New(clk, dt, btn gpio.PinIn, opts *Opts) (*Decoder, error) {
	d := &Decoder{clk: clk, dt: dt, btn: btn, threshold: DefaultThreshold, poll: 100 * time.Millisecond}
	if opts != nil {
		if opts.Threshold > 0 {
			d.threshold = opts.Threshold
		}
		if opts.Poll > 0 {
			d.poll = opts.Poll
		}
	}
	if err := dt.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure dt line %s: %w", dt, err)
	}
	if err := clk.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("configure clk line %s: %w", clk, err)
	}
	if btn != nil {
		if err := btn.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return nil, fmt.Errorf("configure button line %s: %w", btn, err)
		}
	}
	// The first clock edge is compared against where the knob is resting, not an arbitrary level.
	d.state.last = dt.Read()
	return d, nil
}

// OnTurn sets the function called for each debounced turn, replacing any previous one.  It runs on
// the edge goroutine and must not block.
func (d *Decoder) OnTurn(f func(Direction)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onTurn = f
}

// OnPress sets the function called for each button press.  It runs on the edge goroutine and must
// not block.
func (d *Decoder) OnPress(f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPress = f
}

// Run waits for edges until the context is cancelled.  Each line is watched by its own goroutine.
func (d *Decoder) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	watch := func(p gpio.PinIn, name string, f func()) {
		defer wg.Done()
		l := trace.NewEventLog("encoder", name)
		defer l.Finish()
		l.Printf("watching %s", p)
		for {
			if p.WaitForEdge(d.poll) {
				f()
			}
			if err := ctx.Err(); err != nil {
				l.Printf("stopping: %v", err)
				return
			}
		}
	}
	wg.Add(1)
	go watch(d.clk, "turn", func() { d.Edge(d.dt.Read()) })
	if d.btn != nil {
		wg.Add(1)
		go watch(d.btn, "press", d.Press)
	}
	wg.Wait()
	return fmt.Errorf("waiting for edges: %w", ctx.Err())
}

// Edge handles a falling edge on CLK, given the level read from DT at that moment.
func (d *Decoder) Edge(level gpio.Level) {
	d.mu.Lock()
	var (
		emit bool
		dir  Direction
	)
	if level == d.state.last {
		d.state.clicks++
		if d.state.clicks > d.threshold {
			d.state.clicks = 0
			emit = true
			if level {
				dir = Right
			}
		}
	} else {
		d.state.clicks = 0
		resetsCounter.Inc()
	}
	d.state.last = level
	f := d.onTurn
	d.mu.Unlock()

	if emit && f != nil {
		turnsCounter.WithLabelValues(dir.String()).Inc()
		f(dir)
	}
}

// Press handles a falling edge on the button line.
func (d *Decoder) Press() {
	d.mu.Lock()
	f := d.onPress
	d.mu.Unlock()
	if f != nil {
		pressesCounter.Inc()
		f()
	}
}
