package dice

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gcoonrod/dMarkle/control/display"
	"github.com/gcoonrod/dMarkle/control/encoder"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/trace"
)

var (
	rollsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dice_rolls_total",
		Help: "dice rolled, by die",
	}, []string{"die"})

	rangeErrorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dice_range_errors_total",
		Help: "values that could not be displayed and were replaced with the error indicator",
	})

	droppedEventsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dice_dropped_events_total",
		Help: "knob events discarded because the controller was busy and its queue was full",
	})
)

// Display is something that can show a frame.
type Display interface {
	Show(display.Frame) error
}

// Opts configures a Controller.  The zero value disables both effects.
type Opts struct {
	Kinds      []Kind          // Dice to cycle through.  Default: Kinds.
	Width      int             // Display positions.  Default: 3.
	Blink      time.Duration   // Blank and lit time of each of the two blinks after a turn; 0 disables.
	Animation  time.Duration   // Time each position stays lit during the roll animation; 0 disables.
	Iterations int             // Sweeps in the roll animation.  Default: 5.
	Queue      int             // Events that can wait while an effect plays.  Default: 16.
	History    int             // Rolls remembered for the status page.  Default: 20.
	Clock      clockwork.Clock // Default: the real clock.
}

// State is a snapshot of what the controller is doing.
type State struct {
	Selected int    // Index into the die table.
	Die      Kind   // The selected die.
	Value    int    // The value on the display.
	Error    bool   // The value could not be displayed.
	Rolls    []Roll // Most recent first.
}

// Roll is one press of the button.
type Roll struct {
	Die   Kind
	Value int
	At    time.Time
}

type event struct {
	press bool
	dir   encoder.Direction
}

// Controller owns the selected die and the display.  Turn and Press may be called from any
// goroutine; everything they cause happens later, on the goroutine running Run.
type Controller struct {
	d      Display
	roller *Roller
	opts   Opts
	events chan event
	l      trace.EventLog

	mu      sync.Mutex
	state   State
	history []Roll
}

// New returns a controller with the first die selected and shows that die.
func New(d Display, r *Roller, opts *Opts) *Controller {
	c := &Controller{d: d, roller: r, l: trace.NewEventLog("dice", "controller")}
	if opts != nil {
		c.opts = *opts
	}
	if len(c.opts.Kinds) == 0 {
		c.opts.Kinds = Kinds
	}
	if c.opts.Width <= 0 {
		c.opts.Width = 3
	}
	if c.opts.Iterations <= 0 {
		c.opts.Iterations = 5
	}
	if c.opts.Queue <= 0 {
		c.opts.Queue = 16
	}
	if c.opts.History <= 0 {
		c.opts.History = 20
	}
	if c.opts.Clock == nil {
		c.opts.Clock = clockwork.NewRealClock()
	}
	c.events = make(chan event, c.opts.Queue)

	first := c.opts.Kinds[0]
	c.state = State{Selected: 0, Die: first, Value: first.Faces}
	c.state.Error = !c.showValue(first.Faces)
	return c
}

// Turn queues a knob turn.  It never blocks; if the queue is full the turn is dropped.
func (c *Controller) Turn(dir encoder.Direction) {
	c.enqueue(event{dir: dir})
}

// Press queues a button press.  It never blocks; if the queue is full the press is dropped.
func (c *Controller) Press() {
	c.enqueue(event{press: true})
}

func (c *Controller) enqueue(e event) {
	select {
	case c.events <- e:
	default:
		droppedEventsCounter.Inc()
		c.l.Errorf("queue full; dropped %+v", e)
	}
}

// Run applies queued events in the order they arrived until the context is cancelled.  An effect
// that has started always plays to the end.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for events: %w", ctx.Err())
		case e := <-c.events:
			if e.press {
				c.press()
			} else {
				c.turn(e.dir)
			}
		}
	}
}

// State returns a snapshot of the controller's state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Rolls = make([]Roll, len(c.history))
	for i, r := range c.history {
		s.Rolls[len(c.history)-1-i] = r
	}
	return s
}

// Kinds returns the dice the controller cycles through.
func (c *Controller) Kinds() []Kind {
	return c.opts.Kinds
}

func (c *Controller) turn(dir encoder.Direction) {
	n := len(c.opts.Kinds)
	c.mu.Lock()
	i := c.state.Selected
	switch dir {
	case encoder.Left:
		i = (i + n - 1) % n
	case encoder.Right:
		i = (i + 1) % n
	}
	k := c.opts.Kinds[i]
	c.state.Selected, c.state.Die, c.state.Value = i, k, k.Faces
	c.mu.Unlock()
	c.l.Printf("turned %v: %v", dir, k)

	ok := c.showValue(k.Faces)
	c.setError(!ok)
	if ok {
		c.blink(k.Faces)
	}
}

func (c *Controller) press() {
	c.mu.Lock()
	k := c.state.Die
	c.mu.Unlock()

	v := c.roller.Roll(k)
	rollsCounter.WithLabelValues(k.Name).Inc()
	log.Printf("%v rolled a %d", k, v)
	c.l.Printf("%v rolled a %d", k, v)
	c.animate()

	c.mu.Lock()
	c.state.Value = v
	c.history = append(c.history, Roll{Die: k, Value: v, At: c.opts.Clock.Now()})
	if len(c.history) > c.opts.History {
		c.history = c.history[len(c.history)-c.opts.History:]
	}
	c.mu.Unlock()
	c.setError(!c.showValue(v))
}

func (c *Controller) setError(e bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Error = e
}

// showValue displays v, or the error indicator if v is outside 0-999.  It reports whether v was
// shown.
func (c *Controller) showValue(v int) bool {
	f, err := display.Number(v, c.opts.Width)
	if err != nil {
		rangeErrorsCounter.Inc()
		c.l.Errorf("show %d: %v", v, err)
		log.Printf("cannot display %d: %v", v, err)
	}
	c.show(f)
	return err == nil
}

func (c *Controller) show(f display.Frame) {
	if err := c.d.Show(f); err != nil {
		c.l.Errorf("show %v: %v", f, err)
		log.Printf("display %v: %v", f, err)
	}
}

func (c *Controller) blink(v int) {
	if c.opts.Blink <= 0 {
		return
	}
	lit, _ := display.Number(v, c.opts.Width)
	for i := 0; i < 2; i++ {
		c.show(display.Blank(c.opts.Width))
		c.opts.Clock.Sleep(c.opts.Blink)
		c.show(lit)
		c.opts.Clock.Sleep(c.opts.Blink)
	}
}

// animate sweeps a lit segment pattern from the leftmost position to the rightmost.
func (c *Controller) animate() {
	if c.opts.Animation <= 0 {
		return
	}
	c.show(display.Blank(c.opts.Width))
	for i := 0; i < c.opts.Iterations; i++ {
		for pos := 0; pos < c.opts.Width; pos++ {
			c.show(display.Spot(c.opts.Width, pos))
			c.opts.Clock.Sleep(c.opts.Animation)
		}
	}
	c.show(display.Blank(c.opts.Width))
}
