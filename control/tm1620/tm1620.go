// Package tm1620 drives a Titan Micro TM1620 LED controller by bit-banging its three wire serial
// interface (CLK, DIO, STB) over ordinary GPIO lines.
//
// Every exchange with the chip is framed by pulling STB low, shifting out one or more bytes least
// significant bit first (DIO is sampled on the rising edge of CLK), and releasing STB.  The chip
// never acknowledges anything, so a miswired display fails silently; only errors from the GPIO
// layer itself are reported.
//
// The display memory is 12 bytes: two per grid, at addresses 0xC0 + 2*position.  The second byte
// carries segments 9 and 10 for grids that have them (Opts.Wide).
package tm1620

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gcoonrod/dMarkle/control/display"
	"github.com/gcoonrod/dMarkle/control/font"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
)

const (
	cmdDataAuto  = 0x40 // write data, auto-increment address
	cmdDataFixed = 0x44 // write data, fixed address
	cmdDisplay   = 0x80 // display control; OR in displayOn and the intensity
	cmdAddress   = 0xC0

	displayOn = 0x08

	// MaxDigits is the number of grids the chip can drive.
	MaxDigits = 6
	// MaxIntensity is the brightest pulse width setting.
	MaxIntensity = 7

	memorySize = 2 * MaxDigits

	// DefaultSettle is how long each line is held after a transition.  The datasheet asks for a
	// few hundred nanoseconds; anything the host can actually sleep for is plenty.
	DefaultSettle = time.Microsecond
)

var (
	// ErrConfiguration means Initialize was given a digit count or intensity the chip does not
	// support.  The device refuses to draw until Initialize succeeds.
	ErrConfiguration = errors.New("tm1620: invalid configuration")
	// ErrNotConfigured is returned by drawing operations before a successful Initialize.
	ErrNotConfigured = errors.New("tm1620: not configured")
	// ErrInvalidArgument means the caller passed something that cannot be drawn.  Nothing is
	// written to the display.
	ErrInvalidArgument = errors.New("tm1620: invalid argument")
)

// Opts is the initial configuration of the display.
type Opts struct {
	Digits    int  // Number of grids wired up, 1-6.
	Active    bool // Turn the display on after initialization.
	Intensity int  // Brightness, 0-7.
	Wide      bool // Grids have more than 8 segments; write two bytes per position.

	Settle time.Duration   // Hold time after each line transition.  Default: DefaultSettle.
	Clock  clockwork.Clock // Used for the settle delay.  Default: the real clock.
}

// Dev is a TM1620 on three GPIO lines.  It is safe for concurrent use.
type Dev struct {
	clk, dio, stb gpio.PinOut
	clock         clockwork.Clock
	settle        time.Duration
	wide          bool

	mu     sync.Mutex
	digits int              // 0 until Initialize succeeds; must hold mu.
	mem    [memorySize]byte // shadow of the display memory; must hold mu.
}

// New returns a display on the given lines, initialized according to opts.  A nil opts is a
// three digit display at medium brightness.
func New(clk, dio, stb gpio.PinOut, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{Digits: 3, Active: true, Intensity: 4}
	}
	d := &Dev{
		clk:    clk,
		dio:    dio,
		stb:    stb,
		clock:  opts.Clock,
		settle: opts.Settle,
		wide:   opts.Wide,
	}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	if d.settle <= 0 {
		d.settle = DefaultSettle
	}

	// Idle bus: clock high, strobe high.
	for _, l := range []struct {
		p gpio.PinOut
		l gpio.Level
	}{{clk, gpio.High}, {dio, gpio.Low}, {stb, gpio.High}} {
		if err := d.out(l.p, l.l); err != nil {
			return nil, err
		}
	}
	if err := d.Initialize(opts.Digits, opts.Active, opts.Intensity); err != nil {
		return nil, err
	}
	return d, nil
}

// Initialize sets the grid mode for the number of digits, clears the display memory, and sets the
// brightness, in that order.
func (d *Dev) Initialize(digits int, active bool, intensity int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.digits = 0
	if digits < 1 || digits > MaxDigits {
		return fmt.Errorf("%w: %d digits (want 1-%d)", ErrConfiguration, digits, MaxDigits)
	}
	if intensity < 0 || intensity > MaxIntensity {
		return fmt.Errorf("%w: intensity %d (want 0-%d)", ErrConfiguration, intensity, MaxIntensity)
	}

	var mode byte // 4 grids, 10 segments
	switch digits {
	case 5:
		mode = 0x01
	case 6:
		mode = 0x02
	}
	if err := d.tx(mode); err != nil {
		return fmt.Errorf("set display mode: %w", err)
	}
	if err := d.clear(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if err := d.brightness(active, intensity); err != nil {
		return fmt.Errorf("set brightness: %w", err)
	}
	d.digits = digits
	return nil
}

// SetBrightness turns the display on or off and sets its intensity (0-7).
func (d *Dev) SetBrightness(active bool, intensity int) error {
	if intensity < 0 || intensity > MaxIntensity {
		return fmt.Errorf("%w: intensity %d (want 0-%d)", ErrConfiguration, intensity, MaxIntensity)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.digits == 0 {
		return ErrNotConfigured
	}
	return d.brightness(active, intensity)
}

// Clear blanks every position.
func (d *Dev) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.digits == 0 {
		return ErrNotConfigured
	}
	return d.clear()
}

// SetSegments lights exactly the segments in code at position.
func (d *Dev) SetSegments(position int, code font.Code) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(position); err != nil {
		return err
	}
	return d.write(position, code)
}

// SetDigit shows a hexadecimal digit (0-15) at position.
func (d *Dev) SetDigit(position, value int, dot bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(position); err != nil {
		return err
	}
	code, ok := font.Digit(value)
	if !ok {
		return fmt.Errorf("%w: digit %d", ErrInvalidArgument, value)
	}
	if dot {
		code |= font.DP
	}
	return d.write(position, code)
}

// SetString writes one character per position starting at start, until the text runs out, a NUL
// is reached, or there are no more positions.  If any character that would be shown has no glyph,
// nothing is written.
func (d *Dev) SetString(text string, start int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(start); err != nil {
		return err
	}
	runes := []rune(text)
	var codes []font.Code
	for i := 0; start+i < d.digits && i < len(runes) && runes[i] != 0; i++ {
		c, ok := font.Char(runes[i])
		if !ok {
			return fmt.Errorf("%w: no glyph for %q", ErrInvalidArgument, runes[i])
		}
		codes = append(codes, c)
	}
	for i, c := range codes {
		if err := d.write(start+i, c); err != nil {
			return err
		}
	}
	return nil
}

// SetNumber shows the decimal digits of value right-aligned, lighting the decimal point of
// position i when bit i of dots is set.  Exactly one digit is taken per position, so digits that
// do not fit are dropped.  Leading zeros are blank.  Negative numbers are not drawn; range checking
// belongs to the caller.
func (d *Dev) SetNumber(value int, dots uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.digits == 0 {
		return ErrNotConfigured
	}
	if value < 0 {
		return fmt.Errorf("%w: negative number %d", ErrInvalidArgument, value)
	}

	codes := make([]font.Code, d.digits)
	leading := true
	v := value
	digits := make([]int, d.digits)
	for i := d.digits - 1; i >= 0; i-- {
		digits[i] = v % 10
		v /= 10
	}
	for pos, digit := range digits {
		if leading && digit == 0 && pos != d.digits-1 {
			codes[pos] = font.Blank
		} else {
			leading = false
			codes[pos], _ = font.Digit(digit)
		}
		if dots&(1<<pos) != 0 {
			codes[pos] |= font.DP
		}
	}
	for pos, c := range codes {
		if err := d.write(pos, c); err != nil {
			return err
		}
	}
	return nil
}

// Show draws a frame, leftmost cell at position 0.
func (d *Dev) Show(f display.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.digits == 0 {
		return ErrNotConfigured
	}
	if f.Width() > d.digits {
		return fmt.Errorf("%w: %d cell frame on a %d digit display", ErrInvalidArgument, f.Width(), d.digits)
	}
	for pos, c := range f.Cells {
		code := c.Code
		if c.Dot {
			code |= font.DP
		}
		if err := d.write(pos, code); err != nil {
			return err
		}
	}
	return nil
}

// Halt turns the display off.  The display memory is kept.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brightness(false, 0)
}

// Digits returns the configured number of digits, or 0 if the device is not configured.
func (d *Dev) Digits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.digits
}

// Memory returns a copy of what the driver last wrote to the display memory.
func (d *Dev) Memory() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := make([]byte, memorySize)
	copy(m, d.mem[:])
	return m
}

func (d *Dev) String() string {
	return fmt.Sprintf("tm1620.Dev{clk: %s, dio: %s, stb: %s}", d.clk, d.dio, d.stb)
}

func (d *Dev) check(position int) error {
	if d.digits == 0 {
		return ErrNotConfigured
	}
	if position < 0 || position >= d.digits {
		return fmt.Errorf("%w: position %d on a %d digit display", ErrInvalidArgument, position, d.digits)
	}
	return nil
}

func (d *Dev) brightness(active bool, intensity int) error {
	c := byte(cmdDisplay | intensity)
	if active {
		c |= displayOn
	}
	return d.tx(c)
}

func (d *Dev) clear() error {
	if err := d.tx(cmdDataAuto); err != nil {
		return err
	}
	w := make([]byte, 1+memorySize)
	w[0] = cmdAddress
	if err := d.tx(w...); err != nil {
		return err
	}
	d.mem = [memorySize]byte{}
	return nil
}

// write stores code at position.  Narrow grids use a fixed address write; wide grids send both
// bytes in one auto-increment frame.  Segments 9 and 10 (code bits 8 and 9) live in bits 4 and 5
// of the odd address.
func (d *Dev) write(position int, code font.Code) error {
	addr := byte(position << 1)
	lo, hi := byte(code), byte(code>>4)&0x30
	if !d.wide {
		if err := d.tx(cmdDataFixed); err != nil {
			return err
		}
		if err := d.tx(cmdAddress|addr, lo); err != nil {
			return err
		}
		d.mem[addr] = lo
		return nil
	}
	if err := d.tx(cmdDataAuto); err != nil {
		return err
	}
	if err := d.tx(cmdAddress|addr, lo, hi); err != nil {
		return err
	}
	d.mem[addr], d.mem[addr+1] = lo, hi
	return nil
}

// tx sends one strobe-framed exchange.  The strobe is released even if a write fails part way.
func (d *Dev) tx(w ...byte) error {
	if err := d.out(d.stb, gpio.Low); err != nil {
		return err
	}
	var err error
	for _, b := range w {
		if err = d.writeByte(b); err != nil {
			break
		}
	}
	if endErr := d.out(d.stb, gpio.High); err == nil {
		err = endErr
	}
	return err
}

func (d *Dev) writeByte(b byte) error {
	for i := 0; i < 8; i++ {
		if err := d.out(d.clk, gpio.Low); err != nil {
			return err
		}
		if err := d.out(d.dio, b&1 == 1); err != nil {
			return err
		}
		if err := d.out(d.clk, gpio.High); err != nil {
			return err
		}
		b >>= 1
	}
	d.clock.Sleep(d.settle)
	return nil
}

func (d *Dev) out(p gpio.PinOut, l gpio.Level) error {
	if err := p.Out(l); err != nil {
		return fmt.Errorf("tm1620: set %s %s: %w", p, l, err)
	}
	d.clock.Sleep(d.settle)
	return nil
}
