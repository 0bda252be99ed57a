// Package max7219 shows display frames on a Maxim MAX7219 LED driver connected to a hardware SPI
// port.  The chip runs with BCD decoding turned off so that any glyph in the font can be drawn.
package max7219

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gcoonrod/dMarkle/control/display"
	"github.com/gcoonrod/dMarkle/control/font"
	"periph.io/x/conn/v3/spi"
	chip "periph.io/x/devices/v3/max7219"
)

const (
	// MaxDigits is the number of digit registers.
	MaxDigits = 8
	// MaxIntensity is the brightest duty cycle setting.
	MaxIntensity = 15
)

// ErrConfiguration means the digit count or intensity is out of range.
var ErrConfiguration = errors.New("max7219: invalid configuration")

// Opts configures the panel.
type Opts struct {
	Digits    int // Digits wired, 1-8.
	Intensity int // 0-15.
}

// Dev is a MAX7219.  It is safe for concurrent use.
type Dev struct {
	mu     sync.Mutex
	dev    *chip.Dev
	port   string
	digits int
}

// New connects to the chip on port and brings it out of shutdown with every digit blank.
func New(port spi.Port, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{Digits: 3, Intensity: 1}
	}
	if opts.Digits < 1 || opts.Digits > MaxDigits {
		return nil, fmt.Errorf("%w: %d digits (want 1-%d)", ErrConfiguration, opts.Digits, MaxDigits)
	}
	if opts.Intensity < 0 || opts.Intensity > MaxIntensity {
		return nil, fmt.Errorf("%w: intensity %d (want 0-%d)", ErrConfiguration, opts.Intensity, MaxIntensity)
	}
	dev, err := chip.NewSPI(port, 1, opts.Digits)
	if err != nil {
		return nil, fmt.Errorf("connect to spi port: %w", err)
	}
	// NewSPI leaves a single chip in Code B mode, which has no glyphs for letters.
	if err := dev.SetDecode(chip.DecodeNone); err != nil {
		return nil, fmt.Errorf("disable decoding: %w", err)
	}
	if err := dev.SetIntensity(byte(opts.Intensity)); err != nil {
		return nil, fmt.Errorf("set intensity: %w", err)
	}
	d := &Dev{dev: dev, port: fmt.Sprint(port), digits: opts.Digits}
	if err := d.Show(display.Blank(opts.Digits)); err != nil {
		return nil, fmt.Errorf("blank: %w", err)
	}
	return d, nil
}

// Show draws f, leftmost cell in the highest digit register.  Cells beyond the wired digits are
// ignored from the left.
func (d *Dev) Show(f display.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(cells(f, d.digits))
}

// SetIntensity changes the brightness.
func (d *Dev) SetIntensity(intensity int) error {
	if intensity < 0 || intensity > MaxIntensity {
		return fmt.Errorf("%w: intensity %d (want 0-%d)", ErrConfiguration, intensity, MaxIntensity)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dev.SetIntensity(byte(intensity))
}

// Halt blanks every digit.  The driver has no way to put the chip in shutdown once it is running.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(make([]byte, d.digits))
}

func (d *Dev) String() string {
	return fmt.Sprintf("max7219.Dev{%s, %d digits}", d.port, d.digits)
}

func (d *Dev) write(data []byte) error {
	if err := d.dev.WriteCascadedUnit(0, data); err != nil {
		return fmt.Errorf("write digits: %w", err)
	}
	return nil
}

// cells lays out the rightmost digits cells of f as raw bytes, leftmost first.
func cells(f display.Frame, digits int) []byte {
	data := make([]byte, digits)
	for i := 0; i < digits && i < f.Width(); i++ {
		c := f.Cells[f.Width()-1-i]
		raw := Raw(c.Code)
		if c.Dot {
			raw |= 0x80
		}
		data[digits-1-i] = raw
	}
	return data
}

// Raw converts a font code to the chip's no-decode bit order: DP, A, B, C, D, E, F, G from the
// most significant bit down.
func Raw(c font.Code) byte {
	var b byte
	if c&font.DP != 0 {
		b |= 0x80
	}
	for i, s := range []font.Code{font.SegA, font.SegB, font.SegC, font.SegD, font.SegE, font.SegF, font.SegG} {
		if c&s != 0 {
			b |= 1 << (6 - i)
		}
	}
	return b
}
