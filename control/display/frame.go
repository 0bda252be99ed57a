// Package display describes what should appear on a segmented display, independent of the chip
// that drives it.
package display

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gcoonrod/dMarkle/control/font"
)

// MaxValue is the largest number the appliance will render; it has three digit positions.
const MaxValue = 999

// ErrRange is returned when a value cannot be rendered as decimal digits.
var ErrRange = errors.New("value outside displayable range")

// Cell is one display position.
type Cell struct {
	Code font.Code
	Dot  bool
}

// Frame is the content of every position on the display.  Position 0 is the leftmost digit.
type Frame struct {
	Cells []Cell
	Error bool // Cells hold the error indicator rather than a value.
}

// Blank returns a frame with nothing lit.
func Blank(width int) Frame {
	return Frame{Cells: make([]Cell, width)}
}

// ErrorFrame returns the error indicator: "Err" against the right edge, or dashes on displays too
// narrow to spell it.
func ErrorFrame(width int) Frame {
	f := Blank(width)
	f.Error = true
	const text = "Err"
	if width < len(text) {
		dash, _ := font.Char('-')
		for i := range f.Cells {
			f.Cells[i].Code = dash
		}
		return f
	}
	for i, r := range text {
		c, _ := font.Char(r)
		f.Cells[width-len(text)+i].Code = c
	}
	return f
}

// Spot returns a frame with a single zero lit at pos.  The roll animation sweeps it across the
// display.
func Spot(width, pos int) Frame {
	f := Blank(width)
	if pos >= 0 && pos < width {
		f.Cells[pos].Code, _ = font.Digit(0)
	}
	return f
}

// Number renders value right-aligned in width positions.  Positions to the left of the value's
// most significant digit are blank, not zero.  Values that are negative, above MaxValue, or wider
// than the display produce the error frame along with an error wrapping ErrRange.
func Number(value, width int) (Frame, error) {
	if value < 0 || value > MaxValue {
		return ErrorFrame(width), fmt.Errorf("%w: %d", ErrRange, value)
	}
	f := Blank(width)
	pos := width - 1
	for v := value; ; v /= 10 {
		if pos < 0 {
			return ErrorFrame(width), fmt.Errorf("%w: %d does not fit in %d digits", ErrRange, value, width)
		}
		f.Cells[pos].Code, _ = font.Digit(v % 10)
		pos--
		if v < 10 {
			break
		}
	}
	return f, nil
}

// Width returns the number of positions in the frame.
func (f Frame) Width() int { return len(f.Cells) }

// Value decodes a frame produced by Number back into an integer.  ok is false for the error
// frame, an all-blank frame, a blank between digits, or a cell that is not a decimal digit.
func (f Frame) Value() (value int, ok bool) {
	if f.Error {
		return 0, false
	}
	var seen bool
	for _, c := range f.Cells {
		if c.Code == font.Blank && !seen {
			continue
		}
		d, ok := font.DecimalOf(c.Code)
		if !ok {
			return 0, false
		}
		seen = true
		value = value*10 + d
	}
	return value, seen
}

// String renders the frame as text for logs, e.g. "[ 20]" or "[Err]".
func (f Frame) String() string {
	if f.Error && f.Width() >= 3 {
		return "[" + strings.Repeat(" ", f.Width()-3) + "Err]"
	}
	b := new(strings.Builder)
	b.WriteByte('[')
	for _, c := range f.Cells {
		switch d, ok := font.DecimalOf(c.Code); {
		case c.Code&^font.DP == font.Blank:
			b.WriteByte(' ')
		case ok:
			b.WriteByte(byte('0' + d))
		case c.Code == mustChar('-'):
			b.WriteByte('-')
		default:
			b.WriteByte('?')
		}
		if c.Dot {
			b.WriteByte('.')
		}
	}
	b.WriteByte(']')
	return b.String()
}

func mustChar(r rune) font.Code {
	c, ok := font.Char(r)
	if !ok {
		panic(fmt.Sprintf("no glyph for %q", r))
	}
	return c
}
