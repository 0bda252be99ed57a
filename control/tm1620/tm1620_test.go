package tm1620

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gcoonrod/dMarkle/control/display"
	"github.com/gcoonrod/dMarkle/control/font"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// bus records every level change on the three lines, in order.
type bus struct {
	sync.Mutex
	events []edge
	sleeps int
}

type edge struct {
	line  string
	level gpio.Level
}

// tap is a fake output line that reports to a bus.
type tap struct {
	*gpiotest.Pin
	bus *bus
}

func (p *tap) Out(l gpio.Level) error {
	p.bus.Lock()
	p.bus.events = append(p.bus.events, edge{line: p.N, level: l})
	p.bus.Unlock()
	return p.Pin.Out(l)
}

// countingClock counts settle delays instead of sleeping.
type countingClock struct {
	clockwork.Clock
	bus *bus
}

func (c *countingClock) Sleep(d time.Duration) {
	c.bus.Lock()
	c.bus.sleeps++
	c.bus.Unlock()
}

func (b *bus) reset() {
	b.Lock()
	defer b.Unlock()
	b.events = nil
	b.sleeps = 0
}

// frames decodes what a TM1620 would have latched: the bytes of each strobe-framed exchange, with
// DIO sampled on every rising edge of CLK, least significant bit first.
func (b *bus) frames() [][]byte {
	b.Lock()
	defer b.Unlock()
	var result [][]byte
	clk, dio, stb := gpio.High, gpio.Low, gpio.High
	var cur []byte
	var bits, acc int
	for _, e := range b.events {
		switch e.line {
		case "STB":
			if stb && !e.level {
				cur, bits, acc = []byte{}, 0, 0
			}
			if !stb && e.level {
				result = append(result, cur)
			}
			stb = e.level
		case "DIO":
			dio = e.level
		case "CLK":
			if !clk && e.level && !stb {
				if dio {
					acc |= 1 << bits
				}
				bits++
				if bits == 8 {
					cur = append(cur, byte(acc))
					bits, acc = 0, 0
				}
			}
			clk = e.level
		}
	}
	return result
}

func newTestDev(t *testing.T, opts *Opts) (*Dev, *bus) {
	t.Helper()
	b := new(bus)
	line := func(name string) *tap {
		return &tap{Pin: &gpiotest.Pin{N: name}, bus: b}
	}
	if opts == nil {
		opts = &Opts{Digits: 3, Active: true, Intensity: 4}
	}
	opts.Clock = &countingClock{Clock: clockwork.NewRealClock(), bus: b}
	d, err := New(line("CLK"), line("DIO"), line("STB"), opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return d, b
}

func digit(v int) byte {
	c, _ := font.Digit(v)
	return byte(c)
}

func TestInitialize(t *testing.T) {
	_, b := newTestDev(t, nil)
	cleared := append([]byte{0xC0}, make([]byte, 12)...)
	want := [][]byte{{0x00}, {0x40}, cleared, {0x8C}}
	if got := b.frames(); !reflect.DeepEqual(got, want) {
		t.Errorf("initialization sequence:\n  got: %x\n want: %x", got, want)
	}
}

func TestInitializeModes(t *testing.T) {
	testData := []struct {
		digits    int
		active    bool
		intensity int
		mode      byte
		display   byte
	}{
		{1, true, 0, 0x00, 0x88},
		{4, false, 7, 0x00, 0x87},
		{5, true, 7, 0x01, 0x8F},
		{6, true, 2, 0x02, 0x8A},
	}
	for _, test := range testData {
		d, b := newTestDev(t, nil)
		b.reset()
		if err := d.Initialize(test.digits, test.active, test.intensity); err != nil {
			t.Fatalf("initialize(%d, %v, %d): %v", test.digits, test.active, test.intensity, err)
		}
		got := b.frames()
		if len(got) != 4 {
			t.Fatalf("initialize(%d): expected 4 exchanges, got %x", test.digits, got)
		}
		if got, want := got[0], []byte{test.mode}; !reflect.DeepEqual(got, want) {
			t.Errorf("initialize(%d) mode:\n  got: %x\n want: %x", test.digits, got, want)
		}
		if got, want := got[3], []byte{test.display}; !reflect.DeepEqual(got, want) {
			t.Errorf("initialize(%d) display control:\n  got: %x\n want: %x", test.digits, got, want)
		}
		if got, want := d.Digits(), test.digits; got != want {
			t.Errorf("digits:\n  got: %d\n want: %d", got, want)
		}
	}
}

func TestInitializeInvalid(t *testing.T) {
	d, b := newTestDev(t, nil)
	testData := []struct {
		digits, intensity int
	}{
		{0, 4},
		{7, 4},
		{3, 8},
		{3, -1},
	}
	for _, test := range testData {
		b.reset()
		if err := d.Initialize(test.digits, true, test.intensity); !errors.Is(err, ErrConfiguration) {
			t.Errorf("initialize(%d, %d): expected ErrConfiguration, got %v", test.digits, test.intensity, err)
		}
		if got := b.frames(); len(got) != 0 {
			t.Errorf("initialize(%d, %d) wrote to the bus: %x", test.digits, test.intensity, got)
		}
		if err := d.SetDigit(0, 1, false); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("draw after failed initialize: expected ErrNotConfigured, got %v", err)
		}
	}
	if err := d.Initialize(3, true, 4); err != nil {
		t.Fatalf("initialize after correction: %v", err)
	}
	if err := d.SetDigit(0, 1, false); err != nil {
		t.Errorf("draw after correction: %v", err)
	}
	if _, err := New(&tap{Pin: &gpiotest.Pin{N: "CLK"}, bus: b}, &tap{Pin: &gpiotest.Pin{N: "DIO"}, bus: b}, &tap{Pin: &gpiotest.Pin{N: "STB"}, bus: b}, &Opts{Digits: 9}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("new with 9 digits: expected ErrConfiguration, got %v", err)
	}
}

func TestSetNumber(t *testing.T) {
	testData := []struct {
		value int
		dots  uint8
		want  [3]byte // hundreds, tens, ones
	}{
		{7, 0, [3]byte{0, 0, digit(7)}},
		{999, 0, [3]byte{digit(9), digit(9), digit(9)}},
		{0, 0, [3]byte{0, 0, digit(0)}},
		{105, 0, [3]byte{digit(1), digit(0), digit(5)}},
		{20, 0b001, [3]byte{0x80, digit(2), digit(0)}},
		{1234, 0, [3]byte{digit(2), digit(3), digit(4)}},
	}
	for _, test := range testData {
		d, b := newTestDev(t, nil)
		b.reset()
		if err := d.SetNumber(test.value, test.dots); err != nil {
			t.Fatalf("SetNumber(%d): %v", test.value, err)
		}
		want := [][]byte{
			{0x44}, {0xC0, test.want[0]},
			{0x44}, {0xC2, test.want[1]},
			{0x44}, {0xC4, test.want[2]},
		}
		if got := b.frames(); !reflect.DeepEqual(got, want) {
			t.Errorf("SetNumber(%d, %03b) on the wire:\n  got: %x\n want: %x", test.value, test.dots, got, want)
		}
		mem := d.Memory()
		if got := [3]byte{mem[0], mem[2], mem[4]}; got != test.want {
			t.Errorf("SetNumber(%d, %03b) memory:\n  got: %x\n want: %x", test.value, test.dots, got, test.want)
		}
	}
}

func TestSetNumberNegative(t *testing.T) {
	d, b := newTestDev(t, nil)
	b.reset()
	if err := d.SetNumber(-1, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetNumber(-1): expected ErrInvalidArgument, got %v", err)
	}
	if got := b.frames(); len(got) != 0 {
		t.Errorf("SetNumber(-1) wrote to the bus: %x", got)
	}
}

func TestSetDigit(t *testing.T) {
	d, b := newTestDev(t, nil)
	b.reset()
	if err := d.SetDigit(1, 0xA, true); err != nil {
		t.Fatal(err)
	}
	want := [][]byte{{0x44}, {0xC2, 0b11110111}}
	if got := b.frames(); !reflect.DeepEqual(got, want) {
		t.Errorf("SetDigit(1, A, dot):\n  got: %x\n want: %x", got, want)
	}

	for _, bad := range []struct{ pos, value int }{{0, 16}, {0, -1}, {3, 1}, {-1, 1}} {
		if err := d.SetDigit(bad.pos, bad.value, false); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetDigit(%d, %d): expected ErrInvalidArgument, got %v", bad.pos, bad.value, err)
		}
	}
}

func TestSetString(t *testing.T) {
	d, _ := newTestDev(t, nil)
	if err := d.SetString("dAb", 0); err != nil {
		t.Fatal(err)
	}
	before := d.Memory()
	c := func(r rune) byte {
		code, _ := font.Char(r)
		return byte(code)
	}
	if got, want := []byte{before[0], before[2], before[4]}, []byte{c('d'), c('A'), c('b')}; !reflect.DeepEqual(got, want) {
		t.Errorf("SetString(dAb):\n  got: %x\n want: %x", got, want)
	}

	if err := d.SetString("H°", 1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetString with an unmapped character: expected ErrInvalidArgument, got %v", err)
	}
	if got := d.Memory(); !reflect.DeepEqual(got, before) {
		t.Errorf("unmapped character changed the display:\n  got: %x\n want: %x", got, before)
	}

	// Text past the last position, and after a NUL, is ignored.
	if err := d.SetString("Err°", 0); err != nil {
		t.Errorf("SetString(Err°): %v", err)
	}
	if err := d.SetString("1\x00°", 2); err != nil {
		t.Errorf("SetString(1 NUL °): %v", err)
	}
	got := d.Memory()
	if want := []byte{c('E'), c('r'), c('1')}; !reflect.DeepEqual([]byte{got[0], got[2], got[4]}, want) {
		t.Errorf("SetString truncation:\n  got: %x\n want: %x", []byte{got[0], got[2], got[4]}, want)
	}
	if err := d.SetString("x", 3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetString past the end: expected ErrInvalidArgument, got %v", err)
	}
}

func TestClear(t *testing.T) {
	d, b := newTestDev(t, nil)
	if err := d.SetNumber(888, 0xff); err != nil {
		t.Fatal(err)
	}
	b.reset()
	if err := d.Clear(); err != nil {
		t.Fatal(err)
	}
	want := [][]byte{{0x40}, append([]byte{0xC0}, make([]byte, 12)...)}
	if got := b.frames(); !reflect.DeepEqual(got, want) {
		t.Errorf("clear:\n  got: %x\n want: %x", got, want)
	}
	if got := d.Memory(); !reflect.DeepEqual(got, make([]byte, 12)) {
		t.Errorf("memory after clear: %x", got)
	}
}

func TestWide(t *testing.T) {
	testData := []struct {
		name   string
		code   font.Code
		wantHi byte
	}{
		{"all ten segments", font.SegA | font.SegB | font.SegC | font.SegD | font.SegE | font.SegF | font.SegG | font.DP | 1<<8 | 1<<9, 0x30},
		{"segment 9", font.SegA | 1<<8, 0x10},
		{"segment 10", font.SegA | 1<<9, 0x20},
		{"eight segments", font.SegA, 0x00},
	}
	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			d, b := newTestDev(t, &Opts{Digits: 4, Active: true, Intensity: 1, Wide: true})
			b.reset()
			if err := d.SetSegments(2, test.code); err != nil {
				t.Fatal(err)
			}
			want := [][]byte{{0x40}, {0xC4, byte(test.code), test.wantHi}}
			if got := b.frames(); !reflect.DeepEqual(got, want) {
				t.Errorf("wide write:\n  got: %x\n want: %x", got, want)
			}
			mem := d.Memory()
			if got, want := []byte{mem[4], mem[5]}, []byte{byte(test.code), test.wantHi}; !reflect.DeepEqual(got, want) {
				t.Errorf("memory at position 2:\n  got: %x\n want: %x", got, want)
			}
		})
	}
}

func TestShow(t *testing.T) {
	d, _ := newTestDev(t, nil)
	f, _ := display.Number(42, 3)
	f.Cells[0].Dot = true
	if err := d.Show(f); err != nil {
		t.Fatal(err)
	}
	mem := d.Memory()
	if got, want := []byte{mem[0], mem[2], mem[4]}, []byte{0x80, digit(4), digit(2)}; !reflect.DeepEqual(got, want) {
		t.Errorf("show 42:\n  got: %x\n want: %x", got, want)
	}
	if err := d.Show(display.Blank(4)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("show a frame wider than the display: expected ErrInvalidArgument, got %v", err)
	}
}

func TestSettle(t *testing.T) {
	d, b := newTestDev(t, nil)
	b.reset()
	if err := d.SetDigit(0, 1, false); err != nil {
		t.Fatal(err)
	}
	b.Lock()
	defer b.Unlock()
	// One delay per transition, plus one after each byte.
	if got, want := b.sleeps, len(b.events)+3; got != want {
		t.Errorf("settle delays:\n  got: %d\n want: %d", got, want)
	}
}

func TestHalt(t *testing.T) {
	d, b := newTestDev(t, nil)
	b.reset()
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if got, want := b.frames(), [][]byte{{0x80}}; !reflect.DeepEqual(got, want) {
		t.Errorf("halt:\n  got: %x\n want: %x", got, want)
	}
}
