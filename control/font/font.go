// Package font maps digits and characters to seven segment codes.
//
// Segments are lettered the usual way:
//
//	 aaa
//	f   b
//	 ggg
//	e   c
//	 ddd  dp
//
// Bit 0 is segment a and bit 6 is segment g; bit 7 is the decimal point.  Grids wider than 8
// segments use bits 8 and 9, which no glyph in this package sets.
package font

import "sort"

// Code is a segment bitmask for one display position.
type Code uint16

const (
	SegA Code = 1 << iota
	SegB
	SegC
	SegD
	SegE
	SegF
	SegG
	DP

	// Blank lights nothing.
	Blank Code = 0
)

// hex is indexed by digit value.
var hex = [16]Code{
	0b00111111, // 0
	0b00000110, // 1
	0b01011011, // 2
	0b01001111, // 3
	0b01100110, // 4
	0b01101101, // 5
	0b01111101, // 6
	0b00000111, // 7
	0b01111111, // 8
	0b01101111, // 9
	0b01110111, // A
	0b01111100, // b
	0b00111001, // C
	0b01011110, // d
	0b01111001, // E
	0b01110001, // F
}

type glyph struct {
	r    rune
	code Code
}

// ascii must stay sorted by rune.  Some punctuation has no sensible rendering and is mapped to a
// blank on purpose; characters absent from the table are errors.
var ascii = []glyph{
	{' ', 0b00000000},
	{'!', 0b10000110},
	{'"', 0b00100010},
	{'#', 0b01111110},
	{'$', 0b01101101},
	{'%', 0b00000000},
	{'&', 0b00000000},
	{'\'', 0b00000010},
	{'(', 0b00110000},
	{')', 0b00000110},
	{'*', 0b01100011},
	{'+', 0b00000000},
	{',', 0b00000100},
	{'-', 0b01000000},
	{'.', 0b10000000},
	{'/', 0b01010010},
	{'0', 0b00111111},
	{'1', 0b00000110},
	{'2', 0b01011011},
	{'3', 0b01001111},
	{'4', 0b01100110},
	{'5', 0b01101101},
	{'6', 0b01111101},
	{'7', 0b00100111},
	{'8', 0b01111111},
	{'9', 0b01101111},
	{':', 0b00000000},
	{';', 0b00000000},
	{'<', 0b00000000},
	{'=', 0b01001000},
	{'>', 0b00000000},
	{'?', 0b01010011},
	{'@', 0b01011111},
	{'A', 0b01110111},
	{'B', 0b01111111},
	{'C', 0b00111001},
	{'D', 0b00111111},
	{'E', 0b01111001},
	{'F', 0b01110001},
	{'G', 0b00111101},
	{'H', 0b01110110},
	{'I', 0b00000110},
	{'J', 0b00011110},
	{'K', 0b01101001},
	{'L', 0b00111000},
	{'M', 0b00010101},
	{'N', 0b00110111},
	{'O', 0b00111111},
	{'P', 0b01110011},
	{'Q', 0b01100111},
	{'R', 0b00110001},
	{'S', 0b01101101},
	{'T', 0b01111000},
	{'U', 0b00111110},
	{'V', 0b00101010},
	{'W', 0b00011101},
	{'X', 0b01110110},
	{'Y', 0b01101110},
	{'Z', 0b01011011},
	{'[', 0b00111001},
	{'\\', 0b01100100},
	{']', 0b00001111},
	{'^', 0b00000000},
	{'_', 0b00001000},
	{'`', 0b00100000},
	{'a', 0b01011111},
	{'b', 0b01111100},
	{'c', 0b01011000},
	{'d', 0b01011110},
	{'e', 0b01111011},
	{'f', 0b00110001},
	{'g', 0b01101111},
	{'h', 0b01110100},
	{'i', 0b00000100},
	{'j', 0b00001110},
	{'k', 0b01110101},
	{'l', 0b00110000},
	{'m', 0b01010101},
	{'n', 0b01010100},
	{'o', 0b01011100},
	{'p', 0b01110011},
	{'q', 0b01100111},
	{'r', 0b01010000},
	{'s', 0b01101101},
	{'t', 0b01111000},
	{'u', 0b00011100},
	{'v', 0b00101010},
	{'w', 0b00011101},
	{'x', 0b01110110},
	{'y', 0b01101110},
	{'z', 0b01000111},
	{'{', 0b01000110},
	{'|', 0b00000110},
	{'}', 0b01110000},
	{'~', 0b00000001},
}

// Digit returns the code for a hexadecimal digit value.  ok is false if v is not in 0..15.
func Digit(v int) (c Code, ok bool) {
	if v < 0 || v >= len(hex) {
		return Blank, false
	}
	return hex[v], true
}

// Char returns the code for a printable character.  ok is false if the character has no entry.
func Char(r rune) (c Code, ok bool) {
	i := sort.Search(len(ascii), func(i int) bool { return ascii[i].r >= r })
	if i < len(ascii) && ascii[i].r == r {
		return ascii[i].code, true
	}
	return Blank, false
}

// DecimalOf reverses Digit for the decimal digits, ignoring the decimal point.
func DecimalOf(c Code) (v int, ok bool) {
	c &^= DP
	for i := 0; i < 10; i++ {
		if hex[i] == c {
			return i, true
		}
	}
	return 0, false
}
