// Package screen shows frames on the segment display, and retains a picture of them for debugging
// the rest of the program without the display attached.
package screen

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"net/http"
	"sync"

	"github.com/gcoonrod/dMarkle/control/display"
	"github.com/gcoonrod/dMarkle/control/font"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	cellWidth     = 40 // Size of one digit in the rendered image.
	cellHeight    = 70
	thickness     = 6  // Width of a segment.
	margin        = 20 // Space around and between digits.
	captionHeight = 20
)

var (
	litColor   = color.NRGBA64{R: 0xffff, G: 0x2000, B: 0x1000, A: 0xffff}
	unlitColor = color.NRGBA64{R: 0x1800, G: 0x1800, B: 0x1800, A: 0xffff}
	background = color.NRGBA64{A: 0xffff}
	textColor  = color.NRGBA64{R: 0xa000, G: 0xa000, B: 0xa000, A: 0xffff}
)

// Panel is a physical display.
type Panel interface {
	Show(display.Frame) error
	Halt() error
}

// Screen is the appliance's display.  It forwards frames to an optional panel and keeps a preview
// of the last one.
type Screen struct {
	panel Panel
	width int

	imageMu sync.Mutex
	image   *image.NRGBA64 // must hold imageMu to read or write.
	frame   display.Frame  // must hold imageMu to read or write.
}

// NewScreen returns a screen of width digits.  A nil panel runs headless; only the preview is
// updated.
func NewScreen(p Panel, width int) *Screen {
	s := &Screen{
		panel: p,
		width: width,
		image: image.NewNRGBA64(image.Rect(0, 0, margin+width*(cellWidth+margin), 2*margin+cellHeight+captionHeight)),
	}
	s.updateCurrentImage(display.Blank(width))
	return s
}

// Width returns the number of digits.
func (s *Screen) Width() int { return s.width }

// Show displays the frame.
func (s *Screen) Show(f display.Frame) error {
	s.updateCurrentImage(f)
	if s.panel == nil {
		return nil
	}
	if err := s.panel.Show(f); err != nil {
		return fmt.Errorf("show %v on panel: %w", f, err)
	}
	return nil
}

// Blank blanks the screen.
func (s *Screen) Blank() error {
	if err := s.Show(display.Blank(s.width)); err != nil {
		return fmt.Errorf("blank display: %w", err)
	}
	return nil
}

// Park blanks every digit but lights the rightmost decimal point, so that someone looking at the
// appliance can tell that the program exited but the board still has power.
func (s *Screen) Park() error {
	f := display.Blank(s.width)
	if s.width > 0 {
		f.Cells[s.width-1].Dot = true
	}
	if err := s.Show(f); err != nil {
		return fmt.Errorf("park display: %w", err)
	}
	return nil
}

// Halt turns off the panel.
func (s *Screen) Halt() error {
	if s.panel == nil {
		return nil
	}
	return s.panel.Halt()
}

// Frame returns the frame most recently shown.
func (s *Screen) Frame() display.Frame {
	s.imageMu.Lock()
	defer s.imageMu.Unlock()
	return s.frame
}

// Image returns a copy of the preview.
func (s *Screen) Image() *image.NRGBA64 {
	s.imageMu.Lock()
	defer s.imageMu.Unlock()
	img := image.NewNRGBA64(s.image.Bounds())
	copy(img.Pix, s.image.Pix)
	return img
}

// ServeHTTP serves the current preview as a PNG.
func (s *Screen) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Add("content-type", "image/png")
	w.WriteHeader(http.StatusOK)
	s.imageMu.Lock()
	defer s.imageMu.Unlock()
	if err := png.Encode(w, s.image); err != nil {
		log.Printf("encoding image: %v", err)
	}
}

// segments holds the rectangle each segment occupies within a digit cell, in font bit order.
var segments = []struct {
	seg  font.Code
	rect image.Rectangle
}{
	{font.SegA, image.Rect(thickness, 0, cellWidth-thickness, thickness)},
	{font.SegB, image.Rect(cellWidth-thickness, thickness, cellWidth, cellHeight/2)},
	{font.SegC, image.Rect(cellWidth-thickness, cellHeight/2, cellWidth, cellHeight-thickness)},
	{font.SegD, image.Rect(thickness, cellHeight-thickness, cellWidth-thickness, cellHeight)},
	{font.SegE, image.Rect(0, cellHeight/2, thickness, cellHeight-thickness)},
	{font.SegF, image.Rect(0, thickness, thickness, cellHeight/2)},
	{font.SegG, image.Rect(thickness, (cellHeight-thickness)/2, cellWidth-thickness, (cellHeight+thickness)/2)},
	{font.DP, image.Rect(cellWidth+thickness/2, cellHeight-thickness, cellWidth+3*thickness/2, cellHeight)},
}

// cellOrigin returns the top-left corner of digit position pos in the preview.
func cellOrigin(pos int) image.Point {
	return image.Pt(margin+pos*(cellWidth+margin), margin)
}

// updateCurrentImage redraws the preview for f.
func (s *Screen) updateCurrentImage(f display.Frame) {
	s.imageMu.Lock()
	defer s.imageMu.Unlock()
	s.frame = f
	draw.Draw(s.image, s.image.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	for pos := 0; pos < s.width && pos < f.Width(); pos++ {
		code := f.Cells[pos].Code
		if f.Cells[pos].Dot {
			code |= font.DP
		}
		o := cellOrigin(pos)
		for _, seg := range segments {
			c := unlitColor
			if code&seg.seg != 0 {
				c = litColor
			}
			draw.Draw(s.image, seg.rect.Add(o), image.NewUniform(c), image.Point{}, draw.Src)
		}
	}
	drawer := &xfont.Drawer{
		Dst:  s.image,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(margin, 2*margin+cellHeight+basicfont.Face7x13.Ascent),
	}
	drawer.DrawString(f.String())
}
