// Package chart renders the monthly child-death bar chart.
package chart

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/DeafMist/child-deaths-bot/internal/models"
)

// ErrEmpty is returned when there are no months to draw.
var ErrEmpty = errors.New("chart: no months to draw")

// TitleHeading is the first title line.
const TitleHeading = "Covid-19 Deaths England 0-19 years"

const (
	DefaultWidth  = 640
	DefaultHeight = 480

	marginLeft   = 64
	marginRight  = 20
	marginTop    = 48
	marginBottom = 64
	maxTicks     = 8
)

var (
	barColor  = color.NRGBA{R: 31, G: 119, B: 180, A: 255}
	axisColor = color.Black
)

// Options size the output image.
type Options struct {
	Width  int
	Height int
}

// Title returns both title lines for s.
func Title(s models.Summary) (string, string) {
	return TitleHeading, fmt.Sprintf("%d to %s", s.CumulativeTotal, s.LatestDateLabel())
}

// Render draws s and writes it to path as PNG. The file is closed before Render returns.
func Render(s models.Summary, path string, opts Options) error {
	img, err := Draw(s, opts)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create chart dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	if err := imaging.Encode(f, img, imaging.PNG); err != nil {
		f.Close()
		return fmt.Errorf("encode chart: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close chart file: %w", err)
	}
	return nil
}

// Draw renders s in memory.
func Draw(s models.Summary, opts Options) (*image.NRGBA, error) {
	if len(s.Months) == 0 {
		return nil, ErrEmpty
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}

	plotW := opts.Width - marginLeft - marginRight
	plotH := opts.Height - marginTop - marginBottom
	if plotW < len(s.Months) || plotH <= 0 {
		return nil, fmt.Errorf("chart: %dx%d is too small for %d months", opts.Width, opts.Height, len(s.Months))
	}
	originX, originY := marginLeft, marginTop+plotH

	peak := 0
	for _, m := range s.Months {
		peak = max(peak, m.ChildDeaths)
	}
	ticks := Ticks(peak)
	top := ticks[len(ticks)-1]

	canvas := imaging.New(opts.Width, opts.Height, color.White)

	slot := plotW / len(s.Months)
	barW := max(1, slot*2/3)
	for i, m := range s.Months {
		x := originX + i*slot + (slot-barW)/2
		if h := m.ChildDeaths * plotH / top; h > 0 {
			canvas = imaging.Paste(canvas, imaging.New(barW, h, barColor), image.Pt(x, originY-h))
		}
		label := verticalText(m.Month.Format("Jan-06"))
		canvas = imaging.Overlay(canvas, label, image.Pt(x+barW/2-label.Bounds().Dx()/2, originY+6), 1)
	}

	canvas = imaging.Paste(canvas, imaging.New(1, plotH+1, axisColor), image.Pt(originX, marginTop))
	canvas = imaging.Paste(canvas, imaging.New(plotW, 1, axisColor), image.Pt(originX, originY))

	for _, v := range ticks {
		y := originY - v*plotH/top
		canvas = imaging.Paste(canvas, imaging.New(5, 1, axisColor), image.Pt(originX-5, y))
		text := strconv.Itoa(v)
		drawText(canvas, text, originX-8-textWidth(text), y+4)
	}

	yLabel := verticalText("deaths")
	canvas = imaging.Overlay(canvas, yLabel, image.Pt(8, marginTop+plotH/2-yLabel.Bounds().Dy()/2), 1)

	heading, sub := Title(s)
	drawText(canvas, heading, (opts.Width-textWidth(heading))/2, 18)
	drawText(canvas, sub, (opts.Width-textWidth(sub))/2, 34)

	return canvas, nil
}

// Ticks returns integer y-axis ticks from 0 covering peak, using 1-2-5 steps.
func Ticks(peak int) []int {
	if peak <= 0 {
		return []int{0, 1}
	}

	step := 1
	for peak/step > maxTicks {
		switch {
		case isDecade(step):
			step *= 2
		case isDecade(step / 2):
			step = step / 2 * 5
		default:
			step = step / 5 * 10
		}
	}

	ticks := []int{0}
	for v := step; ; v += step {
		ticks = append(ticks, v)
		if v >= peak {
			break
		}
	}
	return ticks
}

func isDecade(n int) bool {
	if n < 1 {
		return false
	}
	for n%10 == 0 {
		n /= 10
	}
	return n == 1
}

func drawText(dst *image.NRGBA, text string, x, y int) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(axisColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func textWidth(text string) int {
	return font.MeasureString(basicfont.Face7x13, text).Ceil()
}

// verticalText renders text reading bottom to top.
func verticalText(text string) *image.NRGBA {
	face := basicfont.Face7x13
	img := imaging.New(textWidth(text)+2, face.Height, color.Transparent)
	drawText(img, text, 1, face.Ascent)
	return imaging.Rotate90(img)
}
