// Package chart renders a city's hourly occupancy as a PNG bar chart.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"cityshift/internal/models"

	gochart "github.com/wcharczuk/go-chart/v2"
)

var ErrEmptyDay = errors.New("city day has no hours")

type Renderer struct {
	Width    int
	Height   int
	BarWidth int
}

func NewRenderer() *Renderer {
	return &Renderer{Width: 1000, Height: 500, BarWidth: 40}
}

// RenderPNG renders day into an in-memory PNG.
func (r *Renderer) RenderPNG(day models.CityDay) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Render(day, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render writes one bar per hour of day, labelled with the hour.
func (r *Renderer) Render(day models.CityDay, w io.Writer) error {
	if len(day.Hours) == 0 || len(day.Hours) != len(day.Counts) {
		return ErrEmptyDay
	}

	peak := 0
	bars := make([]gochart.Value, len(day.Hours))
	for i, h := range day.Hours {
		bars[i] = gochart.Value{Label: strconv.Itoa(h), Value: float64(day.Counts[i])}
		if day.Counts[i] > peak {
			peak = day.Counts[i]
		}
	}
	// A flat zero range cannot be drawn.
	top := peak
	if top < 1 {
		top = 1
	}

	bc := gochart.BarChart{
		Title:    fmt.Sprintf("Work Activity by Hour in %s", day.City),
		Width:    r.Width,
		Height:   r.Height,
		BarWidth: r.BarWidth,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10},
		},
		YAxis: gochart.YAxis{
			Name:  "Number of People Working",
			Range: &gochart.ContinuousRange{Min: 0, Max: float64(top)},
			Ticks: yTicks(top),
		},
		Bars: bars,
	}
	if err := bc.Render(gochart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// yTicks returns whole-number ticks from 0 to top, at most about ten of them.
func yTicks(top int) []gochart.Tick {
	step := (top + 9) / 10
	if step < 1 {
		step = 1
	}
	var ticks []gochart.Tick
	for v := 0; v <= top; v += step {
		ticks = append(ticks, gochart.Tick{Value: float64(v), Label: strconv.Itoa(v)})
	}
	if last := ticks[len(ticks)-1]; int(last.Value) != top {
		ticks = append(ticks, gochart.Tick{Value: float64(top), Label: strconv.Itoa(top)})
	}
	return ticks
}
