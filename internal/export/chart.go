package export

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"campusattend/internal/analytics"
)

// LineChartPNG draws points as a 0-100% line chart. It returns nil without
// error when there is nothing to draw.
func LineChartPNG(title, xLabel string, points []analytics.Point) ([]byte, error) {
	if len(points) == 0 {
		return nil, nil
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	ticks := make([]chart.Tick, len(points))
	for i, p := range points {
		xs[i] = float64(i)
		ys[i] = p.Y
		ticks[i] = chart.Tick{Value: float64(i), Label: p.X}
	}
	maxX := float64(len(points) - 1)
	if maxX < 1 {
		maxX = 1
	}

	graph := chart.Chart{
		Title:  title,
		Width:  1000,
		Height: 500,
		XAxis: chart.XAxis{
			Name:  xLabel,
			Range: &chart.ContinuousRange{Min: 0, Max: maxX},
			Ticks: ticks,
		},
		YAxis: chart.YAxis{
			Name:  "Attendance Rate (%)",
			Range: &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    title,
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeColor: drawing.ColorFromHex("1f77b4"),
					StrokeWidth: 2,
					DotColor:    drawing.ColorFromHex("1f77b4"),
					DotWidth:    4,
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

// Base64 encodes a PNG for JSON responses; empty input stays empty.
func Base64(png []byte) string {
	if len(png) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(png)
}
