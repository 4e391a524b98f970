// Command occupancy-plot renders the recorded occupancy samples from a
// database to a PNG for offline review.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/occupancy.report/internal/db"
)

var (
	dbFile  = flag.String("db", "occupancy.db", "Path to the sqlite database")
	outFile = flag.String("out", "occupancy.png", "Output PNG path")
	limit   = flag.Int("limit", 5000, "Maximum number of samples to plot")
)

func main() {
	flag.Parse()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	samples, err := database.RecentSamples(*limit)
	if err != nil {
		log.Fatalf("Failed to load samples: %v", err)
	}
	if len(samples) == 0 {
		log.Fatal("No occupancy samples recorded yet")
	}

	start := samples[0].Timestamp
	occupancyPts := make(plotter.XYs, 0, len(samples))
	entriesPts := make(plotter.XYs, 0, len(samples))
	exitsPts := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		x := s.Timestamp.Sub(start).Minutes()
		occupancyPts = append(occupancyPts, plotter.XY{X: x, Y: float64(s.Occupancy)})
		entriesPts = append(entriesPts, plotter.XY{X: x, Y: float64(s.Entries)})
		exitsPts = append(exitsPts, plotter.XY{X: x, Y: float64(s.Exits)})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Occupancy (%d samples from %s)", len(samples), start.Format("2006-01-02 15:04"))
	p.X.Label.Text = "Minutes"
	p.Y.Label.Text = "Count"

	addLine := func(pts plotter.XYs, label string, c color.Color) {
		line, err := plotter.NewLine(pts)
		if err != nil {
			log.Fatalf("Failed to build %s line: %v", label, err)
		}
		line.Color = c
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(label, line)
	}

	addLine(occupancyPts, "occupancy", color.RGBA{R: 49, G: 104, B: 142, A: 255})
	addLine(entriesPts, "entries", color.RGBA{R: 53, G: 183, B: 121, A: 255})
	addLine(exitsPts, "exits", color.RGBA{R: 255, G: 82, B: 82, A: 255})

	p.Legend.Top = true
	p.Legend.Left = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, *outFile); err != nil {
		log.Fatalf("Failed to save plot: %v", err)
	}
	log.Printf("Wrote %s", *outFile)
}
