package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"objpop3d/internal/logging"
	"objpop3d/pkg/config"
	"objpop3d/pkg/pipeline"
	"objpop3d/pkg/stack"
)

func main() {
	labelDir := flag.String("labels", "", "Directory containing label slices")
	intensityDir := flag.String("intensities", "", "Directory containing intensity slices (optional)")
	partnerDir := flag.String("partner", "", "Directory containing label slices of a second population to colocalize (optional)")
	outputDir := flag.String("output", "", "Directory to write the resulting label slices (optional)")
	format := flag.String("format", "png", "Format of written slices: png or tiff")
	configPath := flag.String("config", "objpop3d.yaml", "Configuration file (.yaml or .toml)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration to -config and exit")
	workers := flag.Int("workers", 0, "Number of goroutines per operation (overrides the configuration)")
	verbose := flag.Bool("verbose", false, "Log debug messages")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	if *labelDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Processing.Workers = *workers
	}
	if *verbose {
		cfg.Log.Verbose = true
	}
	cfg.Log.SetLogger()
	defer logging.Shutdown()

	p, err := pipeline.New(&pipeline.Params{
		LabelDir:     *labelDir,
		IntensityDir: *intensityDir,
		PartnerDir:   *partnerDir,
		OutputDir:    *outputDir,
		Format:       stack.Format(*format),
		Config:       cfg,
	})
	if err != nil {
		logging.Criticalf("Invalid configuration: %v\n", err)
		logging.Shutdown()
		os.Exit(1)
	}

	startTime := time.Now()
	summary, err := p.Process()
	if err != nil {
		logging.Criticalf("Pipeline failed: %v\n", err)
		logging.Shutdown()
		os.Exit(1)
	}
	elapsed := time.Since(startTime)

	unit := cfg.Calibration.Unit
	fmt.Printf("\nProcessed %s objects in %.2f seconds\n", humanize.Comma(int64(summary.Objects)), elapsed.Seconds())
	for _, r := range summary.Reports {
		fmt.Printf("  %s\n", r)
	}
	fmt.Printf("Objects kept:              %s\n", humanize.Comma(int64(summary.Final)))
	fmt.Printf("Total volume:              %.3f %s^3\n", summary.TotalVolume, unit)
	fmt.Printf("Mean volume:               %.3f %s^3\n", summary.MeanVolume, unit)
	fmt.Printf("Mean nearest neighbour:    %.3f %s\n", summary.MeanNearestNeighbour, unit)
	if *intensityDir != "" {
		fmt.Printf("Background (mean + sd):    %.2f\n", summary.Background)
		if summary.BackgroundWindow != nil {
			fmt.Printf("Lowest background:         %.2f in %s\n", summary.WindowBackground, summary.BackgroundWindow)
		}
		if len(summary.FocusedPlanes) > 0 {
			fmt.Printf("Focused planes:            %v\n", summary.FocusedPlanes)
		}
	}
	if *partnerDir != "" {
		fmt.Printf("Colocalized pairs:         %s\n", humanize.Comma(int64(summary.Pairs)))
		fmt.Printf("Colocalized partner objs:  %s\n", humanize.Comma(int64(summary.Colocalized)))
	}
	if *outputDir != "" {
		fmt.Printf("Results written to:        %s\n", *outputDir)
	}
}
