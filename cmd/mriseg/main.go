package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"mriseg/internal/models"
	"mriseg/internal/pipeline"
	"mriseg/pkg/config"
	"mriseg/pkg/logging"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "mriseg.yaml", "YAML configuration file (defaults are used if it does not exist)")
	envFile := flag.String("env", "", "Optional .env file with MRISEG_* overrides")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	inputDir := flag.String("input", "", "Directory containing source .nii/.nii.gz volumes")
	outputDir := flag.String("output", "", "Root directory for segmentation outputs")
	dataRoot := flag.String("data-root", "", "Common ancestor of the inputs whose layout is mirrored under -output (defaults to -input)")
	postfix := flag.String("postfix", "", "Postfix appended to output file stems")
	ext := flag.String("ext", "", "Output file extension")
	dtype := flag.String("dtype", "", "Output element type (uint8, int16, int32, float32, float64)")
	summaryDir := flag.String("summary-dir", "", "Write animated GIF summaries to this directory")
	slicesDir := flag.String("slices-dir", "", "Write JPEG z-slices of every prediction to this directory")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.ApplyEnv(cfg, *envFile); err != nil {
		log.Fatalf("Failed to apply environment: %v", err)
	}

	// Flags win over file and environment
	if *inputDir != "" {
		cfg.Input.Dir = *inputDir
	}
	if *outputDir != "" {
		cfg.Output.Path = *outputDir
	}
	if *dataRoot != "" {
		cfg.Output.DataRoot = *dataRoot
	}
	if *postfix != "" {
		cfg.Output.Postfix = *postfix
	}
	if *ext != "" {
		cfg.Output.Ext = *ext
	}
	if *dtype != "" {
		cfg.Output.DType = models.DType(*dtype)
	}
	if *summaryDir != "" {
		cfg.Summary.Enabled = true
		cfg.Summary.LogDir = *summaryDir
	}
	if *slicesDir != "" {
		cfg.Summary.SlicesDir = *slicesDir
	}

	if cfg.Input.Dir == "" {
		flag.Usage()
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Verbose)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Close()

	fmt.Println("================================")
	fmt.Println("MRI SEGMENTATION SAVER")
	fmt.Println("================================")

	startTime := time.Now()
	result, err := pipeline.Run(cfg, logger)
	if err != nil {
		logger.Error("Run failed: %v", err)
		logger.Close()
		os.Exit(1)
	}

	fmt.Printf("\nProcessed %d volumes in %d batches (%.2f seconds)\n",
		len(result.Sources), result.Iterations, time.Since(startTime).Seconds())
	fmt.Printf("Segmentations saved under: %s\n", cfg.Output.Path)
	for _, path := range result.Written {
		fmt.Printf("- %s\n", path)
	}
	if cfg.Summary.Enabled {
		fmt.Printf("Summaries written to: %s\n", cfg.Summary.LogDir)
	}
}
