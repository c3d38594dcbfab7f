package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"abide_site_adaptation/logx"
)

func main() {
	var cfg Config
	cmd := newRootCommand(&cfg, run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, logx.Errorf("error: %v", err))
		os.Exit(1)
	}
}

// run is the whole pipeline: fetch the dataset, process phenotypes, extract
// connectivity features, cross-validate the hyperparameter search, refit the
// winner, and persist every artifact into the output directory.
func run(cfg Config) error {
	log := logx.New("main", cfg.Verbose)
	log.Infof("Initializing training...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nReceived stop signal. Shutting down gracefully...")
		cancel()
	}()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := writeArgsYAML(cfg, filepath.Join(cfg.OutputDir, argsFileName)); err != nil {
		return fmt.Errorf("writing %s: %w", argsFileName, err)
	}

	dataset, err := fetchDataset(cfg, log.Sub("dataset"))
	if err != nil {
		return err
	}

	phenotypes, err := processPhenotypes(dataset.Phenotypes, log.Sub("phenotypes"))
	if err != nil {
		return err
	}
	if err := phenotypes.WriteCSV(filepath.Join(cfg.OutputDir, phenotypesFileName)); err != nil {
		return fmt.Errorf("writing %s: %w", phenotypesFileName, err)
	}

	x, err := extractConnectivity(dataset.TimeSeries, cfg.FeatureExtraction, log.Sub("connectivity"))
	if err != nil {
		return err
	}

	y := phenotypes.Labels()
	groups := phenotypes.Sites()

	in := FitInputs{X: x, Y: y, Groups: groups}
	if cfg.MIDA {
		factors, factorNames := phenotypes.Factors()
		in.Factors = factors
		log.Infof("Factor matrix: %d columns (%v...)", len(factorNames), factorNames[:min(4, len(factorNames))])
	}
	if err := writeInputs(filepath.Join(cfg.OutputDir, inputsFileName), in.X, in.Y, in.Groups, in.Factors); err != nil {
		return fmt.Errorf("writing %s: %w", inputsFileName, err)
	}

	seed := cfg.Seed(time.Now().UnixNano())
	log.Infof("Random state: %d", seed)

	splitter, err := newSplitter(cfg.Split, cfg.NumFolds, cfg.NumCVRepeats, seed, log.Sub("splitter"))
	if err != nil {
		return err
	}

	hub := startDashboard(cfg.DashboardPort, log.Sub("dashboard"))

	trainer, err := createTrainer(cfg, splitter, seed, log.Sub("trainer"), hub)
	if err != nil {
		return err
	}

	if err := trainer.Fit(ctx, in); err != nil {
		return fmt.Errorf("fitting: %w", err)
	}

	if err := trainer.Results().WriteCSV(filepath.Join(cfg.OutputDir, cvResultsFileName)); err != nil {
		return fmt.Errorf("writing %s: %w", cvResultsFileName, err)
	}
	if err := writeJSON(filepath.Join(cfg.OutputDir, modelFileName), trainer.Artifact()); err != nil {
		return fmt.Errorf("writing %s: %w", modelFileName, err)
	}

	hub.BroadcastStatus("finished")
	log.Infof("Finished training.")
	fmt.Println(logx.Successf("Results written to %s", cfg.OutputDir))
	return nil
}

func numCPU() int {
	return runtime.NumCPU()
}
