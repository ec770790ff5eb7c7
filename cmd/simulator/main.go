package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/playforge/experiments/internal/config"
	"github.com/playforge/experiments/internal/experiment"
	"github.com/playforge/experiments/internal/experiment/events/subscribers"
	"github.com/playforge/experiments/internal/monitoring"
	"github.com/playforge/experiments/internal/rotation"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to config file")
	subjects := flag.Int("subjects", -1, "Number of simulated subjects (-1 to use config default)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error) (empty to use config default)")
	seed := flag.Int64("seed", 0, "Random seed (0 for time-based)")
	logEvents := flag.Bool("log-events", false, "Log every engine event")
	flag.Parse()

	// Initialize configuration
	if err := config.Init(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize config")
	}

	cfg := config.Get()

	// Use config defaults if not overridden by flags
	if *subjects == -1 {
		*subjects = cfg.Simulator.Subjects
	}
	if *logLevel == "" {
		*logLevel = cfg.Logging.Level
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	// Setup logging
	setupLogging(*logLevel, cfg.Logging.Format)

	log.Info().
		Int("subjects", *subjects).
		Int64("seed", *seed).
		Float64("control_rate", cfg.Simulator.ControlRate).
		Float64("treatment_rate", cfg.Simulator.TreatmentRate).
		Msg("Starting experiment simulator")

	rng := rand.New(rand.NewSource(*seed))

	opts := experiment.Options{
		TargetSampleBase:       cfg.Engine.TargetSampleBase,
		SampleGrowthPerVariant: cfg.Engine.SampleGrowthPerVariant,
		MinSampleSize:          int64(cfg.Engine.MinSampleSize),
		SignificanceThreshold:  cfg.Engine.SignificanceThreshold,
		Epsilon:                cfg.Engine.Epsilon,
	}
	registry := experiment.NewRegistry(opts, rng, log.Logger)

	if *logEvents {
		sub := subscribers.NewLoggerSubscriber("simulator-logger", log.Logger, zerolog.InfoLevel)
		registry.Events().Subscribe(sub)
	}

	// Goroutine monitor watches the background loops
	monitor := monitoring.NewGoroutineMonitor(
		time.Duration(cfg.Simulator.MonitorInterval)*time.Second, log.Logger)
	monitor.Start()
	defer monitor.Stop()

	// Rotation scheduler retires significant experiments
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := rotation.NewScheduler(
		registry,
		time.Duration(cfg.Rotation.IntervalSeconds)*time.Second,
		time.Duration(cfg.Rotation.TickSeconds)*time.Second,
		log.Logger,
	)
	scheduler.Start(ctx)
	monitor.RegisterComponent("rotation_scheduler", 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
		os.Exit(1)
	}()

	if err := runSimulation(registry, rng, cfg, *subjects); err != nil {
		log.Fatal().Err(err).Msg("Simulation failed")
	}

	metrics := monitor.GetMetrics()
	log.Info().
		Int("goroutines_current", metrics.Current).
		Int("goroutines_peak", metrics.Peak).
		Int("goroutines_growth", metrics.Growth).
		Interface("component_counts", metrics.ComponentCounts).
		Msg("Simulation complete")
}

func setupLogging(level, format string) {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	if format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}
}

// runSimulation creates one A/B experiment, sends simulated subjects
// through it with per-variant conversion probabilities, and prints the
// final report.
func runSimulation(registry *experiment.Registry, rng *rand.Rand, cfg *config.Config, subjects int) error {
	variants := []experiment.VariantConfig{
		{
			ID:         "control",
			Name:       "Grey Button",
			Weight:     1,
			IsControl:  true,
			Parameters: map[string]interface{}{"button_color": "grey"},
		},
		{
			ID:         "treatment",
			Name:       "Red Button",
			Weight:     1,
			Parameters: map[string]interface{}{"button_color": "red"},
		},
	}

	id, err := registry.CreateExperiment(
		"cta button color", "does a red call-to-action convert better",
		experiment.TypeSimpleAB, variants, "purchase", "session_length")
	if err != nil {
		return fmt.Errorf("creating experiment: %w", err)
	}
	if err := registry.StartExperiment(id); err != nil {
		return fmt.Errorf("starting experiment: %w", err)
	}

	conversionRates := map[string]float64{
		"control":   cfg.Simulator.ControlRate,
		"treatment": cfg.Simulator.TreatmentRate,
	}

	for i := 0; i < subjects; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		sel, ok := registry.GetVariant(subject, id)
		if !ok {
			continue
		}
		if rng.Float64() < conversionRates[sel.VariantID] {
			registry.RecordConversion(subject, id, "purchase")
		}
		registry.RecordMetric(subject, id, "session_length", 60+rng.Float64()*240)
	}

	if err := registry.StopExperiment(id); err != nil {
		return fmt.Errorf("stopping experiment: %w", err)
	}

	for _, report := range registry.ListExperiments() {
		printReport(report)
	}
	return nil
}

func printReport(r *experiment.Report) {
	fmt.Printf("\nExperiment: %s (%s)\n", r.Name, r.Kind)
	fmt.Printf("Status: %s  Winner: %s\n", r.Status, r.Winner)
	fmt.Printf("Participants: %d  Conversions: %d  Rate: %.2f%%\n",
		r.Participants, r.Conversions, r.ConversionRate*100)
	fmt.Printf("Significance score: %.4f  Significant: %v\n", r.Significance, r.IsSignificant)
	if r.LiftDefined {
		fmt.Printf("Lift over control: %+.1f%%\n", r.Lift*100)
	}
	fmt.Println()
	for _, v := range r.Variants {
		marker := " "
		if v.VariantID == r.Winner {
			marker = "*"
		}
		control := ""
		if v.IsControl {
			control = " (control)"
		}
		fmt.Printf("%s %-12s%s %6d participants  %5d conversions  %.2f%%\n",
			marker, v.Name, control, v.Participants, v.Conversions, v.ConversionRate*100)
		for name, mean := range v.MetricMeans {
			fmt.Printf("    %s mean: %.2f\n", name, mean)
		}
	}
}
