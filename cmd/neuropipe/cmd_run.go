package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"neuropipe/internal/backend/native"
	"neuropipe/internal/bids"
	"neuropipe/internal/config"
	"neuropipe/internal/derivatives"
	"neuropipe/internal/ledger"
	"neuropipe/internal/logging"
	"neuropipe/internal/pipeline"
)

var runFlags struct {
	participantLabels []string
	step              string
	configPath        string
	jobs              int
	unitTimeout       time.Duration
	report            bool
	set               []string
	logLevel          string
	logFormat         string
}

var runCmd = &cobra.Command{
	Use:   "run <bids_dir> <output_dir> {participant|group}",
	Short: "Process a BIDS dataset through the analysis pipeline",
	Long: `Run the pipeline over every discovered (participant, session, modality)
unit. Stages execute in order: import, preproc, sensor, source.

Exit codes:
  0  at least one unit completed every requested stage
  1  all units were attempted but some (or all) failed
  2  fatal dataset-structure or configuration error before any unit ran`,
	Args: cobra.ExactArgs(3),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVar(&runFlags.participantLabels, "participant_label", nil, "Participant label(s) to process (with or without sub- prefix)")
	f.StringVar(&runFlags.step, "step", "all", "Pipeline step: all, import, preproc, sensor, source")
	f.StringVar(&runFlags.configPath, "config", "", "YAML/JSON configuration file")
	f.IntVar(&runFlags.jobs, "jobs", 1, "Max units processed concurrently")
	f.DurationVar(&runFlags.unitTimeout, "unit-timeout", 0, "Per-unit wall-clock limit (0 = none)")
	f.BoolVar(&runFlags.report, "report", false, "Write a per-unit Markdown report into the figures folder")
	f.StringArrayVar(&runFlags.set, "set", nil, "Config override section.key=value (repeatable)")
	f.StringVar(&runFlags.logLevel, "log-level", envDefault("NEUROPIPE_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	f.StringVar(&runFlags.logFormat, "log-format", envDefault("NEUROPIPE_LOG_FORMAT", "text"), "Log format: text or json")
}

func runRun(cmd *cobra.Command, args []string) error {
	bidsDir, outputDir, level := args[0], args[1], args[2]
	if level != "participant" && level != "group" {
		return fatal(fmt.Errorf("analysis level must be participant or group, got %q", level))
	}

	step, err := pipeline.ParseStep(runFlags.step)
	if err != nil {
		return fatal(err)
	}

	rl, err := logging.OpenRunLog(outputDir, derivatives.PipelineName, time.Now())
	if err != nil {
		return fatal(err)
	}
	defer rl.Close()
	logging.InitWithRunLog(parseLevel(runFlags.logLevel), runFlags.logFormat, rl)
	log := logging.New("run")
	log.Info("run starting", "bids_dir", bidsDir, "output_dir", outputDir,
		"level", level, "step", step, "version", version)

	// Everything up to plan execution is fail-fast: no unit runs until the
	// dataset and configuration are both known to be valid.
	ds, err := bids.Index(bidsDir, runFlags.participantLabels)
	if err != nil {
		return fatal(err)
	}
	log.Info("dataset indexed", "name", ds.Descriptor.Name, "units", len(ds.Units))

	eff, err := resolveConfig(runFlags.configPath, runFlags.set)
	if err != nil {
		return fatal(err)
	}

	engine := native.New()
	runID := uuid.NewString()
	writer := derivatives.NewWriter(outputDir, runID, eff.Fingerprint(),
		derivatives.Generator{Name: derivatives.PipelineName, Version: version},
		derivatives.Generator{Name: engine.Name(), Version: engine.Version()},
	)
	if err := writer.WriteDatasetDescription(ds.Descriptor, bidsDir); err != nil {
		return fatal(err)
	}

	led, err := ledger.Open(ledger.DefaultPath(outputDir))
	if err != nil {
		return fatal(err)
	}
	defer led.Close()
	if err := led.BeginRun(ledger.RunRecord{
		ID:                runID,
		Dataset:           ds.Descriptor.Name,
		Step:              string(step),
		ConfigFingerprint: eff.Fingerprint(),
		Started:           time.Now().UTC(),
	}); err != nil {
		log.Warn("ledger unavailable", "error", err)
	}

	sup := &pipeline.Supervisor{
		Ctrl: &pipeline.Controller{
			Backend: engine,
			Writer:  writer,
			Cfg:     eff,
			WorkDir: filepath.Join(outputDir, "derivatives", derivatives.PipelineName, ".neuropipe", "work"),
			Log:     logging.New("pipeline"),
		},
		RunID:       runID,
		Jobs:        runFlags.jobs,
		UnitTimeout: runFlags.unitTimeout,
		Recorder:    led,
		Log:         logging.New("supervisor"),
	}

	plan := pipeline.Plan(ds, step)
	report := sup.Run(cmd.Context(), plan)

	ok, partial, failed := report.Counts()
	if err := led.FinishRun(runID, report.Finished, ok, partial, failed); err != nil {
		log.Warn("ledger finish failed", "error", err)
	}

	fmt.Println(report.Summary())
	log.Info("run finished", "run_id", runID,
		"succeeded", ok, "partial", partial, "failed", failed, "log", rl.Path())

	if runFlags.report || level == "group" {
		if err := report.WriteUnitReports(writer); err != nil {
			log.Warn("unit reports failed", "error", err)
		}
	}

	if !report.OK() {
		return unitsFailed(fmt.Errorf("no unit completed: %d partial, %d failed", partial, failed))
	}
	if report.AnyFailed() {
		return unitsFailed(fmt.Errorf("%d of %d units failed", partial+failed, len(report.Outcomes)))
	}
	return nil
}

// resolveConfig loads the optional config file, parses --set overrides, and
// resolves the layered configuration against the built-in schema.
func resolveConfig(path string, set []string) (*config.Effective, error) {
	var file config.Layer
	if path != "" {
		var err error
		file, err = config.LoadFile(path)
		if err != nil {
			return nil, err
		}
	}
	overrides, err := parseOverrides(set)
	if err != nil {
		return nil, err
	}
	return config.Resolve(config.Default(), file, overrides)
}

// parseOverrides turns repeated "section.key=value" flags into a config
// layer. Values go through YAML parsing so numbers and booleans type
// correctly.
func parseOverrides(set []string) (config.Layer, error) {
	if len(set) == 0 {
		return nil, nil
	}
	layer := config.Layer{}
	for _, s := range set {
		key, val, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q (want section.key=value)", s)
		}
		section, name, ok := strings.Cut(key, ".")
		if !ok {
			return nil, fmt.Errorf("invalid --set key %q (want section.key)", key)
		}
		var parsed any
		if err := yaml.Unmarshal([]byte(val), &parsed); err != nil {
			return nil, fmt.Errorf("invalid --set value %q: %w", val, err)
		}
		if layer[section] == nil {
			layer[section] = map[string]any{}
		}
		layer[section][name] = parsed
	}
	return layer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
