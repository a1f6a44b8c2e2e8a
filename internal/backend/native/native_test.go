package native

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"neuropipe/internal/backend"
	"neuropipe/internal/bids"
)

func testSession(t *testing.T) *backend.Session {
	t.Helper()
	return backend.NewSession("sess-t", "native", t.TempDir())
}

func testUnit(files ...bids.RecordingFile) bids.Unit {
	return bids.Unit{Participant: "sub-01", Modality: bids.EEG, Files: files}
}

// seriesArtifact packs a synthetic recording into a stage-input artifact.
func seriesArtifact(t *testing.T, name string, fs float64, channels ...[]float64) backend.Artifact {
	t.Helper()
	names := make([]string, len(channels))
	for i := range names {
		names[i] = fmt.Sprintf("CH%d", i+1)
	}
	data, err := encodeSeries(&series{SampleRate: fs, Channels: names, Samples: channels})
	if err != nil {
		t.Fatal(err)
	}
	return backend.Artifact{Name: name, Kind: backend.KindRecording, Ext: ".dat", Data: data}
}

// writeTestEDF writes a one-signal EDF file with identity physical scaling.
func writeTestEDF(t *testing.T, path string, raw []int16, sampleRate int) {
	t.Helper()
	pad := func(s string, n int) []byte {
		b := []byte(s + strings.Repeat(" ", n))
		return b[:n]
	}
	var buf []byte
	buf = append(buf, pad("0", 8)...)
	buf = append(buf, pad("patient", 80)...)
	buf = append(buf, pad("recording", 80)...)
	buf = append(buf, pad("01.01.26", 8)...)
	buf = append(buf, pad("00.00.00", 8)...)
	buf = append(buf, pad("512", 8)...)
	buf = append(buf, pad("", 44)...)
	buf = append(buf, pad("1", 8)...) // one data record
	buf = append(buf, pad("1", 8)...) // of one second
	buf = append(buf, pad("1", 4)...) // one signal
	buf = append(buf, pad("EEG Cz", 16)...)
	buf = append(buf, pad("electrode", 80)...)
	buf = append(buf, pad("uV", 8)...)
	buf = append(buf, pad("-1000", 8)...)
	buf = append(buf, pad("1000", 8)...)
	buf = append(buf, pad("-1000", 8)...)
	buf = append(buf, pad("1000", 8)...)
	buf = append(buf, pad("", 80)...)
	buf = append(buf, pad(fmt.Sprint(sampleRate), 8)...)
	buf = append(buf, pad("", 32)...)
	for _, v := range raw {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(v))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunStage_ImportDecodesEDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub-01_task-rest_eeg.edf")
	raw := make([]int16, 128)
	for i := range raw {
		raw[i] = int16(i%40 - 20)
	}
	writeTestEDF(t, path, raw, 128)

	e := New()
	res, err := e.RunStage(context.Background(), testSession(t), backend.StageRequest{
		Stage: backend.StageImport,
		Unit:  testUnit(bids.RecordingFile{Path: path}),
	})
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("artifacts: %d", len(res.Artifacts))
	}
	a := res.Artifacts[0]
	if a.Name != "sub-01_task-rest_eeg" || a.Kind != backend.KindRecording || a.Ext != ".dat" {
		t.Errorf("artifact: %+v", a)
	}
	s, err := decodeSeries(a.Data)
	if err != nil {
		t.Fatal(err)
	}
	if s.SampleRate != 128 || len(s.Samples) != 1 || len(s.Samples[0]) != 128 {
		t.Errorf("decoded series: fs=%g channels=%d", s.SampleRate, len(s.Samples))
	}
}

func TestRunStage_ImportMetadataOnlyWarns(t *testing.T) {
	dir := t.TempDir()
	vhdr := filepath.Join(dir, "sub-01_eeg.vhdr")
	if err := os.WriteFile(vhdr, []byte("SamplingInterval=1000\nCh1=Fp1,,0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := New()
	res, err := e.RunStage(context.Background(), testSession(t), backend.StageRequest{
		Stage: backend.StageImport,
		Unit:  testUnit(bids.RecordingFile{Path: vhdr}),
	})
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if len(res.Artifacts) != 0 {
		t.Errorf("metadata-only recording must not produce an artifact: %+v", res.Artifacts)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "metadata only") {
		t.Errorf("warnings: %v", res.Warnings)
	}
}

func TestRunStage_ImportUnreadableFails(t *testing.T) {
	e := New()
	_, err := e.RunStage(context.Background(), testSession(t), backend.StageRequest{
		Stage: backend.StageImport,
		Unit:  testUnit(bids.RecordingFile{Path: "/nonexistent/sub-01_eeg.edf"}),
	})
	var aerr *backend.AnalysisError
	if !errors.As(err, &aerr) {
		t.Fatalf("want AnalysisError, got %v", err)
	}
	if aerr.Stage != backend.StageImport || aerr.Unit != "sub-01/eeg" {
		t.Errorf("error identity: %+v", aerr)
	}
}

func TestRunStage_PreprocFiltersAndReports(t *testing.T) {
	const fs = 200.0
	clean := sine(10, fs, 1000)
	noisy := make([]float64, 1000)
	line := sine(60, fs, 1000)
	for i := range noisy {
		noisy[i] = clean[i] + 3*line[i]
	}

	e := New()
	res, err := e.RunStage(context.Background(), testSession(t), backend.StageRequest{
		Stage:  backend.StagePreproc,
		Unit:   testUnit(),
		Params: map[string]any{"highpass": 1.0, "lowpass": 40.0, "notch": true, "line_freq": 60},
		Inputs: []backend.Artifact{seriesArtifact(t, "rec0", fs, clean, noisy)},
	})
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}

	// One filtered recording plus the metrics table.
	if len(res.Artifacts) != 2 {
		t.Fatalf("artifacts: %d", len(res.Artifacts))
	}
	filtered := res.Artifacts[0]
	if filtered.Kind != backend.KindRecording || filtered.Name != "rec0" {
		t.Errorf("filtered artifact: %+v", filtered)
	}
	s, err := decodeSeries(filtered.Data)
	if err != nil {
		t.Fatal(err)
	}
	// The 60 Hz contamination is gone: both channels land near the clean rms.
	if r := rms(s.Samples[1]); r > 1.2*rms(clean) {
		t.Errorf("line noise survived: rms %g vs clean %g", r, rms(clean))
	}

	metrics := res.Artifacts[1]
	if metrics.Name != "preproc-metrics" || metrics.Kind != backend.KindMetrics || metrics.Ext != ".tsv" {
		t.Errorf("metrics artifact: %+v", metrics)
	}
	if !strings.HasPrefix(string(metrics.Data), "recording\tchannel\trms_before") {
		t.Errorf("metrics header: %q", string(metrics.Data[:40]))
	}
}

func TestRunStage_PreprocResample(t *testing.T) {
	const fs = 200.0
	e := New()
	res, err := e.RunStage(context.Background(), testSession(t), backend.StageRequest{
		Stage:  backend.StagePreproc,
		Unit:   testUnit(),
		Params: map[string]any{"resample": 100.0, "notch": false},
		Inputs: []backend.Artifact{seriesArtifact(t, "rec0", fs, sine(10, fs, 1000))},
	})
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	s, err := decodeSeries(res.Artifacts[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if s.SampleRate != 100 || len(s.Samples[0]) != 500 {
		t.Errorf("resample: fs=%g n=%d", s.SampleRate, len(s.Samples[0]))
	}
}

func TestRunStage_SensorArtifacts(t *testing.T) {
	const fs = 100.0
	e := New()
	res, err := e.RunStage(context.Background(), testSession(t), backend.StageRequest{
		Stage:  backend.StageSensor,
		Unit:   testUnit(),
		Params: map[string]any{"psd_window_sec": 2.0},
		Inputs: []backend.Artifact{seriesArtifact(t, "rec0", fs, sine(10, fs, 800), sine(25, fs, 800))},
	})
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}

	byKind := map[backend.ContentKind]backend.Artifact{}
	for _, a := range res.Artifacts {
		byKind[a.Kind] = a
	}

	psd, ok := byKind[backend.KindPSD]
	if !ok || psd.Name != "rec0-psd" || psd.Ext != ".tsv" {
		t.Fatalf("psd artifact: %+v", psd)
	}
	header := strings.SplitN(string(psd.Data), "\n", 2)[0]
	if header != "freq_hz\tCH1\tCH2" {
		t.Errorf("psd header: %q", header)
	}

	cov, ok := byKind[backend.KindCovariance]
	if !ok || cov.Name != "rec0-cov" {
		t.Fatalf("covariance artifact: %+v", cov)
	}
	rows := strings.Split(strings.TrimSpace(string(cov.Data)), "\n")
	if len(rows) != 2 || len(strings.Split(rows[0], "\t")) != 2 {
		t.Errorf("covariance shape: %v", rows)
	}

	fig, ok := byKind[backend.KindFigure]
	if !ok || fig.Ext != ".png" {
		t.Fatalf("figure artifact: %+v", fig)
	}
	if !bytes.HasPrefix(fig.Data, []byte("\x89PNG")) {
		t.Error("figure payload is not a PNG")
	}
}

func TestRunStage_SensorTooShortWarns(t *testing.T) {
	e := New()
	res, err := e.RunStage(context.Background(), testSession(t), backend.StageRequest{
		Stage:  backend.StageSensor,
		Unit:   testUnit(),
		Params: map[string]any{"psd_window_sec": 4.0},
		Inputs: []backend.Artifact{seriesArtifact(t, "rec0", 100, sine(10, 100, 50))},
	})
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if len(res.Artifacts) != 0 {
		t.Errorf("short recording must be skipped: %+v", res.Artifacts)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "too short") {
		t.Errorf("warnings: %v", res.Warnings)
	}
}

func TestRunStage_SourceFromCovariance(t *testing.T) {
	cov := []byte("4.0\t0.1\t0.2\n0.1\t1.0\t0.3\n0.2\t0.3\t0.25\n")

	e := New()
	res, err := e.RunStage(context.Background(), testSession(t), backend.StageRequest{
		Stage:  backend.StageSource,
		Unit:   testUnit(),
		Params: map[string]any{"method": "sloreta", "snr": 3.0},
		Inputs: []backend.Artifact{
			{Name: "rec0-cov", Kind: backend.KindCovariance, Ext: ".tsv", Data: cov},
			{Name: "rec0-psd", Kind: backend.KindPSD, Ext: ".tsv", Data: []byte("ignored")},
		},
	})
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("artifacts: %d", len(res.Artifacts))
	}
	a := res.Artifacts[0]
	if a.Name != "rec0-sources" || a.Kind != backend.KindSources {
		t.Errorf("artifact: %+v", a)
	}
	lines := strings.Split(strings.TrimSpace(string(a.Data)), "\n")
	if !strings.Contains(lines[0], "method=sloreta") {
		t.Errorf("provenance comment: %q", lines[0])
	}
	// Comment, header, 64 source rows.
	if len(lines) != 66 {
		t.Errorf("rows: %d", len(lines))
	}
	if len(a.Upstream) != 1 || a.Upstream[0] != "rec0-cov" {
		t.Errorf("upstream: %v", a.Upstream)
	}
}

func TestRunStage_SourceBadCovariance(t *testing.T) {
	e := New()
	_, err := e.RunStage(context.Background(), testSession(t), backend.StageRequest{
		Stage:  backend.StageSource,
		Unit:   testUnit(),
		Inputs: []backend.Artifact{{Name: "bad-cov", Kind: backend.KindCovariance, Data: []byte("not\ta\nmatrix")}},
	})
	if err == nil {
		t.Fatal("malformed covariance must fail the stage")
	}
}

func TestRunStage_ContextAndSessionGuards(t *testing.T) {
	e := New()

	if _, err := e.RunStage(context.Background(), nil, backend.StageRequest{Stage: backend.StageImport, Unit: testUnit()}); err == nil {
		t.Error("nil session must be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.RunStage(ctx, testSession(t), backend.StageRequest{Stage: backend.StageImport, Unit: testUnit()})
	var aerr *backend.AnalysisError
	if !errors.As(err, &aerr) {
		t.Fatalf("want AnalysisError, got %v", err)
	}

	if _, err := e.RunStage(context.Background(), testSession(t), backend.StageRequest{Stage: "mystery", Unit: testUnit()}); err == nil {
		t.Error("unknown stage must fail")
	}
}
