package reader

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// headerReader is the metadata-only fallback: it confirms the file (or .ds
// directory) exists and, where the header is cheap to parse, fills in sample
// rate and channel names. Samples stay nil.
type headerReader struct {
	format Format
}

func (h headerReader) Read(path string) (*Recording, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reader: stat %q: %w", path, err)
	}
	if h.format == CTF && !info.IsDir() {
		return nil, fmt.Errorf("reader: CTF dataset %q is not a directory", path)
	}
	rec := &Recording{Path: path, Format: h.format}
	if h.format == BrainVision {
		if err := h.sniffBrainVision(path, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// sniffBrainVision parses the INI-style .vhdr for sampling interval and
// channel entries. The binary .eeg payload is left to the external engine.
func (h headerReader) sniffBrainVision(path string, rec *Recording) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reader: open %q: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "SamplingInterval="):
			us, err := strconv.ParseFloat(strings.TrimPrefix(line, "SamplingInterval="), 64)
			if err == nil && us > 0 {
				rec.SampleRate = 1e6 / us
			}
		case strings.HasPrefix(line, "Ch") && strings.Contains(line, "="):
			// ChN=<name>,<ref>,<resolution>,...
			val := line[strings.Index(line, "=")+1:]
			if name, _, ok := strings.Cut(val, ","); ok {
				rec.ChannelNames = append(rec.ChannelNames, name)
			}
		}
	}
	return sc.Err()
}
