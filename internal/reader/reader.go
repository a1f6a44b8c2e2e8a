// Package reader is the recording-format boundary: it detects the on-disk
// format of raw neurophysiological recordings and hands decoding to a
// per-format Reader. Full decoding lives behind the Reader interface so the
// pipeline never depends on format internals.
package reader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Format identifies a recognized recording file format.
type Format string

const (
	FIF         Format = "fif"         // Elekta/MEGIN FIFF
	CTF         Format = "ctf"         // CTF .ds dataset directory
	BrainVision Format = "brainvision" // BrainVision .vhdr/.eeg/.vmrk triplet
	EDF         Format = "edf"         // European Data Format
	BDF         Format = "bdf"         // BioSemi Data Format
	EEGLAB      Format = "eeglab"      // EEGLAB .set
	NIfTI       Format = "nifti"       // anatomical volume
)

// Recording is the decoded (or header-sniffed) view of one raw file.
// Samples is nil when the reader only decodes metadata; downstream stages
// must tolerate metadata-only recordings.
type Recording struct {
	Path         string      `json:"path"`
	Format       Format      `json:"format"`
	SampleRate   float64     `json:"sample_rate"`
	ChannelNames []string    `json:"channel_names"`
	Samples      [][]float64 `json:"samples,omitempty"`
}

// Reader decodes a single recording file of one format.
type Reader interface {
	Read(path string) (*Recording, error)
}

// Detect maps a path to its recording format by extension. CTF datasets are
// directories ending in .ds. Returns false for unrecognized paths.
func Detect(path string) (Format, bool) {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".nii.gz") {
		return NIfTI, true
	}
	switch filepath.Ext(name) {
	case ".fif":
		return FIF, true
	case ".ds":
		return CTF, true
	case ".vhdr":
		return BrainVision, true
	case ".edf":
		return EDF, true
	case ".bdf":
		return BDF, true
	case ".set":
		return EEGLAB, true
	case ".nii":
		return NIfTI, true
	default:
		return "", false
	}
}

var (
	regMu    sync.RWMutex
	registry = map[Format]Reader{}
)

// Register installs the Reader for a format, replacing any previous one.
func Register(f Format, r Reader) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[f] = r
}

// Lookup returns the registered Reader for a format.
func Lookup(f Format) (Reader, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	r, ok := registry[f]
	return r, ok
}

// Read detects the format of path and decodes it with the registered Reader.
func Read(path string) (*Recording, error) {
	f, ok := Detect(path)
	if !ok {
		return nil, fmt.Errorf("reader: unrecognized format for %q", path)
	}
	r, ok := Lookup(f)
	if !ok {
		return nil, fmt.Errorf("reader: no reader registered for format %q", f)
	}
	return r.Read(path)
}

func init() {
	// Header-sniffing readers for every recognized format; EDF additionally
	// decodes samples (the one format simple enough to decode in-tree).
	Register(FIF, headerReader{FIF})
	Register(CTF, headerReader{CTF})
	Register(BrainVision, headerReader{BrainVision})
	Register(EDF, edfReader{})
	Register(BDF, headerReader{BDF})
	Register(EEGLAB, headerReader{EEGLAB})
	Register(NIfTI, headerReader{NIfTI})
}
