// Package bids indexes a BIDS-structured dataset into the processing units
// the pipeline executes: one unit per (participant, session, modality).
package bids

import (
	"strings"

	"neuropipe/internal/reader"
)

// Modality is a BIDS modality folder name.
type Modality string

const (
	MEG  Modality = "meg"
	EEG  Modality = "eeg"
	Anat Modality = "anat"
)

// Modalities is the fixed indexing order.
var Modalities = []Modality{MEG, EEG, Anat}

// Descriptor is the top-level dataset_description.json. Name and BIDSVersion
// are required by the BIDS spec; the rest is carried through to derivatives.
type Descriptor struct {
	Name        string   `json:"Name"`
	BIDSVersion string   `json:"BIDSVersion"`
	DatasetType string   `json:"DatasetType,omitempty"`
	Authors     []string `json:"Authors,omitempty"`
}

// RecordingFile is one discovered raw file inside a modality folder, with
// the BIDS filename entities the derivatives naming reuses.
type RecordingFile struct {
	Path   string
	Format reader.Format
	Task   string // task-<label> entity, if present
	Run    string // run-<index> entity, if present
}

// Unit is one (participant, session, modality) processing unit. Session is
// empty for datasets without session sub-directories. Units are immutable
// after indexing.
type Unit struct {
	Participant string // "sub-01"
	Session     string // "ses-a" or ""
	Modality    Modality
	Files       []RecordingFile
}

// Key is the unit identity: "sub-01/ses-a/meg" or "sub-01/meg".
func (u Unit) Key() string {
	parts := []string{u.Participant}
	if u.Session != "" {
		parts = append(parts, u.Session)
	}
	parts = append(parts, string(u.Modality))
	return strings.Join(parts, "/")
}

// Task returns the task entity of the unit's recordings, or "" when the
// recordings disagree or carry none.
func (u Unit) Task() string { return u.commonEntity(func(f RecordingFile) string { return f.Task }) }

// Run returns the run entity of the unit's recordings, or "" when the
// recordings disagree or carry none.
func (u Unit) Run() string { return u.commonEntity(func(f RecordingFile) string { return f.Run }) }

func (u Unit) commonEntity(get func(RecordingFile) string) string {
	if len(u.Files) == 0 {
		return ""
	}
	v := get(u.Files[0])
	for _, f := range u.Files[1:] {
		if get(f) != v {
			return ""
		}
	}
	return v
}

// Dataset is the indexed view of a BIDS tree.
type Dataset struct {
	Root       string
	Descriptor Descriptor
	Units      []Unit
}

// StructureError reports a dataset layout problem that makes the whole run
// impossible (missing descriptor, no participants). Always fatal.
type StructureError struct {
	Path   string
	Reason string
}

func (e *StructureError) Error() string {
	return "dataset structure: " + e.Reason + " (" + e.Path + ")"
}
