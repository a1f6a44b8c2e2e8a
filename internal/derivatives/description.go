package derivatives

import (
	"encoding/json"
	"os"
	"path/filepath"

	"neuropipe/internal/bids"
)

// description is the derivatives-tree dataset_description.json.
type description struct {
	Name           string          `json:"Name"`
	BIDSVersion    string          `json:"BIDSVersion"`
	DatasetType    string          `json:"DatasetType"`
	GeneratedBy    []Generator     `json:"GeneratedBy"`
	SourceDatasets []sourceDataset `json:"SourceDatasets,omitempty"`
}

type sourceDataset struct {
	Name string `json:"Name,omitempty"`
	Path string `json:"Path,omitempty"`
}

// WriteDatasetDescription writes the derivatives descriptor once per run,
// overwriting any previous copy.
func (w *Writer) WriteDatasetDescription(source bids.Descriptor, sourceRoot string) error {
	d := description{
		Name:        source.Name + " (" + PipelineName + " derivatives)",
		BIDSVersion: source.BIDSVersion,
		DatasetType: "derivative",
		GeneratedBy: w.generators,
		SourceDatasets: []sourceDataset{
			{Name: source.Name, Path: sourceRoot},
		},
	}
	if err := os.MkdirAll(w.PipelineDir(), 0o755); err != nil {
		return &WriteError{Path: w.PipelineDir(), Err: err}
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(w.PipelineDir(), bids.DescriptorFile)
	return atomicWrite(path, data)
}
