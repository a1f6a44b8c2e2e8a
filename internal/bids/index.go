package bids

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"neuropipe/internal/logging"
	"neuropipe/internal/reader"
)

// DescriptorFile is the required top-level dataset descriptor.
const DescriptorFile = "dataset_description.json"

// Index walks a BIDS tree and resolves its processing units. labels
// optionally restricts participants ("01" and "sub-01" are both accepted).
// Missing modality folders yield zero units for that modality; a missing
// descriptor or zero participant directories is a StructureError.
func Index(root string, labels []string) (*Dataset, error) {
	log := logging.New("bids")

	desc, err := readDescriptor(root)
	if err != nil {
		return nil, err
	}

	subs, err := listPrefixed(root, "sub-")
	if err != nil {
		return nil, fmt.Errorf("bids: list participants: %w", err)
	}
	subs = filterParticipants(subs, labels)
	if len(subs) == 0 {
		return nil, &StructureError{Path: root, Reason: "no participant directories found"}
	}

	ds := &Dataset{Root: root, Descriptor: *desc}
	for _, sub := range subs {
		subDir := filepath.Join(root, sub)
		sessions, err := listPrefixed(subDir, "ses-")
		if err != nil {
			return nil, fmt.Errorf("bids: list sessions for %s: %w", sub, err)
		}
		if len(sessions) == 0 {
			sessions = []string{""}
		}
		for _, ses := range sessions {
			base := subDir
			if ses != "" {
				base = filepath.Join(subDir, ses)
			}
			for _, mod := range Modalities {
				files, err := scanModality(filepath.Join(base, string(mod)))
				if err != nil {
					return nil, err
				}
				if files == nil {
					log.Info("modality folder absent, skipping",
						"participant", sub, "session", ses, "modality", mod)
					continue
				}
				ds.Units = append(ds.Units, Unit{
					Participant: sub,
					Session:     ses,
					Modality:    mod,
					Files:       files,
				})
			}
		}
	}
	return ds, nil
}

func readDescriptor(root string) (*Descriptor, error) {
	path := filepath.Join(root, DescriptorFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StructureError{Path: path, Reason: "missing " + DescriptorFile}
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &StructureError{Path: path, Reason: "invalid " + DescriptorFile + ": " + err.Error()}
	}
	return &d, nil
}

// scanModality collects recognized recordings inside one modality folder.
// Returns (nil, nil) when the folder does not exist.
func scanModality(dir string) ([]RecordingFile, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bids: read modality dir %q: %w", dir, err)
	}

	log := logging.New("bids")
	files := make([]RecordingFile, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)
		format, ok := reader.Detect(path)
		if !ok {
			log.Debug("unrecognized file extension, skipping", "path", path)
			continue
		}
		// BrainVision triplets are indexed by their .vhdr only.
		if format == reader.BrainVision && !strings.HasSuffix(strings.ToLower(name), ".vhdr") {
			continue
		}
		files = append(files, RecordingFile{
			Path:   path,
			Format: format,
			Task:   entity(name, "task"),
			Run:    entity(name, "run"),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// entity extracts a BIDS filename entity value, e.g. entity("sub-01_task-rest_meg.fif", "task") == "rest".
func entity(name, key string) string {
	for _, part := range strings.Split(name, "_") {
		if v, ok := strings.CutPrefix(part, key+"-"); ok {
			// Strip any extension from a trailing entity.
			if i := strings.IndexByte(v, '.'); i >= 0 {
				v = v[:i]
			}
			return v
		}
	}
	return ""
}

// listPrefixed returns sorted sub-directory names of dir starting with prefix.
func listPrefixed(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func filterParticipants(subs, labels []string) []string {
	if len(labels) == 0 {
		return subs
	}
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		if !strings.HasPrefix(l, "sub-") {
			l = "sub-" + l
		}
		want[l] = true
	}
	var out []string
	for _, s := range subs {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}
