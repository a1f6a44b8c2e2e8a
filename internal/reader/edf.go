package reader

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// edfReader decodes EDF files: fixed 256-byte ASCII header, one 256-byte
// block per signal, then int16 little-endian sample records. Physical
// scaling is applied from the digital/physical min-max header fields.
type edfReader struct{}

func (edfReader) Read(path string) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reader: read %q: %w", path, err)
	}
	if len(data) < 256 {
		return nil, fmt.Errorf("reader: %q: truncated EDF header", path)
	}

	field := func(off, n int) string { return strings.TrimSpace(string(data[off : off+n])) }

	numRecords, err := strconv.Atoi(field(236, 8))
	if err != nil {
		return nil, fmt.Errorf("reader: %q: bad record count: %w", path, err)
	}
	recordDur, err := strconv.ParseFloat(field(244, 8), 64)
	if err != nil {
		return nil, fmt.Errorf("reader: %q: bad record duration: %w", path, err)
	}
	ns, err := strconv.Atoi(field(252, 4))
	if err != nil || ns <= 0 {
		return nil, fmt.Errorf("reader: %q: bad signal count %q", path, field(252, 4))
	}
	if len(data) < 256+256*ns {
		return nil, fmt.Errorf("reader: %q: truncated signal headers", path)
	}

	sig := func(block, width, i int) string {
		off := 256 + block + width*i
		return strings.TrimSpace(string(data[off : off+width]))
	}

	labels := make([]string, ns)
	physMin := make([]float64, ns)
	physMax := make([]float64, ns)
	digMin := make([]float64, ns)
	digMax := make([]float64, ns)
	perRecord := make([]int, ns)
	for i := 0; i < ns; i++ {
		labels[i] = sig(0, 16, i)
		physMin[i], _ = strconv.ParseFloat(sig(16*ns+80*ns+8*ns, 8, i), 64)
		physMax[i], _ = strconv.ParseFloat(sig(16*ns+80*ns+8*ns+8*ns, 8, i), 64)
		digMin[i], _ = strconv.ParseFloat(sig(16*ns+80*ns+8*ns+16*ns, 8, i), 64)
		digMax[i], _ = strconv.ParseFloat(sig(16*ns+80*ns+8*ns+24*ns, 8, i), 64)
		spr, err := strconv.Atoi(sig(16*ns+80*ns+8*ns+32*ns+80*ns, 8, i))
		if err != nil || spr <= 0 {
			return nil, fmt.Errorf("reader: %q: bad samples-per-record for signal %d", path, i)
		}
		perRecord[i] = spr
	}

	rec := &Recording{
		Path:         path,
		Format:       EDF,
		ChannelNames: labels,
	}
	if recordDur > 0 {
		rec.SampleRate = float64(perRecord[0]) / recordDur
	}

	samples := make([][]float64, ns)
	for i := range samples {
		samples[i] = make([]float64, 0, numRecords*perRecord[i])
	}
	off := 256 + 256*ns
	for r := 0; r < numRecords; r++ {
		for i := 0; i < ns; i++ {
			need := perRecord[i] * 2
			if off+need > len(data) {
				return nil, fmt.Errorf("reader: %q: truncated data record %d", path, r)
			}
			scale := 1.0
			if digMax[i] != digMin[i] {
				scale = (physMax[i] - physMin[i]) / (digMax[i] - digMin[i])
			}
			for s := 0; s < perRecord[i]; s++ {
				raw := int16(binary.LittleEndian.Uint16(data[off+2*s:]))
				samples[i] = append(samples[i], physMin[i]+scale*(float64(raw)-digMin[i]))
			}
			off += need
		}
	}
	rec.Samples = samples
	return rec, nil
}
