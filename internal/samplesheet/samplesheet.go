// Package samplesheet reads the sample roster from an Illumina sample sheet.
//
// Each sample's Description column carries semicolon separated key=value
// pairs naming the analysis pipeline, e.g.
// "pipelineName=GermlineEnrichment;pipelineVersion=2.5.3;panel=IlluminaTruSightCancer;sex=2".
package samplesheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/animus-labs/runqc/internal/domain"
)

const (
	KeyPipelineName    = "pipelineName"
	KeyPipelineVersion = "pipelineVersion"
	KeyPanel           = "panel"
	KeySex             = "sex"
)

var requiredKeys = []string{KeyPipelineName, KeyPipelineVersion, KeyPanel}

type Sample struct {
	ID         string
	Worksheet  string
	PipelineID string
	Panel      string
	Sex        string
	Fields     map[string]string
}

// Sheet is the parsed [Data] section in file order.
type Sheet struct {
	Samples []Sample
	Lanes   int
}

// Group is the samples of one run that share a pipeline and panel.
type Group struct {
	PipelineID   string
	AnalysisType string
	Samples      []Sample
}

func (g Group) SampleIDs() []string {
	out := make([]string, 0, len(g.Samples))
	for _, s := range g.Samples {
		out = append(out, s.ID)
	}
	return out
}

func ParseFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sample sheet: %w", err)
	}
	defer f.Close()
	sheet, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sheet, nil
}

// Parse reads the rows after the header row holding a Sample_ID column. A sample listed on several
// lanes appears once; Lanes is the highest Lane value seen (0 when the sheet
// has no Lane column).
func Parse(r io.Reader) (*Sheet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var header []string
	idCol := -1
	sheet := &Sheet{}
	index := map[string]int{}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		if header == nil {
			for i, col := range row {
				if strings.TrimSpace(col) == "Sample_ID" {
					header, idCol = row, i
					break
				}
			}
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(row[0]), "[") || idCol >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[idCol])
		if id == "" {
			continue
		}
		line, _ := cr.FieldPos(0)
		fields := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				fields[strings.TrimSpace(col)] = strings.TrimSpace(row[i])
			}
		}
		sample, err := newSample(id, fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if lane, ok := fields["Lane"]; ok && lane != "" {
			n, err := strconv.Atoi(lane)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("line %d: invalid lane %q", line, lane)
			}
			sheet.Lanes = max(sheet.Lanes, n)
		}
		if i, seen := index[sample.ID]; seen {
			prev := sheet.Samples[i]
			if prev.PipelineID != sample.PipelineID || prev.Panel != sample.Panel {
				return nil, fmt.Errorf("line %d: sample %s listed with conflicting pipelines", line, sample.ID)
			}
			continue
		}
		index[sample.ID] = len(sheet.Samples)
		sheet.Samples = append(sheet.Samples, sample)
	}
	if header == nil {
		return nil, errors.New("no Sample_ID header row")
	}
	if len(sheet.Samples) == 0 {
		return nil, errors.New("no samples")
	}
	return sheet, nil
}

func newSample(id string, fields map[string]string) (Sample, error) {
	desc := fields["Description"]
	for _, item := range strings.Split(desc, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			return Sample{}, fmt.Errorf("sample %s: description item %q is not key=value", id, item)
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	for _, key := range requiredKeys {
		if fields[key] == "" {
			return Sample{}, fmt.Errorf("sample %s: description must set %s, %s and %s (missing %s)",
				id, KeyPipelineName, KeyPipelineVersion, KeyPanel, key)
		}
	}
	pipeline := domain.PipelineID{Name: fields[KeyPipelineName], Version: fields[KeyPipelineVersion]}
	sex := fields[KeySex]
	if sex == "" {
		sex = domain.SexUnknown
	}
	return Sample{
		ID:         id,
		Worksheet:  fields["Sample_Project"],
		PipelineID: pipeline.String(),
		Panel:      fields[KeyPanel],
		Sex:        sex,
		Fields:     fields,
	}, nil
}

// Groups splits the sheet into one group per pipeline and panel, in order of
// first appearance.
func (s *Sheet) Groups() []Group {
	var out []Group
	index := map[[2]string]int{}
	for _, sample := range s.Samples {
		key := [2]string{sample.PipelineID, sample.Panel}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Group{PipelineID: sample.PipelineID, AnalysisType: sample.Panel})
		}
		out[i].Samples = append(out[i].Samples, sample)
	}
	return out
}
