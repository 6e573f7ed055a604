package domain

import (
	"errors"
	"fmt"
	"strings"
)

// PipelineID identifies a pipeline and version, e.g. GermlineEnrichment-2.5.3.
type PipelineID struct {
	Name    string
	Version string
}

// ParsePipelineID splits at the last '-' so pipeline names may contain dashes.
func ParsePipelineID(value string) (PipelineID, error) {
	value = strings.TrimSpace(value)
	idx := strings.LastIndex(value, "-")
	if idx <= 0 || idx == len(value)-1 {
		return PipelineID{}, fmt.Errorf("pipeline id %q must be <name>-<version>", value)
	}
	return PipelineID{Name: value[:idx], Version: value[idx+1:]}, nil
}

func (p PipelineID) String() string {
	return p.Name + "-" + p.Version
}

func (p PipelineID) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("pipeline name is required")
	}
	if strings.TrimSpace(p.Version) == "" {
		return errors.New("pipeline version is required")
	}
	return nil
}
