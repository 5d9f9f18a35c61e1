package attest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `yaml:"pcr0" json:"pcr0"`
	PCR1       string `yaml:"pcr1" json:"pcr1"`
	PCR2       string `yaml:"pcr2" json:"pcr2"`
	CommitHash string `yaml:"commit_hash" json:"commit_hash"` // sealbid commit used to build the enclave image
}

type pcrConfig struct {
	PCRSets []PCRSet `yaml:"pcr_sets"`
}

// LoadPCRs reads known PCR sets from a YAML (or JSON) file.
func LoadPCRs(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCR config file: %w", err)
	}

	var config pcrConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse PCR config: %w", err)
	}
	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("no PCR sets found in config file")
	}
	return config.PCRSets, nil
}

// ValidatePCRs checks if PCRs match any known valid set
// Returns: (match bool, matched set index)
// If no match, returns (false, -1)
func ValidatePCRs(pcrs PCRs, knownSets []PCRSet) (bool, int) {
	for i, knownSet := range knownSets {
		if pcrs.ImageFileHash == knownSet.PCR0 &&
			pcrs.KernelHash == knownSet.PCR1 &&
			pcrs.ApplicationHash == knownSet.PCR2 {
			return true, i
		}
	}
	return false, -1
}
