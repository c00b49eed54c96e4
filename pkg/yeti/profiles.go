package yeti

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var profilesYAML []byte

type modelProfile struct {
	Model      string  `yaml:"model"`
	CapacityWh float64 `yaml:"capacityWh"`
}

var modelProfiles = mustLoadProfiles()

func mustLoadProfiles() []modelProfile {
	var out struct {
		Models []modelProfile `yaml:"models"`
	}
	if err := yaml.Unmarshal(profilesYAML, &out); err != nil {
		panic(fmt.Sprintf("bad embedded profiles.yaml: %s", err))
	}
	return out.Models
}

// CapacityWh returns the battery capacity in watt-hours for a device model
// as reported by sysinfo, or 0 when the model is unknown.
func CapacityWh(model string) float64 {
	norm := strings.ToLower(strings.TrimSpace(model))
	for _, p := range modelProfiles {
		if strings.ToLower(p.Model) == norm {
			return p.CapacityWh
		}
	}
	return 0
}
