package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"smallbiznis-loyalty/services/catalog"
	"smallbiznis-loyalty/services/event"
	"smallbiznis-loyalty/services/program"

	"gopkg.in/yaml.v3"
)

// RulesFile is the YAML document validated and simulated by loyaltyctl.
// tenantId is copied into every program and rule that omits it.
type RulesFile struct {
	TenantID string                 `json:"tenantId"`
	Catalog  *CatalogFile           `json:"catalog,omitempty"`
	Programs []program.ProgramInput `json:"programs"`
	Rules    []program.RuleInput    `json:"rules"`
}

// CatalogFile replaces the default catalog.
type CatalogFile struct {
	EarningDomains []catalog.EarningDomain `json:"earningDomains"`
	ConflictGroups []catalog.ConflictGroup `json:"conflictGroups"`
}

func (f *RulesFile) catalog() *catalog.Catalog {
	if f.Catalog == nil {
		return catalog.Default()
	}
	return catalog.New(f.Catalog.EarningDomains, f.Catalog.ConflictGroups)
}

// decodeYAML reads YAML into v through its JSON form, so the json tags and
// custom JSON codecs of the domain types apply unchanged.
func decodeYAML(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("convert %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func LoadRules(path string) (*RulesFile, error) {
	var f RulesFile
	if err := decodeYAML(path, &f); err != nil {
		return nil, err
	}
	for i := range f.Programs {
		if f.Programs[i].TenantID == "" {
			f.Programs[i].TenantID = f.TenantID
		}
	}
	for i := range f.Rules {
		if f.Rules[i].TenantID == "" {
			f.Rules[i].TenantID = f.TenantID
		}
	}
	return &f, nil
}

func LoadEvents(path, tenantID string) ([]event.Event, error) {
	var evs []event.Event
	if err := decodeYAML(path, &evs); err != nil {
		return nil, err
	}
	for i := range evs {
		if evs[i].TenantID == "" {
			evs[i].TenantID = tenantID
		}
	}
	return evs, nil
}
