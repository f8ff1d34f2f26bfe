package storage

import (
	"fmt"
	"os"

	"github.com/valter-silva-au/command-center/pkg/models"
	"gopkg.in/yaml.v3"
)

// LoadRuleDefinitions reads declarative rule definitions from a YAML file.
// A missing file yields no definitions.
func LoadRuleDefinitions(path string) ([]models.RuleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading rules file: %w", err)
	}

	var rf models.RulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("loading rules file: parsing YAML: %w", err)
	}
	return rf.Rules, nil
}

// SaveRuleDefinitions writes rule definitions to a YAML file.
func SaveRuleDefinitions(path string, defs []models.RuleDefinition) error {
	data, err := yaml.Marshal(&models.RulesFile{Version: "1.0", Rules: defs})
	if err != nil {
		return fmt.Errorf("saving rules file: marshaling YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("saving rules file: %w", err)
	}
	return nil
}
