package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/command-center/pkg/models"
	"gopkg.in/yaml.v3"
)

// ModuleFile is the top-level structure of modules/<name>.yaml.
type ModuleFile struct {
	Version string          `yaml:"version"`
	Records []models.Record `yaml:"records"`
}

// RecordDirectory reads collaborator records from one YAML file per module.
// It satisfies core.ModuleProvider.
type RecordDirectory struct {
	dir string
}

// NewRecordDirectory creates a RecordDirectory rooted at dir.
func NewRecordDirectory(dir string) *RecordDirectory {
	return &RecordDirectory{dir: dir}
}

// Dir returns the directory the provider reads from.
func (d *RecordDirectory) Dir() string { return d.dir }

// ModulePath returns the file that backs a module.
func (d *RecordDirectory) ModulePath(module string) string {
	return filepath.Join(d.dir, module+".yaml")
}

// ListRecords returns the module's records updated or due at or after since.
// A missing file is an unavailable module.
func (d *RecordDirectory) ListRecords(ctx context.Context, module string, since time.Time) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(d.ModulePath(module))
	if err != nil {
		return nil, fmt.Errorf("reading module %s: %w", module, err)
	}

	var mf ModuleFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("reading module %s: parsing YAML: %w", module, err)
	}

	out := make([]models.Record, 0, len(mf.Records))
	for _, r := range mf.Records {
		if r.ID == "" {
			continue
		}
		if !withinLookback(r, since) {
			continue
		}
		if r.Module == "" {
			r.Module = module
		}
		out = append(out, r)
	}
	return out, nil
}

// WriteModule replaces a module file with the given records.
func (d *RecordDirectory) WriteModule(module string, records []models.Record) error {
	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return fmt.Errorf("writing module %s: creating directory: %w", module, err)
	}
	data, err := yaml.Marshal(&ModuleFile{Version: "1.0", Records: records})
	if err != nil {
		return fmt.Errorf("writing module %s: marshaling YAML: %w", module, err)
	}
	if err := os.WriteFile(d.ModulePath(module), data, 0o600); err != nil {
		return fmt.Errorf("writing module %s: %w", module, err)
	}
	return nil
}

func withinLookback(r models.Record, since time.Time) bool {
	if !r.UpdatedAt.Before(since) {
		return true
	}
	return r.DueAt != nil && !r.DueAt.Before(since)
}
