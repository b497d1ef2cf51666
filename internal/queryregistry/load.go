// Package queryregistry loads an ingest.Registry from a YAML document on
// disk: a map of destination table name to a map of batch arity to SQL
// template.
package queryregistry

import (
	"os"

	"github.com/elchinoo/pgstream/pkg/ingest"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the registry document at path.
func Load(path string) (ingest.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read query registry %s", path)
	}

	var reg ingest.Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, errors.Wrapf(err, "parse query registry %s", path)
	}
	if len(reg) == 0 {
		return nil, errors.Errorf("query registry %s is empty", path)
	}

	return reg, nil
}
