package catalog

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// fileCatalog is the YAML layout of a static catalog file:
//
//	tables:
//	  - name: MATERIAL
//	    columns: [CODIGO, DESCRIP, {name: PRECIO, real: PRECIO1}]
//	  - name: PRECIOS
//	    real: MATERIALSUC
//	    columns: [MATID, COSTO]
type fileCatalog struct {
	Tables []fileTable `yaml:"tables"`
}

type fileTable struct {
	Name    string       `yaml:"name"`
	Real    string       `yaml:"real"`
	Columns []fileColumn `yaml:"columns"`
}

type fileColumn struct {
	Name string `yaml:"name"`
	Real string `yaml:"real"`
}

// UnmarshalYAML accepts either a bare column name or a {name, real} mapping.
func (c *fileColumn) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		c.Name = value.Value
		return nil
	}
	type plain fileColumn
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = fileColumn(p)
	return nil
}

// LoadFile reads a static catalog from a YAML file.
func LoadFile(fs afero.Fs, path string) (*Catalog, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a static catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var doc fileCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	tables := make([]Table, 0, len(doc.Tables))
	for _, ft := range doc.Tables {
		t := Table{Logical: ft.Name, Real: ft.Real}
		for _, fc := range ft.Columns {
			t.Columns = append(t.Columns, Column{Logical: fc.Name, Real: fc.Real})
		}
		tables = append(tables, t)
	}
	return New(tables...)
}
