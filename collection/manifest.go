package collection

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// Manifest is a YAML collection definition: which STAC collection to
// search, which assets to index and how to rewrite their URLs. One
// manifest per published collection, loaded at service start.
type Manifest struct {
	Name           string      `yaml:"name"`
	Title          string      `yaml:"title"`
	STACCollection string      `yaml:"stac_collection"`
	AssetNames     []string    `yaml:"asset_names"`
	PropertyFilter string      `yaml:"property_filter"`
	URLRewrite     *URLRewrite `yaml:"url_rewrite"`
	MaskBand       string      `yaml:"mask_band"`
	MaskValues     []float64   `yaml:"mask_values"`
	DefaultSRS     string      `yaml:"default_srs"`
}

func (m *Manifest) validate() error {
	if len(strings.TrimSpace(m.Name)) == 0 {
		return fmt.Errorf("collection manifest needs a name")
	}
	if len(strings.TrimSpace(m.STACCollection)) == 0 {
		return fmt.Errorf("collection manifest %s needs a stac_collection", m.Name)
	}
	return nil
}

// BuildOptions derives adapter options from the manifest.
func (m *Manifest) BuildOptions() BuildOptions {
	return BuildOptions{
		Name:           m.Name,
		AssetNames:     m.AssetNames,
		PropertyFilter: m.PropertyFilter,
		URLRewrite:     m.URLRewrite,
	}
}

// LoadManifest reads one YAML manifest.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest %s: %v", path, err)
	}

	m := &Manifest{}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("error parsing manifest %s: %v", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadAllManifests walks rootDir for *.yaml manifests keyed by name.
func LoadAllManifests(rootDir string) (map[string]*Manifest, error) {
	manifests := make(map[string]*Manifest)
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || (!strings.HasSuffix(info.Name(), ".yaml") && !strings.HasSuffix(info.Name(), ".yml")) {
			return nil
		}

		m, e := LoadManifest(path)
		if e != nil {
			return e
		}
		if _, found := manifests[m.Name]; found {
			return fmt.Errorf("duplicate collection manifest name %q at %s", m.Name, path)
		}
		manifests[m.Name] = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manifests, nil
}
