package collection

import (
	"os"
	"path/filepath"
	"testing"
)

const manifestYAML = `
name: ls8-sr
title: Landsat 8 Surface Reflectance
stac_collection: landsat-c2l2-sr
asset_names:
  - red
  - nir08
  - qa_pixel
property_filter: "[eo:cloud_cover] < 50"
url_rewrite:
  from: https://landsatlook.usgs.gov/data/
  to: s3://usgs-landsat/
mask_band: qa_pixel
mask_values: [21824]
default_srs: EPSG:4326
`

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ls8.yaml")
	if err := os.WriteFile(path, []byte(manifestYAML), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "ls8-sr" || m.STACCollection != "landsat-c2l2-sr" {
		t.Errorf("manifest = %+v", m)
	}
	if len(m.AssetNames) != 3 || m.MaskBand != "qa_pixel" {
		t.Errorf("manifest assets/mask = %+v", m)
	}
	if m.URLRewrite == nil || m.URLRewrite.To != "s3://usgs-landsat/" {
		t.Errorf("url rewrite = %+v", m.URLRewrite)
	}

	opts := m.BuildOptions()
	if opts.Name != "ls8-sr" || opts.PropertyFilter != "[eo:cloud_cover] < 50" {
		t.Errorf("BuildOptions = %+v", opts)
	}
}

func TestLoadManifestValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("title: nameless\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Error("manifest without a name should fail")
	}
}

func TestLoadAllManifests(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: a\nstac_collection: ca\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("name: b\nstac_collection: cb\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatal(err)
	}

	manifests, err := LoadAllManifests(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(manifests) != 2 {
		t.Fatalf("loaded %d manifests, want 2", len(manifests))
	}

	// Duplicate names across files are refused.
	if err := os.WriteFile(filepath.Join(dir, "dup.yaml"), []byte("name: a\nstac_collection: other\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAllManifests(dir); err == nil {
		t.Error("duplicate manifest names should fail")
	}
}
