package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

func TestLoadSites(t *testing.T) {
	path := writeRegistry(t, `
innsbruck:
  lat: 47.116171
  lon: 11.320308
wien:
  lat: 48.208174
  lon: 16.373819
`)

	sites, err := LoadSites(path)
	if err != nil {
		t.Fatalf("LoadSites() failed: %v", err)
	}

	if len(sites) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(sites))
	}

	site, ok := sites["innsbruck"]
	if !ok {
		t.Fatal("expected innsbruck in registry")
	}
	if site.Name != "innsbruck" {
		t.Errorf("expected registry key as site name, got %q", site.Name)
	}
	if site.Lat != 47.116171 || site.Lon != 11.320308 {
		t.Errorf("unexpected position %v, %v", site.Lat, site.Lon)
	}
}

func TestLoadSitesInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "not yaml",
			content: "innsbruck: [lat",
			wantErr: "parse site registry",
		},
		{
			name:    "empty document",
			content: "",
			wantErr: "lists no sites",
		},
		{
			name: "latitude out of range",
			content: `
innsbruck:
  lat: 147.1
  lon: 11.3
`,
			wantErr: "latitude",
		},
		{
			name: "name unusable as directory",
			content: `
"bad/name":
  lat: 47.1
  lon: 11.3
`,
			wantErr: "directory name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSites(writeRegistry(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadSitesMissingFile(t *testing.T) {
	_, err := LoadSites(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing registry")
	}
}
