// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ikstorage/ikstorage/imagekit"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestIncompleteSettingsWithoutEnvRaiseError(t *testing.T) {
	cases := []string{
		"URL_ENDPOINT: url_endpoint\n",
		"PRIVATE_KEY: private_key\n",
		"PRIVATE_KEY: private_key\nURL_ENDPOINT: url_endpoint\n",
	}

	for _, c := range cases {
		_, err := Load(map[string]string{"IMAGEKIT_STORAGE_CONFIG": writeSettings(t, c)})
		if !errors.Is(err, ErrImproperlyConfigured) {
			t.Fatalf("settings %q: expected ErrImproperlyConfigured, got %v", c, err)
		}
	}
}

func TestIncompleteEnvVariablesRaiseError(t *testing.T) {
	cases := []map[string]string{
		{"IMAGEKIT_URL_ENDPOINT": "url_endpoint", "IMAGEKIT_PUBLIC_KEY": "public_key"},
		{"IMAGEKIT_PRIVATE_KEY": "private_key", "IMAGEKIT_PUBLIC_KEY": "public_key"},
		{"IMAGEKIT_PRIVATE_KEY": "private_key", "IMAGEKIT_URL_ENDPOINT": "url_endpoint"},
	}

	for _, c := range cases {
		if _, err := Load(c); !errors.Is(err, ErrImproperlyConfigured) {
			t.Fatalf("env %v: expected ErrImproperlyConfigured, got %v", c, err)
		}
	}
}

func TestCompleteSettingsWinOverEnvironment(t *testing.T) {
	cfg, err := Load(map[string]string{
		"IMAGEKIT_STORAGE_CONFIG": writeSettings(t, "PRIVATE_KEY: private_key\nPUBLIC_KEY: public_key\nURL_ENDPOINT: url_endpoint\n"),
		"IMAGEKIT_URL":            "other:https://ik.imagekit.io/other@secret",
	})
	if err != nil {
		t.Fatal(err)
	}

	expected := Credentials{PrivateKey: "private_key", PublicKey: "public_key", URLEndpoint: "url_endpoint"}
	if diff := cmp.Diff(expected, cfg.Credentials); diff != "" {
		t.Fatalf("credentials mismatch:\n%s", diff)
	}
}

func TestCredentialsFromEnvVariables(t *testing.T) {
	cfg, err := Load(map[string]string{
		"IMAGEKIT_PRIVATE_KEY":  "private_key",
		"IMAGEKIT_URL_ENDPOINT": "url_endpoint",
		"IMAGEKIT_PUBLIC_KEY":   "public_key",
	})
	if err != nil {
		t.Fatal(err)
	}

	expected := Credentials{PrivateKey: "private_key", PublicKey: "public_key", URLEndpoint: "url_endpoint"}
	if diff := cmp.Diff(expected, cfg.Credentials); diff != "" {
		t.Fatalf("credentials mismatch:\n%s", diff)
	}
}

func TestParseURL(t *testing.T) {
	creds, err := ParseURL("public_key:https://ik.imagekit.io/demo@private_key")
	if err != nil {
		t.Fatal(err)
	}

	expected := Credentials{
		PrivateKey:  "private_key",
		PublicKey:   "public_key",
		URLEndpoint: "https://ik.imagekit.io/demo",
	}
	if diff := cmp.Diff(expected, creds); diff != "" {
		t.Fatalf("credentials mismatch:\n%s", diff)
	}

	for _, bad := range []string{"my-url", "public:endpoint", "public:endpoint@", ":endpoint@key"} {
		if _, err := ParseURL(bad); !errors.Is(err, ErrImproperlyConfigured) {
			t.Fatalf("ParseURL(%q): expected ErrImproperlyConfigured, got %v", bad, err)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(map[string]string{"IMAGEKIT_URL": "pub:endpoint@priv"})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.MediaTag != "" || cfg.StaticTag != "" {
		t.Fatalf("expected no default tags, got %q and %q", cfg.MediaTag, cfg.StaticTag)
	}
	if cfg.Prefix != "/media/" || cfg.StaticURL != "/static/" {
		t.Fatalf("unexpected URL defaults: %q %q", cfg.Prefix, cfg.StaticURL)
	}
	if diff := cmp.Diff(imagekit.DefaultUploadOptions(), cfg.UploadOptions); diff != "" {
		t.Fatalf("upload options mismatch:\n%s", diff)
	}
	if cfg.ManifestRoot != "manifest" || cfg.ManifestName != "staticfiles.json" || !cfg.ManifestStrict {
		t.Fatalf("unexpected manifest defaults: %+v", cfg)
	}
	if cfg.Static != Hashed || cfg.ManifestBackend != FileSystem {
		t.Fatalf("unexpected storage defaults: %v %v", cfg.Static, cfg.ManifestBackend)
	}
	if len(cfg.ImageExtensions) != 16 || len(cfg.VideoExtensions) != 11 {
		t.Fatalf("unexpected extension defaults: %v %v", cfg.ImageExtensions, cfg.VideoExtensions)
	}
}

func TestSettingsOverrides(t *testing.T) {
	settings := `
PRIVATE_KEY: private_key
PUBLIC_KEY: public_key
URL_ENDPOINT: https://ik.imagekit.io/demo
MEDIA_TAG: /media-files/
STATIC_TAG: assets
PREFIX: uploads/
STATIC_IMAGES_EXTENSIONS: [png]
UPLOAD_OPTIONS:
  folder: /site/
  tags: [one]
`
	cfg, err := Load(map[string]string{
		"IMAGEKIT_STORAGE_CONFIG": writeSettings(t, settings),
		"STATICFILES_STORAGE":     "static",
		"STATICFILES_DIRS":        "assets,vendor/assets",
		"DEBUG":                   "true",
	})
	if err != nil {
		t.Fatal(err)
	}

	expectedOpts := imagekit.DefaultUploadOptions()
	expectedOpts.Folder = "/site/"
	expectedOpts.Tags = []string{"one"}
	if diff := cmp.Diff(expectedOpts, cfg.UploadOptions); diff != "" {
		t.Fatalf("upload options mismatch:\n%s", diff)
	}

	if cfg.MediaTag != "media-files" || cfg.StaticTag != "assets" || cfg.Prefix != "uploads/" {
		t.Fatalf("unexpected tags: %+v", cfg)
	}
	if diff := cmp.Diff([]string{"png"}, cfg.ImageExtensions); diff != "" {
		t.Fatalf("image extensions mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"assets", "vendor/assets"}, cfg.StaticDirs); diff != "" {
		t.Fatalf("static dirs mismatch:\n%s", diff)
	}
	if cfg.Static != Plain || !cfg.Debug {
		t.Fatalf("unexpected static settings: %+v", cfg)
	}
}

func TestManifestBackendRequiresBucket(t *testing.T) {
	_, err := Load(map[string]string{
		"IMAGEKIT_URL":              "pub:endpoint@priv",
		"IMAGEKIT_MANIFEST_BACKEND": "s3",
	})
	if err == nil {
		t.Fatal("expected an error for s3 without a bucket")
	}

	cfg, err := Load(map[string]string{
		"IMAGEKIT_URL":              "pub:endpoint@priv",
		"IMAGEKIT_MANIFEST_BACKEND": "gcs",
		"GCS_BUCKET":                "manifests",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ManifestBackend != GCS {
		t.Fatalf("expected gcs backend, got %v", cfg.ManifestBackend)
	}
}

func TestParseSettingsUploadOptions(t *testing.T) {
	s, err := ParseSettings([]byte("PRIVATE_KEY: a\nUPLOAD_OPTIONS:\n  folder: /site/\n  tags: [one]\n  overwrite_tags: true\n"))
	if err != nil {
		t.Fatal(err)
	}

	expected := imagekit.DefaultUploadOptions()
	expected.Folder = "/site/"
	expected.Tags = []string{"one"}
	expected.OverwriteTags = true
	if diff := cmp.Diff(&expected, s.UploadOptions); diff != "" {
		t.Fatalf("upload options mismatch:\n%s", diff)
	}

	s, err = ParseSettings([]byte("PRIVATE_KEY: a\n"))
	if err != nil {
		t.Fatal(err)
	}
	defaults := imagekit.DefaultUploadOptions()
	if diff := cmp.Diff(&defaults, s.UploadOptions); diff != "" {
		t.Fatalf("expected default upload options:\n%s", diff)
	}
}
