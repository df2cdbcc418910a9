// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// Package config implements structures to store the storage
// configuration at runtime as well as the logic for instantiating
// this configuration from the environment and an optional YAML
// settings document.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ikstorage/ikstorage/imagekit"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrImproperlyConfigured is returned when no complete set of
// ImageKit credentials could be found.
var ErrImproperlyConfigured = errors.New("In order to use imagekit storage, you need to provide " +
	"IMAGEKIT_STORAGE dictionary with PRIVATE_KEY, PUBLIC_KEY " +
	"and URL_ENDPOINT in the settings or set IMAGEKIT_URL variable " +
	"(or IMAGEKIT_PRIVATE_KEY, IMAGEKIT_PUBLIC_KEY, IMAGEKIT_URL_ENDPOINT " +
	"variables).")

// Backend represents the possible manifest storage backend types
type Backend int

const (
	FileSystem Backend = iota
	GCS
	S3
)

func (b Backend) String() string {
	switch b {
	case GCS:
		return "gcs"
	case S3:
		return "s3"
	default:
		return "filesystem"
	}
}

// StaticKind selects which storage collectstatic writes to.
type StaticKind int

const (
	// Hashed uploads content-hashed names and keeps a manifest.
	Hashed StaticKind = iota
	// Plain uploads static files under their original names.
	Plain
)

var (
	defaultImageExtensions = []string{
		"jpg", "jpe", "jpeg", "jpc", "jp2", "j2k", "wdp", "jxr",
		"hdp", "png", "gif", "webp", "bmp", "tif", "tiff", "ico",
	}

	defaultVideoExtensions = []string{
		"mp4", "webm", "flv", "mov", "ogv", "3gp", "3g2", "wmv",
		"mpeg", "mkv", "avi",
	}
)

// Credentials for the ImageKit API.
type Credentials struct {
	PrivateKey  string
	PublicKey   string
	URLEndpoint string
}

// Settings is the user-supplied settings document, equivalent to an
// IMAGEKIT_STORAGE dictionary. Pointer fields distinguish "unset"
// from "set to empty".
type Settings struct {
	PrivateKey               string                  `yaml:"PRIVATE_KEY"`
	PublicKey                string                  `yaml:"PUBLIC_KEY"`
	URLEndpoint              string                  `yaml:"URL_ENDPOINT"`
	MediaTag                 string                  `yaml:"MEDIA_TAG"`
	StaticTag                string                  `yaml:"STATIC_TAG"`
	ManifestRoot             string                  `yaml:"STATICFILES_MANIFEST_ROOT"`
	ImageExtensions          []string                `yaml:"STATIC_IMAGES_EXTENSIONS"`
	VideoExtensions          []string                `yaml:"STATIC_VIDEOS_EXTENSIONS"`
	Prefix                   *string                 `yaml:"PREFIX"`
	UploadOptions            *imagekit.UploadOptions `yaml:"-"`
	InvalidVideoErrorMessage string                  `yaml:"INVALID_VIDEO_ERROR_MESSAGE"`
	StripStaticExtensions    *bool                   `yaml:"STRIP_STATIC_EXTENSIONS"`
}

// ParseSettings decodes a YAML settings document. Upload options
// that are not mentioned keep their default values.
func ParseSettings(data []byte) (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("invalid settings document: %w", err)
	}

	opts := imagekit.DefaultUploadOptions()
	upload := struct {
		Options *imagekit.UploadOptions `yaml:"UPLOAD_OPTIONS"`
	}{Options: &opts}
	if err := yaml.Unmarshal(data, &upload); err != nil {
		return Settings{}, fmt.Errorf("invalid UPLOAD_OPTIONS: %w", err)
	}
	s.UploadOptions = upload.Options

	return s, nil
}

// environment lists every variable read from the process
// environment.
type environment struct {
	SettingsFile string `env:"IMAGEKIT_STORAGE_CONFIG"`

	URL         string `env:"IMAGEKIT_URL"`
	PrivateKey  string `env:"IMAGEKIT_PRIVATE_KEY"`
	PublicKey   string `env:"IMAGEKIT_PUBLIC_KEY"`
	URLEndpoint string `env:"IMAGEKIT_URL_ENDPOINT"`

	APIEndpoint    string `env:"IMAGEKIT_API_ENDPOINT" envDefault:"https://api.imagekit.io/v1"`
	UploadEndpoint string `env:"IMAGEKIT_UPLOAD_ENDPOINT" envDefault:"https://upload.imagekit.io/api/v1"`

	Debug          bool     `env:"DEBUG"`
	StaticURL      string   `env:"STATIC_URL" envDefault:"/static/"`
	MediaURL       string   `env:"MEDIA_URL" envDefault:"/media/"`
	StaticDirs     []string `env:"STATICFILES_DIRS" envSeparator:","`
	StaticStorage  string   `env:"STATICFILES_STORAGE" envDefault:"hashed"`
	ManifestName   string   `env:"STATICFILES_MANIFEST_NAME" envDefault:"staticfiles.json"`
	ManifestStrict bool     `env:"STATICFILES_MANIFEST_STRICT" envDefault:"true"`

	ManifestBackend string `env:"IMAGEKIT_MANIFEST_BACKEND" envDefault:"filesystem"`
	GCSBucket       string `env:"GCS_BUCKET"`
	S3Bucket        string `env:"S3_BUCKET"`
	AWSRegion       string `env:"AWS_REGION" envDefault:"us-east-1"`

	Workers int `env:"IMAGEKIT_COLLECT_WORKERS" envDefault:"4"`
}

// Config holds the resolved storage configuration.
type Config struct {
	Credentials    Credentials
	APIEndpoint    string // Base URL of the ImageKit management API
	UploadEndpoint string // Base URL of the ImageKit upload API

	MediaTag      string                 // Folder below the root folder for media files
	StaticTag     string                 // Folder below the root folder for static files
	Prefix        string                 // Name prefix for media files
	UploadOptions imagekit.UploadOptions // Default upload parameters

	ImageExtensions       []string // Static extensions treated as images
	VideoExtensions       []string // Static extensions treated as videos
	StripStaticExtensions bool     // Drop extensions of image & video uploads
	InvalidVideoMessage   string   // Error message of the video validator

	Debug      bool     // Serve unhashed static URLs
	StaticURL  string   // URL prefix of static files
	MediaURL   string   // URL prefix of media files
	StaticDirs []string // Directories collectstatic collects from
	Static     StaticKind

	ManifestRoot    string  // Local directory for the staticfiles manifest
	ManifestName    string  // Name of the manifest file
	ManifestStrict  bool    // Fail on static names missing from the manifest
	ManifestBackend Backend // Where the manifest is kept
	GCSBucket       string
	S3Bucket        string
	AWSRegion       string

	Workers int // Parallel uploads during collectstatic
}

// FromEnv loads the configuration from the process environment.
func FromEnv() (Config, error) {
	return Load(env.ToMap(os.Environ()))
}

// Load builds the configuration from the given environment.
func Load(environ map[string]string) (Config, error) {
	var e environment
	if err := env.ParseWithOptions(&e, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	var s Settings
	if e.SettingsFile != "" {
		data, err := os.ReadFile(e.SettingsFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read settings file: %w", err)
		}

		s, err = ParseSettings(data)
		if err != nil {
			return Config{}, err
		}

		log.WithField("file", e.SettingsFile).Debug("loaded storage settings")
	}

	creds, err := getCredentials(s, e)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Credentials:         creds,
		APIEndpoint:         e.APIEndpoint,
		UploadEndpoint:      e.UploadEndpoint,
		MediaTag:            strings.Trim(s.MediaTag, "/"),
		StaticTag:           strings.Trim(s.StaticTag, "/"),
		Prefix:              e.MediaURL,
		UploadOptions:       imagekit.DefaultUploadOptions(),
		ImageExtensions:     defaultImageExtensions,
		VideoExtensions:     defaultVideoExtensions,
		InvalidVideoMessage: "Please upload a valid video file.",

		StripStaticExtensions: true,

		Debug:      e.Debug,
		StaticURL:  e.StaticURL,
		MediaURL:   e.MediaURL,
		StaticDirs: e.StaticDirs,

		ManifestRoot:   "manifest",
		ManifestName:   e.ManifestName,
		ManifestStrict: e.ManifestStrict,
		GCSBucket:      e.GCSBucket,
		S3Bucket:       e.S3Bucket,
		AWSRegion:      e.AWSRegion,

		Workers: max(e.Workers, 1),
	}

	if s.Prefix != nil {
		cfg.Prefix = *s.Prefix
	}
	if s.UploadOptions != nil {
		cfg.UploadOptions = *s.UploadOptions
	}
	if s.ImageExtensions != nil {
		cfg.ImageExtensions = s.ImageExtensions
	}
	if s.VideoExtensions != nil {
		cfg.VideoExtensions = s.VideoExtensions
	}
	if s.StripStaticExtensions != nil {
		cfg.StripStaticExtensions = *s.StripStaticExtensions
	}
	if s.InvalidVideoErrorMessage != "" {
		cfg.InvalidVideoMessage = s.InvalidVideoErrorMessage
	}
	if s.ManifestRoot != "" {
		cfg.ManifestRoot = s.ManifestRoot
	}

	switch e.StaticStorage {
	case "hashed":
		cfg.Static = Hashed
	case "static", "plain":
		cfg.Static = Plain
	default:
		return Config{}, fmt.Errorf("STATICFILES_STORAGE must be set to a supported value (hashed or static), got %q", e.StaticStorage)
	}

	switch e.ManifestBackend {
	case "filesystem":
		cfg.ManifestBackend = FileSystem
	case "gcs":
		cfg.ManifestBackend = GCS
		if cfg.GCSBucket == "" {
			return Config{}, fmt.Errorf("GCS_BUCKET must be configured for the gcs manifest backend")
		}
	case "s3":
		cfg.ManifestBackend = S3
		if cfg.S3Bucket == "" {
			return Config{}, fmt.Errorf("S3_BUCKET must be configured for the s3 manifest backend")
		}
	default:
		return Config{}, fmt.Errorf("IMAGEKIT_MANIFEST_BACKEND must be set to a supported value (filesystem, gcs or s3), got %q", e.ManifestBackend)
	}

	return cfg, nil
}

// getCredentials resolves the ImageKit credentials. A settings
// document with all three keys wins over IMAGEKIT_URL, which wins
// over the individual IMAGEKIT_* variables.
func getCredentials(s Settings, e environment) (Credentials, error) {
	if s.PrivateKey != "" && s.PublicKey != "" && s.URLEndpoint != "" {
		return Credentials{
			PrivateKey:  s.PrivateKey,
			PublicKey:   s.PublicKey,
			URLEndpoint: s.URLEndpoint,
		}, nil
	}

	if e.URL != "" {
		return ParseURL(e.URL)
	}

	if e.PrivateKey != "" && e.PublicKey != "" && e.URLEndpoint != "" {
		return Credentials{
			PrivateKey:  e.PrivateKey,
			PublicKey:   e.PublicKey,
			URLEndpoint: e.URLEndpoint,
		}, nil
	}

	return Credentials{}, ErrImproperlyConfigured
}

// ParseURL parses credentials of the form
// `public_key:url_endpoint@private_key`. The endpoint may contain a
// scheme, so the private key is everything after the last '@'.
func ParseURL(u string) (Credentials, error) {
	public, rest, ok := strings.Cut(u, ":")
	if !ok {
		return Credentials{}, fmt.Errorf("%w: IMAGEKIT_URL must have the form public_key:url_endpoint@private_key", ErrImproperlyConfigured)
	}

	i := strings.LastIndex(rest, "@")
	if i < 0 || public == "" || i == 0 || i == len(rest)-1 {
		return Credentials{}, fmt.Errorf("%w: IMAGEKIT_URL must have the form public_key:url_endpoint@private_key", ErrImproperlyConfigured)
	}

	return Credentials{
		PublicKey:   public,
		URLEndpoint: rest[:i],
		PrivateKey:  rest[i+1:],
	}, nil
}
