// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// The ikstorage command manages files stored in ImageKit: it collects
// static files into ImageKit, inspects and removes stored files and
// uploads media files.
//
// All configuration is read from the environment, see package config.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ikstorage/ikstorage/config"
	"github.com/ikstorage/ikstorage/files"
	"github.com/ikstorage/ikstorage/finder"
	"github.com/ikstorage/ikstorage/imagekit"
	"github.com/ikstorage/ikstorage/logs"
	"github.com/ikstorage/ikstorage/manifest"
	"github.com/ikstorage/ikstorage/storage"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

// This variable will be set during the build process.
var version = "devel"

// state holds the storages shared by all subcommands.
type state struct {
	cfg    config.Config
	client *imagekit.Client
	finder *finder.Finder
	static files.Storage
}

func newState(ctx context.Context) (*state, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	client := imagekit.New(
		cfg.Credentials.PrivateKey,
		cfg.Credentials.PublicKey,
		cfg.Credentials.URLEndpoint,
		imagekit.WithAPIEndpoint(cfg.APIEndpoint),
		imagekit.WithUploadEndpoint(cfg.UploadEndpoint),
	)

	s := &state{
		cfg:    cfg,
		client: client,
		finder: finder.New(afero.NewOsFs(), cfg.StaticDirs),
	}

	switch cfg.Static {
	case config.Plain:
		s.static = files.NewStaticStorage(client, cfg)
	case config.Hashed:
		backend, err := manifestBackend(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise manifest backend: %w", err)
		}

		log.WithField("backend", backend.Name()).Debug("initialised manifest backend")

		store := manifest.NewStore(backend, cfg.ManifestName)
		s.static = files.NewHashedStaticStorage(client, cfg, s.finder, store)
	}

	return s, nil
}

func manifestBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	switch cfg.ManifestBackend {
	case config.GCS:
		return storage.NewGCSBackend(ctx, cfg.GCSBucket)
	case config.S3:
		return storage.NewS3Backend(ctx, cfg.S3Bucket, cfg.AWSRegion)
	default:
		return storage.NewFSBackend(cfg.ManifestRoot)
	}
}

func (s *state) media(rt files.ResourceType) (*files.MediaStorage, error) {
	return files.StorageForType(s.client, s.cfg, rt)
}

// withState wraps a command action that needs the configured
// storages.
func withState(action func(context.Context, *cli.Command, *state) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		s, err := newState(ctx)
		if err != nil {
			return err
		}
		return action(ctx, cmd, s)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "ikstorage",
		Usage:   "Store static and media files in ImageKit",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				Sources: cli.EnvVars("IMAGEKIT_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "log format (json or text)",
				Sources: cli.EnvVars("IMAGEKIT_LOG_FORMAT"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logs.InitWith(version, cmd.String("log-level"), cmd.String("log-format"), cmd.ErrWriter)
			return ctx, nil
		},
		Commands: []*cli.Command{
			collectStaticCommand(),
			findStaticCommand(),
			listCommand(),
			urlCommand(),
			removeCommand(),
			uploadCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
