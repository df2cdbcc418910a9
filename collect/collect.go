// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

// Package collect gathers static files from the static directories
// into an ImageKit static storage.
package collect

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/ikstorage/ikstorage/files"
	"github.com/ikstorage/ikstorage/finder"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Source lists and opens static files.
type Source interface {
	List() ([]finder.File, error)
	Open(name string) (io.ReadCloser, error)
}

// Storage is where static files are collected to.
type Storage interface {
	Name() string
	Save(ctx context.Context, name string, content io.Reader) (string, error)
}

// PostProcessor is implemented by storages that process collected
// files, such as files.HashedStaticStorage.
type PostProcessor interface {
	PostProcess(ctx context.Context, names []string, opts files.PostProcessOptions) ([]files.Processed, error)
}

type Options struct {
	// Copy files to post-processing storages as well, in addition
	// to their hashed copies.
	UploadUnhashed bool
	DryRun         bool
	Workers        int
}

// Stats summarises a collection run.
type Stats struct {
	Copied        []string
	PostProcessed []string
}

func (s *Stats) String() string {
	summary := fmt.Sprintf("%d static file%s copied", len(s.Copied), lo.Ternary(len(s.Copied) == 1, "", "s"))
	if len(s.PostProcessed) > 0 {
		summary += fmt.Sprintf(", %d post-processed", len(s.PostProcessed))
	}
	return summary + "."
}

type Collector struct {
	source  Source
	storage Storage
	opts    Options
}

func New(source Source, storage Storage, opts Options) *Collector {
	opts.Workers = max(opts.Workers, 1)
	return &Collector{source: source, storage: storage, opts: opts}
}

// Collect copies all static files to the storage and post-processes
// them. Files are never deleted from the storage.
func (c *Collector) Collect(ctx context.Context) (*Stats, error) {
	found, err := c.source.List()
	if err != nil {
		return nil, err
	}

	names := lo.Map(found, func(f finder.File, _ int) string { return f.Name })
	stats := &Stats{}

	pp, postProcess := c.storage.(PostProcessor)
	if !postProcess || c.opts.UploadUnhashed {
		if stats.Copied, err = c.copy(ctx, names); err != nil {
			return nil, err
		}
	}

	if postProcess {
		processed, err := pp.PostProcess(ctx, names, files.PostProcessOptions{
			DryRun:  c.opts.DryRun,
			Workers: c.opts.Workers,
		})
		if err != nil {
			return nil, fmt.Errorf("post-processing failed: %w", err)
		}

		for _, p := range processed {
			if p.Processed {
				stats.PostProcessed = append(stats.PostProcessed, p.Name)
			}
		}
	}

	log.WithFields(log.Fields{
		"storage":        c.storage.Name(),
		"copied":         len(stats.Copied),
		"post_processed": len(stats.PostProcessed),
		"dry_run":        c.opts.DryRun,
	}).Info("collected static files")

	return stats, nil
}

func (c *Collector) copy(ctx context.Context, names []string) ([]string, error) {
	var (
		mu     sync.Mutex
		copied []string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)

	for _, name := range names {
		g.Go(func() error {
			if c.opts.DryRun {
				log.WithField("name", name).Info("pretending to copy static file")
			} else if err := c.copyFile(ctx, name); err != nil {
				return err
			}

			mu.Lock()
			copied = append(copied, name)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(copied)
	return copied, nil
}

func (c *Collector) copyFile(ctx context.Context, name string) error {
	r, err := c.source.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer r.Close()

	if _, err := c.storage.Save(ctx, name, r); err != nil {
		return fmt.Errorf("failed to copy %s: %w", name, err)
	}

	log.WithField("name", name).Debug("copied static file")
	return nil
}
