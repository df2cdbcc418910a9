// Copyright The ikstorage Contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ikstorage/ikstorage/collect"
	"github.com/ikstorage/ikstorage/files"
	"github.com/urfave/cli/v3"
)

func exactArgs(n int) cli.BeforeFunc {
	return func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		if cmd.Args().Len() != n {
			return ctx, fmt.Errorf("accepts %d arg(s), received %d", n, cmd.Args().Len())
		}
		return ctx, nil
	}
}

func minimumArgs(n int) cli.BeforeFunc {
	return func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		if cmd.Args().Len() < n {
			return ctx, fmt.Errorf("accepts at least %d arg(s), received %d", n, cmd.Args().Len())
		}
		return ctx, nil
	}
}

func typeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "type",
		Usage: "resource type of the media storage (image, raw or video)",
		Value: string(files.Image),
	}
}

func staticFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "static",
		Usage: "address the static storage instead of the media storage",
	}
}

func collectStaticCommand() *cli.Command {
	return &cli.Command{
		Name:  "collectstatic",
		Usage: "Collect static files into ImageKit",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "upload-unhashed-files",
				Usage: "also upload static files under their unhashed names",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "do everything except modify the storage",
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "number of parallel uploads",
				Sources: cli.EnvVars("IMAGEKIT_COLLECT_WORKERS"),
			},
		},
		Action: withState(func(ctx context.Context, cmd *cli.Command, s *state) error {
			workers := s.cfg.Workers
			if cmd.IsSet("workers") {
				workers = int(cmd.Int("workers"))
			}

			c := collect.New(s.finder, s.static, collect.Options{
				UploadUnhashed: cmd.Bool("upload-unhashed-files"),
				DryRun:         cmd.Bool("dry-run"),
				Workers:        workers,
			})

			stats, err := c.Collect(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.Root().Writer, stats)
			return nil
		}),
	}
}

func findStaticCommand() *cli.Command {
	return &cli.Command{
		Name:      "findstatic",
		Usage:     "Find the absolute paths of static files",
		ArgsUsage: "NAME...",
		Before:    minimumArgs(1),
		Action: withState(func(_ context.Context, cmd *cli.Command, s *state) error {
			for _, name := range cmd.Args().Slice() {
				p, err := s.finder.Find(name)
				if errors.Is(err, fs.ErrNotExist) {
					fmt.Fprintf(cmd.Root().Writer, "No matching file found for '%s'.\n", name)
					continue
				}
				if err != nil {
					return err
				}

				abs, err := filepath.Abs(p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "Found '%s' here:\n  %s\n", name, abs)
			}
			return nil
		}),
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List the folders and files of a media storage",
		ArgsUsage: "[PATH]",
		Flags:     []cli.Flag{typeFlag()},
		Action: withState(func(ctx context.Context, cmd *cli.Command, s *state) error {
			m, err := s.media(files.ResourceType(cmd.String("type")))
			if err != nil {
				return err
			}

			dirs, names, err := m.ListDir(ctx, cmd.Args().First())
			if err != nil {
				return err
			}

			for _, d := range dirs {
				fmt.Fprintln(cmd.Root().Writer, d+"/")
			}
			for _, n := range names {
				fmt.Fprintln(cmd.Root().Writer, n)
			}
			return nil
		}),
	}
}

// storageFor returns the static storage or the media storage selected
// by the flags of cmd.
func storageFor(cmd *cli.Command, s *state) (files.Storage, error) {
	if cmd.Bool("static") {
		return s.static, nil
	}
	return s.media(files.ResourceType(cmd.String("type")))
}

func urlCommand() *cli.Command {
	return &cli.Command{
		Name:      "url",
		Usage:     "Print the delivery URL of a stored file",
		ArgsUsage: "NAME",
		Flags:     []cli.Flag{typeFlag(), staticFlag()},
		Before:    exactArgs(1),
		Action: withState(func(ctx context.Context, cmd *cli.Command, s *state) error {
			st, err := storageFor(cmd, s)
			if err != nil {
				return err
			}

			u, err := st.URL(ctx, cmd.Args().First())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.Root().Writer, u)
			return nil
		}),
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete stored files",
		ArgsUsage: "NAME...",
		Flags:     []cli.Flag{typeFlag(), staticFlag()},
		Before:    minimumArgs(1),
		Action: withState(func(ctx context.Context, cmd *cli.Command, s *state) error {
			st, err := storageFor(cmd, s)
			if err != nil {
				return err
			}

			for _, name := range cmd.Args().Slice() {
				if err := st.Delete(ctx, name); err != nil {
					return fmt.Errorf("failed to delete %s: %w", name, err)
				}
			}
			return nil
		}),
	}
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a local file to a media storage and print its file ID",
		ArgsUsage: "FILE [NAME]",
		Flags:     []cli.Flag{typeFlag()},
		Before:    minimumArgs(1),
		Action: withState(func(ctx context.Context, cmd *cli.Command, s *state) error {
			rt := files.ResourceType(cmd.String("type"))
			m, err := s.media(rt)
			if err != nil {
				return err
			}

			local := cmd.Args().First()
			name := cmd.Args().Get(1)
			if name == "" {
				name = filepath.ToSlash(filepath.Base(local))
			}

			f, err := os.Open(local)
			if err != nil {
				return err
			}
			defer f.Close()

			if rt == files.Video {
				if err := files.ValidateVideo(f, s.cfg.InvalidVideoMessage); err != nil {
					return err
				}
				if _, err := f.Seek(0, io.SeekStart); err != nil {
					return err
				}
			}

			id, err := m.Save(ctx, name, f)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.Root().Writer, id)
			return nil
		}),
	}
}
