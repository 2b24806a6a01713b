// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2026 blockimg contributors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command blockimg is a thin CLI collaborator over the blockimg core: it
// parses arguments and dispatches, and holds no filesystem logic of its
// own, the way spec.md §1 scopes argument parsing out of the core.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"github.com/ambarisha/blockimg"
)

const defaultImagePath = "disk.img"

func main() {
	app := &cli.App{
		Name:  "blockimg",
		Usage: "inspect and mutate a block-image filesystem file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "image",
				Value: defaultImagePath,
				Usage: "path to the disk image",
			},
			&cli.BoolFlag{
				Name:  "mem",
				Usage: "dry run: operate against a scratch in-memory image instead of --image",
			},
		},
		Commands: []*cli.Command{
			formatCommand,
			listCommand,
			createCommand,
			editCommand,
			deleteCommand,
			readCommand,
			snapshotCreateCommand,
			snapshotRestoreCommand,
			snapshotDeleteCommand,
			snapshotListCommand,
			fsInfoCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Printf("blockimg: %v", err)
		os.Exit(1)
	}
}

func imagePath(c *cli.Context) string {
	return c.String("image")
}

// formatSession runs Format, or FormatDevice against a scratch in-memory
// image when --mem is set, so geometry can be checked without ever
// creating or truncating a real file.
func formatSession(c *cli.Context, opts blockimg.FormatOptions) (*blockimg.Session, error) {
	if c.Bool("mem") {
		return blockimg.FormatDevice(blockimg.NewMemDevice(0), opts)
	}
	return blockimg.Format(imagePath(c), opts)
}

// mountSession runs Mount, or formats a throwaway in-memory image when
// --mem is set. Every --mem invocation starts from a fresh empty image:
// it never touches --image, matching the dry-run role SPEC_FULL.md
// assigns the flag.
func mountSession(c *cli.Context) (*blockimg.Session, error) {
	if c.Bool("mem") {
		return blockimg.FormatDevice(blockimg.NewMemDevice(0), blockimg.FormatOptions{
			SizeBytes: 1 << 20,
		})
	}
	return blockimg.Mount(imagePath(c))
}

var formatCommand = &cli.Command{
	Name:      "format",
	Usage:     "initialize a new image",
	ArgsUsage: "",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "size", Value: 1 << 20, Usage: "image size in bytes"},
		&cli.UintFlag{Name: "block-size", Value: blockimg.DefaultBlockSize, Usage: "block size in bytes"},
		&cli.BoolFlag{Name: "zero-fill", Usage: "zero every block before formatting"},
	},
	Action: func(c *cli.Context) error {
		s, err := formatSession(c, blockimg.FormatOptions{
			SizeBytes: c.Int64("size"),
			BlockSize: uint32(c.Uint("block-size")),
			ZeroFill:  c.Bool("zero-fill"),
		})
		if err != nil {
			return err
		}
		return s.Close()
	},
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "list files",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "format", Value: "text", Usage: "output format: text or csv"},
	},
	Action: func(c *cli.Context) error {
		s, err := mountSession(c)
		if err != nil {
			return err
		}
		defer s.Close()

		files, err := s.ListFiles()
		if err != nil {
			return err
		}

		if c.String("format") == "csv" {
			rows := make([]fileRow, 0, len(files))
			for _, f := range files {
				rows = append(rows, newFileRow(f))
			}
			out, err := gocsv.MarshalString(&rows)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		}

		for _, f := range files {
			fmt.Printf("%-32s %10d %s\n", f.Name, f.Size, f.Modified.Format(time.RFC3339))
		}
		return nil
	},
}

var createCommand = &cli.Command{
	Name:      "create",
	Usage:     "create a file from stdin or from a literal argument",
	ArgsUsage: "<name> [data]",
	Action: func(c *cli.Context) error {
		name, data, err := nameAndData(c)
		if err != nil {
			return err
		}
		s, err := mountSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		_, err = s.Create(name, data)
		return err
	},
}

var editCommand = &cli.Command{
	Name:      "edit",
	Usage:     "overwrite a file's content",
	ArgsUsage: "<name> [data]",
	Action: func(c *cli.Context) error {
		name, data, err := nameAndData(c)
		if err != nil {
			return err
		}
		s, err := mountSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		_, err = s.Edit(name, data)
		return err
	},
}

var deleteCommand = &cli.Command{
	Name:      "delete",
	Usage:     "delete a file",
	ArgsUsage: "<name>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 1 {
			return fmt.Errorf("delete: missing <name>")
		}
		s, err := mountSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		return s.Delete(c.Args().First())
	},
}

var readCommand = &cli.Command{
	Name:      "read",
	Usage:     "print a file's content to stdout",
	ArgsUsage: "<name>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 1 {
			return fmt.Errorf("read: missing <name>")
		}
		s, err := mountSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		data, err := s.Read(c.Args().First())
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var snapshotCreateCommand = &cli.Command{
	Name:      "snapshot-create",
	Usage:     "snapshot a file",
	ArgsUsage: "<file> <snapshot-name>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return fmt.Errorf("snapshot-create: need <file> <snapshot-name>")
		}
		s, err := mountSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		_, err = s.CreateSnapshot(c.Args().Get(0), c.Args().Get(1))
		return err
	},
}

var snapshotRestoreCommand = &cli.Command{
	Name:      "snapshot-restore",
	Usage:     "restore a file from a snapshot",
	ArgsUsage: "<file> <snapshot-name>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return fmt.Errorf("snapshot-restore: need <file> <snapshot-name>")
		}
		s, err := mountSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		return s.RestoreSnapshot(c.Args().Get(0), c.Args().Get(1))
	},
}

var snapshotDeleteCommand = &cli.Command{
	Name:      "snapshot-delete",
	Usage:     "delete a snapshot",
	ArgsUsage: "<snapshot-name>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 1 {
			return fmt.Errorf("snapshot-delete: missing <snapshot-name>")
		}
		s, err := mountSession(c)
		if err != nil {
			return err
		}
		defer s.Close()
		return s.DeleteSnapshot(c.Args().First())
	},
}

var snapshotListCommand = &cli.Command{
	Name:  "snapshot-list",
	Usage: "list snapshots",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "format", Value: "text", Usage: "output format: text or csv"},
	},
	Action: func(c *cli.Context) error {
		s, err := mountSession(c)
		if err != nil {
			return err
		}
		defer s.Close()

		entries := s.ListSnapshots()

		if c.String("format") == "csv" {
			rows := make([]snapshotRow, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, newSnapshotRow(e))
			}
			out, err := gocsv.MarshalString(&rows)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%-20s of %-32s (inode %d -> %d) at %s\n",
				e.Name, e.OriginalName, e.OriginalInode, e.SnapshotInode, e.Timestamp.Format(time.RFC3339))
		}
		return nil
	},
}

var fsInfoCommand = &cli.Command{
	Name:  "fs-info",
	Usage: "print filesystem geometry and free-space counters",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "format", Value: "text", Usage: "output format: text or csv"},
	},
	Action: func(c *cli.Context) error {
		s, err := mountSession(c)
		if err != nil {
			return err
		}
		defer s.Close()

		info := s.FSInfo()

		if c.String("format") == "csv" {
			out, err := gocsv.MarshalString(&[]blockimg.FSInfo{info})
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		}

		fmt.Printf("block_size:      %d\n", info.BlockSize)
		fmt.Printf("total_blocks:    %d\n", info.TotalBlocks)
		fmt.Printf("free_blocks:     %d (%.1f%%)\n", info.FreeBlocks, info.FreeBlockPercent)
		fmt.Printf("inode_count:     %d\n", info.InodeCount)
		fmt.Printf("free_inodes:     %d (%.1f%%)\n", info.FreeInodes, info.FreeInodePercent)
		fmt.Printf("snapshot_count:  %d\n", info.SnapshotCount)
		return nil
	},
}

// nameAndData extracts <name> [data] from positional arguments: if data
// is omitted, it's read from stdin, matching asfs.c's getopt handling
// where -c/-e consume the next argv slot but the source reads interactively
// when none is supplied.
func nameAndData(c *cli.Context) (string, []byte, error) {
	if c.Args().Len() < 1 {
		return "", nil, fmt.Errorf("missing <name>")
	}
	name := c.Args().First()
	if c.Args().Len() >= 2 {
		return name, []byte(c.Args().Get(1)), nil
	}
	data, err := readAllStdin()
	if err != nil {
		return "", nil, err
	}
	return name, data, nil
}

func readAllStdin() ([]byte, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}

// fileRow and snapshotRow are the CSV-serializable row shapes for the
// list and snapshot-list commands (SPEC_FULL.md §3).
type fileRow struct {
	Name     string `csv:"name"`
	Inode    uint32 `csv:"inode"`
	Size     uint32 `csv:"size"`
	Created  string `csv:"created"`
	Modified string `csv:"modified"`
	Snapshot bool   `csv:"is_snapshot"`
}

func newFileRow(f *blockimg.Inode) fileRow {
	return fileRow{
		Name:     f.Name,
		Inode:    f.Index,
		Size:     f.Size,
		Created:  f.Created.Format(time.RFC3339),
		Modified: f.Modified.Format(time.RFC3339),
		Snapshot: f.IsSnapshot,
	}
}

type snapshotRow struct {
	ID            uint32 `csv:"snapshot_id"`
	Name          string `csv:"name"`
	OriginalName  string `csv:"original_name"`
	OriginalInode uint32 `csv:"original_inode"`
	SnapshotInode uint32 `csv:"snapshot_inode"`
	Timestamp     string `csv:"timestamp"`
}

func newSnapshotRow(e blockimg.SnapshotEntry) snapshotRow {
	return snapshotRow{
		ID:            e.ID,
		Name:          e.Name,
		OriginalName:  e.OriginalName,
		OriginalInode: e.OriginalInode,
		SnapshotInode: e.SnapshotInode,
		Timestamp:     e.Timestamp.Format(time.RFC3339),
	}
}
