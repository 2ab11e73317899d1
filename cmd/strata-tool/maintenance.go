package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/strata/pkg/storage"
	"github.com/cuemby/strata/pkg/strata"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Write a new snapshot of a database's current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		durability, _ := cmd.Flags().GetString("durability")

		db, err := strata.Open(dataDir, storage.Options{Durability: durability})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		path, err := db.Checkpoint()
		if err != nil {
			return fmt.Errorf("checkpointing: %w", err)
		}
		fmt.Printf("wrote snapshot: %s\n", path)
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Compact WAL segments and, optionally, per-run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		durability, _ := cmd.Flags().GetString("durability")
		modeStr, _ := cmd.Flags().GetString("mode")
		tagsStr, _ := cmd.Flags().GetString("tags")

		var mode storage.CompactionMode
		switch modeStr {
		case "wal_only":
			mode = storage.WALOnly
		case "full":
			mode = storage.Full
		default:
			return fmt.Errorf("unknown compaction mode %q (want wal_only or full)", modeStr)
		}

		tags, err := parseTags(tagsStr)
		if err != nil {
			return err
		}

		db, err := strata.Open(dataDir, storage.Options{Durability: durability})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		removed, trimmed, err := db.Compact(mode, tags)
		if err != nil {
			return fmt.Errorf("compacting: %w", err)
		}
		fmt.Printf("removed %d WAL segment(s), trimmed %d key(s) of history\n", len(removed), trimmed)
		return nil
	},
}

func parseTags(s string) ([]storage.PrimitiveTag, error) {
	if s == "" {
		return nil, nil
	}
	var tags []storage.PrimitiveTag
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(name) {
		case "kv":
			tags = append(tags, storage.TagKV)
		case "json":
			tags = append(tags, storage.TagJSON)
		case "event":
			tags = append(tags, storage.TagEvent)
		case "state":
			tags = append(tags, storage.TagState)
		case "run":
			tags = append(tags, storage.TagRun)
		default:
			return nil, fmt.Errorf("unknown tag %q (want kv, json, event, state, or run)", name)
		}
	}
	return tags, nil
}

func init() {
	for _, c := range []*cobra.Command{checkpointCmd, compactCmd} {
		c.Flags().String("data-dir", "", "Database directory")
		c.Flags().String("durability", "strict", "Durability mode to open with (in_memory, buffered, strict)")
		_ = c.MarkFlagRequired("data-dir")
	}
	compactCmd.Flags().String("mode", "wal_only", "Compaction mode: wal_only or full")
	compactCmd.Flags().String("tags", "", "Comma-separated tags to trim history for in full mode (kv,json,event,state,run)")
}
