// Command hummockctl operates an embedded, in-process storage engine
// from the shell: write/read key-value pairs, trigger a compaction or
// vacuum pass, and inspect the current manifest.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/spf13/cobra"

	"github.com/hummockdb/hummock"
	"github.com/hummockdb/hummock/internal/objectstore"
	"github.com/hummockdb/hummock/internal/sharedbuffer"
	"github.com/hummockdb/hummock/internal/sstable"
	"github.com/hummockdb/hummock/pkg/config"
	"github.com/hummockdb/hummock/pkg/logging"
)

var (
	configPath      string
	recoveryDir     string
	s3Bucket        string
	s3Region        string
	s3Endpoint      string
	logLevel        string
	nodeID          uint64
	compressionAlgo string
	checksumAlgo    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hummockctl",
		Short: "Operate an embedded Hummock storage engine",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&recoveryDir, "recovery-dir", "./hummock-recovery", "directory for the shared-buffer recovery log")
	root.PersistentFlags().StringVar(&s3Bucket, "s3-bucket", "", "S3(-compatible) bucket backing SSTs; if empty, an in-memory store is used and nothing survives past this invocation")
	root.PersistentFlags().StringVar(&s3Region, "s3-region", "us-east-1", "S3 region")
	root.PersistentFlags().StringVar(&s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint override (MinIO, etc.)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	root.PersistentFlags().Uint64Var(&nodeID, "node-id", 1, "this process's SST-id node component")
	root.PersistentFlags().StringVar(&compressionAlgo, "compression", "", "override compression_algorithm (none, lz4); empty keeps the config file/default")
	root.PersistentFlags().StringVar(&checksumAlgo, "checksum-algorithm", "", "override checksum_algorithm (xxhash64, crc32c); empty keeps the config file/default")

	root.AddCommand(
		newPutCmd(),
		newGetCmd(),
		newSyncCmd(),
		newCompactCmd(),
		newVacuumCmd(),
		newDumpVersionCmd(),
	)
	return root
}

func openEngine() (*hummock.Engine, error) {
	log, err := logging.New(logging.Config{Level: logLevel})
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if compressionAlgo != "" {
		cfg.CompressionAlgorithm = config.CompressionAlgorithm(compressionAlgo)
	}
	if checksumAlgo != "" {
		cfg.ChecksumAlgorithm = config.ChecksumAlgorithm(checksumAlgo)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var objects objectstore.Store
	if s3Bucket != "" {
		sess, err := session.NewSession()
		if err != nil {
			return nil, err
		}
		objects, err = objectstore.NewS3Store(sess, objectstore.S3Config{
			Bucket:   s3Bucket,
			Region:   s3Region,
			Endpoint: s3Endpoint,
		})
		if err != nil {
			return nil, err
		}
	} else {
		objects = objectstore.NewMemStore()
	}

	return hummock.Open(cfg, nodeID, objects, recoveryDir, log)
}

func newPutCmd() *cobra.Command {
	var deleteFlag bool
	cmd := &cobra.Command{
		Use:   "put <key> <epoch> [value]",
		Short: "Write a key at an epoch and sync it immediately",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parse epoch: %w", err)
			}
			value := sstable.Value{Kind: sstable.KindPut}
			if deleteFlag {
				value.Kind = sstable.KindDelete
			} else {
				if len(args) < 3 {
					return fmt.Errorf("value is required unless --delete is set")
				}
				value.Payload = []byte(args[2])
			}

			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			entry := sharedbuffer.BatchEntry{UserKey: []byte(args[0]), Value: value}
			if err := e.Write(epoch, []sharedbuffer.BatchEntry{entry}); err != nil {
				return err
			}
			return e.SyncEpoch(cmd.Context(), epoch)
		},
	}
	cmd.Flags().BoolVar(&deleteFlag, "delete", false, "write a tombstone instead of a value")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key> <epoch>",
		Short: "Read a key's value visible at a snapshot epoch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parse epoch: %w", err)
			}

			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			v, err := e.Get(cmd.Context(), []byte(args[0]), epoch)
			if err != nil {
				return err
			}
			fmt.Println(string(v.Payload))
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <epoch>",
		Short: "Flush an epoch's shared-buffer writes to SSTs and commit them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parse epoch: %w", err)
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			return e.SyncEpoch(cmd.Context(), epoch)
		},
	}
}

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Run one available compaction task, if the manifest currently offers one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			ran, err := e.RunCompaction(cmd.Context())
			if err != nil {
				return err
			}
			if !ran {
				fmt.Println("no compaction task available")
				return nil
			}
			fmt.Println("compaction task completed")
			return nil
		},
	}
}

func newVacuumCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Reclaim SSTs the manifest no longer references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			if full {
				deleted, err := e.RunFullGC(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("full gc deleted %d blob(s)\n", deleted)
				return nil
			}
			if err := e.VacuumTrackedMetadata(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("tracked vacuum pass complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "list the object store directly instead of relying on tracked stale-SST metadata")
	return cmd
}

func newDumpVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-version",
		Short: "Print the current version's level contents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			ver, err := e.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("version %d, max_committed_epoch %d\n", ver.ID, ver.MaxCommittedEpoch)

			levels := make([]int, 0, len(ver.Levels))
			for level := range ver.Levels {
				levels = append(levels, level)
			}
			sort.Ints(levels)

			for _, level := range levels {
				tables := ver.Levels[level]
				if len(tables) == 0 {
					continue
				}
				fmt.Printf("L%d: %d table(s)\n", level, len(tables))
				for _, t := range tables {
					fmt.Printf("  %s  [%s, %s]  %d bytes\n",
						t.ID, hex.EncodeToString(t.SmallestKey), hex.EncodeToString(t.LargestKey), t.FileSize)
				}
			}
			return nil
		},
	}
}
