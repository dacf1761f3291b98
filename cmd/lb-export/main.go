// Command lb-export writes finalized reward epochs from an lbpaird snapshot
// directory to disk. Run it against a stopped daemon or a copy of its
// snapshot store since LevelDB holds an exclusive lock.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"liquiditybook/integrations/exports"
	"liquiditybook/native/lb"
	"liquiditybook/storage"
)

type manifestEntry struct {
	Pair     string `json:"pair"`
	Epoch    uint64 `json:"epoch"`
	Format   string `json:"format"`
	File     string `json:"file"`
	Rows     int    `json:"rows"`
	Checksum string `json:"sha256"`
}

func main() {
	snapshotPath := flag.String("snapshots", "/var/data/lbpaird/snapshots", "Path to the lbpaird LevelDB snapshot store")
	pairName := flag.String("pair", "", "Pair to export (default: every stored pair)")
	epochArg := flag.String("epoch", "latest", "Epoch index to export or \"latest\"")
	formatArg := flag.String("format", "csv", "Export format: csv, jsonl or parquet")
	outDir := flag.String("out", ".", "Directory receiving the export files")
	flag.Parse()

	format := exports.Format(strings.ToLower(strings.TrimSpace(*formatArg)))
	switch format {
	case exports.FormatCSV, exports.FormatJSONL, exports.FormatParquet:
	default:
		fail("unsupported format %q", *formatArg)
	}

	var index *uint64
	if *epochArg != "latest" {
		v, err := strconv.ParseUint(*epochArg, 10, 64)
		if err != nil {
			fail("invalid epoch %q: %v", *epochArg, err)
		}
		index = &v
	}

	db, err := storage.NewLevelDB(*snapshotPath)
	if err != nil {
		fail("open snapshot store: %v", err)
	}
	defer db.Close()
	store := lb.NewSnapshotStore(db)

	names := []string{*pairName}
	if *pairName == "" {
		if names, err = store.Names(); err != nil {
			fail("list pairs: %v", err)
		}
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fail("create output directory: %v", err)
	}

	manifest := make([]manifestEntry, 0, len(names))
	for _, name := range names {
		entry, ok, err := exportPair(store, name, index, format, *outDir)
		if err != nil {
			fail("pair %s: %v", name, err)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "pair %s: epoch is empty, skipped\n", name)
			continue
		}
		manifest = append(manifest, entry)
	}

	output, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		fail("encode manifest: %v", err)
	}
	fmt.Println(string(output))
}

func exportPair(store *lb.SnapshotStore, name string, index *uint64, format exports.Format, dir string) (manifestEntry, bool, error) {
	pair, err := store.Load(name, nil)
	if err != nil {
		return manifestEntry{}, false, err
	}
	epoch, err := pair.RewardsDistribution(index)
	if err != nil {
		return manifestEntry{}, false, err
	}
	if epoch.Empty {
		return manifestEntry{}, false, nil
	}
	rows, err := exports.EpochRows(name, pair.BinStep(), epoch)
	if err != nil {
		return manifestEntry{}, false, err
	}
	data, sum, err := exports.Encode(format, rows)
	if err != nil {
		return manifestEntry{}, false, err
	}
	file := filepath.Join(dir, fmt.Sprintf("%s-epoch-%d.%s", name, epoch.Index, format))
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return manifestEntry{}, false, err
	}
	return manifestEntry{
		Pair:     name,
		Epoch:    epoch.Index,
		Format:   string(format),
		File:     file,
		Rows:     len(rows),
		Checksum: sum,
	}, true, nil
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "lb-export: "+format+"\n", args...)
	os.Exit(1)
}
