package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/kvtx/store"
	"github.com/leftmike/kvtx/store/local"
	"github.com/leftmike/kvtx/txn"
)

var (
	recoverCmd = &cobra.Command{
		Use:   "recover version...",
		Short: "Print the undo log of one or more transactions",
		Long: "Recover reads the undo log written by the transactions with the " +
			"given snapshot versions and prints the rows they were writing, so an " +
			"operator can compensate a transaction whose process died mid-commit.",
		Args: cobra.MinimumNArgs(1),
		RunE: recoverRun,
	}

	storeName = "bbolt"
	dataDir   = "data"
)

func init() {
	fs := recoverCmd.Flags()

	fs.StringVar(&storeName, "store", storeName,
		"storage backend: badger, bbolt, or pebble")
	cfgVars["store"] = fs.Lookup("store")

	fs.StringVar(&dataDir, "data", dataDir, "`directory` containing the store")
	cfgVars["data"] = fs.Lookup("data")

	kvtxCmd.AddCommand(recoverCmd)
}

func openClient() (store.Client, error) {
	var kv local.KV
	var err error
	switch storeName {
	case "badger":
		kv, err = local.MakeBadgerKV(dataDir, log.StandardLogger())
	case "bbolt":
		kv, err = local.MakeBBoltKV(dataDir)
	case "pebble":
		kv, err = local.MakePebbleKV(dataDir, log.StandardLogger())
	default:
		return nil, fmt.Errorf("kvtx: got %s for store; want badger, bbolt, or pebble",
			storeName)
	}
	if err != nil {
		return nil, fmt.Errorf("kvtx: %s", err)
	}
	return local.MakeStore(kv)
}

func recoverRun(cmd *cobra.Command, args []string) error {
	client, err := openClient()
	if err != nil {
		return err
	}

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"version", "record", "table", "key"})

	for _, arg := range args {
		version, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("kvtx: version %s: %s", arg, err)
		}

		recs, err := txn.ReadUndoLog(client, version)
		if err != nil {
			return fmt.Errorf("kvtx: %s", err)
		}
		for i, rec := range recs {
			tw.Append([]string{
				strconv.FormatUint(version, 10),
				strconv.Itoa(i),
				strconv.FormatUint(uint64(rec.Table), 10),
				strconv.FormatUint(rec.Key, 10),
			})
		}
	}

	tw.Render()
	return nil
}
