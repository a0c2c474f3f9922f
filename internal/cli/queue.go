// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/markobbzbl/sportbuddy-mobile-1/kvstore"
	"github.com/markobbzbl/sportbuddy-mobile-1/queue"
	"github.com/markobbzbl/sportbuddy-mobile-1/reconcile"
)

// QueueOptions holds flags for the queue command.
type QueueOptions struct {
	*RootOptions
	DataFile string
	Clear    bool
}

// QueueReport is the JSON form of the queue command output.
type QueueReport struct {
	DataFile   string            `json:"data_file"`
	Operations []queue.Operation `json:"operations"`
	LocalOnly  int               `json:"local_only_offers"`
	Cleared    bool              `json:"cleared,omitempty"`
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the pending operations of a device database",
		Long: `List the operations waiting in a device's mutation queue, oldest first.

Examples:
  sportbuddy queue --data ./sportbuddy.db
  sportbuddy queue --data ./sportbuddy.db --format json
  sportbuddy queue --data ./sportbuddy.db --clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.DataFile, "data", "", "device database file (overrides client.data_file)")
	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "discard every pending operation")
	return cmd
}

func runQueue(ctx context.Context, out io.Writer, opts *QueueOptions) error {
	path := opts.DataFile
	if path == "" {
		path = opts.Config.Client.DataFile
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("device database %s not found", path)
		}
		return err
	}

	store, err := kvstore.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer store.Close()

	q, err := queue.Open(ctx, store, queue.WithLogger(opts.Logger))
	if err != nil {
		return err
	}
	rep := QueueReport{
		DataFile:   path,
		Operations: q.Snapshot(),
		LocalOnly:  len(reconcile.New(ctx, store, opts.Logger).LocalOnly()),
	}
	if opts.Clear {
		if err := q.Clear(ctx); err != nil {
			return err
		}
		rep.Cleared = true
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	fmt.Fprintf(out, "%s: %d pending operations, %d local-only offers\n", rep.DataFile, len(rep.Operations), rep.LocalOnly)
	if len(rep.Operations) > 0 {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tENTITY\tRETRIES\tENQUEUED\tPAYLOAD")
		for _, op := range rep.Operations {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				op.ID, op.Kind, op.Entity, op.RetryCount, op.EnqueuedAt.Format(time.RFC3339), op.Payload)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if rep.Cleared {
		fmt.Fprintln(out, "queue cleared")
	}
	return nil
}
