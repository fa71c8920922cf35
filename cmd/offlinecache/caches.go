/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/acronis/go-offlinecache/cachestorage"
)

func cachesCmd(cfgPath *string) *cobra.Command {
	var showEntries bool
	cmd := &cobra.Command{
		Use:   "caches",
		Short: "List cache buckets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			if err = a.waitStorage(cmd.Context()); err != nil {
				return err
			}
			return printCaches(cmd.Context(), cmd.OutOrStdout(), a.storage, showEntries)
		},
	}
	cmd.Flags().BoolVar(&showEntries, "entries", false, "Print entries of every bucket")
	return cmd
}

type bucketSummary struct {
	name    string
	entries []*cachestorage.Entry
	size    int
}

func summarizeBucket(ctx context.Context, storage cachestorage.Storage, name string) (bucketSummary, error) {
	summary := bucketSummary{name: name}
	bucket, err := storage.Open(ctx, name)
	if err != nil {
		return summary, err
	}
	keys, err := bucket.Keys(ctx)
	if err != nil {
		return summary, err
	}
	for _, key := range keys {
		entry, found, err := bucket.Match(ctx, key)
		if err != nil {
			return summary, err
		}
		if !found {
			continue // Deleted concurrently.
		}
		summary.entries = append(summary.entries, entry)
		summary.size += entry.Size()
	}
	return summary, nil
}

func printCaches(ctx context.Context, w io.Writer, storage cachestorage.Storage, showEntries bool) error {
	names, err := storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list cache buckets: %w", err)
	}
	if len(names) == 0 {
		_, err = fmt.Fprintln(w, "no caches")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENTRIES\tSIZE")
	summaries := make([]bucketSummary, 0, len(names))
	for _, name := range names {
		summary, err := summarizeBucket(ctx, storage, name)
		if err != nil {
			return fmt.Errorf("read cache bucket %q: %w", name, err)
		}
		summaries = append(summaries, summary)
		fmt.Fprintf(tw, "%s\t%d\t%s\n", name, len(summary.entries), humanize.Bytes(uint64(summary.size)))
	}
	if err = tw.Flush(); err != nil {
		return err
	}
	if !showEntries {
		return nil
	}

	for _, summary := range summaries {
		fmt.Fprintf(w, "\n%s:\n", summary.name)
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, entry := range summary.entries {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\t%s\n", entry.Method, entry.URL, entry.StatusCode,
				humanize.Bytes(uint64(entry.Size())), humanize.Time(entry.StoredAt))
		}
		if err = tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
