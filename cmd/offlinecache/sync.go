/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acronis/go-offlinecache/swcache"
	"github.com/acronis/go-offlinecache/swhost"
)

func syncCmd(cfgPath *string) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Dispatch a sync event to the cache manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.sync(cmd.Context(), tag)
		},
	}
	cmd.Flags().StringVar(&tag, "tag", swcache.SyncTagData, "Sync tag")
	return cmd
}

// sync dispatches the sync event to a manager of the configured cache version.
// The cache is neither installed nor activated, so buckets and the network are left untouched.
func (a *app) sync(ctx context.Context, tag string) error {
	if tag == "" {
		return fmt.Errorf("sync tag cannot be empty")
	}
	manager, err := a.createManager(a.cfg.Cache)
	if err != nil {
		return err
	}
	if err = manager.OnSync(ctx, &swhost.SyncEvent{Tag: tag}); err != nil {
		return fmt.Errorf("sync %q: %w", tag, err)
	}
	return nil
}
