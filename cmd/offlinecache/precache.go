/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func precacheCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "precache",
		Short: "Install the configured cache version and exit",
		Long: "Fetch the asset manifest into the bucket of the configured cache version and delete other buckets. " +
			"Useful with a persistent (Redis) cache storage",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.precache(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) precache(ctx context.Context, w io.Writer) error {
	if err := a.waitStorage(ctx); err != nil {
		return err
	}
	worker, err := a.registerCurrent(ctx)
	if err != nil {
		return fmt.Errorf("install cache %q: %w", a.cfg.Cache.Version, err)
	}
	a.waitPendingWrites()
	_, err = fmt.Fprintf(w, "cache %q is %s\n", worker.Version(), a.registration.State(worker))
	return err
}
