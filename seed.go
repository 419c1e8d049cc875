/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Seednode/icebox/games/content"
	"github.com/Seednode/icebox/storage"
)

func newSeedCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed group...",
		Short: "Copy the built-in game content into the database for each group.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.dbDSN == "" {
				return errors.New("seeding requires --db-dsn")
			}
			if err := cfg.validateDB(); err != nil {
				return err
			}

			store, err := storage.Open(cmd.Context(), cfg.dbDriver, cfg.dbDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, group := range args {
				if err := seedGroup(cmd.Context(), store, group); err != nil {
					return fmt.Errorf("seed group %q: %w", group, err)
				}

				logf(cfg, "SEED: Stored built-in content for group %s", group)
			}

			return nil
		},
	}
}

func seedGroup(ctx context.Context, store *storage.Store, group string) error {
	if err := store.AddMediaPairs(ctx, group, content.MediaKeys()...); err != nil {
		return err
	}

	if err := store.AddWords(ctx, group, content.Words()...); err != nil {
		return err
	}

	// polls get new ids every time, so only a group without any is seeded
	stored, err := store.Polls(ctx, group)
	if err != nil {
		return err
	}
	if len(stored) > 0 {
		return nil
	}

	polls, err := content.Icebreakers(group)
	if err != nil {
		return err
	}

	for _, p := range polls {
		if err := store.SavePoll(ctx, p); err != nil {
			return err
		}
	}

	return nil
}
