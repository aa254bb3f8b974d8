package daemon

import (
	"context"
	"fmt"

	"github.com/g960059/itch/internal/background"
	"github.com/g960059/itch/internal/logging"
)

// QueueReader is the persistence SeedPlaylist reads from.
type QueueReader interface {
	ReadQueue(ctx context.Context) ([]string, error)
}

// SeedPlaylist returns the saved playlist, or the images found in dir when
// nothing was saved. A missing dir yields an empty playlist.
func SeedPlaylist(ctx context.Context, store QueueReader, dir string) ([]string, error) {
	log := logging.Component("daemon")
	items, err := store.ReadQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("read saved playlist: %w", err)
	}
	if len(items) > 0 {
		log.Info().Int("items", len(items)).Msg("restored saved playlist")
		return items, nil
	}
	scanned, err := background.Scan(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("backgrounds dir unreadable, starting empty")
		return []string{}, nil
	}
	log.Info().Int("items", len(scanned)).Str("dir", dir).Msg("seeded playlist from backgrounds dir")
	return scanned, nil
}
