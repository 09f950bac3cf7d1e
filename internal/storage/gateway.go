// Package storage composes the catalog and the media tree.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
	"github.com/JakeFAU/post-archiver/internal/storage/local"
)

// Gateway is the single writer of persisted state that spans catalog rows and media files.
type Gateway struct {
	catalog archive.Catalog
	media   archive.MediaStore
	logger  *zap.Logger
}

// NewGateway constructs a Gateway.
func NewGateway(catalog archive.Catalog, media archive.MediaStore, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{catalog: catalog, media: media, logger: logger}
}

// DeletePost removes a post item (or the whole post when index is nil) from the
// catalog and then deletes the removed items' media and thumbnail files.
func (g *Gateway) DeletePost(ctx context.Context, shortcode string, index *int) (archive.PostDeletion, error) {
	out, err := g.catalog.DeletePostItems(ctx, shortcode, index)
	if err != nil {
		return archive.PostDeletion{}, err
	}
	var errs []error
	for _, item := range out.Removed {
		errs = append(errs, g.media.Remove(local.PostPath(out.Post.Username, item.Filename)))
		if item.ThumbFilename != nil {
			errs = append(errs, g.media.Remove(local.ThumbPath(out.Post.Username, *item.ThumbFilename)))
		}
	}
	if err := errors.Join(errs...); err != nil {
		g.logger.Warn("media cleanup incomplete",
			zap.String("shortcode", shortcode),
			zap.Error(err),
		)
		return out, fmt.Errorf("remove media for %s: %w", shortcode, err)
	}
	g.logger.Info("post deleted",
		zap.String("shortcode", shortcode),
		zap.Int("items_removed", len(out.Removed)),
		zap.Bool("post_deleted", out.PostDeleted),
	)
	return out, nil
}
