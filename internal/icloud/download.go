package icloud

import (
	"context"
	"io"
	"net/http"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
)

// DownloadAsset issues an HTTP GET against asset.DownloadURL using the
// shared auth cookies, returning a streaming reader, per spec.md §4.4. The
// caller (Sync Engine) is responsible for closing the returned body and
// consuming it into the asset directory.
func (c *Client) DownloadAsset(ctx context.Context, asset Asset) (io.ReadCloser, error) {
	resp, err := c.Do(ctx, http.MethodGet, asset.DownloadURL, nil, nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindICloudError, err, "downloading asset", "recordName", asset.RecordName)
	}

	return resp.Body, nil
}
