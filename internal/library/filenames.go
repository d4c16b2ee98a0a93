package library

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
)

// PrettyFilename derives the human-readable in-album filename for an asset:
// base name + optional "-edited"/"-live" origin suffix + extension, per
// spec.md §4.2. Unicode-normalized (NFC) so filenames compare stably across
// the platforms the remote library may have been captured on.
func PrettyFilename(asset icloud.Asset) (string, error) {
	ext, ok := icloud.Ext(asset.FileType)
	if !ok {
		return "", fmt.Errorf("library: unrecognized fileType %q for asset %s", asset.FileType, asset.RecordName)
	}

	base := asset.OriginalFilename
	if base == "" {
		base = asset.RecordName
	}

	base = norm.NFC.String(strings.TrimSpace(base))

	switch asset.Origin {
	case icloud.OriginEdit:
		base += "-edited"
	case icloud.OriginLive:
		base += "-live"
	}

	return base + "." + ext, nil
}
