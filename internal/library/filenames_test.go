package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/icloud"
)

func TestPrettyFilename_Original(t *testing.T) {
	asset := icloud.Asset{
		RecordName:       "rec-1",
		FileType:         "public.jpeg",
		OriginalFilename: "IMG_1234",
		Origin:           icloud.OriginOriginal,
	}

	name, err := PrettyFilename(asset)
	require.NoError(t, err)
	assert.Equal(t, "IMG_1234.jpeg", name)
}

func TestPrettyFilename_EditedSuffix(t *testing.T) {
	asset := icloud.Asset{
		RecordName:       "rec-2",
		FileType:         "public.jpeg",
		OriginalFilename: "IMG_1234",
		Origin:           icloud.OriginEdit,
	}

	name, err := PrettyFilename(asset)
	require.NoError(t, err)
	assert.Equal(t, "IMG_1234-edited.jpeg", name)
}

func TestPrettyFilename_LiveSuffix(t *testing.T) {
	asset := icloud.Asset{
		RecordName:       "rec-3",
		FileType:         "com.apple.quicktime-movie",
		OriginalFilename: "IMG_5678",
		Origin:           icloud.OriginLive,
	}

	name, err := PrettyFilename(asset)
	require.NoError(t, err)
	assert.Equal(t, "IMG_5678-live.mov", name)
}

func TestPrettyFilename_FallsBackToRecordName(t *testing.T) {
	asset := icloud.Asset{
		RecordName: "rec-4",
		FileType:   "public.jpeg",
	}

	name, err := PrettyFilename(asset)
	require.NoError(t, err)
	assert.Equal(t, "rec-4.jpeg", name)
}

func TestPrettyFilename_UnknownFileType(t *testing.T) {
	asset := icloud.Asset{
		RecordName: "rec-5",
		FileType:   "application/unknown-format",
	}

	_, err := PrettyFilename(asset)
	assert.Error(t, err)
}
