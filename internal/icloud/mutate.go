package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/icloud-photos-sync/icloud-photos-sync-go/internal/apperror"
)

const modifyRecordsURLFormat = "%s/database/1/com.apple.photos.cloud/production/private/records/modify"

type mutateRequestBody struct {
	Operations []recordOperation `json:"operations"`
	ZoneID     zoneID            `json:"zoneID"`
}

type recordOperation struct {
	OperationType string        `json:"operationType"`
	Record        mutateRecord  `json:"record"`
}

type mutateRecord struct {
	RecordName string `json:"recordName"`
	RecordType string `json:"recordType,omitempty"`
}

// DeleteAsset issues a CloudKit "forceDelete" mutation against the asset
// master record, used by the Archive Engine's --remote-delete path
// (spec.md §4.6 step 4). Grounded on the teacher's DeleteItem
// (internal/graph/items.go), generalized from a REST DELETE to a CloudKit
// record mutation operation.
func (q *Query) DeleteAsset(ctx context.Context, recordName string) error {
	body := mutateRequestBody{
		Operations: []recordOperation{{
			OperationType: "forceDelete",
			Record:        mutateRecord{RecordName: recordName},
		}},
		ZoneID: zoneID{ZoneName: "PrimarySync"},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return apperror.Wrap(apperror.KindArchiveWarning, err, "encoding delete mutation")
	}

	url := fmt.Sprintf(modifyRecordsURLFormat, q.domain)

	resp, err := q.client.Do(ctx, http.MethodPost, url, bytes.NewReader(payload), nil)
	if err != nil {
		return apperror.Wrap(apperror.KindArchiveWarning, err, "delete mutation request failed", "recordName", recordName)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return apperror.Wrap(apperror.KindArchiveWarning, err, "draining delete mutation response")
	}

	return nil
}
