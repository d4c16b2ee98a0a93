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

// pageSize is the per-request page size requested from the query endpoint.
// Unrelated to the server-enforced per-logical-query ceiling below.
const pageSize = 200

// recordCeiling is the observed per-logical-query record ceiling the iCloud
// CloudKit-style API enforces (SPEC_FULL.md §4.4). Approaching it means the
// query must be re-issued sharded by an indexed predicate instead of
// trusting pagination alone.
const recordCeiling = 66000

// shardThreshold is the fraction of recordCeiling at which Query shards a
// logical query by predicate rather than waiting for the hard cap, per the
// Open Question decision recorded in DESIGN.md.
const shardThreshold = 0.90

type recordField struct {
	Value any    `json:"value"`
	Type  string `json:"type,omitempty"`
}

type cplRecord struct {
	RecordName string                 `json:"recordName"`
	RecordType string                 `json:"recordType"`
	Fields     map[string]recordField `json:"fields"`
	Deleted    bool                   `json:"deleted"`
}

type queryRequestBody struct {
	Query struct {
		RecordType string          `json:"recordType"`
		FilterBy   []filterClause  `json:"filterBy,omitempty"`
	} `json:"query"`
	ResultsLimit        int            `json:"resultsLimit"`
	ZoneID              zoneID         `json:"zoneID"`
	DesiredKeys         []string       `json:"desiredKeys,omitempty"`
	ContinuationMarker  string         `json:"continuationMarker,omitempty"`
}

type filterClause struct {
	FieldName   string      `json:"fieldName"`
	ComparatorType string   `json:"comparator"`
	FieldValue  recordField `json:"fieldValue"`
}

type zoneID struct {
	ZoneName string `json:"zoneName"`
}

type queryResponseBody struct {
	Records            []cplRecord `json:"records"`
	ContinuationMarker string      `json:"continuationMarker"`
}

// Query issues logical, fully-paginated queries against the CloudKit
// record-query endpoint, per spec.md §4.4. queryOnce stops with
// errApproachingCeiling once a run reaches shardThreshold of recordCeiling;
// FetchAllCPLAssets answers that by re-issuing the live-asset query sharded
// by album UUID. The album queries do not reshard: for them the signal is
// returned as an error.
type Query struct {
	client *Client
	domain string
}

// NewQuery constructs a Query bound to the per-account photos domain
// discovered during setup (session.PhotosDomain()).
func NewQuery(client *Client, domain string) *Query {
	return &Query{client: client, domain: domain}
}

// queryOnce runs one paginated logical query to exhaustion and returns all
// records. filterBy may be nil.
func (q *Query) queryOnce(ctx context.Context, recordType string, filterBy []filterClause, desiredKeys []string) ([]cplRecord, error) {
	var (
		all     []cplRecord
		marker  string
	)

	for {
		body := queryRequestBody{
			ResultsLimit: pageSize,
			ZoneID:       zoneID{ZoneName: "PrimarySync"},
			DesiredKeys:  desiredKeys,
		}
		body.Query.RecordType = recordType
		body.Query.FilterBy = filterBy
		body.ContinuationMarker = marker

		payload, err := json.Marshal(body)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindICloudError, err, "encoding query request")
		}

		url := fmt.Sprintf("%s/database/1/com.apple.photos.cloud/production/private/records/query", q.domain)

		resp, err := q.client.Do(ctx, http.MethodPost, url, bytes.NewReader(payload), http.Header{"Content-Type": {"application/json"}})
		if err != nil {
			return nil, apperror.Wrap(apperror.KindICloudError, err, "query request failed", "recordType", recordType)
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()

		if err != nil {
			return nil, apperror.Wrap(apperror.KindICloudError, err, "reading query response")
		}

		var parsed queryResponseBody
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, apperror.Wrap(apperror.KindICloudError, err, "decoding query response")
		}

		all = append(all, parsed.Records...)

		if len(all) >= int(float64(recordCeiling)*shardThreshold) {
			return nil, errApproachingCeiling{count: len(all)}
		}

		if parsed.ContinuationMarker == "" {
			return all, nil
		}

		marker = parsed.ContinuationMarker
	}
}

// errApproachingCeiling signals queryOnce hit shardThreshold; callers that
// can shard (by a per-predicate value, e.g. album UUID) should retry
// queryOnce once per shard instead of treating this as fatal.
type errApproachingCeiling struct{ count int }

func (e errApproachingCeiling) Error() string {
	return fmt.Sprintf("icloud: logical query approaching record ceiling at %d records", e.count)
}

// queryByShards runs queryOnce for each predicate value in shardKeys,
// concatenating results. FetchAllCPLAssets falls back to it when its
// unsharded queryOnce attempt reports errApproachingCeiling.
func (q *Query) queryByShards(ctx context.Context, recordType string, desiredKeys []string, shardField string, shardKeys []string) ([]cplRecord, error) {
	var all []cplRecord

	for _, key := range shardKeys {
		filter := []filterClause{{
			FieldName:      shardField,
			ComparatorType: "EQUALS",
			FieldValue:     recordField{Value: key},
		}}

		recs, err := q.queryOnce(ctx, recordType, filter, desiredKeys)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindICloudError, err, "sharded query failed", "shardKey", key)
		}

		all = append(all, recs...)
	}

	return all, nil
}

// WarmUp issues a single cheap query against the photos endpoint, per
// spec.md §4.3's SETUP_DONE → READY transition: success here is the only
// evidence the freshly-established cookies and photosDomain actually work
// before the rest of the system relies on them.
func (q *Query) WarmUp(ctx context.Context) error {
	filter := []filterClause{{
		FieldName:      "parentId",
		ComparatorType: "EQUALS",
		FieldValue:     recordField{Value: rootFolderUUID},
	}}

	if _, err := q.queryOnce(ctx, "CPLAlbumByPositionLive", filter, []string{"recordName"}); err != nil {
		if _, approaching := err.(errApproachingCeiling); approaching {
			return nil
		}

		return apperror.Wrap(apperror.KindAuthError, err, "warm-up query failed")
	}

	return nil
}
