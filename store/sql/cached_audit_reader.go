package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-debouncer/core"
)

const auditHistoryCacheKeyPrefix = "go-debouncer::audit_history::v1"

// CachedAuditReader serves dashboard history reads through a short-lived
// cache so polling dashboards do not hit the audit table on every refresh.
type CachedAuditReader struct {
	base  core.AuditReader
	cache repositorycache.CacheService
}

func NewCachedAuditReader(
	base core.AuditReader,
	cacheService repositorycache.CacheService,
) (*CachedAuditReader, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base audit reader is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: audit cache service is required")
	}
	return &CachedAuditReader{base: base, cache: cacheService}, nil
}

// AuditHistoryCacheKey returns
// go-debouncer::audit_history::v1::<conversation_id>::<limit>
// with the conversation id URL-path escaped.
func AuditHistoryCacheKey(conversationID string, limit int) (string, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", core.ErrConversationIDRequired
	}
	return strings.Join([]string{
		auditHistoryCacheKeyPrefix,
		url.PathEscape(conversationID),
		strconv.Itoa(limit),
	}, "::"), nil
}

func (r *CachedAuditReader) History(ctx context.Context, conversationID string, limit int) ([]core.AuditRecord, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached audit reader is not configured")
	}
	cacheKey, err := AuditHistoryCacheKey(conversationID, limit)
	if err != nil {
		return nil, err
	}
	records, err := repositorycache.GetOrFetch(ctx, r.cache, cacheKey, func(ctx context.Context) ([]core.AuditRecord, error) {
		return r.base.History(ctx, strings.TrimSpace(conversationID), limit)
	})
	if err != nil {
		return nil, err
	}
	return cloneAuditRecords(records), nil
}

func cloneAuditRecords(records []core.AuditRecord) []core.AuditRecord {
	out := make([]core.AuditRecord, 0, len(records))
	for _, record := range records {
		cloned := record
		cloned.Payload = core.CloneMetadata(record.Payload)
		if record.Response != nil {
			cloned.Response = core.CloneMetadata(record.Response)
		}
		out = append(out, cloned)
	}
	return out
}

var _ core.AuditReader = (*CachedAuditReader)(nil)
