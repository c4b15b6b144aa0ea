package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

const defaultHistoryLimit = 50

// Service is the ingest and read boundary of the pipeline. Background
// processing lives in the expiry and delivery packages.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	observer        Observer
	bufferStore     BufferStore
	queue           *DeliveryQueue
	holdStore       HoldStore
	auditReader     AuditReader
	now             func() time.Time
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	BufferStore     BufferStore
	QueueStore      QueueStore
	HoldStore       HoldStore
	AuditReader     AuditReader
	Now             func() time.Time
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("debouncer", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("debouncer"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = time.Now
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.storeProvider != nil {
		if builder.bufferStore == nil {
			builder.bufferStore = builder.storeProvider.BufferStore()
		}
		if builder.queueStore == nil {
			builder.queueStore = builder.storeProvider.QueueStore()
		}
		if builder.holdStore == nil {
			builder.holdStore = builder.storeProvider.HoldStore()
		}
		if builder.auditReader == nil {
			builder.auditReader = builder.storeProvider.AuditReader()
		}
	}
	if builder.bufferStore == nil {
		return nil, mapBuildError(builder.errorMapper, DependencyError("core: buffer store is required"))
	}
	if builder.queueStore == nil {
		return nil, mapBuildError(builder.errorMapper, DependencyError("core: queue store is required"))
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		observer:        NewObserver(logger, builder.metricsRecorder),
		bufferStore:     builder.bufferStore,
		queue:           NewDeliveryQueue(builder.queueStore),
		holdStore:       builder.holdStore,
		auditReader:     builder.auditReader,
		now:             builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		BufferStore:     s.bufferStore,
		QueueStore:      s.queue.Store(),
		HoldStore:       s.holdStore,
		AuditReader:     s.auditReader,
		Now:             s.now,
	}
}

// DefaultTTLSeconds is the debounce window applied when the ingest caller
// does not supply one.
func (s *Service) DefaultTTLSeconds() int {
	if s == nil || s.config.Debounce.DefaultTTLSeconds <= 0 {
		return DefaultTTLSeconds
	}
	return s.config.Debounce.DefaultTTLSeconds
}

// AppendMessage adds a message to the conversation window and resets its
// inactivity timer. Metadata replaces whatever the buffer held before.
func (s *Service) AppendMessage(ctx context.Context, req AppendRequest) (buffer ConversationBuffer, err error) {
	startedAt := time.Now().UTC()
	conversationID := strings.TrimSpace(req.ConversationID)
	fields := map[string]any{
		"conversation_id": conversationID,
		"ttl_seconds":     req.TTLSeconds,
	}
	defer func() {
		if err == nil {
			fields["messages"] = len(buffer.Messages)
			fields["revision"] = buffer.Revision
		}
		s.observer.Observe(ctx, startedAt, "append_message", err, fields)
	}()

	if conversationID == "" {
		err = s.mapError(BadInputError("core: conversation id is required", nil))
		return ConversationBuffer{}, err
	}
	if isEmptyMessage(req.Message) {
		err = s.mapError(BadInputError("core: message is required", map[string]any{
			"conversation_id": conversationID,
		}))
		return ConversationBuffer{}, err
	}
	if req.TTLSeconds <= 0 {
		err = s.mapError(ConfigError("core: ttl must be positive", map[string]any{
			"conversation_id": conversationID,
			"ttl_seconds":     req.TTLSeconds,
		}))
		return ConversationBuffer{}, err
	}

	metadata := NormalizeMetadata(req.Metadata)
	ttl := time.Duration(req.TTLSeconds) * time.Second
	buffer, err = s.bufferStore.Append(ctx, conversationID, req.Message, metadata, ttl)
	if err != nil {
		if !IsConfigError(err) {
			err = StoreUnavailableError(err, "core: append message failed", map[string]any{
				"conversation_id": conversationID,
			})
		}
		err = s.mapError(err)
		return ConversationBuffer{}, err
	}
	return buffer, nil
}

// AuditHistory returns the newest attempts for a conversation, newest first.
func (s *Service) AuditHistory(ctx context.Context, conversationID string, limit int) (records []AuditRecord, err error) {
	startedAt := time.Now().UTC()
	conversationID = strings.TrimSpace(conversationID)
	fields := map[string]any{"conversation_id": conversationID}
	defer func() {
		fields["records"] = len(records)
		s.observer.Observe(ctx, startedAt, "audit_history", err, fields)
	}()

	if conversationID == "" {
		err = s.mapError(BadInputError("core: conversation id is required", nil))
		return nil, err
	}
	if s.auditReader == nil {
		err = s.mapError(DependencyError("core: audit reader is required"))
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	records, err = s.auditReader.History(ctx, conversationID, limit)
	if err != nil {
		err = s.mapError(StoreUnavailableError(err, "core: audit history failed", map[string]any{
			"conversation_id": conversationID,
		}))
		return nil, err
	}
	return records, nil
}

// QueueStatus reports, per conversation, the queued batch depth, the buffered
// message count with remaining TTL and any pending retry deadline.
func (s *Service) QueueStatus(ctx context.Context) (statuses []QueueStatus, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["conversations"] = len(statuses)
		s.observer.Observe(ctx, startedAt, "queue_status", err, fields)
	}()

	now := s.now()
	byID := map[string]*QueueStatus{}
	entry := func(id string) *QueueStatus {
		if status, ok := byID[id]; ok {
			return status
		}
		status := &QueueStatus{ConversationID: id}
		byID[id] = status
		return status
	}

	pending, err := s.queue.Pending(ctx)
	if err != nil {
		err = s.mapError(err)
		return nil, err
	}
	for _, id := range pending {
		depth, depthErr := s.queue.Depth(ctx, id)
		if depthErr != nil {
			err = s.mapError(depthErr)
			return nil, err
		}
		entry(id).Depth = depth
	}

	buffers, err := s.bufferStore.List(ctx)
	if err != nil {
		err = s.mapError(StoreUnavailableError(err, "core: list buffers failed", nil))
		return nil, err
	}
	for _, buffer := range buffers {
		status := entry(buffer.ConversationID)
		status.Buffered = len(buffer.Messages)
		status.TTLRemaining = buffer.TTLRemaining(now)
	}

	if s.holdStore != nil {
		holds, holdErr := s.holdStore.List(ctx)
		if holdErr != nil {
			err = s.mapError(StoreUnavailableError(holdErr, "core: list retry holds failed", nil))
			return nil, err
		}
		for _, hold := range holds {
			dueAt := hold.DueAt
			entry(hold.ConversationID).RetryDueAt = &dueAt
		}
	}

	statuses = make([]QueueStatus, 0, len(byID))
	for _, status := range byID {
		statuses = append(statuses, *status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ConversationID < statuses[j].ConversationID
	})
	return statuses, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func isEmptyMessage(message any) bool {
	switch typed := message.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	default:
		return strings.TrimSpace(fmt.Sprint(typed)) == ""
	}
}
