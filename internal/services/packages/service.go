package packages

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/PickupBox/internal/broker/messages"
	"github.com/BearBump/PickupBox/internal/metrics"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrEmptyMessage = errors.New("message text is empty")
	ErrNoFields     = errors.New("no fields to store")
)

// Store is the record store contract shared by the durable and session stores.
type Store interface {
	CreatePackage(ctx context.Context, fields models.ExtractedFields, addedAt time.Time) (*models.Package, error)
	ListPendingPackages(ctx context.Context) ([]*models.Package, error)
	MarkCollected(ctx context.Context, id uint64) (bool, error)
}

type Extractor interface {
	Extract(text string) (models.ExtractedFields, bool)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type ParseResult struct {
	Parsed bool                   `json:"parsed"`
	Fields models.ExtractedFields `json:"fields"`
}

// AddResult tells the caller whether anything changed. Package is nil when
// the message could not be parsed.
type AddResult struct {
	Parsed  bool                   `json:"parsed"`
	Fields  models.ExtractedFields `json:"fields"`
	Package *models.Package        `json:"package,omitempty"`
}

type Service struct {
	store     Store
	extractor Extractor

	publisher Publisher
	topic     string

	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(store Store, ex Extractor) *Service {
	return &Service{
		store:     store,
		extractor: ex,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
}

// WithPublisher enables package events on topic. A nil publisher disables them.
func (s *Service) WithPublisher(p Publisher, topic string) *Service {
	s.publisher = p
	s.topic = topic
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithLogger(l *zap.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Parse runs the extractor only; nothing is stored.
func (s *Service) Parse(text string) ParseResult {
	fields, ok := s.extractor.Extract(text)
	if !ok {
		s.metrics.MessageUnparsed()
		return ParseResult{}
	}
	s.metrics.MessageParsed(fields.TrackingID != "", fields.PickupCode != "", fields.PickupLocation != "")
	return ParseResult{Parsed: true, Fields: fields}
}

// AddMessage parses text and stores a pending record when at least one field
// was found. An unparseable message is reported through AddResult.Parsed, not
// as an error.
func (s *Service) AddMessage(ctx context.Context, text string) (AddResult, error) {
	if strings.TrimSpace(text) == "" {
		return AddResult{}, ErrEmptyMessage
	}

	pr := s.Parse(text)
	if !pr.Parsed {
		s.logger.Debug("message not recognized", zap.Int("length", len(text)))
		return AddResult{}, nil
	}

	p, err := s.CreatePackage(ctx, pr.Fields)
	if err != nil {
		return AddResult{}, err
	}
	return AddResult{Parsed: true, Fields: pr.Fields, Package: p}, nil
}

func (s *Service) CreatePackage(ctx context.Context, fields models.ExtractedFields) (*models.Package, error) {
	if fields.Empty() {
		return nil, ErrNoFields
	}

	addedAt := s.now().Local().Truncate(time.Second)
	p, err := s.store.CreatePackage(ctx, fields, addedAt)
	if err != nil {
		return nil, errors.Wrap(err, "create package")
	}
	s.metrics.PackageCreated()
	s.logger.Info("package added",
		zap.Uint64("id", p.ID),
		zap.String("tracking_id", p.TrackingID),
		zap.String("pickup_location", p.PickupLocation),
	)

	s.publish(ctx, messages.PackageEvent{Type: messages.PackageEventAdded, ID: p.ID, Package: p, At: addedAt})
	return p, nil
}

func (s *Service) ListPending(ctx context.Context) ([]*models.Package, error) {
	list, err := s.store.ListPendingPackages(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list pending packages")
	}
	return list, nil
}

// MarkCollected returns false when there is no pending record with this id.
func (s *Service) MarkCollected(ctx context.Context, id uint64) (bool, error) {
	if id == 0 {
		return false, nil
	}
	ok, err := s.store.MarkCollected(ctx, id)
	if err != nil {
		return false, errors.Wrap(err, "mark collected")
	}
	if !ok {
		return false, nil
	}
	s.metrics.PackageCollected()
	s.logger.Info("package collected", zap.Uint64("id", id))

	s.publish(ctx, messages.PackageEvent{Type: messages.PackageEventCollected, ID: id, At: s.now()})
	return true, nil
}

// publish is best-effort: the record is already stored when it runs.
func (s *Service) publish(ctx context.Context, ev messages.PackageEvent) {
	if s.publisher == nil || s.topic == "" {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal package event", zap.Error(err))
		return
	}
	key := []byte(strconv.FormatUint(ev.ID, 10))
	if err := s.publisher.Publish(ctx, s.topic, key, b); err != nil {
		s.logger.Warn("publish package event",
			zap.String("type", ev.Type),
			zap.Uint64("id", ev.ID),
			zap.Error(err),
		)
	}
}
