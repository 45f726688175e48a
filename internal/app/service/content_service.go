package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sifan077/PowerCMS/internal/app/model"
	"github.com/sifan077/PowerCMS/internal/app/notify"
	"github.com/sifan077/PowerCMS/internal/app/publish"
	"github.com/sifan077/PowerCMS/internal/app/repository"
	promx "github.com/sifan077/PowerCMS/internal/infra/prometheus"
	"go.uber.org/zap"
)

var (
	// ErrValidation signals input rejected before any state was changed.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownResource signals a resource type that is not registered.
	ErrUnknownResource = errors.New("unknown resource type")
	// ErrHistoryDisabled signals that the change log is not configured.
	ErrHistoryDisabled = errors.New("change history is not enabled")
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ContentService is the generic engine behind every resource type.
type ContentService interface {
	Create(ctx context.Context, resource string, input RecordInput) (*model.Record, error)
	Get(ctx context.Context, resource, id string) (*model.Record, error)
	Update(ctx context.Context, resource, id string, input RecordInput) (*model.Record, error)
	Delete(ctx context.Context, resource, id string) error
	SetAutoEnable(ctx context.Context, resource, id string, desired bool) (*model.Record, error)
	SetPinned(ctx context.Context, resource, id string, desired bool) (*model.Record, error)
	BulkSchedule(ctx context.Context, resource string, ids []string, autoEnable bool) (int, error)
	List(ctx context.Context, resource string, query ListQuery) (*ListResult, error)
	Sweep(ctx context.Context, resource string, now time.Time) (int, error)
	History(ctx context.Context, resource, id string, limit int) ([]model.ChangeLog, error)
}

// ImageRemover deletes stored image files that are no longer referenced.
type ImageRemover interface {
	Delete(ctx context.Context, ref string) error
}

// RecordInput carries the caller supplied attributes of a create or update.
// Nil pointers leave the attribute untouched.
type RecordInput struct {
	Title   *string
	TimeOn  *time.Time
	TimeOff *time.Time
	// Priority is kept for ordering hints in clients.
	Priority *int
	// Image is a freshly stored image reference that replaces the current one.
	Image       *string
	RemoveImage bool
	// AutoEnable re-asserts scheduling consent on update.
	AutoEnable *bool
	Fields     map[string]string
}

// ListQuery selects one page of a collection.
type ListQuery struct {
	Page            int
	PageSize        int
	IncludeDisabled bool
}

// ListResult is one page of records in listing order.
type ListResult struct {
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	Total      int            `json:"total"`
	TotalPages int            `json:"totalPages"`
	Records    []model.Record `json:"records"`
}

// ContentDeps groups the collaborators of the content service.
type ContentDeps struct {
	Store     repository.RecordStore
	Publisher notify.Publisher
	Images    ImageRemover
	ChangeLog repository.ChangeLogRepository
	Logger    *zap.Logger
	Now       func() time.Time
}

type contentService struct {
	store     repository.RecordStore
	publisher notify.Publisher
	images    ImageRemover
	changeLog repository.ChangeLogRepository
	logger    *zap.Logger
	now       func() time.Time

	// One lock per resource type guards load -> mutate -> persist -> notify.
	locks map[string]*sync.Mutex
}

// NewContentService returns the content engine for every registered resource type.
func NewContentService(deps ContentDeps) ContentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	locks := make(map[string]*sync.Mutex)
	for _, rt := range model.ResourceTypes() {
		locks[rt.Name] = &sync.Mutex{}
	}

	return &contentService{
		store:     deps.Store,
		publisher: deps.Publisher,
		images:    deps.Images,
		changeLog: deps.ChangeLog,
		logger:    logger,
		now:       now,
		locks:     locks,
	}
}

func (s *contentService) resourceType(resource string) (model.ResourceType, *sync.Mutex, error) {
	rt, ok := model.LookupResourceType(resource)
	if !ok {
		return model.ResourceType{}, nil, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	return rt, s.locks[rt.Name], nil
}

func (s *contentService) Create(ctx context.Context, resource string, input RecordInput) (*model.Record, error) {
	rt, lock, err := s.resourceType(resource)
	if err != nil {
		return nil, err
	}

	if input.Title == nil || strings.TrimSpace(*input.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}

	now := s.now()
	rec := model.Record{
		Title:     strings.TrimSpace(*input.Title),
		Image:     input.Image,
		TimeOn:    now,
		TimeOff:   model.OpenEnded,
		CreatedAt: now,
		EditTime:  now,
	}
	if input.TimeOn != nil {
		rec.TimeOn = *input.TimeOn
	}
	if input.TimeOff != nil {
		rec.TimeOff = *input.TimeOff
	}
	if input.Priority != nil {
		rec.Priority = *input.Priority
	}
	applyFields(rt, &rec, input.Fields)

	if err := publish.ValidateWindow(rec.TimeOn, rec.TimeOff); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	lock.Lock()
	defer lock.Unlock()

	records, err := s.load(ctx, rt)
	if err != nil {
		return nil, err
	}
	rec.ID = nextID(records, now)
	records = append(records, rec)

	if err := s.save(ctx, rt, records); err != nil {
		return nil, err
	}

	s.logger.Info("record created",
		zap.String("resource", rt.Name),
		zap.String("id", rec.ID),
	)
	s.emit(ctx, model.NewChangeEvent(model.EventNew, rt.Name, model.ReasonCreate, rec, now))
	return cloneRecord(rec), nil
}

func (s *contentService) Get(ctx context.Context, resource, id string) (*model.Record, error) {
	rt, lock, err := s.resourceType(resource)
	if err != nil {
		return nil, err
	}

	lock.Lock()
	defer lock.Unlock()

	records, err := s.load(ctx, rt)
	if err != nil {
		return nil, err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return nil, fmt.Errorf("get %s %s: %w", rt.Label, id, repository.ErrRecordNotFound)
	}
	return cloneRecord(records[idx]), nil
}

// Update applies a content edit. An edit always unpublishes the record unless
// input re-asserts autoEnable and the resulting window is still open.
func (s *contentService) Update(ctx context.Context, resource, id string, input RecordInput) (*model.Record, error) {
	rt, lock, err := s.resourceType(resource)
	if err != nil {
		return nil, err
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return nil, fmt.Errorf("%w: title must not be empty", ErrValidation)
	}

	lock.Lock()
	defer lock.Unlock()

	records, err := s.load(ctx, rt)
	if err != nil {
		return nil, err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return nil, fmt.Errorf("update %s %s: %w", rt.Label, id, repository.ErrRecordNotFound)
	}

	now := s.now()
	rec := records[idx].Clone()
	var staleImage string

	if input.Title != nil {
		rec.Title = strings.TrimSpace(*input.Title)
	}
	if input.TimeOn != nil {
		rec.TimeOn = *input.TimeOn
	}
	if input.TimeOff != nil {
		rec.TimeOff = *input.TimeOff
	}
	if input.Priority != nil {
		rec.Priority = *input.Priority
	}
	switch {
	case input.Image != nil:
		if rec.Image != nil && *rec.Image != *input.Image {
			staleImage = *rec.Image
		}
		rec.Image = input.Image
	case input.RemoveImage:
		if rec.Image != nil {
			staleImage = *rec.Image
		}
		rec.Image = nil
	}
	applyFields(rt, &rec, input.Fields)

	reassert := input.AutoEnable != nil && *input.AutoEnable
	if err := publish.ApplyEdit(&rec, reassert, now); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	rec.EditTime = now
	records[idx] = rec

	if err := s.save(ctx, rt, records); err != nil {
		return nil, err
	}
	if staleImage != "" {
		s.removeImage(ctx, rt, staleImage)
	}

	s.logger.Info("record updated",
		zap.String("resource", rt.Name),
		zap.String("id", rec.ID),
		zap.Stringer("state", publish.StateOf(rec, now)),
	)
	s.emit(ctx, model.NewChangeEvent(model.EventUpdate, rt.Name, model.ReasonEdit, rec, now))
	return cloneRecord(rec), nil
}

func (s *contentService) Delete(ctx context.Context, resource, id string) error {
	rt, lock, err := s.resourceType(resource)
	if err != nil {
		return err
	}
	if !rt.Deletable {
		return fmt.Errorf("%w: %s records cannot be deleted", ErrValidation, rt.Label)
	}

	lock.Lock()
	defer lock.Unlock()

	records, err := s.load(ctx, rt)
	if err != nil {
		return err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return fmt.Errorf("delete %s %s: %w", rt.Label, id, repository.ErrRecordNotFound)
	}

	removed := records[idx]
	remaining := make([]model.Record, 0, len(records)-1)
	remaining = append(remaining, records[:idx]...)
	remaining = append(remaining, records[idx+1:]...)

	if err := s.save(ctx, rt, remaining); err != nil {
		return err
	}
	if removed.Image != nil {
		s.removeImage(ctx, rt, *removed.Image)
	}

	s.logger.Info("record deleted", zap.String("resource", rt.Name), zap.String("id", id))
	s.emit(ctx, model.ChangeEvent{
		Type:         model.EventDelete,
		ResourceType: rt.Name,
		ID:           id,
		Reason:       model.ReasonDelete,
		At:           s.now(),
	})
	return nil
}

func (s *contentService) SetAutoEnable(ctx context.Context, resource, id string, desired bool) (*model.Record, error) {
	return s.mutateOne(ctx, resource, id, model.ReasonAutoEnable, func(rec *model.Record, now time.Time) (bool, error) {
		return publish.SetAutoEnable(rec, desired, now)
	})
}

func (s *contentService) SetPinned(ctx context.Context, resource, id string, desired bool) (*model.Record, error) {
	return s.mutateOne(ctx, resource, id, model.ReasonPin, func(rec *model.Record, now time.Time) (bool, error) {
		return publish.SetPinned(rec, desired, now)
	})
}

// mutateOne runs a single record transition. An unchanged record is neither
// persisted nor announced.
func (s *contentService) mutateOne(
	ctx context.Context,
	resource, id, reason string,
	apply func(rec *model.Record, now time.Time) (bool, error),
) (*model.Record, error) {
	rt, lock, err := s.resourceType(resource)
	if err != nil {
		return nil, err
	}

	lock.Lock()
	defer lock.Unlock()

	records, err := s.load(ctx, rt)
	if err != nil {
		return nil, err
	}
	idx := indexOf(records, id)
	if idx < 0 {
		return nil, fmt.Errorf("%s %s %s: %w", reason, rt.Label, id, repository.ErrRecordNotFound)
	}

	now := s.now()
	rec := records[idx].Clone()
	changed, err := apply(&rec, now)
	if err != nil {
		return nil, fmt.Errorf("%s %s %s: %w", reason, rt.Label, id, err)
	}
	if !changed {
		return cloneRecord(rec), nil
	}
	rec.EditTime = now
	records[idx] = rec

	if err := s.save(ctx, rt, records); err != nil {
		return nil, err
	}

	s.logger.Info("record transitioned",
		zap.String("resource", rt.Name),
		zap.String("id", id),
		zap.String("reason", reason),
		zap.Stringer("state", publish.StateOf(rec, now)),
	)
	s.emit(ctx, model.NewChangeEvent(model.EventUpdate, rt.Name, reason, rec, now))
	return cloneRecord(rec), nil
}

// BulkSchedule applies the manual toggle to every id in one pass. Missing ids,
// and expired ids when enabling, are skipped.
func (s *contentService) BulkSchedule(ctx context.Context, resource string, ids []string, autoEnable bool) (int, error) {
	rt, lock, err := s.resourceType(resource)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	lock.Lock()
	defer lock.Unlock()

	records, err := s.load(ctx, rt)
	if err != nil {
		return 0, err
	}

	now := s.now()
	seen := make(map[string]struct{}, len(ids))
	var changed []int
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		idx := indexOf(records, id)
		if idx < 0 {
			continue
		}
		rec := records[idx].Clone()
		ok, err := publish.SetAutoEnable(&rec, autoEnable, now)
		if err != nil || !ok {
			continue
		}
		rec.EditTime = now
		records[idx] = rec
		changed = append(changed, idx)
	}

	if len(changed) == 0 {
		return 0, nil
	}
	if err := s.save(ctx, rt, records); err != nil {
		return 0, err
	}

	s.logger.Info("bulk schedule applied",
		zap.String("resource", rt.Name),
		zap.Bool("auto_enable", autoEnable),
		zap.Int("requested", len(ids)),
		zap.Int("affected", len(changed)),
	)
	for _, idx := range changed {
		s.emit(ctx, model.NewChangeEvent(model.EventUpdate, rt.Name, model.ReasonBulk, records[idx], now))
	}
	return len(changed), nil
}

// List returns pinned records first, then the most recently edited.
func (s *contentService) List(ctx context.Context, resource string, query ListQuery) (*ListResult, error) {
	rt, lock, err := s.resourceType(resource)
	if err != nil {
		return nil, err
	}

	lock.Lock()
	records, err := s.load(ctx, rt)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	visible := records[:0:0]
	for _, rec := range records {
		if query.IncludeDisabled || rec.Enable {
			visible = append(visible, rec)
		}
	}
	SortForListing(visible)

	page := query.Page
	if page < 1 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	total := len(visible)
	result := &ListResult{
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
		Records:    []model.Record{},
	}
	start := (page - 1) * size
	if start < total {
		end := start + size
		if end > total {
			end = total
		}
		result.Records = visible[start:end]
	}
	return result, nil
}

// SortForListing orders records by pinned descending, then editTime descending.
func SortForListing(records []model.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Pinned != records[j].Pinned {
			return records[i].Pinned
		}
		return records[i].EditTime.After(records[j].EditTime)
	})
}

// Sweep applies the window boundary transitions to one resource type. The
// collection is persisted once, and only when something changed.
func (s *contentService) Sweep(ctx context.Context, resource string, now time.Time) (int, error) {
	rt, lock, err := s.resourceType(resource)
	if err != nil {
		return 0, err
	}

	lock.Lock()
	defer lock.Unlock()

	records, err := s.load(ctx, rt)
	if err != nil {
		return 0, err
	}

	type flip struct {
		idx        int
		transition string
	}
	var flips []flip
	for i := range records {
		transition := publish.Sweep(&records[i], now)
		if transition == publish.TransitionNone {
			continue
		}
		records[i].EditTime = now
		flips = append(flips, flip{idx: i, transition: transition})
	}

	if len(flips) == 0 {
		return 0, nil
	}
	if err := s.save(ctx, rt, records); err != nil {
		return 0, err
	}

	for _, f := range flips {
		rec := records[f.idx]
		promx.SweepTransitions.WithLabelValues(rt.Name, f.transition).Inc()
		s.logger.Info("sweep transition",
			zap.String("resource", rt.Name),
			zap.String("id", rec.ID),
			zap.String("transition", f.transition),
		)
		s.emit(ctx, model.NewChangeEvent(model.EventUpdate, rt.Name, model.ReasonSweep, rec, now))
	}
	return len(flips), nil
}

func (s *contentService) History(ctx context.Context, resource, id string, limit int) ([]model.ChangeLog, error) {
	rt, _, err := s.resourceType(resource)
	if err != nil {
		return nil, err
	}
	if s.changeLog == nil {
		return nil, ErrHistoryDisabled
	}
	entries, err := s.changeLog.ListByRecord(ctx, rt.Name, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

func (s *contentService) load(ctx context.Context, rt model.ResourceType) ([]model.Record, error) {
	records, err := s.store.LoadAll(ctx, rt)
	if err != nil {
		promx.StoreErrors.WithLabelValues(rt.Name, "load").Inc()
		return nil, fmt.Errorf("load %s collection: %w", rt.Label, err)
	}
	return records, nil
}

func (s *contentService) save(ctx context.Context, rt model.ResourceType, records []model.Record) error {
	if err := s.store.SaveAll(ctx, rt, records); err != nil {
		promx.StoreErrors.WithLabelValues(rt.Name, "save").Inc()
		return fmt.Errorf("save %s collection: %w", rt.Label, err)
	}
	return nil
}

// emit runs with the resource lock held, so per-record events follow commit order.
func (s *contentService) emit(ctx context.Context, event model.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, event)
}

func (s *contentService) removeImage(ctx context.Context, rt model.ResourceType, ref string) {
	if s.images == nil || ref == "" {
		return
	}
	if err := s.images.Delete(ctx, ref); err != nil {
		s.logger.Warn("failed to delete stored image",
			zap.String("resource", rt.Name),
			zap.String("image", ref),
			zap.Error(err),
		)
	}
}

func applyFields(rt model.ResourceType, rec *model.Record, fields map[string]string) {
	for name, value := range fields {
		if !rt.HasField(name) {
			continue
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]string)
		}
		rec.Fields[name] = value
	}
}

// nextID derives a millisecond timestamp id, bumped past any id already taken.
func nextID(records []model.Record, now time.Time) string {
	taken := make(map[string]struct{}, len(records))
	for _, rec := range records {
		taken[rec.ID] = struct{}{}
	}
	n := now.UnixMilli()
	for {
		id := strconv.FormatInt(n, 10)
		if _, dup := taken[id]; !dup {
			return id
		}
		n++
	}
}

func indexOf(records []model.Record, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneRecord(rec model.Record) *model.Record {
	out := rec.Clone()
	return &out
}
