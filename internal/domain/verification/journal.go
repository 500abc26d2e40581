package verification

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"

	"merchant-verify-client/internal/domain/eventbus"
	"merchant-verify-client/internal/platform/storage"
)

// JournalStore is the persistence used by the Recorder.
type JournalStore interface {
	Save(ctx context.Context, rec *storage.VerificationRecord) error
}

// Recorder writes every finished session to the local journal. It listens
// on the bus asynchronously so the owner goroutine never waits on disk.
type Recorder struct {
	store  JournalStore
	logger Logger
	subs   []*eventbus.Subscription
	mask   bool
}

// NewRecorder builds a recorder. With mask set, contacts are stored masked.
func NewRecorder(store JournalStore, logger Logger, mask bool) *Recorder {
	return &Recorder{store: store, logger: logger, mask: mask}
}

// Attach subscribes to the finishing topics.
func (r *Recorder) Attach(bus *eventbus.Bus) {
	for _, topic := range []string{
		eventbus.TopicVerificationCompleted,
		eventbus.TopicVerificationFailed,
		eventbus.TopicVerificationCancelled,
	} {
		r.subs = append(r.subs, bus.SubscribeAsync(topic, r.handle))
	}
}

// Detach stops recording.
func (r *Recorder) Detach() {
	for _, s := range r.subs {
		s.Cancel()
	}
	r.subs = nil
}

func (r *Recorder) handle(e eventbus.Event) {
	res, ok := e.Payload.(Result)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Save(ctx, r.record(res)); err != nil && r.logger != nil {
		r.logger.Warn("[存储] journal write failed: %v", err)
	}
}

func (r *Recorder) record(res Result) *storage.VerificationRecord {
	contact := res.Contact
	if r.mask {
		contact = MaskContact(res.Channel, contact)
	}
	rec := &storage.VerificationRecord{
		Channel:    string(res.Channel),
		TargetID:   res.TargetID,
		Contact:    contact,
		ServerID:   res.ServerID,
		Outcome:    res.Outcome,
		Attempts:   res.Attempts,
		OperatorID: res.OperatorID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Message != "" {
		if detail, err := sonic.Marshal(map[string]any{"message": res.Message}); err == nil {
			rec.Detail = datatypes.JSON(detail)
		}
	}
	return rec
}
