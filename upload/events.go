package upload

import (
	"context"
	"time"

	"github.com/wyfcoding/filebroker/logging"
	"github.com/wyfcoding/filebroker/messagequeue"
	"github.com/wyfcoding/filebroker/model"
)

// Notifier 在文件入库后发出通知，失败不影响合并结果。
type Notifier interface {
	FileStored(ctx context.Context, rec *model.FileRecord)
}

// FileStoredEvent file.stored 事件体。
type FileStoredEvent struct {
	Event       string    `json:"event"`
	ID          int64     `json:"id,string"`
	Fingerprint string    `json:"fingerprint"`
	Bucket      string    `json:"bucket"`
	ObjectKey   string    `json:"objectKey"`
	URL         string    `json:"url"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	StoredAt    time.Time `json:"storedAt"`
}

// EventNotifier 通过消息队列发布 file.stored 事件，以指纹作为分区键。
type EventNotifier struct {
	publisher messagequeue.EventPublisher
	logger    *logging.Logger
}

func NewEventNotifier(p messagequeue.EventPublisher, logger *logging.Logger) *EventNotifier {
	return &EventNotifier{publisher: p, logger: logger}
}

func (n *EventNotifier) FileStored(ctx context.Context, rec *model.FileRecord) {
	evt := FileStoredEvent{
		Event:       "file.stored",
		ID:          rec.ID,
		Fingerprint: rec.Fingerprint,
		Bucket:      rec.Bucket,
		ObjectKey:   rec.ObjectKey,
		URL:         rec.URL,
		Size:        rec.Size,
		ContentType: rec.ContentType,
		StoredAt:    rec.CreatedAt,
	}
	if err := n.publisher.Publish(context.WithoutCancel(ctx), rec.Fingerprint, evt); err != nil {
		n.logger.WarnContext(ctx, "failed to publish file.stored event", "fingerprint", rec.Fingerprint, "error", err)
	}
}

// NopNotifier 未启用消息队列时使用。
type NopNotifier struct{}

func (NopNotifier) FileStored(context.Context, *model.FileRecord) {}
