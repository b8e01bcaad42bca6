package send

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"bizyou-chat/internal/domain"
	"bizyou-chat/internal/observability"
	"bizyou-chat/internal/timeline"
)

// LocalImage is a not-yet-uploaded image selected by the user. URI is
// the device-local reference shown while the upload is in flight and
// handed back on rollback so the user can retry without re-selecting.
type LocalImage struct {
	URI  string
	Data []byte
}

// Request is one user send action: text and/or ordered images with an
// optional reply target.
type Request struct {
	Text    string
	Images  []LocalImage
	ReplyTo *domain.ReplyRef
}

// Empty reports whether the request carries nothing to send.
func (r Request) Empty() bool { return r.Text == "" && len(r.Images) == 0 }

// Notifier dispatches a best-effort push notification for a persisted
// message. Failures are logged and swallowed, never surfaced.
type Notifier interface {
	NotifyMessage(ctx context.Context, roomID string, msg domain.Message) error
}

// SummaryInvalidator refreshes the room-list summary view
// (last message, unread count).
type SummaryInvalidator interface {
	InvalidateRoomSummary(roomID string)
}

// Pipeline persists one room's outgoing messages optimistically:
// provisional cache entries appear before any network round trip and
// are either reconciled with the authoritative row or rolled back.
type Pipeline struct {
	store    domain.MessageStore
	cache    *timeline.Cache
	me       domain.Sender
	roomID   string
	isGroup  bool
	notifier Notifier
	summary  SummaryInvalidator

	now   func() time.Time
	newID func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNotifier attaches a best-effort push notifier.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithSummaryInvalidator attaches the room-list summary hook.
func WithSummaryInvalidator(s SummaryInvalidator) Option {
	return func(p *Pipeline) { p.summary = s }
}

// WithClock overrides the pipeline clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDGenerator overrides provisional id generation.
func WithIDGenerator(newID func() string) Option {
	return func(p *Pipeline) { p.newID = newID }
}

// NewPipeline creates a send pipeline for one room.
func NewPipeline(store domain.MessageStore, cache *timeline.Cache, me domain.Sender, roomID string, isGroup bool, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   store,
		cache:   cache,
		me:      me,
		roomID:  roomID,
		isGroup: isGroup,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// unit is one message row of a composite send action.
type unit struct {
	image *LocalImage
	text  string
	reply *domain.ReplyRef
}

// Send persists the request as one message per image, in selection
// order, followed by the text message when text is present. The reply
// reference rides on the last logical unit: the trailing text message
// when there is one, otherwise the first image.
//
// On failure the failed and unsent units are rolled back and returned
// so the composer can be restored; units already persisted remain.
// The room summary is invalidated exactly once per action.
func (p *Pipeline) Send(ctx context.Context, req Request) (Request, error) {
	if req.Empty() {
		return Request{}, domain.ErrEmptySend
	}
	if p.me.ID == "" {
		return req, domain.ErrNoIdentity
	}

	units := p.buildUnits(req)

	var batchID string
	if len(req.Images) > 1 {
		batchID = p.newID()
	}

	persisted := 0
	var lastPersisted domain.Message
	defer func() {
		if persisted == 0 {
			return
		}
		if p.summary != nil {
			p.summary.InvalidateRoomSummary(p.roomID)
		}
		p.dispatchNotification(lastPersisted)
	}()

	for i, u := range units {
		auth, err := p.sendUnit(ctx, u, batchID)
		if err != nil {
			return p.unsentRemainder(req, i), err
		}
		persisted++
		lastPersisted = auth
	}

	return Request{}, nil
}

// buildUnits expands a request into its ordered message rows.
func (p *Pipeline) buildUnits(req Request) []unit {
	units := make([]unit, 0, len(req.Images)+1)
	for i := range req.Images {
		u := unit{image: &req.Images[i]}
		if i == 0 && req.Text == "" {
			u.reply = req.ReplyTo
		}
		units = append(units, u)
	}
	if req.Text != "" {
		units = append(units, unit{text: req.Text, reply: req.ReplyTo})
	}
	return units
}

// sendUnit runs one unit through the optimistic flow: provisional
// prepend, then upload (for images), then insert, then reconcile.
func (p *Pipeline) sendUnit(ctx context.Context, u unit, batchID string) (domain.Message, error) {
	localID := p.newID()
	kind := "text"
	if u.image != nil {
		kind = "image"
	}

	provisional := domain.Message{
		ID:          localID,
		RoomID:      p.roomID,
		SenderID:    p.me.ID,
		SenderName:  p.me.Name,
		SenderImage: p.me.Image,
		Text:        u.text,
		ReplyTo:     u.reply,
		CreatedAt:   p.now(),
		Mine:        true,
	}
	if u.image != nil {
		provisional.ImageURL = u.image.URI
	}
	p.cache.PrependProvisional(provisional)

	imageURL := ""
	if u.image != nil {
		url, err := p.uploadImage(ctx, u.image, batchID)
		if err != nil {
			p.cache.Rollback(localID)
			observability.MessagesSent.WithLabelValues(kind, "upload_error").Inc()
			return domain.Message{}, fmt.Errorf("failed to upload image: %w", err)
		}
		imageURL = url
	}

	auth, err := p.store.InsertMessage(ctx, domain.MessageInsert{
		SenderID:    p.me.ID,
		SenderName:  p.me.Name,
		SenderImage: p.me.Image,
		RoomID:      p.roomID,
		IsGroup:     p.isGroup,
		Text:        u.text,
		ImageURL:    imageURL,
		ReplyTo:     u.reply,
	})
	if err != nil {
		p.cache.Rollback(localID)
		observability.MessagesSent.WithLabelValues(kind, "insert_error").Inc()
		return domain.Message{}, fmt.Errorf("failed to persist message: %w", err)
	}

	p.cache.Reconcile(localID, auth)
	observability.MessagesSent.WithLabelValues(kind, "ok").Inc()
	return auth, nil
}

// uploadImage writes the raw bytes to the storage path convention:
// batched sends share a batch segment the display grouping recovers
// later, single sends use the flat per-sender path.
func (p *Pipeline) uploadImage(ctx context.Context, img *LocalImage, batchID string) (string, error) {
	name := fmt.Sprintf("%d-%s.%s", p.now().UnixMilli(), p.newID()[:8], imageExt(img.URI))

	var storagePath string
	if batchID != "" {
		storagePath = fmt.Sprintf("%s/batches/%s/%s", p.me.ID, batchID, name)
	} else {
		storagePath = fmt.Sprintf("%s/%s", p.me.ID, name)
	}

	url, err := p.store.UploadImage(ctx, bytes.NewReader(img.Data), storagePath)
	if err != nil {
		observability.ImageUploads.WithLabelValues("error").Inc()
		return "", err
	}
	observability.ImageUploads.WithLabelValues("ok").Inc()
	return url, nil
}

// unsentRemainder rebuilds the portion of the request that never
// persisted: the failed unit and everything after it.
func (p *Pipeline) unsentRemainder(req Request, failedUnit int) Request {
	rest := Request{ReplyTo: req.ReplyTo}
	if failedUnit < len(req.Images) {
		rest.Images = req.Images[failedUnit:]
		rest.Text = req.Text
	} else {
		rest.Text = req.Text
	}
	return rest
}

func (p *Pipeline) dispatchNotification(msg domain.Message) {
	if p.notifier == nil {
		return
	}
	// Detached from the caller's context: persistence is already
	// confirmed and delivery must not block or fail the send.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.notifier.NotifyMessage(ctx, p.roomID, msg); err != nil {
		slog.Warn("push notification dispatch failed",
			slog.String("room_id", p.roomID),
			slog.String("error", err.Error()))
	}
}

// imageExt extracts the file extension from a local image reference.
func imageExt(uri string) string {
	ext := strings.TrimPrefix(path.Ext(uri), ".")
	if ext == "" {
		return "jpg"
	}
	return strings.ToLower(ext)
}
