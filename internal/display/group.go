package display

import (
	"regexp"

	"bizyou-chat/internal/domain"
)

const (
	// maxBatchSize bounds render cost for one image batch.
	maxBatchSize = 10
	// batchWindow is the legacy grouping heuristic for image messages
	// that predate the batch-identifier path scheme.
	batchWindow = 5000 // milliseconds
)

var batchPathRe = regexp.MustCompile(`/batches/([^/]+)/`)

// BatchID recovers the shared batch identifier embedded in an image
// storage path, or "" when the reference predates the batch scheme.
func BatchID(imageURL string) string {
	m := batchPathRe.FindStringSubmatch(imageURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// ItemKind discriminates display items.
type ItemKind int

const (
	DateSeparator ItemKind = iota
	SingleMessage
	ImageBatch
)

// Item is one derived render unit. Items are ephemeral: they are
// recomputed on every change to the underlying message sequence and
// carry no identity beyond their constituent messages.
type Item struct {
	Kind    ItemKind
	Date    string          // DateSeparator only
	Message *domain.Message // SingleMessage only
	Batch   []domain.Message
}

// Group transforms a newest-first message sequence into the render
// sequence: date separators once per contiguous date run, and runs of
// consecutive pure-image messages merged into image batches.
//
// The result mirrors the input order (newest first); each date
// separator sits at the older edge of its run, where an inverted list
// renders it above the run. Batch members are kept in selection
// (oldest-first) order.
//
// Two adjacent candidates group only while sender and calendar date
// match. When either side carries a recoverable batch identifier the
// identifiers must be equal and time gaps are ignored; only when
// neither does is the legacy time-window heuristic applied. Legacy and
// identifier-stamped messages therefore coexist in one timeline
// without cross-scheme grouping.
func Group(messages []domain.Message) []Item {
	if len(messages) == 0 {
		return nil
	}

	// Scan chronologically (the input is newest-first).
	chron := make([]domain.Message, len(messages))
	for i, m := range messages {
		chron[len(messages)-1-i] = m
	}

	var items []Item
	var run []domain.Message // pending image batch, oldest first

	flushRun := func() {
		if len(run) == 0 {
			return
		}
		if len(run) == 1 {
			m := run[0]
			items = append(items, Item{Kind: SingleMessage, Message: &m})
		} else {
			batch := make([]domain.Message, len(run))
			copy(batch, run)
			items = append(items, Item{Kind: ImageBatch, Batch: batch})
		}
		run = nil
	}

	prevDate := ""
	for _, m := range chron {
		if d := m.Date(); d != prevDate {
			flushRun()
			items = append(items, Item{Kind: DateSeparator, Date: d})
			prevDate = d
		}

		if !isBatchCandidate(&m) {
			flushRun()
			msg := m
			items = append(items, Item{Kind: SingleMessage, Message: &msg})
			continue
		}

		if len(run) >= maxBatchSize {
			flushRun()
		} else if len(run) > 0 && !extendsRun(run[len(run)-1], m) {
			flushRun()
		}
		run = append(run, m)
	}
	flushRun()

	// Flip to newest-first to mirror the input.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items
}

// isBatchCandidate reports whether a message may join an image batch:
// image present, no text, no reply context.
func isBatchCandidate(m *domain.Message) bool {
	return m.HasImage() && m.Text == "" && m.ReplyTo == nil && !m.IsSystem
}

// extendsRun decides whether next joins the run ending in prev.
func extendsRun(prev, next domain.Message) bool {
	if next.SenderID != prev.SenderID || next.Date() != prev.Date() {
		return false
	}

	prevBatch := BatchID(prev.ImageURL)
	nextBatch := BatchID(next.ImageURL)
	if prevBatch != "" || nextBatch != "" {
		return prevBatch == nextBatch
	}

	gap := next.CreatedAt.Sub(prev.CreatedAt)
	if gap < 0 {
		gap = -gap
	}
	return gap.Milliseconds() <= batchWindow
}
