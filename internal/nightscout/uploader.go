package nightscout

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize = 256
	maxBatch         = 50
	uploadTimeout    = 30 * time.Second
)

type item struct {
	entry     *Entry
	treatment *Treatment
}

// Stats counts upload outcomes
type Stats struct {
	Entries    int `json:"entries"`
	Treatments int `json:"treatments"`
	Failed     int `json:"failed"`
	Dropped    int `json:"dropped"`
}

// Uploader sends entries and treatments from a background goroutine so
// callers never wait on the network. Queued items are batched per request.
// Failed batches are logged and dropped.
type Uploader struct {
	client *Client
	log    *slog.Logger

	mu     sync.Mutex
	queue  chan item
	closed bool
	stats  Stats

	done chan struct{}
}

// NewUploader starts the upload goroutine. queueSize <= 0 uses 256.
func NewUploader(client *Client, logger *slog.Logger, queueSize int) *Uploader {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	u := &Uploader{
		client: client,
		log:    logger,
		queue:  make(chan item, queueSize),
		done:   make(chan struct{}),
	}
	go u.run()
	return u
}

// QueueEntry schedules a glucose entry. Returns false if it was dropped.
func (u *Uploader) QueueEntry(e Entry) bool {
	return u.enqueue(item{entry: &e})
}

// QueueTreatment schedules a treatment. Returns false if it was dropped.
func (u *Uploader) QueueTreatment(t Treatment) bool {
	return u.enqueue(item{treatment: &t})
}

func (u *Uploader) enqueue(it item) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		u.stats.Dropped++
		return false
	}
	select {
	case u.queue <- it:
		return true
	default:
		u.stats.Dropped++
		u.log.Warn("nightscout queue full, dropping item")
		return false
	}
}

// Stats returns a snapshot of the upload counters
func (u *Uploader) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

// Close stops accepting items, uploads what is queued and waits for the
// goroutine to exit
func (u *Uploader) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		<-u.done
		return
	}
	u.closed = true
	close(u.queue)
	u.mu.Unlock()

	<-u.done
}

func (u *Uploader) run() {
	defer close(u.done)

	for first := range u.queue {
		batch := []item{first}
	drain:
		for len(batch) < maxBatch {
			select {
			case it, ok := <-u.queue:
				if !ok {
					break drain
				}
				batch = append(batch, it)
			default:
				break drain
			}
		}
		u.upload(batch)
	}
}

func (u *Uploader) upload(batch []item) {
	var (
		entries    []Entry
		treatments []Treatment
	)
	for _, it := range batch {
		if it.entry != nil {
			entries = append(entries, *it.entry)
		}
		if it.treatment != nil {
			treatments = append(treatments, *it.treatment)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	if len(entries) > 0 {
		err := u.client.UploadEntries(ctx, entries)
		u.record(len(entries), 0, err)
		if err != nil {
			u.log.Warn("nightscout entry upload failed", "count", len(entries), "err", err)
		} else {
			u.log.Debug("uploaded entries", "count", len(entries))
		}
	}
	if len(treatments) > 0 {
		err := u.client.UploadTreatments(ctx, treatments)
		u.record(0, len(treatments), err)
		if err != nil {
			u.log.Warn("nightscout treatment upload failed", "count", len(treatments), "err", err)
		} else {
			u.log.Debug("uploaded treatments", "count", len(treatments))
		}
	}
}

func (u *Uploader) record(entries, treatments int, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		u.stats.Failed += entries + treatments
		return
	}
	u.stats.Entries += entries
	u.stats.Treatments += treatments
}
