// Package heartbeat keeps the ad pixel active by sending a synthetic
// one dollar purchase at a fixed interval. The scheduler lives in one
// process; deployments with several instances should call SendOne from
// an external cron instead of starting it everywhere.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irsalhamdi/course-checkout/conversion"
	"github.com/irsalhamdi/course-checkout/metrics"
	"github.com/irsalhamdi/course-checkout/random"
	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval = 120 * time.Second

	Email     = "auto@cursolexia.com"
	FirstName = "Sistema"
	LastName  = "Automático"
	Currency  = "USD"
	Value     = 1
)

var ErrRunning = errors.New("heartbeat already running")

type Reporter interface {
	Report(ctx context.Context, eventName string, data conversion.EventData, ud conversion.UserData) conversion.Result
}

// Event describes one synthetic purchase.
type Event struct {
	Number        int64  `json:"eventNumber"`
	CourseID      string `json:"courseId"`
	CourseName    string `json:"courseName"`
	TransactionID string `json:"transactionId"`
	UserID        string `json:"userId"`
	EventID       string `json:"eventId"`
}

type Status struct {
	Running  bool  `json:"isActive"`
	Interval int   `json:"intervalSeconds,omitempty"`
	Sent     int64 `json:"totalEvents"`
}

type Scheduler struct {
	reporter Reporter
	log      logrus.FieldLogger
	metrics  *metrics.Collector
	now      func() time.Time
	sent     atomic.Int64

	mu       sync.Mutex
	running  bool
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(reporter Reporter, log logrus.FieldLogger, m *metrics.Collector) *Scheduler {
	return &Scheduler{
		reporter: reporter,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// Start sends a first event right away, then one every interval until
// Stop. It fails with ErrRunning when already started, and does not
// start when the first event cannot be sent.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) (Event, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return Event{}, ErrRunning
	}

	ev, err := s.send(ctx)
	if err != nil {
		return ev, fmt.Errorf("sending first heartbeat: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.interval = interval
	s.cancel = cancel
	s.done = done

	go s.loop(loopCtx, interval, done)

	s.log.WithField("interval", interval.String()).Info("heartbeat started")
	return ev, nil
}

// Stop cancels the schedule and waits for the loop to return. It reports
// whether the scheduler was running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.cancel()
	done := s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	<-done
	s.log.WithField("sent", s.sent.Load()).Info("heartbeat stopped")
	return true
}

// SendOne sends a single event whether or not the schedule runs.
func (s *Scheduler) SendOne(ctx context.Context) (Event, error) {
	return s.send(ctx)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, Sent: s.sent.Load()}
	if s.running {
		st.Interval = int(s.interval / time.Second)
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.send(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("heartbeat not sent")
			}
		}
	}
}

func (s *Scheduler) send(ctx context.Context) (Event, error) {
	now := s.now()
	stamp := strconv.FormatInt(now.UnixMilli(), 10)
	n := s.sent.Load() + 1

	ev := Event{
		Number:        n,
		CourseID:      "auto-course-" + stamp,
		CourseName:    "Curso Automático " + strconv.FormatInt(n, 10),
		TransactionID: "auto_" + stamp,
		UserID:        "auto-user-" + random.Base36(9),
	}

	data := conversion.EventData{
		CustomData: map[string]any{
			"content_ids":    []string{ev.CourseID},
			"content_name":   ev.CourseName,
			"content_type":   "product",
			"value":          Value,
			"currency":       Currency,
			"transaction_id": ev.TransactionID,
			"auto_event":     true,
			"generated_at":   now.UTC().Format(time.RFC3339),
			"event_number":   n,
		},
	}

	res := s.reporter.Report(ctx, conversion.EventPurchase, data, conversion.UserData{
		Email:      Email,
		FirstName:  FirstName,
		LastName:   LastName,
		ExternalID: ev.UserID,
	})
	ev.EventID = res.EventID

	if s.metrics != nil {
		s.metrics.Conversion(conversion.EventPurchase, res.Success)
	}
	if !res.Success {
		err := res.Err
		if err == nil {
			err = errors.New("heartbeat rejected")
		}
		return ev, err
	}

	ev.Number = s.sent.Add(1)
	if s.metrics != nil {
		s.metrics.Heartbeat()
	}
	return ev, nil
}
