package audit

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/guardrailhq/guardrail/internal/models"
	"github.com/guardrailhq/guardrail/internal/ratelimit"
)

// queueSize bounds buffered events awaiting the database writer.
const queueSize = 256

// LogSink writes security events to the structured log.
type LogSink struct{}

// LogEvent implements ratelimit.AuditSink.
func (LogSink) LogEvent(event string, context map[string]any) {
	log.WithFields(log.Fields(context)).Info(event)
}

// DBSink persists security events as rows without blocking the caller.
// Events are dropped, with a warning, when the writer falls behind.
type DBSink struct {
	db    *gorm.DB
	queue chan models.SecurityEvent
	done  chan struct{}
}

// NewDBSink constructs a DBSink and starts its writer.
func NewDBSink(conn *gorm.DB) *DBSink {
	s := &DBSink{
		db:    conn,
		queue: make(chan models.SecurityEvent, queueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// LogEvent implements ratelimit.AuditSink.
func (s *DBSink) LogEvent(event string, context map[string]any) {
	record := models.SecurityEvent{
		Event:     event,
		CreatedAt: time.Now().UTC(),
	}
	if subject, ok := context["subject"].(string); ok {
		record.Subject = subject
	}
	if len(context) > 0 {
		if payload, errMarshal := json.Marshal(context); errMarshal == nil {
			record.Context = datatypes.JSON(payload)
		}
	}

	select {
	case s.queue <- record:
	default:
		log.WithField("event", event).Warn("audit: queue full, dropping event")
	}
}

// Close flushes queued events and stops the writer. Call only after the
// server has stopped producing events.
func (s *DBSink) Close() {
	close(s.queue)
	<-s.done
}

func (s *DBSink) run() {
	defer close(s.done)
	for record := range s.queue {
		if errCreate := s.db.Create(&record).Error; errCreate != nil {
			log.WithError(errCreate).Warn("audit: persist event failed")
		}
	}
}

// MultiSink fans one event out to several sinks.
type MultiSink []ratelimit.AuditSink

// LogEvent implements ratelimit.AuditSink.
func (m MultiSink) LogEvent(event string, context map[string]any) {
	for _, sink := range m {
		if sink != nil {
			sink.LogEvent(event, context)
		}
	}
}
