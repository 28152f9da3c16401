/*Package audit provides sinks for the audit records of modifying operations.

Every create, update and delete of a resource emits one record, e.g.

	{"message": "Create: book", "resource": "book", "operation": "create", "user_id": 7, "payload": {...}}

Sinks never fail a request, delivery errors are logged.
*/
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/awokado/core"
	"github.com/relabs-tech/awokado/core/logger"
)

// Record is one audit record
type Record struct {
	Message   string         `json:"message"`
	Resource  string         `json:"resource"`
	Operation core.Operation `json:"operation"`
	UserID    int            `json:"user_id"`
	RequestID string         `json:"request_id,omitempty"`
	Payload   interface{}    `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewRecord returns the record of an operation
func NewRecord(ctx context.Context, resource string, operation core.Operation, identity *core.Identity, payload interface{}) Record {
	return Record{
		Message:   verb(operation) + ": " + resource,
		Resource:  resource,
		Operation: operation,
		UserID:    identity.ID(),
		RequestID: logger.RequestIDFromContext(ctx),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

func verb(operation core.Operation) string {
	switch operation {
	case core.OperationCreate, core.OperationBulkCreate:
		return "Create"
	case core.OperationUpdate, core.OperationBulkUpdate:
		return "Update"
	case core.OperationDelete:
		return "Delete"
	}
	s := string(operation)
	return strings.ToUpper(s[:1]) + s[1:]
}

// Log is an auditor which writes records to the request logger
type Log struct {
	Level logrus.Level
}

// Audit implements core.Auditor
func (l Log) Audit(ctx context.Context, resource string, operation core.Operation, identity *core.Identity, payload interface{}) {
	r := NewRecord(ctx, resource, operation, identity, payload)
	level := l.Level
	if level == 0 {
		level = logrus.DebugLevel
	}
	logger.FromContext(ctx).WithFields(logrus.Fields{
		"audit":     true,
		"user_id":   r.UserID,
		"operation": r.Operation,
		"payload":   r.Payload,
	}).Log(level, r.Message)
}

// Kafka is an auditor which publishes records to a kafka topic, keyed by resource
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka returns an auditor which publishes to topic on the given brokers
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

// Audit implements core.Auditor
func (k *Kafka) Audit(ctx context.Context, resource string, operation core.Operation, identity *core.Identity, payload interface{}) {
	rlog := logger.FromContext(ctx)
	value, err := json.Marshal(NewRecord(ctx, resource, operation, identity, payload))
	if err != nil {
		rlog.WithError(err).Errorln("cannot marshal audit record")
		return
	}
	err = k.writer.WriteMessages(context.WithoutCancel(ctx), kafka.Message{Key: []byte(resource), Value: value})
	if err != nil {
		rlog.WithError(err).Errorln("cannot publish audit record")
	}
}

// Close flushes pending records and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Multi forwards records to several auditors
type Multi []core.Auditor

// Audit implements core.Auditor
func (m Multi) Audit(ctx context.Context, resource string, operation core.Operation, identity *core.Identity, payload interface{}) {
	for _, a := range m {
		a.Audit(ctx, resource, operation, identity, payload)
	}
}

// Recorder is an auditor which keeps records in memory. Read Records only while
// no request is running.
type Recorder struct {
	mutex   sync.Mutex
	Records []Record
}

// Audit implements core.Auditor
func (r *Recorder) Audit(ctx context.Context, resource string, operation core.Operation, identity *core.Identity, payload interface{}) {
	record := NewRecord(ctx, resource, operation, identity, payload)
	r.mutex.Lock()
	r.Records = append(r.Records, record)
	r.mutex.Unlock()
}
