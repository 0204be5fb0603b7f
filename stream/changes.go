// Package stream turns DynamoDB Streams events from a document table into
// document change notifications.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/sofa/backend/dynamo"
)

// ChangeKind classifies a document change.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeDeleted ChangeKind = "deleted"

	// ChangePurged reports that DynamoDB removed an expired tombstone.
	ChangePurged ChangeKind = "purged"
)

// Change describes one document change observed on the stream.
type Change struct {
	Seq  string
	ID   string
	Rev  string
	Kind ChangeKind
	At   time.Time
}

// Sink receives changes in stream order. Returning an error stops the batch
// so the event is redelivered.
type Sink func(ctx context.Context, change Change) error

// Handler processes DynamoDB stream events for a document table.
type Handler struct {
	sink   Sink
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(sink Sink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sink:   sink,
		logger: logger,
	}
}

// HandleChanges processes DynamoDB stream events and delivers each document
// change to the sink. This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleChanges(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		change, ok := ChangeFromRecord(record)
		if !ok {
			continue
		}
		if h.sink == nil {
			continue
		}
		if err := h.sink(ctx, change); err != nil {
			h.logger.Error("failed to deliver change",
				"eventID", record.EventID,
				"docID", change.ID,
				"error", err,
			)
			return fmt.Errorf("deliver %s of %q: %w", change.Kind, change.ID, err)
		}
		h.logger.Debug("change delivered",
			"docID", change.ID,
			"rev", change.Rev,
			"kind", change.Kind,
		)
	}
	return nil
}

// ChangeFromRecord classifies a stream record. ok is false for records that
// do not change a document's visible state, such as rewrites of a tombstone.
func ChangeFromRecord(record events.DynamoDBEventRecord) (Change, bool) {
	img := record.Change
	change := Change{
		Seq: img.SequenceNumber,
		ID:  getStringAttr(img.Keys, dynamo.AttrID),
		At:  img.ApproximateCreationDateTime.Time,
	}
	if change.ID == "" {
		return Change{}, false
	}

	switch record.EventName {
	case string(events.DynamoDBOperationTypeInsert):
		change.Kind = ChangeCreated
		change.Rev = getStringAttr(img.NewImage, dynamo.AttrRev)
	case string(events.DynamoDBOperationTypeModify):
		wasDeleted := isTombstone(img.OldImage)
		nowDeleted := isTombstone(img.NewImage)
		switch {
		case !wasDeleted && nowDeleted:
			change.Kind = ChangeDeleted
		case wasDeleted && !nowDeleted:
			change.Kind = ChangeCreated
		default:
			return Change{}, false
		}
		change.Rev = getStringAttr(img.NewImage, dynamo.AttrRev)
	case string(events.DynamoDBOperationTypeRemove):
		change.Kind = ChangePurged
		change.Rev = getStringAttr(img.OldImage, dynamo.AttrRev)
	default:
		return Change{}, false
	}
	return change, true
}

// isTombstone reports whether a stream image carries the deleted flag or a TTL.
func isTombstone(image map[string]events.DynamoDBAttributeValue) bool {
	if getBoolAttr(image, dynamo.AttrDeleted) {
		return true
	}
	return getNumberAttr(image, dynamo.AttrTTL) != 0
}
