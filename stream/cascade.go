// Package stream provides DynamoDB Streams handlers for the people tables.
//
// The library never cascades a person delete. Deploying [Handler.HandlePersonRemoved]
// as a Lambda on the people table stream opts in to deleting a removed person's
// addresses after the fact.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/jacentio/roster/store"
)

// AddressDeleter deletes an address and detaches it from its owner if the owner still exists.
type AddressDeleter interface {
	DeleteAddress(ctx context.Context, addressID uuid.UUID) error
}

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	deleter  AddressDeleter
	registry *store.Registry
	prefix   string
	logger   *slog.Logger
}

// NewHandler creates a new stream handler. The registry tells it which
// attribute of a removed record lists the children to delete; prefix is the
// physical table name prefix used by the dynamo backend.
func NewHandler(deleter AddressDeleter, registry *store.Registry, prefix string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = store.NewRegistry()
	}
	for _, rel := range registry.AllRelationships() {
		logger.Debug("cascade registered",
			"parentTable", prefix+rel.ParentTableName,
			"childTable", prefix+rel.ChildTableName,
			"refAttr", rel.RefAttr,
		)
	}
	return &Handler{
		deleter:  deleter,
		registry: registry,
		prefix:   prefix,
		logger:   logger,
	}
}

// HandlePersonRemoved deletes the addresses of people removed from the table.
// This function is designed to be used as an AWS Lambda handler; the people
// table stream needs the OLD_IMAGE (or NEW_AND_OLD_IMAGES) view type.
func (h *Handler) HandlePersonRemoved(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return nil
	}

	table := strings.TrimPrefix(tableFromARN(record.EventSourceArn), h.prefix)
	rels := h.registry.ChildrenOfTable(table)
	if len(rels) == 0 {
		return nil
	}

	parentID := getStringAttr(record.Change.OldImage, "id")

	h.logger.Info("processing cascade delete",
		"table", table,
		"id", parentID,
	)

	var errs []error
	deleted := 0
	for _, rel := range rels {
		for _, raw := range getStringListAttr(record.Change.OldImage, rel.RefAttr) {
			childID, err := uuid.Parse(raw)
			if err != nil {
				h.logger.Warn("skipping invalid child id",
					"childType", rel.ChildType,
					"childId", raw,
				)
				continue
			}
			// Idempotent: a child deleted by an earlier attempt is a no-op.
			if err := h.deleter.DeleteAddress(ctx, childID); err != nil {
				h.logger.Warn("failed to delete child",
					"childType", rel.ChildType,
					"childId", raw,
					"error", err,
				)
				errs = append(errs, fmt.Errorf("delete %s %s: %w", rel.ChildType, raw, err))
				continue
			}
			deleted++
		}
	}

	h.logger.Info("cascade delete completed",
		"table", table,
		"id", parentID,
		"childrenDeleted", deleted,
		"failures", len(errs),
	)

	return errors.Join(errs...)
}

// tableFromARN extracts the table name from a stream ARN:
// arn:aws:dynamodb:region:account:table/<name>/stream/<label>.
func tableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getStringListAttr extracts a string list attribute from a DynamoDB stream image.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeList {
			var result []string
			for _, item := range v.List() {
				if item.DataType() == events.DataTypeString {
					result = append(result, item.String())
				}
			}
			return result
		}
	}
	return nil
}
