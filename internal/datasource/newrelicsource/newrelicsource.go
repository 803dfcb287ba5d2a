// Package newrelicsource links collected requests with the New Relic
// transaction running in the same context.
//
// Claimed fields: userData["newrelic"].
package newrelicsource

import (
	"context"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/akave-ai/clockwork/internal/datasource"
	"github.com/akave-ai/clockwork/internal/model"
)

const Name = "newrelic"

// AttributeRequestID is added to the transaction so APM traces can be
// looked up by request id.
const AttributeRequestID = "clockwork.id"

type DataSource struct {
	datasource.Base
}

func New() *DataSource {
	return &DataSource{}
}

func (d *DataSource) Resolve(ctx context.Context, req *model.Request) error {
	txn := newrelic.FromContext(ctx)
	if txn == nil {
		return nil
	}
	txn.AddAttribute(AttributeRequestID, req.ID)

	md := txn.GetLinkingMetadata()
	req.Tab(Name).SetTitle("New Relic").Data("Transaction", map[string]any{
		"traceId":    md.TraceID,
		"spanId":     md.SpanID,
		"entityName": md.EntityName,
		"entityGuid": md.EntityGUID,
		"hostname":   md.Hostname,
	})
	return nil
}

type Factory struct{}

func (Factory) Name() string { return Name }

func (Factory) Description() string {
	return "Trace and entity ids of the New Relic transaction in the request context."
}

func (Factory) Create(datasource.Config) (datasource.DataSource, error) {
	return New(), nil
}

func init() {
	datasource.GlobalRegistry.Register(Factory{})
}
