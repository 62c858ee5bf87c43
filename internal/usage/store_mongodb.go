package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"aigateway/internal/core"
)

// ErrPartialWrite indicates that a batch write only partially succeeded.
var ErrPartialWrite = errors.New("partial write failure")

// PartialWriteError reports how many records of a batch failed to insert.
type PartialWriteError struct {
	TotalRecords int
	FailedCount  int
	Cause        mongo.BulkWriteException
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial usage insert: %d of %d records failed: %v",
		e.FailedCount, e.TotalRecords, e.Cause.Error())
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

var usagePartialWriteFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "aigateway_usage_partial_write_failures_total",
		Help: "Total number of partial write failures when inserting usage records to MongoDB",
	},
)

// mongoRecord is the stored document. Cost is kept in integer micro-dollars so that
// $sum stays exact.
type mongoRecord struct {
	ID           string    `bson:"_id"`
	RequestID    string    `bson:"request_id"`
	Attempt      int       `bson:"attempt"`
	Provider     string    `bson:"provider"`
	Model        string    `bson:"model"`
	Feature      string    `bson:"feature"`
	TokensIn     int       `bson:"tokens_in"`
	TokensOut    int       `bson:"tokens_out"`
	CostMicros   int64     `bson:"cost_micros"`
	Success      bool      `bson:"success"`
	ErrorMessage string    `bson:"error_message,omitempty"`
	LatencyMs    int64     `bson:"latency_ms"`
	ActorID      string    `bson:"actor_id,omitempty"`
	OccurredAt   time.Time `bson:"occurred_at"`
}

func toMongoRecord(r *Record) mongoRecord {
	return mongoRecord{
		ID:           r.ID,
		RequestID:    r.RequestID,
		Attempt:      r.Attempt,
		Provider:     string(r.Provider),
		Model:        r.Model,
		Feature:      string(r.Feature),
		TokensIn:     r.TokensIn,
		TokensOut:    r.TokensOut,
		CostMicros:   toMicros(r.CostEstimate),
		Success:      r.Success,
		ErrorMessage: r.ErrorMessage,
		LatencyMs:    r.LatencyMs,
		ActorID:      r.ActorID,
		OccurredAt:   r.OccurredAt.UTC(),
	}
}

// MongoDBStore implements Store and Reader for MongoDB. Retention uses a TTL index.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates the collection indexes.
func NewMongoDBStore(ctx context.Context, database *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if database == nil {
		return nil, errors.New("database is required")
	}
	collection := database.Collection("ai_usage_records")

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "occurred_at", Value: -1}}},
		{Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "attempt", Value: 1}}},
	}
	// A field can carry only one index when that index is TTL.
	if retentionDays > 0 {
		ttlSeconds := int32(int64(retentionDays) * 24 * 60 * 60)
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "occurred_at", Value: -1}},
			Options: options.Index().SetExpireAfterSeconds(ttlSeconds),
		})
	} else {
		indexes = append(indexes, mongo.IndexModel{
			Keys: bson.D{{Key: "occurred_at", Value: -1}},
		})
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Warn("failed to create some MongoDB indexes for usage", "error", err)
	}

	return &MongoDBStore{collection: collection}, nil
}

// duplicateKeyCode is MongoDB's E11000 duplicate key error.
const duplicateKeyCode = 11000

// WriteBatch inserts records with an unordered InsertMany. Documents already present are
// ignored; attempt order is recoverable from request_id, attempt and occurred_at.
func (s *MongoDBStore) WriteBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = toMongoRecord(r)
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}

	var bulkErr mongo.BulkWriteException
	var bulkErrPtr *mongo.BulkWriteException
	if errors.As(err, &bulkErrPtr) && bulkErrPtr != nil {
		bulkErr = *bulkErrPtr
	}
	if bulkErrPtr != nil || errors.As(err, &bulkErr) {
		failed := 0
		for _, we := range bulkErr.WriteErrors {
			if we.Code != duplicateKeyCode {
				failed++
			}
		}
		if failed == 0 && bulkErr.WriteConcernError == nil {
			return nil
		}
		slog.Warn("partial usage insert failure",
			"total", len(records),
			"failed", failed,
		)
		usagePartialWriteFailures.Inc()
		return &PartialWriteError{
			TotalRecords: len(records),
			FailedCount:  failed,
			Cause:        bulkErr,
		}
	}
	return fmt.Errorf("failed to insert usage records: %w", err)
}

// Flush is a no-op for MongoDB as writes are synchronous.
func (s *MongoDBStore) Flush(_ context.Context) error {
	return nil
}

// Close is a no-op; the client belongs to the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}

// SpendSince sums cost per provider.
func (s *MongoDBStore) SpendSince(ctx context.Context, since time.Time) (map[core.ProviderID]decimal.Decimal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "occurred_at", Value: bson.D{{Key: "$gte", Value: since.UTC()}}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$provider"},
			{Key: "micros", Value: bson.D{{Key: "$sum", Value: "$cost_micros"}}},
		}}},
	}
	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate spend: %w", err)
	}
	defer cursor.Close(ctx)

	out := make(map[core.ProviderID]decimal.Decimal)
	for cursor.Next(ctx) {
		var row struct {
			Provider string `bson:"_id"`
			Micros   int64  `bson:"micros"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode spend row: %w", err)
		}
		out[core.ProviderID(row.Provider)] = fromMicros(row.Micros)
	}
	return out, cursor.Err()
}

// Stats aggregates records per (provider, feature). Documents are sorted newest first
// before grouping so $first yields the latest error message.
func (s *MongoDBStore) Stats(ctx context.Context, since time.Time) ([]ProviderStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "occurred_at", Value: bson.D{{Key: "$gte", Value: since.UTC()}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "occurred_at", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "provider", Value: "$provider"}, {Key: "feature", Value: "$feature"}}},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "successes", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{"$success", 1, 0}}}}}},
			{Key: "avg_latency", Value: bson.D{{Key: "$avg", Value: "$latency_ms"}}},
			{Key: "micros", Value: bson.D{{Key: "$sum", Value: "$cost_micros"}}},
			{Key: "errors", Value: bson.D{{Key: "$push", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$success", false}}}, "$error_message", "$$REMOVE",
			}}}}}},
		}}},
	}
	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer cursor.Close(ctx)

	var stats []ProviderStats
	for cursor.Next(ctx) {
		var row struct {
			ID struct {
				Provider string `bson:"provider"`
				Feature  string `bson:"feature"`
			} `bson:"_id"`
			Total      int      `bson:"total"`
			Successes  int      `bson:"successes"`
			AvgLatency float64  `bson:"avg_latency"`
			Micros     int64    `bson:"micros"`
			Errors     []string `bson:"errors"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode stats row: %w", err)
		}
		st := ProviderStats{
			Provider:      core.ProviderID(row.ID.Provider),
			Feature:       core.Feature(row.ID.Feature),
			TotalRequests: row.Total,
			SuccessCount:  row.Successes,
			AvgLatencyMs:  row.AvgLatency,
			TotalCost:     fromMicros(row.Micros),
		}
		if len(row.Errors) > 0 {
			st.LastError = row.Errors[0]
		}
		finishStats(&st)
		stats = append(stats, st)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	sortStats(stats)
	return stats, nil
}
