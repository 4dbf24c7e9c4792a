package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ordersync/entity"
	"ordersync/internal/config"
	"ordersync/internal/lib/sl"
)

const (
	documentsCollection = "documents"
)

// MongoDB archives every emitted outbox payload, grouped by external id.
type MongoDB struct {
	clientOptions *options.ClientOptions
	database      string
	expiredDays   int
	log           *slog.Logger
}

func NewMongoClient(conf *config.Config, logger *slog.Logger) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	if err := clientOptions.Validate(); err != nil {
		return nil, fmt.Errorf("mongodb options: %w", err)
	}
	client := &MongoDB{
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
		expiredDays:   conf.Mongo.ExpiredDays,
		log:           logger.With(sl.Module("mongodb")),
	}
	return client, nil
}

func (m *MongoDB) connect(ctx context.Context) (*mongo.Client, error) {
	connection, err := mongo.Connect(ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect error: %w", err)
	}
	return connection, nil
}

func (m *MongoDB) disconnect(ctx context.Context, connection *mongo.Client) {
	_ = connection.Disconnect(ctx)
}

// SaveDocumentVersion appends the payload as a new version of the archived
// document, creating the document on first use.
func (m *MongoDB) SaveDocumentVersion(ctx context.Context, entry *entity.OutboxEntry) error {
	connection, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer m.disconnect(ctx, connection)

	collection := connection.Database(m.database).Collection(documentsCollection)
	filter, update := versionUpdate(entry, time.Now())

	result, err := collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb update error: %w", err)
	}

	m.log.With(
		slog.String("external_id", entry.ExternalId),
		slog.String("version_id", entry.DocumentId),
		slog.Bool("created", result.UpsertedCount > 0),
	).Debug("document version archived")
	return nil
}

func versionUpdate(entry *entity.OutboxEntry, now time.Time) (bson.M, bson.M) {
	version := entity.Version{
		ID:           entry.DocumentId,
		Action:       entry.Action,
		CreationDate: entry.Created,
		Payload:      string(entry.Payload),
	}
	filter := bson.M{"external_id": entry.ExternalId}
	update := bson.M{
		"$setOnInsert": bson.M{"creation_date": now},
		"$push":        bson.M{"versions": version},
	}
	return filter, update
}

// DeleteExpired removes archived documents older than expiredDays.
// Returns the number of deleted documents.
func (m *MongoDB) DeleteExpired(ctx context.Context) (int64, error) {
	if m.expiredDays <= 0 {
		return 0, nil
	}

	connection, err := m.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer m.disconnect(ctx, connection)

	collection := connection.Database(m.database).Collection(documentsCollection)
	result, err := collection.DeleteMany(ctx, expiredFilter(time.Now(), m.expiredDays))
	if err != nil {
		return 0, fmt.Errorf("mongodb delete error: %w", err)
	}

	if result.DeletedCount > 0 {
		m.log.Info("deleted expired documents from mongodb",
			slog.Int64("deleted_count", result.DeletedCount),
			slog.Int("expired_days", m.expiredDays))
	}

	return result.DeletedCount, nil
}

func expiredFilter(now time.Time, days int) bson.M {
	return bson.M{"creation_date": bson.M{"$lt": now.AddDate(0, 0, -days)}}
}
