package database

import (
	"advisor/schemas"
	"advisor/utils"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	MONGO_TIMEOUT    = 20 * time.Second
	COLLECTION_LEADS = "leads"
)

// GetDB maps the deployment environment to its database name.
func GetDB(environment string) string {
	if environment == utils.ENV_RELEASE {
		return "production"
	}

	if environment == utils.ENV_HOMOLOG {
		return "homolog"
	}

	if environment == utils.ENV_DEVELOPMENT {
		return "development"
	}

	panic("[MongoDB] Invalid DB name")
}

type leadDocument struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	SheetID      string        `bson:"sheet_id"`
	Tab          string        `bson:"tab"`
	schemas.Lead `bson:",inline"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// MongoStore keeps each sheet tab as the documents of the leads collection
// carrying that sheet_id and tab. Row ids are ObjectID hex strings.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoStore(uri, dbName string) (*MongoStore, error) {
	opts := options.Client().ApplyURI(uri)
	mongoClient, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	return &MongoStore{
		client:     mongoClient,
		collection: mongoClient.Database(dbName).Collection(COLLECTION_LEADS),
	}, nil
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "sheet_id", Value: 1}, {Key: "tab", Value: 1}},
	})
	return err
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func targetFilter(target schemas.SheetTarget) bson.D {
	return bson.D{
		{Key: "sheet_id", Value: target.SheetID},
		{Key: "tab", Value: target.Tab},
	}
}

func (s *MongoStore) Rows(ctx context.Context, target schemas.SheetTarget) ([]schemas.LeadRow, error) {
	cursor, err := s.collection.Find(ctx, targetFilter(target), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find leads: %w", err)
	}
	defer cursor.Close(ctx)

	docs := []leadDocument{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode leads: %w", err)
	}

	rows := make([]schemas.LeadRow, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, schemas.LeadRow{ID: doc.ID.Hex(), Lead: doc.Lead})
	}
	return rows, nil
}

func (s *MongoStore) Row(ctx context.Context, target schemas.SheetTarget, id string) (schemas.LeadRow, bool, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return schemas.LeadRow{}, false, nil
	}

	filter := append(targetFilter(target), bson.E{Key: "_id", Value: oid})
	doc := leadDocument{}
	err = s.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return schemas.LeadRow{}, false, nil
	}
	if err != nil {
		return schemas.LeadRow{}, false, fmt.Errorf("find lead %s: %w", id, err)
	}
	return schemas.LeadRow{ID: id, Lead: doc.Lead}, true, nil
}

func (s *MongoStore) Update(ctx context.Context, target schemas.SheetTarget, id string, lead schemas.Lead) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return ErrRowNotFound
	}

	filter := append(targetFilter(target), bson.E{Key: "_id", Value: oid})
	doc := leadDocument{
		SheetID:   target.SheetID,
		Tab:       target.Tab,
		Lead:      lead,
		UpdatedAt: time.Now(),
	}
	result, err := s.collection.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return fmt.Errorf("replace lead %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrRowNotFound
	}
	return nil
}

func (s *MongoStore) Append(ctx context.Context, target schemas.SheetTarget, lead schemas.Lead) (string, error) {
	doc := leadDocument{
		SheetID:   target.SheetID,
		Tab:       target.Tab,
		Lead:      lead,
		UpdatedAt: time.Now(),
	}
	result, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert lead: %w", err)
	}
	oid, ok := result.InsertedID.(bson.ObjectID)
	if !ok {
		return fmt.Sprint(result.InsertedID), nil
	}
	return oid.Hex(), nil
}
