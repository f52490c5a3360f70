package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hilthontt/roomsync/internal/domain"
	"github.com/hilthontt/roomsync/internal/persistence/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type roomRepository struct {
	db        *mongo.Database
	retention time.Duration
}

// NewRoomRepository stores rooms in MongoDB. Closed and abandoned rooms are
// removed by a TTL index once they have not been updated for retention.
func NewRoomRepository(database *mongo.Database, retention time.Duration) *roomRepository {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &roomRepository{
		db:        database,
		retention: retention,
	}
}

var _ domain.RoomRepository = (*roomRepository)(nil)

func (r *roomRepository) collection() *mongo.Collection {
	return r.db.Collection(db.RoomsCollection)
}

func activeFilter(gameID, code string) bson.M {
	return bson.M{
		"game_id": gameID,
		"code":    code,
		"status":  bson.M{"$ne": domain.RoomStatusClosed},
	}
}

// latest sorts the newest room first; a code can have closed predecessors.
func latest() bson.D {
	return bson.D{{Key: "created_at", Value: -1}}
}

// Create inserts room unless a live room already holds the code. The check
// and the insert are two round trips; codes are short-lived enough that the
// gap is accepted.
func (r *roomRepository) Create(ctx context.Context, room *domain.Room) error {
	if room == nil || room.GameID == "" || room.Code == "" {
		return domain.ErrInvalidInput
	}

	err := r.collection().FindOne(ctx, activeFilter(room.GameID, room.Code)).Err()
	switch {
	case err == nil:
		return domain.ErrRoomAlreadyExists
	case !errors.Is(err, mongo.ErrNoDocuments):
		return err
	}

	_, err = r.collection().InsertOne(ctx, room)
	return err
}

func (r *roomRepository) Get(ctx context.Context, gameID, code string) (*domain.Room, error) {
	filter := bson.M{"game_id": gameID, "code": code}
	opts := options.FindOne().SetSort(latest())

	var room domain.Room
	if err := r.collection().FindOne(ctx, filter, opts).Decode(&room); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (r *roomRepository) UpdateStatus(ctx context.Context, gameID, code string, status domain.RoomStatus) error {
	filter := bson.M{"game_id": gameID, "code": code}
	update := bson.M{"$set": bson.M{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetSort(latest())

	err := r.collection().FindOneAndUpdate(ctx, filter, update, opts).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrRoomNotFound
	}
	return err
}

func (r *roomRepository) ListPublic(ctx context.Context, gameID string) ([]domain.Room, error) {
	filter := bson.M{
		"game_id":            gameID,
		"settings.is_public": true,
		"status":             domain.RoomStatusWaiting,
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(100)

	cursor, err := r.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	rooms := []domain.Room{}
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *roomRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "game_id", Value: 1},
				{Key: "code", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "game_id", Value: 1},
				{Key: "settings.is_public", Value: 1},
				{Key: "status", Value: 1},
			},
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(r.retention.Seconds())),
		},
	}

	_, err := r.collection().Indexes().CreateMany(ctx, indexes)
	return err
}
