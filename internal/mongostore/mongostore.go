// Package mongostore implements store.RoomStore on MongoDB.
//
// Rooms, messages and profiles live in three collections. A room write is a
// ReplaceOne filtered on {_id, version}; it runs inside a multi-document
// transaction together with any staged profile writes, so MongoDB must be
// deployed as a replica set (a single-node replica set is enough).
package mongostore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tbourn/go-fluency-battle/internal/domain"
	"github.com/tbourn/go-fluency-battle/internal/store"
)

const (
	roomsCollection    = "rooms"
	messagesCollection = "messages"
	profilesCollection = "profiles"
)

// Store is safe for concurrent use.
type Store struct {
	client   *mongo.Client
	rooms    *mongo.Collection
	messages *mongo.Collection
	profiles *mongo.Collection
}

var _ store.RoomStore = (*Store)(nil)

// Connect dials uri and returns a store bound to database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return New(client, database), nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:   client,
		rooms:    db.Collection(roomsCollection),
		messages: db.Collection(messagesCollection),
		profiles: db.Collection(profilesCollection),
	}
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks that the primary answers; used by /ready.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates the queue, code, host and message indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.rooms.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "mode", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "code", Value: 1}}},
		{Keys: bson.D{{Key: "hostId", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "opponentId", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}},
		{
			Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "senderId", Value: 1}, {Key: "clientKey", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"clientKey": bson.M{"$exists": true}}),
		},
	})
	return err
}

func translate(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

// CreateRoom implements store.RoomStore.
func (s *Store) CreateRoom(ctx context.Context, r *domain.Room) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := store.CheckRoom(r); err != nil {
		return err
	}
	_, err := s.rooms.InsertOne(ctx, r)
	return err
}

// GetRoom implements store.RoomStore.
func (s *Store) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	var r domain.Room
	if err := s.rooms.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *Store) findWaiting(ctx context.Context, filter bson.M) (*domain.Room, error) {
	filter["status"] = domain.StatusWaiting
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	var r domain.Room
	if err := s.rooms.FindOne(ctx, filter, opts).Decode(&r); err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// FindRoomByCode implements store.RoomStore.
func (s *Store) FindRoomByCode(ctx context.Context, code string, mode domain.RoomMode) (*domain.Room, error) {
	return s.findWaiting(ctx, bson.M{"code": code, "mode": mode})
}

// FindHostedWaiting implements store.RoomStore.
func (s *Store) FindHostedWaiting(ctx context.Context, hostID string, mode domain.RoomMode) (*domain.Room, error) {
	return s.findWaiting(ctx, bson.M{"hostId": hostID, "mode": mode})
}

// FindActive implements store.RoomStore.
func (s *Store) FindActive(ctx context.Context, userID string, mode domain.RoomMode, since time.Time) (*domain.Room, error) {
	filter := bson.M{
		"status":    domain.StatusMatched,
		"mode":      mode,
		"startedAt": bson.M{"$gt": since.UTC()},
		"$or":       bson.A{bson.M{"hostId": userID}, bson.M{"opponentId": userID}},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "startedAt", Value: -1}, {Key: "_id", Value: -1}})
	var r domain.Room
	if err := s.rooms.FindOne(ctx, filter, opts).Decode(&r); err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

// ListWaiting implements store.RoomStore.
func (s *Store) ListWaiting(ctx context.Context, q store.WaitingQuery) ([]domain.Room, error) {
	filter := bson.M{
		"status":    domain.StatusWaiting,
		"mode":      q.Mode,
		"createdAt": bson.M{"$gt": q.Since.UTC()},
	}
	if q.ExcludeHost != "" {
		filter["hostId"] = bson.M{"$ne": q.ExcludeHost}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.rooms.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Room, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type mongoTx struct {
	ctx    mongo.SessionContext
	s      *Store
	room   *domain.Room
	staged map[string]*domain.Profile
}

func (t *mongoTx) Room() *domain.Room { return t.room }

func (t *mongoTx) Profile(userID string) (*domain.Profile, error) {
	if p, ok := t.staged[userID]; ok {
		return store.CloneProfile(p), nil
	}
	var p domain.Profile
	err := t.s.profiles.FindOne(t.ctx, bson.M{"_id": userID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &domain.Profile{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *mongoTx) PutProfile(p *domain.Profile) {
	t.staged[p.UserID] = store.CloneProfile(p)
}

// Transact implements store.RoomStore.
func (s *Store) Transact(ctx context.Context, roomID string, fn store.TxFunc) (*domain.Room, error) {
	var out *domain.Room
	err := store.Retry(ctx, func() error {
		sess, err := s.client.StartSession()
		if err != nil {
			return err
		}
		defer sess.EndSession(ctx)

		_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			var snap domain.Room
			if err := s.rooms.FindOne(sc, bson.M{"_id": roomID}).Decode(&snap); err != nil {
				return nil, translate(err)
			}
			tx := &mongoTx{ctx: sc, s: s, room: store.CloneRoom(&snap), staged: map[string]*domain.Profile{}}
			write, err := fn(tx)
			if err != nil {
				return nil, err
			}
			if !write {
				out = &snap
				return nil, nil
			}
			if err := store.CheckWrite(&snap, tx.room); err != nil {
				return nil, err
			}
			tx.room.Version = snap.Version + 1
			res, err := s.rooms.ReplaceOne(sc, bson.M{"_id": roomID, "version": snap.Version}, tx.room)
			if err != nil {
				return nil, err
			}
			if res.MatchedCount == 0 {
				return nil, store.ErrConflict
			}
			now := time.Now().UTC()
			for uid, p := range tx.staged {
				p.UpdatedAt = now
				if _, err := s.profiles.ReplaceOne(sc, bson.M{"_id": uid}, p, options.Replace().SetUpsert(true)); err != nil {
					return nil, err
				}
			}
			out = tx.room
			return nil, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendMessage implements store.RoomStore.
func (s *Store) AppendMessage(ctx context.Context, m *domain.Message) (*domain.Message, bool, error) {
	if m.ClientKey != nil {
		if prev, err := s.findByClientKey(ctx, m); err == nil {
			return prev, false, nil
		} else if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, err
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, false, err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := s.rooms.UpdateOne(sc,
			bson.M{"_id": m.RoomID, "status": domain.StatusMatched},
			bson.M{"$inc": bson.M{"version": 1}})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			if err := s.rooms.FindOne(sc, bson.M{"_id": m.RoomID}).Err(); err != nil {
				return nil, translate(err)
			}
			return nil, store.ErrRoomClosed
		}
		_, err = s.messages.InsertOne(sc, m)
		return nil, err
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) && m.ClientKey != nil {
			if prev, ferr := s.findByClientKey(ctx, m); ferr == nil {
				return prev, false, nil
			}
		}
		return nil, false, err
	}
	return m, true, nil
}

func (s *Store) findByClientKey(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	var prev domain.Message
	err := s.messages.FindOne(ctx, bson.M{
		"roomId":    m.RoomID,
		"senderId":  m.SenderID,
		"clientKey": *m.ClientKey,
	}).Decode(&prev)
	if err != nil {
		return nil, err
	}
	return &prev, nil
}

// ListMessages implements store.RoomStore.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.messages.Find(ctx, bson.M{"roomId": roomID}, opts)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
