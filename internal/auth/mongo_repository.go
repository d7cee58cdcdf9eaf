package auth

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for MongoDB user repository.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. mmoworld
	Collection string // e.g. users
	Counters   string // e.g. counters (for auto-increment)
}

// MongoUserRepo implements UserRepository on MongoDB backend.
// Альтернатива MariaDB для хранения пользователей; хранилище мира
// выбирается отдельно (MariaDB при заданном DSN, иначе Badger).
type MongoUserRepo struct {
	client      *mongo.Client
	collection  *mongo.Collection
	counterColl *mongo.Collection
	ctxTimeout  time.Duration
}

// NewMongoUserRepo establishes connection and returns repository.
func NewMongoUserRepo(cfg MongoConfig) (*MongoUserRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "mmoworld"
	}
	if cfg.Collection == "" {
		cfg.Collection = "users"
	}
	if cfg.Counters == "" {
		cfg.Counters = "counters"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	db := client.Database(cfg.Database)
	repo := &MongoUserRepo{
		client:      client,
		collection:  db.Collection(cfg.Collection),
		counterColl: db.Collection(cfg.Counters),
		ctxTimeout:  5 * time.Second,
	}
	if err := repo.ensureIndexes(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (m *MongoUserRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	usernameIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("username_unique"),
	}
	userIDIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("userid_unique"),
	}
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{usernameIdx, userIDIdx})
	return err
}

type mongoUserDoc struct {
	UserID       uint64 `bson:"user_id"`
	Username     string `bson:"user_name"`
	PasswordHash string `bson:"password_hash"`
	IsAdmin      bool   `bson:"admin"`
}

// GetUserByUsername implements UserRepository.
func (m *MongoUserRepo) GetUserByUsername(username string) (*User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()

	var doc mongoUserDoc
	err := m.collection.FindOne(ctx, bson.M{"user_name": strings.ToLower(username)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &User{
		ID:           doc.UserID,
		Username:     doc.Username,
		PasswordHash: doc.PasswordHash,
		IsAdmin:      doc.IsAdmin,
	}, nil
}

// CreateUser inserts a new document and returns created user.
func (m *MongoUserRepo) CreateUser(username string, passwordHash string, isAdmin bool) (*User, error) {
	nextID, err := m.nextSequence("userid")
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           nextID,
		Username:     strings.ToLower(username),
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	_, err = m.collection.InsertOne(ctx, mongoUserDoc{
		UserID:       user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		IsAdmin:      user.IsAdmin,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ValidateCredentials validates username and password.
func (m *MongoUserRepo) ValidateCredentials(username, password string) (*User, error) {
	user, err := m.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// nextSequence atomically increments a counter and returns new value.
func (m *MongoUserRepo) nextSequence(name string) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	res := m.counterColl.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, err
	}
	return uint64(doc.Seq), nil
}

// Close terminates connection.
func (m *MongoUserRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
