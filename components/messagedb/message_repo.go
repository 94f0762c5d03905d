package messagedb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type I_MessageRepo interface {
	AddMessage(*CreateMessage) (*DBMessage, error)
	FindLastMessages(room string, n int) ([]*DBMessage, error)
	FindMessagesByRoom(room string, page int, limit int) ([]*DBMessage, error)
	DeleteRoomMessages(room string) error
}

type MessageRepository struct {
	msgCollection *mongo.Collection
	ctx           context.Context
}

func NewMessageRepository(msgCollection *mongo.Collection, ctx context.Context) I_MessageRepo {
	return &MessageRepository{msgCollection, ctx}
}

func (me *MessageRepository) AddMessage(msg *CreateMessage) (*DBMessage, error) {
	if msg.Room == "" || msg.Sender == "" {
		return nil, errors.New("message needs room and sender")
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	res, err := me.msgCollection.InsertOne(me.ctx, msg)
	if err != nil {
		return nil, err
	}

	index := mongo.IndexModel{Keys: bson.D{{Key: "room", Value: 1}, {Key: "sent_at", Value: 1}}}
	if _, err := me.msgCollection.Indexes().CreateOne(me.ctx, index); err != nil {
		return nil, err
	}

	var saved *DBMessage
	query := bson.M{"_id": res.InsertedID}
	if err = me.msgCollection.FindOne(me.ctx, query).Decode(&saved); err != nil {
		return nil, err
	}

	return saved, nil
}

// FindLastMessages returns the newest n messages of a room in chronological
// order, the shape a chat view renders directly.
func (me *MessageRepository) FindLastMessages(room string, n int) ([]*DBMessage, error) {
	return me.FindMessagesByRoom(room, 1, n)
}

// FindMessagesByRoom pages backwards from the newest message; page 1 is the
// most recent `limit` messages. Every page is chronological.
func (me *MessageRepository) FindMessagesByRoom(room string, page int, limit int) ([]*DBMessage, error) {
	if page == 0 {
		page = 1
	}

	if limit == 0 {
		limit = 50
	}

	skip := (page - 1) * limit

	opt := options.FindOptions{}
	opt.SetSort(bson.M{"sent_at": -1})
	opt.SetLimit(int64(limit))
	opt.SetSkip(int64(skip))

	query := bson.M{"room": room}
	cursor, err := me.msgCollection.Find(me.ctx, query, &opt)
	if err != nil {
		return nil, err
	}

	defer cursor.Close(me.ctx)

	var messages []*DBMessage

	for cursor.Next(me.ctx) {
		m := &DBMessage{}
		if err := cursor.Decode(m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}

	// newest-first from the query, flip to chronological
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if len(messages) == 0 {
		return []*DBMessage{}, nil
	}

	return messages, nil
}

func (me *MessageRepository) DeleteRoomMessages(room string) error {
	query := bson.M{"room": room}
	_, err := me.msgCollection.DeleteMany(me.ctx, query)
	return err
}
