package messagedb

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CreateMessage struct {
	MID    string    `json:"mid" bson:"mid"`
	Room   string    `json:"room" bson:"room"`
	Sender string    `json:"sender" bson:"sender"`
	Body   string    `json:"body" bson:"body"`
	SentAt time.Time `json:"sent_at" bson:"sent_at"`
}

type DBMessage struct {
	Id     primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	MID    string             `json:"mid" bson:"mid"`
	Room   string             `json:"room" bson:"room"`
	Sender string             `json:"sender" bson:"sender"`
	Body   string             `json:"body" bson:"body"`
	SentAt time.Time          `json:"sent_at" bson:"sent_at"`
}
