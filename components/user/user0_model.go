package user

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Login struct {
	Username string `json:"username" bson:"username"`
	Digest   string `json:"digest" bson:"digest"`
}

type GetUserRequest struct {
	UID string `json:"uid"`
	JWT string `json:"jwt"`
}

type SearchUser struct {
	UID     string `json:"uid"`
	Keyword string `json:"keyword"`
	Page    string `json:"page"`
	Limit   string `json:"limit"`
}

type UpdateUserRequest struct {
	UID    string `json:"uid"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

type ResponseStatus struct {
	UID    string `json:"uid"`
	Status string `json:"status"`
}

type ResponseUser struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	Username string `json:"username"`
	JWT      string `json:"jwt"`
	Avatar   string `json:"avatar"`
	IsNew    bool   `json:"isnew"`
}

type ResponseUserShort struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type CreateUser struct {
	UID        string    `json:"uid" bson:"uid"`
	Name       string    `json:"name" bson:"name"`
	Username   string    `json:"username" bson:"username"`
	Credential string    `json:"credential" bson:"credential"`
	Email      string    `json:"email" bson:"email"`
	CreatedAt  time.Time `json:"created_at,omitempty" bson:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
	Avatar     string    `json:"avatar" bson:"avatar"`
}

type DBUser struct {
	Id         primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	UID        string             `json:"uid" bson:"uid"`
	Name       string             `json:"name" bson:"name"`
	Username   string             `json:"username" bson:"username"`
	Credential string             `json:"credential" bson:"credential"`
	Email      string             `json:"email" bson:"email"`
	CreatedAt  time.Time          `json:"created_at,omitempty" bson:"created_at,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
	Avatar     string             `json:"avatar" bson:"avatar"`
}
