package utils

import (
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-_]*$`)
	digestRe   = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

func GetRandomUUID() string {
	return uuid.New().String()
}

// JoinAndSort joins two names in lexicographic order with the given
// separator, so both sides produce the same key independently.
func JoinAndSort(a, b, sep string) string {
	parts := []string{a, b}
	sort.Strings(parts)
	return strings.Join(parts, sep)
}

func ToDoc(v interface{}) (doc *bson.D, err error) {
	data, err := bson.Marshal(v)
	if err != nil {
		return
	}

	err = bson.Unmarshal(data, &doc)
	return
}

func StringInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}

func ToRawMessage(s interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func IsValidName(s string) (bool, error) {
	if len(s) == 0 {
		return false, errors.New("name can not be empty")
	}

	if len(s) > 50 {
		return false, errors.New("name too long, max 50 characters")
	}

	return true, nil
}

func IsValidPassword(s string) (bool, error) {
	if len(s) == 0 {
		return false, errors.New("password can not be empty")
	}

	if len(s) < 6 {
		return false, errors.New("password too short")
	}

	return true, nil
}

func IsValidUsername(s string) (bool, error) {
	if len(s) == 0 {
		return false, errors.New("username can not be empty")
	}

	if len(s) < 2 {
		return false, errors.New("username too short")
	}

	if len(s) > 20 {
		return false, errors.New("username too long, max 20 characters")
	}

	if !usernameRe.MatchString(s) {
		return false, errors.New("username can only have alphanumeric characters, '-', '_', and can't start with '-' or '_'")
	}

	return true, nil
}

// IsValidDigest checks the sha-256 hex digest clients send as credential.
func IsValidDigest(s string) (bool, error) {
	if len(s) == 0 {
		return false, errors.New("credential can not be empty")
	}

	if !digestRe.MatchString(s) {
		return false, errors.New("credential must be a sha-256 hex digest")
	}

	return true, nil
}

func IsValidEmail(s string) bool {
	return govalidator.IsEmail(s)
}

func IsValidUid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// IsValidRoomName accepts the same alphabet as usernames plus '.', used for
// private room keys like "alice.bob".
func IsValidRoomName(s string) (bool, error) {
	if len(s) == 0 {
		return false, errors.New("room name can not be empty")
	}

	if len(s) > 64 {
		return false, errors.New("room name too long, max 64 characters")
	}

	return true, nil
}

// CopyStruct copies fields with matching names from src to dst, both
// pointers to structs.
func CopyStruct(src, dst interface{}) {
	srcVal := reflect.ValueOf(src).Elem()
	dstVal := reflect.ValueOf(dst).Elem()

	for i := 0; i < srcVal.NumField(); i++ {
		srcField := srcVal.Field(i)
		srcType := srcVal.Type().Field(i)

		if dstVal.FieldByName(srcType.Name).IsValid() {
			dstField := dstVal.FieldByName(srcType.Name)
			if dstField.CanSet() && dstField.Type() == srcField.Type() {
				dstField.Set(srcField)
			}
		}
	}
}
