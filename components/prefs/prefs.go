// Package prefs persists local user preferences (display name, custom room
// list) in a config file. Every mutation is written through immediately so
// a crash never loses a change.
package prefs

import (
	"os"
	"sync"

	"github.com/spf13/viper"

	"temu/utils"
)

const defaultRoom = "general"

type Prefs struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// Load reads the prefs file, creating defaults when it does not exist yet.
func Load(path string) (*Prefs, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("displayname", "")
	v.SetDefault("rooms", []string{defaultRoom})

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, notfound := err.(viper.ConfigFileNotFoundError); !notfound {
				return nil, err
			}
		}
	}

	return &Prefs{v: v, path: path}, nil
}

func (me *Prefs) flush() error {
	return me.v.WriteConfigAs(me.path)
}

func (me *Prefs) DisplayName() string {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.v.GetString("displayname")
}

func (me *Prefs) SetDisplayName(name string) error {
	if _, err := utils.IsValidName(name); err != nil {
		return err
	}

	me.mu.Lock()
	defer me.mu.Unlock()
	me.v.Set("displayname", name)
	return me.flush()
}

// Rooms always contains the default room first.
func (me *Prefs) Rooms() []string {
	me.mu.Lock()
	defer me.mu.Unlock()

	rooms := me.v.GetStringSlice("rooms")
	if !utils.StringInSlice(defaultRoom, rooms) {
		rooms = append([]string{defaultRoom}, rooms...)
	}
	return rooms
}

func (me *Prefs) AddRoom(name string) error {
	if _, err := utils.IsValidRoomName(name); err != nil {
		return err
	}

	me.mu.Lock()
	defer me.mu.Unlock()

	rooms := me.v.GetStringSlice("rooms")
	if utils.StringInSlice(name, rooms) {
		return nil
	}
	me.v.Set("rooms", append(rooms, name))
	return me.flush()
}

func (me *Prefs) RemoveRoom(name string) error {
	// the default room can not be removed
	if name == defaultRoom {
		return nil
	}

	me.mu.Lock()
	defer me.mu.Unlock()

	rooms := me.v.GetStringSlice("rooms")
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r != name {
			out = append(out, r)
		}
	}
	if len(out) == len(rooms) {
		return nil
	}
	me.v.Set("rooms", out)
	return me.flush()
}
