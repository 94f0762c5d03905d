package chat

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"

	"temu/app/vicall"
	"temu/components/messagedb"
	"temu/utils"
)

type Room struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Private    bool      `json:"private"`
	server     *WsServer
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	writeMsgDB chan *Message
	callStatus chan int
	watcher    *vicall.RosterWatcher
}

// NewRoom creates a new Room
func NewRoom(server *WsServer, name string, private bool) *Room {
	return &Room{
		ID:         uuid.New(),
		Name:       name,
		Private:    private,
		server:     server,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message),
		writeMsgDB: make(chan *Message),
		callStatus: make(chan int, 8),
	}
}

// RunRoom runs our room, accepting various requests
func (room *Room) RunRoom() {
	room.watchCall()

	for {
		select {

		case client := <-room.register:
			room.registerClientInRoom(client)

		case client := <-room.unregister:
			room.unregisterClientInRoom(client)

		case message := <-room.broadcast:
			room.broadcastToClientsInRoom(message.encode())

		case message := <-room.writeMsgDB:
			room.persistMessage(message)

		case count := <-room.callStatus:
			room.notifyCallStatus(count)
		}
	}
}

// watchCall mirrors the room's call roster so members see the ongoing-call
// badge without joining the call.
func (room *Room) watchCall() {
	watcher, err := vicall.WatchRoster(room.Name, room.server.newStoreHandle(), utils.Log(), func(name string, count int) {
		select {
		case room.callStatus <- count:
		default:
		}
	})
	if err != nil {
		utils.Log().Error(err, "error while watching call roster", "room", room.Name)
		return
	}
	room.watcher = watcher
}

func (room *Room) registerClientInRoom(client *Client) {
	if !room.Private {
		room.notifyClientJoined(client)
	}
	room.clients[client] = true

	utils.Log().V(2).Info(fmt.Sprintf("%s is registered in room %s", client.Name, room.Name))
}

func (room *Room) unregisterClientInRoom(client *Client) {
	if _, ok := room.clients[client]; ok {
		delete(room.clients, client)
		utils.Log().V(2).Info(fmt.Sprintf("del client %s from room %s", client.Name, room.Name))
	}
}

func (room *Room) broadcastToClientsInRoom(message []byte) {
	for client := range room.clients {
		client.SendMsg(message)
	}
}

func (room *Room) persistMessage(message *Message) {
	sentAt := time.Now()
	if message.Time != "" {
		if t, err := time.Parse(time.RFC3339, message.Time); err == nil {
			sentAt = t
		}
	}

	_, err := room.server.msgRepository.AddMessage(&messagedb.CreateMessage{
		MID:    cuid.New(),
		Room:   room.Name,
		Sender: message.senderUsername(),
		Body:   message.Message,
		SentAt: sentAt,
	})
	if err != nil {
		utils.Log().Error(err, "error while persisting message", "room", room.Name)
	}
}

func (room *Room) notifyCallStatus(count int) {
	message := &Message{
		Action:  CallStatusAction,
		Target:  room,
		Message: strconv.Itoa(count),
	}

	utils.Log().V(2).Info(fmt.Sprintf("call status in %s: %d participants", room.Name, count))
	room.broadcastToClientsInRoom(message.encode())
}

func (room *Room) notifyClientJoined(client *Client) {
	message := &Message{
		Action:  SendMessageAction,
		Target:  room,
		Message: fmt.Sprintf("%s joined room", client.GetUsername()),
	}

	room.broadcastToClientsInRoom(message.encode())
}

func (room *Room) GetId() string {
	return room.ID.String()
}

func (room *Room) GetName() string {
	return room.Name
}

func (room *Room) GetPrivate() bool {
	return room.Private
}
