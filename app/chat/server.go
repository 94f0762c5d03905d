package chat

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"temu/app/rtdb"
	"temu/components/messagedb"
	"temu/components/presence"
	"temu/components/room"
	"temu/components/user"
	"temu/utils"
)

// WsServer is the hub: it owns every websocket client, the live rooms and
// the persistence repos, and it hands each client a realtime store handle
// through the bridge so browsers use this process as their platform.
type WsServer struct {
	ctx            context.Context
	clients        map[*Client]bool
	register       chan *Client
	unregister     chan *Client
	rooms          map[*Room]bool
	roomRepository room.I_RoomRepo
	msgRepository  messagedb.I_MessageRepo
	userRepository user.I_UserRepo
	presence       presence.I_PresenceStore
	newStoreHandle func() rtdb.Store
	devmode        int
}

// NewWebsocketServer creates a new WsServer type
func NewWebsocketServer(mongoclient *mongo.Client, ctx context.Context, presenceStore presence.I_PresenceStore, newStoreHandle func() rtdb.Store, userRepo user.I_UserRepo) *WsServer {
	roomCollection := mongoclient.Database("temu").Collection("rooms")
	msgCollection := mongoclient.Database("temu").Collection("messages")

	wsServer := &WsServer{
		ctx:            ctx,
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		rooms:          make(map[*Room]bool),
		roomRepository: room.NewRoomRepository(roomCollection, ctx),
		msgRepository:  messagedb.NewMessageRepository(msgCollection, ctx),
		userRepository: userRepo,
		presence:       presenceStore,
		newStoreHandle: newStoreHandle,
	}

	return wsServer
}

func (server *WsServer) InitRouteTo(rg *gin.Engine, devmode int) {
	server.devmode = devmode
	rg.GET("/ws", func(c *gin.Context) {
		ServeWs(server, c)
	})
}

// Run our websocket server, accepting various requests
func (server *WsServer) Run() {
	for {
		select {

		case client := <-server.register:
			server.registerClient(client)

		case client := <-server.unregister:
			server.unregisterClient(client)
		}
	}
}

// add new client connection
func (server *WsServer) registerClient(client *Client) {
	server.notifyClientJoined(client)
	server.listOnlineClients(client)
	server.clients[client] = true

	if err := server.presence.Touch(server.ctx, client.GetUsername()); err != nil {
		utils.Log().Error(err, "error while touching presence", "user", client.GetUsername())
	}

	utils.Log().V(2).Info(fmt.Sprintf("registered %s id: %s", client.GetUsername(), client.GetUID()))
	utils.Log().V(2).Info(fmt.Sprintf("client counts %d", len(server.clients)))
}

// remove client connection
func (server *WsServer) unregisterClient(client *Client) {
	if _, ok := server.clients[client]; ok {
		server.notifyClientLeft(client)
		delete(server.clients, client)

		if err := server.presence.SetOffline(server.ctx, client.GetUsername()); err != nil {
			utils.Log().Error(err, "error while setting presence offline", "user", client.GetUsername())
		}

		utils.Log().V(2).Info(fmt.Sprintf("del connection %s", client.Name))
	}
}

func (server *WsServer) notifyClientJoined(client *Client) {
	message := &Message{
		Action: UserJoinedAction,
		Sender: client,
	}
	server.broadcastToClients(message.encode())
}

func (server *WsServer) notifyClientLeft(client *Client) {
	message := &Message{
		Action: UserLeftAction,
		Sender: client,
	}
	server.broadcastToClients(message.encode())
}

// listOnlineClients replays the fresh presence set to a newly connected
// client so its people list starts complete.
func (server *WsServer) listOnlineClients(client *Client) {
	records, err := server.presence.Online(server.ctx)
	if err != nil {
		utils.Log().Error(err, "error while listing online users")
		return
	}

	for _, rec := range records {
		if rec.Identity == client.GetUsername() {
			continue
		}
		message := &Message{
			Action: UserJoinedAction,
			Sender: NewSender("", "", rec.Identity, ""),
		}
		client.SendMsg(message.encode())
	}
}

func (server *WsServer) broadcastToClients(message []byte) {
	for client := range server.clients {
		client.SendMsg(message)
	}
}

func (server *WsServer) findRoomByName(name string) *Room {
	var foundRoom *Room
	for room := range server.rooms {
		if room.GetName() == name {
			foundRoom = room
			break
		}
	}

	// if there is no live room, try to run it from the repo
	if foundRoom == nil {
		foundRoom = server.runRoomFromRepository(name)
	}

	return foundRoom
}

func (server *WsServer) runRoomFromRepository(name string) *Room {
	var r *Room
	dbRoom, _ := server.roomRepository.FindRoomByName(name)
	if dbRoom != nil {
		r = NewRoom(server, dbRoom.GetName(), dbRoom.GetPrivate())
		if id, err := uuid.Parse(dbRoom.GetId()); err == nil {
			r.ID = id
		}

		go r.RunRoom()
		server.rooms[r] = true
	}

	return r
}

func (server *WsServer) createRoom(name string, private bool) *Room {
	dbRoom, err := server.roomRepository.FindOrCreateRoom(name, private)
	if err != nil {
		utils.Log().Error(err, "error while adding room to repository")
		return nil
	}

	newRoom := NewRoom(server, dbRoom.GetName(), dbRoom.GetPrivate())
	if id, perr := uuid.Parse(dbRoom.GetId()); perr == nil {
		newRoom.ID = id
	}

	go newRoom.RunRoom()
	server.rooms[newRoom] = true
	utils.Log().V(2).Info(fmt.Sprintf("room %s is created, id: %s", name, newRoom.GetId()))

	return newRoom
}

func (server *WsServer) findClientByUsername(username string) []*Client {
	var foundClients []*Client
	for client := range server.clients {
		if client.GetUsername() == username {
			foundClients = append(foundClients, client)
		}
	}

	return foundClients
}
