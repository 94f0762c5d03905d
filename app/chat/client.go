package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"temu/app/rtdb"
	"temu/auth"
	"temu/components/room"
	"temu/jsonrpc2"
	"temu/utils"
)

// Client represents the websocket client at the server
type Client struct {
	// The actual websocket connection.
	conn     *websocket.Conn
	wsServer *WsServer
	send     chan []byte
	id       uuid.UUID
	Name     string `json:"name"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	rooms    map[*Room]bool
	bridge   *rtdb.Bridge
	disposed bool
}

func newClient(conn *websocket.Conn, wsServer *WsServer, username string, ID string) (*Client, error) {
	user, err := wsServer.userRepository.FindUserByUsername(username)
	if err != nil {
		return nil, err
	}

	client := &Client{
		Name:     user.Name,
		Username: user.Username,
		Avatar:   user.Avatar,
		conn:     conn,
		wsServer: wsServer,
		send:     make(chan []byte, 256),
		rooms:    make(map[*Room]bool),
		disposed: false,
	}

	if ID != "" {
		client.id, _ = uuid.Parse(ID)
	}

	return client, nil
}

// ServeWs handles websocket requests from clients requests.
func ServeWs(wsServer *WsServer, c *gin.Context) {
	token := c.Query("jwt")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		fields := strings.Fields(authHeader)
		if len(fields) == 2 && fields[0] == "Bearer" {
			token = fields[1]
		}
	}
	if token == "" {
		token, _ = c.Cookie("jwt")
	}

	user, err := auth.ValidateToken(token)
	if err != nil {
		utils.Log().Info("Not authenticated")
		return
	}

	if user.IsExpired() {
		utils.Log().Info("User token expired")
		return
	}

	var upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	if wsServer.devmode > 0 {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return strings.HasPrefix(origin, "http://192.168.") || strings.HasPrefix(origin, "http://localhost")
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.Log().Error(err, "error while upgrading to websocket")
		return
	}

	client, err := newClient(conn, wsServer, user.GetUsername(), user.GetUID())
	if err != nil {
		utils.Log().Error(err, "error while creating client")
		conn.Close()
		return
	}
	client.bridge = rtdb.NewBridge(wsServer.newStoreHandle(), client.SendMsg)

	go client.writeThread()
	go client.readThread()

	wsServer.register <- client
	utils.Log().Info("ServeWs " + user.GetUsername())
}

func (me *Client) GetUID() string {
	return me.id.String()
}

func (me *Client) GetUsername() string {
	return me.Username
}

func (me *Client) readThread() {
	defer func() {
		me.disconnect()
	}()

	me.conn.SetReadLimit(maxMessageSize)
	me.conn.SetReadDeadline(time.Now().Add(pongWait))
	me.conn.SetPongHandler(func(string) error {
		// keep connection alive
		me.conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := me.wsServer.presence.Touch(me.wsServer.ctx, me.GetUsername()); err != nil {
			utils.Log().Error(err, "error while touching presence", "user", me.GetUsername())
		}
		return nil
	})

	// Start endless read loop, waiting for messages from client
	for {
		_, jsonMessage, err := me.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				utils.Log().Error(err, "unexpected websocket close error")
				break
			}

			if strings.Contains(err.Error(), "close") {
				utils.Log().V(2).Info(fmt.Sprintf("client @%s close connection", me.GetUsername()))
				break
			}

			utils.Log().Error(err, "error while reading message")
			break
		}

		me.handleNewMessage(jsonMessage)

		if me.disposed {
			break
		}
	}
}

func (me *Client) writeThread() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		me.conn.Close()
	}()
	for {
		select {
		case message, ok := <-me.send:
			me.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The WsServer closed the channel.
				me.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := me.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			//Attach queued chat messages to the current websocket message.
			n := len(me.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-me.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			me.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := me.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (me *Client) disconnect() {
	if me.disposed {
		return
	}
	me.disposed = true

	utils.Log().Info("disconnect " + me.Username)
	// closing the bridge runs this client's disconnect cleanups, which is
	// what removes a dropped peer from any call roster it was in
	me.bridge.Close()
	me.wsServer.unregister <- me
	for room := range me.rooms {
		room.unregister <- me
	}
	close(me.send)
	me.conn.Close()
}

func (me *Client) handleNewMessage(jsonMessage []byte) {
	utils.Log().V(2).Info("handleNewMessage " + string(jsonMessage))
	var rpc jsonrpc2.RPCRequest
	if err := json.Unmarshal(jsonMessage, &rpc); err != nil {
		utils.Log().Error(err, "error on unmarshal JSON rpc")
		return
	}

	var message Message
	if err := json.Unmarshal(rpc.Params, &message); err != nil {
		message = Message{}
	}

	message.Sender = me

	switch rpc.Method {
	case SendMessageAction:
		me.handleSendMessageAction(message)

	case JoinRoomAction:
		me.handleJoinRoomMessage(message)

	case LeaveRoomAction:
		me.handleLeaveRoomMessage(message)

	case JoinRoomPrivateAction:
		me.handleJoinRoomPrivateMessage(message)

	case GetMessages:
		me.handleGetMessages(message)

	default:
		if !me.bridge.HandleRPC(&rpc) {
			me.notifyInfo(nil, me, "unknown method "+rpc.Method, "error", message.Time)
		}
	}
}

func (me *Client) handleSendMessageAction(message Message) {
	if message.Target == nil {
		return
	}

	room := me.wsServer.findRoomByName(message.Target.GetName())
	if room == nil || !me.isInRoom(room) {
		return
	}

	utils.Log().V(2).Info(fmt.Sprintf("new msg in room %s", room.GetName()))
	message.Status = "acc"
	room.broadcast <- &message
	room.writeMsgDB <- &message
}

func (me *Client) handleJoinRoomMessage(message Message) {
	//message was a room name
	roomName := message.Message
	if _, err := utils.IsValidRoomName(roomName); err != nil {
		me.notifyInfo(nil, me, JoinRoomAction+", invalid room name", "error", message.Time)
		return
	}

	me.joinRoom(roomName, nil, false, "")
}

func (me *Client) handleLeaveRoomMessage(message Message) {
	utils.Log().V(2).Info(fmt.Sprintf("get request Leave Room from %s", me.Name))

	//message was room's name
	room := me.wsServer.findRoomByName(message.Message)
	if room == nil {
		return
	}

	if _, ok := me.rooms[room]; ok {
		delete(me.rooms, room)
		utils.Log().V(2).Info(fmt.Sprintf("%s leave room %s", me.Name, room.Name))
	}

	room.unregister <- me
}

func (me *Client) handleJoinRoomPrivateMessage(message Message) {
	utils.Log().V(2).Info("handleJoinRoomPrivateMessage " + message.Message + " " + message.Time)
	_, err := utils.IsValidUsername(message.Message)
	if err != nil {
		utils.Log().Error(err, fmt.Sprintf("Join Room Private error while checking target username: %s", message.Message))
		sender := NewSender("", "", message.Message, "")
		me.notifyInfo(nil, sender, JoinRoomPrivateAction+", username error", "error", message.Time)
		return
	}

	targetuser, err := me.wsServer.userRepository.FindUserByUsername(message.Message)
	if err != nil {
		utils.Log().Error(err, "Join Room Private but can not find requested user")
		sender := NewSender("", "", message.Message, "")
		me.notifyInfo(nil, sender, JoinRoomPrivateAction+", can not find requested user", "error", message.Time)
		return
	}

	roomName := room.PrivateRoomKey(me.GetUsername(), targetuser.Username)
	sender := NewSender(targetuser.UID, targetuser.Name, targetuser.Username, targetuser.Avatar)

	targets := me.wsServer.findClientByUsername(targetuser.Username)
	if len(targets) == 0 {
		utils.Log().Info(fmt.Sprintf("get request Join Room Private from %s, target unavailable", me.GetUsername()))
		me.joinRoom(roomName, sender, true, "offline")
		return
	}

	for i := 0; i < len(targets); i++ {
		_ = me.joinRoom(roomName, sender, true, "online")
		targets[i].joinRoom(roomName, me, true, "online")
	}
}

func (me *Client) handleGetMessages(message Message) {
	if message.Target == nil {
		return
	}

	roomName := message.Target.GetName()
	target := me.wsServer.findRoomByName(roomName)
	if target == nil {
		me.notifyInfo(nil, me, GetMessages+", can not find room", "error", message.Time)
		return
	}

	parts := strings.Split(message.Message, ",")
	if len(parts) != 2 {
		me.notifyInfo(target, me, GetMessages+", expected page,limit", "error", message.Time)
		return
	}

	page, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		utils.Log().Error(err, fmt.Sprintf("invalid page number: %s", parts[0]))
		return
	}

	limit, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		utils.Log().Error(err, fmt.Sprintf("invalid limit number: %s", parts[1]))
		return
	}

	msgs, err := me.wsServer.msgRepository.FindMessagesByRoom(roomName, page, limit)
	if err != nil {
		utils.Log().Error(err, "error while finding room messages", "room", roomName)
		return
	}

	retMsg := Messages{
		Action:   message.Action,
		Target:   target,
		Sender:   me,
		Messages: msgs,
	}
	m, err := jsonrpc2.Notify(message.Action, retMsg)
	if err != nil {
		utils.Log().Error(err, "error while create jsonrpc2 notify")
		return
	}
	me.SendMsg(m.Encode())
}

func (me *Client) joinRoom(roomName string, sender I_User, isPrivate bool, msg string) *Room {
	room := me.wsServer.findRoomByName(roomName)
	if room == nil {
		room = me.wsServer.createRoom(roomName, isPrivate)
		if room == nil {
			return nil
		}
	}

	if !me.isInRoom(room) {
		me.rooms[room] = true
		room.register <- me
	}

	me.notifyRoomJoined(room, sender, msg)

	return room
}

func (me *Client) isInRoom(room *Room) bool {
	if _, ok := me.rooms[room]; ok {
		return true
	}

	return false
}

func (me *Client) notifyRoomJoined(room *Room, sender I_User, msg string) {
	message := Message{
		Action:  RoomJoinedAction,
		Target:  room,
		Sender:  sender,
		Message: msg,
	}

	m, err := jsonrpc2.Notify(RoomJoinedAction, message)
	if err != nil {
		utils.Log().Error(err, "error while create jsonrpc2 notify")
		return
	}
	me.SendMsg(m.Encode())
}

func (me *Client) notifyInfo(room *Room, sender I_User, msg, status, time string) {
	message := Message{
		Action:  Info,
		Target:  room,
		Sender:  sender,
		Message: msg,
		Status:  status,
		Time:    time,
	}
	m, err := jsonrpc2.Notify(Info, message)
	if err != nil {
		utils.Log().Error(err, "error while create jsonrpc2 notify")
		return
	}
	me.SendMsg(m.Encode())
}

func (me *Client) SendMsg(msg []byte) {
	select {
	case me.send <- msg:
	default:
		//channel closed or full
		utils.Log().Error(nil, "send msg error, channel unavailable")
	}
}
