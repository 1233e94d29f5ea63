package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"codesync/internal/events"
	"codesync/internal/metrics"
	"codesync/internal/models"
	"codesync/internal/session"
)

const maxMessageSize = 1 << 20

type connState int

const (
	stateUnauthenticated connState = iota
	stateInRoom
	stateClosed
)

// wsConn is the gateway's view of one connection. Only the read loop
// touches its fields.
type wsConn struct {
	h        *Handlers
	client   *session.Client
	state    connState
	roomID   string
	userName string
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	metrics.WSConnected()
	defer metrics.WSDisconnected()

	c := &wsConn{h: h, client: session.NewClient(conn)}
	go c.client.WritePump()
	c.readPump()
}

func (c *wsConn) readPump() {
	defer c.close()
	c.client.PrepareRead(maxMessageSize)

	for {
		_, msg, err := c.client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.h.log.Debug("websocket read failed", zap.String("connId", c.client.ID), zap.Error(err))
			}
			return
		}
		var frame models.InboundFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			c.sendError("Invalid message")
			continue
		}
		c.dispatch(frame)
	}
}

func (c *wsConn) dispatch(frame models.InboundFrame) {
	switch frame.Type {
	case models.EventJoinRoom:
		c.join(frame.Data)
	case models.EventLeaveRoom:
		c.leave(frame.Data)
	case models.EventCodeChange:
		c.codeChange(frame.Data)
	case models.EventCursorChange:
		c.cursorChange(frame.Data)
	case models.EventCreateFile:
		c.createFile(frame.Data)
	case models.EventCreateFolder:
		c.createFolder(frame.Data)
	case models.EventDeleteItem:
		c.deleteItem(frame.Data)
	case models.EventRenameItem:
		c.renameItem(frame.Data)
	case models.EventExecuteCode:
		c.executeCode(frame.Data)
	default:
		metrics.WSEvent("unknown")
		c.sendError("Unknown event: " + frame.Type)
		return
	}
	metrics.WSEvent(frame.Type)
}

func (c *wsConn) join(data json.RawMessage) {
	var p models.JoinRoom
	if !c.decode(data, &p) {
		return
	}
	name := strings.TrimSpace(p.UserName)
	if name == "" {
		c.sendError("userName is required")
		return
	}
	if _, err := c.h.hub.Join(p.RoomID, c.client, name); err != nil {
		if errors.Is(err, session.ErrRoomNotFound) {
			c.sendError("Room not found")
			return
		}
		c.sendError(err.Error())
		return
	}
	if c.state == stateInRoom && c.roomID != p.RoomID {
		c.publish(events.UserLeft, c.roomID)
	}
	c.state = stateInRoom
	c.roomID = p.RoomID
	c.userName = name
	c.publish(events.UserJoined, p.RoomID)
}

func (c *wsConn) leave(data json.RawMessage) {
	var p models.LeaveRoom
	if !c.decode(data, &p) {
		return
	}
	roomID, ok := c.room(p.RoomID)
	if !ok {
		return
	}
	if c.h.hub.Leave(roomID, c.client.ID) {
		c.publish(events.UserLeft, roomID)
	}
	c.state = stateUnauthenticated
	c.roomID = ""
}

func (c *wsConn) codeChange(data json.RawMessage) {
	var p models.CodeChange
	if !c.decode(data, &p) {
		return
	}
	if roomID, ok := c.room(p.RoomID); ok {
		c.report(c.h.hub.UpdateFile(roomID, c.client, p.FileName, p.Content))
	}
}

func (c *wsConn) cursorChange(data json.RawMessage) {
	var p models.CursorChange
	if !c.decode(data, &p) {
		return
	}
	if roomID, ok := c.room(p.RoomID); ok {
		c.report(c.h.hub.RelayCursor(roomID, c.client, c.userName, p.Position))
	}
}

func (c *wsConn) createFile(data json.RawMessage) {
	var p models.CreateFile
	if !c.decode(data, &p) {
		return
	}
	if p.FileName == "" {
		c.sendError("fileName is required")
		return
	}
	if roomID, ok := c.room(p.RoomID); ok {
		_, err := c.h.hub.CreateFile(roomID, p.FileName, p.Content)
		c.report(err)
	}
}

func (c *wsConn) createFolder(data json.RawMessage) {
	var p models.CreateFolder
	if !c.decode(data, &p) {
		return
	}
	if p.FolderName == "" {
		c.sendError("folderName is required")
		return
	}
	if roomID, ok := c.room(p.RoomID); ok {
		_, err := c.h.hub.CreateFolder(roomID, p.FolderName)
		c.report(err)
	}
}

func (c *wsConn) deleteItem(data json.RawMessage) {
	var p models.DeleteItem
	if !c.decode(data, &p) {
		return
	}
	if roomID, ok := c.room(p.RoomID); ok {
		c.report(c.h.hub.DeleteItem(roomID, p.Path))
	}
}

func (c *wsConn) renameItem(data json.RawMessage) {
	var p models.RenameItem
	if !c.decode(data, &p) {
		return
	}
	if p.NewPath == "" {
		c.sendError("newPath is required")
		return
	}
	if roomID, ok := c.room(p.RoomID); ok {
		_, err := c.h.hub.RenameItem(roomID, p.OldPath, p.NewPath)
		c.report(err)
	}
}

// executeCode runs off the read loop so the connection keeps relaying edits
// while the program runs. The requester alone hears about results the room
// does not get.
func (c *wsConn) executeCode(data json.RawMessage) {
	var p models.ExecuteCode
	if !c.decode(data, &p) {
		return
	}
	roomID, ok := c.room(p.RoomID)
	if !ok {
		return
	}
	client, h := c.client, c.h
	go func() {
		res, err := h.execute(context.Background(), roomID, p.Language, p.Code, client.ID)
		if err != nil {
			client.Send(errorFrame("Room not found"))
			return
		}
		if !res.Shared() {
			client.Send(models.WSFrame{Type: models.EventCodeExecuted, Data: models.CodeExecuted{Output: res.Output, ExitCode: res.ExitCode}})
		}
	}()
}

// room returns the room an in-room event applies to. Events sent before
// joining, or naming a different room, are answered with an error.
func (c *wsConn) room(payloadRoom string) (string, bool) {
	if c.state != stateInRoom {
		c.sendError("Not in a room")
		return "", false
	}
	if payloadRoom != "" && payloadRoom != c.roomID {
		c.sendError("Not a member of room " + payloadRoom)
		return "", false
	}
	return c.roomID, true
}

func (c *wsConn) decode(data json.RawMessage, v interface{}) bool {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.sendError("Invalid payload")
		return false
	}
	return true
}

func (c *wsConn) report(err error) {
	if errors.Is(err, session.ErrRoomNotFound) {
		c.sendError("Room not found")
	}
}

func (c *wsConn) sendError(msg string) {
	c.client.Send(errorFrame(msg))
}

func (c *wsConn) publish(typ, roomID string) {
	c.h.publish(context.Background(), events.Event{
		Type:     typ,
		RoomID:   roomID,
		UserID:   c.client.ID,
		UserName: c.userName,
	})
}

func (c *wsConn) close() {
	roomID := c.roomID
	if c.h.hub.Disconnect(c.client.ID) {
		c.publish(events.UserLeft, roomID)
	}
	c.state = stateClosed
	c.client.Close()
}

func errorFrame(msg string) models.WSFrame {
	return models.WSFrame{Type: models.EventError, Data: models.ErrorMessage{Message: msg}}
}
