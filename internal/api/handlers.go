package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"codesync/internal/events"
	"codesync/internal/exec"
	"codesync/internal/filetree"
	"codesync/internal/models"
	"codesync/internal/session"
	"codesync/internal/utils"
)

type Handlers struct {
	log      *zap.Logger
	hub      *session.Hub
	runner   *exec.Runner
	events   events.Publisher
	upgrader websocket.Upgrader
}

func NewHandlers(log *zap.Logger, hub *session.Hub, runner *exec.Runner, pub events.Publisher, allowedOrigins []string) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Handlers{
		log:    log,
		hub:    hub,
		runner: runner,
		events: pub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	utils.JSON(w, http.StatusOK, map[string]string{"status": "Server running fine"})
}

func (h *Handlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	roomID := h.hub.CreateRoom()
	h.publish(r.Context(), events.Event{Type: events.RoomCreated, RoomID: roomID})
	utils.JSON(w, http.StatusOK, map[string]string{
		"roomId":  roomID,
		"message": "Room created successfully",
	})
}

func (h *Handlers) RoomExists(w http.ResponseWriter, r *http.Request) {
	if !h.hub.RoomExists(chi.URLParam(r, "roomId")) {
		utils.JSON(w, http.StatusNotFound, map[string]interface{}{"exists": false, "message": "Room not found"})
		return
	}
	utils.JSON(w, http.StatusOK, map[string]bool{"exists": true})
}

// Tree returns the room's files as a nested hierarchy.
func (h *Handlers) Tree(w http.ResponseWriter, r *http.Request) {
	files, ok := h.hub.Files(chi.URLParam(r, "roomId"))
	if !ok {
		utils.Error(w, http.StatusNotFound, "Room not found")
		return
	}
	utils.JSON(w, http.StatusOK, filetree.BuildTree(files))
}

func (h *Handlers) ListLanguages(w http.ResponseWriter, _ *http.Request) {
	utils.JSON(w, http.StatusOK, exec.Languages())
}

func (h *Handlers) Execute(w http.ResponseWriter, r *http.Request) {
	var req models.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// a client hanging up must not cut the run short for the rest of the room
	res, err := h.execute(context.WithoutCancel(r.Context()), req.RoomID, req.Language, req.Code, "")
	if errors.Is(err, session.ErrRoomNotFound) {
		utils.Error(w, http.StatusNotFound, "Room not found")
		return
	}
	utils.JSON(w, http.StatusOK, models.ExecuteResponse{
		Output:   res.Output,
		ExitCode: res.ExitCode,
		Error:    res.IsError,
		TimedOut: res.TimedOut,
	})
}

// execute runs code for roomID and shares the result with every member,
// except timeouts and launch failures which only the caller sees.
func (h *Handlers) execute(ctx context.Context, roomID string, lang models.Language, code, userID string) (exec.Result, error) {
	if !h.hub.RoomExists(roomID) {
		return exec.Result{}, session.ErrRoomNotFound
	}
	res := h.runner.Execute(ctx, lang, code)
	if res.Shared() {
		frame := models.WSFrame{Type: models.EventCodeExecuted, Data: models.CodeExecuted{Output: res.Output, ExitCode: res.ExitCode}}
		if err := h.hub.Broadcast(roomID, frame, nil); err != nil {
			h.log.Debug("room gone before result broadcast", zap.String("roomId", roomID))
		}
	}
	exit := res.ExitCode
	h.publish(ctx, events.Event{
		Type:     events.CodeExecuted,
		RoomID:   roomID,
		UserID:   userID,
		Language: string(lang),
		ExitCode: &exit,
	})
	return res, nil
}

// publish forwards to the event feed; failures are logged by the publisher.
func (h *Handlers) publish(ctx context.Context, ev events.Event) {
	_ = h.events.Publish(ctx, ev)
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}
