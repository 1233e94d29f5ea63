package models

import (
	"encoding/json"
	"time"
)

type Language string

const (
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangC          Language = "c"
	LangCPP        Language = "cpp"
	LangJava       Language = "java"
	LangGo         Language = "go"
)

type LanguageSpec struct {
	Name            Language `json:"name"`
	FileName        string   `json:"fileName"`
	Compiled        bool     `json:"compiled"`
	ExampleTemplate string   `json:"exampleTemplate"`
}

/*** Room state ***/
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// RoomInfo is a point-in-time copy of a room's metadata.
type RoomInfo struct {
	ID        string    `json:"id"`
	Users     []User    `json:"users"`
	CreatedAt time.Time `json:"createdAt"`
	HostID    string    `json:"hostId,omitempty"`
	HostName  string    `json:"hostName,omitempty"`
}

type NodeType string

const (
	NodeFile   NodeType = "file"
	NodeFolder NodeType = "folder"
)

// Node is one entry of a room's file tree. Files use Content, folders use
// Children and Expanded.
type Node struct {
	Name      string
	Type      NodeType
	Content   string
	Children  map[string]*Node
	Expanded  bool
	CreatedAt time.Time
}

type fileJSON struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Type      NodeType  `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

type folderJSON struct {
	Name      string           `json:"name"`
	Type      NodeType         `json:"type"`
	Children  map[string]*Node `json:"children"`
	Expanded  bool             `json:"expanded"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (n Node) MarshalJSON() ([]byte, error) {
	if n.Type == NodeFolder {
		children := n.Children
		if children == nil {
			children = map[string]*Node{}
		}
		return json.Marshal(folderJSON{
			Name: n.Name, Type: n.Type, Children: children, Expanded: n.Expanded, CreatedAt: n.CreatedAt,
		})
	}
	return json.Marshal(fileJSON{Name: n.Name, Content: n.Content, Type: NodeFile, CreatedAt: n.CreatedAt})
}

func (n *Node) UnmarshalJSON(b []byte) error {
	var raw struct {
		Name      string           `json:"name"`
		Type      NodeType         `json:"type"`
		Content   string           `json:"content"`
		Children  map[string]*Node `json:"children"`
		Expanded  bool             `json:"expanded"`
		CreatedAt time.Time        `json:"createdAt"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*n = Node{
		Name: raw.Name, Type: raw.Type, Content: raw.Content,
		Children: raw.Children, Expanded: raw.Expanded, CreatedAt: raw.CreatedAt,
	}
	if n.Type == "" {
		n.Type = NodeFile
	}
	return nil
}

/*** Execution ***/
type ExecuteRequest struct {
	Code     string   `json:"code"`
	Language Language `json:"language"`
	RoomID   string   `json:"roomId"`
}

type ExecuteResponse struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
	Error    bool   `json:"error"`
	TimedOut bool   `json:"timedOut,omitempty"`
}

/*** Real-time protocol ***/
type WSFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// InboundFrame is a client frame whose payload is decoded per event type.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// client -> server
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventCodeChange   = "code-change"
	EventCursorChange = "cursor-change"
	EventCreateFile   = "create-file"
	EventCreateFolder = "create-folder"
	EventDeleteItem   = "delete-item"
	EventRenameItem   = "rename-item"
	EventExecuteCode  = "execute-code"
)

// server -> client
const (
	EventFilesSync     = "files-sync"
	EventUsersList     = "users-list"
	EventUserJoined    = "user-joined"
	EventUserLeft      = "user-left"
	EventCodeUpdate    = "code-update"
	EventCursorUpdate  = "cursor-update"
	EventFileCreated   = "file-created"
	EventFolderCreated = "folder-created"
	EventItemDeleted   = "item-deleted"
	EventItemRenamed   = "item-renamed"
	EventCodeExecuted  = "code-executed"
	EventError         = "error"
)

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

type CodeChange struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
	RoomID   string `json:"roomId"`
}

type CursorChange struct {
	Position json.RawMessage `json:"position"`
	RoomID   string          `json:"roomId"`
}

type CreateFile struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
	RoomID   string `json:"roomId"`
}

type CreateFolder struct {
	FolderName string `json:"folderName"`
	RoomID     string `json:"roomId"`
}

type DeleteItem struct {
	Path   string `json:"path"`
	RoomID string `json:"roomId"`
}

type RenameItem struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
	RoomID  string `json:"roomId"`
}

type ExecuteCode struct {
	Code     string   `json:"code"`
	Language Language `json:"language"`
	RoomID   string   `json:"roomId"`
}

type UsersList struct {
	Users  []User `json:"users"`
	HostID string `json:"hostId"`
}

type UserJoined struct {
	User   User   `json:"user"`
	Users  []User `json:"users"`
	HostID string `json:"hostId"`
}

type UserLeft struct {
	UserID string `json:"userId"`
	Users  []User `json:"users"`
	HostID string `json:"hostId"`
}

type CodeUpdate struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
}

type CursorUpdate struct {
	UserID   string          `json:"userId"`
	UserName string          `json:"userName"`
	Position json.RawMessage `json:"position"`
}

type FileCreated struct {
	FileName string `json:"fileName"`
	File     Node   `json:"file"`
}

type FolderCreated struct {
	FolderName string `json:"folderName"`
	Folder     Node   `json:"folder"`
}

type ItemDeleted struct {
	Path string `json:"path"`
}

type ItemRenamed struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

type CodeExecuted struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
