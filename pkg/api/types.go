package api

import (
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/lsnp-node/pkg/auth"
	"github.com/ZentaChain/lsnp-node/pkg/directory"
	"github.com/ZentaChain/lsnp-node/pkg/filetransfer"
	"github.com/ZentaChain/lsnp-node/pkg/game"
	"github.com/ZentaChain/lsnp-node/pkg/network"
	"github.com/ZentaChain/lsnp-node/pkg/storage"
)

// ErrorResponse is a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse is a standard success response
type SuccessResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusRequest changes the announced status
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UserRequest names a target user
type UserRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// ContentRequest carries message text
type ContentRequest struct {
	Content string `json:"content" binding:"required"`
}

// DirectMessageRequest sends a DM
type DirectMessageRequest struct {
	To      string `json:"to" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// LikeRequest likes or unlikes a post
type LikeRequest struct {
	To            string `json:"to" binding:"required"`
	PostTimestamp int64  `json:"postTimestamp" binding:"required"`
	Unlike        bool   `json:"unlike"`
}

// CreateGroupRequest creates a group owned by the local user
type CreateGroupRequest struct {
	ID      string   `json:"id" binding:"required"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// GroupMemberRequest adds or removes one member
type GroupMemberRequest struct {
	Action string `json:"action" binding:"required,oneof=add remove"`
	UserID string `json:"userId" binding:"required"`
}

// FileOfferRequest offers a local file
type FileOfferRequest struct {
	To          string `json:"to" binding:"required"`
	Path        string `json:"path" binding:"required"`
	Description string `json:"description"`
}

// MoveRequest places the local symbol
type MoveRequest struct {
	Position *int `json:"position" binding:"required"`
}

// NodeInfoResponse describes the local peer
type NodeInfoResponse struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Status      string    `json:"status"`
	Port        uint16    `json:"port"`
	History     bool      `json:"history"`
	UpSince     time.Time `json:"upSince"`
}

// GameView is an active session with a printable board
type GameView struct {
	GameID   string   `json:"gameId"`
	X        string   `json:"x"`
	O        string   `json:"o"`
	Cells    []string `json:"cells"`
	Next     string   `json:"next"`
	NextTurn int      `json:"nextTurn"`
}

func newGameView(s game.Session) GameView {
	v := GameView{
		GameID:   s.GameID,
		X:        s.X,
		O:        s.O,
		Cells:    make([]string, len(s.Board)),
		Next:     s.PlayerFor(s.Turn),
		NextTurn: s.NextTurn(),
	}
	for i, sym := range s.Board {
		v.Cells[i] = sym.String()
	}
	return v
}

// GamesResponse lists sessions and invites
type GamesResponse struct {
	Sessions []GameView    `json:"sessions"`
	Pending  []game.Invite `json:"pending"`
	Outgoing []game.Invite `json:"outgoing"`
}

var errHistoryDisabled = errors.New("history archive is disabled")

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, directory.ErrUnknownGroup),
		errors.Is(err, filetransfer.ErrUnknownTransfer),
		errors.Is(err, game.ErrNoSession),
		errors.Is(err, game.ErrNoInvite):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, network.ErrNotMember):
		return http.StatusForbidden
	case errors.Is(err, network.ErrTransportClosed),
		errors.Is(err, errHistoryDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, directory.ErrInvalidUserID),
		errors.Is(err, directory.ErrInvalidGroup),
		errors.Is(err, directory.ErrOwnerRemoval),
		errors.Is(err, network.ErrEmptyContent),
		errors.Is(err, network.ErrSelfTarget),
		errors.Is(err, network.ErrUnknownAction),
		errors.Is(err, filetransfer.ErrNotAFile),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, filetransfer.ErrAlreadyAccepted),
		errors.Is(err, game.ErrInvalidTransition):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	c.JSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	})
}

func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request",
		Message: err.Error(),
	})
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: data})
}
