package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/lsnp-node/pkg/game"
)

// ===== GROUPS =====

// handleListGroups handles GET /api/v1/groups
func (s *Server) handleListGroups(c *gin.Context) {
	respondOK(c, s.peer.Directory().Groups())
}

// handleGetGroup handles GET /api/v1/groups/:groupId
func (s *Server) handleGetGroup(c *gin.Context) {
	g, ok := s.peer.Directory().Group(c.Param("groupId"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not Found", Message: "unknown group"})
		return
	}
	respondOK(c, g)
}

// handleCreateGroup handles POST /api/v1/groups
func (s *Server) handleCreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.peer.CreateGroup(req.ID, req.Name, req.Members); err != nil {
		respondError(c, err)
		return
	}
	g, _ := s.peer.Directory().Group(req.ID)
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: g})
}

// handleUpdateGroup handles POST /api/v1/groups/:groupId/members
func (s *Server) handleUpdateGroup(c *gin.Context) {
	var req GroupMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	groupID := c.Param("groupId")
	if err := s.peer.UpdateGroup(groupID, req.Action, req.UserID); err != nil {
		respondError(c, err)
		return
	}
	g, _ := s.peer.Directory().Group(groupID)
	respondOK(c, g)
}

// handleSendGroupMessage handles POST /api/v1/groups/:groupId/messages
func (s *Server) handleSendGroupMessage(c *gin.Context) {
	var req ContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.peer.SendGroupMessage(c.Param("groupId"), req.Content); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Success: true})
}

// handleGroupMessages handles GET /api/v1/groups/:groupId/messages
func (s *Server) handleGroupMessages(c *gin.Context) {
	archive, ok := s.archive(c)
	if !ok {
		return
	}
	limit, offset := paging(c)
	msgs, err := archive.GroupMessages(c.Param("groupId"), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, msgs)
}

// ===== FILES =====

// handleListFiles handles GET /api/v1/files
func (s *Server) handleListFiles(c *gin.Context) {
	respondOK(c, s.peer.Files().Transfers())
}

// handleReceivedFiles handles GET /api/v1/files/received
func (s *Server) handleReceivedFiles(c *gin.Context) {
	archive, ok := s.archive(c)
	if !ok {
		return
	}
	files, err := archive.Files()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, files)
}

// handleOfferFile handles POST /api/v1/files
func (s *Server) handleOfferFile(c *gin.Context) {
	var req FileOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	fileID, err := s.peer.OfferFileWithDescription(req.To, req.Path, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	o, _ := s.peer.Files().Transfer(fileID)
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: o})
}

// handleAcceptFile handles POST /api/v1/files/:fileId/accept
func (s *Server) handleAcceptFile(c *gin.Context) {
	fileID := c.Param("fileId")
	if err := s.peer.AcceptFile(fileID); err != nil {
		respondError(c, err)
		return
	}
	o, _ := s.peer.Files().Transfer(fileID)
	respondOK(c, o)
}

// handleDeclineFile handles DELETE /api/v1/files/:fileId
func (s *Server) handleDeclineFile(c *gin.Context) {
	if err := s.peer.DeclineFile(c.Param("fileId")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// ===== GAMES =====

// handleListGames handles GET /api/v1/games
func (s *Server) handleListGames(c *gin.Context) {
	games := s.peer.Games()
	resp := GamesResponse{
		Sessions: []GameView{},
		Pending:  games.PendingInvites(),
		Outgoing: games.OutgoingInvites(),
	}
	for _, sess := range games.Sessions() {
		resp.Sessions = append(resp.Sessions, newGameView(sess))
	}
	respondOK(c, resp)
}

// handleGetGame handles GET /api/v1/games/:gameId
func (s *Server) handleGetGame(c *gin.Context) {
	sess, ok := s.peer.Games().Session(c.Param("gameId"))
	if !ok {
		respondError(c, game.ErrNoSession)
		return
	}
	respondOK(c, newGameView(sess))
}

// handleInviteGame handles POST /api/v1/games
func (s *Server) handleInviteGame(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	gameID, err := s.peer.InviteGame(req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: gin.H{"gameId": gameID}})
}

// handleAcceptGame handles POST /api/v1/games/:gameId/accept
func (s *Server) handleAcceptGame(c *gin.Context) {
	gameID := c.Param("gameId")
	if err := s.peer.AcceptGame(gameID); err != nil {
		respondError(c, err)
		return
	}
	sess, _ := s.peer.Games().Session(gameID)
	respondOK(c, newGameView(sess))
}

// handleMove handles POST /api/v1/games/:gameId/moves
func (s *Server) handleMove(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	gameID := c.Param("gameId")
	if err := s.peer.Move(gameID, *req.Position); err != nil {
		respondError(c, err)
		return
	}

	// a terminal move ends the session
	sess, active := s.peer.Games().Session(gameID)
	if !active {
		respondOK(c, gin.H{"gameId": gameID, "finished": true})
		return
	}
	respondOK(c, newGameView(sess))
}

// handleForfeit handles POST /api/v1/games/:gameId/forfeit
func (s *Server) handleForfeit(c *gin.Context) {
	if err := s.peer.ForfeitGame(c.Param("gameId")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

func timeSince(t time.Time) string {
	return time.Since(t).Round(time.Second).String()
}
