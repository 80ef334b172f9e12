package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/lsnp-node/pkg/storage"
)

// ===== NODE =====

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"userId": s.peer.UserID(),
		"uptime": timeSince(s.startedAt),
	})
}

// handleNodeInfo handles GET /api/v1/node/info
func (s *Server) handleNodeInfo(c *gin.Context) {
	respondOK(c, NodeInfoResponse{
		UserID:      s.peer.UserID(),
		DisplayName: s.peer.DisplayName(),
		Status:      s.peer.Status(),
		Port:        s.peer.Port(),
		History:     s.peer.Archive() != nil,
		UpSince:     s.startedAt,
	})
}

// handleNodeStats handles GET /api/v1/node/stats
func (s *Server) handleNodeStats(c *gin.Context) {
	dir := s.peer.Directory()
	subscribers := 0
	if s.hub != nil {
		subscribers = s.hub.Subscribers()
	}
	respondOK(c, gin.H{
		"datagrams":   s.peer.Stats(),
		"peers":       len(dir.Peers()),
		"followers":   len(dir.Followers()),
		"following":   len(dir.Following()),
		"groups":      len(dir.Groups()),
		"games":       len(s.peer.Games().Sessions()),
		"transfers":   len(s.peer.Files().Transfers()),
		"subscribers": subscribers,
	})
}

// handleSetStatus handles PUT /api/v1/node/status
func (s *Server) handleSetStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.peer.Announce(req.Status); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"status": s.peer.Status()})
}

// handlePing handles POST /api/v1/node/ping
func (s *Server) handlePing(c *gin.Context) {
	if err := s.peer.Ping(); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// ===== PEERS =====

// handlePeers handles GET /api/v1/peers
func (s *Server) handlePeers(c *gin.Context) {
	respondOK(c, s.peer.Directory().Peers())
}

// handlePeer handles GET /api/v1/peers/:userId
func (s *Server) handlePeer(c *gin.Context) {
	rec, ok := s.peer.Directory().Peer(c.Param("userId"))
	if !ok {
		respondError(c, storage.ErrNotFound)
		return
	}
	respondOK(c, rec)
}

// handleFollowers handles GET /api/v1/followers
func (s *Server) handleFollowers(c *gin.Context) {
	respondOK(c, s.peer.Directory().Followers())
}

// handleFollowing handles GET /api/v1/following
func (s *Server) handleFollowing(c *gin.Context) {
	respondOK(c, s.peer.Directory().Following())
}

// handleFollow handles POST /api/v1/following
func (s *Server) handleFollow(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.peer.Follow(req.UserID); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, s.peer.Directory().Following())
}

// handleUnfollow handles DELETE /api/v1/following/:userId
func (s *Server) handleUnfollow(c *gin.Context) {
	if err := s.peer.Unfollow(c.Param("userId")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, s.peer.Directory().Following())
}

// ===== POSTS & MESSAGES =====

// handleCreatePost handles POST /api/v1/posts
func (s *Server) handleCreatePost(c *gin.Context) {
	var req ContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	ts, err := s.peer.Post(req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: gin.H{"timestamp": ts}})
}

// handleListPosts handles GET /api/v1/posts
func (s *Server) handleListPosts(c *gin.Context) {
	archive, ok := s.archive(c)
	if !ok {
		return
	}
	limit, offset := paging(c)
	posts, err := archive.Messages(storage.KindPost, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, posts)
}

// handleLike handles POST /api/v1/likes
func (s *Server) handleLike(c *gin.Context) {
	var req LikeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	var err error
	if req.Unlike {
		err = s.peer.Unlike(req.To, req.PostTimestamp)
	} else {
		err = s.peer.Like(req.To, req.PostTimestamp)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, nil)
}

// handleSearch handles GET /api/v1/search?q=
func (s *Server) handleSearch(c *gin.Context) {
	archive, ok := s.archive(c)
	if !ok {
		return
	}
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "query parameter q is required"})
		return
	}
	limit, _ := paging(c)
	results, err := archive.SearchMessages(q, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, results)
}

// handleSendDM handles POST /api/v1/messages
func (s *Server) handleSendDM(c *gin.Context) {
	var req DirectMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := s.peer.SendDM(req.To, req.Content); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Success: true})
}

// handleConversations handles GET /api/v1/conversations
func (s *Server) handleConversations(c *gin.Context) {
	archive, ok := s.archive(c)
	if !ok {
		return
	}
	convs, err := archive.Conversations()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, convs)
}

// handleConversation handles GET /api/v1/conversations/:userId and marks it read
func (s *Server) handleConversation(c *gin.Context) {
	archive, ok := s.archive(c)
	if !ok {
		return
	}
	peer := c.Param("userId")
	limit, offset := paging(c)
	msgs, err := archive.ConversationMessages(peer, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := archive.MarkConversationRead(peer); err != nil {
		log.Warnf("failed to mark conversation with %s read: %v", peer, err)
	}
	respondOK(c, msgs)
}

// archive returns the history archive or answers 503 when history is off
func (s *Server) archive(c *gin.Context) (*storage.Archive, bool) {
	a := s.peer.Archive()
	if a == nil {
		respondError(c, errHistoryDisabled)
		return nil, false
	}
	return a, true
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// paging reads limit and offset. limit is kept within 1..maxPageSize.
func paging(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
