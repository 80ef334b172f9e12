package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/lsnp-node/pkg/directory"
	"github.com/ZentaChain/lsnp-node/pkg/network"
	"github.com/ZentaChain/lsnp-node/pkg/protocol"
	"github.com/ZentaChain/lsnp-node/pkg/storage"
)

const (
	alice = "alice@192.168.1.10"
	bob   = "bob@192.168.1.11"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func newPeer(t *testing.T, segment *network.MemoryNetwork, userID string, withHistory bool) (*network.Peer, *network.Hub) {
	t.Helper()
	id, err := directory.ParseUserID(userID)
	require.NoError(t, err)

	cfg := network.DefaultConfig()
	cfg.Username = id.Username
	cfg.Address = id.Address
	cfg.PresenceDelay = time.Hour
	cfg.ChunkDelay = 0
	cfg.Files.DownloadDir = t.TempDir()

	tr, err := segment.Join(id.Address)
	require.NoError(t, err)

	hub := network.NewHub()
	opts := []network.Option{network.WithNotifier(hub)}
	if withHistory {
		archive, err := storage.Open(storage.MemoryPath)
		require.NoError(t, err)
		t.Cleanup(func() { _ = archive.Close() })
		opts = append(opts, network.WithArchive(archive))
	}

	p, err := network.NewPeer(cfg, tr, opts...)
	require.NoError(t, err)
	p.Start(context.Background())
	t.Cleanup(func() { _ = p.Close() })
	return p, hub
}

// setup starts alice with an API server and a plain bob on one segment
func setup(t *testing.T, withHistory bool) (*Server, *network.Peer, *network.Peer) {
	t.Helper()
	segment := network.NewMemoryNetwork(protocol.DefaultPort)
	a, hub := newPeer(t, segment, alice, withHistory)
	b, _ := newPeer(t, segment, bob, false)

	cfg := DefaultConfig()
	cfg.RateLimit = 0
	return NewServer(a, hub, cfg), a, b
}

func request(t *testing.T, s *Server, method, path string, body any) (int, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w.Code, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealthAndNodeInfo(t *testing.T) {
	s, _, _ := setup(t, true)

	code, _ := request(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp := request(t, s, http.MethodGet, "/api/v1/node/info", nil)
	require.Equal(t, http.StatusOK, code)
	info := decode[NodeInfoResponse](t, resp.Data)
	assert.Equal(t, alice, info.UserID)
	assert.Equal(t, "alice", info.DisplayName)
	assert.Equal(t, uint16(protocol.DefaultPort), info.Port)
	assert.True(t, info.History)

	code, _ = request(t, s, http.MethodPut, "/api/v1/node/status", StatusRequest{Status: "Studying"})
	assert.Equal(t, http.StatusOK, code)
	_, resp = request(t, s, http.MethodGet, "/api/v1/node/info", nil)
	assert.Equal(t, "Studying", decode[NodeInfoResponse](t, resp.Data).Status)

	code, resp = request(t, s, http.MethodGet, "/api/v1/node/stats", nil)
	require.Equal(t, http.StatusOK, code)
	stats := decode[map[string]any](t, resp.Data)
	assert.Contains(t, stats, "datagrams")
}

func TestBadRequests(t *testing.T) {
	s, _, _ := setup(t, true)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing status", http.MethodPut, "/api/v1/node/status", map[string]string{}, http.StatusBadRequest},
		{"empty dm", http.MethodPost, "/api/v1/messages", DirectMessageRequest{To: bob}, http.StatusBadRequest},
		{"invalid user id", http.MethodPost, "/api/v1/messages", DirectMessageRequest{To: "bob", Content: "hi"}, http.StatusBadRequest},
		{"dm to self", http.MethodPost, "/api/v1/messages", DirectMessageRequest{To: alice, Content: "hi"}, http.StatusBadRequest},
		{"bad group action", http.MethodPost, "/api/v1/groups/g1/members", map[string]string{"action": "rename", "userId": bob}, http.StatusBadRequest},
		{"unknown group", http.MethodPost, "/api/v1/groups/g1/members", GroupMemberRequest{Action: "add", UserID: bob}, http.StatusNotFound},
		{"not a member", http.MethodPost, "/api/v1/groups/g9/messages", ContentRequest{Content: "hi"}, http.StatusForbidden},
		{"missing file", http.MethodPost, "/api/v1/files", FileOfferRequest{To: bob, Path: "/no/such/file"}, http.StatusBadRequest},
		{"unknown transfer", http.MethodPost, "/api/v1/files/f1/accept", nil, http.StatusNotFound},
		{"unknown game", http.MethodGet, "/api/v1/games/g1", nil, http.StatusNotFound},
		{"move without position", http.MethodPost, "/api/v1/games/g1/moves", map[string]string{}, http.StatusBadRequest},
		{"unknown peer", http.MethodGet, "/api/v1/peers/" + bob, nil, http.StatusNotFound},
		{"search without query", http.MethodGet, "/api/v1/search", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := request(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHistoryDisabled(t *testing.T) {
	s, _, _ := setup(t, false)

	for _, path := range []string{"/api/v1/posts", "/api/v1/conversations", "/api/v1/files/received", "/api/v1/search?q=x"} {
		code, _ := request(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, code, path)
	}
}

func TestSocialFlow(t *testing.T) {
	s, a, b := setup(t, true)

	code, _ := request(t, s, http.MethodPost, "/api/v1/following", UserRequest{UserID: bob})
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool { return len(b.Directory().Followers()) == 1 }, 2*time.Second, 5*time.Millisecond)

	code, resp := request(t, s, http.MethodGet, "/api/v1/following", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{bob}, decode[[]string](t, resp.Data))

	// bob posts, alice follows bob and archives it
	_, err := b.Post("LSNP rocks")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, resp := request(t, s, http.MethodGet, "/api/v1/posts", nil)
		return len(decode[[]storage.StoredMessage](t, resp.Data)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	code, resp = request(t, s, http.MethodGet, "/api/v1/search?q=rocks", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]storage.StoredMessage](t, resp.Data), 1)

	code, _ = request(t, s, http.MethodPost, "/api/v1/messages", DirectMessageRequest{To: bob, Content: "hello bob"})
	require.Equal(t, http.StatusCreated, code)
	require.NoError(t, b.SendDM(alice, "hi alice"))

	require.Eventually(t, func() bool {
		_, resp := request(t, s, http.MethodGet, "/api/v1/conversations/"+bob, nil)
		return len(decode[[]storage.StoredMessage](t, resp.Data)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	code, resp = request(t, s, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, code)
	convs := decode[[]storage.Conversation](t, resp.Data)
	require.Len(t, convs, 1)
	assert.Equal(t, 0, convs[0].UnreadCount, "reading the conversation marks it read")

	code, _ = request(t, s, http.MethodPost, "/api/v1/likes", LikeRequest{To: bob, PostTimestamp: 1700000000})
	assert.Equal(t, http.StatusOK, code)

	code, _ = request(t, s, http.MethodDelete, "/api/v1/following/"+bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, a.Directory().Following())
}

func TestGroupsFlow(t *testing.T) {
	s, _, b := setup(t, true)

	code, resp := request(t, s, http.MethodPost, "/api/v1/groups", CreateGroupRequest{ID: "g1", Name: "Study", Members: []string{bob}})
	require.Equal(t, http.StatusCreated, code)
	g := decode[directory.Group](t, resp.Data)
	assert.Equal(t, alice, g.Owner)
	require.Eventually(t, func() bool { return b.Directory().IsMember("g1", bob) }, 2*time.Second, 5*time.Millisecond)

	code, _ = request(t, s, http.MethodPost, "/api/v1/groups/g1/messages", ContentRequest{Content: "welcome"})
	assert.Equal(t, http.StatusCreated, code)

	code, resp = request(t, s, http.MethodGet, "/api/v1/groups/g1/messages", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]storage.StoredMessage](t, resp.Data), 1)

	code, _ = request(t, s, http.MethodPost, "/api/v1/groups/g1/members", GroupMemberRequest{Action: "remove", UserID: alice})
	assert.Equal(t, http.StatusBadRequest, code, "owner cannot be removed")

	code, _ = request(t, s, http.MethodPost, "/api/v1/groups/g1/members", GroupMemberRequest{Action: "remove", UserID: bob})
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool {
		_, known := b.Directory().Group("g1")
		return !known
	}, 2*time.Second, 5*time.Millisecond)

	code, resp = request(t, s, http.MethodGet, "/api/v1/groups", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]directory.Group](t, resp.Data), 1)
}

func TestGameFlow(t *testing.T) {
	s, a, b := setup(t, false)

	code, resp := request(t, s, http.MethodPost, "/api/v1/games", UserRequest{UserID: bob})
	require.Equal(t, http.StatusCreated, code)
	gameID := decode[map[string]string](t, resp.Data)["gameId"]
	require.NotEmpty(t, gameID)

	require.Eventually(t, func() bool { return len(b.Games().PendingInvites()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.AcceptGame(gameID))
	require.Eventually(t, func() bool {
		_, ok := a.Games().Session(gameID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	zero := 0
	code, resp = request(t, s, http.MethodPost, "/api/v1/games/"+gameID+"/moves", MoveRequest{Position: &zero})
	require.Equal(t, http.StatusOK, code)
	view := decode[GameView](t, resp.Data)
	assert.Equal(t, "X", view.Cells[0])
	assert.Equal(t, bob, view.Next)

	one := 1
	code, _ = request(t, s, http.MethodPost, "/api/v1/games/"+gameID+"/moves", MoveRequest{Position: &one})
	assert.Equal(t, http.StatusBadRequest, code, "not alice's turn")

	code, resp = request(t, s, http.MethodGet, "/api/v1/games", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[GamesResponse](t, resp.Data).Sessions, 1)

	code, _ = request(t, s, http.MethodPost, "/api/v1/games/"+gameID+"/forfeit", nil)
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool { return len(b.Games().Sessions()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestEventStream(t *testing.T) {
	s, _, b := setup(t, false)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, b.SendDM(alice, "are you there?"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var n network.Notification
	require.NoError(t, conn.ReadJSON(&n))
	assert.Equal(t, network.KindDirectMessage, n.Kind)
	assert.Equal(t, bob, n.From)
	assert.Equal(t, "are you there?", n.Text)

	conn.Close()
	require.Eventually(t, func() bool { return s.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventStreamRejectsForeignOrigin(t *testing.T) {
	s, _, _ := setup(t, false)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := setup(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/peers", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPaging(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", defaultPageSize, 0},
		{"limit=10&offset=5", 10, 5},
		{"limit=-1", defaultPageSize, 0},
		{"limit=0", defaultPageSize, 0},
		{"limit=many", defaultPageSize, 0},
		{"limit=1000000", maxPageSize, 0},
		{"offset=-3", defaultPageSize, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/posts?"+tt.query, nil)
			limit, offset := paging(c)
			assert.Equal(t, tt.limit, limit)
			assert.Equal(t, tt.offset, offset)
		})
	}
}
