package storage

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/lsnp-node/pkg/directory"
)

const (
	alice = "alice@192.168.1.10"
	bob   = "bob@192.168.1.11"
	carol = "carol@192.168.1.12"
)

func openArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	a, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, a.SaveMessage(&StoredMessage{Kind: KindPost, From: alice, Content: "hi", Timestamp: 1}))
	require.NoError(t, a.Close())

	a, err = Open(path)
	require.NoError(t, err)
	defer a.Close()

	posts, err := a.Messages(KindPost, 10, 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "hi", posts[0].Content)
}

func TestSaveMessage(t *testing.T) {
	a := openArchive(t)

	msg := &StoredMessage{
		Kind:      KindPost,
		MessageID: "m1",
		From:      alice,
		Content:   "Hello LAN",
		Timestamp: 1000,
	}
	require.NoError(t, a.SaveMessage(msg))
	assert.NotZero(t, msg.ID)

	got, err := a.GetMessage(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = a.GetMessage(msg.ID + 100)
	assert.ErrorIs(t, err, ErrNotFound)

	t.Run("duplicate message id", func(t *testing.T) {
		dup := *msg
		dup.ID = 0
		assert.ErrorIs(t, a.SaveMessage(&dup), ErrDuplicate)
	})

	t.Run("messages without id are never duplicates", func(t *testing.T) {
		require.NoError(t, a.SaveMessage(&StoredMessage{Kind: KindPost, From: bob, Content: "a", Timestamp: 2000}))
		require.NoError(t, a.SaveMessage(&StoredMessage{Kind: KindPost, From: bob, Content: "a", Timestamp: 2000}))
	})

	t.Run("unknown kind", func(t *testing.T) {
		assert.Error(t, a.SaveMessage(&StoredMessage{Kind: "bogus", From: bob}))
	})

	posts, err := a.Messages(KindPost, 0, 0)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, int64(2000), posts[0].Timestamp, "newest first")
}

func TestConversations(t *testing.T) {
	a := openArchive(t)

	dms := []*StoredMessage{
		{Kind: KindDirect, MessageID: "d1", From: bob, To: alice, Content: "hey", Timestamp: 10},
		{Kind: KindDirect, MessageID: "d2", From: alice, To: bob, Content: "hi bob", Timestamp: 11, Outgoing: true},
		{Kind: KindDirect, MessageID: "d3", From: bob, To: alice, Content: "lunch?", Timestamp: 12},
		{Kind: KindDirect, MessageID: "d4", From: carol, To: alice, Content: strings.Repeat("x", 150), Timestamp: 5},
	}
	for _, m := range dms {
		require.NoError(t, a.SaveMessage(m))
	}

	convs, err := a.Conversations()
	require.NoError(t, err)
	require.Len(t, convs, 2)

	assert.Equal(t, bob, convs[0].Peer)
	assert.Equal(t, "lunch?", convs[0].LastMessage)
	assert.Equal(t, 2, convs[0].UnreadCount, "outgoing messages are not unread")
	assert.Equal(t, carol, convs[1].Peer)
	assert.Len(t, convs[1].LastMessage, previewLength+3)

	thread, err := a.ConversationMessages(bob, 10, 0)
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, "d3", thread[0].MessageID)
	assert.True(t, thread[1].Outgoing)

	require.NoError(t, a.MarkConversationRead(bob))
	convs, err = a.Conversations()
	require.NoError(t, err)
	assert.Zero(t, convs[0].UnreadCount)
}

func TestGroupMessagesAndSearch(t *testing.T) {
	a := openArchive(t)

	require.NoError(t, a.SaveMessage(&StoredMessage{Kind: KindGroup, From: alice, To: "study", Content: "Exam on Friday", Timestamp: 1}))
	require.NoError(t, a.SaveMessage(&StoredMessage{Kind: KindGroup, From: bob, To: "other", Content: "unrelated", Timestamp: 2}))
	require.NoError(t, a.SaveMessage(&StoredMessage{Kind: KindPost, From: bob, Content: "friday party", Timestamp: 3}))

	group, err := a.GroupMessages("study", 10, 0)
	require.NoError(t, err)
	require.Len(t, group, 1)
	assert.Equal(t, alice, group[0].From)

	found, err := a.SearchMessages("FRIDAY", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	require.NoError(t, a.DeleteMessage(found[0].ID))
	found, err = a.SearchMessages("friday", 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestLikes(t *testing.T) {
	a := openArchive(t)

	require.NoError(t, a.SaveLike(Like{From: bob, To: alice, PostTimestamp: 100, Liked: true, Timestamp: 200}))
	require.NoError(t, a.SaveLike(Like{From: carol, To: alice, PostTimestamp: 100, Liked: true, Timestamp: 201}))

	likers, err := a.LikesOf(alice, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{bob, carol}, likers)

	require.NoError(t, a.SaveLike(Like{From: bob, To: alice, PostTimestamp: 100, Liked: false, Timestamp: 300}))
	// a stale like arriving late does not resurrect it
	require.NoError(t, a.SaveLike(Like{From: bob, To: alice, PostTimestamp: 100, Liked: true, Timestamp: 250}))

	likers, err = a.LikesOf(alice, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{carol}, likers)

	events, err := a.Likes(bob)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Liked)
}

func TestFiles(t *testing.T) {
	a := openArchive(t)

	rec := FileRecord{
		FileID:     "f1",
		From:       bob,
		Filename:   "notes.txt",
		Path:       "/tmp/notes.txt",
		Size:       42,
		Checksum:   "abcd",
		Recovered:  true,
		ReceivedAt: 1700000000,
	}
	require.NoError(t, a.SaveFile(rec))
	assert.Error(t, a.SaveFile(rec), "file ids are unique")

	got, err := a.GetFile("f1")
	require.NoError(t, err)
	assert.Equal(t, rec, *got)

	_, err = a.GetFile("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	files, err := a.Files()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestPeers(t *testing.T) {
	a := openArchive(t)
	seen := time.Unix(1700000000, 0)

	require.NoError(t, a.SavePeer(directory.PeerRecord{UserID: bob, DisplayName: "Bob", Status: "Online", LastSeen: seen}))
	require.NoError(t, a.SavePeer(directory.PeerRecord{UserID: alice, DisplayName: "Alice", Status: "Busy", AvatarType: "image/png", AvatarData: "iVBOR", LastSeen: seen}))
	require.NoError(t, a.SavePeer(directory.PeerRecord{UserID: bob, DisplayName: "Bobby", Status: "Away", LastSeen: seen.Add(time.Minute)}))

	got, err := a.GetPeer(bob)
	require.NoError(t, err)
	assert.Equal(t, "Bobby", got.DisplayName)
	assert.True(t, got.LastSeen.Equal(seen.Add(time.Minute)))

	peers, err := a.AllPeers()
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "Alice", peers[0].DisplayName)
	assert.Empty(t, peers[0].AvatarData, "avatar data is not archived")

	require.NoError(t, a.DeletePeer(bob))
	_, err = a.GetPeer(bob)
	assert.ErrorIs(t, err, ErrNotFound)
}
