package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell/v2"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ZentaChain/lsnp-node/pkg/game"
	"github.com/ZentaChain/lsnp-node/pkg/network"
	"github.com/ZentaChain/lsnp-node/pkg/storage"
)

func newShell(peer *network.Peer) *ishell.Shell {
	shell := ishell.New()
	shell.SetHomeHistoryPath(".lsnp_history")
	shell.SetPrompt(fmt.Sprintf("%s> ", peer.Identity().Username))
	shell.Println("LSNP interactive shell, type 'help' for commands")

	shell.AddCmd(&ishell.Cmd{
		Name: "log",
		Help: "set log level: log <debug|info|warn|error>",
		Func: func(c *ishell.Context) {
			if !need(c, 1, "log <level>") {
				return
			}
			if err := logging.SetLogLevel("*", c.Args[0]); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(profileCmd(peer))
	shell.AddCmd(&ishell.Cmd{
		Name: "ping",
		Help: "broadcast a presence ping",
		Func: func(c *ishell.Context) {
			report(c, peer.Ping())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "post",
		Help: "broadcast a post to followers: post <text...>",
		Func: func(c *ishell.Context) {
			if !need(c, 1, "post <text...>") {
				return
			}
			ts, err := peer.Post(strings.Join(c.Args, " "))
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("posted at %d\n", ts)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "dm",
		Help: "send a direct message: dm <user@ip> <text...>",
		Func: func(c *ishell.Context) {
			if !need(c, 2, "dm <user@ip> <text...>") {
				return
			}
			report(c, peer.SendDM(c.Args[0], strings.Join(c.Args[1:], " ")))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "follow",
		Help: "follow a user: follow <user@ip>",
		Func: func(c *ishell.Context) {
			if need(c, 1, "follow <user@ip>") {
				report(c, peer.Follow(c.Args[0]))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "unfollow",
		Help: "stop following a user: unfollow <user@ip>",
		Func: func(c *ishell.Context) {
			if need(c, 1, "unfollow <user@ip>") {
				report(c, peer.Unfollow(c.Args[0]))
			}
		},
	})

	shell.AddCmd(likeCmd(peer, "like", false))
	shell.AddCmd(likeCmd(peer, "unlike", true))

	shell.AddCmd(&ishell.Cmd{
		Name: "peers",
		Help: "list known peers",
		Func: func(c *ishell.Context) {
			dir := peer.Directory()
			peers := dir.Peers()
			if len(peers) == 0 {
				c.Println("no peers discovered yet")
				return
			}
			for _, p := range peers {
				mark := " "
				if dir.IsFollowing(p.UserID) {
					mark = "*"
				}
				c.Printf("%s %-28s %-16s %s (seen %s ago)\n", mark, p.UserID, p.DisplayName, p.Status,
					time.Since(p.LastSeen).Round(time.Second))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "followers",
		Help: "list followers and followed users",
		Func: func(c *ishell.Context) {
			c.Println("followers:", strings.Join(peer.Directory().Followers(), ", "))
			c.Println("following:", strings.Join(peer.Directory().Following(), ", "))
		},
	})

	shell.AddCmd(groupCmd(peer))
	shell.AddCmd(fileCmd(peer))
	shell.AddCmd(gameCmd(peer))
	shell.AddCmd(historyCmd(peer))

	shell.AddCmd(&ishell.Cmd{
		Name: "stats",
		Help: "show datagram counters",
		Func: func(c *ishell.Context) {
			stats := peer.Stats()
			keys := make([]string, 0, len(stats))
			for k := range stats {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				c.Printf("  %-14s %d\n", k, stats[k])
			}
		},
	})

	return shell
}

func profileCmd(peer *network.Peer) *ishell.Cmd {
	return &ishell.Cmd{
		Name: "status",
		Help: "show or change the announced status: status [text...]",
		Func: func(c *ishell.Context) {
			if len(c.Args) == 0 {
				c.Printf("%s (%s): %s\n", peer.UserID(), peer.DisplayName(), peer.Status())
				return
			}
			report(c, peer.Announce(strings.Join(c.Args, " ")))
		},
	}
}

func likeCmd(peer *network.Peer, name string, unlike bool) *ishell.Cmd {
	usage := name + " <author@ip> <post-timestamp>"
	return &ishell.Cmd{
		Name: name,
		Help: usage,
		Func: func(c *ishell.Context) {
			if !need(c, 2, usage) {
				return
			}
			ts, err := strconv.ParseInt(c.Args[1], 10, 64)
			if err != nil {
				c.Err(fmt.Errorf("invalid timestamp: %w", err))
				return
			}
			if unlike {
				report(c, peer.Unlike(c.Args[0], ts))
			} else {
				report(c, peer.Like(c.Args[0], ts))
			}
		},
	}
}

func groupCmd(peer *network.Peer) *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "group",
		Help: "group subcommands",
		Func: func(c *ishell.Context) {
			groups := peer.Directory().Groups()
			if len(groups) == 0 {
				c.Println("not a member of any group")
				return
			}
			for _, g := range groups {
				c.Printf("%-12s %-16s owner=%s members=%s\n", g.ID, g.Name, g.Owner, strings.Join(g.Members, ","))
			}
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "create",
		Help: "create a group: group create <id> <name> [members...]",
		Func: func(c *ishell.Context) {
			if need(c, 2, "group create <id> <name> [members...]") {
				report(c, peer.CreateGroup(c.Args[0], c.Args[1], c.Args[2:]))
			}
		},
	})

	for _, action := range []string{"add", "remove"} {
		action := action
		c.AddCmd(&ishell.Cmd{
			Name: action,
			Help: fmt.Sprintf("%s a member: group %s <id> <user@ip>", action, action),
			Func: func(c *ishell.Context) {
				if need(c, 2, "group "+action+" <id> <user@ip>") {
					report(c, peer.UpdateGroup(c.Args[0], action, c.Args[1]))
				}
			},
		})
	}

	c.AddCmd(&ishell.Cmd{
		Name:    "msg",
		Aliases: []string{"send"},
		Help:    "message a group: group msg <id> <text...>",
		Func: func(c *ishell.Context) {
			if need(c, 2, "group msg <id> <text...>") {
				report(c, peer.SendGroupMessage(c.Args[0], strings.Join(c.Args[1:], " ")))
			}
		},
	})

	return c
}

func fileCmd(peer *network.Peer) *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "file",
		Help: "file transfer subcommands",
		Func: func(c *ishell.Context) {
			transfers := peer.Files().Transfers()
			if len(transfers) == 0 {
				c.Println("no transfers")
				return
			}
			for _, o := range transfers {
				dir := "->"
				if o.Incoming {
					dir = "<-"
				}
				c.Printf("%s %s %s %s (%d bytes) %s\n", o.FileID, dir, o.Peer, o.Filename, o.Size, o.State)
			}
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "send",
		Help: "offer a file: file send <user@ip> <path> [description...]",
		Func: func(c *ishell.Context) {
			if !need(c, 2, "file send <user@ip> <path> [description...]") {
				return
			}
			id, err := peer.OfferFileWithDescription(c.Args[0], c.Args[1], strings.Join(c.Args[2:], " "))
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("offered %s as %s\n", c.Args[1], id)
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "accept",
		Help: "accept an offer: file accept <file-id>",
		Func: func(c *ishell.Context) {
			if need(c, 1, "file accept <file-id>") {
				report(c, peer.AcceptFile(c.Args[0]))
			}
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "decline",
		Help: "decline an offer: file decline <file-id>",
		Func: func(c *ishell.Context) {
			if need(c, 1, "file decline <file-id>") {
				report(c, peer.DeclineFile(c.Args[0]))
			}
		},
	})

	return c
}

func gameCmd(peer *network.Peer) *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "game",
		Help: "tic-tac-toe subcommands",
		Func: func(c *ishell.Context) {
			games := peer.Games()
			for _, inv := range games.PendingInvites() {
				c.Printf("invite %s from %s\n", inv.GameID, inv.Inviter)
			}
			for _, inv := range games.OutgoingInvites() {
				c.Printf("invite %s to %s (waiting)\n", inv.GameID, inv.Invitee)
			}
			for _, s := range games.Sessions() {
				c.Printf("game %s: X=%s O=%s, %s to move\n", s.GameID, s.X, s.O, s.PlayerFor(s.Turn))
			}
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "invite",
		Help: "invite a user: game invite <user@ip>",
		Func: func(c *ishell.Context) {
			if !need(c, 1, "game invite <user@ip>") {
				return
			}
			id, err := peer.InviteGame(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("invited %s to game %s, you play X\n", c.Args[0], id)
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "accept",
		Help: "accept an invite: game accept <game-id>",
		Func: func(c *ishell.Context) {
			if need(c, 1, "game accept <game-id>") {
				report(c, peer.AcceptGame(c.Args[0]))
			}
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "move",
		Help: "place your symbol: game move <game-id> <0-8>",
		Func: func(c *ishell.Context) {
			if !need(c, 2, "game move <game-id> <0-8>") {
				return
			}
			pos, err := strconv.Atoi(c.Args[1])
			if err != nil {
				c.Err(fmt.Errorf("invalid position: %w", err))
				return
			}
			if err := peer.Move(c.Args[0], pos); err != nil {
				c.Err(err)
				return
			}
			if s, ok := peer.Games().Session(c.Args[0]); ok {
				c.Println(s.Board.String())
			}
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "forfeit",
		Help: "give up a game: game forfeit <game-id>",
		Func: func(c *ishell.Context) {
			if need(c, 1, "game forfeit <game-id>") {
				report(c, peer.ForfeitGame(c.Args[0]))
			}
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "board",
		Help: "print a board: game board <game-id>",
		Func: func(c *ishell.Context) {
			if !need(c, 1, "game board <game-id>") {
				return
			}
			s, ok := peer.Games().Session(c.Args[0])
			if !ok {
				c.Err(errors.New("no such game"))
				return
			}
			c.Println(s.Board.String())
		},
	})

	return c
}

func historyCmd(peer *network.Peer) *ishell.Cmd {
	archive := peer.Archive()

	show := func(c *ishell.Context, msgs []*storage.StoredMessage, err error) {
		if err != nil {
			c.Err(err)
			return
		}
		for _, m := range msgs {
			at := time.Unix(m.Timestamp, 0).Format("2006-01-02 15:04")
			c.Printf("[%s] %s %s: %s\n", at, m.Kind, m.From, m.Content)
		}
	}

	c := &ishell.Cmd{
		Name: "history",
		Help: "archived traffic: history [posts|dm <user@ip>|group <id>|search <text>|files]",
		Func: func(c *ishell.Context) {
			if archive == nil {
				c.Err(errors.New("history is disabled"))
				return
			}
			convs, err := archive.Conversations()
			if err != nil {
				c.Err(err)
				return
			}
			for _, conv := range convs {
				c.Printf("%-28s unread=%d last: %s\n", conv.Peer, conv.UnreadCount, conv.LastMessage)
			}
		},
	}
	if archive == nil {
		return c
	}

	c.AddCmd(&ishell.Cmd{
		Name: "posts",
		Help: "recent posts",
		Func: func(c *ishell.Context) {
			msgs, err := archive.Messages(storage.KindPost, 20, 0)
			show(c, msgs, err)
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "dm",
		Help: "conversation with a user: history dm <user@ip>",
		Func: func(c *ishell.Context) {
			if !need(c, 1, "history dm <user@ip>") {
				return
			}
			msgs, err := archive.ConversationMessages(c.Args[0], 50, 0)
			show(c, msgs, err)
			if err == nil {
				_ = archive.MarkConversationRead(c.Args[0])
			}
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "group",
		Help: "group messages: history group <id>",
		Func: func(c *ishell.Context) {
			if need(c, 1, "history group <id>") {
				msgs, err := archive.GroupMessages(c.Args[0], 50, 0)
				show(c, msgs, err)
			}
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "search",
		Help: "search message text: history search <text...>",
		Func: func(c *ishell.Context) {
			if need(c, 1, "history search <text...>") {
				msgs, err := archive.SearchMessages(strings.Join(c.Args, " "), 50)
				show(c, msgs, err)
			}
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "files",
		Help: "received files",
		Func: func(c *ishell.Context) {
			files, err := archive.Files()
			if err != nil {
				c.Err(err)
				return
			}
			for _, f := range files {
				c.Printf("%s from %s: %s (%d bytes)\n", f.FileID, f.From, f.Path, f.Size)
			}
		},
	})

	return c
}

// printEvents writes notifications above the prompt
func printEvents(ctx context.Context, sh *ishell.Shell, peer *network.Peer, events <-chan network.Notification) {
	out := func(format string, args ...any) {
		if sh != nil {
			sh.Printf(format, args...)
		} else {
			fmt.Printf(format, args...)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-events:
			if !ok {
				return
			}
			out("\n[%s] %s\n", n.Kind, n.Text)
			switch data := n.Data.(type) {
			case game.Session:
				out("%s\n", data.Board.String())
			case network.BoardView:
				if s, active := peer.Games().Session(data.GameID); active {
					out("%s\n", s.Board.String())
				}
			}
		}
	}
}

func need(c *ishell.Context, n int, usage string) bool {
	if len(c.Args) < n {
		c.Err(fmt.Errorf("usage: %s", usage))
		return false
	}
	return true
}

func report(c *ishell.Context, err error) {
	if err != nil {
		c.Err(err)
		return
	}
	c.Println("ok")
}
