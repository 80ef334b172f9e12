// Package protocol implements the LSNP wire format.
//
// LSNP peers exchange plain-text datagrams over UDP broadcast and unicast on
// port 50999. Every datagram carries exactly one frame.
//
// # Frame Format
//
// A frame is a sequence of KEY: value lines terminated by one blank line:
//
//	TYPE: POST
//	USER_ID: alice@192.168.1.10
//	CONTENT: Hello from LSNP!
//	TTL: 3600
//	TIMESTAMP: 1728938391
//	TOKEN: alice@192.168.1.10|1728941991|broadcast
//
// Lines are split on the first colon and both sides are trimmed. The
// AVATAR_DATA and DATA fields may continue over following lines that contain
// no colon; those lines are joined with a newline. Keys the decoder does not
// know are kept as opaque strings and survive re-encoding.
//
// # Message Types
//
// Presence:
//   - PROFILE, PING: USER_ID, DISPLAY_NAME, STATUS (no token)
//
// Social (scope broadcast, chat or follow):
//   - POST: USER_ID, CONTENT, TIMESTAMP, TOKEN
//   - DM: FROM, TO, CONTENT, TOKEN
//   - FOLLOW, UNFOLLOW: FROM, TO, TOKEN
//   - LIKE, UNLIKE: FROM, TO, POST_TIMESTAMP, TOKEN
//
// Groups (scope group):
//   - GROUP_CREATE, GROUP_UPDATE, GROUP_MESSAGE: FROM, GROUP_ID, TOKEN
//
// File transfer (scope file):
//   - FILE_OFFER, FILE_ACCEPT, FILE_CHUNK: FROM, TO, FILEID, TOKEN
//
// Tic-tac-toe (scope game):
//   - TICTACTOE_INVITE, _ACCEPT, _MOVE, _RESULT: FROM, TO, GAMEID, TOKEN
//
// ParseMessage turns a frame into one of the typed messages in this package
// and rejects frames that lack a required field.
package protocol
