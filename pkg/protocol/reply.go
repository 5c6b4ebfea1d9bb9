package protocol

import (
	"strconv"
	"strings"

	"peerchat/pkg/model"
)

// Status keywords replies begin with. Callers pattern-match on the first
// field, so keywords never contain spaces.
const (
	ReplyJoinSuccess          = "join-success"
	ReplyJoinExist            = "join-exist"
	ReplyLoginSuccess         = "login-success"
	ReplyLoginAccountNotExist = "login-account-not-exist"
	ReplyLoginOnline          = "login-online"
	ReplyLoginWrongPassword   = "login-wrong-password"
	ReplyLogoutSuccess        = "logout-success"
	ReplySearchSuccess        = "search-success" // followed by "ip:port"
	ReplySearchNotOnline      = "search-user-not-online"
	ReplySearchNotFound       = "search-user-not-found"
	ReplyOnlineUsers          = "online-users" // followed by usernames
	ReplyRoomCreated          = "room-create-success"
	ReplyRoomExists           = "room-exist"
	ReplyRoomNotFound         = "room-not-found"
	ReplyRoomAlreadyMember    = "room-already-member"
	ReplyRoomLeft             = "room-left" // ack ending the leaver's receive loops
	ReplyRoomList             = "room-list" // followed by room names
	ReplyRoomListEmpty        = "room-list-empty"
	ReplyPortNumber           = "port-number" // followed by the recorded datagram port
	ReplyPortUnknown          = "port-unknown"
	ReplyFailure              = "failure" // store or rate-limit failure, followed by detail
)

// SearchSuccessReply renders a search-success reply for an endpoint.
func SearchSuccessReply(ep model.Endpoint) string {
	return ReplySearchSuccess + " " + ep.String()
}

// ParseSearchSuccess extracts the endpoint from a search-success reply.
func ParseSearchSuccess(reply string) (model.Endpoint, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(reply, ReplySearchSuccess))
	return model.ParseEndpoint(rest)
}

// OnlineUsersReply renders the PRINT reply.
func OnlineUsersReply(usernames []string) string {
	if len(usernames) == 0 {
		return ReplyOnlineUsers
	}
	return ReplyOnlineUsers + " " + strings.Join(usernames, " ")
}

// RoomListReply renders the PRINT_CHATROOMS reply with an explicit empty marker.
func RoomListReply(rooms []string) string {
	if len(rooms) == 0 {
		return ReplyRoomListEmpty
	}
	return ReplyRoomList + " " + strings.Join(rooms, " ")
}

// PortNumberReply renders the PORTNUMBER reply.
func PortNumberReply(port int) string {
	if port == 0 {
		return ReplyPortUnknown
	}
	return ReplyPortNumber + " " + strconv.Itoa(port)
}

// FailureReply renders a textual failure reply.
func FailureReply(detail string) string {
	return ReplyFailure + " " + detail
}

// ReplyKeyword returns the status keyword a reply begins with.
func ReplyKeyword(reply string) string {
	if i := strings.IndexByte(reply, ' '); i >= 0 {
		return reply[:i]
	}
	return reply
}

// ReplyArgs returns the fields after a reply's status keyword.
func ReplyArgs(reply string) []string {
	fields := strings.Fields(reply)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}
