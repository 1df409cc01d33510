package chatsession

import (
	"fmt"
	"strings"
)

// Lines the server sends to clients.
const (
	PromptAlias     = "Enter Alias:"
	MsgAliasTaken   = "Alias already taken."
	MsgInvalidAlias = "Invalid alias, use a single word not starting with @."
	MsgNotInRoom    = "You are not in the ChatRoom, type CONNECT to join."
	MsgAlreadyIn    = "You are already in the ChatRoom."
	MsgLineTooLong  = "Message too long, it was not delivered."
)

func welcomeMessage(alias string) string {
	return fmt.Sprintf("Welcome %s! Type CONNECT to join the ChatRoom or EXIT to quit.", alias)
}

func membersMessage(aliases []string) string {
	return "Members in the ChatRoom: " + strings.Join(aliases, ", ")
}

func joinedMessage(alias string) string {
	return alias + " has joined the ChatRoom"
}

func leftMessage(alias string) string {
	return alias + " has left the ChatRoom"
}

func privateMessage(alias, payload string) string {
	return "[" + alias + "] " + payload
}

func broadcastMessage(alias, payload string) string {
	return "[" + alias + ", to ALL] " + payload
}

func notFoundMessage(aliases []string) string {
	return strings.Join(aliases, ", ") + " not found in the ChatRoom."
}

// validAlias rejects aliases that could not be addressed with @alias.
func validAlias(alias string) bool {
	return alias != "" &&
		!strings.HasPrefix(alias, "@") &&
		!strings.ContainsAny(alias, " \t\r\n")
}
