// Package command classifies chat lines and parses @alias addressing. It has
// no I/O side effects so routing decisions can be tested without sockets.
package command

import (
	"strings"

	"github.com/cyberinferno/chatrelay/chatroom"
)

// Kind is the classification of one received line.
type Kind int

const (
	Broadcast  Kind = iota // Plain text for every other room member
	Connect                // Join the room
	Disconnect             // Leave the room, keep the connection
	Exit                   // Leave the room and close the connection
	Private                // Addressed to one or more @aliases
)

const (
	addressPrefix = '@'

	connectToken    = "CONNECT"
	disconnectToken = "DISCONNECT"
	exitToken       = "EXIT"
)

// String returns the protocol name of the kind.
func (k Kind) String() string {
	switch k {
	case Broadcast:
		return "BROADCAST"
	case Connect:
		return "CONNECT"
	case Disconnect:
		return "DISCONNECT"
	case Exit:
		return "EXIT"
	case Private:
		return "PRIVATE"
	default:
		return "UNKNOWN"
	}
}

// Resolver looks up room members by alias. *chatroom.Registry implements it.
type Resolver interface {
	Resolve(alias string) (chatroom.Member, bool)
}

// Command is a classified line. Targets and Unresolved are only populated
// for Private commands.
type Command struct {
	Kind    Kind
	Payload string
	// Targets are the addressed members that were found, in order of first
	// appearance with duplicates removed.
	Targets []chatroom.Member
	// Unresolved are the addressed aliases that were not found, in parse
	// order with duplicates removed.
	Unresolved []string
}

// Classify returns the kind of line. Matching is case-sensitive and looks at
// the start of the line only: a leading '@' is Private, then the literal
// prefixes CONNECT, DISCONNECT and EXIT are tried in that order, and
// everything else is Broadcast.
func Classify(line string) Kind {
	switch {
	case len(line) > 0 && line[0] == addressPrefix:
		return Private
	case strings.HasPrefix(line, connectToken):
		return Connect
	case strings.HasPrefix(line, disconnectToken):
		return Disconnect
	case strings.HasPrefix(line, exitToken):
		return Exit
	default:
		return Broadcast
	}
}

// Parse classifies line and, for Private lines, resolves its addressing
// prefix against resolver.
//
// The prefix is a run of "@token" words at the start of the line, each
// followed by one space. A line such as "hi @bob" has no prefix and is a
// broadcast. When the prefix consumes the whole line the payload is empty.
//
// Parameters:
//   - line: The decoded line
//   - resolver: Room lookup used for Private targets
//
// Returns:
//   - The classified command
func Parse(line string, resolver Resolver) Command {
	kind := Classify(line)
	if kind != Private {
		return Command{Kind: kind, Payload: line}
	}

	return parsePrivate(line, resolver)
}

func parsePrivate(line string, resolver Resolver) Command {
	cmd := Command{Kind: Private}
	seenTargets := make(map[uint32]struct{})
	seenMissing := make(map[string]struct{})

	i := 0
	for i < len(line) && line[i] == addressPrefix {
		i++
		start := i
		for i < len(line) && line[i] != ' ' {
			i++
		}

		token := line[start:i]
		if i < len(line) {
			i++
		}

		if token == "" {
			continue
		}

		if member, ok := resolver.Resolve(token); ok {
			if _, dup := seenTargets[member.ID()]; !dup {
				seenTargets[member.ID()] = struct{}{}
				cmd.Targets = append(cmd.Targets, member)
			}

			continue
		}

		if _, dup := seenMissing[token]; !dup {
			seenMissing[token] = struct{}{}
			cmd.Unresolved = append(cmd.Unresolved, token)
		}
	}

	cmd.Payload = line[i:]
	return cmd
}
