package chatsession

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/chatrelay/chatroom"
	"github.com/cyberinferno/chatrelay/linecodec"
	"github.com/cyberinferno/chatrelay/logger"
)

func TestMessageFormats(t *testing.T) {
	assert.Equal(t, "alice has joined the ChatRoom", joinedMessage("alice"))
	assert.Equal(t, "alice has left the ChatRoom", leftMessage("alice"))
	assert.Equal(t, "[alice] hi", privateMessage("alice", "hi"))
	assert.Equal(t, "[alice, to ALL] hi", broadcastMessage("alice", "hi"))
	assert.Equal(t, "[alice] ", privateMessage("alice", ""))
	assert.Equal(t, "Members in the ChatRoom: alice, bob", membersMessage([]string{"alice", "bob"}))
	assert.Equal(t, "carol not found in the ChatRoom.", notFoundMessage([]string{"carol"}))
	assert.Equal(t, "carol, dave not found in the ChatRoom.", notFoundMessage([]string{"carol", "dave"}))
}

func TestValidAlias(t *testing.T) {
	assert.True(t, validAlias("alice"))
	assert.True(t, validAlias("a@b"))
	assert.False(t, validAlias(""))
	assert.False(t, validAlias("@alice"))
	assert.False(t, validAlias("al ice"))
	assert.False(t, validAlias("al\tice"))
}

type recordingMember struct {
	id    uint32
	alias string
	err   error
	lines []string
}

func (r *recordingMember) ID() uint32    { return r.id }
func (r *recordingMember) Alias() string { return r.alias }
func (r *recordingMember) SendLine(text string) error {
	if r.err != nil {
		return r.err
	}

	r.lines = append(r.lines, text)
	return nil
}

func TestDeliver_ToleratesFailedRecipients(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	s := NewSession(1, server, NewDependencies(logger.NewNopLogger()))
	defer s.Close()

	gone := &recordingMember{id: 2, alias: "gone", err: errors.New("broken pipe")}
	alive := &recordingMember{id: 3, alias: "alive"}

	s.deliver([]chatroom.Member{gone, alive}, "[x, to ALL] still here")

	assert.Empty(t, gone.lines)
	assert.Equal(t, []string{"[x, to ALL] still here"}, alive.lines)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	s := NewSession(7, server, Dependencies{Room: chatroom.NewRegistry(), Aliases: chatroom.NewAliasTable()})
	assert.Equal(t, uint32(7), s.ID())
	assert.Equal(t, Connecting, s.State())
	assert.Empty(t, s.Alias())

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestChat_JoinRefusalReply(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, room *chatroom.Registry, s *Session)
		want  string
	}{
		{
			name: "already a member",
			setup: func(t *testing.T, room *chatroom.Registry, s *Session) {
				_, err := room.Join(s)
				require.NoError(t, err)
			},
			want: MsgAlreadyIn,
		},
		{
			name: "alias held by another member",
			setup: func(t *testing.T, room *chatroom.Registry, _ *Session) {
				_, err := room.Join(&recordingMember{id: 9, alias: "alice"})
				require.NoError(t, err)
			},
			want: MsgAliasTaken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := net.Pipe()
			defer client.Close()

			deps := NewDependencies(logger.NewNopLogger())
			s := NewSession(1, server, deps)
			defer s.Close()
			s.alias = "alice"
			tt.setup(t, deps.Room, s)

			type result struct {
				exit bool
				err  error
			}
			done := make(chan result, 1)
			go func() {
				exit, err := s.chat()
				done <- result{exit, err}
			}()

			line, err := linecodec.NewReader(client).ReceiveLine()
			require.NoError(t, err)
			assert.Equal(t, tt.want, line)

			res := <-done
			assert.False(t, res.exit)
			assert.NoError(t, res.err)
		})
	}
}
