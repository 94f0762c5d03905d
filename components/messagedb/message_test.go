package messagedb

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	//before
	fmt.Println("\nSTART UNIT TEST 'messagedb'")

	m.Run()

	//after
	fmt.Println("END UNIT TEST 'messagedb'")
}

func msgAt(sender, body string, at time.Time) *DBMessage {
	return &DBMessage{Sender: sender, Body: body, SentAt: at}
}

func Test_GroupMessages(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	msgs := []*DBMessage{
		msgAt("alice", "hi", base),
		msgAt("alice", "you there?", base.Add(30*time.Second)),
		msgAt("bob", "yes", base.Add(time.Minute)),
		msgAt("alice", "cool", base.Add(2*time.Minute)),
		// same sender but past the window, new group
		msgAt("alice", "still here", base.Add(20*time.Minute)),
	}

	groups := GroupMessages(msgs, DefaultGroupWindow)
	require.Len(t, groups, 4)

	assert.Equal(t, "alice", groups[0].Sender)
	assert.Len(t, groups[0].Messages, 2)
	assert.Equal(t, "bob", groups[1].Sender)
	assert.Equal(t, "alice", groups[2].Sender)
	assert.Len(t, groups[2].Messages, 1)
	assert.Equal(t, "still here", groups[3].Messages[0].Body)
}

func Test_GroupMessagesEmpty(t *testing.T) {
	assert.Nil(t, GroupMessages(nil, DefaultGroupWindow))
	assert.Nil(t, GroupMessages([]*DBMessage{}, DefaultGroupWindow))
}
