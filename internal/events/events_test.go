package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode_Variants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Inbound
	}{
		{"join", `{"event":"join:conversation","data":"c1"}`, Join{ConversationID: "c1"}},
		{"leave", `{"event":"leave:conversation","data":"c1"}`, Leave{ConversationID: "c1"}},
		{
			"send",
			`{"event":"message:send","data":{"conversationId":"c1","recipientId":"u2","text":"hi"}}`,
			Send{ConversationID: "c1", RecipientID: "u2", Text: "hi"},
		},
		{
			"send with attachments",
			`{"event":"message:send","data":{"conversationId":"c1","recipientId":"u2","text":"hi","attachments":["https://files/a.png"]}}`,
			Send{ConversationID: "c1", RecipientID: "u2", Text: "hi", Attachments: []string{"https://files/a.png"}},
		},
		{
			"targeted read",
			`{"event":"message:markRead","data":{"conversationId":"c1","messageIds":["m1","m2"]}}`,
			MarkRead{ConversationID: "c1", MessageIDs: []string{"m1", "m2"}},
		},
		{"bulk read", `{"event":"message:markRead","data":{"conversationId":"c1"}}`, MarkRead{ConversationID: "c1"}},
		{"typing", `{"event":"user:typing","data":{"conversationId":"c1"}}`, Typing{ConversationID: "c1"}},
		{"stopped typing", `{"event":"user:stoppedTyping","data":{"conversationId":"c1"}}`, Typing{ConversationID: "c1", Stopped: true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecode_RejectsShapeMismatch(t *testing.T) {
	cases := map[string]string{
		"not json":          `hello`,
		"unknown event":     `{"event":"message:edit","data":{}}`,
		"missing event":     `{"data":"c1"}`,
		"missing data":      `{"event":"message:send"}`,
		"null data":         `{"event":"join:conversation","data":null}`,
		"join object":       `{"event":"join:conversation","data":{"conversationId":"c1"}}`,
		"unknown field":     `{"event":"message:send","data":{"conversationId":"c1","recipientId":"u2","text":"hi","extra":1}}`,
		"wrong field type":  `{"event":"message:send","data":{"conversationId":"c1","recipientId":"u2","text":5}}`,
		"ids not array":     `{"event":"message:markRead","data":{"conversationId":"c1","messageIds":"m1"}}`,
		"trailing garbage":  `{"event":"join:conversation","data":"c1"} {}`,
		"envelope extra":    `{"event":"join:conversation","data":"c1","id":7}`,
		"typing is string":  `{"event":"user:typing","data":"c1"}`,
		"stopped flag sent": `{"event":"user:typing","data":{"conversationId":"c1","Stopped":true}}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestEncode_Envelope(t *testing.T) {
	frame, err := Encode(MessageRead, Read{ConversationID: "c1", MessageIDs: []string{"m1"}, ReadBy: "u2"})
	require.NoError(t, err)

	var env struct {
		Event string `json:"event"`
		Data  Read   `json:"data"`
	}
	require.NoError(t, json.Unmarshal(frame, &env))
	require.Equal(t, MessageRead, env.Event)
	require.Equal(t, "u2", env.Data.ReadBy)
	require.Equal(t, []string{"m1"}, env.Data.MessageIDs)
}

func TestTypingEventName(t *testing.T) {
	require.Equal(t, UserTyping, Typing{}.EventName())
	require.Equal(t, UserStoppedTyping, Typing{Stopped: true}.EventName())
	require.True(t, MarkRead{MessageIDs: []string{"m"}}.Targeted())
	require.False(t, MarkRead{}.Targeted())
}
