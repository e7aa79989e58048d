package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMSChannelDeliver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "token", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550001", r.PostForm.Get("To"))
		assert.Equal(t, "+15559999", r.PostForm.Get("From"))
		assert.Equal(t, "SOS from d1", r.PostForm.Get("Body"))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42"}`))
	}))
	defer srv.Close()

	client := NewTwilioClient("AC123", "token", "+15559999", time.Second).WithBaseURL(srv.URL)
	ch := NewSMSChannel(client)
	assert.Equal(t, ChannelSMS, ch.Name())

	id, err := ch.Deliver(context.Background(), "+15550001", "SOS from d1")
	require.NoError(t, err)
	assert.Equal(t, "SM42", id)
}

func TestCallChannelDeliverTwiML(t *testing.T) {
	var twiml string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC123/Calls.json", r.URL.Path)
		require.NoError(t, r.ParseForm())
		twiml = r.PostForm.Get("Twiml")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA7"}`))
	}))
	defer srv.Close()

	client := NewTwilioClient("AC123", "token", "+15559999", time.Second).WithBaseURL(srv.URL)
	ch := NewCallChannel(client)
	assert.Equal(t, ChannelCall, ch.Name())

	id, err := ch.Deliver(context.Background(), "+15550001", "Check on the sender & call back")
	require.NoError(t, err)
	assert.Equal(t, "CA7", id)
	assert.Equal(t,
		`<Response><Say voice="alice">Check on the sender &amp; call back</Say></Response>`,
		twiml, "script is escaped into the TwiML")
}

func TestTwilioErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Authenticate"}`))
	}))
	defer srv.Close()

	client := NewTwilioClient("AC123", "bad", "+15559999", time.Second).WithBaseURL(srv.URL)
	_, err := NewSMSChannel(client).Deliver(context.Background(), "+15550001", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Authenticate")
}

func TestConsoleChannelRecords(t *testing.T) {
	ch := NewConsoleChannel(ChannelSMS, discardLogger())

	id1, err := ch.Deliver(context.Background(), "+15550001", "first")
	require.NoError(t, err)
	id2, err := ch.Deliver(context.Background(), "+15550002", "second")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	sent := ch.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, Delivery{Recipient: "+15550001", Message: "first"}, sent[0])
	assert.Equal(t, Delivery{Recipient: "+15550002", Message: "second"}, sent[1])
}
