package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func TestTwilio_SendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "whatsapp:+14155238886", r.PostForm.Get("From"))
		assert.Equal(t, "whatsapp:+919876543210", r.PostForm.Get("To"))
		assert.Equal(t, "Good morning", r.PostForm.Get("Body"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	tw := NewTwilio(TwilioConfig{AccountSID: "AC123", AuthToken: "secret", From: "+14155238886", BaseURL: srv.URL, Retry: fastRetry}, zerolog.Nop())
	id, err := tw.SendText(context.Background(), "+919876543210", "Good morning")
	require.NoError(t, err)
	assert.Equal(t, "SM42", id)
	assert.Equal(t, "twilio", tw.ProviderName())
}

func TestTwilio_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM43"}`))
	}))
	defer srv.Close()

	tw := NewTwilio(TwilioConfig{AccountSID: "AC1", AuthToken: "x", From: "whatsapp:+1", BaseURL: srv.URL, Retry: fastRetry}, zerolog.Nop())
	id, err := tw.SendText(context.Background(), "+919876543210", "hi")
	require.NoError(t, err)
	assert.Equal(t, "SM43", id)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTwilio_ServerErrorIsNotRetried(t *testing.T) {
	// a 5xx may come after the provider queued the message
	for _, code := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(code)
		}))

		tw := NewTwilio(TwilioConfig{AccountSID: "AC1", AuthToken: "x", From: "+1", BaseURL: srv.URL, Retry: fastRetry}, zerolog.Nop())
		_, err := tw.SendText(context.Background(), "+1", "hi")
		srv.Close()

		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, code, se.Status)
		assert.Equal(t, int32(1), calls.Load(), "status %d", code)
	}
}

func TestRetryable(t *testing.T) {
	dial := &url.Error{Op: "Post", URL: "https://api.example", Err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}}
	read := &url.Error{Op: "Post", URL: "https://api.example", Err: &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}}

	assert.True(t, retryable(dial))
	assert.True(t, retryable(fmt.Errorf("twilio: %w", dial)))
	assert.True(t, retryable(&StatusError{Provider: "meta", Status: http.StatusTooManyRequests}))

	assert.False(t, retryable(read))
	assert.False(t, retryable(&StatusError{Provider: "meta", Status: http.StatusInternalServerError}))
	assert.False(t, retryable(&StatusError{Provider: "meta", Status: http.StatusBadRequest}))
	assert.False(t, retryable(context.Canceled))
	assert.False(t, retryable(context.DeadlineExceeded))
	assert.False(t, retryable(errors.New("timeout awaiting response headers")))

	// a refused connection from a real client is classified as a dial failure
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	_, err := resty.New().R().Get(addr)
	require.Error(t, err)
	assert.True(t, retryable(err))
}

func TestTwilio_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"invalid To"}`))
	}))
	defer srv.Close()

	tw := NewTwilio(TwilioConfig{AccountSID: "AC1", AuthToken: "x", From: "+1", BaseURL: srv.URL, Retry: fastRetry}, zerolog.Nop())
	_, err := tw.SendText(context.Background(), "+1", "hi")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTwilio_IsAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC1.json", r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tw := NewTwilio(TwilioConfig{AccountSID: "AC1", AuthToken: "x", From: "+1", BaseURL: srv.URL}, zerolog.Nop())
	assert.True(t, tw.IsAvailable(context.Background()))
}

func TestMeta_SendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/555/messages", r.URL.Path)
		assert.Equal(t, "Bearer EAAG", r.Header.Get("Authorization"))
		var req metaSendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "whatsapp", req.MessagingProduct)
		assert.Equal(t, "919876543210", req.To)
		assert.Equal(t, "text", req.Type)
		assert.Equal(t, "Good night", req.Text.Body)
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.ABC"}]}`))
	}))
	defer srv.Close()

	m := NewMeta(MetaConfig{AccessToken: "EAAG", PhoneNumberID: "555", APIVersion: "v19.0", BaseURL: srv.URL, Retry: fastRetry}, zerolog.Nop())
	id, err := m.SendText(context.Background(), "+919876543210", "Good night")
	require.NoError(t, err)
	assert.Equal(t, "wamid.ABC", id)
}

func TestMeta_NoMessagesMeansNoID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	m := NewMeta(MetaConfig{AccessToken: "t", PhoneNumberID: "1", BaseURL: srv.URL}, zerolog.Nop())
	id, err := m.SendText(context.Background(), "+1", "x")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestUltramsg_SendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/instance77/messages/chat":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "tok", body["token"])
			assert.Equal(t, "+919876543210", body["to"])
			_, _ = w.Write([]byte(`{"sent":"true","message":"ok","id":1234}`))
		case "/instance77/instance/connectionState":
			_, _ = w.Write([]byte(`{"state":"open"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	u := NewUltramsg(UltramsgConfig{InstanceID: "instance77", Token: "tok", BaseURL: srv.URL, Retry: fastRetry}, zerolog.Nop())
	id, err := u.SendText(context.Background(), "whatsapp:919876543210", "hello")
	require.NoError(t, err)
	assert.Equal(t, "1234", id)
	assert.True(t, u.IsAvailable(context.Background()))
}

func TestUltramsg_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"wrong token"}`))
	}))
	defer srv.Close()

	u := NewUltramsg(UltramsgConfig{InstanceID: "i", Token: "bad", BaseURL: srv.URL}, zerolog.Nop())
	_, err := u.SendText(context.Background(), "+1", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong token")
	assert.False(t, u.IsAvailable(context.Background()))
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	slow := RetryPolicy{MaxAttempts: 10, InitialInterval: time.Second, MaxInterval: time.Second}
	m := NewMeta(MetaConfig{AccessToken: "t", PhoneNumberID: "1", BaseURL: srv.URL, Retry: slow}, zerolog.Nop())

	start := time.Now()
	_, err := m.SendText(ctx, "+1", "x")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestDryRun(t *testing.T) {
	d := NewDryRun(zerolog.Nop())
	id1, err := d.SendText(context.Background(), "+1", "a")
	require.NoError(t, err)
	id2, err := d.SendText(context.Background(), "+1", "b")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.True(t, d.IsAvailable(context.Background()))
	sent := d.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "b", sent[1].Body)
}
