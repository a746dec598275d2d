package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/whiteout-project/wosbot/internal/refresh"
)

func TestSendEmbeds(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody struct {
		Embeds []Embed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"id":"111","channel_id":"222","content":""}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("secret-token", srv.URL)
	msg, err := c.SendEmbeds(context.Background(), "222", []Embed{
		{Title: "Furnace", Description: "**Ape** (1): 29 → 30"},
	})
	if err != nil {
		t.Fatalf("SendEmbeds: %v", err)
	}
	if msg.ID != "111" {
		t.Errorf("message id = %q, want 111", msg.ID)
	}
	if gotPath != "/channels/222/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bot secret-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if len(gotBody.Embeds) != 1 || gotBody.Embeds[0].Title != "Furnace" {
		t.Errorf("embeds = %+v", gotBody.Embeds)
	}
}

func TestDoRequestParsesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1.5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("t", srv.URL)
	_, err := c.SendMessage(context.Background(), "1", "hello")
	var ra *RetryAfterError
	if !errors.As(err, &ra) {
		t.Fatalf("error = %v, want RetryAfterError", err)
	}
	if ra.RetryAfter != 1500*time.Millisecond {
		t.Errorf("RetryAfter = %s, want 1.5s", ra.RetryAfter)
	}
}

func TestSinkRetriesAfterThrottle(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":"1","channel_id":"2","content":""}`)
	}))
	defer srv.Close()

	s := NewSink(NewClientWithBaseURL("t", srv.URL))
	err := s.Send(context.Background(), "2", &refresh.Message{
		Embeds: []refresh.Embed{{Title: "State", Description: "**Ape** (1): 244 → 245"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestSinkDoesNotRetryHardErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"message":"Missing Access"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSink(NewClientWithBaseURL("t", srv.URL))
	err := s.Send(context.Background(), "2", &refresh.Message{
		Embeds: []refresh.Embed{{Title: "Nickname"}},
	})
	if err == nil {
		t.Fatal("Send succeeded, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want no retries", calls)
	}
}

func TestSinkGivesUpAfterMaxRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "0.001")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSink(NewClientWithBaseURL("t", srv.URL))
	err := s.Send(context.Background(), "2", &refresh.Message{
		Embeds: []refresh.Embed{{Title: "Furnace"}},
	})
	var ra *RetryAfterError
	if !errors.As(err, &ra) {
		t.Fatalf("error = %v, want RetryAfterError after exhausted retries", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want initial attempt plus 3 retries", calls)
	}
}
