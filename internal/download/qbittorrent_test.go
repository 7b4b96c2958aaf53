package download_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/readmeabook/readmeabook/internal/domain"
	"github.com/readmeabook/readmeabook/internal/download"
)

type qbCalls struct {
	mu     sync.Mutex
	logins []url.Values
	adds   []url.Values
	sids   []bool
}

func newQBServer(t *testing.T, loginReply, addReply string) (*httptest.Server, *qbCalls) {
	t.Helper()
	calls := &qbCalls{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse login form: %v", err)
		}
		calls.mu.Lock()
		calls.logins = append(calls.logins, r.PostForm)
		calls.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "SID", Value: "sid-1"})
		io.WriteString(w, loginReply)
	})
	mux.HandleFunc("/api/v2/torrents/add", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse add form: %v", err)
		}
		cookie, _ := r.Cookie("SID")
		calls.mu.Lock()
		calls.adds = append(calls.adds, r.PostForm)
		calls.sids = append(calls.sids, cookie != nil && cookie.Value == "sid-1")
		calls.mu.Unlock()
		io.WriteString(w, addReply)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, calls
}

func newQBClient(srv *httptest.Server) *download.QBittorrentClient {
	return download.NewQBittorrentClient(download.QBittorrentConfig{
		BaseURL:  srv.URL,
		Username: "admin",
		Password: "hunter2",
		Category: "audiobooks",
	}, srv.Client())
}

func TestQBittorrent_AddRelease_LogsInThenSubmits(t *testing.T) {
	srv, calls := newQBServer(t, "Ok.", "Ok.")
	client := newQBClient(srv)

	if err := client.AddRelease(context.Background(), testCandidate()); err != nil {
		t.Fatalf("AddRelease() = %v, want success", err)
	}

	if len(calls.logins) != 1 {
		t.Fatalf("logins = %d, want 1", len(calls.logins))
	}
	login := calls.logins[0]
	if login.Get("username") != "admin" || login.Get("password") != "hunter2" {
		t.Errorf("login form = %v, want configured credentials", login)
	}

	if len(calls.adds) != 1 {
		t.Fatalf("adds = %d, want 1", len(calls.adds))
	}
	add := calls.adds[0]
	if got := add.Get("urls"); got != testCandidate().DownloadURL {
		t.Errorf("urls = %q, want %q", got, testCandidate().DownloadURL)
	}
	if got := add.Get("category"); got != "audiobooks" {
		t.Errorf("category = %q, want audiobooks", got)
	}
	if !calls.sids[0] {
		t.Error("add request did not carry the SID cookie from login")
	}
}

func TestQBittorrent_BadCredentials(t *testing.T) {
	srv, calls := newQBServer(t, "Fails.", "Ok.")
	client := newQBClient(srv)

	err := client.AddRelease(context.Background(), testCandidate())
	if err == nil || !strings.Contains(err.Error(), "login rejected") {
		t.Fatalf("AddRelease() = %v, want login rejection", err)
	}
	if len(calls.adds) != 0 {
		t.Fatalf("adds = %d, want 0 after failed login", len(calls.adds))
	}
}

func TestQBittorrent_AddRejected(t *testing.T) {
	srv, _ := newQBServer(t, "Ok.", "Fails.")
	client := newQBClient(srv)

	err := client.AddRelease(context.Background(), testCandidate())
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Fatalf("AddRelease() = %v, want rejection error", err)
	}
}

func TestQBittorrent_UsenetRelease_Refused(t *testing.T) {
	srv, calls := newQBServer(t, "Ok.", "Ok.")
	client := newQBClient(srv)

	candidate := testCandidate()
	candidate.Protocol = domain.ProtocolUsenet
	err := client.AddRelease(context.Background(), candidate)
	if err == nil || !strings.Contains(err.Error(), "usenet") {
		t.Fatalf("AddRelease() = %v, want usenet refusal", err)
	}
	if len(calls.logins) != 0 {
		t.Fatalf("logins = %d, want 0 for a refused candidate", len(calls.logins))
	}
}

func TestQBittorrent_MissingDownloadURL(t *testing.T) {
	srv, calls := newQBServer(t, "Ok.", "Ok.")
	client := newQBClient(srv)

	candidate := testCandidate()
	candidate.DownloadURL = ""
	if err := client.AddRelease(context.Background(), candidate); err == nil {
		t.Fatal("AddRelease() accepted a candidate without a download url")
	}
	if len(calls.logins) != 0 {
		t.Fatalf("logins = %d, want 0", len(calls.logins))
	}
}
