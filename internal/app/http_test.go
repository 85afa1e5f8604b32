package app

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskhub/api/internal/authpw"
	"taskhub/api/internal/realtime"
	"taskhub/api/internal/store"
)

func newTestServer(t *testing.T, fs *fakeStore) (*httptest.Server, *Service) {
	t.Helper()
	svc := New(testConfig(), fs, newFakeSessions(), authpw.NewService(fs))
	srv := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(srv.Close)
	return srv, svc
}

func bearerFor(t *testing.T, svc *Service, profile store.Profile) string {
	t.Helper()
	sess, err := svc.issueSession(context.Background(), profile)
	if err != nil {
		t.Fatalf("issueSession failed: %v", err)
	}
	return "Bearer " + sess.Token
}

func doJSON(t *testing.T, method, url, bearer string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	payload := decodeJSON(t, resp)
	if payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})
	for _, path := range []string{"/api/tasks", "/api/notifications", "/api/users"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestSignUpFlow(t *testing.T) {
	t.Run("allowed email signs up and receives tokens", func(t *testing.T) {
		fs := &fakeStore{
			IsEmailAllowedFn: func(_ context.Context, email string) (bool, error) { return true, nil },
		}
		srv, _ := newTestServer(t, fs)

		resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/signup", "", map[string]string{
			"name": "Max Well", "email": "max@example.com", "password": "hunter22",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		payload := decodeJSON(t, resp)
		if payload["accessToken"] == "" || payload["refreshToken"] == "" {
			t.Errorf("payload = %v, want tokens", payload)
		}
		if payload["role"] != "member" {
			t.Errorf("role = %v, want member", payload["role"])
		}
	})

	t.Run("email not on the allow-list is restricted", func(t *testing.T) {
		srv, _ := newTestServer(t, &fakeStore{})
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/signup", "", map[string]string{
			"name": "Out Sider", "email": "out@example.com", "password": "hunter22",
		})
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
		payload := decodeJSON(t, resp)
		if payload["code"] != "ACCESS_RESTRICTED" {
			t.Errorf("code = %v", payload["code"])
		}
	})

	t.Run("weak password maps to a validation error", func(t *testing.T) {
		fs := &fakeStore{
			IsEmailAllowedFn: func(_ context.Context, email string) (bool, error) { return true, nil },
		}
		srv, _ := newTestServer(t, fs)

		resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/signup", "", map[string]string{
			"name": "Max Well", "email": "max@example.com", "password": "abc",
		})
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", resp.StatusCode)
		}
		payload := decodeJSON(t, resp)
		if payload["code"] != "VALIDATION_ERROR" {
			t.Errorf("code = %v", payload["code"])
		}
	})
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{
		IsEmailAllowedFn: func(_ context.Context, email string) (bool, error) { return true, nil },
	})
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/signin", "", map[string]string{
		"email": "ghost@example.com", "password": "whatever",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	payload := decodeJSON(t, resp)
	if payload["code"] != "INVALID_CREDENTIALS" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestTaskRoutes(t *testing.T) {
	manager := store.Profile{ID: "usr_mgr", Name: "Morgan", Email: "morgan@example.com", Role: "manager"}
	member := store.Profile{ID: "usr_mem", Name: "Max", Email: "max@example.com", Role: "member"}
	deadline := time.Now().Add(48 * time.Hour)

	profileByID := func(_ context.Context, id string) (store.Profile, error) {
		switch id {
		case manager.ID:
			return manager, nil
		case member.ID:
			return member, nil
		}
		return store.Profile{}, sql.ErrNoRows
	}

	t.Run("create then fetch", func(t *testing.T) {
		var inserted store.Task
		fs := &fakeStore{
			GetProfileByIDFn: profileByID,
			InsertTaskFn: func(_ context.Context, task store.Task) error {
				inserted = task
				return nil
			},
			GetTaskFn: func(_ context.Context, id string) (store.Task, error) {
				if id == inserted.ID {
					return inserted, nil
				}
				return store.Task{}, sql.ErrNoRows
			},
		}
		srv, svc := newTestServer(t, fs)
		bearer := bearerFor(t, svc, manager)

		resp := doJSON(t, http.MethodPost, srv.URL+"/api/tasks", bearer, map[string]any{
			"title":      "Draft onboarding doc",
			"assignedTo": member.ID,
			"deadline":   deadline.Format(time.RFC3339),
			"priority":   "high",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create status = %d", resp.StatusCode)
		}
		created := decodeJSON(t, resp)
		id, _ := created["id"].(string)
		if id == "" {
			t.Fatalf("created payload = %v", created)
		}

		resp = doJSON(t, http.MethodGet, srv.URL+"/api/tasks/"+id, bearer, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get status = %d", resp.StatusCode)
		}
		fetched := decodeJSON(t, resp)
		if fetched["title"] != "Draft onboarding doc" {
			t.Errorf("title = %v", fetched["title"])
		}
	})

	t.Run("member creating a task gets 403", func(t *testing.T) {
		fs := &fakeStore{GetProfileByIDFn: profileByID}
		srv, svc := newTestServer(t, fs)
		bearer := bearerFor(t, svc, member)

		resp := doJSON(t, http.MethodPost, srv.URL+"/api/tasks", bearer, map[string]any{
			"title": "Not allowed", "assignedTo": member.ID, "deadline": deadline.Format(time.RFC3339),
		})
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("missing task returns 404", func(t *testing.T) {
		fs := &fakeStore{GetProfileByIDFn: profileByID}
		srv, svc := newTestServer(t, fs)
		bearer := bearerFor(t, svc, manager)

		resp := doJSON(t, http.MethodGet, srv.URL+"/api/tasks/tsk_missing", bearer, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("complete accepts a multipart note without file", func(t *testing.T) {
		current := store.Task{
			ID: "tsk_1", Title: "Quarterly report", AssignedTo: member.ID,
			Status: store.TaskStatusInProgress, CreatedBy: manager.ID,
		}
		fs := &fakeStore{
			GetProfileByIDFn: profileByID,
			GetTaskFn:        func(_ context.Context, id string) (store.Task, error) { return current, nil },
			UpdateTaskFn: func(_ context.Context, id string, patch store.TaskPatch) (store.Task, error) {
				updated := current
				updated.Status = *patch.Status
				updated.CompletionNote = patch.CompletionNote
				return updated, nil
			},
		}
		srv, svc := newTestServer(t, fs)
		bearer := bearerFor(t, svc, member)

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("note", "all handed in"); err != nil {
			t.Fatalf("write field: %v", err)
		}
		mw.Close()

		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/tasks/tsk_1/complete", &buf)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", bearer)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		payload := decodeJSON(t, resp)
		if payload["status"] != store.TaskStatusCompleted {
			t.Errorf("status = %v", payload["status"])
		}
		if payload["completionNote"] != "all handed in" {
			t.Errorf("completionNote = %v", payload["completionNote"])
		}
	})

	t.Run("disallowed upload type is rejected before the service runs", func(t *testing.T) {
		fs := &fakeStore{GetProfileByIDFn: profileByID}
		srv, svc := newTestServer(t, fs)
		bearer := bearerFor(t, svc, member)

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "huge.bin")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte("not really huge, but the wrong type")); err != nil {
			t.Fatalf("write file: %v", err)
		}
		mw.Close()

		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/tasks/tsk_1/complete", &buf)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", bearer)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", resp.StatusCode)
		}
		payload := decodeJSON(t, resp)
		if payload["code"] != "VALIDATION_ERROR" {
			t.Errorf("code = %v", payload["code"])
		}
	})
}

func TestSessionEndpoint(t *testing.T) {
	member := store.Profile{ID: "usr_mem", Name: "Max", Email: "max@example.com", Role: "member"}
	fs := &fakeStore{
		GetProfileByIDFn: func(_ context.Context, id string) (store.Profile, error) { return member, nil },
	}
	srv, svc := newTestServer(t, fs)

	t.Run("anonymous", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/session", "", nil)
		payload := decodeJSON(t, resp)
		if payload["authenticated"] != false {
			t.Errorf("payload = %v", payload)
		}
	})

	t.Run("authenticated", func(t *testing.T) {
		bearer := bearerFor(t, svc, member)
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/session", bearer, nil)
		payload := decodeJSON(t, resp)
		if payload["authenticated"] != true || payload["userName"] != "Max" {
			t.Errorf("payload = %v", payload)
		}
	})
}

func TestSearchQueryValidation(t *testing.T) {
	member := store.Profile{ID: "usr_mem", Name: "Max", Email: "max@example.com", Role: "member"}
	fs := &fakeStore{
		GetProfileByIDFn: func(_ context.Context, id string) (store.Profile, error) { return member, nil },
	}
	srv, svc := newTestServer(t, fs)
	bearer := bearerFor(t, svc, member)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/search?q=report&limit=abc", bearer, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/search?q=report", bearer, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 with the search backend absent", resp.StatusCode)
	}
	var payload struct {
		Results []any `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp.Body.Close()
	if payload.Results == nil {
		t.Error("results should be an empty array, not null")
	}
}

func TestStreamEndpoint(t *testing.T) {
	member := store.Profile{ID: "usr_mem", Name: "Max", Email: "max@example.com", Role: "member"}

	t.Run("snapshot on connect, fresh snapshot on change signal", func(t *testing.T) {
		var mu sync.Mutex
		tasks := []store.Task{{ID: "tsk_1", Title: "Ship release"}}
		fs := &fakeStore{
			GetProfileByIDFn: func(_ context.Context, id string) (store.Profile, error) { return member, nil },
			ListTasksFn: func(_ context.Context) ([]store.Task, error) {
				mu.Lock()
				defer mu.Unlock()
				return tasks, nil
			},
		}

		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		bus := realtime.NewBusWithClient(client)

		srv, svc := newTestServer(t, fs)
		svc.AttachFeed(bus)
		bearer := bearerFor(t, svc, member)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", bearer)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
			t.Fatalf("content type = %q", ct)
		}

		reader := bufio.NewReader(resp.Body)
		readSnapshot := func() map[string]any {
			t.Helper()
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					t.Fatalf("read stream: %v", err)
				}
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				var snap map[string]any
				if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &snap); err != nil {
					t.Fatalf("decode snapshot: %v", err)
				}
				return snap
			}
		}

		first := readSnapshot()
		if got, _ := first["tasks"].([]any); len(got) != 1 {
			t.Fatalf("initial snapshot tasks = %v", first["tasks"])
		}

		mu.Lock()
		tasks = append(tasks, store.Task{ID: "tsk_2", Title: "Write changelog"})
		mu.Unlock()
		if err := bus.Publish(ctx, realtime.TopicTasks); err != nil {
			t.Fatalf("publish: %v", err)
		}

		second := readSnapshot()
		if got, _ := second["tasks"].([]any); len(got) != 2 {
			t.Fatalf("refreshed snapshot tasks = %v", second["tasks"])
		}
	})

	t.Run("no change feed attached", func(t *testing.T) {
		fs := &fakeStore{
			GetProfileByIDFn: func(_ context.Context, id string) (store.Profile, error) { return member, nil },
		}
		srv, svc := newTestServer(t, fs)
		bearer := bearerFor(t, svc, member)

		resp := doJSON(t, http.MethodGet, srv.URL+"/api/stream", bearer, nil)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", resp.StatusCode)
		}
		payload := decodeJSON(t, resp)
		if payload["code"] != "STREAM_UNAVAILABLE" {
			t.Errorf("code = %v", payload["code"])
		}
	})
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"/api/tasks", []string{"api", "tasks"}},
		{"/api/tasks/tsk_1/comments", []string{"api", "tasks", "tsk_1", "comments"}},
		{"/", nil},
	}
	for _, tt := range tests {
		got := splitPath(tt.in)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("splitPath(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
