package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"postboard/internal/core/auth"
	"postboard/internal/domain"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&domain.User{}, &domain.Post{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	jwter := &auth.JWTer{Secret: []byte("test-secret"), Issuer: "postboard"}
	return NewAPIEngine(zap.NewNop(), db, jwter, nil)
}

func do(t *testing.T, r *gin.Engine, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("auth-token", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope from %q: %v", w.Body.String(), err)
	}
	return w, env
}

func registerAndLogin(t *testing.T, r *gin.Engine, username, password string) (uint, string) {
	t.Helper()
	w, env := do(t, r, http.MethodPost, "/users/register", "", gin.H{
		"username": username, "password": password, "name": "Alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register status %d: %s", w.Code, w.Body.String())
	}
	var u struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}

	w, env = do(t, r, http.MethodPost, "/users/login", "", gin.H{
		"username": username, "password": password,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		Token string `json:"auth-token"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if out.Token == "" {
		t.Fatalf("expected token in body")
	}
	if h := w.Header().Get("auth-token"); h != out.Token {
		t.Fatalf("token header %q must match body token %q", h, out.Token)
	}
	return u.ID, out.Token
}

func TestRootListsUsers(t *testing.T) {
	r := newTestEngine(t)
	registerAndLogin(t, r, "alice1", "secret1")

	w, env := do(t, r, http.MethodGet, "/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("root status %d", w.Code)
	}
	var users []domain.User
	if err := json.Unmarshal(env.Data, &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 1 || users[0].Username != "alice1" {
		t.Fatalf("expected alice1 in listing, got %+v", users)
	}
	if strings.Contains(string(env.Data), "password") {
		t.Fatalf("password hash must not be serialized: %s", env.Data)
	}
}

func TestRegisterDuplicateUsernameConflicts(t *testing.T) {
	r := newTestEngine(t)
	registerAndLogin(t, r, "alice1", "secret1")

	w, _ := do(t, r, http.MethodPost, "/users/register", "", gin.H{
		"username": "alice1", "password": "other-secret",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", w.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := newTestEngine(t)
	cases := []gin.H{
		{"username": "abc", "password": "secret1"},  // username too short
		{"username": "alice1", "password": "short"}, // password too short
		{"password": "secret1"},                     // username missing
	}
	for _, body := range cases {
		w, _ := do(t, r, http.MethodPost, "/users/register", "", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", body, w.Code)
		}
	}
}

func TestLoginFailures(t *testing.T) {
	r := newTestEngine(t)
	registerAndLogin(t, r, "alice1", "secret1")

	w, _ := do(t, r, http.MethodPost, "/users/login", "", gin.H{
		"username": "nobody99", "password": "secret1",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", w.Code)
	}

	w, _ = do(t, r, http.MethodPost, "/users/login", "", gin.H{
		"username": "alice1", "password": "wrong-password",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong password, got %d", w.Code)
	}
}

func TestPostsRequireToken(t *testing.T) {
	r := newTestEngine(t)

	w, env := do(t, r, http.MethodGet, "/posts", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if !strings.Contains(env.Msg, "missing token") {
		t.Fatalf("expected missing-token message, got %q", env.Msg)
	}

	w, env = do(t, r, http.MethodGet, "/posts", "garbage.token.here", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", w.Code)
	}
	if !strings.Contains(env.Msg, "invalid token") {
		t.Fatalf("expected invalid-token message, got %q", env.Msg)
	}
}

func TestPostCreateValidation(t *testing.T) {
	r := newTestEngine(t)
	ownerID, token := registerAndLogin(t, r, "alice1", "secret1")

	cases := []gin.H{
		{"title": "ab", "topic": "tech", "message": "this is a test message", "ownerId": ownerID, "expiry": "2099-01-01"},
		{"title": "Hello World", "topic": "gardening", "message": "this is a test message", "ownerId": ownerID, "expiry": "2099-01-01"},
		{"title": "Hello World", "topic": "tech", "message": "too short", "ownerId": ownerID, "expiry": "2099-01-01"},
		{"title": "Hello World", "topic": "tech", "message": "this is a test message", "ownerId": ownerID},
	}
	for _, body := range cases {
		w, _ := do(t, r, http.MethodPost, "/posts", token, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d", body, w.Code)
		}
	}
}

// Full engagement lifecycle: create, like, expire, then verify the post
// stops accepting interactions without erroring.
func TestEngagementScenario(t *testing.T) {
	r := newTestEngine(t)
	ownerID, token := registerAndLogin(t, r, "alice1", "secret1")

	w, env := do(t, r, http.MethodPost, "/posts", token, gin.H{
		"title":   "Hello World",
		"topic":   "tech",
		"message": "this is a test message",
		"ownerId": ownerID,
		"expiry":  "2099-01-01",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create status %d: %s", w.Code, w.Body.String())
	}
	var post domain.Post
	if err := json.Unmarshal(env.Data, &post); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	if post.Likes != 0 || post.Dislikes != 0 || len(post.Comments) != 0 {
		t.Fatalf("new post must start clean, got %+v", post)
	}
	if !post.Live {
		t.Fatalf("new post must be live")
	}

	w, env = do(t, r, http.MethodPut, "/posts/operations", token, gin.H{
		"id": post.ID, "like": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("engagement status %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(env.Data, &post); err != nil {
		t.Fatalf("decode updated post: %v", err)
	}
	if post.Likes != 1 || post.Dislikes != 0 {
		t.Fatalf("expected likes=1 dislikes=0, got %d/%d", post.Likes, post.Dislikes)
	}

	// Case-insensitive topic listing round-trip.
	w, env = do(t, r, http.MethodGet, "/posts/topic/TECH", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("topic list status %d", w.Code)
	}
	var list []domain.Post
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != post.ID {
		t.Fatalf("expected the created post under TECH, got %+v", list)
	}

	// Expire via partial update; live is the only lifecycle switch.
	w, env = do(t, r, http.MethodPut, "/posts/"+itoa(post.ID), token, gin.H{"live": false})
	if w.Code != http.StatusOK {
		t.Fatalf("partial update status %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(env.Data, &post); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	if post.Live {
		t.Fatalf("expected live=false after update")
	}

	// Engagement on the expired post: 200, message, counters untouched.
	w, env = do(t, r, http.MethodPut, "/posts/operations", token, gin.H{
		"id": post.ID, "like": true, "dislike": true, "comment": "hello",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expired engagement must be 200, got %d", w.Code)
	}
	if !strings.Contains(env.Msg, "not active") {
		t.Fatalf("expected informational message, got %q", env.Msg)
	}
	if err := json.Unmarshal(env.Data, &post); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	if post.Likes != 1 || post.Dislikes != 0 || len(post.Comments) != 0 {
		t.Fatalf("expired post must stay unchanged, got %+v", post)
	}
}

func TestPartialUpdateRejectsUnknownField(t *testing.T) {
	r := newTestEngine(t)
	ownerID, token := registerAndLogin(t, r, "alice1", "secret1")
	post := createPost(t, r, token, ownerID)

	w, _ := do(t, r, http.MethodPut, "/posts/"+itoa(post.ID), token, gin.H{"ownerid": 99})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", w.Code)
	}

	w, _ = do(t, r, http.MethodPut, "/posts/"+itoa(post.ID), token, gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", w.Code)
	}
}

func TestPartialUpdateMissingPost(t *testing.T) {
	r := newTestEngine(t)
	_, token := registerAndLogin(t, r, "alice1", "secret1")

	w, _ := do(t, r, http.MethodPut, "/posts/9999", token, gin.H{"title": "new title"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing post, got %d", w.Code)
	}
}

func TestDeleteTwiceSecondIsSoftMiss(t *testing.T) {
	r := newTestEngine(t)
	ownerID, token := registerAndLogin(t, r, "alice1", "secret1")
	post := createPost(t, r, token, ownerID)

	w, _ := do(t, r, http.MethodDelete, "/posts/"+itoa(post.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status %d", w.Code)
	}

	w, env := do(t, r, http.MethodDelete, "/posts/"+itoa(post.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("second delete must not error, got %d", w.Code)
	}
	if !strings.Contains(env.Msg, "was found") {
		t.Fatalf("expected not-found message, got %q", env.Msg)
	}
}

func TestActiveAndExpiredListings(t *testing.T) {
	r := newTestEngine(t)
	ownerID, token := registerAndLogin(t, r, "alice1", "secret1")
	live := createPost(t, r, token, ownerID)
	dead := createPost(t, r, token, ownerID)
	do(t, r, http.MethodPut, "/posts/"+itoa(dead.ID), token, gin.H{"live": false})

	w, env := do(t, r, http.MethodGet, "/posts/active/tech", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("active list status %d", w.Code)
	}
	var list []domain.Post
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != live.ID {
		t.Fatalf("expected only the live post, got %+v", list)
	}

	w, env = do(t, r, http.MethodGet, "/posts/expired/tech", token, nil)
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != dead.ID {
		t.Fatalf("expected only the expired post, got %+v", list)
	}

	// Empty topics report a message, not an error.
	w, env = do(t, r, http.MethodGet, "/posts/expired/sport", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("empty expired list must be 200, got %d", w.Code)
	}
	if !strings.Contains(env.Msg, "no expired posts") {
		t.Fatalf("expected informational message, got %q", env.Msg)
	}
}

func TestTopActivePost(t *testing.T) {
	r := newTestEngine(t)
	ownerID, token := registerAndLogin(t, r, "alice1", "secret1")
	first := createPost(t, r, token, ownerID)
	second := createPost(t, r, token, ownerID)

	for i := 0; i < 3; i++ {
		do(t, r, http.MethodPut, "/posts/operations", token, gin.H{"id": second.ID, "like": true})
	}
	do(t, r, http.MethodPut, "/posts/operations", token, gin.H{"id": first.ID, "like": true})

	w, env := do(t, r, http.MethodGet, "/posts/active/tech/top", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("top status %d: %s", w.Code, w.Body.String())
	}
	var top domain.Post
	if err := json.Unmarshal(env.Data, &top); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if top.ID != second.ID || top.Likes != 3 {
		t.Fatalf("expected the most-liked live post, got %+v", top)
	}

	w, _ = do(t, r, http.MethodGet, "/posts/active/health/top", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when topic has no live posts, got %d", w.Code)
	}
}

// The top lookup must never serve a deleted post; the delete handler
// drops the topic's cached entry before replying.
func TestTopActivePostAfterDelete(t *testing.T) {
	r := newTestEngine(t)
	ownerID, token := registerAndLogin(t, r, "alice1", "secret1")
	first := createPost(t, r, token, ownerID)
	second := createPost(t, r, token, ownerID)

	do(t, r, http.MethodPut, "/posts/operations", token, gin.H{"id": second.ID, "like": true})
	do(t, r, http.MethodDelete, "/posts/"+itoa(second.ID), token, nil)

	w, env := do(t, r, http.MethodGet, "/posts/active/tech/top", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("top status %d: %s", w.Code, w.Body.String())
	}
	var top domain.Post
	if err := json.Unmarshal(env.Data, &top); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if top.ID == second.ID {
		t.Fatalf("deleted post %d still served as top", second.ID)
	}
	if top.ID != first.ID {
		t.Fatalf("expected post %d as top, got %+v", first.ID, top)
	}
}

// Moving a post to another topic must update the top lookup under both
// the old and the new topic.
func TestTopActivePostAfterTopicMove(t *testing.T) {
	r := newTestEngine(t)
	ownerID, token := registerAndLogin(t, r, "alice1", "secret1")
	post := createPost(t, r, token, ownerID)
	do(t, r, http.MethodPut, "/posts/operations", token, gin.H{"id": post.ID, "like": true})

	w, _ := do(t, r, http.MethodPut, "/posts/"+itoa(post.ID), token, gin.H{"topic": "health"})
	if w.Code != http.StatusOK {
		t.Fatalf("topic move status %d: %s", w.Code, w.Body.String())
	}

	w, _ = do(t, r, http.MethodGet, "/posts/active/tech/top", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("old topic must no longer serve the moved post, got %d", w.Code)
	}

	w, env := do(t, r, http.MethodGet, "/posts/active/health/top", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("new topic top status %d", w.Code)
	}
	var top domain.Post
	if err := json.Unmarshal(env.Data, &top); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if top.ID != post.ID {
		t.Fatalf("expected the moved post under health, got %+v", top)
	}
}

// Store calls read their deadline through the request context, which gin
// only exposes with the fallback enabled.
func TestEngineUsesRequestContextFallback(t *testing.T) {
	r := newTestEngine(t)
	if !r.ContextWithFallback {
		t.Fatal("ContextWithFallback must be on so db.WithContext inherits the timeout deadline")
	}
}

func TestGetPostByID(t *testing.T) {
	r := newTestEngine(t)
	ownerID, token := registerAndLogin(t, r, "alice1", "secret1")
	post := createPost(t, r, token, ownerID)

	w, env := do(t, r, http.MethodGet, "/posts/"+itoa(post.ID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status %d", w.Code)
	}
	var got domain.Post
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != post.ID {
		t.Fatalf("expected post %d, got %+v", post.ID, got)
	}

	w, _ = do(t, r, http.MethodGet, "/posts/9999", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func createPost(t *testing.T, r *gin.Engine, token string, ownerID uint) domain.Post {
	t.Helper()
	w, env := do(t, r, http.MethodPost, "/posts", token, gin.H{
		"title":   "Hello World",
		"topic":   "tech",
		"message": "this is a test message",
		"ownerId": ownerID,
		"expiry":  "2099-01-01",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create post status %d: %s", w.Code, w.Body.String())
	}
	var p domain.Post
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	return p
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
