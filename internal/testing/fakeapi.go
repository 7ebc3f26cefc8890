package testing

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/valyala/fastjson"
)

type cannedResponse struct {
	status int
	body   string
}

// FakeAPI is an httptest server answering the chat REST boundary with canned bodies
type FakeAPI struct {
	*httptest.Server

	mu        sync.Mutex
	chatrooms map[string]cannedResponse // user id -> response
	messages  map[string]cannedResponse // chatroom id -> response
	pairs     map[[2]string]string      // sorted user pair -> chatroom id
	requests  map[string]int            // path -> count
	before    func(r *http.Request)
}

// NewFakeAPI starts a FakeAPI. Callers must Close it.
func NewFakeAPI() *FakeAPI {
	f := &FakeAPI{
		chatrooms: make(map[string]cannedResponse),
		messages:  make(map[string]cannedResponse),
		pairs:     make(map[[2]string]string),
		requests:  make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.Handle("/api/chat/chatrooms", enforcePOSTJSON(http.HandlerFunc(f.createChatroom)))
	mux.HandleFunc("/api/chat/messages/", f.messagesByChatroomID)
	mux.HandleFunc("/api/chat/", f.chatroomsByUserID)

	f.Server = httptest.NewServer(f.count(mux))
	return f
}

// SetChatrooms sets the response of GET /api/chat/{userID}
func (f *FakeAPI) SetChatrooms(userID string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatrooms[userID] = cannedResponse{status: status, body: body}
}

// SetMessages sets the response of GET /api/chat/messages/{chatroomID}
func (f *FakeAPI) SetMessages(chatroomID string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[chatroomID] = cannedResponse{status: status, body: body}
}

// SetBefore installs fn to run before every request is answered. Tests use it to hold a response back.
func (f *FakeAPI) SetBefore(fn func(r *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.before = fn
}

// Requests returns how many requests hit path
func (f *FakeAPI) Requests(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *FakeAPI) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests[r.URL.Path]++
		before := f.before
		f.mu.Unlock()

		if before != nil {
			before(r)
		}
		next.ServeHTTP(w, r)
	})
}

// enforcePOSTJSON checks for POST method, application/json Content-Type header and valid json body
func enforcePOSTJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		if contentType := r.Header.Get("Content-Type"); contentType != "" {
			mt, _, err := mime.ParseMediaType(contentType)
			if err != nil {
				http.Error(w, "Malformed Content-Type header", http.StatusBadRequest)
				return
			}
			if mt != "application/json" {
				http.Error(w, "Content-Type header must be application/json", http.StatusUnsupportedMediaType)
				return
			}
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Can not read request body", http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			http.Error(w, "No body provided", http.StatusBadRequest)
			return
		}
		if err := fastjson.ValidateBytes(body); err != nil {
			http.Error(w, "Malformed JSON", http.StatusBadRequest)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// createChatroom handles POST /api/chat/chatrooms, returning the same id for the same pair of users
func (f *FakeAPI) createChatroom(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var users [2]string
	for i, field := range []string{"user1", "user2"} {
		if !fastjson.Exists(body, field) {
			http.Error(w, `{"error":"Missing Field \"`+field+`\""}`, http.StatusBadRequest)
			return
		}
		users[i] = fastjson.GetString(body, field)
		if users[i] == "" {
			http.Error(w, `{"error":"Field \"`+field+`\" must be a non-empty string"}`, http.StatusBadRequest)
			return
		}
	}
	if users[0] > users[1] {
		users[0], users[1] = users[1], users[0]
	}

	f.mu.Lock()
	id, ok := f.pairs[users]
	if !ok {
		id = RandObjectID()
		f.pairs[users] = id
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusCreated)
	}
	_, _ = w.Write([]byte(`{"chatroomId":"` + id + `"}`))
}

func (f *FakeAPI) chatroomsByUserID(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimPrefix(r.URL.Path, "/api/chat/")
	f.mu.Lock()
	resp, ok := f.chatrooms[userID]
	f.mu.Unlock()
	writeCanned(w, r, resp, ok)
}

func (f *FakeAPI) messagesByChatroomID(w http.ResponseWriter, r *http.Request) {
	chatroomID := strings.TrimPrefix(r.URL.Path, "/api/chat/messages/")
	f.mu.Lock()
	resp, ok := f.messages[chatroomID]
	f.mu.Unlock()
	writeCanned(w, r, resp, ok)
}

func writeCanned(w http.ResponseWriter, r *http.Request, resp cannedResponse, ok bool) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if !ok {
		resp = cannedResponse{status: http.StatusOK, body: "[]"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = w.Write([]byte(resp.body))
}
