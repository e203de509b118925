package data

import (
	"encoding/json"
	"net/http"
	"sync"
)

type BridgeMessage struct {
	Text     string `json:"text"`
	Username string `json:"username"`
	Gateway  string `json:"gateway"`
}

// Bridge records messages posted to a Matterbridge API.
type Bridge struct {
	Token string

	lock     *sync.Mutex
	messages []BridgeMessage
}

func NewBridge(token string) *Bridge {
	return &Bridge{Token: token, lock: &sync.Mutex{}}
}

func (b *Bridge) Messages() []BridgeMessage {
	b.lock.Lock()
	defer b.lock.Unlock()
	return append([]BridgeMessage{}, b.messages...)
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost || req.URL.Path != "/api/message" {
		http.NotFound(w, req)
		return
	}
	if req.Header.Get("Authorization") != "Bearer "+b.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var message BridgeMessage
	if err := json.NewDecoder(req.Body).Decode(&message); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.lock.Lock()
	b.messages = append(b.messages, message)
	b.lock.Unlock()
	w.WriteHeader(http.StatusOK)
}
