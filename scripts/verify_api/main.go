package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func main() {
	apiAddr := "http://localhost:8081"

	// 1. Login
	reqBody, _ := json.Marshal(map[string]string{"user_id": "user1"})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", loginResp.Token[:10])

	// 2. Chat list
	log.Println("Fetching chat list...")
	fetch(apiAddr+"/chats", loginResp.Token)

	// 3. First history page for the seeded group chat
	log.Println("Fetching history for general...")
	fetch(apiAddr+"/chats/general/messages?limit=10", loginResp.Token)

	// 4. Online members
	log.Println("Fetching online members for general...")
	fetch(apiAddr+"/chats/general/online", loginResp.Token)
}

func fetch(url, token string) {
	req, _ := http.NewRequest("GET", url, nil)
	req.Header.Add("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("Request failed:", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	log.Printf("%s -> %d: %s", url, resp.StatusCode, string(body))
}
