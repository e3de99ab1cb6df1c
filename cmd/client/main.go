// Command client is a minimal terminal chat client. It authenticates
// against the REST API, opens a websocket to a room or a direct
// conversation, prints incoming frames, and sends stdin lines as messages.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/emberchat/ember/pkg/domain"
)

func main() {
	var (
		serverAddr = flag.String("server", "localhost:8080", "server host:port")
		username   = flag.String("username", "", "username")
		password   = flag.String("password", "", "password")
		room       = flag.String("room", "", "room to join")
		dm         = flag.String("dm", "", "user to message directly")
		register   = flag.Bool("register", false, "create the account first")
	)
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("username and password are required")
	}
	if (*room == "") == (*dm == "") {
		log.Fatal("exactly one of -room or -dm is required")
	}

	token, err := login(*serverAddr, *username, *password, *register)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	var path string
	if *room != "" {
		path = "/ws/chat/" + *room
	} else {
		path = "/ws/dm/" + *dm
	}

	wsURL := url.URL{
		Scheme:   "ws",
		Host:     *serverAddr,
		Path:     path,
		RawQuery: "token=" + url.QueryEscape(token),
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				log.Fatalf("connection closed: %v", err)
			}
			printFrame(raw)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		frame, err := json.Marshal(map[string]string{"message": text})
		if err != nil {
			log.Fatalf("encode: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Fatalf("send failed: %v", err)
		}
	}
}

func login(addr, username, password string, register bool) (string, error) {
	endpoint := "/api/login"
	if register {
		endpoint = "/api/register"
	}

	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}

	resp, err := http.Post("http://"+addr+endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("server returned %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func printFrame(raw []byte) {
	var frame struct {
		Type     string `json:"type"`
		Username string `json:"username"`
		Message  string `json:"message"`
		Status   string `json:"status"`
		Typing   bool   `json:"typing"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		fmt.Printf("?? %s\n", raw)
		return
	}

	switch frame.Type {
	case domain.EventTypeChat, domain.EventTypeDM:
		fmt.Printf("<%s> %s\n", frame.Username, frame.Message)
	case domain.EventTypePresence:
		fmt.Printf("-- %s is %s\n", frame.Username, frame.Status)
	case domain.EventTypeTyping:
		if frame.Typing {
			fmt.Printf("-- %s is typing\n", frame.Username)
		}
	default:
		fmt.Printf("?? %s\n", raw)
	}
}
