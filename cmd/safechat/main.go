package main

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// chatRequest and chatResponse mirror the server's /v1/chat contract.
type chatRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

type message struct {
	Role    string
	Content string
}

// client is the terminal REPL state: a persistent session id so the
// server retains history, plus a local rolling window for display.
type client struct {
	baseURL   string
	sessionID string
	window    int
	http      *http.Client
	recent    []message
}

func main() {
	baseURL := flag.String("base-url", envOr("API_BASE_URL", "http://localhost:8080"), "API base URL")
	sessionID := flag.String("session-id", os.Getenv("SESSION_ID"), "Session identifier (default: random)")
	window := flag.Int("window", 20, "Rolling context window size to keep locally")
	timeout := flag.Duration("timeout", 60*time.Second, "HTTP request timeout")
	flag.Parse()

	c := &client{
		baseURL:   strings.TrimRight(*baseURL, "/"),
		sessionID: *sessionID,
		window:    *window,
		http:      &http.Client{Timeout: *timeout},
	}
	if c.sessionID == "" {
		c.sessionID = newSessionID()
	}

	if err := c.run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *client) run() error {
	fmt.Println("=== SafeChat ===")
	fmt.Printf("Session: %s\n", c.sessionID)
	fmt.Printf("Server:  %s\n", c.baseURL)
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if c.handleCommand(input) {
				break
			}
			continue
		}

		reply, err := c.send(input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		c.remember(message{Role: "user", Content: input})
		c.remember(message{Role: "assistant", Content: reply})
		fmt.Printf("Bot: %s\n\n", reply)
	}

	fmt.Println("Goodbye!")
	return scanner.Err()
}

func (c *client) handleCommand(cmd string) (quit bool) {
	switch cmd {
	case "/quit", "/exit":
		return true

	case "/new-session":
		c.sessionID = newSessionID()
		c.recent = nil
		fmt.Println("Started new session:", c.sessionID)

	case "/history":
		if len(c.recent) == 0 {
			fmt.Println("No local history yet.")
			break
		}
		for _, msg := range c.recent {
			fmt.Printf("%s: %s\n", msg.Role, msg.Content)
		}
		fmt.Println()

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /quit, /exit   - Exit the client")
		fmt.Println("  /new-session   - Start a new chat session")
		fmt.Println("  /history       - Show the local rolling window")
		fmt.Println("  /help          - Show this help message")

	default:
		fmt.Println("Unknown command. Type /help for commands.")
	}
	return false
}

// send posts one turn to the server and returns the reply text.
func (c *client) send(userMessage string) (string, error) {
	body, err := json.Marshal(chatRequest{SessionID: c.sessionID, UserMessage: userMessage})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+"/v1/chat", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Detail != "" {
			return "", fmt.Errorf("%s (%s)", apiErr.Detail, apiErr.Error)
		}
		return "", fmt.Errorf("server returned %s", resp.Status)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return chatResp.Reply, nil
}

func (c *client) remember(msg message) {
	c.recent = append(c.recent, msg)
	if len(c.recent) > c.window {
		c.recent = c.recent[len(c.recent)-c.window:]
	}
}

func newSessionID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("session_%d", time.Now().Unix())
	}
	return hex.EncodeToString(buf)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
