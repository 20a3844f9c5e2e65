package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/annel0/mmo-physics/internal/api"
	"github.com/annel0/mmo-physics/internal/auth"
)

const (
	defaultServerAddr = "localhost:8088"
	timeFormat        = "15:04:05.000"
)

func main() {
	var (
		serverAddr = flag.String("server", defaultServerAddr, "REST API address")
		command    = flag.String("cmd", "stats", "Command: stats, objects, tail, hash, secret")
		eventTypes = flag.String("types", "", "Event types filter for tail (comma-separated)")
		limit      = flag.Int("limit", 0, "Stop tail after N events (0 - follow)")
		password   = flag.String("password", "", "Operator password for hash")
		box        = flag.String("box", "", "Box for objects: minX,minY,minZ:maxX,maxY,maxZ")
	)
	flag.Parse()

	var err error
	switch *command {
	case "stats":
		err = getJSON(*serverAddr, "/api/stats", nil)
	case "objects":
		err = listObjects(*serverAddr, *box)
	case "tail":
		err = tailEvents(*serverAddr, *eventTypes, *limit)
	case "hash":
		err = hashPassword(*password)
	case "secret":
		fmt.Println(auth.GenerateSecureSecret())
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: stats, objects, tail, hash, secret")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

// getJSON печатает поле data ответа API
func getJSON(addr, path string, query url.Values) error {
	u := url.URL{Scheme: "http", Host: addr, Path: path, RawQuery: query.Encode()}
	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var generic api.GenericResponse
	if err := json.Unmarshal(body, &generic); err != nil {
		return fmt.Errorf("unexpected response (%s): %w", resp.Status, err)
	}
	if !generic.Success {
		return fmt.Errorf("%s: %s", resp.Status, generic.Message)
	}

	out, err := json.MarshalIndent(generic.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func listObjects(addr, box string) error {
	query, err := boxQuery(box)
	if err != nil {
		return err
	}
	return getJSON(addr, "/api/objects", query)
}

// boxQuery разбирает -box "minX,minY,minZ:maxX,maxY,maxZ" в параметры /api/objects
func boxQuery(box string) (url.Values, error) {
	query := url.Values{}
	if box == "" {
		return query, nil
	}
	lo, hi, found := strings.Cut(box, ":")
	if !found || lo == "" || hi == "" {
		return nil, fmt.Errorf("box must be min:max, got %q", box)
	}
	query.Set("min", lo)
	query.Set("max", hi)
	query.Set("strict", "true")
	return query, nil
}

// tailEvents выводит события шины в реальном времени
func tailEvents(addr, types string, limit int) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/api/events/ws"}
	if types != "" {
		u.RawQuery = url.Values{"types": {types}}.Encode()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	fmt.Printf("🎬 Tailing events from %s\n", u.String())
	count := 0
	for limit == 0 || count < limit {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				break
			}
			return fmt.Errorf("stream error: %w", err)
		}

		var msg api.StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		printEvent(msg)
		count++
	}

	fmt.Printf("\n📊 Total events: %d\n", count)
	return nil
}

func printEvent(msg api.StreamMessage) {
	fmt.Println(formatEvent(msg))
}

func formatEvent(msg api.StreamMessage) string {
	return fmt.Sprintf("[%s] %-16s prio=%d src=%s %s",
		msg.Timestamp.Local().Format(timeFormat), msg.Type, msg.Priority, msg.Source, string(msg.Payload))
}

// hashPassword печатает bcrypt хеш для auth.operators[].password_hash
func hashPassword(password string) error {
	if password == "" {
		return fmt.Errorf("-password is required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
