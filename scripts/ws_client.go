// Package main runs a demo websocket client that creates an optimization, starts it and
// prints its progress events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// eight flights each preferring a different slot
	start := time.Date(2024, 9, 5, 8, 0, 0, 0, time.UTC)
	var flights, slots []map[string]any
	for i := 0; i < 8; i++ {
		weights := make([]float64, 8)
		for j := range weights {
			weights[j] = 1
		}
		weights[i] = 10
		flights = append(flights, map[string]any{"flightId": fmt.Sprintf("F%d", i), "weightMap": weights})
		slots = append(slots, map[string]any{"time": start.Add(time.Duration(i) * 5 * time.Minute)})
	}
	body, _ := json.Marshal(map[string]any{
		"flights":    flights,
		"slots":      slots,
		"parameters": map[string]any{"terminationConditions": map[string]any{"BY_FIXED_GENERATION": 200}},
	})
	resp, err := http.Post(base+"/v1/optimizations", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var created struct {
		OptID string `json:"optId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		log.Fatal(err)
	}
	if created.OptID == "" {
		log.Fatalf("create failed: %s", resp.Status)
	}
	log.Printf("Optimization ID: %s", created.OptID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/optimizations/" + created.OptID + "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var e event
			if err := c.ReadJSON(&e); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %v", e.Type, e.Data)
			if e.Type == "optimization.status" && (e.Data["status"] == "DONE" || e.Data["status"] == "CANCELLED") {
				return
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	runResp, err := http.Post(base+"/v1/optimizations/"+created.OptID+"/run", "application/json", nil)
	if err != nil {
		log.Fatal(err)
	}
	_ = runResp.Body.Close()

	select {
	case <-time.After(30 * time.Second):
	case <-done:
	}
}
