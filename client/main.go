package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/playonchain/arena/models"
	"github.com/playonchain/arena/network"
	"github.com/playonchain/arena/state"
)

// httpArena drives a lifecycle against the arena REST API.
type httpArena struct {
	base   string
	client *http.Client
}

func (a *httpArena) SubmitJoin(ctx context.Context, gameID, participant string, guess int) error {
	// guess 为 0 走报名接口，否则走出手接口
	if guess == 0 {
		body, _ := json.Marshal(map[string]string{"participant": participant})
		return a.post(ctx, fmt.Sprintf("%s/api/games/%s/join", a.base, gameID), body, nil)
	}
	body, _ := json.Marshal(map[string]interface{}{"participant": participant, "guess": guess})
	return a.post(ctx, fmt.Sprintf("%s/api/games/%s/guess", a.base, gameID), body, nil)
}

func (a *httpArena) GetOrCreateOutcome(ctx context.Context, gameID string, round int) (int, bool, error) {
	body, _ := json.Marshal(map[string]int{"round": round})
	var resp struct {
		Value  int  `json:"value"`
		Shared bool `json:"shared"`
	}
	if err := a.post(ctx, fmt.Sprintf("%s/api/games/%s/outcome", a.base, gameID), body, &resp); err != nil {
		return 0, false, err
	}
	return resp.Value, resp.Shared, nil
}

func (a *httpArena) post(ctx context.Context, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (a *httpArena) getGame(ctx context.Context, gameID string) (*models.GameRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/games/%s", a.base, gameID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("game lookup returned %d", resp.StatusCode)
	}
	var record models.GameRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, err
	}
	return &record, nil
}

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, data []byte) error {
	packet := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint16(packet[2:4], uint16(len(data)))
	copy(packet[4:], data)

	return c.WriteMessage(websocket.BinaryMessage, packet)
}

// watch subscribes to roster and outcome pushes for the game.
func watch(host, gameID, addr string, done <-chan struct{}) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Printf("ws dial failed, continuing without push: %v", err)
		return
	}
	defer c.Close()

	auth, _ := json.Marshal(map[string]string{"address": addr})
	send(c, network.MsgTypeAuth, auth)
	sub, _ := json.Marshal(map[string]string{"game_id": gameID})
	send(c, network.MsgTypeSubscribe, sub)

	for {
		select {
		case <-done:
			return
		default:
			_, message, err := c.ReadMessage()
			if err != nil {
				return
			}
			if len(message) < 4 {
				continue
			}
			msgID := binary.BigEndian.Uint16(message[0:2])
			log.Printf("<- PUSH (ID: %d): %s", msgID, string(message[4:]))
		}
	}
}

func main() {
	var (
		server = flag.String("server", "http://localhost:8080", "arena HTTP address")
		wsHost = flag.String("ws", "localhost:8080", "arena websocket host")
		gameID = flag.String("game", "", "game id to play")
		addr   = flag.String("addr", "", "wallet address to play as")
		guess  = flag.Int("guess", 0, "fixed guess 1-6, 0 picks randomly each round")
	)
	flag.Parse()

	if *gameID == "" || *addr == "" {
		log.Fatal("both -game and -addr are required")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	arena := &httpArena{base: *server, client: &http.Client{Timeout: 10 * time.Second}}

	ctx := context.Background()
	record, err := arena.getGame(ctx, *gameID)
	if err != nil {
		log.Fatalf("Game lookup failed: %v", err)
	}
	log.Printf("Playing game %s (%s), %d players on roster", record.ID, record.GameType, len(record.Players))

	done := make(chan struct{})
	go watch(*wsHost, *gameID, *addr, done)

	lifecycle := state.NewLifecycle(record, *addr, state.Config{
		ActivationDelay: 30 * time.Second,
		GuessWindow:     10 * time.Second,
		GameLifetime:    10 * time.Minute,
	}, arena, arena)

	if err := lifecycle.Join(ctx, time.Now()); err != nil {
		log.Fatalf("Join failed: %v", err)
	}
	log.Println("Joined, waiting for activation...")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-interrupt:
			log.Println("Interrupt received, leaving game.")
			close(done)
			return
		case now := <-ticker.C:
			phase := lifecycle.Tick(now)
			switch phase {
			case state.PhaseAwaitingGuess:
				g := *guess
				if g < models.MinGuess || g > models.MaxGuess {
					g = rand.Intn(models.MaxGuess-models.MinGuess+1) + models.MinGuess
				}
				log.Printf("Round %d: guessing %d", lifecycle.Round(), g)
				if err := lifecycle.SubmitGuess(ctx, time.Now(), g); err != nil {
					log.Printf("Guess rejected: %v", err)
				}
			case state.PhaseSubmittedWaiting:
				survived, err := lifecycle.Resolve(ctx)
				if err != nil {
					log.Printf("Resolve failed: %v", err)
					continue
				}
				snap := lifecycle.Snapshot()
				if survived {
					log.Printf("Round %d: dice showed %d, survived!", snap.Round, snap.Outcome)
				} else {
					log.Printf("Dice showed %d, eliminated.", snap.Outcome)
				}
			case state.PhaseResolvedEliminated, state.PhaseTimedOutEliminated, state.PhaseGameOver:
				log.Printf("Game over in phase %q after round %d.", phase, lifecycle.Round())
				close(done)
				return
			}
		}
	}
}
