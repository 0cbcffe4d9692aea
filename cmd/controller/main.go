// Package main provides a simulated controller that keeps issuing random
// move commands to a running simverse server over its HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/simverse/internal/config"
	"github.com/cory-johannsen/simverse/internal/game/npc"
	"github.com/cory-johannsen/simverse/internal/observability"
	"github.com/cory-johannsen/simverse/internal/scripting"
)

type mapInfo struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	CellSize float64 `json:"cell_size"`
}

type moveResult struct {
	Outcome    string `json:"outcome"`
	PathLength int    `json:"path_length"`
	Error      string `json:"error"`
}

func main() {
	baseURL := flag.String("server", "http://localhost:8000", "simverse server base URL")
	rosterPath := flag.String("roster", "content/npcs/roster.yaml", "roster naming the npcs to command")
	scriptPath := flag.String("script", "content/scripts/controller/random.lua", "Lua policy defining next_move; empty = built-in random")
	instLimit := flag.Int("script-limit", scripting.DefaultInstructionLimit, "Lua opcode budget per decision")
	minInterval := flag.Duration("min-interval", time.Second, "minimum delay between commands")
	maxInterval := flag.Duration("max-interval", 3*time.Second, "maximum delay between commands")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *minInterval <= 0 || *maxInterval < *minInterval {
		log.Fatalf("invalid interval range [%s, %s]", *minInterval, *maxInterval)
	}

	logger, err := observability.NewLogger(config.LoggingConfig{Level: *logLevel, Format: "console"}, "controller")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	roster, err := npc.LoadRoster(*rosterPath)
	if err != nil {
		logger.Fatal("loading roster", zap.Error(err))
	}
	ids := make([]string, 0, len(roster.NPCs))
	for _, s := range roster.NPCs {
		ids = append(ids, s.ID)
	}

	var chooser scripting.Chooser = scripting.Random{}
	if *scriptPath != "" {
		policy, err := scripting.LoadPolicy(*scriptPath, *instLimit, logger)
		if err != nil {
			logger.Fatal("loading controller script", zap.Error(err))
		}
		defer policy.Close()
		chooser = policy
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}
	m, err := fetchMap(ctx, client, *baseURL)
	if err != nil {
		logger.Fatal("fetching map", zap.Error(err))
	}
	width := float64(m.Width) * m.CellSize
	height := float64(m.Height) * m.CellSize
	logger.Info("controller started",
		zap.String("server", *baseURL),
		zap.Strings("npcs", ids),
		zap.Float64("width", width),
		zap.Float64("height", height),
	)

	span := int64(*maxInterval - *minInterval)
	for {
		wait := *minInterval
		if span > 0 {
			wait += time.Duration(rand.Int64N(span + 1))
		}
		select {
		case <-ctx.Done():
			logger.Info("controller stopped")
			return
		case <-time.After(wait):
		}

		mv, err := chooser.NextMove(ids, width, height)
		if err != nil {
			logger.Warn("choosing move", zap.Error(err))
			continue
		}
		res, err := sendMove(ctx, client, *baseURL, mv)
		if err != nil {
			logger.Warn("sending move", zap.String("npc_id", mv.NPCID), zap.Error(err))
			continue
		}
		observability.NPC(logger, mv.NPCID).Info("move sent",
			zap.Float64("target_x", mv.X),
			zap.Float64("target_y", mv.Y),
			zap.String("outcome", res.Outcome),
			zap.Int("path_length", res.PathLength),
		)
	}
}

func fetchMap(ctx context.Context, client *http.Client, baseURL string) (mapInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/map", nil)
	if err != nil {
		return mapInfo{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return mapInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return mapInfo{}, fmt.Errorf("GET /map: status %d", resp.StatusCode)
	}
	var m mapInfo
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return mapInfo{}, fmt.Errorf("decoding map: %w", err)
	}
	return m, nil
}

// moveURL builds the move endpoint for id, escaping it as a single path segment.
func moveURL(baseURL, id string) string {
	return baseURL + "/command/move/" + url.PathEscape(id)
}

func sendMove(ctx context.Context, client *http.Client, baseURL string, mv scripting.Move) (moveResult, error) {
	body, err := json.Marshal(map[string]float64{"target_x": mv.X, "target_y": mv.Y})
	if err != nil {
		return moveResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, moveURL(baseURL, mv.NPCID), bytes.NewReader(body))
	if err != nil {
		return moveResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return moveResult{}, err
	}
	defer resp.Body.Close()
	var res moveResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return moveResult{}, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	return res, nil
}
