package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gamelink-project/gamelink/internal/util"
)

// HandlerFunc serves one operator request. The returned map becomes
// the response data.
type HandlerFunc func(data map[string]any) (map[string]any, error)

// HandlerRegistry maps operation names to handlers. The registered
// names double as the capability list announced at handshake.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
}

// Register installs a handler for op, replacing any existing one.
func (r *HandlerRegistry) Register(op string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[op] = handler
}

// Get returns the handler for op.
func (r *HandlerRegistry) Get(op string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[op]
	return h, ok
}

// Ops returns the sorted operation names, announced as capabilities.
func (r *HandlerRegistry) Ops() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Player is one connected player on the local game server.
type Player struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joined_at"`
}

// GameState mirrors the local game server's observable state. The
// process hosting the agent feeds it from the game's own hooks.
type GameState struct {
	mu        sync.RWMutex
	startedAt time.Time
	players   map[uint32]Player
	matchID   uint32
	mapName   string
}

// NewGameState creates an empty state snapshot.
func NewGameState() *GameState {
	return &GameState{
		startedAt: time.Now(),
		players:   make(map[uint32]Player),
	}
}

// PlayerJoined records a player connecting to the game server.
func (g *GameState) PlayerJoined(id uint32, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.players[id] = Player{ID: id, Name: name, JoinedAt: time.Now().UnixMilli()}
}

// PlayerLeft records a player disconnecting.
func (g *GameState) PlayerLeft(id uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.players, id)
}

// SetMatch records the active match.
func (g *GameState) SetMatch(matchID uint32, mapName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.matchID = matchID
	g.mapName = mapName
}

// Players returns the current roster.
func (g *GameState) Players() []Player {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Player, 0, len(g.players))
	for _, p := range g.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// registerDefaultHandlers installs the built-in operation handlers.
func (a *Agent) registerDefaultHandlers() {
	a.handlers.Register("server.status", a.serverStatus)
	a.handlers.Register("player.list", a.playerList)
	a.handlers.Register("player.kick", a.playerKick)
	a.handlers.Register("command.run", a.commandRun)
}

// serverStatus reports host and game state. Also used by the periodic
// status event loop.
func (a *Agent) serverStatus(_ map[string]any) (map[string]any, error) {
	a.state.mu.RLock()
	uptime := time.Since(a.state.startedAt)
	playerCount := len(a.state.players)
	matchID := a.state.matchID
	mapName := a.state.mapName
	a.state.mu.RUnlock()

	status := map[string]any{
		"serverId":     a.data.ServerID,
		"serverName":   a.data.ServerName,
		"uptimeSec":    int64(uptime.Seconds()),
		"playerCount":  playerCount,
		"matchId":      matchID,
		"map":          mapName,
	}

	if cpu, err := util.GetCPUUsage(); err == nil {
		status["cpuPercent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		status["memoryUsedMb"] = mem.Used
		status["memoryPercent"] = mem.UsedPercent
	}
	if diskUsage, err := util.GetDiskUsage("/"); err == nil {
		status["diskPercent"] = diskUsage.UsedPercent
	}

	return status, nil
}

// playerList returns the connected player roster.
func (a *Agent) playerList(_ map[string]any) (map[string]any, error) {
	players := a.state.Players()
	return map[string]any{
		"players": players,
		"count":   len(players),
	}, nil
}

// playerKick removes a player by id or name.
func (a *Agent) playerKick(data map[string]any) (map[string]any, error) {
	if id, ok := data["playerId"].(float64); ok {
		a.state.mu.Lock()
		player, exists := a.state.players[uint32(id)]
		if exists {
			delete(a.state.players, uint32(id))
		}
		a.state.mu.Unlock()

		if !exists {
			return nil, fmt.Errorf("no player with id %d", uint32(id))
		}
		return map[string]any{"kicked": player.Name}, nil
	}

	name, _ := data["playerName"].(string)
	if name == "" {
		return nil, fmt.Errorf("playerId or playerName required")
	}

	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	for id, p := range a.state.players {
		if strings.EqualFold(p.Name, name) {
			delete(a.state.players, id)
			return map[string]any{"kicked": p.Name}, nil
		}
	}
	return nil, fmt.Errorf("no player named %q", name)
}

// commandRun executes a console command against the game server. Only
// a small allowlist is honored over the wire.
func (a *Agent) commandRun(data map[string]any) (map[string]any, error) {
	command, _ := data["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("command required")
	}

	verb := strings.ToLower(strings.Fields(command)[0])
	switch verb {
	case "say", "restart", "map", "kickall":
	default:
		return nil, fmt.Errorf("command %q not permitted over remote link", verb)
	}

	if verb == "kickall" {
		a.state.mu.Lock()
		n := len(a.state.players)
		a.state.players = make(map[uint32]Player)
		a.state.mu.Unlock()
		return map[string]any{"executed": command, "kicked": n}, nil
	}

	// Remaining commands are forwarded to the game console by the
	// process embedding the agent.
	return map[string]any{"executed": command}, nil
}
