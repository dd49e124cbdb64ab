package agent

import (
	"testing"

	"github.com/gamelink-project/gamelink/internal/config"
)

func testAgent() *Agent {
	cfg := config.DefaultConfig()
	cfg.AgentData.ServerID = "gs-test"
	cfg.AgentData.ServerName = "Test Server"
	cfg.AgentData.Token = "secret"
	return New(cfg)
}

func TestRosterTracking(t *testing.T) {
	state := NewGameState()
	state.PlayerJoined(7, "alice")
	state.PlayerJoined(3, "bob")
	state.PlayerJoined(9, "carol")
	state.PlayerLeft(7)

	players := state.Players()
	if len(players) != 2 {
		t.Fatalf("roster size = %d, want 2", len(players))
	}
	if players[0].ID != 3 || players[1].ID != 9 {
		t.Fatalf("roster not sorted by id: %+v", players)
	}
}

func TestDefaultCapabilities(t *testing.T) {
	a := testAgent()
	ops := a.handlers.Ops()

	want := []string{"command.run", "player.kick", "player.list", "server.status"}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("ops = %v, want %v", ops, want)
		}
	}
}

func TestServerStatus(t *testing.T) {
	a := testAgent()
	a.state.PlayerJoined(1, "alice")
	a.state.SetMatch(42, "forest")

	status, err := a.serverStatus(nil)
	if err != nil {
		t.Fatalf("serverStatus failed: %v", err)
	}
	if status["serverId"] != "gs-test" {
		t.Fatalf("serverId = %v", status["serverId"])
	}
	if status["playerCount"] != 1 {
		t.Fatalf("playerCount = %v, want 1", status["playerCount"])
	}
	if status["map"] != "forest" {
		t.Fatalf("map = %v, want forest", status["map"])
	}
}

func TestPlayerList(t *testing.T) {
	a := testAgent()
	a.state.PlayerJoined(1, "alice")
	a.state.PlayerJoined(2, "bob")

	result, err := a.playerList(nil)
	if err != nil {
		t.Fatalf("playerList failed: %v", err)
	}
	if result["count"] != 2 {
		t.Fatalf("count = %v, want 2", result["count"])
	}
}

func TestPlayerKickByID(t *testing.T) {
	a := testAgent()
	a.state.PlayerJoined(5, "alice")

	// JSON numbers arrive as float64.
	result, err := a.playerKick(map[string]any{"playerId": 5.0})
	if err != nil {
		t.Fatalf("kick failed: %v", err)
	}
	if result["kicked"] != "alice" {
		t.Fatalf("kicked = %v, want alice", result["kicked"])
	}
	if len(a.state.Players()) != 0 {
		t.Fatal("player still on roster")
	}

	if _, err := a.playerKick(map[string]any{"playerId": 5.0}); err == nil {
		t.Fatal("expected error kicking absent player")
	}
}

func TestPlayerKickByName(t *testing.T) {
	a := testAgent()
	a.state.PlayerJoined(5, "Alice")

	result, err := a.playerKick(map[string]any{"playerName": "alice"})
	if err != nil {
		t.Fatalf("kick failed: %v", err)
	}
	if result["kicked"] != "Alice" {
		t.Fatalf("kicked = %v, want Alice", result["kicked"])
	}

	if _, err := a.playerKick(map[string]any{}); err == nil {
		t.Fatal("expected error with no id or name")
	}
}

func TestCommandAllowlist(t *testing.T) {
	a := testAgent()

	if _, err := a.commandRun(map[string]any{"command": "shutdown now"}); err == nil {
		t.Fatal("disallowed command accepted")
	}
	if _, err := a.commandRun(map[string]any{}); err == nil {
		t.Fatal("empty command accepted")
	}

	result, err := a.commandRun(map[string]any{"command": "say hello"})
	if err != nil {
		t.Fatalf("allowed command rejected: %v", err)
	}
	if result["executed"] != "say hello" {
		t.Fatalf("executed = %v", result["executed"])
	}
}

func TestCommandKickall(t *testing.T) {
	a := testAgent()
	a.state.PlayerJoined(1, "alice")
	a.state.PlayerJoined(2, "bob")

	result, err := a.commandRun(map[string]any{"command": "kickall"})
	if err != nil {
		t.Fatalf("kickall failed: %v", err)
	}
	if result["kicked"] != 2 {
		t.Fatalf("kicked = %v, want 2", result["kicked"])
	}
	if len(a.state.Players()) != 0 {
		t.Fatal("roster not cleared")
	}
}
