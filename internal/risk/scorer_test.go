package risk

import (
	"testing"
	"time"

	"github.com/jamesruggles/surfacewatch/internal/database"
	"github.com/jamesruggles/surfacewatch/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPort(service string, port int) events.PortState {
	return events.PortState{
		Base:     events.Base{Host: "10.0.0.5", Timestamp: time.Now()},
		Port:     port,
		Protocol: events.ProtocolTCP,
		State:    events.StateOpen,
		Service:  service,
	}
}

func history(seen int, state events.State) *database.PortHistory {
	now := time.Now()
	return &database.PortHistory{
		PortKey:      database.PortKey{Host: "10.0.0.5", Port: 22, Protocol: "tcp"},
		FirstSeen:    now.Add(-24 * time.Hour),
		LastSeen:     now,
		SeenCount:    seen,
		CurrentState: string(state),
	}
}

func TestWorkedScenarios(t *testing.T) {
	s := NewScorer(Options{})

	t.Run("telnet without history clamps to 10", func(t *testing.T) {
		score, factors := s.Score(openPort("telnet", 23), nil)
		assert.Equal(t, 10, score)
		assert.Contains(t, factors, FactorLegacyProtocol)
		assert.Contains(t, factors, FactorPrivilegedPort)
		assert.Contains(t, factors, FactorFirstSeen)
	})

	t.Run("established ssh", func(t *testing.T) {
		score, factors := s.Score(openPort("ssh", 22), history(15, events.StateOpen))
		assert.Equal(t, 4, score)
		assert.Equal(t, []string{FactorPrivilegedPort, FactorEstablished}, factors)
	})

	t.Run("unknown service on backdoor port", func(t *testing.T) {
		score, factors := s.Score(openPort("", 31337), nil)
		assert.Equal(t, 7, score)
		assert.Contains(t, factors, "Known backdoor port")
		assert.Contains(t, factors, "First time detected")
		assert.NotContains(t, factors, FactorLegacyProtocol)
	})
}

func TestNonOpenScoresZero(t *testing.T) {
	s := NewScorer(Options{})
	for _, state := range []events.State{events.StateClosed, events.StateFiltered} {
		ev := openPort("telnet", 23)
		ev.State = state
		score, factors := s.Score(ev, nil)
		assert.Equal(t, 0, score, state)
		assert.Empty(t, factors, state)
	}
}

func TestHistoryModifiers(t *testing.T) {
	s := NewScorer(Options{})
	ev := openPort("http", 8080) // base 3, unprivileged, not ephemeral

	tests := []struct {
		name   string
		hist   *database.PortHistory
		want   int
		factor string
	}{
		{"no history", nil, 5, FactorFirstSeen},
		{"seen once", history(1, events.StateOpen), 6, FactorRecentlyAppeared},
		{"seen twice", history(2, events.StateOpen), 6, FactorRecentlyAppeared},
		{"seen three times", history(3, events.StateOpen), 3, ""},
		{"seen nine times", history(9, events.StateOpen), 3, ""},
		{"seen ten times", history(10, events.StateOpen), 2, FactorEstablished},
		{"reopened established", history(12, events.StateClosed), 4, FactorReopened},
		{"reopened recent", history(2, events.StateClosed), 8, FactorReopened},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, factors := s.Score(ev, tt.hist)
			assert.Equal(t, tt.want, score)
			if tt.factor == "" {
				assert.Empty(t, factors)
			} else {
				assert.Contains(t, factors, tt.factor)
			}
		})
	}
}

func TestPortModifiers(t *testing.T) {
	s := NewScorer(Options{})
	established := history(5, events.StateOpen) // no history adjustment

	tests := []struct {
		name string
		port int
		want int
	}{
		{"port zero is not privileged", 0, 2},
		{"privileged low edge", 1, 3},
		{"privileged high edge", 1023, 3},
		{"registered range", 1024, 2},
		{"backdoor", 4444, 5},
		{"ephemeral low edge", 49152, 4},
		{"ephemeral high edge", 65535, 4},
		{"backdoor in ephemeral range", 54321, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _ := s.Score(openPort("", tt.port), established)
			assert.Equal(t, tt.want, score)
		})
	}
}

func TestVersionModifiers(t *testing.T) {
	s := NewScorer(Options{})
	established := history(5, events.StateOpen)

	tests := []struct {
		name    string
		product string
		version string
		want    int
		factor  string
	}{
		{"old openssh", "OpenSSH", "6.6.1p1", 7, FactorOldOpenSSH},
		{"current openssh", "OpenSSH", "8.9p1 Ubuntu 3", 5, ""},
		{"openssh 7.0 exactly", "OpenSSH", "7.0", 5, ""},
		{"openssh unparseable", "OpenSSH", "unknown", 5, ""},
		{"openssh without version", "OpenSSH", "", 6, FactorUnknownPatch},
		{"no product no version", "", "", 5, ""},
		{"apache 2.2", "Apache httpd", "2.2.15", 5, FactorOldApache},
		{"apache 2.0", "Apache httpd", "2.0.64", 5, FactorOldApache},
		{"apache 2.4", "Apache httpd", "2.4.58", 3, ""},
		{"apache garbage", "Apache httpd", "x.y", 3, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := "ssh"
			port := 22
			if tt.product == "Apache httpd" {
				service, port = "http", 8080
			}
			ev := openPort(service, port)
			ev.Product, ev.Version = tt.product, tt.version

			score, factors := s.Score(ev, established)
			assert.Equal(t, tt.want, score)
			if tt.factor != "" {
				assert.Contains(t, factors, tt.factor)
			}
		})
	}
}

func TestScoreAlwaysBounded(t *testing.T) {
	s := NewScorer(Options{ServiceOverrides: map[string]int{"weird": 40}})

	services := []string{"", "telnet", "ssh", "https", "imaps", "weird", "unknown-svc"}
	ports := []int{0, 1, 22, 23, 1023, 4444, 8080, 31337, 49152, 54321, 65535}
	hists := []*database.PortHistory{
		nil,
		history(1, events.StateOpen),
		history(1, events.StateClosed),
		history(5, events.StateOpen),
		history(50, events.StateOpen),
		history(50, events.StateClosed),
	}
	versions := [][2]string{{"", ""}, {"OpenSSH", ""}, {"OpenSSH", "5.3"}, {"Apache httpd", "2.2.3"}, {"x", "???"}}

	for _, svc := range services {
		for _, port := range ports {
			for _, h := range hists {
				for _, v := range versions {
					ev := openPort(svc, port)
					ev.Product, ev.Version = v[0], v[1]
					score, _ := s.Score(ev, h)
					require.GreaterOrEqual(t, score, MinScore)
					require.LessOrEqual(t, score, MaxScore)
				}
			}
		}
	}

	// backdoor + ephemeral + no history + old version
	ev := openPort("telnet", 54321)
	ev.Product, ev.Version = "OpenSSH", "4.7"
	score, _ := s.Score(ev, nil)
	assert.Equal(t, 10, score)
}

func TestScoreCanReachZeroAndIsDropped(t *testing.T) {
	s := NewScorer(Options{ServiceOverrides: map[string]int{"imaps": 1}})
	ev := openPort("imaps", 2000)
	score, factors := s.Score(ev, history(20, events.StateOpen))
	assert.Equal(t, 0, score)
	assert.Equal(t, []string{FactorEstablished}, factors)

	out := s.ScoreAll([]events.PortState{ev}, database.HistoryIndex{database.KeyOf(ev): history(20, events.StateOpen)})
	assert.Empty(t, out)
}

func TestLegacyFactorFollowsServiceNotScore(t *testing.T) {
	s := NewScorer(Options{ServiceOverrides: map[string]int{"telnet": 1, "redis": 10}})

	_, factors := s.Score(openPort("telnet", 2323), history(5, events.StateOpen))
	assert.Contains(t, factors, FactorLegacyProtocol)

	score, factors := s.Score(openPort("redis", 6379), history(5, events.StateOpen))
	assert.Equal(t, 10, score)
	assert.NotContains(t, factors, FactorLegacyProtocol)
}

func TestScoreAllOrdering(t *testing.T) {
	s := NewScorer(Options{})

	closed := openPort("telnet", 23)
	closed.State = events.StateClosed

	first := openPort("http", 8080)  // 5 without history
	second := openPort("http", 8081) // 5 without history
	third := openPort("telnet", 23)  // 10
	fourth := openPort("https", 8443)

	evs := []events.PortState{first, closed, second, third, fourth}
	out := s.ScoreAll(evs, nil)

	require.Len(t, out, 4)
	assert.Equal(t, 23, out[0].Port)
	assert.Equal(t, 10, out[0].Risk)
	assert.Equal(t, 8080, out[1].Port)
	assert.Equal(t, 8081, out[2].Port)
	assert.Equal(t, 8443, out[3].Port)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Risk, out[i].Risk)
	}
}

func TestScoreAllUsesHistoryIndex(t *testing.T) {
	s := NewScorer(Options{})
	ev := openPort("ssh", 22)
	idx := database.HistoryIndex{database.KeyOf(ev): history(15, events.StateOpen)}

	out := s.ScoreAll([]events.PortState{ev}, idx)
	require.Len(t, out, 1)
	assert.Equal(t, 4, out[0].Risk)
	assert.Equal(t, "tcp", out[0].Protocol)
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, "high", Severity(10))
	assert.Equal(t, "high", Severity(8))
	assert.Equal(t, "medium", Severity(7))
	assert.Equal(t, "medium", Severity(5))
	assert.Equal(t, "low", Severity(4))
}
