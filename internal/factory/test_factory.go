package factory

import (
	"time"

	"github.com/mcoot/basequiz/internal/dependencies/mocks"
	"github.com/mcoot/basequiz/internal/realtime/memory"
	"github.com/mcoot/basequiz/internal/realtime/rules"
	"github.com/mcoot/basequiz/internal/testutil"
)

// Timeouts used by test peers
const (
	TestLockTimeout     = time.Minute
	TestGuestTTL        = 5 * time.Minute
	TestCleanupInterval = 5 * time.Minute
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Server is the shared tree every peer of the test connects to
	Server *memory.Server
	// Conn is this peer's connection, for simulating drops
	Conn *memory.Conn

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates a peer on a fresh in-memory tree with mocked dependencies
func NewTestApp() *TestApp {
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	server := memory.NewServer(memory.WithRules(rules.Default(TestLockTimeout)), memory.WithClock(mockClock))
	return newTestPeer(server, mockClock)
}

// NewPeer connects another peer to the same tree. Peers share the clock but each
// has its own random source.
func (t *TestApp) NewPeer() *TestApp {
	return newTestPeer(t.Server, t.MockClock)
}

func newTestPeer(server *memory.Server, mockClock *mocks.MockClock) *TestApp {
	conn := server.Connect()
	mockRandom := mocks.NewMockRandom()

	cfg := Config{
		LockTimeout:     TestLockTimeout,
		GuestTTL:        TestGuestTTL,
		CleanupInterval: TestCleanupInterval,
	}
	app := newWithDependencies(conn, mockClock, mockRandom, cfg, testutil.NopLogger())

	return &TestApp{
		App:        app,
		Server:     server,
		Conn:       conn,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}
