package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"chordring/internal/config"
	"chordring/internal/ident"
	"chordring/internal/ring"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufAddr = "bufnet"

// Names hash to NodeC=5, NodeD=43, NodeA=60 in a 6-bit SHA-1 space.
func testConfig() *config.Config {
	return &config.Config{
		NodeID:     "NodeC",
		ListenAddr: bufAddr,
		Peers: []config.Peer{
			{ID: "NodeD", Addr: "127.0.0.1:7002"},
			{ID: "NodeA", Addr: "127.0.0.1:7003"},
		},
		Bits: 6,
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startNode(t *testing.T, cfg *config.Config, logger zerolog.Logger) (*Node, *ClientManager) {
	t.Helper()
	require.NoError(t, cfg.Validate())

	n, err := NewNode(cfg, logger)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() {
		_ = n.Serve(lis)
	}()
	t.Cleanup(n.Stop)

	cm := NewClientManager(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	t.Cleanup(cm.Close)
	return n, cm
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNode_BuildsRingFromConfig(t *testing.T) {
	n, _ := startNode(t, testConfig(), zerolog.Nop())

	require.NoError(t, n.Ring().Validate())
	assert.Equal(t, 3, n.Ring().Len())
	assert.Equal(t, uint64(2), n.Membership().Epoch())

	self, err := n.Ring().Node(n.Self())
	require.NoError(t, err)
	assert.Equal(t, "NodeC", self.Member.Name)
	assert.Equal(t, ident.ID(5), self.ID)

	stale, err := n.Ring().FingersStale(n.Self(), n.Membership().Epoch())
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestRouter_FindSuccessor(t *testing.T) {
	_, cm := startNode(t, testConfig(), zerolog.Nop())
	ctx := testContext(t)

	tests := []struct {
		key   ident.ID
		owner string
		hops  int
	}{
		{10, "NodeD", 1},
		{43, "NodeD", 1},
		{50, "NodeA", 2},
		{62, "NodeC", 3},
	}
	for _, tt := range tests {
		res, err := cm.FindSuccessor(ctx, bufAddr, tt.key)
		require.NoError(t, err)
		assert.Equal(t, tt.owner, res.Owner.Name, "key %d", tt.key)
		assert.Equal(t, tt.key, res.Key)
		assert.Equal(t, tt.hops, res.Hops, "key %d", tt.key)
	}
}

func TestRouter_LookupMatchesFindSuccessor(t *testing.T) {
	_, cm := startNode(t, testConfig(), zerolog.Nop())
	ctx := testContext(t)

	for key := ident.ID(0); key < 64; key++ {
		walk, err := cm.FindSuccessor(ctx, bufAddr, key)
		require.NoError(t, err)
		fast, err := cm.Lookup(ctx, bufAddr, key)
		require.NoError(t, err)
		assert.Equal(t, walk.Owner, fast.Owner, "key %d", key)
		assert.LessOrEqual(t, fast.Hops, walk.Hops, "key %d", key)
	}
}

func TestRouter_KeyOutOfRange(t *testing.T) {
	_, cm := startNode(t, testConfig(), zerolog.Nop())
	ctx := testContext(t)

	_, err := cm.FindSuccessor(ctx, bufAddr, 64)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = cm.Lookup(ctx, bufAddr, 1<<40)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRouter_Locate(t *testing.T) {
	_, cm := startNode(t, testConfig(), zerolog.Nop())
	ctx := testContext(t)

	// "node-3" hashes to 59, owned by NodeA at 60.
	res, err := cm.Locate(ctx, bufAddr, "node-3")
	require.NoError(t, err)
	assert.Equal(t, ident.ID(59), res.Key)
	assert.Equal(t, "NodeA", res.Owner.Name)
	assert.Equal(t, "127.0.0.1:7003", res.Owner.Addr)

	_, err = cm.Locate(ctx, bufAddr, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRouter_GetNode(t *testing.T) {
	_, cm := startNode(t, testConfig(), zerolog.Nop())
	ctx := testContext(t)

	view, err := cm.GetNode(ctx, bufAddr, "")
	require.NoError(t, err)
	assert.Equal(t, "NodeC", view.Name)
	assert.Equal(t, "NodeD", view.Successor.Name)
	require.NotNil(t, view.Predecessor)
	assert.Equal(t, "NodeA", view.Predecessor.Name)
	assert.Equal(t, uint64(2), view.FingerEpoch)
	require.Len(t, view.Fingers, 6)
	for _, f := range view.Fingers {
		assert.Equal(t, ident.ID(43), f.ID)
	}

	view, err = cm.GetNode(ctx, bufAddr, "NodeA")
	require.NoError(t, err)
	assert.Equal(t, ident.ID(60), view.ID)
	assert.Equal(t, "NodeC", view.Successor.Name)

	_, err = cm.GetNode(ctx, bufAddr, "ghost")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestRouter_Join(t *testing.T) {
	n, cm := startNode(t, testConfig(), zerolog.Nop())
	ctx := testContext(t)

	// "node-1" hashes to 21, between NodeC and NodeD.
	view, err := cm.Join(ctx, bufAddr, ring.Member{Name: "node-1", Addr: "127.0.0.1:7004"})
	require.NoError(t, err)
	assert.Equal(t, ident.ID(21), view.ID)
	assert.Equal(t, "NodeD", view.Successor.Name)
	require.NotNil(t, view.Predecessor)
	assert.Equal(t, "NodeC", view.Predecessor.Name)

	require.NoError(t, n.Ring().Validate())
	assert.Equal(t, uint64(3), n.Membership().Epoch())

	res, err := cm.FindSuccessor(ctx, bufAddr, 10)
	require.NoError(t, err)
	assert.Equal(t, "node-1", res.Owner.Name)

	self, err := cm.GetNode(ctx, bufAddr, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), self.FingerEpoch)
	want := []ident.ID{21, 21, 21, 21, 21, 43}
	got := make([]ident.ID, 0, len(self.Fingers))
	for _, f := range self.Fingers {
		got = append(got, f.ID)
	}
	assert.Equal(t, want, got)

	// Joining again is a no-op.
	_, err = cm.Join(ctx, bufAddr, ring.Member{Name: "node-1", Addr: "127.0.0.1:7004"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n.Membership().Epoch())
	assert.Equal(t, 4, n.Ring().Len())
}

func TestRouter_JoinRejectsCollision(t *testing.T) {
	n, cm := startNode(t, testConfig(), zerolog.Nop())
	ctx := testContext(t)

	// NodeB and NodeA share id 60.
	_, err := cm.Join(ctx, bufAddr, ring.Member{Name: "NodeB", Addr: "127.0.0.1:7005"})
	require.Error(t, err)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
	assert.Equal(t, 3, n.Ring().Len())

	_, err = cm.Join(ctx, bufAddr, ring.Member{Addr: "127.0.0.1:7006"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRouter_Health(t *testing.T) {
	_, cm := startNode(t, testConfig(), zerolog.Nop())
	ctx := testContext(t)

	h, err := cm.Health(ctx, bufAddr)
	require.NoError(t, err)
	assert.Equal(t, "NodeC", h.NodeID)
	assert.Equal(t, healthServing, h.Status)
	assert.Equal(t, 3, h.Members)
	assert.Equal(t, uint64(2), h.Epoch)
}

func TestRouter_LogsRequestID(t *testing.T) {
	var out syncBuffer
	_, cm := startNode(t, testConfig(), zerolog.New(&out))
	ctx := testContext(t)

	_, err := cm.FindSuccessor(ctx, bufAddr, 10)
	require.NoError(t, err)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) != nil {
			continue
		}
		if entry["method"] != FindSuccessorMethod {
			continue
		}
		found = true
		assert.Equal(t, "NodeC", entry["node_id"])
		assert.Equal(t, "OK", entry["code"])
		id, _ := entry["request_id"].(string)
		assert.Len(t, id, 20)
	}
	assert.True(t, found, "expected a log line for FindSuccessor")
}

func TestNewNode_RejectsCollidingPeers(t *testing.T) {
	cfg := testConfig()
	cfg.Peers = append(cfg.Peers, config.Peer{ID: "NodeB", Addr: "127.0.0.1:7005"})
	assert.ErrorIs(t, cfg.Validate(), ring.ErrDuplicateID)

	// The ring rejects the collision even without validation.
	_, err := NewNode(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ring.ErrDuplicateID)
}

func TestClientManager_AgreeOnOwner(t *testing.T) {
	_, cm := startNode(t, testConfig(), zerolog.Nop())
	ctx := testContext(t)

	// The same host asked twice must agree with itself.
	res, err := cm.AgreeOnOwner(ctx, []string{bufAddr, bufAddr}, 50, 2)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "NodeA", res.Value.Name)
	assert.Equal(t, 2, res.Agreeing)

	_, err = cm.AgreeOnOwner(ctx, []string{bufAddr}, 64, 1)
	assert.Error(t, err)
}

func TestNode_ConcurrentMembershipChangesKeepFingersCurrent(t *testing.T) {
	const adders = 64
	for round := 0; round < 20; round++ {
		cfg := &config.Config{NodeID: "NodeC", ListenAddr: bufAddr, Bits: 32}
		require.NoError(t, cfg.Validate())
		n, err := NewNode(cfg, zerolog.Nop())
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < adders; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := n.Membership().Add(ring.Member{Name: fmt.Sprintf("member-%d-%d", round, i)})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		require.NoError(t, n.Ring().Validate(), "round %d", round)
		assert.Equal(t, adders+1, n.Ring().Len())
		epoch := n.Membership().Epoch()
		assert.Equal(t, uint64(adders+1), epoch)
		for _, h := range n.Ring().Handles() {
			stale, err := n.Ring().FingersStale(h, epoch)
			require.NoError(t, err)
			assert.False(t, stale, "round %d: handle %d built before epoch %d", round, h, epoch)
		}
		n.Stop()
	}
}

func TestRouter_ConcurrentRepeatedJoins(t *testing.T) {
	cfg := testConfig()
	cfg.Bits = 32
	n, cm := startNode(t, cfg, zerolog.Nop())
	ctx := testContext(t)

	const members, repeats = 8, 4
	var wg sync.WaitGroup
	for i := 0; i < members; i++ {
		for r := 0; r < repeats; r++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := fmt.Sprintf("peer-%d", i)
				view, err := cm.Join(ctx, bufAddr, ring.Member{Name: name, Addr: "127.0.0.1:7100"})
				if assert.NoError(t, err) {
					assert.Equal(t, name, view.Name)
				}
			}(i)
		}
	}
	wg.Wait()

	require.NoError(t, n.Ring().Validate())
	assert.Equal(t, members+3, n.Ring().Len())
	epoch := n.Membership().Epoch()
	assert.Equal(t, uint64(members+2), epoch)
	for _, h := range n.Ring().Handles() {
		stale, err := n.Ring().FingersStale(h, epoch)
		require.NoError(t, err)
		assert.False(t, stale)
	}
}

func TestRouter_JoinRelinksStrandedMember(t *testing.T) {
	n, cm := startNode(t, testConfig(), zerolog.Nop())
	ctx := testContext(t)

	// In the arena but never linked, as after a failed join.
	_, err := n.Ring().AddNode(ring.Member{Name: "node-1", Addr: "127.0.0.1:7004"})
	require.NoError(t, err)
	require.Error(t, n.Ring().Validate())

	h, err := cm.Health(ctx, bufAddr)
	require.NoError(t, err)
	assert.Equal(t, healthDegraded, h.Status)

	view, err := cm.Join(ctx, bufAddr, ring.Member{Name: "node-1", Addr: "127.0.0.1:7004"})
	require.NoError(t, err)
	assert.Equal(t, "NodeD", view.Successor.Name)
	require.NotNil(t, view.Predecessor)
	assert.Equal(t, "NodeC", view.Predecessor.Name)

	require.NoError(t, n.Ring().Validate())
	assert.Equal(t, 4, n.Ring().Len())

	h, err = cm.Health(ctx, bufAddr)
	require.NoError(t, err)
	assert.Equal(t, healthServing, h.Status)
}
