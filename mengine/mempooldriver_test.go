package mengine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mcrypto"
)

func startMempoolDriver(
	t *testing.T, maxPayload int,
) (chan mcrypto.Digest, chan []mcrypto.Digest, *mempoolDriver) {
	t.Helper()

	digests := make(chan mcrypto.Digest, 64)
	cleanup := make(chan []mcrypto.Digest, 8)

	d := newMempoolDriver(slogt.New(t), digests, cleanup, maxPayload)

	ctx, cancel := context.WithCancel(context.Background())
	go d.run(ctx)
	t.Cleanup(func() {
		cancel()
		<-d.done
	})

	return digests, cleanup, d
}

func testDigest(i int) mcrypto.Digest {
	return mcrypto.NewDigest([]byte(fmt.Sprintf("batch-%d", i)))
}

func TestMempoolDriver_PollEmpty(t *testing.T) {
	t.Parallel()

	_, _, d := startMempoolDriver(t, 4)

	payload, ok := d.Poll(context.Background(), slogt.New(t))
	require.True(t, ok)
	require.Nil(t, payload)
}

func TestMempoolDriver_PollBuffered(t *testing.T) {
	t.Parallel()

	digests, _, d := startMempoolDriver(t, 4)
	log := slogt.New(t)

	digests <- testDigest(1)
	digests <- testDigest(2)

	// The driver consumes the channel asynchronously;
	// poll until the digests have been buffered.
	require.Eventually(t, func() bool {
		payload, ok := d.Poll(context.Background(), log)
		require.True(t, ok)
		return len(payload) > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMempoolDriver_AwaitBlocksUntilDigestArrives(t *testing.T) {
	t.Parallel()

	digests, _, d := startMempoolDriver(t, 4)
	log := slogt.New(t)

	got := make(chan []mcrypto.Digest, 1)
	go func() {
		payload, ok := d.Await(context.Background(), log)
		if ok {
			got <- payload
		}
	}()

	select {
	case p := <-got:
		t.Fatalf("await returned before any digest: %v", p)
	case <-time.After(100 * time.Millisecond):
	}

	digests <- testDigest(7)

	select {
	case p := <-got:
		require.Equal(t, []mcrypto.Digest{testDigest(7)}, p)
	case <-time.After(5 * time.Second):
		t.Fatal("await never returned")
	}
}

func TestMempoolDriver_AwaitWithoutMempoolReturnsEmpty(t *testing.T) {
	t.Parallel()

	log := slogt.New(t)

	d := newMempoolDriver(log, nil, nil, 4)

	ctx, cancel := context.WithCancel(context.Background())
	go d.run(ctx)
	t.Cleanup(func() {
		cancel()
		<-d.done
	})

	// With no digest source wired, a waiting proposer gets an empty
	// payload back instead of blocking forever.
	payload, ok := d.Await(context.Background(), log)
	require.True(t, ok)
	require.Nil(t, payload)
}

func TestMempoolDriver_RespectsMaxPayload(t *testing.T) {
	t.Parallel()

	digests, _, d := startMempoolDriver(t, 2)
	log := slogt.New(t)

	for i := 0; i < 5; i++ {
		digests <- testDigest(i)
	}

	var first []mcrypto.Digest
	require.Eventually(t, func() bool {
		p, ok := d.Poll(context.Background(), log)
		require.True(t, ok)
		if len(p) == 0 {
			return false
		}
		first = p
		return true
	}, 5*time.Second, 10*time.Millisecond)

	require.LessOrEqual(t, len(first), 2)
}

func TestMempoolDriver_RemoveForwardsPayload(t *testing.T) {
	t.Parallel()

	_, cleanup, d := startMempoolDriver(t, 4)
	log := slogt.New(t)
	ctx := context.Background()

	payload := []mcrypto.Digest{testDigest(1), testDigest(2)}
	d.Remove(ctx, log, mconsensus.Block{Round: 3, Payload: payload})

	select {
	case got := <-cleanup:
		require.Equal(t, payload, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no cleanup forwarded")
	}

	// Empty blocks produce no cleanup traffic.
	d.Remove(ctx, log, mconsensus.Block{Round: 4})
	select {
	case got := <-cleanup:
		t.Fatalf("unexpected cleanup for empty block: %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}
