package mengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mosaic-bft/mosaic/internal/mchan"
	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mcrypto"
	"github.com/mosaic-bft/mosaic/mnet"
	"github.com/mosaic-bft/mosaic/mstore"
)

// Config is the set of collaborators one engine instance needs.
// Several instances on the same process share the Handlers table and
// the Sender; everything else is per-instance.
type Config struct {
	// Distinguishes this logical validator on the shared listeners.
	ValidatorID uint64

	Signer    mcrypto.Signer
	Committee mconsensus.Committee

	Params Parameters

	// Block persistence. Shared stores must be namespaced by the caller.
	Store mstore.Store

	// The shared inbound dispatch table. The engine registers itself
	// under ValidatorID; frames may arrive before registration
	// completes and are soft-rejected by the receiver until then.
	Handlers *mnet.HandlerMap

	// Shared outbound connection pool.
	Sender *mnet.Sender

	// Batch digests offered by the external mempool.
	// May be nil; proposals then carry empty payloads.
	MempoolDigests <-chan mcrypto.Digest

	// Payloads of committed blocks, for mempool garbage collection.
	// May be nil if the mempool does not track committed batches.
	MempoolCleanup chan<- []mcrypto.Digest

	// Finalized blocks, delivered oldest-first.
	Commit chan<- mconsensus.Block
}

// EngineStatus is a point-in-time snapshot of one instance's progress.
type EngineStatus struct {
	ValidatorID uint64

	Round              mconsensus.Round
	HighQCRound        mconsensus.Round
	LastCommittedRound mconsensus.Round
}

// Engine is one logical validator: the consensus core and its
// supporting tasks, wired to the shared network layer.
type Engine struct {
	log *slog.Logger

	validatorID uint64

	core     *core
	proposer *proposer
	helper   *helper
	mempool  *mempoolDriver

	statusRequests chan<- chan EngineStatus
}

// New builds and starts an engine instance.
//
// All goroutines stop when ctx is canceled; call [Engine.Wait]
// to block until they have finished.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Engine, error) {
	name := cfg.Signer.PubKey()
	if _, ok := cfg.Committee.Index(name); !ok {
		return nil, fmt.Errorf("signer key %x is not a committee member", name.PubKeyBytes())
	}

	blocks := newBlockStore(cfg.Store)
	if err := blocks.Put(ctx, mconsensus.GenesisBlock()); err != nil {
		return nil, fmt.Errorf("failed to store genesis block: %w", err)
	}

	tx := senderTransmitter{sender: cfg.Sender, validatorID: cfg.ValidatorID}

	ingress := make(chan mconsensus.Message, channelCapacity)
	helperRequests := make(chan syncRequest, channelCapacity)
	proposerRequests := make(chan proposalRequest, channelCapacity)
	statusRequests := make(chan chan EngineStatus)

	ilog := log.With("validator_id", cfg.ValidatorID)

	mempool := newMempoolDriver(
		ilog.With("task", "mempool"),
		cfg.MempoolDigests, cfg.MempoolCleanup, cfg.Params.MaxPayload,
	)
	sync := newSynchronizer(
		ilog.With("task", "synchronizer"),
		name, cfg.Committee, blocks, tx, cfg.Params.SyncRetryDelay, ingress,
	)
	prop := newProposer(
		ilog.With("task", "proposer"),
		cfg.Signer, cfg.Committee, mempool, tx, proposerRequests, ingress,
	)
	help := newHelper(
		ilog.With("task", "helper"),
		cfg.Committee, blocks, tx, helperRequests,
	)
	c := newCore(
		ilog.With("task", "core"),
		cfg.Signer, cfg.Committee, blocks, cfg.Params,
		mconsensus.NewLeaderElector(cfg.Committee),
		mempool, sync, tx,
		ingress, proposerRequests, cfg.Commit, statusRequests,
	)

	go mempool.run(ctx)
	go prop.run(ctx)
	go help.run(ctx)
	go c.run(ctx)

	// Registration is deliberately asynchronous with startup:
	// the shared receiver is already accepting connections, and peers
	// that race ahead of us get a soft rejection and retry on the
	// next frame.
	go cfg.Handlers.Insert(cfg.ValidatorID, &receiverHandler{
		log:     ilog.With("task", "dispatch"),
		ingress: ingress,
		helper:  helperRequests,
	})

	return &Engine{
		log:         ilog,
		validatorID: cfg.ValidatorID,
		core:        c,
		proposer:    prop,
		helper:      help,
		mempool:     mempool,

		statusRequests: statusRequests,
	}, nil
}

// Wait blocks until every engine goroutine has finished.
// It must not be called before the context given to [New] is canceled.
func (e *Engine) Wait() {
	<-e.core.done
	<-e.proposer.done
	<-e.helper.done
	<-e.mempool.done
}

// Status reports the instance's current progress.
func (e *Engine) Status(ctx context.Context) (EngineStatus, bool) {
	resp := make(chan EngineStatus, 1)
	st, ok := mchan.ReqResp(
		ctx, e.log, e.statusRequests, resp, resp, "requesting engine status",
	)
	if !ok {
		return EngineStatus{}, false
	}

	st.ValidatorID = e.validatorID
	return st, true
}
