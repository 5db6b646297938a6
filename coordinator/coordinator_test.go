package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentdock/configuration"
	"github.com/hupe1980/agentdock/conversation"
	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/internal/testutil"
	"github.com/hupe1980/agentdock/pool"
)

// scriptedInstance replies with a fixed string and streams fixed chunks. A
// non-nil gate blocks Invoke until the gate is closed, for in-flight tests.
type scriptedInstance struct {
	reply     string
	chunks    []string
	streamErr error
	invokeErr error
	gate      chan struct{}

	destroyed atomic.Bool
	invoked   atomic.Int64
}

func (s *scriptedInstance) Invoke(ctx context.Context, history []core.Message) (string, error) {
	s.invoked.Add(1)
	if s.destroyed.Load() {
		return "", errors.New("invoke on destroyed instance")
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.invokeErr != nil {
		return "", s.invokeErr
	}
	return s.reply, nil
}

func (s *scriptedInstance) InvokeStream(ctx context.Context, history []core.Message) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for _, chunk := range s.chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if s.gate != nil {
			select {
			case <-s.gate:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if s.streamErr != nil {
			errCh <- s.streamErr
		}
	}()
	return out, errCh
}

type scriptedFactory struct {
	mu        sync.Mutex
	instances map[string]*scriptedInstance // per config id, optional
	built     []*scriptedInstance
	constructs int
}

func (f *scriptedFactory) Construct(ctx context.Context, cfg *core.Configuration) (core.AgentInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructs++
	inst, ok := f.instances[cfg.ID]
	if !ok {
		inst = &scriptedInstance{reply: "scripted reply", chunks: []string{"scripted ", "reply"}}
	}
	f.built = append(f.built, inst)
	return inst, nil
}

func (f *scriptedFactory) Teardown(instance core.AgentInstance) error {
	instance.(*scriptedInstance).destroyed.Store(true)
	return nil
}

func (f *scriptedFactory) constructions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.constructs
}

type fixture struct {
	configs *configuration.InMemoryStore
	factory *scriptedFactory
	pool    *pool.Pool
	coord   *Coordinator
	cfg     *core.Configuration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	configs := configuration.NewInMemoryStore()
	cfg, err := configs.Create(testutil.ConfigSpec("default"))
	require.NoError(t, err)

	factory := &scriptedFactory{instances: map[string]*scriptedInstance{}}
	p := pool.New(factory, func(o *pool.Options) {
		o.SweepInterval = time.Hour
	})
	t.Cleanup(p.Close)

	return &fixture{
		configs: configs,
		factory: factory,
		pool:    p,
		coord:   New(configs, conversation.NewInMemoryStore(configs), p),
		cfg:     cfg,
	}
}

func (fx *fixture) script(inst *scriptedInstance) { fx.factory.instances[fx.cfg.ID] = inst }

func TestCoordinator_StartValidatesConfiguration(t *testing.T) {
	fx := newFixture(t)

	conv, err := fx.coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.SessionID)

	_, err = fx.coord.Start("missing", "")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, fx.coord.DeactivateConfiguration(fx.cfg.ID))
	_, err = fx.coord.Start(fx.cfg.ID, "")
	assert.ErrorIs(t, err, core.ErrNotFound, "deactivated configurations reject new conversations")

	assert.Equal(t, 1, fx.coord.ConversationCount(), "failed starts leave no record")
}

func TestCoordinator_ExecuteAppendsExchange(t *testing.T) {
	fx := newFixture(t)
	fx.script(&scriptedInstance{reply: "4"})

	conv, err := fx.coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)

	reply, err := fx.coord.Execute(context.Background(), conv.SessionID, "what is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, "4", reply)

	history, err := fx.coord.History(conv.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2, "exactly one human and one assistant message")
	assert.Equal(t, core.RoleHuman, history[0].Role)
	assert.Equal(t, "what is 2+2?", history[0].Content)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	assert.Equal(t, "4", history[1].Content)
}

func TestCoordinator_ConversationsShareOneInstance(t *testing.T) {
	fx := newFixture(t)

	one, err := fx.coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)
	two, err := fx.coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, session := range []string{one.SessionID, two.SessionID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := fx.coord.Execute(context.Background(), id, "hello")
			assert.NoError(t, err)
		}(session)
	}
	wg.Wait()

	assert.Equal(t, 1, fx.factory.constructions(), "both sessions ride the same construction")

	historyOne, err := fx.coord.History(one.SessionID)
	require.NoError(t, err)
	historyTwo, err := fx.coord.History(two.SessionID)
	require.NoError(t, err)
	assert.Len(t, historyOne, 2)
	assert.Len(t, historyTwo, 2, "histories stay per-session despite the shared instance")
}

func TestCoordinator_ExecuteUnknownSession(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.coord.Execute(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 0, fx.factory.constructions(), "no instance built for an unknown session")
}

func TestCoordinator_ExecuteWrapsInstanceError(t *testing.T) {
	fx := newFixture(t)
	boom := errors.New("model unavailable")
	fx.script(&scriptedInstance{invokeErr: boom})

	conv, err := fx.coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)

	_, err = fx.coord.Execute(context.Background(), conv.SessionID, "hello")
	var execErr *core.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, conv.SessionID, execErr.SessionID)
	assert.ErrorIs(t, err, boom)

	// The handle was released on the failure path: invalidation destroys the
	// instance immediately instead of deferring.
	fx.pool.Invalidate(fx.cfg.ID)
	assert.True(t, fx.factory.built[0].destroyed.Load())

	history, err := fx.coord.History(conv.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 1, "the human message stays, no assistant message is recorded")
	assert.Equal(t, core.RoleHuman, history[0].Role)
}

func TestCoordinator_DeactivateWhileInFlight(t *testing.T) {
	fx := newFixture(t)
	gate := make(chan struct{})
	inst := &scriptedInstance{reply: "late reply", gate: gate}
	fx.script(inst)

	conv, err := fx.coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := fx.coord.Execute(context.Background(), conv.SessionID, "hello")
		done <- err
	}()

	require.Eventually(t, func() bool { return inst.invoked.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, fx.coord.DeactivateConfiguration(fx.cfg.ID))
	assert.False(t, inst.destroyed.Load(), "destruction is deferred while the execution holds a reference")

	close(gate)
	require.NoError(t, <-done)

	assert.Eventually(t, func() bool { return inst.destroyed.Load() }, time.Second, time.Millisecond,
		"the last release destroys the invalidated instance")

	_, err = fx.coord.Execute(context.Background(), conv.SessionID, "again")
	assert.ErrorIs(t, err, core.ErrNotFound, "executions re-check the configuration is active")
}

func TestCoordinator_ExecuteStreamOrderAndTerminal(t *testing.T) {
	fx := newFixture(t)
	fx.script(&scriptedInstance{chunks: []string{"once ", "upon ", "a time"}})

	conv, err := fx.coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)

	events, err := fx.coord.ExecuteStream(context.Background(), conv.SessionID, "tell me a story")
	require.NoError(t, err)

	var collected []core.StreamEvent
	for ev := range events {
		collected = append(collected, ev)
	}

	require.Len(t, collected, 4)
	for i, want := range []string{"once ", "upon ", "a time"} {
		assert.Equal(t, core.StreamEventMessage, collected[i].Type)
		assert.Equal(t, want, collected[i].Content)
	}
	terminal := collected[3]
	assert.Equal(t, core.StreamEventComplete, terminal.Type)
	assert.Equal(t, conv.SessionID, terminal.SessionID)

	history, err := fx.coord.History(conv.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "once upon a time", history[1].Content, "assistant message is the chunk concatenation")
}

func TestCoordinator_ExecuteStreamErrorKeepsPartial(t *testing.T) {
	fx := newFixture(t)
	fx.script(&scriptedInstance{chunks: []string{"partial "}, streamErr: errors.New("stream broke")})

	conv, err := fx.coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)

	events, err := fx.coord.ExecuteStream(context.Background(), conv.SessionID, "go")
	require.NoError(t, err)

	var collected []core.StreamEvent
	for ev := range events {
		collected = append(collected, ev)
	}

	terminal := collected[len(collected)-1]
	assert.Equal(t, core.StreamEventError, terminal.Type)
	assert.Contains(t, terminal.Error, "stream broke")
	for _, ev := range collected[:len(collected)-1] {
		assert.Equal(t, core.StreamEventMessage, ev.Type, "exactly one terminal event, at the end")
	}

	history, err := fx.coord.History(conv.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "partial ", history[1].Content, "partial assistant content is not rolled back")
}

// burstInstance emits its whole output into buffered channels up front, so
// chunks and the terminal error are all pending before the consumer reads.
type burstInstance struct {
	chunks    []string
	streamErr error
}

func (b *burstInstance) Invoke(ctx context.Context, history []core.Message) (string, error) {
	return strings.Join(b.chunks, ""), nil
}

func (b *burstInstance) InvokeStream(ctx context.Context, history []core.Message) (<-chan string, <-chan error) {
	out := make(chan string, len(b.chunks))
	errCh := make(chan error, 1)
	for _, chunk := range b.chunks {
		out <- chunk
	}
	if b.streamErr != nil {
		errCh <- b.streamErr
	}
	close(errCh)
	close(out)
	return out, errCh
}

func TestCoordinator_ExecuteStreamDeliversChunksBeforeError(t *testing.T) {
	fx := newFixture(t)
	burst := &burstInstance{
		chunks:    []string{"all ", "chunks ", "arrive"},
		streamErr: errors.New("stream broke"),
	}
	p := pool.New(&singleInstanceFactory{instance: burst}, func(o *pool.Options) {
		o.SweepInterval = time.Hour
	})
	t.Cleanup(p.Close)
	conversations := conversation.NewInMemoryStore(fx.configs)
	coord := New(fx.configs, conversations, p)

	conv, err := coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)

	events, err := coord.ExecuteStream(context.Background(), conv.SessionID, "go")
	require.NoError(t, err)

	var collected []core.StreamEvent
	for ev := range events {
		collected = append(collected, ev)
	}

	require.Len(t, collected, 4, "no buffered chunk is lost to the pending error")
	var text string
	for _, ev := range collected[:3] {
		require.Equal(t, core.StreamEventMessage, ev.Type)
		text += ev.Content
	}
	assert.Equal(t, "all chunks arrive", text)
	assert.Equal(t, core.StreamEventError, collected[3].Type)

	history, err := coord.History(conv.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "all chunks arrive", history[1].Content)
}

type singleInstanceFactory struct {
	instance core.AgentInstance
}

func (f *singleInstanceFactory) Construct(ctx context.Context, cfg *core.Configuration) (core.AgentInstance, error) {
	return f.instance, nil
}

func (f *singleInstanceFactory) Teardown(instance core.AgentInstance) error { return nil }

func TestCoordinator_ExecuteStreamCancellation(t *testing.T) {
	fx := newFixture(t)
	gate := make(chan struct{})
	defer close(gate)
	// A producer that never finishes: the gate blocks it after two chunks.
	inst := &scriptedInstance{chunks: []string{"a", "b"}, gate: gate}
	fx.script(inst)

	conv, err := fx.coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := fx.coord.ExecuteStream(ctx, conv.SessionID, "go")
	require.NoError(t, err)

	<-events // first chunk arrived, the stream is live
	cancel()

	var terminal core.StreamEvent
	for ev := range events {
		terminal = ev
	}
	assert.Equal(t, core.StreamEventError, terminal.Type)

	// The release path ran: invalidation destroys immediately.
	assert.Eventually(t, func() bool {
		fx.pool.Invalidate(fx.cfg.ID)
		return inst.destroyed.Load()
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_DeleteLeavesInstanceAlive(t *testing.T) {
	fx := newFixture(t)

	one, err := fx.coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)
	two, err := fx.coord.Start(fx.cfg.ID, "")
	require.NoError(t, err)

	_, err = fx.coord.Execute(context.Background(), one.SessionID, "hello")
	require.NoError(t, err)

	require.NoError(t, fx.coord.Delete(one.SessionID))
	assert.False(t, fx.factory.built[0].destroyed.Load(), "deleting a conversation never tears down the shared instance")

	_, err = fx.coord.Execute(context.Background(), two.SessionID, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, fx.factory.constructions())
}
