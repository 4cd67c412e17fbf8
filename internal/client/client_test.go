package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	apperr "goshare-relay/internal/errors"
	"goshare-relay/internal/fileshare"
	"goshare-relay/internal/protocol"
	"goshare-relay/internal/relay"
	"goshare-relay/internal/store"
	"goshare-relay/internal/transport"
	"goshare-relay/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

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

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.waits)
}

// scriptedRelay accepts one registration on the far end of a pipe and then
// runs script against it.
func scriptedRelay(t *testing.T, script func(w io.Writer)) transport.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	go func() {
		if _, err := protocol.ReadFrame(bufio.NewReader(server)); err != nil {
			return
		}
		script(server)
	}()
	return client
}

// fakeRelay answers the registration with a roster frame.
func fakeRelay(t *testing.T, roster string) transport.Conn {
	return scriptedRelay(t, func(w io.Writer) {
		_ = protocol.WriteFrame(w, roster)
	})
}

func TestBackOffPolicy_Sequence(t *testing.T) {
	b := BackOffPolicy{time.Second, 2 * time.Second}.NewBackOff()
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, time.Duration(-1), b.NextBackOff())

	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestParseBackOffPolicy(t *testing.T) {
	policy, err := ParseBackOffPolicy("5s, 10s,15s,20s,25s")
	require.NoError(t, err)
	assert.Equal(t, DefaultBackOffPolicy, policy)
	assert.Equal(t, "5s,10s,15s,20s,25s", policy.String())

	_, err = ParseBackOffPolicy("5s,soon")
	assert.Error(t, err)
	_, err = ParseBackOffPolicy("-1s")
	assert.Error(t, err)
}

func TestSession_ReconnectExhaustsPolicy(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection refused")).Times(5)

	sleeps := &sleepRecorder{}
	out := &syncBuffer{}
	s := NewSession("alice", dialer, WithSleeper(sleeps.sleep), WithOutput(out))

	ok := s.reconnectWithBackOff(context.Background())

	assert.False(t, ok)
	assert.Equal(t, []time.Duration(DefaultBackOffPolicy), sleeps.recorded())
	var total time.Duration
	for _, d := range sleeps.recorded() {
		total += d
	}
	assert.Equal(t, 75*time.Second, total)
	assert.Equal(t, Disconnected, s.State())
	assert.Contains(t, out.String(), "Failed to reconnect after several attempts")
}

func TestSession_ReconnectSucceedsAfterFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	gomock.InOrder(
		dialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection refused")).Times(2),
		dialer.EXPECT().Dial(gomock.Any()).Return(fakeRelay(t, "CLIENT_LIST alice bob"), nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeps := &sleepRecorder{}
	s := NewSession("alice", dialer, WithSleeper(sleeps.sleep), WithOutput(&syncBuffer{}))
	t.Cleanup(func() { _ = s.Close() })

	require.True(t, s.reconnectWithBackOff(ctx))
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}, sleeps.recorded())
	assert.Equal(t, Connected, s.State())
	assert.Eventually(t, func() bool {
		return slices.Equal([]string{"alice", "bob"}, s.Roster())
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_ListenerReconnectsAfterDrop(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)

	first, firstServer := net.Pipe()
	t.Cleanup(func() { _ = first.Close() })
	go func() {
		_, _ = protocol.ReadFrame(bufio.NewReader(firstServer))
		_ = firstServer.Close()
	}()
	gomock.InOrder(
		dialer.EXPECT().Dial(gomock.Any()).Return(first, nil),
		dialer.EXPECT().Dial(gomock.Any()).Return(fakeRelay(t, "CLIENT_LIST alice"), nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeps := &sleepRecorder{}
	out := &syncBuffer{}
	s := NewSession("alice", dialer, WithSleeper(sleeps.sleep), WithOutput(out))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Connect(ctx))
	assert.Eventually(t, func() bool {
		return slices.Equal([]string{"alice"}, s.Roster())
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeps.recorded())
	assert.Equal(t, Connected, s.State())
	assert.Contains(t, out.String(), "Disconnected from server. Attempting to reconnect...")
}

func TestSession_NegativeLengthDropsConnection(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	hostile := scriptedRelay(t, func(w io.Writer) {
		_ = protocol.WriteFrame(w, protocol.ReceiveFile("x.bin", "bob"))
		_, _ = w.Write([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	})
	gomock.InOrder(
		dialer.EXPECT().Dial(gomock.Any()).Return(hostile, nil),
		dialer.EXPECT().Dial(gomock.Any()).Return(fakeRelay(t, "CLIENT_LIST alice"), nil),
	)

	downloads := t.TempDir()
	sleeps := &sleepRecorder{}
	out := &syncBuffer{}
	s := NewSession("alice", dialer, WithSleeper(sleeps.sleep), WithOutput(out), WithDownloadDir(downloads))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return slices.Equal([]string{"alice"}, s.Roster())
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []time.Duration{5 * time.Second}, sleeps.recorded())
	assert.Contains(t, out.String(), "Disconnected from server. Attempting to reconnect...")
	assert.Empty(t, s.Transfers().List())
	assert.NoFileExists(t, filepath.Join(downloads, "alice", "x.bin"))
}

func TestSession_TruncatedReceiveRemovesPartialFile(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	truncated := scriptedRelay(t, func(w io.Writer) {
		_ = protocol.WriteFrame(w, protocol.ReceiveFile("partial.bin", "bob"))
		_ = protocol.WriteLength(w, 2*protocol.BlockSize)
		_ = protocol.WriteFrame(w, protocol.Advisory(1, protocol.BlockSize))
		_, _ = w.Write(bytes.Repeat([]byte("p"), protocol.BlockSize))
		if closer, ok := w.(io.Closer); ok {
			_ = closer.Close()
		}
	})
	dialer.EXPECT().Dial(gomock.Any()).Return(truncated, nil)

	downloads := t.TempDir()
	s := NewSession("alice", dialer, WithBackOffPolicy(BackOffPolicy{}),
		WithOutput(&syncBuffer{}), WithDownloadDir(downloads))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool {
		transfer, ok := lastTransfer(s)
		return ok && transfer.Status == fileshare.FAILED
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoFileExists(t, filepath.Join(downloads, "alice", "partial.bin"))
	transfer, _ := lastTransfer(s)
	assert.Equal(t, "bob", transfer.Peer)
	assert.Equal(t, fileshare.RECEIVING, transfer.Direction)
}

func TestSession_StartFallsBackToPolicy(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	gomock.InOrder(
		dialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection refused")),
		dialer.EXPECT().Dial(gomock.Any()).Return(fakeRelay(t, "CLIENT_LIST alice"), nil),
	)

	sleeps := &sleepRecorder{}
	s := NewSession("alice", dialer, WithSleeper(sleeps.sleep), WithOutput(&syncBuffer{}))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeps.recorded())
	assert.Equal(t, Connected, s.State())
}

func TestSession_StartGivesUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(nil, errors.New("connection refused")).Times(2)

	sleeps := &sleepRecorder{}
	s := NewSession("alice", dialer, WithBackOffPolicy(BackOffPolicy{time.Second}),
		WithSleeper(sleeps.sleep), WithOutput(&syncBuffer{}))

	err := s.Start(context.Background())

	assert.True(t, apperr.Is(err, apperr.ErrNotConnected))
	assert.Equal(t, Disconnected, s.State())
}

func TestSession_CloseDoesNotReconnect(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(fakeRelay(t, "CLIENT_LIST alice"), nil).Times(1)

	sleeps := &sleepRecorder{}
	s := NewSession("alice", dialer, WithSleeper(sleeps.sleep), WithOutput(&syncBuffer{}))
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Close())

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sleeps.recorded())
	assert.Equal(t, Disconnected, s.State())
}

func TestSession_SendMissingFileTouchesNoNetwork(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	s := NewSession("alice", dialer, WithOutput(&syncBuffer{}))

	err := s.SendFile(filepath.Join(t.TempDir(), "missing.txt"), "bob")

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrFileNotFound))
	assert.Empty(t, s.Transfers().List())
}

func TestSession_SendWhileDisconnected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	s := NewSession("alice", mocks.NewMockDialer(gomock.NewController(t)), WithOutput(&syncBuffer{}))

	err := s.SendFile(path, "bob")

	assert.True(t, apperr.Is(err, apperr.ErrNotConnected))
}

func TestSession_ExecuteCommands(t *testing.T) {
	out := &syncBuffer{}
	s := NewSession("alice", mocks.NewMockDialer(gomock.NewController(t)), WithOutput(out))

	assert.False(t, s.Execute(context.Background(), "help"))
	assert.Contains(t, out.String(), "sendfile <path> <username>")

	assert.False(t, s.Execute(context.Background(), "sendfile only-a-path"))
	assert.Contains(t, out.String(), "Usage: sendfile <path> <username>")

	assert.False(t, s.Execute(context.Background(), "transfers"))
	assert.Contains(t, out.String(), "No transfers yet.")

	assert.False(t, s.Execute(context.Background(), "dance"))
	assert.Contains(t, out.String(), "Unknown command")

	assert.True(t, s.Execute(context.Background(), "exit"))
}

func TestSession_RunStopsAtExit(t *testing.T) {
	out := &syncBuffer{}
	s := NewSession("alice", mocks.NewMockDialer(gomock.NewController(t)), WithOutput(out))

	err := s.Run(context.Background(), strings.NewReader("\nhelp\nexit\ndance\n"))

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Available commands:")
	assert.NotContains(t, out.String(), "Unknown command")
}

func startRelay(t *testing.T) string {
	t.Helper()
	ln, err := transport.ListenTCP("127.0.0.1:0")
	require.NoError(t, err)
	srv := relay.NewServer(store.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Shutdown()
	})
	return ln.Addr().String()
}

func connect(t *testing.T, addr, username, downloadDir string) (*Session, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	s := NewSession(username, transport.TCPDialer{Address: addr, Timeout: time.Second},
		WithBackOffPolicy(nil), WithDownloadDir(downloadDir), WithOutput(out))
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s, out
}

func lastTransfer(s *Session) (fileshare.FileTransfer, bool) {
	transfers := s.Transfers().List()
	if len(transfers) == 0 {
		return fileshare.FileTransfer{}, false
	}
	return transfers[len(transfers)-1], true
}

func TestSession_SendFileThroughRelay(t *testing.T) {
	addr := startRelay(t)
	downloads := t.TempDir()
	alice, aliceOut := connect(t, addr, "alice", t.TempDir())
	bob, _ := connect(t, addr, "bob", downloads)
	require.Eventually(t, func() bool {
		return slices.Equal([]string{"alice", "bob"}, alice.Roster())
	}, 2*time.Second, 10*time.Millisecond)

	path := filepath.Join(t.TempDir(), "test.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	require.NoError(t, alice.SendFile(path, "bob"))

	require.Eventually(t, func() bool {
		transfer, ok := lastTransfer(bob)
		return ok && transfer.Status == fileshare.COMPLETED
	}, 2*time.Second, 10*time.Millisecond)
	content, err := os.ReadFile(filepath.Join(downloads, "bob", "test.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	require.Eventually(t, func() bool {
		transfer, ok := lastTransfer(alice)
		return ok && transfer.Status == fileshare.COMPLETED
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, aliceOut.String(), "File test.txt was sent.")

	received, _ := lastTransfer(bob)
	assert.Equal(t, "alice", received.Peer)
	assert.Equal(t, fileshare.RECEIVING, received.Direction)
}

func TestSession_SendFileToUnknownUser(t *testing.T) {
	addr := startRelay(t)
	alice, aliceOut := connect(t, addr, "alice", t.TempDir())

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 3*protocol.BlockSize+1), 0o644))
	require.NoError(t, alice.SendFile(path, "carol"))

	require.Eventually(t, func() bool {
		transfer, ok := lastTransfer(alice)
		return ok && transfer.Status == fileshare.FAILED
	}, 2*time.Second, 10*time.Millisecond)
	transfer, _ := lastTransfer(alice)
	assert.True(t, apperr.Is(transfer.Error, apperr.ErrTargetNotFound))
	assert.Contains(t, aliceOut.String(), "was not delivered")
	assert.Equal(t, Connected, alice.State())
}
