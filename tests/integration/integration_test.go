package integration

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/ssh"

	"vmgate/internal/classify"
	"vmgate/internal/ops"
	"vmgate/internal/sshexec"
	"vmgate/internal/store"
	"vmgate/internal/trace"
)

const sshUser = "vmgate"

// sshServer holds the started container and the connection parameters
// vmgate should use to reach it.
type sshServer struct {
	container testcontainers.Container
	cfg       sshexec.Config
}

// generateKey returns a fresh ed25519 keypair as PEM private key bytes and
// the OpenSSH authorized_keys line for its public half.
func generateKey(t *testing.T) ([]byte, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	return pem.EncodeToMemory(block), string(ssh.MarshalAuthorizedKey(sshPub))
}

// setupSSHServer starts an openssh-server container that accepts the given
// public key for sshUser.
func setupSSHServer(t *testing.T, ctx context.Context, authorizedKey string) *sshServer {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "lscr.io/linuxserver/openssh-server:latest",
		ExposedPorts: []string{"2222/tcp"},
		Env: map[string]string{
			"USER_NAME":  sshUser,
			"PUBLIC_KEY": authorizedKey,
		},
		WaitingFor: wait.ForListeningPort("2222/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start ssh server container")

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "2222/tcp")
	require.NoError(t, err)

	return &sshServer{
		container: container,
		cfg:       sshexec.Config{Host: host, Port: port.Int(), User: sshUser},
	}
}

// newService wires a real service over temp stores, with the given key
// installed.
func newService(t *testing.T, keyPEM []byte) *ops.Service {
	t.Helper()
	dir := t.TempDir()
	keys := store.NewKeyStore(filepath.Join(dir, "ssh_key"))
	require.NoError(t, keys.Set(keyPEM))
	return ops.NewService(
		trace.NewStore(),
		keys,
		store.NewPasswordStore(filepath.Join(dir, "passwords.yaml")),
	)
}

func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	keyPEM, authorizedKey := generateKey(t)
	server := setupSSHServer(t, ctx, authorizedKey)
	svc := newService(t, keyPEM)

	t.Run("Exec", func(t *testing.T) {
		out, err := svc.Exec(ctx, server.cfg, "echo hello from vmgate", "req-1")
		require.NoError(t, err)
		assert.Contains(t, out, "hello from vmgate")

		entries := svc.Trace.List()
		require.NotEmpty(t, entries)
		assert.Equal(t, "ssh_exec", entries[0].Action)
		assert.True(t, entries[0].OK)
		assert.Equal(t, "req-1", entries[0].RequestID)
	})

	t.Run("SideEffectVisible", func(t *testing.T) {
		_, err := svc.Exec(ctx, server.cfg, "sh -c 'echo created-over-ssh > /tmp/vmgate-marker.txt'", "")
		require.NoError(t, err)

		assertFileExists(t, ctx, server.container, "/tmp/vmgate-marker.txt")
		assertFileContains(t, ctx, server.container, "/tmp/vmgate-marker.txt", []string{"created-over-ssh"})
	})

	t.Run("NonZeroExitWithOutput", func(t *testing.T) {
		_, err := svc.Exec(ctx, server.cfg, "sh -c 'echo disk full >&2; exit 3'", "")
		require.Error(t, err)

		var outErr *classify.RemoteOutputError
		require.ErrorAs(t, err, &outErr)
		assert.Equal(t, uint32(3), outErr.Status)
		assert.Equal(t, "disk full", outErr.Output)
	})

	t.Run("NonZeroExitNoOutput", func(t *testing.T) {
		_, err := svc.Exec(ctx, server.cfg, "sh -c 'exit 5'", "")
		require.Error(t, err)

		var exitErr *classify.RemoteExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, uint32(5), exitErr.Status)
		assert.Contains(t, err.Error(), "status 5")
	})

	t.Run("InterleavedOutput", func(t *testing.T) {
		out, err := svc.Exec(ctx, server.cfg, "sh -c 'echo out1; echo err1 >&2; echo out2'", "")
		require.NoError(t, err)
		for _, want := range []string{"out1", "err1", "out2"} {
			assert.Contains(t, out, want)
		}
	})

	t.Run("EveryAttemptRecorded", func(t *testing.T) {
		before := svc.Trace.Len()
		_, _ = svc.Exec(ctx, server.cfg, "true", "")
		_, _ = svc.Exec(ctx, server.cfg, "sh -c 'exit 1'", "")
		assert.Equal(t, before+2, svc.Trace.Len())
	})

	t.Run("WrongKeyIsAuthError", func(t *testing.T) {
		otherKey, _ := generateKey(t)
		badSvc := newService(t, otherKey)

		_, err := badSvc.Exec(ctx, server.cfg, "echo nope", "")
		require.Error(t, err)

		var authErr *sshexec.AuthError
		assert.ErrorAs(t, err, &authErr)
		assert.Equal(t, 1, badSvc.Trace.Len(), "failed connect should still be recorded")
	})

	t.Run("ClosedPortIsTransportError", func(t *testing.T) {
		badCfg := server.cfg
		badCfg.Port = 1 // nothing listens here

		_, err := svc.Exec(ctx, badCfg, "echo nope", "")
		require.Error(t, err)

		var transportErr *sshexec.TransportError
		assert.ErrorAs(t, err, &transportErr)
	})
}

func TestConnectDirect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	keyPEM, authorizedKey := generateKey(t)
	server := setupSSHServer(t, ctx, authorizedKey)

	signer, err := ssh.ParsePrivateKey(keyPEM)
	require.NoError(t, err)

	sess, err := sshexec.Connect(ctx, server.cfg, signer)
	require.NoError(t, err)
	defer sess.Close()

	res, err := sess.Exec("id -un")
	require.NoError(t, err)
	require.NotNil(t, res.ExitStatus)
	assert.Equal(t, uint32(0), *res.ExitStatus)
	assert.Contains(t, res.Output, sshUser)

	res, err = sess.Exec("sh -c 'exit 42'")
	require.NoError(t, err, "non-zero exit is not an exec error")
	require.NotNil(t, res.ExitStatus)
	assert.Equal(t, uint32(42), *res.ExitStatus)
}
