package langserver

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/mesonbuild/vscode-meson-sub000/persistence"
	"github.com/mesonbuild/vscode-meson-sub000/settings"
	"github.com/mesonbuild/vscode-meson-sub000/version"
)

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		hdr.SetMode(0o644)
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// artifactServer serves body at /alpha.zip and counts hits.
type artifactServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newArtifactServer(t *testing.T, body []byte) *artifactServer {
	t.Helper()
	s := &artifactServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *artifactServer) artifactURL() string {
	return s.URL + "/alpha.zip"
}

func alphaDescriptor(url, hash string) Descriptor {
	return Descriptor{
		Name:          "alpha",
		Binary:        "alpha",
		Version:       version.MustNew(1, 2, 3),
		RepositoryURL: "https://example.com/alpha",
		SetupURL:      "https://example.com/alpha/docs",
		Args:          []string{"--lsp"},
		Supported:     []Platform{LinuxX64, LinuxArm64},
		Artifacts: map[Platform]Artifact{
			LinuxX64: {URL: url, SHA256: hash},
		},
	}
}

func catalogOf(descs ...Descriptor) func(string) (Descriptor, bool) {
	return func(name string) (Descriptor, bool) {
		for _, d := range descs {
			if d.Name == name {
				return d, true
			}
		}
		return Descriptor{}, false
	}
}

func openSettings(t *testing.T) *settings.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := settings.Open(filepath.Join(dir, "global.yaml"), filepath.Join(dir, "ws", "settings.yaml"))
	require.NoError(t, err)
	return s
}

type fakeLedger struct {
	mu      sync.Mutex
	records []persistence.InstallRecord
}

func (l *fakeLedger) Record(_ context.Context, rec persistence.InstallRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *fakeLedger) Records() []persistence.InstallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]persistence.InstallRecord(nil), l.records...)
}

// fakeServer is the server end of an in-memory protocol connection.
type fakeServer struct {
	conn *jsonrpc2.Conn

	mu       sync.Mutex
	methods  []string
	settings []json.RawMessage
}

func (s *fakeServer) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	s.mu.Lock()
	s.methods = append(s.methods, req.Method)
	if req.Method == "workspace/didChangeConfiguration" && req.Params != nil {
		var params struct {
			Settings json.RawMessage `json:"settings"`
		}
		if err := json.Unmarshal(*req.Params, &params); err == nil {
			s.settings = append(s.settings, params.Settings)
		}
	}
	s.mu.Unlock()

	switch req.Method {
	case "initialize":
		return protocol.InitializeResult{
			ServerInfo: &protocol.ServerInfo{Name: "fake-alpha", Version: "1.2.3"},
		}, nil
	case "shutdown":
		return nil, nil
	}
	if req.Notif {
		return nil, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: req.Method}
}

func (s *fakeServer) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func (s *fakeServer) PushedSettings() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.settings...)
}

type pipeProcess struct {
	net.Conn
	server *fakeServer
}

func (p *pipeProcess) Wait() error {
	<-p.server.conn.DisconnectNotify()
	return nil
}

func (p *pipeProcess) Kill() error {
	return p.server.conn.Close()
}

// fakeLauncher starts in-memory servers and records each launch.
type fakeLauncher struct {
	mu      sync.Mutex
	specs   []RunSpec
	servers []*fakeServer
	err     error
}

func (l *fakeLauncher) Launch(ctx context.Context, spec RunSpec) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	if l.err != nil {
		return nil, l.err
	}
	clientSide, serverSide := net.Pipe()
	srv := &fakeServer{}
	stream := jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{})
	srv.conn = jsonrpc2.NewConn(context.Background(), stream, jsonrpc2.HandlerWithError(srv.handle))
	l.servers = append(l.servers, srv)
	return &pipeProcess{Conn: clientSide, server: srv}, nil
}

func (l *fakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.specs)
}

func (l *fakeLauncher) Last() (RunSpec, *fakeServer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.servers) == 0 {
		return RunSpec{}, nil
	}
	return l.specs[len(l.specs)-1], l.servers[len(l.servers)-1]
}

var errLaunch = errors.New("launch refused")
