package listener

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"

	"github.com/sunneed/sunneed/internal/pip"
)

// ErrAcceptFailed is returned when the socket cannot be bound or the accept
// loop fails. It is fatal to the daemon.
var ErrAcceptFailed = errors.New("listener: accept failed")

// Defaults applied for zero Config values.
const (
	DefaultSocketMode      os.FileMode = 0o660
	DefaultTimeout                     = 5 * time.Second
	DefaultMaxRequestBytes             = 256
)

// Source is where responses come from. *pip.State implements it.
type Source interface {
	Current() *pip.Snapshot
}

// Logger defines the logging interface used by the listener.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds listener settings.
type Config struct {
	SocketPath      string
	SocketMode      os.FileMode
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRequestBytes int

	// MaxConnRate limits accepted connections per second. Zero disables it.
	MaxConnRate float64
	// ConnBurst is the limiter burst; it defaults to one second's worth.
	ConnBurst int
}

// Listener accepts client connections and answers with the current PIP.
//
// Thread Safety:
//   - Serve runs the accept loop; each connection is handled in its own goroutine.
//   - Close may be called from any goroutine.
type Listener struct {
	cfg    Config
	source Source
	logger Logger

	mu      sync.Mutex
	ln      net.Listener
	closing bool

	conns  sync.WaitGroup
	served atomic.Uint64
	failed atomic.Uint64
}

// New creates a Listener answering from source.
func New(cfg Config, source Source) *Listener {
	if cfg.SocketMode == 0 {
		cfg.SocketMode = DefaultSocketMode
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultTimeout
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = DefaultMaxRequestBytes
	}
	return &Listener{cfg: cfg, source: source, logger: noopLogger{}}
}

// SetLogger sets the logger for the listener.
func (l *Listener) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	l.logger = logger
}

// Listen binds the socket. A stale socket file left by a previous run is
// removed; a socket with a live server behind it, or a non-socket file at
// the path, is an error.
func (l *Listener) Listen() error {
	path := l.cfg.SocketPath
	if path == "" {
		return fmt.Errorf("%w: no socket path", ErrAcceptFailed)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: creating socket directory: %w", ErrAcceptFailed, err)
	}
	if err := removeStale(path); err != nil {
		return fmt.Errorf("%w: %w", ErrAcceptFailed, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAcceptFailed, err)
	}
	if err := os.Chmod(path, l.cfg.SocketMode); err != nil {
		_ = ln.Close()
		return fmt.Errorf("%w: setting socket mode: %w", ErrAcceptFailed, err)
	}

	l.mu.Lock()
	l.ln = ln
	l.closing = false
	l.mu.Unlock()

	l.logger.Info("listener bound", "socket", path, "mode", fmt.Sprintf("%#o", l.cfg.SocketMode))
	return nil
}

func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if conn, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		_ = conn.Close()
		return fmt.Errorf("%s is in use by another process", path)
	}
	return os.Remove(path)
}

// Addr returns the bound socket path, or "" before Listen.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}

// Serve accepts connections until ctx is cancelled or Close is called, in
// which case it returns nil once every in-flight connection has finished.
// Listen must have succeeded first.
func (l *Listener) Serve(ctx context.Context) error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("%w: Serve called before Listen", ErrAcceptFailed)
	}

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	defer l.conns.Wait()

	var limiter *rate.Limiter
	if l.cfg.MaxConnRate > 0 {
		burst := l.cfg.ConnBurst
		if burst <= 0 {
			burst = max(1, int(l.cfg.MaxConnRate))
		}
		limiter = rate.NewLimiter(rate.Limit(l.cfg.MaxConnRate), burst)
	}

	l.logger.Info("listener accepting", "socket", l.cfg.SocketPath)
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil //nolint:nilerr // only fails once ctx is done
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if l.isClosing() {
				l.logger.Info("listener stopped", "served", l.served.Load())
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				l.logger.Warn("accept timeout, retrying", "error", err)
				continue
			}
			return fmt.Errorf("%w: %w", ErrAcceptFailed, err)
		}

		l.conns.Add(1)
		go func() {
			defer l.conns.Done()
			l.handle(conn)
		}()
	}
}

func (l *Listener) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

// Close stops accepting and removes the socket file. In-flight connections
// are allowed to finish.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil || l.closing {
		return nil
	}
	l.closing = true
	// net.UnixListener unlinks the socket file on Close.
	return l.ln.Close()
}

// Served returns the number of connections answered successfully.
func (l *Listener) Served() uint64 {
	return l.served.Load()
}

// Failed returns the number of connections that ended in an error.
func (l *Listener) Failed() uint64 {
	return l.failed.Load()
}

// handle serves one connection. Errors are logged and end only this
// connection.
func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	if err := l.serveConn(conn); err != nil {
		l.failed.Add(1)
		l.logger.Warn("connection failed", "conn_id", connID, "error", err)
		return
	}
	l.served.Add(1)
	l.logger.Debug("connection served", "conn_id", connID)
}

func (l *Listener) serveConn(conn net.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}

	line, err := readLine(conn, l.cfg.MaxRequestBytes)
	if err != nil && !errors.Is(err, ErrMalformedRequest) {
		return fmt.Errorf("reading request: %w", err)
	}

	var (
		resp Response
		enc  = EncodingJSON
		perr = err
	)
	if perr == nil {
		var req Request
		req, perr = ParseRequest(line)
		enc = req.Encoding
	}
	if perr != nil {
		resp = errorResponse(perr)
	} else {
		resp = NewResponse(l.source.Current())
	}

	if err := conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := writeResponse(conn, enc, resp); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return perr
}

// readLine reads up to limit bytes terminated by LF. EOF ends the line.
func readLine(r io.Reader, limit int) (string, error) {
	br := bufio.NewReaderSize(io.LimitReader(r, int64(limit)+1), limit+1)
	line, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if len(line) > limit {
		return "", fmt.Errorf("%w: request longer than %d bytes", ErrMalformedRequest, limit)
	}
	return line, nil
}

func writeResponse(w io.Writer, enc Encoding, resp Response) error {
	if enc == EncodingMsgpack {
		return msgpack.NewEncoder(w).Encode(resp)
	}
	return json.NewEncoder(w).Encode(resp)
}
