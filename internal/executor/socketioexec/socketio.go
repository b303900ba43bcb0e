package socketioexec

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/ctxlog"
	"github.com/ClinicalGenomicsGBG/cellophane/internal/executor"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// opResult carries a job's outcome through the done channel, mirroring
// the subprocess backend's (code, error) terminal pair.
type opResult struct {
	response any
	err      error
}

// Backend runs jobs as socket.io event round trips. Job parameters are
// read from Spec.Env: url, namespace, on_event, emit_event, emit_data
// (JSON), timeout, insecure_skip_verify.
type Backend struct {
	mu      sync.Mutex
	dones   map[string]chan opResult
	cancels map[string]context.CancelFunc
}

// New returns a socket.io executor backend, selectable by name "socketio".
func New() *Backend {
	return &Backend{
		dones:   map[string]chan opResult{},
		cancels: map[string]context.CancelFunc{},
	}
}

func (b *Backend) Name() string { return "socketio" }

// Start opens the socket.io connection and registers listeners, returning
// as soon as the connection attempt has been issued; Wait blocks for the
// actual round trip.
func (b *Backend) Start(ctx context.Context, job *executor.Job, spec executor.Spec) error {
	logger := ctxlog.FromContext(ctx).With("job", job.Name, "uuid", job.IDHex()[:8])

	rawURL := spec.Env["url"]
	namespace := spec.Env["namespace"]
	onEvent := spec.Env["on_event"]
	emitEvent := spec.Env["emit_event"]

	timeout := 10 * time.Second
	if t := spec.Env["timeout"]; t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		} else {
			logger.Warn("failed to parse timeout, using default 10s", "timeout", t, "error", err)
		}
	}

	var emitData map[string]any
	if raw := spec.Env["emit_data"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &emitData); err != nil {
			return fmt.Errorf("socketioexec: invalid emit_data: %w", err)
		}
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("socketioexec: invalid url %q: %w", rawURL, err)
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if spec.Env["insecure_skip_verify"] == "true" {
		logger.Warn("skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)

	eventDone := make(chan opResult, 1)
	waitCh := make(chan opResult, 1)
	var connected bool

	io.On(types.EventName("connect"), func(...any) {
		connected = true
		logger.Info("connected", "namespace", namespace, "sid", io.Id())
		if emitEvent != "" {
			io.Emit(emitEvent, emitData)
		}
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				eventDone <- opResult{err: e}
				return
			}
		}
		eventDone <- opResult{err: fmt.Errorf("socketioexec: connect error")}
	})
	io.On(types.EventName(onEvent), func(data ...any) {
		var response any
		if len(data) > 0 {
			response = data[0]
		}
		eventDone <- opResult{response: response}
	})

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	io.Connect()

	b.mu.Lock()
	b.dones[job.IDHex()] = waitCh
	b.cancels[job.IDHex()] = cancel
	b.mu.Unlock()

	go func() {
		defer io.Disconnect()
		select {
		case <-opCtx.Done():
			msg := "timed out while waiting for initial connection"
			if connected {
				msg = fmt.Sprintf("timed out after connecting while waiting for event %q", onEvent)
			}
			waitCh <- opResult{err: fmt.Errorf("socketioexec: %s", msg)}
		case res := <-eventDone:
			waitCh <- res
		}
	}()

	return nil
}

// Wait blocks until the job's round trip completes, returning 0 on a
// successful response and 1 on any error or timeout.
func (b *Backend) Wait(ctx context.Context, job *executor.Job) (int, error) {
	b.mu.Lock()
	waitCh, ok := b.dones[job.IDHex()]
	b.mu.Unlock()
	if !ok {
		return -1, fmt.Errorf("socketioexec: no job tracked for %q", job.Name)
	}

	res := <-waitCh
	b.cleanup(job)
	if res.err != nil {
		return 1, res.err
	}
	return 0, nil
}

// Terminate cancels the in-flight wait, causing it to resolve as a timeout.
func (b *Backend) Terminate(ctx context.Context, job *executor.Job) error {
	b.mu.Lock()
	cancel, ok := b.cancels[job.IDHex()]
	b.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (b *Backend) cleanup(job *executor.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.dones, job.IDHex())
	delete(b.cancels, job.IDHex())
}
