package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	autoerr "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/pkg/models"
)

// fakeEdgeServer accepts connections on a loopback port and hands each one
// to the configured handler.
type fakeEdgeServer struct {
	ln      net.Listener
	wg      sync.WaitGroup
	handler func(conn net.Conn)
}

func startFakeServer(t *testing.T, handler func(conn net.Conn)) *fakeEdgeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeEdgeServer{ln: ln, handler: handler}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handler(conn)
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *fakeEdgeServer) address() string { return s.ln.Addr().String() }

func writeResponse(conn net.Conn, id, code string) {
	resp := models.InferenceResponse{RequestID: id, Status: "success", GeneratedCode: code}
	payload, _ := json.Marshal(resp)
	conn.Write(append(payload, '\n'))
}

func writeStatus(conn net.Conn, state string) {
	fmt.Fprintf(conn, `{"type":"status","service":%q}`+"\n", state)
}

func readRequest(t *testing.T, r *bufio.Reader) models.InferenceRequest {
	t.Helper()
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Errorf("server read: %v", err)
		return models.InferenceRequest{}
	}
	var req models.InferenceRequest
	if err := json.Unmarshal(line, &req); err != nil {
		t.Errorf("server decode: %v", err)
	}
	return req
}

func newRequest(id string) *models.InferenceRequest {
	return &models.InferenceRequest{
		RequestID: id,
		Kind:      models.RequestCodeGeneration,
		Prompt:    "write a function",
		Params:    models.GenerationParams{Temperature: 0.7, MaxTokens: 256, TopP: 0.95},
	}
}

func TestSendRoundTrip(t *testing.T) {
	srv := startFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		req := readRequest(t, r)
		writeResponse(conn, req.RequestID, "func A() {}")
	})

	client := NewEdgeClient(srv.address())
	defer client.Close()

	resp, err := client.Send(context.Background(), newRequest("req-1"), time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", resp.RequestID)
	}
	if resp.GeneratedCode != "func A() {}" {
		t.Errorf("GeneratedCode = %q", resp.GeneratedCode)
	}
	if !resp.OK() {
		t.Error("OK() = false for success response")
	}
}

func TestSendOutOfOrderResponses(t *testing.T) {
	// The server holds the first request and answers the second one first.
	srv := startFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		first := readRequest(t, r)
		second := readRequest(t, r)
		writeResponse(conn, second.RequestID, "second")
		writeResponse(conn, first.RequestID, "first")
	})

	client := NewEdgeClient(srv.address())
	defer client.Close()

	// Prime the connection ordering: send req-a, then req-b shortly after.
	type result struct {
		resp *models.InferenceResponse
		err  error
	}
	resA := make(chan result, 1)
	go func() {
		resp, err := client.Send(context.Background(), newRequest("req-a"), 2*time.Second)
		resA <- result{resp, err}
	}()
	time.Sleep(50 * time.Millisecond)
	respB, errB := client.Send(context.Background(), newRequest("req-b"), 2*time.Second)
	if errB != nil {
		t.Fatalf("Send req-b: %v", errB)
	}
	if respB.GeneratedCode != "second" {
		t.Errorf("req-b got %q, want %q", respB.GeneratedCode, "second")
	}

	a := <-resA
	if a.err != nil {
		t.Fatalf("Send req-a: %v", a.err)
	}
	if a.resp.GeneratedCode != "first" {
		t.Errorf("req-a got %q, want %q", a.resp.GeneratedCode, "first")
	}
}

func TestUnknownCorrelationIDIgnored(t *testing.T) {
	srv := startFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		req := readRequest(t, r)
		writeResponse(conn, "nobody-asked-for-this", "stray")
		writeResponse(conn, req.RequestID, "real")
	})

	client := NewEdgeClient(srv.address())
	defer client.Close()

	resp, err := client.Send(context.Background(), newRequest("req-1"), time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.GeneratedCode != "real" {
		t.Errorf("GeneratedCode = %q, want %q", resp.GeneratedCode, "real")
	}
}

func TestSendTimeout(t *testing.T) {
	srv := startFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		readRequest(t, r)
		// Never respond; hold the connection open past the deadline.
		time.Sleep(500 * time.Millisecond)
	})

	client := NewEdgeClient(srv.address())
	defer client.Close()

	_, err := client.Send(context.Background(), newRequest("req-slow"), 100*time.Millisecond)
	if !errors.Is(err, autoerr.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestCancelUnblocksWaiter(t *testing.T) {
	srv := startFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		readRequest(t, r)
		time.Sleep(time.Second)
	})

	client := NewEdgeClient(srv.address())
	defer client.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), newRequest("req-x"), 5*time.Second)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	client.Cancel("req-x")

	select {
	case err := <-errc:
		if !errors.Is(err, autoerr.ErrCancelled) {
			t.Fatalf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after Cancel")
	}
}

func TestContextCancellation(t *testing.T) {
	srv := startFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		readRequest(t, r)
		time.Sleep(time.Second)
	})

	client := NewEdgeClient(srv.address())
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := client.Send(ctx, newRequest("req-y"), 5*time.Second)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, autoerr.ErrCancelled) {
			t.Fatalf("err = %v, want ErrCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after context cancel")
	}
}

func TestDegradedServiceRejectsSends(t *testing.T) {
	srv := startFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		req := readRequest(t, r)
		writeResponse(conn, req.RequestID, "ok")
		writeStatus(conn, "degraded")
		time.Sleep(time.Second)
	})

	client := NewEdgeClient(srv.address())
	defer client.Close()

	if _, err := client.Send(context.Background(), newRequest("req-1"), time.Second); err != nil {
		t.Fatalf("initial Send: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for client.Available() {
		if time.Now().After(deadline) {
			t.Fatal("client never observed degraded status")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, err := client.Send(context.Background(), newRequest("req-2"), time.Second)
	if !errors.Is(err, autoerr.ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	srv := startFakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		req := readRequest(t, r)
		writeResponse(conn, req.RequestID, "ok")
		conn.Close()
	})

	client := NewEdgeClient(srv.address(), WithReconnect(3, 20*time.Millisecond))
	defer client.Close()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("req-%d", i)
		resp, err := client.Send(context.Background(), newRequest(id), time.Second)
		if err != nil {
			t.Fatalf("Send %s: %v", id, err)
		}
		if resp.RequestID != id {
			t.Errorf("RequestID = %q, want %q", resp.RequestID, id)
		}
		// Give the client time to notice the dropped connection.
		time.Sleep(30 * time.Millisecond)
	}
}

func TestTransportErrorAfterRetriesExhausted(t *testing.T) {
	dialErr := fmt.Errorf("connection refused")
	var attempts int
	var mu sync.Mutex

	client := NewEdgeClient("127.0.0.1:1",
		WithReconnect(2, time.Millisecond),
		WithDialer(func(ctx context.Context, address string) (net.Conn, error) {
			mu.Lock()
			attempts++
			mu.Unlock()
			return nil, dialErr
		}),
	)
	defer client.Close()

	_, err := client.Send(context.Background(), newRequest("req-1"), time.Second)
	if !errors.Is(err, autoerr.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 3 {
		t.Errorf("dial attempts = %d, want 3", got)
	}
}

func TestConnectionLossFailsPending(t *testing.T) {
	srv := startFakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		readRequest(t, r)
		// Drop the connection with the request still outstanding.
		conn.Close()
	})

	client := NewEdgeClient(srv.address(), WithReconnect(0, time.Millisecond))
	defer client.Close()

	_, err := client.Send(context.Background(), newRequest("req-doomed"), 2*time.Second)
	if !errors.Is(err, autoerr.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestProbeRestoresAvailability(t *testing.T) {
	srv := startFakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				return
			}
			if strings.Contains(string(line), `"ping"`) {
				writeStatus(conn, "ready")
			}
		}
	})

	client := NewEdgeClient(srv.address())
	defer client.Close()

	client.setService(serviceOffline)
	if client.Available() {
		t.Fatal("Available() = true while offline")
	}
	if !client.Probe(context.Background()) {
		t.Fatal("Probe failed against live server")
	}
	if !client.Available() {
		t.Error("Available() = false after successful probe")
	}
	_ = srv
}

func TestBuildCloudPromptIncludesChunks(t *testing.T) {
	req := newRequest("req-1")
	req.Chunks = []models.ContextChunk{
		{ID: "a.go:0-9", Source: "a.go", Content: "func A() {}"},
	}
	prompt := buildCloudPrompt(req)
	if !strings.Contains(prompt, "a.go") || !strings.Contains(prompt, "func A() {}") {
		t.Errorf("prompt missing context: %q", prompt)
	}
	if !strings.Contains(prompt, req.Prompt) {
		t.Errorf("prompt missing instruction: %q", prompt)
	}
}

func TestCloudMetadataConversion(t *testing.T) {
	meta := cloudMetadata(1500*time.Millisecond, 42)
	if meta.InferenceTimeMS != 1500 {
		t.Errorf("InferenceTimeMS = %d, want 1500", meta.InferenceTimeMS)
	}
	if meta.TokenCount != 42 {
		t.Errorf("TokenCount = %d, want 42", meta.TokenCount)
	}
	if meta.ConfidenceScore != 1 {
		t.Errorf("ConfidenceScore = %v, want 1", meta.ConfidenceScore)
	}
}
