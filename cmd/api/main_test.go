package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

// startTestServer listens on an ephemeral port and serves mux until shutdown.
// Returns the address and a channel closed once Serve returns.
func startTestServer(t *testing.T, server *http.Server) (string, chan struct{}) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Errorf("server error: %v", err)
		}
	}()

	return ln.Addr().String(), stopped
}

func TestGracefulShutdown_Clean(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	addr, stopped := startTestServer(t, server)

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("expected clean shutdown, got error: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestGracefulShutdown_WaitsForInFlightRequest(t *testing.T) {
	handlerEntered := make(chan struct{})
	releaseHandler := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/attendance/check-in", func(w http.ResponseWriter, r *http.Request) {
		close(handlerEntered)
		<-releaseHandler
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"ev-1"}`))
	})

	server := &http.Server{Handler: mux}
	addr, stopped := startTestServer(t, server)

	type result struct {
		status int
		body   string
		err    error
	}
	requestDone := make(chan result, 1)
	go func() {
		resp, err := http.Post("http://"+addr+"/attendance/check-in", "application/json", nil)
		if err != nil {
			requestDone <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		requestDone <- result{status: resp.StatusCode, body: string(body)}
	}()

	select {
	case <-handlerEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not reached in time")
	}

	// Begin shutdown while the submission is still being processed.
	shutdownDone := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownDone <- server.Shutdown(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	close(releaseHandler)

	select {
	case res := <-requestDone:
		if res.err != nil {
			t.Fatalf("in-flight request failed: %v", res.err)
		}
		if res.status != http.StatusCreated {
			t.Errorf("expected 201 for in-flight submission, got %d", res.status)
		}
		if res.body != `{"id":"ev-1"}` {
			t.Errorf("unexpected response body: %s", res.body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight request did not complete")
	}

	if err := <-shutdownDone; err != nil {
		t.Errorf("shutdown error: %v", err)
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}

func TestShutdownSignals(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		t.Run(sig.String(), func(t *testing.T) {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			go func() {
				time.Sleep(50 * time.Millisecond)
				syscall.Kill(syscall.Getpid(), sig)
			}()

			select {
			case got := <-quit:
				if got != sig {
					t.Errorf("expected %v, got %v", sig, got)
				}
			case <-time.After(2 * time.Second):
				t.Errorf("did not receive %v in time", sig)
			}
		})
	}
}
