package server

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/wrapl/minilang-sub003/compiler"
	"github.com/wrapl/minilang-sub003/pkg/bytecode"
	"github.com/wrapl/minilang-sub003/pkg/cache"
	"github.com/wrapl/minilang-sub003/vm"
)

func newTestCompiler() *compiler.Compiler {
	return compiler.New(
		compiler.WithGlobals(vm.Prelude()),
		compiler.WithEvaluator(vm.NewEvaluator()),
	)
}

func newTestWorker(t *testing.T, cc *cache.Cache) *Worker {
	t.Helper()
	return NewWorker(newTestCompiler(), cc, "test", 4)
}

// startServer serves w over an in-memory listener and returns a client.
func startServer(t *testing.T, w *Worker) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := New(w)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestCompileRPC(t *testing.T) {
	client := startServer(t, newTestWorker(t, nil))

	resp, err := client.Compile(context.Background(), "test", "let x := 1 + 2\nx * x")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if resp.Code == nil {
		t.Fatal("Compile returned no code")
	}
	if resp.Cached {
		t.Error("first compile reported as cached")
	}
	fn, err := bytecode.Unmarshal(resp.Code)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got := bytecode.Disassemble(fn); got != resp.Listing {
		t.Errorf("listing mismatch:\n%s\n---\n%s", got, resp.Listing)
	}
	if err := bytecode.Verify(fn); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestCompileRPCHostValue(t *testing.T) {
	client := startServer(t, newTestWorker(t, nil))

	resp, err := client.Compile(context.Background(), "test", "tuple(1, 2)")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if resp.Code != nil {
		t.Error("function embedding a builtin was encoded")
	}
	if !strings.Contains(resp.Listing, "tuple") {
		t.Errorf("listing does not mention tuple:\n%s", resp.Listing)
	}
	if _, err := client.CompileFunc(context.Background(), "test", "tuple(1, 2)"); !errors.Is(err, bytecode.ErrUnencodable) {
		t.Errorf("CompileFunc error = %v, want ErrUnencodable", err)
	}
}

func TestCompileRPCError(t *testing.T) {
	client := startServer(t, newTestWorker(t, nil))

	_, err := client.Compile(context.Background(), "test", "1 +")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Compile error code = %v, want InvalidArgument (%v)", status.Code(err), err)
	}
	if !strings.Contains(status.Convert(err).Message(), "syntax error") {
		t.Errorf("message = %q", status.Convert(err).Message())
	}
}

func TestCompileRPCCached(t *testing.T) {
	cc, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cc.Close()
	client := startServer(t, newTestWorker(t, cc))

	ctx := context.Background()
	first, err := client.Compile(ctx, "test", "2 * 21")
	if err != nil {
		t.Fatal(err)
	}
	second, err := client.Compile(ctx, "test", "2 * 21")
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached || !second.Cached {
		t.Errorf("Cached = %v, %v, want false, true", first.Cached, second.Cached)
	}
	if first.Listing != second.Listing {
		t.Errorf("cached listing differs:\n%s\n---\n%s", first.Listing, second.Listing)
	}
}

func TestCheckRPC(t *testing.T) {
	client := startServer(t, newTestWorker(t, nil))
	ctx := context.Background()

	diags, err := client.Check(ctx, "test", "1 + 2")
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != 0 {
		t.Errorf("Check of valid source = %+v, want none", diags)
	}

	diags, err = client.Check(ctx, "test", "1 +\n  nope")
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != 1 {
		t.Fatalf("Check returned %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if d.Category != "name" || d.Line != 2 || d.Source != "test" {
		t.Errorf("diagnostic = %+v", d)
	}
	if !strings.Contains(d.Message, "nope") {
		t.Errorf("message = %q, want it to mention nope", d.Message)
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := newTestWorker(t, nil)
	defer w.Stop()

	_, err := w.Do(context.Background(), func(*compiler.Compiler) (any, error) {
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Do error = %v, want panic message", err)
	}
	if err := w.Check(context.Background(), "test", "1"); err != nil {
		t.Errorf("worker unusable after panic: %v", err)
	}
}

func TestWorkerStopped(t *testing.T) {
	w := newTestWorker(t, nil)
	w.Stop()
	if err := w.Check(context.Background(), "test", "1"); !errors.Is(err, ErrStopped) {
		t.Errorf("Check after Stop = %v, want ErrStopped", err)
	}
}

func TestWorkerCancelled(t *testing.T) {
	w := newTestWorker(t, nil)
	defer w.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := w.Compile(ctx, "test", "1"); err == nil {
		t.Error("Compile with cancelled context succeeded")
	}
}
