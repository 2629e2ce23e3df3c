package workflow

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/niczy/changerequest/internal/approval"
	"github.com/niczy/changerequest/internal/auth"
	"github.com/niczy/changerequest/internal/changerequest"
	"github.com/niczy/changerequest/internal/models"
	changerequestservice "github.com/niczy/changerequest/internal/services/changerequest"
	"github.com/niczy/changerequest/internal/storage"
)

var (
	serviceAddr   string
	cliBinaryPath string
	cliHome       string

	server *grpc.Server
	mr     *miniredis.Miniredis
)

// TestMain starts a Redis-backed service and builds the CLI for all tests.
func TestMain(m *testing.M) {
	if os.Getenv("RUN_INTEGRATION_TESTS") == "" {
		fmt.Println("Skipping integration tests. Set RUN_INTEGRATION_TESTS=1 to run.")
		os.Exit(0)
	}

	var err error
	mr, err = miniredis.Run()
	if err != nil {
		fmt.Printf("Failed to start miniredis: %v\n", err)
		os.Exit(1)
	}

	serviceAddr, server, err = startService(mr.Addr())
	if err != nil {
		fmt.Printf("Failed to start change request service: %v\n", err)
		stopServers()
		os.Exit(1)
	}

	cliBinaryPath, err = buildCLIBinary()
	if err != nil {
		fmt.Printf("Failed to build CLI: %v\n", err)
		stopServers()
		os.Exit(1)
	}

	// Allow the server to bind before running tests
	time.Sleep(100 * time.Millisecond)

	code := m.Run()

	stopServers()
	os.Exit(code)
}

func startService(redisAddr string) (string, *grpc.Server, error) {
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	objects := storage.NewInMemoryObjectStore()
	st := storage.NewRedisStorage(rdb, objects, "workflow")
	docs := storage.NewRedisDocumentStore(rdb, objects, "workflow")

	strategy, err := approval.New(approval.OnlyApproved, 1)
	if err != nil {
		return "", nil, err
	}
	manager := changerequest.NewManager(st, docs, strategy,
		auth.NewPolicyAuthorizer(auth.Policy{Mergers: []string{"mallory", "oscar"}}),
		changerequest.WithLogger(zap.NewNop()),
	)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}

	srv := changerequestservice.NewGRPCServer(manager, docs, zap.NewNop())
	go srv.Serve(lis)

	return lis.Addr().String(), srv, nil
}

func stopServers() {
	if server != nil {
		server.GracefulStop()
	}
	if mr != nil {
		mr.Close()
	}
	if cliBinaryPath != "" {
		_ = os.RemoveAll(filepath.Dir(cliBinaryPath))
	}
}

func buildCLIBinary() (string, error) {
	tmpDir, err := os.MkdirTemp("", "cr-cli-bin-")
	if err != nil {
		return "", err
	}
	cliHome = filepath.Join(tmpDir, "home")

	binaryPath := filepath.Join(tmpDir, "cr")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cr_cli")
	cmd.Dir = ".."
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("build failed: %w\nOutput:\n%s", err, string(output))
	}

	return binaryPath, nil
}

// runCLI executes a CLI command as user, feeding stdin to the process.
func runCLI(user, stdin string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fullArgs := append([]string{"--server", serviceAddr, "--user", user}, args...)
	cmd := exec.CommandContext(ctx, cliBinaryPath, fullArgs...)
	cmd.Env = append(os.Environ(), "HOME="+cliHome)
	cmd.Stdin = strings.NewReader(stdin)

	output, err := cmd.CombinedOutput()
	return string(output), err
}

func runCLIOrFail(t *testing.T, user, stdin string, args ...string) string {
	t.Helper()

	output, err := runCLI(user, stdin, args...)
	if err != nil {
		t.Fatalf("CLI command failed: %v\nOutput:\n%s", err, output)
	}

	return output
}

func extractChangeRequestID(output string) string {
	re := regexp.MustCompile(`Created change request (\S+)`)
	matches := re.FindStringSubmatch(output)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

func extractConflictReferences(output string) []string {
	re := regexp.MustCompile(`(?m)^\s+(\S+@\d+#\d+:[0-9a-f]{8})$`)
	var refs []string
	for _, m := range re.FindAllStringSubmatch(output, -1) {
		refs = append(refs, m[1])
	}
	return refs
}

func uniqueDocument(prefix string) string {
	return fmt.Sprintf("%s.%d", prefix, time.Now().UnixNano())
}

func dialService(t *testing.T, user string) *changerequestservice.Client {
	t.Helper()

	conn, err := grpc.NewClient(serviceAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to dial change request service: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return changerequestservice.NewClient(conn, user)
}

func TestChangeRequestWorkflowEndToEnd(t *testing.T) {
	doc := uniqueDocument("Main.WebHome")

	output := runCLIOrFail(t, "alice", "hello\nworld\n", "doc", "save", doc)
	if !strings.Contains(output, "version 1") {
		t.Fatalf("Expected document creation output, got: %s", output)
	}

	output = runCLIOrFail(t, "alice", "", "create", "Greet everyone", "--description", "integration change")
	id := extractChangeRequestID(output)
	if id == "" {
		t.Fatalf("Failed to extract change request ID from output: %s", output)
	}

	runCLIOrFail(t, "alice", "hello\neveryone\n", "add-file", id, doc, "--base", "1")

	output = runCLIOrFail(t, "alice", "", "status", id, "ready_for_review")
	if !strings.Contains(output, "ready_for_review") {
		t.Fatalf("Expected status change output, got: %s", output)
	}

	if output, err := runCLI("mallory", "", "merge", id); err == nil {
		t.Fatalf("Expected merge without approval to fail, got: %s", output)
	}

	runCLIOrFail(t, "bob", "", "review", id, "--comment", "lgtm")

	output = runCLIOrFail(t, "mallory", "", "can-merge", id)
	if !strings.Contains(output, "Mergeable: true") {
		t.Fatalf("Expected change request to be mergeable, got: %s", output)
	}

	output = runCLIOrFail(t, "mallory", "", "merge", id)
	if !strings.Contains(output, "Merged change request "+id) {
		t.Fatalf("Expected merge success, got: %s", output)
	}

	output = runCLIOrFail(t, "alice", "", "doc", "get", doc)
	if !strings.Contains(output, "version 2") || !strings.Contains(output, "everyone") {
		t.Fatalf("Expected merged document, got: %s", output)
	}

	output = runCLIOrFail(t, "alice", "", "show", id)
	if !strings.Contains(output, "Status:  merged") {
		t.Fatalf("Expected merged status, got: %s", output)
	}
}

func TestNewRevisionInvalidatesReview(t *testing.T) {
	doc := uniqueDocument("Sandbox")
	runCLIOrFail(t, "alice", "one\n", "doc", "save", doc)

	id := extractChangeRequestID(runCLIOrFail(t, "alice", "", "create", "Sandbox edit"))
	runCLIOrFail(t, "alice", "two\n", "add-file", id, doc, "--base", "1")
	runCLIOrFail(t, "alice", "", "status", id, "ready_for_review")
	runCLIOrFail(t, "bob", "", "review", id)
	runCLIOrFail(t, "alice", "", "show", id)
	runCLIOrFail(t, "alice", "three\n", "add-file", id, doc, "--base", "1")

	output := runCLIOrFail(t, "alice", "", "show", id)
	if !strings.Contains(output, "[invalidated]") {
		t.Fatalf("Expected the earlier review to be invalidated, got: %s", output)
	}

	output = runCLIOrFail(t, "mallory", "", "can-merge", id)
	if !strings.Contains(output, "Mergeable: false") {
		t.Fatalf("Expected invalidated review to block merge, got: %s", output)
	}
}

func TestConflictResolutionWorkflow(t *testing.T) {
	doc := uniqueDocument("Conflicts")
	runCLIOrFail(t, "alice", "l1\nl2\nl3\nl4\nl5\n", "doc", "save", doc)

	id := extractChangeRequestID(runCLIOrFail(t, "alice", "", "create", "Edit two lines"))
	runCLIOrFail(t, "alice", "l1\nm2\nl3\nm4\nl5\n", "add-file", id, doc, "--base", "1")
	runCLIOrFail(t, "carol", "l1\nt2\nl3\nt4\nl5\n", "doc", "save", doc, "--expected-version", "1")

	output := runCLIOrFail(t, "alice", "", "merge-result", id, doc)
	refs := extractConflictReferences(output)
	if len(refs) != 2 {
		t.Fatalf("Expected 2 conflict references, got %v from: %s", refs, output)
	}

	runCLIOrFail(t, "alice", "", "status", id, "ready_for_review")
	runCLIOrFail(t, "bob", "", "review", id)

	output = runCLIOrFail(t, "mallory", "", "can-merge", id)
	if !strings.Contains(output, "Mergeable: false") {
		t.Fatalf("Expected conflicts to block merge, got: %s", output)
	}

	runCLIOrFail(t, "alice", "", "show", id)
	runCLIOrFail(t, "alice", "", "fix", id, doc, "--decide", refs[0]+"=current", "--choice", "mine")

	output = runCLIOrFail(t, "alice", "", "merge-result", id, doc)
	if !strings.Contains(output, "Clean merge") {
		t.Fatalf("Expected clean merge after fixing, got: %s", output)
	}
	for _, want := range []string{"t2", "m4"} {
		if !strings.Contains(output, want) {
			t.Fatalf("Expected %s in merged document, got: %s", want, output)
		}
	}

	// The fix was a new revision so the approval must be renewed.
	runCLIOrFail(t, "bob", "", "review", id)
	runCLIOrFail(t, "mallory", "", "merge", id)

	output = runCLIOrFail(t, "alice", "", "doc", "get", doc)
	if !strings.Contains(output, "t2") || !strings.Contains(output, "m4") {
		t.Fatalf("Expected resolved document, got: %s", output)
	}
}

func TestConcurrentMergesHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	alice := dialService(t, "alice")
	doc := uniqueDocument("Race")

	if _, err := alice.SaveDocument(ctx, doc, 0, []string{"a", "b"}); err != nil {
		t.Fatalf("failed to save document: %v", err)
	}
	cr, err := alice.CreateChangeRequest(ctx, "Race", "")
	if err != nil {
		t.Fatalf("failed to create change request: %v", err)
	}
	added, err := alice.AddFileChange(ctx, &changerequestservice.AddFileChangeRequest{
		ChangeRequestID: cr.ID, Target: doc, PreviousVersion: 1, Lines: []string{"a", "c"},
	})
	if err != nil || !added.Allowed {
		t.Fatalf("failed to add file change: %v", err)
	}
	if _, err := alice.SetStatus(ctx, &changerequestservice.SetStatusRequest{
		ChangeRequestID: cr.ID, Status: models.StatusReadyForReview,
	}); err != nil {
		t.Fatalf("failed to set status: %v", err)
	}
	if _, err := alice.As("bob").AddReview(ctx, &changerequestservice.AddReviewRequest{
		ChangeRequestID: cr.ID, Approved: true,
	}); err != nil {
		t.Fatalf("failed to review: %v", err)
	}

	loaded, err := alice.GetChangeRequest(ctx, cr.ID)
	if err != nil {
		t.Fatalf("failed to load change request: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		merged  int
		aborted int
	)
	for _, user := range []string{"mallory", "oscar"} {
		wg.Add(1)
		go func(client *changerequestservice.Client) {
			defer wg.Done()
			resp, err := client.Merge(ctx, &changerequestservice.MergeRequest{ChangeRequestID: loaded.ID, Version: loaded.Version})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && resp.Merged:
				merged++
			case status.Code(err) == codes.Aborted:
				aborted++
			default:
				t.Errorf("unexpected merge outcome: resp=%+v err=%v", resp, err)
			}
		}(dialService(t, user))
	}
	wg.Wait()

	if merged != 1 || aborted != 1 {
		t.Fatalf("expected one merge and one stale rejection, got merged=%d aborted=%d", merged, aborted)
	}

	current, err := alice.GetDocument(ctx, doc)
	if err != nil {
		t.Fatalf("failed to get document: %v", err)
	}
	if current.Version != 2 {
		t.Fatalf("expected exactly one document write, got version %d", current.Version)
	}
}
