package counter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	planerrors "github.com/planloop/planloop/internal/errors"
)

// Default locations for the shared counter document
const (
	DefaultSyncBranch = "planloop-sync"
	DefaultRemote     = "origin"
	countersFileName  = "counters.json"
)

// GitStore keeps the counter document on a dedicated branch of the
// project's git remote. The branch head commit is the version token; a
// conditional write is a push guarded by force-with-lease, which the
// remote rejects when the branch advanced concurrently. This gives
// compare-and-swap semantics without any coordination service beyond the
// git remote itself.
type GitStore struct {
	// Dir is the working copy the git commands run in
	Dir string

	// Remote and Branch name the sync branch location
	Remote string
	Branch string
}

// NewGitStore creates a GitStore for the working copy at dir
func NewGitStore(dir string) *GitStore {
	return &GitStore{Dir: dir, Remote: DefaultRemote, Branch: DefaultSyncBranch}
}

// Load implements Store. The version token is the fetched head commit.
func (g *GitStore) Load(ctx context.Context) (State, string, error) {
	if err := g.git(ctx, nil, nil, "fetch", "--quiet", g.Remote, "refs/heads/"+g.Branch); err != nil {
		if isMissingRef(err) {
			return State{}, "", ErrNotInitialized
		}
		return State{}, "", fmt.Errorf("fetch sync branch: %w", err)
	}

	var sha bytes.Buffer
	if err := g.git(ctx, nil, &sha, "rev-parse", "FETCH_HEAD"); err != nil {
		return State{}, "", fmt.Errorf("resolve sync branch head: %w", err)
	}
	version := strings.TrimSpace(sha.String())

	var doc bytes.Buffer
	if err := g.git(ctx, nil, &doc, "show", version+":"+countersFileName); err != nil {
		return State{}, "", ErrNotInitialized
	}

	var state State
	if err := json.Unmarshal(doc.Bytes(), &state); err != nil {
		return State{}, "", planerrors.NewFileUnmarshalError(countersFileName, "JSON", err)
	}
	return state, version, nil
}

// CompareAndSwap implements Store. An empty expectedVersion creates the
// sync branch; the plain (non-forced) push is rejected when another
// working copy created it first.
func (g *GitStore) CompareAndSwap(ctx context.Context, expectedVersion string, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal counter state: %w", err)
	}
	data = append(data, '\n')

	var blob bytes.Buffer
	if err := g.git(ctx, bytes.NewReader(data), &blob, "hash-object", "-w", "--stdin"); err != nil {
		return fmt.Errorf("write counter blob: %w", err)
	}
	blobSHA := strings.TrimSpace(blob.String())

	treeEntry := fmt.Sprintf("100644 blob %s\t%s\n", blobSHA, countersFileName)
	var tree bytes.Buffer
	if err := g.git(ctx, strings.NewReader(treeEntry), &tree, "mktree"); err != nil {
		return fmt.Errorf("build counter tree: %w", err)
	}
	treeSHA := strings.TrimSpace(tree.String())

	commitArgs := []string{"commit-tree", treeSHA, "-m", "planloop: advance counters"}
	if expectedVersion != "" {
		commitArgs = append(commitArgs, "-p", expectedVersion)
	}
	var commit bytes.Buffer
	if err := g.git(ctx, nil, &commit, commitArgs...); err != nil {
		return fmt.Errorf("create counter commit: %w", err)
	}
	commitSHA := strings.TrimSpace(commit.String())

	pushArgs := []string{"push", "--quiet"}
	if expectedVersion != "" {
		pushArgs = append(pushArgs, fmt.Sprintf("--force-with-lease=refs/heads/%s:%s", g.Branch, expectedVersion))
	}
	pushArgs = append(pushArgs, g.Remote, commitSHA+":refs/heads/"+g.Branch)

	if err := g.git(ctx, nil, nil, pushArgs...); err != nil {
		if isRejectedPush(err) {
			return ErrConflict
		}
		return fmt.Errorf("push counter commit: %w", err)
	}
	return nil
}

// gitError carries stderr so rejection detection can inspect it
type gitError struct {
	args   []string
	stderr string
	cause  error
}

func (e *gitError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.args, " "), e.cause)
	if e.stderr != "" {
		msg += ": " + e.stderr
	}
	return msg
}

func (e *gitError) Unwrap() error { return e.cause }

func (g *GitStore) git(ctx context.Context, stdin io.Reader, stdout *bytes.Buffer, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.Dir}, args...)...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &gitError{args: args, stderr: strings.TrimSpace(stderr.String()), cause: err}
	}
	return nil
}

func isMissingRef(err error) bool {
	var ge *gitError
	if !errors.As(err, &ge) {
		return false
	}
	s := ge.stderr
	return strings.Contains(s, "couldn't find remote ref") ||
		strings.Contains(s, "does not exist") ||
		strings.Contains(s, "invalid object name")
}

func isRejectedPush(err error) bool {
	var ge *gitError
	if !errors.As(err, &ge) {
		return false
	}
	s := ge.stderr
	return strings.Contains(s, "rejected") ||
		strings.Contains(s, "stale info") ||
		strings.Contains(s, "fetch first") ||
		strings.Contains(s, "failed to push")
}
