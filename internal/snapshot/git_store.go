// Package snapshot implements the SnapshotStore over a shadow git repository.
//
// The object database lives in a directory outside the workspace and the
// workspace itself is used as the worktree, so a workspace that is already a
// git repository keeps its own .git untouched. Snapshot ids are commit hashes.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

const (
	authorName  = "wavequorum"
	authorEmail = "wavequorum@localhost"
)

// captureAll is appended after the workspace's own ignore rules. The last
// matching pattern wins, so .gitignore never hides a file from a snapshot.
var captureAll = gitignore.ParsePattern("!*", nil)

// GitStore is a domain.SnapshotStore. All operations are serialized.
type GitStore struct {
	mu        sync.Mutex
	repo      *git.Repository
	workspace string
	now       func() time.Time
}

var _ domain.SnapshotStore = (*GitStore)(nil)

// Open opens the shadow repository in snapshotDir, initializing it on first
// use, with workspace as its worktree.
func Open(workspace, snapshotDir string) (*GitStore, error) {
	ws, err := filepath.Abs(workspace)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrWorkspaceInvalid.Code, "resolve workspace", err)
	}
	sd, err := filepath.Abs(snapshotDir)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrWorkspaceInvalid.Code, "resolve snapshot dir", err)
	}
	if within(ws, sd) {
		return nil, domain.NewEngineError(domain.ErrWorkspaceInvalid.Code,
			fmt.Sprintf("snapshot dir %s must not be inside workspace %s", sd, ws))
	}
	info, err := os.Stat(ws)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrWorkspaceInvalid.Code, "stat workspace", err)
	}
	if !info.IsDir() {
		return nil, domain.NewEngineError(domain.ErrWorkspaceInvalid.Code, ws+" is not a directory")
	}
	if err := os.MkdirAll(sd, 0o755); err != nil {
		return nil, domain.WrapEngineError(domain.ErrSnapshotFailed.Code, "create snapshot dir", err)
	}

	storer := filesystem.NewStorage(osfs.New(sd), cache.NewObjectLRUDefault())
	repo, err := git.Open(storer, osfs.New(ws))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		// Init without a worktree so no .git link file is written into the workspace.
		if _, err = git.Init(storer, nil); err == nil {
			repo, err = git.Open(storer, osfs.New(ws))
		}
	}
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrSnapshotFailed.Code, "open shadow repository", err)
	}
	return &GitStore{repo: repo, workspace: ws, now: time.Now}, nil
}

// Workspace returns the absolute workspace path.
func (s *GitStore) Workspace() string { return s.workspace }

// Create checkpoints the current workspace content. An unchanged workspace
// yields the latest snapshot id instead of a new entry.
func (s *GitStore) Create(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wt, err := s.worktree()
	if err != nil {
		return "", err
	}

	head, err := s.head()
	if err != nil {
		return "", err
	}
	if !head.IsZero() {
		status, err := wt.Status()
		if err != nil {
			return "", s.fail("workspace status", err)
		}
		if status.IsClean() {
			return head.String(), nil
		}
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", s.fail("stage workspace", err)
	}
	h, err := wt.Commit(message, &git.CommitOptions{
		Author:            s.signature(),
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", s.fail("commit snapshot", err)
	}
	return h.String(), nil
}

// RevertToLatest restores the workspace to the newest snapshot.
func (s *GitStore) RevertToLatest(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.head()
	if err != nil {
		return err
	}
	if head.IsZero() {
		return domain.ErrNoSnapshots
	}
	return s.restore(head)
}

// RevertTo restores the workspace to snapshot id. When id is not the latest
// snapshot a "revert to <id>" snapshot is appended so history is never
// rewritten by a revert.
func (s *GitStore) RevertTo(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, err := s.chain(0)
	if err != nil {
		return err
	}
	idx := indexOf(chain, id)
	if idx < 0 {
		return domain.NewEngineError(domain.ErrUnknownSnapshot.Code, fmt.Sprintf("%s: %s", domain.ErrUnknownSnapshot.Message, id))
	}
	if idx == 0 {
		return s.restore(chain[0].Hash)
	}

	target := chain[idx]
	sig := s.signature()
	h, err := s.writeCommit(&object.Commit{
		Author:       *sig,
		Committer:    *sig,
		Message:      "revert to " + id,
		TreeHash:     target.TreeHash,
		ParentHashes: []plumbing.Hash{chain[0].Hash},
	})
	if err != nil {
		return err
	}
	if err := s.moveHead(h); err != nil {
		return err
	}
	return s.restore(h)
}

// Squash collapses the inclusive range fromID..toID (fromID older) into one
// snapshot holding toID's content and re-parents every later snapshot onto
// it. Workspace content is untouched.
func (s *GitStore) Squash(ctx context.Context, fromID, toID, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, err := s.chain(0)
	if err != nil {
		return "", err
	}
	iFrom, iTo := indexOf(chain, fromID), indexOf(chain, toID)
	switch {
	case iFrom < 0:
		return "", domain.NewEngineError(domain.ErrUnknownSnapshot.Code, fmt.Sprintf("%s: %s", domain.ErrUnknownSnapshot.Message, fromID))
	case iTo < 0:
		return "", domain.NewEngineError(domain.ErrUnknownSnapshot.Code, fmt.Sprintf("%s: %s", domain.ErrUnknownSnapshot.Message, toID))
	case iTo > iFrom:
		return "", domain.NewEngineError(domain.ErrSnapshotRange.Code,
			fmt.Sprintf("%s: %s is newer than %s", domain.ErrSnapshotRange.Message, fromID, toID))
	}
	if message == "" {
		message = fmt.Sprintf("squash %s..%s", short(fromID), short(toID))
	}

	var parents []plumbing.Hash
	if from := chain[iFrom]; len(from.ParentHashes) > 0 {
		parents = []plumbing.Hash{from.ParentHashes[0]}
	}
	sig := s.signature()
	squashed, err := s.writeCommit(&object.Commit{
		Author:       *sig,
		Committer:    *sig,
		Message:      message,
		TreeHash:     chain[iTo].TreeHash,
		ParentHashes: parents,
	})
	if err != nil {
		return "", err
	}

	tip := squashed
	for i := iTo - 1; i >= 0; i-- {
		c := chain[i]
		tip, err = s.writeCommit(&object.Commit{
			Author:       c.Author,
			Committer:    c.Committer,
			Message:      c.Message,
			TreeHash:     c.TreeHash,
			ParentHashes: []plumbing.Hash{tip},
		})
		if err != nil {
			return "", err
		}
	}
	if err := s.moveHead(tip); err != nil {
		return "", err
	}
	return squashed.String(), nil
}

// History returns snapshots newest first along first-parent history.
// limit <= 0 returns all.
func (s *GitStore) History(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, err := s.chain(limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Snapshot, 0, len(chain))
	for _, c := range chain {
		snap := domain.Snapshot{
			ID:        c.Hash.String(),
			Message:   strings.TrimSpace(c.Message),
			CreatedAt: c.Committer.When,
		}
		if len(c.ParentHashes) > 0 {
			snap.ParentID = c.ParentHashes[0].String()
		}
		out = append(out, snap)
	}
	return out, nil
}

// head returns the current snapshot hash, or the zero hash before the first
// snapshot.
func (s *GitStore) head() (plumbing.Hash, error) {
	ref, err := s.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, s.fail("resolve head", err)
	}
	return ref.Hash(), nil
}

// chain walks first-parent history from head, newest first.
func (s *GitStore) chain(limit int) ([]*object.Commit, error) {
	h, err := s.head()
	if err != nil {
		return nil, err
	}
	var out []*object.Commit
	for !h.IsZero() && (limit <= 0 || len(out) < limit) {
		c, err := s.repo.CommitObject(h)
		if err != nil {
			return nil, s.fail("read snapshot "+h.String(), err)
		}
		out = append(out, c)
		h = plumbing.ZeroHash
		if len(c.ParentHashes) > 0 {
			h = c.ParentHashes[0]
		}
	}
	return out, nil
}

// worktree opens the workspace with .gitignore rules neutralized.
func (s *GitStore) worktree() (*git.Worktree, error) {
	wt, err := s.repo.Worktree()
	if err != nil {
		return nil, s.fail("open worktree", err)
	}
	wt.Excludes = append(wt.Excludes, captureAll)
	return wt, nil
}

func (s *GitStore) restore(h plumbing.Hash) error {
	wt, err := s.worktree()
	if err != nil {
		return err
	}
	if err := wt.Reset(&git.ResetOptions{Commit: h, Mode: git.HardReset}); err != nil {
		return s.fail("reset workspace", err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return s.fail("clean workspace", err)
	}
	return nil
}

func (s *GitStore) writeCommit(c *object.Commit) (plumbing.Hash, error) {
	obj := s.repo.Storer.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, s.fail("encode snapshot", err)
	}
	h, err := s.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, s.fail("store snapshot", err)
	}
	return h, nil
}

// moveHead points the branch HEAD refers to at h.
func (s *GitStore) moveHead(h plumbing.Hash) error {
	ref, err := s.repo.Head()
	if err != nil {
		return s.fail("resolve head", err)
	}
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(ref.Name(), h)); err != nil {
		return s.fail("update head", err)
	}
	return nil
}

func (s *GitStore) signature() *object.Signature {
	return &object.Signature{Name: authorName, Email: authorEmail, When: s.now()}
}

func (s *GitStore) fail(op string, err error) error {
	return domain.WrapEngineError(domain.ErrSnapshotFailed.Code, op, err)
}

func indexOf(chain []*object.Commit, id string) int {
	if !plumbing.IsHash(id) {
		return -1
	}
	h := plumbing.NewHash(id)
	for i, c := range chain {
		if c.Hash == h {
			return i
		}
	}
	return -1
}

// within reports whether path equals root or lies below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
