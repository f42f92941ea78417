package vcs

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"
)

type gitRepository struct {
	log  logrus.FieldLogger
	path string
	repo *git.Repository
}

// Ensure interface compliance.
var _ Repository = (*gitRepository)(nil)

// Open opens an existing working copy at path.
func Open(log logrus.FieldLogger, path string) (Repository, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}

	return &gitRepository{
		log:  log.WithField("component", "vcs"),
		path: path,
		repo: repo,
	}, nil
}

// Clone clones url into path and opens the result.
func Clone(ctx context.Context, log logrus.FieldLogger, url, path string) (Repository, error) {
	log.WithFields(logrus.Fields{
		"url":  url,
		"path": path,
	}).Info("Cloning repository")

	repo, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{URL: url})
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", url, err)
	}

	return &gitRepository{
		log:  log.WithField("component", "vcs"),
		path: path,
		repo: repo,
	}, nil
}

// OpenOrClone opens path, cloning url into it first when path holds no repository.
func OpenOrClone(ctx context.Context, log logrus.FieldLogger, url, path string) (Repository, error) {
	r, err := Open(log, path)
	if err == nil || url == "" {
		return r, err
	}

	return Clone(ctx, log, url, path)
}

func (g *gitRepository) Path() string {
	return g.path
}

func (g *gitRepository) Checkout(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h, err := g.resolve(hash)
	if err != nil {
		return err
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{Hash: h, Force: true}); err != nil {
		return fmt.Errorf("checking out %s: %w", h, err)
	}

	g.log.WithField("commit", h.String()).Debug("Checked out commit")

	return nil
}

func (g *gitRepository) ModifiedFiles(ctx context.Context, hash string) ([]ModifiedFile, error) {
	h, err := g.resolve(hash)
	if err != nil {
		return nil, err
	}

	commit, err := g.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", h, err)
	}

	if commit.NumParents() > 1 {
		return nil, nil
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading tree of %s: %w", h, err)
	}

	parentTree := &object.Tree{}

	if commit.NumParents() == 1 {
		parent, err := commit.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("loading parent of %s: %w", h, err)
		}

		if parentTree, err = parent.Tree(); err != nil {
			return nil, fmt.Errorf("loading parent tree of %s: %w", h, err)
		}
	}

	patch, err := parentTree.PatchContext(ctx, tree)
	if err != nil {
		return nil, fmt.Errorf("diffing %s: %w", h, err)
	}

	filePatches := patch.FilePatches()
	files := make([]ModifiedFile, 0, len(filePatches))

	for _, fp := range filePatches {
		files = append(files, fileFromPatch(fp))
	}

	return files, nil
}

// fileFromPatch counts added and deleted lines the way git's numstat does,
// a trailing line without newline still counts.
func fileFromPatch(fp fdiff.FilePatch) ModifiedFile {
	var mf ModifiedFile

	from, to := fp.Files()
	if from != nil {
		mf.OldPath = from.Path()
	}

	if to != nil {
		mf.NewPath = to.Path()
	}

	for _, chunk := range fp.Chunks() {
		content := chunk.Content()
		if content == "" {
			continue
		}

		lines := strings.Count(content, "\n")
		if !strings.HasSuffix(content, "\n") {
			lines++
		}

		switch chunk.Type() {
		case fdiff.Add:
			mf.Added += lines
		case fdiff.Delete:
			mf.Deleted += lines
		}
	}

	return mf
}

func (g *gitRepository) Commit(_ context.Context, rev string) (*Commit, error) {
	h, err := g.resolve(rev)
	if err != nil {
		return nil, err
	}

	c, err := g.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", h, err)
	}

	converted := toCommit(c)

	return &converted, nil
}

func (g *gitRepository) Commits(ctx context.Context, r Range) ([]Commit, error) {
	to := r.To
	if to == "" {
		to = "HEAD"
	}

	toHash, err := g.resolve(to)
	if err != nil {
		return nil, err
	}

	var stop plumbing.Hash

	if r.From != "" {
		fromHash, err := g.resolve(r.From)
		if err != nil {
			return nil, err
		}

		stop = fromHash
	}

	current, err := g.repo.CommitObject(toHash)
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", toHash, err)
	}

	var newestFirst []Commit

	for current != nil && current.Hash != stop {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		newestFirst = append(newestFirst, toCommit(current))

		if current.NumParents() == 0 {
			break
		}

		if current, err = current.Parent(0); err != nil {
			return nil, fmt.Errorf("walking history: %w", err)
		}
	}

	commits := make([]Commit, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		commits = append(commits, newestFirst[i])
	}

	if r.Max > 0 && len(commits) > r.Max {
		commits = commits[:r.Max]
	}

	return commits, nil
}

func (g *gitRepository) resolve(rev string) (plumbing.Hash, error) {
	h, err := g.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolving revision %q: %w", rev, err)
	}

	return *h, nil
}

func toCommit(c *object.Commit) Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}

	subject, _, _ := strings.Cut(c.Message, "\n")

	return Commit{
		Hash:    c.Hash.String(),
		Parents: parents,
		Author:  c.Author.Name,
		When:    c.Author.When,
		Subject: subject,
	}
}
