package memory

import (
	"context"
	"sort"
	"sync"

	domainbranch "clinix/internal/domain/branch"
)

// BranchRepository stores clinic branches in memory.
type BranchRepository struct {
	mu   sync.RWMutex
	byID map[string]*domainbranch.Branch
}

func NewBranchRepository() *BranchRepository {
	return &BranchRepository{byID: make(map[string]*domainbranch.Branch)}
}

func (r *BranchRepository) ByID(ctx context.Context, id string) (*domainbranch.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if branch, ok := r.byID[id]; ok {
		return cloneBranch(branch), nil
	}
	return nil, domainbranch.ErrNotFound
}

func (r *BranchRepository) List(ctx context.Context) ([]domainbranch.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domainbranch.Branch, 0, len(r.byID))
	for _, branch := range r.byID {
		result = append(result, *cloneBranch(branch))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *BranchRepository) Create(ctx context.Context, branch *domainbranch.Branch) error {
	if branch == nil || branch.ID == "" {
		return domainbranch.ErrIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[branch.ID]; ok {
		return domainbranch.ErrAlreadyExist
	}
	r.byID[branch.ID] = cloneBranch(branch)
	return nil
}

func (r *BranchRepository) Save(ctx context.Context, branch *domainbranch.Branch) error {
	if branch == nil || branch.ID == "" {
		return domainbranch.ErrIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[branch.ID]; !ok {
		return domainbranch.ErrNotFound
	}
	r.byID[branch.ID] = cloneBranch(branch)
	return nil
}

func (r *BranchRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return domainbranch.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func cloneBranch(b *domainbranch.Branch) *domainbranch.Branch {
	if b == nil {
		return nil
	}
	copyBranch := *b
	return &copyBranch
}

var _ domainbranch.Repository = (*BranchRepository)(nil)
