package dto

import (
	"time"

	domainbranch "clinix/internal/domain/branch"
)

type Branch struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BranchList struct {
	Items []Branch `json:"items"`
}

func NewBranch(b domainbranch.Branch) Branch {
	return Branch{
		ID:        b.ID,
		Name:      b.Name,
		Address:   b.Address,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}
