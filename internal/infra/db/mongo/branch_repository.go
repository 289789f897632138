package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainbranch "clinix/internal/domain/branch"
)

type BranchRepository struct {
	col *mongo.Collection
}

func NewBranchRepository(db *mongo.Database) *BranchRepository {
	return &BranchRepository{col: db.Collection("branches")}
}

func (r *BranchRepository) ByID(ctx context.Context, id string) (*domainbranch.Branch, error) {
	var doc branchDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainbranch.ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *BranchRepository) List(ctx context.Context) ([]domainbranch.Branch, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []branchDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	result := make([]domainbranch.Branch, 0, len(docs))
	for _, doc := range docs {
		result = append(result, *doc.toDomain())
	}
	return result, nil
}

func (r *BranchRepository) Create(ctx context.Context, branch *domainbranch.Branch) error {
	if branch == nil || branch.ID == "" {
		return domainbranch.ErrIDRequired
	}
	_, err := r.col.InsertOne(ctx, newBranchDocument(branch))
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return domainbranch.ErrAlreadyExist
	}
	return err
}

func (r *BranchRepository) Save(ctx context.Context, branch *domainbranch.Branch) error {
	if branch == nil || branch.ID == "" {
		return domainbranch.ErrIDRequired
	}
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": branch.ID}, newBranchDocument(branch))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domainbranch.ErrNotFound
	}
	return nil
}

func (r *BranchRepository) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domainbranch.ErrNotFound
	}
	return nil
}

type branchDocument struct {
	ID        string `bson:"_id"`
	Name      string `bson:"name"`
	Address   string `bson:"address"`
	CreatedAt int64  `bson:"created_at"`
	UpdatedAt int64  `bson:"updated_at"`
}

func newBranchDocument(b *domainbranch.Branch) branchDocument {
	return branchDocument{
		ID:        b.ID,
		Name:      b.Name,
		Address:   b.Address,
		CreatedAt: b.CreatedAt.UnixMilli(),
		UpdatedAt: b.UpdatedAt.UnixMilli(),
	}
}

func (d branchDocument) toDomain() *domainbranch.Branch {
	return &domainbranch.Branch{
		ID:        d.ID,
		Name:      d.Name,
		Address:   d.Address,
		CreatedAt: timestampToTime(d.CreatedAt),
		UpdatedAt: timestampToTime(d.UpdatedAt),
	}
}

var _ domainbranch.Repository = (*BranchRepository)(nil)
