package gcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
)

var (
	ErrDocNotFound = errors.New("document not found")
	ErrDocExists   = errors.New("document already exists")
)

type Document struct {
	ID   string
	Data map[string]any
}

type MergeOp struct {
	Collection string
	ID         string
	Fields     map[string]any
}

// Page is one slice of a containment query. NextCursor is empty on the final
// page (a short page also signals the end).
type Page struct {
	Docs       []Document
	NextCursor string
}

// DocumentStore is the capability surface over the document database. All
// writes are merges keyed by document id; BatchMerge commits atomically.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Create(ctx context.Context, collection, id string, data map[string]any) error
	Merge(ctx context.Context, collection, id string, fields map[string]any) error
	QueryArrayContains(ctx context.Context, collection, field string, value any, pageSize int, cursor string) (*Page, error)
	BatchMerge(ctx context.Context, ops []MergeOp) error
}

type documentStore struct {
	log    *logger.Logger
	client *firestore.Client
}

func NewDocumentStore(log *logger.Logger, projectID string) (DocumentStore, error) {
	serviceLog := log.With("service", "DocumentStore")
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	client, err := firestore.NewClient(context.Background(), projectID, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &documentStore{log: serviceLog, client: client}, nil
}

func (ds *documentStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	snap, err := ds.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrDocNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return &Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (ds *documentStore) Create(ctx context.Context, collection, id string, data map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := ds.client.Collection(collection).Doc(id).Create(ctx, data)
	if status.Code(err) == codes.AlreadyExists {
		return ErrDocExists
	}
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	return nil
}

func (ds *documentStore) Merge(ctx context.Context, collection, id string, fields map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// MergeAll walks nested maps down to leaf field paths, so partial media
	// updates never clobber sibling fields.
	_, err := ds.client.Collection(collection).Doc(id).Set(ctx, fields, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("merge %s/%s: %w", collection, id, err)
	}
	return nil
}

func (ds *documentStore) QueryArrayContains(ctx context.Context, collection, field string, value any, pageSize int, cursor string) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	q := ds.client.Collection(collection).
		Where(field, "array-contains", value).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize)
	if cursor != "" {
		q = q.StartAfter(cursor)
	}

	it := q.Documents(ctx)
	defer it.Stop()

	page := &Page{}
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query %s where %s contains %v: %w", collection, field, value, err)
		}
		page.Docs = append(page.Docs, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	if len(page.Docs) == pageSize {
		page.NextCursor = page.Docs[len(page.Docs)-1].ID
	}
	return page, nil
}

func (ds *documentStore) BatchMerge(ctx context.Context, ops []MergeOp) error {
	if len(ops) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	// One atomic commit per call; the reconciler scopes atomicity to a page.
	batch := ds.client.Batch()
	for _, op := range ops {
		batch.Set(ds.client.Collection(op.Collection).Doc(op.ID), op.Fields, firestore.MergeAll)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("batch merge (%d ops): %w", len(ops), err)
	}
	return nil
}
