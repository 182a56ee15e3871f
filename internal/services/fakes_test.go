package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/auth"
	"github.com/dmitrijs2005/medkeeper/internal/blobstore"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/keys"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/records"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/documents"
	recrepo "github.com/dmitrijs2005/medkeeper/internal/repositories/records"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/users"
	"github.com/stretchr/testify/require"
)

// fakeDB keeps every table in memory; the repositories it hands out ignore
// the DBTX they are bound to.
type fakeDB struct {
	mu        sync.Mutex
	users     map[string]*models.User
	records   map[string]*models.StoredRecord
	documents map[string]*models.Document
	docErr    error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:     map[string]*models.User{},
		records:   map[string]*models.StoredRecord{},
		documents: map[string]*models.Document{},
	}
}

func (f *fakeDB) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f *fakeDB) Users(dbx.DBTX) users.Repository          { return (*fakeUsers)(f) }
func (f *fakeDB) Records(dbx.DBTX) recrepo.Repository      { return (*fakeRecords)(f) }
func (f *fakeDB) Documents(dbx.DBTX) documents.Repository  { return (*fakeDocuments)(f) }

type fakeUsers fakeDB

func (f *fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *u
	c.CreatedAt = time.Now()
	f.users[u.ID] = &c
	out := c
	return &out, nil
}

func (f *fakeUsers) GetByUserName(_ context.Context, name string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.UserName == name {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) UpdateRole(_ context.Context, id, role string, custom []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Role = role
	u.CustomPermissions = custom
	return nil
}

func (f *fakeUsers) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Active = active
	return nil
}

type fakeRecords fakeDB

func (f *fakeRecords) Create(_ context.Context, r *models.StoredRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *r
	f.records[r.ID] = &c
	return nil
}

func (f *fakeRecords) Update(_ context.Context, r *models.StoredRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.records[r.ID]
	if !ok || old.OwnerID != r.OwnerID {
		return common.ErrorNotFound
	}
	c := *r
	f.records[r.ID] = &c
	return nil
}

func (f *fakeRecords) Get(_ context.Context, id string) (*models.StoredRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *r
	return &c, nil
}

func (f *fakeRecords) ListByOwner(_ context.Context, owner string) ([]*models.StoredRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StoredRecord
	for _, r := range f.records {
		if r.OwnerID == owner {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	return out, nil
}

type fakeDocuments fakeDB

func (f *fakeDocuments) Create(_ context.Context, d *models.Document) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docErr != nil {
		return nil, f.docErr
	}
	c := *d
	c.CreatedAt = time.Now()
	f.documents[d.ID] = &c
	out := c
	return &out, nil
}

func (f *fakeDocuments) Get(_ context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *d
	return &c, nil
}

func (f *fakeDocuments) ListByRecord(_ context.Context, recordID string) ([]*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Document
	for _, d := range f.documents {
		if d.RecordID == recordID {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

// directTx runs fn without a transaction.
type directTx struct{}

func (directTx) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return fn(ctx, nil)
}

type fixture struct {
	db      *fakeDB
	audit   *audit.Logger
	auth    *AuthService
	records *RecordService
	blobs   *blobstore.MemoryStore
	authz   *auth.Authority
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newFakeDB()
	al := audit.NewLogger(audit.NewMemoryStore(audit.DefaultEventCap, audit.DefaultCriticalCap), nil)
	authority, err := auth.NewAuthority([]byte("test-secret"), time.Hour, 24*time.Hour)
	require.NoError(t, err)
	sessions := auth.NewMemorySessionStore(auth.SessionTTL{Tokens: time.Hour, Profile: time.Hour})

	as, err := NewAuthService(nil, db, authority, sessions, al, nil)
	require.NoError(t, err)

	custodian := keys.NewCustodian(keys.NewMemoryStore(), al, nil)
	guard := records.NewGuard(custodian, al, nil)
	blobs := blobstore.NewMemoryStore()

	rs := NewRecordService(RecordServiceDeps{
		Tx:      directTx{},
		Repos:   db,
		Guard:   guard,
		Blobs:   blobs,
		Authz:   as,
		Auditor: al,
	})

	return &fixture{db: db, audit: al, auth: as, records: rs, blobs: blobs, authz: authority}
}

// signUp registers a user and returns the verified access claims.
func (f *fixture) signUp(t *testing.T, name string, role auth.Role) *auth.Claims {
	t.Helper()
	sess, err := f.auth.Register(context.Background(), RegisterRequest{
		UserName: name,
		FullName: name + " Example",
		Password: "correct-horse",
		Role:     string(role),
	})
	require.NoError(t, err)
	claims := f.authz.VerifyToken(sess.Tokens.AccessToken)
	require.NotNil(t, claims)
	return claims
}

func (f *fixture) actions(t *testing.T) []string {
	t.Helper()
	events, err := f.audit.Events(context.Background())
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Action
	}
	return out
}

func (f *fixture) lastEvent(t *testing.T, action string) audit.Event {
	t.Helper()
	events, err := f.audit.Events(context.Background())
	require.NoError(t, err)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Action == action {
			return events[i]
		}
	}
	t.Fatalf("no %s event in %v", action, f.actions(t))
	return audit.Event{}
}
