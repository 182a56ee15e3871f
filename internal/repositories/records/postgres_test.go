package records

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var (
	ts      = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	columns = []string{"id", "owner_id", "payload", "integrity_digest", "last_modified"}
)

func sample() *models.StoredRecord {
	return &models.StoredRecord{ID: "r1", OwnerID: "u1", Payload: []byte(`{"id":"r1"}`), IntegrityDigest: "d", LastModified: ts}
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO records \(id, owner_id, payload, integrity_digest, last_modified\)`).
		WithArgs("r1", "u1", []byte(`{"id":"r1"}`), "d", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), sample()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec(`INSERT INTO records`).WillReturnError(errors.New("duplicate key"))
	err := repo.Create(context.Background(), sample())
	if err == nil || !regexp.MustCompile(`db error: .*duplicate key`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name    string
		result  sql.Result
		execErr error
		check   func(error) bool
	}{
		{"ok", sqlmock.NewResult(0, 1), nil, func(err error) bool { return err == nil }},
		{"missing or foreign owner", sqlmock.NewResult(0, 0), nil, func(err error) bool { return errors.Is(err, common.ErrorNotFound) }},
		{"too many", sqlmock.NewResult(0, 2), nil, func(err error) bool {
			return err != nil && regexp.MustCompile(`unexpected rows affected: 2`).MatchString(err.Error())
		}},
		{"exec error", nil, errors.New("db is down"), func(err error) bool {
			return err != nil && regexp.MustCompile(`db error: .*db is down`).MatchString(err.Error())
		}},
		{"rows affected error", sqlmock.NewErrorResult(errors.New("rows-err")), nil, func(err error) bool {
			return err != nil && regexp.MustCompile(`rows affected error`).MatchString(err.Error())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			exp := mock.ExpectExec(`UPDATE records SET payload = \$3, integrity_digest = \$4, last_modified = \$5\s+WHERE id = \$1 AND owner_id = \$2`).
				WithArgs("r1", "u1", []byte(`{"id":"r1"}`), "d", ts)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(tt.result)
			}

			if err := repo.Update(context.Background(), sample()); !tt.check(err) {
				t.Fatalf("unexpected result: %v", err)
			}
		})
	}
}

func TestGet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, owner_id, payload, integrity_digest, last_modified FROM records WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("r1", "u1", []byte(`{}`), "d", ts))

	got, err := repo.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OwnerID != "u1" || got.IntegrityDigest != "d" || !got.LastModified.Equal(ts) {
		t.Fatalf("unexpected row: %+v", got)
	}

	mock.ExpectQuery(`FROM records WHERE id = \$1`).WithArgs("zz").WillReturnError(sql.ErrNoRows)
	if _, err := repo.Get(context.Background(), "zz"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestListByOwner(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `SELECT id, owner_id, payload, integrity_digest, last_modified FROM records\s+WHERE owner_id = \$1 ORDER BY last_modified DESC`

	mock.ExpectQuery(q).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r2", "u1", []byte(`{}`), "d2", ts.Add(time.Hour)).
			AddRow("r1", "u1", []byte(`{}`), "d1", ts))

	got, err := repo.ListByOwner(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r2" {
		t.Fatalf("unexpected rows: %+v", got)
	}

	mock.ExpectQuery(q).WithArgs("u1").WillReturnError(errors.New("db err"))
	_, err = repo.ListByOwner(context.Background(), "u1")
	if err == nil || !regexp.MustCompile(`failed to select records: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped select error, got %v", err)
	}

	mock.ExpectQuery(q).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "u1", []byte(`{}`), "d1", ts).
			RowError(0, errors.New("row-err")))
	_, err = repo.ListByOwner(context.Background(), "u1")
	if err == nil || err.Error() != "row-err" {
		t.Fatalf("expected rows.Err 'row-err', got %v", err)
	}
}
